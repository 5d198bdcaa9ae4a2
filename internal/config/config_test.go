package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/John-Robertt/copykill/internal/app/planner"
	"github.com/John-Robertt/copykill/internal/hashx"
	"github.com/John-Robertt/copykill/internal/infra/cache"
)

func TestLoadEffective_ConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_ConfigMissingRoot(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "copykill.yaml"), []byte("workers: 2\n"))

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeMissingRoot {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeMissingRoot, err, Code(err))
	}
}

func TestLoadEffective_CLIRoot_ConfigOptional(t *testing.T) {
	cwd := t.TempDir()
	root := filepath.Join(cwd, "root")
	mkdir(t, root)

	eff, err := LoadEffective(cwd, CLIArgs{Root: "root"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Root != root {
		t.Fatalf("期望 root=%q，实际=%q", root, eff.Root)
	}
	if eff.ConfigFile != "" {
		t.Fatalf("期望未读取配置文件，实际=%q", eff.ConfigFile)
	}
	if eff.Cleanup() {
		t.Fatalf("未给 preserve 目录时不应进入清理模式")
	}
	if eff.Workers != DefaultWorkers() {
		t.Fatalf("期望 workers=%d，实际=%d", DefaultWorkers(), eff.Workers)
	}
	if eff.HashChunkSize != hashx.DefaultChunkSize {
		t.Fatalf("期望 hash_chunk_size=%d，实际=%d", hashx.DefaultChunkSize, eff.HashChunkSize)
	}
	if eff.PreserveOnlyPolicy != planner.PolicyDedupe {
		t.Fatalf("期望 policy=%q，实际=%q", planner.PolicyDedupe, eff.PreserveOnlyPolicy)
	}
	if eff.Cache.Backend != cache.BackendFile {
		t.Fatalf("期望 cache.backend=%q，实际=%q", cache.BackendFile, eff.Cache.Backend)
	}
	if eff.DigestMemoMB != DefaultDigestMemoMB {
		t.Fatalf("期望 digest_memo_mb=%d，实际=%d", DefaultDigestMemoMB, eff.DigestMemoMB)
	}
}

func TestLoadEffective_RootFromConfigRelativeToFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "copykill.json"), []byte(`{"root":"data","preserve_dir":"data/keep","metrics_file":"m.prom"}`))

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if want := filepath.Join(cwd, "data"); eff.Root != want {
		t.Fatalf("期望 root=%q，实际=%q", want, eff.Root)
	}
	if eff.PreserveDir != "" || eff.Cleanup() {
		t.Fatalf("配置文件里的 preserve_dir 不应开启清理，实际 preserve_dir=%q", eff.PreserveDir)
	}
	if want := filepath.Join(cwd, "m.prom"); eff.MetricsFile != want {
		t.Fatalf("期望 metrics_file=%q，实际=%q", want, eff.MetricsFile)
	}
}

func TestLoadEffective_PreserveDirEnvDoesNotEnableCleanup(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "copykill.yaml"), []byte("root: data\n"))
	t.Setenv("COPYKILL_PRESERVE_DIR", filepath.Join(cwd, "keep"))

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Cleanup() {
		t.Fatalf("只设置 COPYKILL_PRESERVE_DIR 不应进入清理模式，实际 preserve_dir=%q", eff.PreserveDir)
	}

	eff, err = LoadEffective(cwd, CLIArgs{PreserveDir: "keep"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if want := filepath.Join(cwd, "keep"); eff.PreserveDir != want {
		t.Fatalf("期望 preserve_dir=%q，实际=%q", want, eff.PreserveDir)
	}
}

func TestLoadEffective_WorkersCLIOverride(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "copykill.yaml"), []byte("root: data\nworkers: 3\n"))

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Workers != 3 {
		t.Fatalf("期望 workers=3，实际=%d", eff.Workers)
	}

	eff2, err := LoadEffective(cwd, CLIArgs{Workers: 7, WorkersSet: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff2.Workers != 7 {
		t.Fatalf("期望 workers=7，实际=%d", eff2.Workers)
	}

	eff3, err := LoadEffective(cwd, CLIArgs{Workers: 100000, WorkersSet: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff3.Workers != MaxWorkers {
		t.Fatalf("期望 workers 被截断为 %d，实际=%d", MaxWorkers, eff3.Workers)
	}
}

func TestLoadEffective_EnvOverridesFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "copykill.yaml"), []byte("root: data\nworkers: 3\ncache:\n  backend: file\n"))
	t.Setenv("COPYKILL_WORKERS", "5")
	t.Setenv("COPYKILL_CACHE_BACKEND", "none")

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Workers != 5 {
		t.Fatalf("期望环境变量覆盖 workers=5，实际=%d", eff.Workers)
	}
	if eff.Cache.Backend != cache.BackendNone {
		t.Fatalf("期望环境变量覆盖 cache.backend=none，实际=%q", eff.Cache.Backend)
	}
}

func TestLoadEffective_ExplicitConfigPath(t *testing.T) {
	cwd := t.TempDir()
	cfg := filepath.Join(cwd, "etc", "ck.toml")
	mkdir(t, filepath.Dir(cfg))
	writeFile(t, cfg, []byte("root = \"/srv/data\"\n[cache]\nbackend = \"redis\"\naddr = \"127.0.0.1:6379\"\nttl = \"24h\"\n"))

	eff, err := LoadEffective(cwd, CLIArgs{ConfigPath: "etc/ck.toml"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Root != filepath.Clean("/srv/data") {
		t.Fatalf("期望 root=/srv/data，实际=%q", eff.Root)
	}
	if eff.ConfigFile != cfg {
		t.Fatalf("期望 config=%q，实际=%q", cfg, eff.ConfigFile)
	}
	if eff.Cache.Backend != cache.BackendRedis || eff.Cache.Addr != "127.0.0.1:6379" || eff.Cache.TTL != 24*time.Hour {
		t.Fatalf("cache 配置不符合预期：%+v", eff.Cache)
	}
}

func TestLoadEffective_ExplicitConfigMissing(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{Root: cwd, ConfigPath: "nope.yaml"})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadEffective_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "语法错误", body: "root: [\n"},
		{name: "未知策略", body: "root: data\npreserve_only_policy: maybe\n"},
		{name: "分块过小", body: "root: data\nhash_chunk_size: 1024\n"},
		{name: "未知后端", body: "root: data\ncache:\n  backend: memcached\n"},
		{name: "redis 缺地址", body: "root: data\ncache:\n  backend: redis\n"},
		{name: "ttl 无效", body: "root: data\ncache:\n  ttl: soon\n"},
		{name: "日志级别无效", body: "root: data\nlog:\n  level: loud\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cwd := t.TempDir()
			writeFile(t, filepath.Join(cwd, "copykill.yaml"), []byte(tc.body))

			_, err := LoadEffective(cwd, CLIArgs{})
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
			}
		})
	}
}

func TestLoadEffective_CLIFlagsPassThrough(t *testing.T) {
	cwd := t.TempDir()

	eff, err := LoadEffective(cwd, CLIArgs{Root: ".", PreserveDir: "keep", DryRun: true, RefreshCache: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !eff.DryRun || !eff.RefreshCache {
		t.Fatalf("期望 dry_run/refresh_cache 透传，实际=%+v", eff)
	}
	if want := filepath.Join(cwd, "keep"); eff.PreserveDir != want {
		t.Fatalf("期望 preserve_dir=%q，实际=%q", want, eff.PreserveDir)
	}
}

func mkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败 %q：%v", path, err)
	}
}
