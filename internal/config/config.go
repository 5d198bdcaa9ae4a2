package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/John-Robertt/copykill/internal/app/planner"
	"github.com/John-Robertt/copykill/internal/hashx"
	"github.com/John-Robertt/copykill/internal/infra/cache"
	"github.com/John-Robertt/copykill/internal/infra/logx"
)

const (
	// ErrCodeNotFound 表示未给 root 且 cwd 下没有配置文件。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingRoot 表示未给 root 且配置文件缺少 root 字段。
	ErrCodeMissingRoot = "config_missing_root"
)

const (
	// EnvPrefix 环境变量前缀：COPYKILL_WORKERS、COPYKILL_CACHE_BACKEND ...
	EnvPrefix = "COPYKILL"
	// MaxWorkers 是 worker 数上限（超出截断）。
	MaxWorkers = 256
	// DefaultDigestMemoMB 是按 inode 备忘摘要的内存上限。
	DefaultDigestMemoMB = 8
)

// ConfigNames 是自动发现的配置文件名（按顺序取第一个存在的）。
var ConfigNames = []string{"copykill.yaml", "copykill.yml", "copykill.json", "copykill.toml"}

// DefaultWorkers 为协调 goroutine 与系统响应预留 2 个核心，至少 1。
func DefaultWorkers() int {
	n := runtime.NumCPU() - 2
	if n < 1 {
		n = 1
	}
	return n
}

// CLIArgs 只包含 CLI 暴露的入口，并保留“是否显式指定”的信息，
// 保证覆盖优先级可实现：例如 --workers 必须能覆盖配置里的 workers。
type CLIArgs struct {
	Root       string
	ConfigPath string

	PreserveDir  string
	RefreshCache bool
	DryRun       bool

	Workers    int
	WorkersSet bool
}

// FileConfig 对应 copykill.yaml 的解析结构（同时接受 COPYKILL_* 环境变量）。
//
// 没有 preserve_dir：清理会删除文件，只能由命令行 --preserve-dir 显式开启，
// 配置文件或环境变量里的同名键一律忽略。
type FileConfig struct {
	Root               string      `mapstructure:"root"`
	Workers            int         `mapstructure:"workers"`
	HashChunkSize      int         `mapstructure:"hash_chunk_size"`
	DigestMemoMB       int         `mapstructure:"digest_memo_mb"`
	PreserveOnlyPolicy string      `mapstructure:"preserve_only_policy"`
	ExcludeDirs        []string    `mapstructure:"exclude_dirs"`
	Cache              CacheConfig `mapstructure:"cache"`
	Log                logx.Config `mapstructure:"log"`
	MetricsFile        string      `mapstructure:"metrics_file"`
}

// CacheConfig 目录快照缓存配置
type CacheConfig struct {
	Backend  string `mapstructure:"backend"` // file | redis | none
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	TTL      string `mapstructure:"ttl"` // 如 "24h"；空表示不过期（仅 redis）
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Root        string // clean + absolute（符号链接由 scan 解析）
	PreserveDir string // 空表示只列出重复（dry-run 列表模式）

	DryRun       bool
	RefreshCache bool

	Workers            int
	HashChunkSize      int
	DigestMemoMB       int
	PreserveOnlyPolicy string
	ExcludeDirs        []string

	Cache       cache.Options
	Log         logx.Config
	MetricsFile string

	// ConfigFile 是实际读取的配置文件（未读取为空）。
	ConfigFile string
}

// Cleanup 表示是否进入清理模式（给了 preserve 目录）。
func (e EffectiveConfig) Cleanup() bool {
	return e.PreserveDir != ""
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未给出扫描目录，且未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingRoot:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 root", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) --config 显式给出：必须可读
// 2) CLI 给了 root：尝试读取 <root>/copykill.{yaml,yml,json,toml}（可选）
// 3) CLI 未给 root：必须读取 <cwd>/copykill.*，且其中必须包含 root
//
// 覆盖优先级（固定）：CLI > 环境变量 COPYKILL_* > 配置文件 > 内置默认。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := ""
	switch {
	case strings.TrimSpace(cli.ConfigPath) != "":
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
	case strings.TrimSpace(cli.Root) != "":
		cfgPath = findConfig(absCleanFrom(cwdAbs, cli.Root))
	default:
		cfgPath = findConfig(cwdAbs)
		if cfgPath == "" {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: filepath.Join(cwdAbs, ConfigNames[0]), Err: os.ErrNotExist}
		}
	}

	fc, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	// 配置文件中的相对路径以配置文件所在目录为基准。
	base := cwdAbs
	if cfgPath != "" {
		base = filepath.Dir(cfgPath)
	}

	root := ""
	if strings.TrimSpace(cli.Root) != "" {
		root = absCleanFrom(cwdAbs, cli.Root)
	} else if strings.TrimSpace(fc.Root) != "" {
		root = absCleanFrom(base, fc.Root)
	} else {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingRoot, Path: cfgPath}
	}

	return merge(root, base, cwdAbs, cli, fc, cfgPath)
}

func merge(root, base, cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	preserve := ""
	if strings.TrimSpace(cli.PreserveDir) != "" {
		preserve = absCleanFrom(cwdAbs, cli.PreserveDir)
	}

	workers := fc.Workers
	if cli.WorkersSet {
		workers = cli.Workers
	}
	if workers == 0 {
		workers = DefaultWorkers()
	}
	if workers < 1 {
		workers = 1
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}

	chunk := fc.HashChunkSize
	if chunk == 0 {
		chunk = hashx.DefaultChunkSize
	}
	if chunk < hashx.MinChunkSize {
		return invalid(fmt.Errorf("hash_chunk_size 不能小于 %d，实际 %d", hashx.MinChunkSize, chunk))
	}

	memo := fc.DigestMemoMB
	if memo < 0 {
		memo = 0
	}

	policy, err := planner.ParsePolicy(fc.PreserveOnlyPolicy)
	if err != nil {
		return invalid(err)
	}

	var ttl time.Duration
	if s := strings.TrimSpace(fc.Cache.TTL); s != "" {
		ttl, err = time.ParseDuration(s)
		if err != nil {
			return invalid(fmt.Errorf("cache.ttl 无效：%w", err))
		}
	}
	cacheOpts := cache.Options{
		Backend:  strings.ToLower(strings.TrimSpace(fc.Cache.Backend)),
		Addr:     strings.TrimSpace(fc.Cache.Addr),
		DB:       fc.Cache.DB,
		Password: fc.Cache.Password,
		TTL:      ttl,
	}
	if err := cacheOpts.Validate(); err != nil {
		return invalid(err)
	}

	if _, err := logx.New(io.Discard, fc.Log); err != nil {
		return invalid(err)
	}

	metricsFile := ""
	if strings.TrimSpace(fc.MetricsFile) != "" {
		metricsFile = absCleanFrom(base, fc.MetricsFile)
	}

	return EffectiveConfig{
		Root:               root,
		PreserveDir:        preserve,
		DryRun:             cli.DryRun,
		RefreshCache:       cli.RefreshCache,
		Workers:            workers,
		HashChunkSize:      chunk,
		DigestMemoMB:       memo,
		PreserveOnlyPolicy: policy,
		ExcludeDirs:        append([]string(nil), fc.ExcludeDirs...),
		Cache:              cacheOpts,
		Log:                fc.Log,
		MetricsFile:        metricsFile,
		ConfigFile:         cfgPath,
	}, nil
}

// newViper 建立带默认值的 viper 实例：默认值让 AutomaticEnv 对每个 key 都生效。
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("root", "")
	v.SetDefault("workers", 0)
	v.SetDefault("hash_chunk_size", 0)
	v.SetDefault("digest_memo_mb", DefaultDigestMemoMB)
	v.SetDefault("preserve_only_policy", planner.PolicyDedupe)
	v.SetDefault("exclude_dirs", []string{})
	v.SetDefault("cache.backend", cache.BackendFile)
	v.SetDefault("cache.addr", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.ttl", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics_file", "")
	return v
}

// readFileConfig 读取并解析配置文件；path 为空时只应用默认值与环境变量。
func readFileConfig(path string) (FileConfig, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return FileConfig{}, fmt.Errorf("无法读取配置文件: %w", err)
		}
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return FileConfig{}, fmt.Errorf("无法解析配置文件: %w", err)
	}
	return fc, nil
}

func findConfig(dir string) string {
	for _, name := range ConfigNames {
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
