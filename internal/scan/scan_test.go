package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/copykill/internal/domain"
	"github.com/John-Robertt/copykill/internal/infra/cache"
)

func TestBuildCatalog_BucketsBySize(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.txt"), "XX")
	write(t, filepath.Join(root, "sub", "b.txt"), "YY")
	write(t, filepath.Join(root, "c.txt"), "ZZZ")
	write(t, filepath.Join(root, "e1"), "")
	write(t, filepath.Join(root, "sub", "e2"), "")

	res, err := BuildCatalog(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.False(t, res.FromCache)
	assert.Len(t, res.Buckets[2], 2)
	assert.Len(t, res.Buckets[3], 1)
	assert.Len(t, res.Buckets[0], 2, "0 字节文件是合法记录，且同桶")
	assert.Equal(t, 5, res.Buckets.FileCount())

	for _, r := range res.Buckets[3] {
		assert.Equal(t, res.Root, r.Dir)
		assert.Equal(t, "c.txt", r.Name)
	}
}

func TestBuildCatalog_EmptyDir(t *testing.T) {
	res, err := BuildCatalog(context.Background(), t.TempDir(), Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Buckets)
}

func TestBuildCatalog_SkipsSymlinksAndArtifacts(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("符号链接在 Windows 上需要额外权限")
	}
	root := t.TempDir()
	write(t, filepath.Join(root, "real.txt"), "x")
	require.NoError(t, os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")))
	require.NoError(t, os.Symlink(root, filepath.Join(root, "loop")))
	write(t, filepath.Join(root, domain.CacheFileName), "junk")
	write(t, filepath.Join(root, domain.ReportPrefix+"2026-01-01"), "{}")

	res, err := BuildCatalog(context.Background(), root, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Buckets.FileCount())
	assert.Equal(t, "real.txt", res.Buckets[1][0].Name)
}

func TestBuildCatalog_ResolvesSymlinkedRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("符号链接在 Windows 上需要额外权限")
	}
	base := t.TempDir()
	real := filepath.Join(base, "real")
	write(t, filepath.Join(real, "a"), "x")
	link := filepath.Join(base, "alias")
	require.NoError(t, os.Symlink(real, link))

	res, err := BuildCatalog(context.Background(), link, Options{})
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(real)
	require.NoError(t, err)
	assert.Equal(t, want, res.Root)
	assert.Equal(t, want, res.Buckets[1][0].Dir)
}

func TestBuildCatalog_ExcludeDirs(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "temp", "a"), "x")
	write(t, filepath.Join(root, "ok", "b"), "x")

	res, err := BuildCatalog(context.Background(), root, Options{ExcludeDirs: []string{"temp"}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Buckets.FileCount())
	assert.Equal(t, "b", res.Buckets[1][0].Name)
}

func TestBuildCatalog_UnreadableDirIsWarning(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("需要非 root 的 POSIX 权限语义")
	}
	root := t.TempDir()
	write(t, filepath.Join(root, "ok"), "x")
	locked := filepath.Join(root, "locked")
	write(t, filepath.Join(locked, "hidden"), "x")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	res, err := BuildCatalog(context.Background(), root, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Buckets.FileCount())
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, domain.ErrCodePermission, res.Warnings[0].Code)
}

func TestBuildCatalog_CacheHitAndRefresh(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a"), "x")
	store := cache.FileStore{}

	first, err := BuildCatalog(context.Background(), root, Options{UseCache: true, Store: store})
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	// 新增文件：命中缓存时看不到，强制刷新才能看到。
	write(t, filepath.Join(root, "b"), "y")

	hit, err := BuildCatalog(context.Background(), root, Options{UseCache: true, Store: store})
	require.NoError(t, err)
	assert.True(t, hit.FromCache)
	assert.Equal(t, 1, hit.Buckets.FileCount())

	fresh, err := BuildCatalog(context.Background(), root, Options{UseCache: false, Store: store})
	require.NoError(t, err)
	assert.False(t, fresh.FromCache)
	assert.Equal(t, 2, fresh.Buckets.FileCount())
}

func TestBuildCatalog_CorruptCacheFallsBack(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a"), "x")
	write(t, filepath.Join(root, domain.CacheFileName), "")

	res, err := BuildCatalog(context.Background(), root, Options{UseCache: true, Store: cache.FileStore{}})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 1, res.Buckets.FileCount())
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, domain.ErrCodeCacheCorrupt, res.Warnings[0].Code)

	// 重新扫描后缓存被覆盖为有效内容。
	_, err = cache.FileStore{}.Load(context.Background(), res.Root)
	assert.NoError(t, err)
}

type failingStore struct{ cache.NopStore }

func (failingStore) Save(ctx context.Context, root string, b domain.SizeBuckets) error {
	return errors.New("read-only file system")
}

func TestBuildCatalog_CacheWriteFailureNotFatal(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a"), "x")

	res, err := BuildCatalog(context.Background(), root, Options{Store: failingStore{}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Buckets.FileCount())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, domain.ErrCodeCacheWriteFailed, res.Warnings[0].Code)
}

func TestBuildCatalog_ArtifactsOnlyExcludedWhereWritten(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.txt"), "a")
	write(t, filepath.Join(root, domain.CacheFileName), "junk")
	write(t, filepath.Join(root, domain.ReportPrefix+"2026-01-01"), "{}")
	write(t, filepath.Join(root, "keep", domain.ReportPrefix+"2026-01-01.0"), "{}")
	// 更深层目录里同名的文件是用户数据。
	write(t, filepath.Join(root, "sub", domain.CacheFileName), "user")
	write(t, filepath.Join(root, "sub", domain.ReportPrefix+"notes"), "user")

	res, err := BuildCatalog(context.Background(), root, Options{ReportDirs: []string{filepath.Join(root, "keep")}})
	require.NoError(t, err)

	var got []string
	for _, files := range res.Buckets {
		for _, f := range files {
			rel, err := filepath.Rel(res.Root, f.Path())
			require.NoError(t, err)
			got = append(got, filepath.ToSlash(rel))
		}
	}
	assert.ElementsMatch(t, []string{
		"a.txt",
		"sub/" + domain.CacheFileName,
		"sub/" + domain.ReportPrefix + "notes",
	}, got)
}

type invalidatingStore struct {
	cache.NopStore
	roots []string
}

func (s *invalidatingStore) Invalidate(ctx context.Context, root string) error {
	s.roots = append(s.roots, root)
	return nil
}

func TestBuildCatalog_RefreshInvalidatesStore(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a"), "x")
	s := &invalidatingStore{}

	_, err := BuildCatalog(context.Background(), root, Options{UseCache: true, Store: s})
	require.NoError(t, err)
	assert.Empty(t, s.roots, "使用缓存时不应作废")

	res, err := BuildCatalog(context.Background(), root, Options{UseCache: false, Store: s})
	require.NoError(t, err)
	assert.Equal(t, []string{res.Root}, s.roots)
}

func TestBuildCatalog_MissingRootIsError(t *testing.T) {
	_, err := BuildCatalog(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{})
	assert.Error(t, err)
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755), "创建目录失败")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "写入文件失败")
}
