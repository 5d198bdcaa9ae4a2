package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/John-Robertt/copykill/internal/domain"
	"github.com/John-Robertt/copykill/internal/infra/fsx"
)

const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// ErrMiss 表示没有缓存条目（不存在/未启用）。调用方与 ErrCacheCorrupt 一样回退为重新扫描。
var ErrMiss = errors.New("cache: miss")

// Store 按扫描根目录持久化/读取 SizeBuckets。
//
// 缓存只是提示（hint），从不权威：Load 失败一律视为未命中，Save 失败不影响 run。
type Store interface {
	Load(ctx context.Context, root string) (domain.SizeBuckets, error)
	Save(ctx context.Context, root string, buckets domain.SizeBuckets) error
}

// Invalidator 由能主动作废条目的 Store 实现；--refresh-cache 时先作废再重新扫描，
// 这样扫描中途失败也不会留下旧快照。
type Invalidator interface {
	Invalidate(ctx context.Context, root string) error
}

var (
	_ Invalidator = FileStore{}
	_ Invalidator = (*RedisStore)(nil)
)

// Options 描述缓存后端（由 config 映射而来）。
type Options struct {
	Backend  string // file | redis | none
	Addr     string
	DB       int
	Password string
	TTL      time.Duration
}

// Validate 只检查字段组合，不建立连接。
func (o Options) Validate() error {
	switch strings.ToLower(strings.TrimSpace(o.Backend)) {
	case "", BackendFile, BackendNone:
		return nil
	case BackendRedis:
		if strings.TrimSpace(o.Addr) == "" {
			return fmt.Errorf("cache.backend=redis 但 cache.addr 为空")
		}
		return nil
	default:
		return fmt.Errorf("未知 cache.backend：%q（只能是 file/redis/none）", o.Backend)
	}
}

// New 按 Options 创建 Store；Backend 为空等价于 file。
func New(opts Options) (Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendNone:
		return NopStore{}, nil
	case BackendRedis:
		return NewRedisStore(opts), nil
	default:
		return FileStore{}, nil
	}
}

// FileStore 把缓存写在 <root>/copykill2.cache。
type FileStore struct{}

// Path 返回 root 对应的缓存文件路径。
func (FileStore) Path(root string) string {
	return filepath.Join(filepath.Clean(root), domain.CacheFileName)
}

func (s FileStore) Load(ctx context.Context, root string) (domain.SizeBuckets, error) {
	b, err := os.ReadFile(s.Path(root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMiss
		}
		return nil, err
	}
	return Decode(root, b)
}

// Save 原子替换缓存文件；只读文件系统等错误原样返回，由调用方降级为 warning。
func (s FileStore) Save(ctx context.Context, root string, buckets domain.SizeBuckets) error {
	b, err := Encode(root, buckets, time.Now())
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Clean(root), domain.CacheFileName, b)
}

// Invalidate 删除缓存文件；文件本就不存在不算错误。
func (s FileStore) Invalidate(ctx context.Context, root string) error {
	if err := os.Remove(s.Path(root)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// NopStore 关闭缓存：永远未命中，写入直接丢弃。
type NopStore struct{}

func (NopStore) Load(ctx context.Context, root string) (domain.SizeBuckets, error) {
	return nil, ErrMiss
}

func (NopStore) Save(ctx context.Context, root string, buckets domain.SizeBuckets) error {
	return nil
}
