package hashx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/coocood/freecache"

	"github.com/John-Robertt/copykill/internal/domain"
)

// MinMemoMB 对应 freecache 的最小容量（512KB 以下会被 freecache 自己抬高）。
const MinMemoMB = 1

var _ domain.Hasher = (*MemoHasher)(nil)

// MemoHasher 在 Hasher 外面加一层按文件身份（dev, inode, size, mtime）索引的内存备忘。
//
// 同一设备上指向同一 inode 的多个硬链接只读一次。没有 inode 信息（Ino==0）的记录直接透传。
// key 取自实时 Lstat：记录（可能来自缓存）与磁盘不一致时直接失败，绝不返回备忘里的摘要。
// 备忘是有界的：满了由 freecache 按近似 LRU 淘汰，淘汰只意味着重新读文件。
type MemoHasher struct {
	next  domain.Hasher
	cache *freecache.Cache
}

// NewMemo 创建 MemoHasher。sizeMB <= 0 时返回 next 本身（关闭备忘）。
func NewMemo(next domain.Hasher, sizeMB int) domain.Hasher {
	if sizeMB <= 0 {
		return next
	}
	if sizeMB < MinMemoMB {
		sizeMB = MinMemoMB
	}
	return &MemoHasher{
		next:  next,
		cache: freecache.NewCache(sizeMB * 1024 * 1024),
	}
}

// Sum 实现 domain.Hasher。
func (m *MemoHasher) Sum(r *domain.FileRecord) (domain.Digest, error) {
	if r.Ino == 0 {
		return m.next.Sum(r)
	}

	fi, err := os.Lstat(r.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Digest{}, fmt.Errorf("%w: %s", domain.ErrNotFound, r.Path())
		}
		return domain.Digest{}, err
	}
	if err := checkLive(r, fi); err != nil {
		return domain.Digest{}, err
	}

	// checkLive 通过后记录字段就是实时身份。
	key := identityKey(r)
	var d domain.Digest
	if v, err := m.cache.Get(key); err == nil && len(v) == len(d) {
		copy(d[:], v)
		return d, nil
	}

	d, err = m.next.Sum(r)
	if err != nil {
		return d, err
	}
	// 写失败（例如条目过大）只影响命中率。
	_ = m.cache.Set(key, d[:], 0)
	return d, nil
}

// Stats 返回命中/未命中次数（用于日志与指标）。
func (m *MemoHasher) Stats() (hits, misses int64) {
	return m.cache.HitCount(), m.cache.MissCount()
}

// identityKey 把文件身份编码为定长 key（mtime/size 变化即视为不同内容）。
func identityKey(r *domain.FileRecord) []byte {
	var k [32]byte
	binary.LittleEndian.PutUint64(k[0:], r.Dev)
	binary.LittleEndian.PutUint64(k[8:], r.Ino)
	binary.LittleEndian.PutUint64(k[16:], r.Size)
	binary.LittleEndian.PutUint64(k[24:], uint64(r.ModTime.UnixNano()))
	return k[:]
}
