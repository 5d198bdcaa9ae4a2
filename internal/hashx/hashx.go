// Package hashx 计算文件内容摘要（SHA-256，分块流式读取）。
package hashx

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/oxtoacart/bpool"

	"github.com/John-Robertt/copykill/internal/domain"
	"github.com/John-Robertt/copykill/internal/infra/fsx"
)

// DefaultChunkSize 是默认分块大小：峰值内存 = workers × chunk，与文件大小无关。
const DefaultChunkSize = 4 << 20

// MinChunkSize 防止配置过小导致 syscall 次数爆炸。
const MinChunkSize = 64 << 10

var _ domain.Hasher = (*FileHasher)(nil)

// FileHasher 以固定大小的分块读取文件并折叠进 SHA-256。
// 分块缓冲来自 BytePool（并发安全），多个 worker 可以共用一个 FileHasher。
type FileHasher struct {
	chunk int
	pool  *bpool.BytePool
}

// New 创建 FileHasher。poolSize 通常等于 worker 数；超出池容量的缓冲用完即丢弃。
func New(chunkSize, poolSize int) *FileHasher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < MinChunkSize {
		chunkSize = MinChunkSize
	}
	if poolSize < 1 {
		poolSize = 1
	}
	return &FileHasher{
		chunk: chunkSize,
		pool:  bpool.NewBytePool(poolSize, chunkSize),
	}
}

// ChunkSize 返回生效的分块大小。
func (h *FileHasher) ChunkSize() int { return h.chunk }

// Sum 实现 domain.Hasher。
//
// 读内容之前对已打开的文件做 fstat：不是普通文件返回 domain.ErrNotRegular，
// 身份（dev/inode/size/mtime）与记录不一致返回 domain.ErrChanged。
// 记录可能来自缓存，路径上的文件早已被替换；这种记录不能参与分组。
func (h *FileHasher) Sum(r *domain.FileRecord) (domain.Digest, error) {
	f, err := openRegular(r.Path())
	if err != nil {
		return domain.Digest{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return domain.Digest{}, err
	}
	if err := checkLive(r, fi); err != nil {
		return domain.Digest{}, err
	}
	return h.read(f)
}

// Digest 计算 path 的内容摘要（不跟随符号链接，只接受普通文件）。
//
// 文件在枚举之后消失时返回 domain.ErrNotFound：调用方应丢弃该记录，而不是中止 run。
func (h *FileHasher) Digest(path string) (domain.Digest, error) {
	f, err := openRegular(path)
	if err != nil {
		return domain.Digest{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return domain.Digest{}, err
	}
	if !fi.Mode().IsRegular() {
		return domain.Digest{}, fmt.Errorf("%w: %s", domain.ErrNotRegular, path)
	}
	return h.read(f)
}

func (h *FileHasher) read(f *os.File) (domain.Digest, error) {
	buf := h.pool.Get()
	defer h.pool.Put(buf)

	sum := sha256.New()
	if _, err := io.CopyBuffer(onlyWriter{sum}, onlyReader{f}, buf[:h.chunk]); err != nil {
		return domain.Digest{}, err
	}

	var d domain.Digest
	copy(d[:], sum.Sum(nil))
	return d, nil
}

func openRegular(path string) (*os.File, error) {
	f, err := fsx.OpenNoFollow(path)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
	case errors.Is(err, fsx.ErrSymlink):
		return nil, fmt.Errorf("%w: %s", domain.ErrNotRegular, path)
	default:
		return nil, err
	}
}

// checkLive 比较实时 stat 与记录。没有 inode 信息的平台只比较 size/mtime。
func checkLive(r *domain.FileRecord, fi fs.FileInfo) error {
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", domain.ErrNotRegular, r.Path())
	}
	if uint64(fi.Size()) != r.Size || !fi.ModTime().Equal(r.ModTime) {
		return fmt.Errorf("%w: %s", domain.ErrChanged, r.Path())
	}
	if r.Ino != 0 {
		if dev, ino := fsx.FileID(fi); dev != r.Dev || ino != r.Ino {
			return fmt.Errorf("%w: %s", domain.ErrChanged, r.Path())
		}
	}
	return nil
}

// onlyReader/onlyWriter 屏蔽 ReaderFrom/WriterTo，保证 io.CopyBuffer 真的使用池里的缓冲
// （*os.File 实现了 WriterTo，会绕过 buf 自己分配）。
type onlyReader struct{ io.Reader }

type onlyWriter struct{ io.Writer }
