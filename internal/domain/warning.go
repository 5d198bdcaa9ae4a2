package domain

import (
	"errors"
	"fmt"
	"io/fs"
)

const (
	ErrCodeNotFound         = "not_found"
	ErrCodePermission       = "permission_denied"
	ErrCodeIOFailed         = "io_failed"
	ErrCodeDeleteFailed     = "delete_failed"
	ErrCodeCacheCorrupt     = "cache_corrupt"
	ErrCodeCacheWriteFailed = "cache_write_failed"
	ErrCodeGroupSkipped     = "group_skipped"
	ErrCodeChanged          = "changed"
	ErrCodeNotRegular       = "not_regular"
)

var (
	// ErrNotFound 表示文件在枚举之后、哈希之前消失（与外部删除竞争）。
	ErrNotFound = errors.New("file not found")
	// ErrInvalidPreserveTarget 表示 preserve 目录不存在或不是目录；在任何删除之前失败。
	ErrInvalidPreserveTarget = errors.New("invalid preserve target")
	// ErrCacheCorrupt 表示缓存条目损坏/截断/版本不匹配；上层回退为重新扫描。
	ErrCacheCorrupt = errors.New("cache corrupt")
	// ErrChanged 表示文件的实时身份（dev/inode/size/mtime）与记录不一致：记录已过期，内容不可信。
	ErrChanged = errors.New("file changed since scan")
	// ErrNotRegular 表示路径已不再是普通文件（例如被替换成符号链接）。
	ErrNotRegular = errors.New("not a regular file")
)

// Warning 是单个文件级别的非致命事件：run 不中止，但必须对用户可见。
type Warning struct {
	Path string
	Op   string // walk | hash | delete | cache | plan
	Code string
	Err  error
}

func (w Warning) String() string {
	if w.Err == nil {
		return fmt.Sprintf("%s %s: %s", w.Op, w.Path, w.Code)
	}
	return fmt.Sprintf("%s %s: %s: %v", w.Op, w.Path, w.Code, w.Err)
}

// NewWarning 根据 err 自动归类 Code。
func NewWarning(op, path string, err error) Warning {
	return Warning{Path: path, Op: op, Code: Classify(err), Err: err}
}

// Classify 把文件系统错误映射为稳定的 error_code。
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ErrCodeNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrCodePermission
	case errors.Is(err, ErrCacheCorrupt):
		return ErrCodeCacheCorrupt
	case errors.Is(err, ErrChanged):
		return ErrCodeChanged
	case errors.Is(err, ErrNotRegular):
		return ErrCodeNotRegular
	default:
		return ErrCodeIOFailed
	}
}
