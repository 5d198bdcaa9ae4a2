//go:build !unix

package fsx

import (
	"fmt"
	"os"
)

// OpenNoFollow 只读打开 path；path 本身是符号链接时返回 ErrSymlink。
// 没有 O_NOFOLLOW 的平台先 Lstat 再打开，调用方仍需 fstat 确认。
func OpenNoFollow(path string) (*os.File, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymlink, path)
	}
	return os.Open(path)
}
