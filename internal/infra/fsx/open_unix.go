//go:build unix

package fsx

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// OpenNoFollow 只读打开 path；path 本身是符号链接时返回 ErrSymlink。
//
// O_NONBLOCK 让被替换成 FIFO 的路径不会卡住 open；调用方仍需 fstat 确认是普通文件。
func OpenNoFollow(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_NONBLOCK, 0)
	if err != nil {
		// Linux 返回 ELOOP，FreeBSD 返回 EMLINK。
		if errors.Is(err, syscall.ELOOP) || errors.Is(err, syscall.EMLINK) {
			return nil, fmt.Errorf("%w: %s", ErrSymlink, path)
		}
		return nil, err
	}
	return f, nil
}
