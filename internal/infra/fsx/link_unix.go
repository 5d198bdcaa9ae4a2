//go:build unix

package fsx

import (
	"errors"
	"syscall"
)

// isLinkUnsupported 判断 link 失败是否因为文件系统不支持硬链接（FAT/部分 FUSE/网络盘）。
func isLinkUnsupported(err error) bool {
	return errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.ENOTSUP) ||
		errors.Is(err, syscall.EOPNOTSUPP) ||
		errors.Is(err, syscall.EXDEV) ||
		errors.Is(err, syscall.EMLINK)
}
