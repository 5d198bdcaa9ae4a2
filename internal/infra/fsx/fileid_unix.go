//go:build unix

package fsx

import (
	"io/fs"
	"syscall"
)

// FileID 从 stat 结果中取出 (dev, inode)；取不到时返回 0, 0。
func FileID(fi fs.FileInfo) (dev, ino uint64) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return 0, 0
	}
	return uint64(st.Dev), uint64(st.Ino)
}
