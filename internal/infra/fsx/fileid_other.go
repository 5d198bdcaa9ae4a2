//go:build !unix

package fsx

import "io/fs"

// FileID 在没有 inode 概念的平台上总是返回 0, 0（调用方据此关闭按身份的备忘）。
func FileID(fi fs.FileInfo) (dev, ino uint64) {
	return 0, 0
}
