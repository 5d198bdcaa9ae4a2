package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest 是文件内容的 SHA-256 摘要（内容相等的代理）。
type Digest [sha256.Size]byte

// EmptyDigest 是空字节序列的摘要：所有 0 字节文件都落在同一组。
var EmptyDigest = Digest(sha256.Sum256(nil))

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}
