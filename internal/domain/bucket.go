package domain

import "sort"

// SizeBuckets 把文件按字节大小分桶：只有大小相同的文件才可能重复。
// 桶内顺序是遍历顺序（不同文件系统之间不保证稳定，视为任意）。
type SizeBuckets map[uint64][]*FileRecord

// Bucket 是 SizeBuckets 中的一个桶，用作 Grouper 的工作单元。
type Bucket struct {
	Size  uint64
	Files []*FileRecord
}

// Add 把记录追加到对应大小的桶。
func (b SizeBuckets) Add(r *FileRecord) {
	b[r.Size] = append(b[r.Size], r)
}

// FileCount 返回全部记录数。
func (b SizeBuckets) FileCount() int {
	n := 0
	for _, files := range b {
		n += len(files)
	}
	return n
}

// Candidates 返回记录数 >= 2 的桶（单条记录的桶不可能包含重复，直接跳过不做哈希）。
//
// 按 Size 降序排列：大文件最先派发，尾部等待更短；顺序不影响正确性。
func (b SizeBuckets) Candidates() []Bucket {
	out := make([]Bucket, 0, len(b))
	for size, files := range b {
		if len(files) < 2 {
			continue
		}
		out = append(out, Bucket{Size: size, Files: files})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	return out
}

// DuplicateGroup 是确认内容相同（大小与摘要都相等）的一组文件，len(Files) >= 2。
type DuplicateGroup struct {
	Digest Digest
	Size   uint64
	Files  []*FileRecord // 按 Path 字典序
}
