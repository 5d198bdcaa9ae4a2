package domain

import (
	"os"
	"path/filepath"
	"time"
)

// MTimeLayout 是 report 中 mtime 的固定格式（UTC，秒级精度，微秒位补零）。
const MTimeLayout = "2006-01-02T15:04:05.000000"

// Hasher 计算单个文件的内容摘要。
//
// 约束：文件在扫描后被外部删除时必须返回 ErrNotFound（而不是其他错误），
// 上层据此把该记录“丢弃”而不是中止整个 run。
type Hasher interface {
	Sum(r *FileRecord) (Digest, error)
}

// FileRecord 描述一次扫描得到的普通文件快照（只做 stat，不读内容）。
//
// 不变量（实现必须遵守）：
// - Size 记录后不再修改；检测漂移需要重新 stat
// - Digest 只由 EnsureDigest/ForceDigest 写入；一旦写入，在记录生命周期内视为有效
// - 同一条记录只属于一个 size bucket，因此同一时刻只会被一个 worker 访问
type FileRecord struct {
	Dir     string
	Name    string
	Size    uint64
	ModTime time.Time // UTC，保留纳秒（用于 survivor 选择）

	// Dev/Ino 是文件身份（同一设备上的硬链接共享同一 inode）；不支持的平台为 0。
	Dev uint64
	Ino uint64

	Digest *Digest
}

// Path 返回完整路径（Dir + Name）。
func (r *FileRecord) Path() string {
	return filepath.Join(r.Dir, r.Name)
}

// Exists 做一次实时的文件系统检查：扫描与使用之间文件可能被外部删除。
func (r *FileRecord) Exists() bool {
	_, err := os.Lstat(r.Path())
	return err == nil
}

// IsRegular 实时检查路径仍是普通文件（不跟随符号链接）。
func (r *FileRecord) IsRegular() bool {
	fi, err := os.Lstat(r.Path())
	return err == nil && fi.Mode().IsRegular()
}

// MTime 返回 report 使用的 mtime 字符串。
func (r *FileRecord) MTime() string {
	return r.ModTime.UTC().Truncate(time.Second).Format(MTimeLayout)
}

// EnsureDigest 只计算一次摘要并写回 Digest 字段。
func (r *FileRecord) EnsureDigest(h Hasher) (Digest, error) {
	if r.Digest != nil {
		return *r.Digest, nil
	}
	d, err := h.Sum(r)
	if err != nil {
		return Digest{}, err
	}
	r.Digest = &d
	return d, nil
}

// ForceDigest 丢弃已有摘要并重新计算（显式操作，不会被隐式触发）。
func (r *FileRecord) ForceDigest(h Hasher) (Digest, error) {
	r.Digest = nil
	return r.EnsureDigest(h)
}

// Snapshot 生成 report 中的文件条目；必须在删除之前调用。
func (r *FileRecord) Snapshot() FileSnapshot {
	s := FileSnapshot{
		Path:  r.Dir,
		Name:  r.Name,
		MTime: r.MTime(),
		Size:  r.Size,
	}
	if r.Digest != nil {
		s.SHA256Sum = r.Digest.String()
	}
	return s
}

func (r *FileRecord) String() string {
	return r.Path()
}
