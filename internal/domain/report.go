package domain

import (
	"bytes"
	"encoding/json"
)

// FileSnapshot 是 report 中单个文件的快照（删除之前采集）。
type FileSnapshot struct {
	Path      string `json:"path"` // 所在目录
	Name      string `json:"name"`
	MTime     string `json:"mtime"`
	Size      uint64 `json:"size"`
	SHA256Sum string `json:"sha256sum"`
}

// ReportEntry 是按摘要聚合的一组结果：一个 preserved，零到多个 killed。
type ReportEntry struct {
	Preserved FileSnapshot   `json:"preserved"`
	Killed    []FileSnapshot `json:"killed"`
}

// Report 是对外稳定输出（copykill2.report.<date>[.N]）的结构。
// 写入一次，写入后不再修改。
type Report struct {
	ByHash         map[string]ReportEntry `json:"by_hash"`
	PreservedCount int                    `json:"preserved_count"`
	KilledCount    int                    `json:"killed_count"`
}

// NewReport 返回空 report（by_hash 输出为 {} 而不是 null）。
func NewReport() Report {
	return Report{ByHash: map[string]ReportEntry{}}
}

// Record 记录一组的结果并更新计数：preserved 每组 +1，killed 按 kill 集大小累加。
func (r *Report) Record(digest string, preserved FileSnapshot, killed []FileSnapshot) {
	if r.ByHash == nil {
		r.ByHash = map[string]ReportEntry{}
	}
	if killed == nil {
		killed = []FileSnapshot{}
	}
	r.ByHash[digest] = ReportEntry{Preserved: preserved, Killed: killed}
	r.PreservedCount++
	r.KilledCount += len(killed)
}

// Encode 生成落盘字节：4 空格缩进、UTF-8、末尾换行。
// encoding/json 对 map 按 key 排序，输出是确定的。
func (r Report) Encode() ([]byte, error) {
	if r.ByHash == nil {
		r.ByHash = map[string]ReportEntry{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
