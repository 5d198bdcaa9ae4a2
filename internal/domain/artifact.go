package domain

import "strings"

const (
	// CacheFileName 是 <root> 下的目录快照缓存文件名。
	CacheFileName = "copykill2.cache"
	// ReportPrefix 是 report 文件名前缀：copykill2.report.<YYYY-MM-DD>[.N]。
	ReportPrefix = "copykill2.report."
)

// IsReportName 判断文件名是否具有 report 的形式。
// 只看名字不足以判断是本工具的产物：调用方还要确认它位于 report 目录内。
func IsReportName(name string) bool {
	return strings.HasPrefix(name, ReportPrefix)
}
