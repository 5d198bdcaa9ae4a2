package run

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/John-Robertt/copykill/internal/domain"
	"github.com/John-Robertt/copykill/internal/infra/fsx"
)

// maxReportSuffix 限制同一天的后缀尝试次数，避免异常目录下无限循环。
const maxReportSuffix = 10000

// ReportBaseName 返回某天的 report 基础文件名（不带后缀）。
func ReportBaseName(now time.Time) string {
	return domain.ReportPrefix + now.Format(time.DateOnly)
}

// WriteReport 把 report 写到 preserveDir 下第一个不存在的文件名，并返回最终路径。
//
// 命名：copykill2.report.<YYYY-MM-DD>，已存在则依次尝试 .0、.1 ...
// 写入走 fsx.WriteFileNoClobber：已有 report 永远不会被覆盖，也不会出现半个 report。
func WriteReport(preserveDir string, report domain.Report, now time.Time) (string, error) {
	data, err := report.Encode()
	if err != nil {
		return "", fmt.Errorf("编码 report 失败：%w", err)
	}

	base := ReportBaseName(now)
	for i := -1; i < maxReportSuffix; i++ {
		name := base
		if i >= 0 {
			name = fmt.Sprintf("%s.%d", base, i)
		}
		err := fsx.WriteFileNoClobber(preserveDir, name, data)
		if err == nil {
			return filepath.Join(preserveDir, name), nil
		}
		if errors.Is(err, fs.ErrExist) || fsx.IsPathTypeConflict(err) {
			continue
		}
		return "", fmt.Errorf("写入 report 失败：%w", err)
	}
	return "", fmt.Errorf("写入 report 失败：%s 的后缀已用尽", base)
}
