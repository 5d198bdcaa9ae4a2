package metrics

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/John-Robertt/copykill/internal/domain"
	"github.com/John-Robertt/copykill/internal/infra/fsx"
)

// 全局 Registry：一次进程只跑一次 run，结束时按需导出为 textfile。
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		FilesScanned, BytesScanned,
		FilesHashed, BytesHashed, BucketDuration,
		DuplicateGroups, FilesKilled, Warnings,
		LastRunTimestamp,
	)
}

// FilesScanned 遍历得到的普通文件数
var FilesScanned = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "copykill_files_scanned_total",
	Help: "遍历得到的普通文件数",
})

// BytesScanned 遍历得到的文件总字节数
var BytesScanned = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "copykill_bytes_scanned_total",
	Help: "遍历得到的文件总字节数",
})

// FilesHashed 哈希次数（按结果）
var FilesHashed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "copykill_files_hashed_total",
		Help: "哈希的文件数（按结果）",
	},
	[]string{"result"}, // ok | not_found | stale | error
)

// BytesHashed 成功哈希的字节数
var BytesHashed = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "copykill_bytes_hashed_total",
	Help: "成功哈希的字节数",
})

// BucketDuration 单个 size bucket 的分组耗时（秒）
var BucketDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "copykill_bucket_duration_seconds",
	Help:    "单个 size bucket 的分组耗时（秒）",
	Buckets: prometheus.DefBuckets,
})

// DuplicateGroups 本次 run 发现的重复组数
var DuplicateGroups = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "copykill_duplicate_groups",
	Help: "本次 run 发现的重复组数",
})

// FilesKilled 清理阶段处理的文件数（按结果）
var FilesKilled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "copykill_files_killed_total",
		Help: "清理阶段处理的文件数（按结果）",
	},
	[]string{"result"}, // deleted | planned | absent | failed
)

// Warnings 非致命事件数（按 error_code）
var Warnings = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "copykill_warnings_total",
		Help: "非致命事件数",
	},
	[]string{"code"},
)

// LastRunTimestamp 最近一次 run 完成时间（unix 秒）
var LastRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "copykill_last_run_timestamp_seconds",
	Help: "最近一次 run 完成时间",
})

// ObserveWarnings 按 code 累加 warning。
func ObserveWarnings(ws []domain.Warning) {
	for _, w := range ws {
		Warnings.WithLabelValues(w.Code).Inc()
	}
}

// MarkRunDone 记录 run 完成时间。
func MarkRunDone(now time.Time) {
	LastRunTimestamp.Set(float64(now.Unix()))
}

// WritePrometheus 将 Prometheus 文本格式写入 w
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteTextfile 原子写出 textfile（供 node_exporter textfile collector 采集）。
func WriteTextfile(path string) error {
	if path == "" {
		return errors.New("metrics 文件路径为空")
	}
	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), buf.Bytes())
}
