package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/John-Robertt/copykill/internal/app"
	"github.com/John-Robertt/copykill/internal/config"
	"github.com/John-Robertt/copykill/internal/domain"
	"github.com/John-Robertt/copykill/internal/hashx"
	"github.com/John-Robertt/copykill/internal/infra/cache"
	"github.com/John-Robertt/copykill/internal/infra/logx"
	"github.com/John-Robertt/copykill/internal/metrics"
	"github.com/John-Robertt/copykill/internal/scan"
)

// Options 是 Execute 的可选依赖。
type Options struct {
	Observer Observer     // nil 表示不发事件
	Logger   *slog.Logger // nil 表示丢弃日志
	Now      func() time.Time
}

// Result 是一次 run 的结果。
type Result struct {
	Root      string
	FromCache bool
	Files     int // 快照中的普通文件数
	Buckets   int // 需要哈希的 bucket 数（记录数 >= 2）

	Groups   []domain.DuplicateGroup
	Warnings []domain.Warning

	// 以下只在清理模式下有值。
	Cleanup    bool
	DryRun     bool
	Report     domain.Report
	ReportPath string // dry-run 不落盘，为空

	StartedAt  time.Time
	FinishedAt time.Time
}

// Wasted 返回重复副本占用的字节数（每组保留一份）。
func (r Result) Wasted() uint64 {
	var n uint64
	for _, g := range r.Groups {
		n += g.Size * uint64(len(g.Files)-1)
	}
	return n
}

// Execute 执行一次 run：目录快照 -> 并发分组 -> 列出重复（未给 preserve 目录）或清理并写 report。
//
// 返回 error 的情况只有：root 无法扫描、preserve 目录无效、report 无法写入、ctx 被取消。
// 其余文件级错误都降级为 Result.Warnings。
func Execute(ctx context.Context, eff config.EffectiveConfig, opts Options) (res Result, err error) {
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	log := opts.Logger
	if log == nil {
		log = logx.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	res = Result{
		Root:      eff.Root,
		Cleanup:   eff.Cleanup(),
		DryRun:    eff.DryRun,
		StartedAt: now(),
	}
	obs.OnStart(eff)
	defer func() {
		res.FinishedAt = now()
	}()

	warn := func(ws ...domain.Warning) {
		for _, w := range ws {
			res.Warnings = append(res.Warnings, w)
			obs.OnWarning(w)
			log.Warn("跳过", "op", w.Op, "path", w.Path, "error_code", w.Code, "err", w.Err)
		}
	}

	// 清理模式先校验 preserve 目录：无效时在扫描/删除之前失败。
	preserve := ""
	if res.Cleanup {
		p, err := ValidatePreserveDir(eff.PreserveDir)
		if err != nil {
			return res, err
		}
		preserve = p
	}

	store, err := cache.New(eff.Cache)
	if err != nil {
		return res, fmt.Errorf("缓存配置无效：%w", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	scanStarted := time.Now()
	cat, err := scan.BuildCatalog(ctx, eff.Root, scan.Options{
		UseCache:    !eff.RefreshCache,
		Store:       store,
		ExcludeDirs: eff.ExcludeDirs,
		ReportDirs:  []string{preserve},
		OnFile: func(r *domain.FileRecord) {
			metrics.FilesScanned.Inc()
			metrics.BytesScanned.Add(float64(r.Size))
		},
	})
	if err != nil {
		return res, fmt.Errorf("扫描失败：%w", err)
	}
	res.Root = cat.Root
	res.FromCache = cat.FromCache
	res.Files = cat.Buckets.FileCount()
	res.Buckets = len(cat.Buckets.Candidates())
	warn(cat.Warnings...)
	obs.OnPhaseDone("scan", map[string]any{
		"files":      res.Files,
		"buckets":    res.Buckets,
		"from_cache": res.FromCache,
	}, time.Since(scanStarted))
	log.Info("目录快照完成", "root", res.Root, "files", res.Files, "buckets", res.Buckets, "from_cache", res.FromCache)

	var h domain.Hasher = hashx.New(eff.HashChunkSize, eff.Workers)
	h = metrics.InstrumentHasher(h)
	h = hashx.NewMemo(h, eff.DigestMemoMB)

	groupStarted := time.Now()
	groups, ws := app.GroupDuplicates(ctx, cat.Buckets, h, app.GroupOptions{
		Workers: eff.Workers,
		OnBucketDone: func(done, total int, b domain.Bucket, n int, dur time.Duration) {
			metrics.BucketDuration.Observe(dur.Seconds())
			obs.OnBucketDone(done, total, b, n, dur)
		},
	})
	res.Groups = groups
	warn(ws...)
	metrics.DuplicateGroups.Set(float64(len(groups)))
	obs.OnPhaseDone("group", map[string]any{
		"workers": eff.Workers,
		"groups":  len(groups),
		"wasted":  res.Wasted(),
	}, time.Since(groupStarted))
	if m, ok := h.(*hashx.MemoHasher); ok {
		hits, misses := m.Stats()
		log.Debug("摘要备忘", "hits", hits, "misses", misses)
	}

	// 分组不完整时不做任何删除。
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if !res.Cleanup {
		finish(eff, &res, log, now)
		return res, nil
	}

	cleanStarted := time.Now()
	report, ws, cerr := Cleanup(ctx, preserve, groups, CleanupOptions{
		Policy: eff.PreserveOnlyPolicy,
		DryRun: eff.DryRun,
		Logger: log,
		OnGroup: func(idx, total int, plan domain.GroupPlan) {
			obs.OnGroupCleaned(idx, total, plan, eff.DryRun)
		},
	})
	if errors.Is(cerr, domain.ErrInvalidPreserveTarget) {
		return res, cerr
	}
	res.Report = report
	warn(ws...)
	obs.OnPhaseDone("cleanup", map[string]any{
		"preserved": report.PreservedCount,
		"killed":    report.KilledCount,
		"dry_run":   eff.DryRun,
	}, time.Since(cleanStarted))

	// 取消时也要把已经发生的删除写进 report。
	if !eff.DryRun {
		reportStarted := time.Now()
		path, err := WriteReport(preserve, report, now())
		if err != nil {
			return res, err
		}
		res.ReportPath = path
		obs.OnPhaseDone("report", map[string]any{"path": path}, time.Since(reportStarted))
		log.Info("report 已写入", "path", path, "preserved", report.PreservedCount, "killed", report.KilledCount)
	}

	finish(eff, &res, log, now)
	return res, cerr
}

// finish 汇总指标并按需写出 textfile；写失败只记日志。
func finish(eff config.EffectiveConfig, res *Result, log *slog.Logger, now func() time.Time) {
	metrics.ObserveWarnings(res.Warnings)
	metrics.MarkRunDone(now())
	if eff.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(eff.MetricsFile); err != nil {
		log.Warn("写入 metrics 文件失败", "path", eff.MetricsFile, "err", err)
	}
}
