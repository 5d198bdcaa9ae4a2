package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/John-Robertt/copykill/internal/app/run"
	"github.com/John-Robertt/copykill/internal/config"
	"github.com/John-Robertt/copykill/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是一个“简洁版”的交互终端进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr，不污染 stdout 的重复列表
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：大文件哈希期间长时间没有 bucket 完成时，也会定期输出一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total    int // 需要哈希的 bucket 数
	done     int
	groups   int
	warnings int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "list"
	modeHint := " (只列出重复，不删除)"
	switch {
	case eff.Cleanup() && eff.DryRun:
		mode = "dry-run"
		modeHint = " (只输出计划，不删除/不写 report)"
	case eff.Cleanup():
		mode = "cleanup"
		modeHint = ""
	}

	fmt.Fprintf(p.w, "[%s] copykill (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  root: %s\n", eff.Root)
	fmt.Fprintf(p.w, "  mode: %s%s\n", mode, modeHint)
	if eff.Cleanup() {
		fmt.Fprintf(p.w, "  preserve_dir: %s\n", eff.PreserveDir)
		fmt.Fprintf(p.w, "  preserve_only_policy: %s\n", eff.PreserveOnlyPolicy)
	}
	fmt.Fprintf(p.w, "  workers: %d\n", eff.Workers)
	fmt.Fprintf(p.w, "  hash_chunk_size: %s\n", humanize.IBytes(uint64(eff.HashChunkSize)))
	fmt.Fprintf(p.w, "  cache: %s%s\n", formatCache(eff.Cache.Backend, eff.Cache.Addr), refreshNote(eff.RefreshCache))
	fmt.Fprintf(p.w, "  exclude_dirs: %s + 固定排除 %s, %s*\n", formatStringListJSON(eff.ExcludeDirs), domain.CacheFileName, domain.ReportPrefix)
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "scan":
		src := "walk"
		if b, _ := fields["from_cache"].(bool); b {
			src = "cache"
		}
		p.total = intField(fields, "buckets")
		fmt.Fprintf(p.w, "扫描: files=%d buckets=%d source=%s (%s)\n",
			intField(fields, "files"), p.total, src, formatShortDuration(dur),
		)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case "group":
		p.stopTickerLocked()
		fmt.Fprintf(p.w, "分组: workers=%d groups=%d wasted=%s (%s)\n",
			intField(fields, "workers"), intField(fields, "groups"),
			humanize.IBytes(uint64(intField(fields, "wasted"))), formatShortDuration(dur),
		)
	case "cleanup":
		fmt.Fprintf(p.w, "清理: preserved=%d killed=%d (%s)\n",
			intField(fields, "preserved"), intField(fields, "killed"), formatShortDuration(dur),
		)
	case "report":
		path, _ := fields["path"].(string)
		fmt.Fprintf(p.w, "report: %s (%s)\n", path, formatShortDuration(dur))
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnBucketDone(done, total int, b domain.Bucket, groups int, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = done
	p.total = total
	p.groups += groups

	// 只有发现重复的 bucket 才单独打印一行，其余交给 keepalive。
	if groups > 0 {
		fmt.Fprintf(p.w, "[%d/%d] size=%s files=%d groups=%d (%s)\n",
			done, total, humanize.IBytes(b.Size), len(b.Files), groups, formatShortDuration(dur),
		)
		p.lastPrinted = time.Now()
	}

	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

func (p *progressUI) OnWarning(w domain.Warning) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.warnings++
	msg := ""
	if w.Err != nil {
		msg = ": " + truncate(w.Err.Error(), 160)
	}
	fmt.Fprintf(p.w, "WARN %s %s %s%s\n", w.Op, w.Code, w.Path, msg)
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnGroupCleaned(idx, total int, plan domain.GroupPlan, dryRun bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	verb := "KILL"
	if dryRun {
		verb = "PLAN"
	}
	note := ""
	if plan.PreserveOnly {
		note = " (preserve 目录内去重)"
	}
	fmt.Fprintf(p.w, "[%d/%d] %s %s keep=%s kill=%d%s\n",
		idx, total, verb, shortDigest(plan.Group.Digest), plan.Survivor.Path(), len(plan.Kill), note,
	)
	p.lastPrinted = time.Now()
}

// Close 停止 keepalive（可重复调用）。
func (p *progressUI) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTickerLocked()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stopCh := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintf(p.w, "进度: buckets=%d/%d groups=%d warnings=%d elapsed=%s\n",
						p.done, p.total, p.groups, p.warnings, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stopCh:
				return
			}
		}
	}()
}

func (p *progressUI) stopTickerLocked() {
	if !p.tickerStarted {
		return
	}
	close(p.stopCh)
	p.tickerStarted = false
}

func formatCache(backend, addr string) string {
	backend = strings.TrimSpace(backend)
	if backend == "" {
		backend = "file"
	}
	if backend == "redis" && addr != "" {
		return "redis (" + addr + ")"
	}
	return backend
}

func refreshNote(refresh bool) string {
	if refresh {
		return " (refresh)"
	}
	return ""
}

func shortDigest(d domain.Digest) string {
	return d.String()[:12]
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}
