package run

import (
	"time"

	"github.com/John-Robertt/copykill/internal/config"
	"github.com/John-Robertt/copykill/internal/domain"
)

// Observer 用于把“运行进度/阶段/事件”从核心执行流程中解耦出来。
//
// 约束：
//   - run 包只负责发事件，不做任何输出（stdout 留给重复列表）。
//   - Observer 的实现必须并发安全；当前所有事件都在调用 Execute 的 goroutine 上发出，
//     但不应依赖这一点。
type Observer interface {
	// OnStart 在 Execute 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用（scan/group/cleanup/report）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnBucketDone 在每个 size bucket 分组完成时调用。
	OnBucketDone(done, total int, b domain.Bucket, groups int, dur time.Duration)
	// OnWarning 在每个非致命事件产生时调用。
	OnWarning(w domain.Warning)
	// OnGroupCleaned 在每个重复组处理完成时调用（dry-run 时只是计划）。
	OnGroupCleaned(idx, total int, plan domain.GroupPlan, dryRun bool)
}

// nopObserver 让 Execute 内部不必到处判空。
type nopObserver struct{}

func (nopObserver) OnStart(config.EffectiveConfig)                           {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration)        {}
func (nopObserver) OnBucketDone(int, int, domain.Bucket, int, time.Duration) {}
func (nopObserver) OnWarning(domain.Warning)                                 {}
func (nopObserver) OnGroupCleaned(int, int, domain.GroupPlan, bool)          {}
