package run

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/John-Robertt/copykill/internal/app/planner"
	"github.com/John-Robertt/copykill/internal/domain"
	"github.com/John-Robertt/copykill/internal/infra/fsx"
	"github.com/John-Robertt/copykill/internal/infra/logx"
	"github.com/John-Robertt/copykill/internal/metrics"
	"github.com/John-Robertt/copykill/internal/scan"
)

// removeFunc 可替换，便于测试模拟删除失败。
var removeFunc = os.Remove

// CleanupOptions 控制清理阶段。
type CleanupOptions struct {
	Policy string // planner.PolicyDedupe | planner.PolicySkip；空为 dedupe
	DryRun bool   // 只计划并生成 report 内容，不删除
	Logger *slog.Logger

	// OnGroup 在每组处理完成后调用（可为 nil）。
	OnGroup func(idx, total int, plan domain.GroupPlan)
}

// ValidatePreserveDir 校验 preserve 目录存在且是目录，返回规范化后的绝对路径。
// 失败时错误满足 errors.Is(err, domain.ErrInvalidPreserveTarget)。
func ValidatePreserveDir(dir string) (string, error) {
	abs, err := scan.Canonical(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrInvalidPreserveTarget, dir, err)
	}
	if err := fsx.EnsureDir(abs); err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrInvalidPreserveTarget, dir, err)
	}
	return abs, nil
}

// Cleanup 为每个重复组选出唯一 survivor，删除其余候选并生成 report（不落盘）。
//
// 规则（硬约束）：
// - preserve 目录无效时在任何删除之前失败
// - 快照在删除之前采集
// - 删除失败只记 warning，文件仍计入 killed（意图已实现或文件本就不存在）
// - 单线程执行；每次删除是一次 os.Remove，不会在文件中途被打断
// - ctx 取消后不再处理新的组，返回已处理部分的 report 与 ctx.Err()
func Cleanup(ctx context.Context, preserveDir string, groups []domain.DuplicateGroup, opts CleanupOptions) (domain.Report, []domain.Warning, error) {
	preserve, err := ValidatePreserveDir(preserveDir)
	if err != nil {
		return domain.Report{}, nil, err
	}
	policy, err := planner.ParsePolicy(opts.Policy)
	if err != nil {
		return domain.Report{}, nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logx.Discard()
	}

	report := domain.NewReport()
	var warnings []domain.Warning

	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			return report, warnings, err
		}

		plan, ok, reason := planner.PlanGroup(g, preserve, policy)
		if !ok {
			w := domain.Warning{Op: "plan", Code: domain.ErrCodeGroupSkipped, Err: errors.New(reason)}
			if len(g.Files) > 0 {
				w.Path = g.Files[0].Path()
			}
			warnings = append(warnings, w)
			log.Debug("跳过重复组", "digest", g.Digest.String(), "reason", reason)
			continue
		}

		killed := make([]domain.FileSnapshot, 0, len(plan.Kill))
		for _, f := range plan.Kill {
			killed = append(killed, f.Snapshot())
			if opts.DryRun {
				metrics.FilesKilled.WithLabelValues("planned").Inc()
				continue
			}
			if err := removeFunc(f.Path()); err != nil {
				w := domain.NewWarning("delete", f.Path(), err)
				if errors.Is(err, fs.ErrNotExist) {
					metrics.FilesKilled.WithLabelValues("absent").Inc()
				} else {
					w.Code = domain.ErrCodeDeleteFailed
					metrics.FilesKilled.WithLabelValues("failed").Inc()
				}
				warnings = append(warnings, w)
				continue
			}
			metrics.FilesKilled.WithLabelValues("deleted").Inc()
			log.Debug("已删除", "path", f.Path(), "survivor", plan.Survivor.Path())
		}
		report.Record(g.Digest.String(), plan.Survivor.Snapshot(), killed)

		if opts.OnGroup != nil {
			opts.OnGroup(i+1, len(groups), plan)
		}
	}
	return report, warnings, nil
}
