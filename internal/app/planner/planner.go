package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/John-Robertt/copykill/internal/domain"
	"github.com/John-Robertt/copykill/internal/infra/fsx"
)

const (
	// PolicyDedupe：整组都在 preserve 目录内时，在目录内部去重（保留最早的一份）。
	PolicyDedupe = "dedupe"
	// PolicySkip：整组都在 preserve 目录内时跳过该组，不写 report 条目。
	PolicySkip = "skip"
)

// ParsePolicy 校验 preserve_only_policy；空串取默认 dedupe。
func ParsePolicy(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", PolicyDedupe:
		return PolicyDedupe, nil
	case PolicySkip:
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("preserve_only_policy 只能是 dedupe 或 skip，实际是 %q", s)
	}
}

// existsFunc 可替换，便于测试模拟“扫描后被外部删除”。
// 只有仍是普通文件的路径才有资格：被换成符号链接的路径既不能当 survivor，也不进 kill。
var existsFunc = func(r *domain.FileRecord) bool { return r.IsRegular() }

// PlanGroup 为一个 DuplicateGroup 生成确定性的清理计划（不做任何删除）。
//
// 规则：
// 1) 候选集 = 不在 preserveDir 之下的记录（按路径分段判断，/data2 不算在 /data 之下）
// 2) 候选集为空（整组都在 preserveDir 内）：dedupe 策略下候选集 = 整组；skip 策略下跳过
// 3) 只考虑仍然存在的普通文件；survivor = mtime 最早者，mtime 相同按完整路径字典序
// 4) kill = 其余仍存在的候选
//
// ok=false 表示该组没有可执行的计划（跳过），reason 说明原因。
func PlanGroup(g domain.DuplicateGroup, preserveDir, policy string) (plan domain.GroupPlan, ok bool, reason string) {
	candidates := make([]*domain.FileRecord, 0, len(g.Files))
	for _, f := range g.Files {
		if !fsx.IsUnder(f.Dir, preserveDir) {
			candidates = append(candidates, f)
		}
	}

	preserveOnly := false
	if len(candidates) == 0 {
		if policy == PolicySkip {
			return domain.GroupPlan{}, false, "整组位于 preserve 目录内（policy=skip）"
		}
		preserveOnly = true
		candidates = append(candidates, g.Files...)
	}

	alive := candidates[:0:0]
	for _, f := range candidates {
		if existsFunc(f) {
			alive = append(alive, f)
		}
	}
	if len(alive) == 0 {
		return domain.GroupPlan{}, false, "候选文件均已不存在"
	}

	sort.SliceStable(alive, func(i, j int) bool { return Older(alive[i], alive[j]) })

	return domain.GroupPlan{
		Group:        g,
		Survivor:     alive[0],
		Kill:         append([]*domain.FileRecord(nil), alive[1:]...),
		PreserveOnly: preserveOnly,
	}, true, ""
}

// Older 是 survivor 的排序：mtime 早者优先（纳秒精度），相同则按完整路径字典序。
func Older(a, b *domain.FileRecord) bool {
	if !a.ModTime.Equal(b.ModTime) {
		return a.ModTime.Before(b.ModTime)
	}
	return a.Path() < b.Path()
}
