package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/John-Robertt/copykill/internal/domain"
)

// GroupOptions 控制 GroupDuplicates 的并发与事件回调。
type GroupOptions struct {
	Workers int // <1 时按 1 处理

	// OnBucketDone 在协调 goroutine 上串行调用（无需加锁）。
	OnBucketDone func(done, total int, b domain.Bucket, groups int, dur time.Duration)
}

// BucketResult 是单个 size bucket 的分组结果。
type BucketResult struct {
	Bucket   domain.Bucket
	Groups   []domain.DuplicateGroup
	Warnings []domain.Warning
	Dur      time.Duration
}

// GroupDuplicates 对每个记录数 >= 2 的 size bucket 计算摘要并按摘要分组。
//
// - bucket 之间完全独立：固定大小的 worker pool 从 jobs 取 bucket，结果经 results 回到协调者
// - 只有协调 goroutine 追加全局结果，不存在共享 slice 的并发写
// - 哈希失败（文件消失/无权限）的记录被丢弃并记 warning，不影响同桶其他记录
// - ctx 取消后不再派发新的 bucket；已开始的 bucket 会完成
//
// 返回的组按 (Size 降序, Digest) 排序，组内按路径排序。
func GroupDuplicates(ctx context.Context, buckets domain.SizeBuckets, h domain.Hasher, opts GroupOptions) ([]domain.DuplicateGroup, []domain.Warning) {
	candidates := buckets.Candidates()

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(candidates) && len(candidates) > 0 {
		workers = len(candidates)
	}

	jobs := make(chan domain.Bucket)
	results := make(chan BucketResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				results <- GroupBucket(b, h)
			}
		}()
	}

	go func() {
		defer func() {
			close(jobs)
			wg.Wait()
			close(results)
		}()
		for _, b := range candidates {
			select {
			case jobs <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		groups   []domain.DuplicateGroup
		warnings []domain.Warning
		done     int
	)
	for r := range results {
		done++
		groups = append(groups, r.Groups...)
		warnings = append(warnings, r.Warnings...)
		if opts.OnBucketDone != nil {
			opts.OnBucketDone(done, len(candidates), r.Bucket, len(r.Groups), r.Dur)
		}
	}

	SortGroups(groups)
	return groups, warnings
}

// GroupBucket 处理单个 bucket：逐条 EnsureDigest，再按摘要字符串分组。
func GroupBucket(b domain.Bucket, h domain.Hasher) BucketResult {
	started := time.Now()
	res := BucketResult{Bucket: b}

	byDigest := make(map[domain.Digest][]*domain.FileRecord, len(b.Files))
	for _, f := range b.Files {
		d, err := f.EnsureDigest(h)
		if err != nil {
			res.Warnings = append(res.Warnings, domain.NewWarning("hash", f.Path(), err))
			continue
		}
		byDigest[d] = append(byDigest[d], f)
	}

	for d, files := range byDigest {
		if len(files) < 2 {
			continue
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Path() < files[j].Path() })
		res.Groups = append(res.Groups, domain.DuplicateGroup{
			Digest: d,
			Size:   b.Size,
			Files:  files,
		})
	}
	SortGroups(res.Groups)

	res.Dur = time.Since(started)
	return res
}

// SortGroups 让输出顺序稳定：Size 降序，同大小按摘要字典序。
func SortGroups(groups []domain.DuplicateGroup) {
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Size != groups[j].Size {
			return groups[i].Size > groups[j].Size
		}
		return groups[i].Digest.String() < groups[j].Digest.String()
	})
}
