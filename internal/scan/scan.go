package scan

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/copykill/internal/domain"
	"github.com/John-Robertt/copykill/internal/infra/cache"
	"github.com/John-Robertt/copykill/internal/infra/fsx"
)

// Options 控制一次目录快照的构建。
type Options struct {
	// UseCache=true 且缓存有效时直接返回缓存内容，不遍历目录。
	UseCache bool
	// Store 为 nil 时不读也不写缓存。
	Store cache.Store
	// ExcludeDirs 相对 root 的路径（绝对路径按绝对路径处理）。
	ExcludeDirs []string
	// ReportDirs 是 root 之外会写 report 的目录（通常是 preserve 目录）。
	// 只有直接位于 root 或这些目录中的 copykill2.report.* 才按产物排除。
	ReportDirs []string
	// OnFile 每发现一个普通文件调用一次（用于进度/指标；可为 nil）。
	OnFile func(r *domain.FileRecord)
}

// Result 是 BuildCatalog 的输出。
type Result struct {
	Root      string // 规范化后的绝对路径
	Buckets   domain.SizeBuckets
	FromCache bool
	Warnings  []domain.Warning
}

// BuildCatalog 遍历 root 下的普通文件并按大小分桶。
//
// 规则（硬约束）：
// - root 先变为绝对路径，并解析路径前缀中的符号链接；遍历中发现的符号链接不跟随、不入桶
// - 只收录普通文件；目录、设备、socket、符号链接直接跳过
// - 无法读取的条目/目录记为 warning 并跳过，不中止遍历
// - 永久排除本工具自己的产物：<root>/copykill2.cache，以及 root/ReportDirs 中直接存放的 copykill2.report.*
// - UseCache=false 时先让 Store 作废旧条目（Store 实现 cache.Invalidator 时）
// - 新遍历完成后 best-effort 写缓存；写失败只记 warning
//
// 注意：扫描阶段只做 stat，不读文件内容。
func BuildCatalog(ctx context.Context, root string, opts Options) (Result, error) {
	abs, err := Canonical(root)
	if err != nil {
		return Result{}, err
	}
	res := Result{Root: abs}

	if !opts.UseCache && opts.Store != nil {
		if inv, ok := opts.Store.(cache.Invalidator); ok {
			if err := inv.Invalidate(ctx, abs); err != nil {
				res.Warnings = append(res.Warnings, domain.Warning{
					Path: abs, Op: "cache", Code: domain.ErrCodeCacheWriteFailed, Err: err,
				})
			}
		}
	}

	if opts.UseCache && opts.Store != nil {
		b, err := opts.Store.Load(ctx, abs)
		switch {
		case err == nil:
			res.Buckets = b
			res.FromCache = true
			return res, nil
		case errors.Is(err, cache.ErrMiss):
		default:
			// 坏缓存：忽略，重新扫描（随后会覆盖写回）。
			res.Warnings = append(res.Warnings, domain.Warning{
				Path: abs, Op: "cache", Code: domain.ErrCodeCacheCorrupt, Err: err,
			})
		}
	}

	excluded := buildExcluded(abs, opts.ExcludeDirs)
	reportDirs := buildReportDirs(abs, opts.ReportDirs)
	buckets := domain.SizeBuckets{}

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == abs {
				return walkErr
			}
			res.Warnings = append(res.Warnings, domain.NewWarning("walk", path, walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		// 统一的排除判断：目录用 SkipDir，文件则直接跳过。
		if isExcluded(path, excluded) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		// DirEntry 的类型位来自 Lstat：符号链接/设备/socket 都不是 regular。
		if !d.Type().IsRegular() {
			return nil
		}
		if isArtifact(path, abs, reportDirs) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// 遍历与 stat 之间被删除/改权限：跳过。
			res.Warnings = append(res.Warnings, domain.NewWarning("walk", path, err))
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		dev, ino := fsx.FileID(info)
		r := &domain.FileRecord{
			Dir:     filepath.Dir(path),
			Name:    d.Name(),
			Size:    uint64(info.Size()),
			ModTime: info.ModTime().UTC(),
			Dev:     dev,
			Ino:     ino,
		}
		buckets.Add(r)
		if opts.OnFile != nil {
			opts.OnFile(r)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	res.Buckets = buckets

	if opts.Store != nil {
		if err := opts.Store.Save(ctx, abs, buckets); err != nil {
			res.Warnings = append(res.Warnings, domain.Warning{
				Path: abs, Op: "cache", Code: domain.ErrCodeCacheWriteFailed, Err: err,
			})
		}
	}
	return res, nil
}

// Canonical 把 root 变为 clean + absolute，并解析路径中的符号链接。
func Canonical(root string) (string, error) {
	abs, err := filepath.Abs(strings.TrimSpace(root))
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func buildExcluded(root string, excludeDirs []string) []string {
	excluded := make([]string, 0, len(excludeDirs))
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		// x 是相对路径：相对 root。
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}

	// 排除列表排序后，isExcluded 的行为更可预测（且便于测试）。
	sort.Strings(excluded)
	return excluded
}

func buildReportDirs(root string, dirs []string) map[string]struct{} {
	out := map[string]struct{}{root: {}}
	for _, d := range dirs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		// 与遍历路径同一形式：解析符号链接；目录不存在时退回 clean 绝对路径。
		if c, err := Canonical(d); err == nil {
			out[c] = struct{}{}
		} else if abs, err := filepath.Abs(d); err == nil {
			out[abs] = struct{}{}
		}
	}
	return out
}

// isArtifact 判断 path 是否是本工具写出的文件：缓存只在 root 下，report 只在 report 目录下。
func isArtifact(path, root string, reportDirs map[string]struct{}) bool {
	dir, name := filepath.Dir(path), filepath.Base(path)
	if name == domain.CacheFileName {
		return dir == root
	}
	if domain.IsReportName(name) {
		_, ok := reportDirs[dir]
		return ok
	}
	return false
}

func isExcluded(path string, excluded []string) bool {
	for _, base := range excluded {
		if fsx.IsUnder(path, base) {
			return true
		}
	}
	return false
}
