package fsx

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// 通过可替换的函数指针，让测试能稳定模拟 rename/link 失败。
var (
	renameFunc = os.Rename
	linkFunc   = os.Link
)

// ErrSymlink 表示要求“不跟随符号链接”的操作遇到了符号链接。
var ErrSymlink = errors.New("path is a symlink")

// PathTypeConflictError 表示目标路径类型冲突（例如期望目录但实际是文件）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// EnsureDir 校验 dir 存在且是目录（跟随符号链接）；不会创建。
func EnsureDir(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return &PathTypeConflictError{Path: dir, Want: "dir", Got: fi.Mode().Type().String()}
	}
	return nil
}

// IsUnder 判断 path 是否等于 base 或位于 base 之下（按路径分段比较，/data2 不在 /data 之下）。
func IsUnder(path, base string) bool {
	path = filepath.Clean(path)
	base = filepath.Clean(base)
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	if strings.HasSuffix(base, sep) {
		return strings.HasPrefix(path, base)
	}
	return strings.HasPrefix(path, base+sep)
}

// WriteFileAtomicReplace 在 dir 下原子写入 name（临时文件 + rename），目标已存在则覆盖。
// 用于 cache 等可覆盖的内部状态。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	return writeFileAtomic(dir, name, data, 0o644)
}

// WriteFileNoClobber 在 dir 下写入 name，且绝不覆盖已存在的文件。
//
//   - 先写同目录临时文件并 Sync，再用 link 放到最终文件名：link 在目标已存在时失败（EEXIST），
//     因此“检查 + 创建”是一个原子步骤，读者永远看不到半个文件
//   - 文件系统不支持硬链接时退化为 O_EXCL 创建（仍然不覆盖，但写入过程不再原子）
//
// 目标已存在时返回的错误满足 errors.Is(err, fs.ErrExist)。
func WriteFileNoClobber(dir, name string, data []byte) error {
	dst := filepath.Join(filepath.Clean(dir), name)
	if fi, err := os.Lstat(dst); err == nil {
		if fi.IsDir() {
			return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
		}
		return &fs.PathError{Op: "create", Path: dst, Err: fs.ErrExist}
	} else if !os.IsNotExist(err) {
		return err
	}

	tmpName, err := writeTemp(dir, name, data, 0o644)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName)

	err = linkFunc(tmpName, dst)
	switch {
	case err == nil:
		_ = syncDirBestEffort(dir)
		return nil
	case errors.Is(err, fs.ErrExist):
		return err
	case isLinkUnsupported(err):
		return writeExclusive(dst, data, 0o644)
	default:
		return err
	}
}

func writeExclusive(dst string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if err := writeAll(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return err
	}
	return f.Close()
}

func writeFileAtomic(dir, name string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmpName, err := writeTemp(dir, name, data, perm)
	if err != nil {
		return err
	}
	// rename 成功后临时文件名已不存在，Remove 只是 no-op。
	defer os.Remove(tmpName)

	if err := renameFunc(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}

	// 目录 fsync：best-effort（不同平台/文件系统的语义差异很大）。
	_ = syncDirBestEffort(dir)
	return nil
}

// writeTemp 创建同目录临时文件（前缀带 '.'）并写入、Sync、Close；失败时自行清理。
func writeTemp(dir, name string, data []byte, perm os.FileMode) (string, error) {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}

	if err := writeAll(tmp, data); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
