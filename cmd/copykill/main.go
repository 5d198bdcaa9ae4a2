package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/copykill/internal/app/run"
	"github.com/John-Robertt/copykill/internal/config"
	"github.com/John-Robertt/copykill/internal/infra/logx"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError 携带进程退出码；其他 error（参数/flag 解析失败）一律按用法错误处理。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

type cliFlags struct {
	configPath   string
	preserveDir  string
	refreshCache bool
	dryRun       bool
	workers      int
}

// execute 运行 CLI 并返回退出码：0 成功，1 运行失败，2 用法错误。
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintf(stderr, "错误：%v\n", ee.err)
		return ee.code
	}
	fmt.Fprintf(stderr, "参数错误：%v\n\n", err)
	fmt.Fprint(stderr, cmd.UsageString())
	return 2
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var f cliFlags

	cmd := &cobra.Command{
		Use:   "copykill [root]",
		Short: "按内容查找目录树中的重复文件，并可选地清理多余副本",
		Long: `按内容查找重复文件：
  - 先按文件大小分桶（只有同样大小的文件才可能重复）
  - 再对每个桶并发计算 SHA-256，摘要相同才算重复
  - 给出 --preserve-dir 时，每组只保留一份（mtime 最早者），其余删除，
    并在 preserve 目录下写入 copykill2.report.<日期>[.N]

示例：
  copykill ./photos                          # 只列出重复（不删除）
  copykill ./photos --preserve-dir ./photos --dry-run   # 预览清理计划
  copykill ./photos --preserve-dir ./keep    # 执行清理

未给出 root 时读取当前目录下的 copykill.yaml（必须包含 root）。`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := config.CLIArgs{
				ConfigPath:   f.configPath,
				PreserveDir:  f.preserveDir,
				RefreshCache: f.refreshCache,
				DryRun:       f.dryRun,
				Workers:      f.workers,
				WorkersSet:   cmd.Flags().Changed("workers"),
			}
			if len(args) == 1 {
				cli.Root = args[0]
			}
			return runCopykill(cmd.Context(), cli, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fl := cmd.Flags()
	fl.StringVar(&f.preserveDir, "preserve-dir", "", "清理模式：该目录内的文件不会被删除，report 也写在这里")
	fl.BoolVar(&f.refreshCache, "refresh-cache", false, "忽略已有的目录快照缓存，强制重新遍历")
	fl.BoolVar(&f.dryRun, "dry-run", false, "清理模式下只输出计划（report JSON 打印到 stdout），不删除也不写 report")
	fl.IntVar(&f.workers, "workers", 0, "并发哈希的 worker 数（默认 CPU 数 - 2，至少 1）")
	fl.StringVar(&f.configPath, "config", "", "配置文件路径（默认自动发现 <root>/copykill.{yaml,yml,json,toml}）")
	return cmd
}

func runCopykill(parent context.Context, cli config.CLIArgs, stdout, stderr io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	cwd, err := os.Getwd()
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("读取当前目录失败：%w", err)}
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	logger, err := logx.New(stderr, eff.Log)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	logger = logger.With("run_id", uuid.NewString())

	var obs run.Observer
	if isTTY(stderr) {
		ui := newProgressUI(stderr)
		defer ui.Close()
		obs = ui
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := run.Execute(ctx, eff, run.Options{Observer: obs, Logger: logger})
	if err != nil {
		// 被取消时已删除的文件也写进了 report，这里把路径告诉用户。
		if res.ReportPath != "" {
			fmt.Fprintf(stderr, "report: %s\n", res.ReportPath)
		}
		return &exitError{code: 1, err: err}
	}

	switch {
	case !res.Cleanup:
		printListing(stdout, res)
	case res.DryRun:
		b, err := res.Report.Encode()
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		_, _ = stdout.Write(b)
	}
	printSummary(stderr, res)
	return nil
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
