package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/John-Robertt/copykill/internal/app/run"
)

// printListing 输出重复列表：每组一行摘要，随后每行一个路径，组之间空一行。
func printListing(w io.Writer, res run.Result) {
	for _, g := range res.Groups {
		fmt.Fprintf(w, "# %s size=%s files=%d\n", g.Digest, humanize.IBytes(g.Size), len(g.Files))
		for _, f := range g.Files {
			fmt.Fprintln(w, f.Path())
		}
		fmt.Fprintln(w)
	}
}

// printSummary 把最终摘要写到 stderr（stdout 只留给列表/计划）。
func printSummary(w io.Writer, res run.Result) {
	fmt.Fprintf(w, "完成：files=%d groups=%d wasted=%s warnings=%d\n",
		res.Files, len(res.Groups), humanize.IBytes(res.Wasted()), len(res.Warnings),
	)
	if !res.Cleanup {
		return
	}
	mode := "cleanup"
	if res.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(w, "%s：preserved=%d killed=%d\n", mode, res.Report.PreservedCount, res.Report.KilledCount)
	if res.ReportPath != "" {
		fmt.Fprintf(w, "report: %s\n", res.ReportPath)
	}
}
