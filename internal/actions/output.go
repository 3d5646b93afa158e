package actions

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/mxcd/showcaser/internal/showcase"
)

type reportOutput struct {
	showcase.Report `yaml:",inline"`
	Warning         string `json:"warning,omitempty" yaml:"warning,omitempty"`
}

func newReportOutput(report *showcase.Report) reportOutput {
	out := reportOutput{Report: *report}
	if report.Result != nil && report.Result.Warning != nil {
		out.Warning = report.Result.Warning.Error()
	}
	return out
}

func outputReport(w io.Writer, report *showcase.Report, format string) error {
	switch format {
	case "", "table":
		return outputReportTable(w, report)
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(newReportOutput(report))
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(newReportOutput(report))
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func outputReportTable(w io.Writer, report *showcase.Report) error {
	if report.Status == showcase.StatusSkipped {
		fmt.Fprintf(w, "- %s skipped: %s\n", report.Source, report.SkipReason)
		return nil
	}

	if report.Plan != nil && !report.Plan.IsEmpty() {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetTitle(fmt.Sprintf("%s → %s/%s", report.Source, report.Target, report.Plan.Namespace))
		t.AppendHeader(table.Row{"Operation", "Target", "Source", "Prior Version"})
		for _, op := range report.Plan.Operations {
			t.AppendRow(table.Row{op.Kind, op.TargetPath, op.SourcePath, shortSHA(op.PriorVersionID)})
		}
		t.AppendFooter(table.Row{"Total", len(report.Plan.Operations),
			fmt.Sprintf("%d put / %d delete", report.Plan.Puts(), report.Plan.Deletes()),
			fmt.Sprintf("%d unchanged", len(report.Plan.Unchanged))})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, Transformer: colorKind},
		})
		t.SetStyle(table.StyleRounded)
		t.Render()
	}

	switch report.Status {
	case showcase.StatusPlanned:
		if report.Plan.IsEmpty() {
			fmt.Fprintf(w, "✓ %s is up to date in %s\n", report.Source, report.Target)
		} else {
			fmt.Fprintln(w, "Dry run, nothing was published")
		}
	case showcase.StatusPublished:
		result := report.Result
		switch {
		case result.NoChanges:
			fmt.Fprintf(w, "✓ %s is up to date in %s\n", report.Source, report.Target)
		case result.Merged:
			fmt.Fprintf(w, "✓ Merged %d operations into %s@%s (%s)\n", result.Applied, report.Target, result.BaseBranch, shortSHA(result.MergeSHA))
		}
		if result.Warning != nil {
			fmt.Fprintf(w, "! %v\n", result.Warning)
		}
	case showcase.StatusFailed:
		fmt.Fprintf(w, "✗ Mirroring %s failed\n", report.Source)
	}
	return nil
}

func colorKind(val interface{}) string {
	kind := fmt.Sprint(val)
	switch kind {
	case "put":
		return text.FgGreen.Sprint(kind)
	case "delete":
		return text.FgRed.Sprint(kind)
	}
	return kind
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
