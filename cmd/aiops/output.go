package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/viper"

	"github.com/MIK-RC/aws-aiops/internal/agent"
	"github.com/MIK-RC/aws-aiops/internal/database/repository"
	"github.com/MIK-RC/aws-aiops/internal/workflow"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

// keys already shown in the header rows or as the output body
var shownKeys = map[string]bool{
	"success": true, "output": true, "error": true, "task": true,
}

func jsonOutput() bool { return viper.GetBool("json") }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func status(ok bool) string {
	if ok {
		return text.FgGreen.Sprint("success")
	}
	return text.FgRed.Sprint("failed")
}

func printOutcome(w io.Writer, out *workflow.Outcome) error {
	if jsonOutput() {
		return printJSON(w, out)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Field", "Value"})
	tw.AppendRow(table.Row{"run", out.RunID})
	tw.AppendRow(table.Row{"mode", out.Mode})
	tw.AppendRow(table.Row{"status", status(out.Success)})
	tw.AppendRow(table.Row{"duration", out.Duration.Round(time.Millisecond)})
	if out.SessionID != "" {
		tw.AppendRow(table.Row{"session", out.SessionID})
	}
	if out.Error != "" {
		tw.AppendRow(table.Row{"error", out.Error})
	}

	keys := make([]string, 0, len(out.Result))
	for k := range out.Result {
		if !shownKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		tw.AppendRow(table.Row{k, formatValue(out.Result[k])})
	}
	tw.Render()

	if out.Output != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, out.Output)
	}
	return nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(val, ", ")
	case string:
		return logging.Truncate(val, 80)
	default:
		return fmt.Sprint(val)
	}
}

func printRoster(w io.Writer, roster *agent.Roster) error {
	if jsonOutput() {
		type row struct {
			Name       string     `json:"name"`
			Role       agent.Role `json:"role"`
			Operations []string   `json:"operations"`
			Ready      bool       `json:"ready"`
		}
		rows := make([]row, 0, roster.Len())
		for _, c := range roster.List() {
			rows = append(rows, row{c.Name(), c.Role(), c.Operations().Names(), c.Check() == nil})
		}
		return printJSON(w, rows)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Name", "Role", "Ready", "Operations"})
	for _, c := range roster.List() {
		ready := text.FgGreen.Sprint("yes")
		if err := c.Check(); err != nil {
			ready = text.FgRed.Sprint(err.Error())
		}
		tw.AppendRow(table.Row{c.Name(), c.Role(), ready, strings.Join(c.Operations().Names(), ", ")})
	}
	tw.Render()
	return nil
}

func printRuns(w io.Writer, runs []*repository.Run) error {
	if jsonOutput() {
		return printJSON(w, runs)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Run", "Mode", "Status", "Started", "Duration", "Task"})
	for _, r := range runs {
		tw.AppendRow(table.Row{
			r.ID,
			r.Mode,
			status(r.Success),
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration.Round(time.Millisecond),
			logging.Truncate(r.Task, 60),
		})
	}
	tw.Render()
	return nil
}
