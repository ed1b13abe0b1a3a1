package servicenow

import (
	"fmt"
	"strings"

	"github.com/MIK-RC/aws-aiops/internal/analysis"
)

const maxTicketLogs = 2000

// TicketFromAnalysis turns an analysis report into an incident request.
// The title lists the first two error types; the body carries the summary,
// up to three suggested fixes and the (truncated) log context.
func TicketFromAnalysis(service string, report analysis.Report, userInput, logContext string) NewIncident {
	errorTypes := report.Patterns.ErrorTypes
	if len(errorTypes) == 0 {
		errorTypes = []string{"Issue"}
	}

	shown := errorTypes
	if len(shown) > 2 {
		shown = shown[:2]
	}
	title := fmt.Sprintf("[%s] %s", service, strings.Join(shown, ", "))
	if len(errorTypes) > 2 {
		title += fmt.Sprintf(" (+%d more)", len(errorTypes)-2)
	}

	var parts []string
	if userInput != "" {
		parts = append(parts, "## User Report\n"+userInput)
	}

	summary := report.Summary
	if summary == "" {
		summary = "No summary available"
	}
	parts = append(parts, "## AI Analysis Summary\n"+summary)

	if len(report.Suggestions) > 0 {
		parts = append(parts, "\n## Suggested Fixes")
		for i, s := range report.Suggestions {
			if i == 3 {
				break
			}
			parts = append(parts, fmt.Sprintf("%d. **%s**: %s", i+1, orDefault(s.ErrorType, "Issue"), orDefault(s.Suggestion, "Review and fix")))
		}
	}

	if logContext != "" {
		logs := logContext
		if len(logs) > maxTicketLogs {
			logs = logs[:maxTicketLogs] + "\n... [truncated]"
		}
		parts = append(parts, "\n## Relevant Logs\n```\n"+logs+"\n```")
	}

	return NewIncident{
		ShortDescription: title,
		Description:      strings.Join(parts, "\n\n"),
		Severity:         string(report.Severity()),
		Category:         defaultCategory,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
