package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/flowwatch/pkg/dashboard"
)

const timeLayout = "2006-01-02 15:04:05"

// Markdown renders r as a markdown document with one table.
func Markdown(r *Report) string {
	var sb strings.Builder

	writeTitle(&sb, r)

	switch r.View {
	case ViewFlows:
		writeFlows(&sb, r.Flows)
	case ViewNotifications:
		writeNotifications(&sb, r.Notifications, r.Unrecognized)
	case ViewRuns:
		writeRuns(&sb, r.Runs)
	}

	return sb.String()
}

func writeTitle(sb *strings.Builder, r *Report) {
	title := string(r.View)
	if title != "" {
		title = strings.ToUpper(title[:1]) + title[1:]
	}

	fmt.Fprintf(sb, "# %s\n\n", title)
	fmt.Fprintf(sb, "Generated %s UTC", r.GeneratedAt.UTC().Format(timeLayout))

	if !r.FetchedAt.IsZero() {
		fmt.Fprintf(sb, " from exports fetched %s UTC", r.FetchedAt.UTC().Format(timeLayout))
	}

	sb.WriteString(".\n\n")
}

func writeFlows(sb *strings.Builder, flows []dashboard.FlowMeta) {
	if len(flows) == 0 {
		sb.WriteString("No flows.\n")

		return
	}

	writeHeader(sb, "Project", "Flow", "Last Status", "Days Since Last Run",
		"Last Run", "Status", "Link")

	for _, f := range flows {
		writeRow(sb,
			f.ProjectName,
			f.FlowName,
			f.LastRunStatus,
			days(f.DaysSinceLastRun),
			f.LastRunAgo,
			string(f.Activity),
			f.Link,
		)
	}
}

func writeNotifications(
	sb *strings.Builder, rows []dashboard.NotificationMatrixRow, unrecognized int,
) {
	if len(rows) == 0 {
		sb.WriteString("No flows.\n")

		return
	}

	events := dashboard.EventTypes()
	header := []string{"Project", "Flow", "Last Status", "Days Since Last Run", "Status"}

	for _, e := range events {
		header = append(header, string(e))
	}

	writeHeader(sb, append(header, "Link")...)

	for _, row := range rows {
		cells := []string{
			row.ProjectName,
			row.FlowName,
			row.LastRunStatus,
			days(row.DaysSinceLastRun),
			string(row.Activity),
		}

		for _, e := range events {
			cells = append(cells, row.Recipient(e))
		}

		writeRow(sb, append(cells, row.Link)...)
	}

	if unrecognized > 0 {
		fmt.Fprintf(sb,
			"\n%d subscription(s) with unrecognized events were left out.\n",
			unrecognized)
	}
}

func writeRuns(sb *strings.Builder, runs []dashboard.JobRun) {
	if len(runs) == 0 {
		sb.WriteString("No runs.\n")

		return
	}

	writeHeader(sb, "Project", "Flow", "Run", "Status", "Created", "Link")

	for _, r := range runs {
		writeRow(sb,
			r.ProjectName,
			r.FlowName,
			r.ID,
			r.Status,
			formatTime(r.CreatedAt),
			r.Link,
		)
	}
}

func writeHeader(sb *strings.Builder, columns ...string) {
	writeRow(sb, columns...)

	sb.WriteString("|")

	for range columns {
		sb.WriteString("---|")
	}

	sb.WriteString("\n")
}

func writeRow(sb *strings.Builder, cells ...string) {
	sb.WriteString("|")

	for _, c := range cells {
		fmt.Fprintf(sb, " %s |", escapeCell(c))
	}

	sb.WriteString("\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")

	return strings.ReplaceAll(s, "\n", " ")
}

func days(n int) string {
	if n < 0 {
		return "-"
	}

	return strconv.Itoa(n)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(timeLayout)
}
