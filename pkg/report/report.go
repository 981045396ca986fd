// Package report renders one derived dashboard table for offline use.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ethpandaops/flowwatch/pkg/dashboard"
	"github.com/ethpandaops/flowwatch/pkg/export"
	"gopkg.in/yaml.v3"
)

// View names a derived table.
type View string

const (
	ViewFlows         View = "flows"
	ViewNotifications View = "notifications"
	ViewRuns          View = "runs"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseView validates a view name.
func ParseView(s string) (View, error) {
	switch v := View(s); v {
	case ViewFlows, ViewNotifications, ViewRuns:
		return v, nil
	default:
		return "", fmt.Errorf("unknown view %q (flows, notifications, runs)", s)
	}
}

// ParseFormat validates a format name. "md" is accepted for markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatYAML, FormatMarkdown:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown format %q (json, yaml, markdown)", s)
	}
}

// Report is one rendered view. Only the field matching View is set.
type Report struct {
	View        View      `json:"view" yaml:"view"`
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
	FetchedAt   time.Time `json:"fetched_at" yaml:"fetched_at"`

	Flows         []dashboard.FlowMeta              `json:"flows,omitempty" yaml:"flows,omitempty"`
	Notifications []dashboard.NotificationMatrixRow `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	Runs          []dashboard.JobRun                `json:"runs,omitempty" yaml:"runs,omitempty"`

	// Unrecognized counts subscriptions left out of the notification
	// matrix because their event is unknown.
	Unrecognized int `json:"unrecognized_subscriptions,omitempty" yaml:"unrecognized_subscriptions,omitempty"`
}

// Build derives view from snap.
func Build(
	snap *export.Snapshot,
	view View,
	thresholdDays int,
	now time.Time,
) (*Report, error) {
	r := &Report{
		View:        view,
		GeneratedAt: now.UTC(),
		FetchedAt:   snap.FetchedAt,
	}

	switch view {
	case ViewRuns:
		r.Runs = snap.Runs
	case ViewFlows:
		r.Flows = dashboard.BuildFlows(snap.Configurations, snap.Runs, thresholdDays, now)
	case ViewNotifications:
		flows := dashboard.BuildFlows(snap.Configurations, snap.Runs, thresholdDays, now)
		matrix := dashboard.BuildMatrix(snap.Subscriptions, flows)
		r.Notifications = matrix.Rows
		r.Unrecognized = len(matrix.Unrecognized)
	default:
		return nil, fmt.Errorf("unknown view %q", view)
	}

	return r, nil
}

// Write encodes r to w in the given format.
func Write(w io.Writer, r *Report, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}

		return enc.Close()
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(r))

		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
