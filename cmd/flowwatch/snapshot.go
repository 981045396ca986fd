package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethpandaops/flowwatch/pkg/export"
	"github.com/ethpandaops/flowwatch/pkg/report"
	"github.com/ethpandaops/flowwatch/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Render one dashboard table from the current exports",
	Long: `Fetch the table exports once and render the flows, notifications or runs
table as JSON, YAML or a markdown table.`,
	RunE: runSnapshot,
}

var (
	snapshotView    string
	snapshotFormat  string
	snapshotOutput  string
	snapshotPublish string
	snapshotTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().StringVar(&snapshotView, "view", string(report.ViewFlows),
		"Table to render (flows, notifications, runs)")
	snapshotCmd.Flags().StringVar(&snapshotFormat, "format", string(report.FormatMarkdown),
		"Output format (json, yaml, markdown)")
	snapshotCmd.Flags().StringVar(&snapshotOutput, "output", "",
		"Output file path (default: stdout)")
	snapshotCmd.Flags().StringVar(&snapshotPublish, "publish", "",
		"Also write the rendered table to this object name in the storage backend")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 2*time.Minute,
		"Timeout for fetching the exports")
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	view, err := report.ParseView(snapshotView)
	if err != nil {
		return err
	}

	format, err := report.ParseFormat(snapshotFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	reader, err := storage.NewReader(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("creating storage reader: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), snapshotTimeout)
	defer cancel()

	loader := export.NewLoader(log, reader, cfg.Tables, 0)

	snap, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading exports: %w", err)
	}

	r, err := report.Build(snap, view, cfg.Dashboard.StalenessThresholdDays, time.Now())
	if err != nil {
		return err
	}

	if r.Unrecognized > 0 {
		log.WithField("count", r.Unrecognized).
			Warn("Ignoring subscriptions with unrecognized events")
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, r, format); err != nil {
		return fmt.Errorf("writing %s: %w", format, err)
	}

	if err := writeOutput(snapshotOutput, buf.Bytes()); err != nil {
		return err
	}

	if snapshotPublish != "" {
		publisher, err := storage.NewPublisher(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("creating publisher: %w", err)
		}

		if err := publisher.PutObject(ctx, snapshotPublish, buf.Bytes()); err != nil {
			return fmt.Errorf("publishing snapshot: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"view":    view,
		"format":  format,
		"output":  snapshotOutput,
		"publish": snapshotPublish,
	}).Debug("Snapshot rendered")

	return nil
}

// writeOutput writes data to path, or to stdout when path is empty.
func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)

		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}

	return nil
}
