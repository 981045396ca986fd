package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/ethpandaops/flowwatch/pkg/dashboard"
	"github.com/mitchellh/mapstructure"
)

var (
	errMissingColumn  = errors.New("missing required column")
	errEmptyTimestamp = errors.New("empty timestamp")
	errBadTimestamp   = errors.New("unrecognized timestamp format")
)

// tableSchema lists the columns a table export must carry.
type tableSchema struct {
	required   []string
	timestamps []string
}

var (
	configurationsSchema = tableSchema{
		required: []string{
			"configuration_id", "project_id", "project_name", "configuration_name",
			"component_id", "branch_type", "is_deleted",
		},
	}

	runsSchema = tableSchema{
		required: []string{
			"job_run_id", "configuration_id", "project_name",
			"component_name", "job_status", "job_created_at",
		},
		timestamps: []string{"job_created_at"},
	}

	subscriptionsSchema = tableSchema{
		required: []string{
			"project_id", "configuration_id", "flow_name", "event", "recipient_address",
		},
	}
)

// timestampLayouts are tried in order. Values without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an export timestamp.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errEmptyTimestamp
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, errBadTimestamp
}

// DecodeConfigurations decodes a job configuration export.
func DecodeConfigurations(table string, data []byte) ([]dashboard.JobConfiguration, error) {
	return decodeTable[dashboard.JobConfiguration](table, data, configurationsSchema)
}

// DecodeRuns decodes a job run export.
func DecodeRuns(table string, data []byte) ([]dashboard.JobRun, error) {
	return decodeTable[dashboard.JobRun](table, data, runsSchema)
}

// DecodeSubscriptions decodes a notification subscription export.
func DecodeSubscriptions(table string, data []byte) ([]dashboard.NotificationSubscription, error) {
	return decodeTable[dashboard.NotificationSubscription](table, data, subscriptionsSchema)
}

// decodeTable reads a CSV export with a header row and decodes every row
// into T through the struct's csv tags. Columns not mapped by T are
// ignored.
func decodeTable[T any](table string, data []byte, schema tableSchema) ([]T, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Table: table, Err: errors.New("empty export, header row missing")}
		}

		return nil, &ParseError{Table: table, Line: 1, Err: err}
	}

	columns := make([]string, len(header))
	present := make(map[string]struct{}, len(header))

	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		columns[i] = name
		present[name] = struct{}{}
	}

	for _, col := range schema.required {
		if _, ok := present[col]; !ok {
			return nil, &ParseError{Table: table, Column: col, Err: errMissingColumn}
		}
	}

	out := make([]T, 0, 64)

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			line := 0

			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				line = csvErr.Line
			}

			return nil, &ParseError{Table: table, Line: line, Err: err}
		}

		line, _ := r.FieldPos(0)

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = record[i]
		}

		for _, col := range schema.timestamps {
			value, _ := row[col].(string)

			ts, err := ParseTimestamp(value)
			if err != nil {
				return nil, &ParseError{
					Table: table, Line: line, Column: col, Value: value, Err: err,
				}
			}

			row[col] = ts
		}

		var item T
		if err := decodeRow(row, &item); err != nil {
			return nil, &ParseError{Table: table, Line: line, Err: err}
		}

		out = append(out, item)
	}

	return out, nil
}

func decodeRow(row map[string]any, result any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "csv",
		WeaklyTypedInput: true,
		DecodeHook:       trimSpaceHook,
		Result:           result,
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}

	return decoder.Decode(row)
}

// trimSpaceHook strips surrounding whitespace from every string cell.
func trimSpaceHook(from, _ reflect.Kind, data any) (any, error) {
	if from != reflect.String {
		return data, nil
	}

	s, ok := data.(string)
	if !ok {
		return data, nil
	}

	return strings.TrimSpace(s), nil
}
