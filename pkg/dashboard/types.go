// Package dashboard derives the operational dashboard tables from raw
// job configuration, job run and notification subscription exports.
package dashboard

import (
	"encoding/json"
	"time"
)

const (
	// OrchestratorComponentID is the component type of flow configurations.
	OrchestratorComponentID = "keboola.orchestrator"

	// BranchTypeDefault marks configurations living on the default branch.
	BranchTypeDefault = "default"

	// DefaultStalenessThresholdDays is used when no threshold is given.
	DefaultStalenessThresholdDays = 30
)

// Activity classifies a flow by how recently it ran.
type Activity string

const (
	ActivityActive   Activity = "active"
	ActivityInactive Activity = "inactive"
)

// EventType is a job outcome a notification can subscribe to.
type EventType string

const (
	EventJobFailed               EventType = "job-failed"
	EventJobSucceeded            EventType = "job-succeeded"
	EventJobSucceededWithWarning EventType = "job-succeeded-with-warning"
	EventJobProcessingLong       EventType = "job-processing-long"
)

var eventTypes = []EventType{
	EventJobFailed,
	EventJobSucceeded,
	EventJobSucceededWithWarning,
	EventJobProcessingLong,
}

// EventTypes returns the recognized event types in column order.
func EventTypes() []EventType {
	out := make([]EventType, len(eventTypes))
	copy(out, eventTypes)

	return out
}

// Recognized reports whether e is one of the four known event types.
func (e EventType) Recognized() bool {
	for _, known := range eventTypes {
		if e == known {
			return true
		}
	}

	return false
}

// JobConfiguration is a saved flow definition.
type JobConfiguration struct {
	ID          string `csv:"configuration_id" json:"configuration_id"`
	ProjectID   string `csv:"project_id" json:"project_id"`
	ProjectName string `csv:"project_name" json:"project_name"`
	Name        string `csv:"configuration_name" json:"configuration_name"`
	ComponentID string `csv:"component_id" json:"component_id"`
	BranchType  string `csv:"branch_type" json:"branch_type"`
	Deleted     bool   `csv:"is_deleted" json:"is_deleted"`
	Link        string `csv:"link" json:"link"`
}

// JobRun is one execution of a configuration.
type JobRun struct {
	ID              string    `csv:"job_run_id" json:"job_run_id" yaml:"job_run_id"`
	ConfigurationID string    `csv:"configuration_id" json:"configuration_id" yaml:"configuration_id"`
	ProjectID       string    `csv:"project_id" json:"project_id" yaml:"project_id"`
	ProjectName     string    `csv:"project_name" json:"project_name" yaml:"project_name"`
	FlowName        string    `csv:"component_name" json:"component_name" yaml:"component_name"`
	Status          string    `csv:"job_status" json:"job_status" yaml:"job_status"`
	CreatedAt       time.Time `csv:"job_created_at" json:"job_created_at" yaml:"job_created_at"`
	Link            string    `csv:"link" json:"link" yaml:"link"`
}

// NotificationSubscription is one recipient subscribed to one event of
// one flow.
type NotificationSubscription struct {
	ProjectID        string    `csv:"project_id" json:"project_id"`
	ProjectName      string    `csv:"project_name" json:"project_name"`
	ConfigurationID  string    `csv:"configuration_id" json:"configuration_id"`
	FlowName         string    `csv:"flow_name" json:"flow_name"`
	Event            EventType `csv:"event" json:"event"`
	RecipientAddress string    `csv:"recipient_address" json:"recipient_address"`
}

// ConfigurationStatus is the staleness classification of a configuration
// that has at least one run.
type ConfigurationStatus struct {
	ProjectID        string    `json:"project_id"`
	ConfigurationID  string    `json:"configuration_id"`
	LastRunAt        time.Time `json:"last_run_at"`
	LastRunStatus    string    `json:"last_run_status"`
	DaysSinceLastRun int       `json:"days_since_last_run"`
	Activity         Activity  `json:"activity"`
}

// FlowMeta is a known flow with its last-run summary.
type FlowMeta struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	ProjectName     string `json:"project_name" yaml:"project_name"`
	ConfigurationID string `json:"configuration_id" yaml:"configuration_id"`
	FlowName        string `json:"flow_name" yaml:"flow_name"`
	LastRunStatus   string `json:"last_job_status" yaml:"last_job_status"`
	// DaysSinceLastRun is -1 for flows that never ran.
	DaysSinceLastRun int        `json:"days_since_last_job" yaml:"days_since_last_job"`
	LastRunAt        *time.Time `json:"last_run_at,omitempty" yaml:"last_run_at,omitempty"`
	LastRunAgo       string     `json:"last_run_ago" yaml:"last_run_ago"`
	Activity         Activity   `json:"status" yaml:"status"`
	Link             string     `json:"link" yaml:"link"`
}

// NotificationMatrixRow is a known flow with the recipients of each event
// joined into one comma-separated string.
type NotificationMatrixRow struct {
	FlowMeta   `yaml:",inline"`
	Recipients map[EventType]string `json:"-" yaml:"recipients"`
}

// Recipient returns the joined recipients for an event ("" if none).
func (r NotificationMatrixRow) Recipient(e EventType) string {
	return r.Recipients[e]
}

// MarshalJSON flattens the event columns next to the flow fields.
func (r NotificationMatrixRow) MarshalJSON() ([]byte, error) {
	meta, err := json.Marshal(r.FlowMeta)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]json.RawMessage, 16)
	if err := json.Unmarshal(meta, &fields); err != nil {
		return nil, err
	}

	for _, e := range eventTypes {
		v, err := json.Marshal(r.Recipients[e])
		if err != nil {
			return nil, err
		}

		fields[string(e)] = v
	}

	return json.Marshal(fields)
}

// Matrix is the output of BuildMatrix.
type Matrix struct {
	Rows []NotificationMatrixRow `json:"rows"`
	// Unrecognized holds subscriptions whose event is not one of the
	// known event types. They are not part of any row.
	Unrecognized []NotificationSubscription `json:"unrecognized,omitempty"`
}
