package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethpandaops/flowwatch/pkg/config"
	"github.com/ethpandaops/flowwatch/pkg/dashboard"
	"github.com/sirupsen/logrus"
)

const (
	credentialHeader = "X-StorageApi-Token"
	maxResponseBytes = 64 << 10
)

// Outcome is the result class of one subscription request.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Result describes one subscription request. Message carries the raw
// response body or the transport error text on failure.
type Result struct {
	Outcome    Outcome `json:"outcome"`
	StatusCode int     `json:"status_code,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// Target identifies the flow a subscription is created for.
type Target struct {
	ProjectID       string `json:"project_id"`
	ConfigurationID string `json:"configuration_id"`
}

// RowOutcome pairs a batch target with its result.
type RowOutcome struct {
	Target
	Result
}

// Record is one dispatched request as handed to a Recorder.
type Record struct {
	Event     dashboard.EventType
	Recipient string
	Target    Target
	Result    Result
	At        time.Time
}

// Recorder persists dispatch records. Recording failures are logged and
// never fail the dispatch.
type Recorder interface {
	RecordDispatch(ctx context.Context, rec Record) error
}

// Dispatcher sends subscription create requests.
type Dispatcher struct {
	log      logrus.FieldLogger
	endpoint string
	client   *http.Client
	creds    CredentialSource
	recorder Recorder
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder records every dispatch outcome.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithCredentials overrides the credential source built from config.
func WithCredentials(c CredentialSource) Option {
	return func(d *Dispatcher) { d.creds = c }
}

// NewDispatcher creates a Dispatcher from notification settings.
func NewDispatcher(
	log logrus.FieldLogger,
	cfg *config.NotificationsConfig,
	opts ...Option,
) (*Dispatcher, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, fmt.Errorf("parsing notification timeout: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = config.DefaultNotificationEndpoint
	}

	d := &Dispatcher{
		log:      log.WithField("component", "notify"),
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		creds:    StaticCredentials(cfg.ProjectTokens),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Send creates one subscription. It never retries.
func (d *Dispatcher) Send(
	ctx context.Context,
	event dashboard.EventType,
	configurationID, email, credential string,
) Result {
	body, err := json.Marshal(NewPayload(event, configurationID, email))
	if err != nil {
		return failure(0, fmt.Sprintf("encoding payload: %v", err))
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, d.endpoint, bytes.NewReader(body),
	)
	if err != nil {
		return failure(0, fmt.Sprintf("creating request: %v", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(credentialHeader, credential)

	resp, err := d.client.Do(req)
	if err != nil {
		return failure(0, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failure(resp.StatusCode, fmt.Sprintf("reading response: %v", err))
	}

	if resp.StatusCode != http.StatusCreated {
		return failure(resp.StatusCode, string(respBody))
	}

	return Result{Outcome: OutcomeSuccess, StatusCode: resp.StatusCode}
}

// DispatchBatch creates the same subscription for every target, in order.
// A failed row never stops the batch; a cancelled context does, and the
// remaining rows report the context error.
func (d *Dispatcher) DispatchBatch(
	ctx context.Context,
	event dashboard.EventType,
	email string,
	targets []Target,
) []RowOutcome {
	outcomes := make([]RowOutcome, 0, len(targets))

	for _, target := range targets {
		var result Result

		switch token, ok := d.creds.Credential(target.ProjectID); {
		case ctx.Err() != nil:
			result = failure(0, ctx.Err().Error())
		case !ok:
			result = failure(0, fmt.Sprintf(
				"no credential configured for project %q", target.ProjectID,
			))
		default:
			result = d.Send(ctx, event, target.ConfigurationID, email, token)
		}

		d.log.WithFields(logrus.Fields{
			"event":            event,
			"project_id":       target.ProjectID,
			"configuration_id": target.ConfigurationID,
			"outcome":          result.Outcome,
			"status_code":      result.StatusCode,
		}).Info("Subscription dispatched")

		d.record(ctx, Record{
			Event:     event,
			Recipient: email,
			Target:    target,
			Result:    result,
			At:        d.now().UTC(),
		})

		outcomes = append(outcomes, RowOutcome{Target: target, Result: result})
	}

	return outcomes
}

func (d *Dispatcher) record(ctx context.Context, rec Record) {
	if d.recorder == nil {
		return
	}

	// Record even when the batch was cancelled.
	if err := d.recorder.RecordDispatch(context.WithoutCancel(ctx), rec); err != nil {
		d.log.WithError(err).Warn("Failed to record dispatch")
	}
}

func failure(status int, msg string) Result {
	return Result{Outcome: OutcomeFailure, StatusCode: status, Message: msg}
}

// Count returns the number of successes and failures in outcomes.
func Count(outcomes []RowOutcome) (succeeded, failed int) {
	for _, o := range outcomes {
		if o.Outcome == OutcomeSuccess {
			succeeded++
		} else {
			failed++
		}
	}

	return succeeded, failed
}
