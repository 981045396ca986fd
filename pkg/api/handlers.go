package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/flowwatch/pkg/api/store"
	"github.com/ethpandaops/flowwatch/pkg/dashboard"
	"github.com/ethpandaops/flowwatch/pkg/export"
	"github.com/ethpandaops/flowwatch/pkg/notify"
)

const (
	dateLayout          = "2006-01-02"
	activityAll         = "all"
	maxSubscriptionBody = 1 << 20
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeLoadError maps export failures to a status code. The error text is
// passed through so the operator sees which table failed and why.
func (s *server) writeLoadError(w http.ResponseWriter, err error) {
	var (
		fetchErr *export.FetchError
		parseErr *export.ParseError
		status   = http.StatusInternalServerError
	)

	switch {
	case errors.As(err, &fetchErr):
		status = http.StatusBadGateway
	case errors.As(err, &parseErr):
		status = http.StatusUnprocessableEntity
	}

	s.log.WithError(err).WithField("status", status).
		Error("Failed to load table exports")

	writeJSON(w, status, errorResponse{err.Error()})
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig returns the dashboard settings the UI needs.
func (s *server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	dispatchEvents := []dashboard.EventType{}
	if s.dispatcher != nil {
		dispatchEvents = notify.DispatchEvents()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dashboard": map[string]any{
			"staleness_threshold_days": s.cfg.Dashboard.StalenessThresholdDays,
			"event_types":              dashboard.EventTypes(),
		},
		"tables": map[string]string{
			"configurations": s.cfg.Tables.Configurations,
			"runs":           s.cfg.Tables.Runs,
			"subscriptions":  s.cfg.Tables.Subscriptions,
		},
		"storage": map[string]any{
			"backend": s.cfg.StorageBackend(),
		},
		"notifications": map[string]any{
			"enabled": s.dispatcher != nil,
			"events":  dispatchEvents,
		},
		"audit": map[string]any{
			"enabled": s.store != nil,
		},
	})
}

type runsResponse struct {
	Rows   []dashboard.JobRun  `json:"rows"`
	Total  int                 `json:"total"`
	Facets dashboard.RunFacets `json:"facets"`
}

// handleRuns serves the flow runs table.
func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseDate(q.Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid from: " + err.Error()})

		return
	}

	to, err := parseDate(q.Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid to: " + err.Error()})

		return
	}

	runs, err := s.loader.LoadRuns(r.Context())
	if err != nil {
		s.writeLoadError(w, err)

		return
	}

	rows := dashboard.FilterRuns(runs, dashboard.RunFilter{
		Projects: selection(q["project"]),
		Statuses: selection(q["status"]),
		Flows:    selection(q["flow"]),
		From:     from,
		To:       to,
	})

	writeJSON(w, http.StatusOK, runsResponse{
		Rows:   rows,
		Total:  len(runs),
		Facets: dashboard.FacetRuns(runs),
	})
}

type flowsResponse struct {
	Rows      []dashboard.FlowMeta `json:"rows"`
	Total     int                  `json:"total"`
	FetchedAt time.Time            `json:"fetched_at"`
}

// handleFlows serves the known flows with their staleness classification.
func (s *server) handleFlows(w http.ResponseWriter, r *http.Request) {
	snap, err := s.loader.Load(r.Context())
	if err != nil {
		s.writeLoadError(w, err)

		return
	}

	q := r.URL.Query()
	flows := s.buildFlows(snap)

	writeJSON(w, http.StatusOK, flowsResponse{
		Rows: dashboard.FilterFlows(flows, dashboard.FlowFilter{
			Projects:   selection(q["project"]),
			Activities: activitySelection(q["activity"], nil),
		}),
		Total:     len(flows),
		FetchedAt: snap.FetchedAt,
	})
}

type notificationsResponse struct {
	Rows         []dashboard.NotificationMatrixRow `json:"rows"`
	Total        int                               `json:"total"`
	Events       []dashboard.EventType             `json:"events"`
	Facets       dashboard.MatrixFacets            `json:"facets"`
	Unrecognized int                               `json:"unrecognized_subscriptions"`
	FetchedAt    time.Time                         `json:"fetched_at"`
}

// handleNotifications serves the notification matrix. Only active flows
// are listed unless activity is given.
func (s *server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	snap, err := s.loader.Load(r.Context())
	if err != nil {
		s.writeLoadError(w, err)

		return
	}

	matrix := dashboard.BuildMatrix(snap.Subscriptions, s.buildFlows(snap))

	if n := len(matrix.Unrecognized); n > 0 {
		s.log.WithField("count", n).
			Warn("Ignoring subscriptions with unrecognized events")
	}

	q := r.URL.Query()

	writeJSON(w, http.StatusOK, notificationsResponse{
		Rows: dashboard.FilterMatrix(matrix.Rows, dashboard.MatrixFilter{
			Projects: selection(q["project"]),
			Activities: activitySelection(
				q["activity"], dashboard.Selection{string(dashboard.ActivityActive)},
			),
			LastRunStatuses:  selection(q["last_status"]),
			FailedRecipients: rawSelection(q["failed_recipients"]),
		}),
		Total:        len(matrix.Rows),
		Events:       dashboard.EventTypes(),
		Facets:       dashboard.FacetMatrix(matrix.Rows),
		Unrecognized: len(matrix.Unrecognized),
		FetchedAt:    snap.FetchedAt,
	})
}

type subscriptionRequest struct {
	Event   dashboard.EventType `json:"event"`
	Email   string              `json:"email"`
	Targets []notify.Target     `json:"targets"`
}

type subscriptionResponse struct {
	Event     dashboard.EventType `json:"event"`
	Email     string              `json:"email"`
	Results   []notify.RowOutcome `json:"results"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

// handleCreateSubscriptions subscribes one address to one event for every
// selected flow. Partial failure is reported per row with status 200.
func (s *server) handleCreateSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{"subscription dispatch is disabled"})

		return
	}

	var req subscriptionRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubscriptionBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body: " + err.Error()})

		return
	}

	req.Email = strings.TrimSpace(req.Email)

	if err := validateSubscriptionRequest(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	results := s.dispatcher.DispatchBatch(r.Context(), req.Event, req.Email, req.Targets)
	succeeded, failed := notify.Count(results)

	s.log.WithField("event", req.Event).
		WithField("targets", len(req.Targets)).
		WithField("succeeded", succeeded).
		WithField("failed", failed).
		Info("Subscription batch finished")

	writeJSON(w, http.StatusOK, subscriptionResponse{
		Event:     req.Event,
		Email:     req.Email,
		Results:   results,
		Succeeded: succeeded,
		Failed:    failed,
	})
}

func validateSubscriptionRequest(req *subscriptionRequest) error {
	if err := notify.ValidateDispatchEvent(req.Event); err != nil {
		return err
	}

	if err := notify.ValidateAddress(req.Email); err != nil {
		return err
	}

	if len(req.Targets) == 0 {
		return errors.New("at least one target is required")
	}

	for i, t := range req.Targets {
		if strings.TrimSpace(t.ProjectID) == "" || strings.TrimSpace(t.ConfigurationID) == "" {
			return fmt.Errorf("targets[%d]: project_id and configuration_id are required", i)
		}
	}

	return nil
}

// handleDispatches lists the dispatch audit log.
func (s *server) handleDispatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid limit"})

			return
		}

		limit = n
	}

	records, err := s.store.ListDispatches(r.Context(), store.DispatchQuery{
		ProjectID: q.Get("project_id"),
		Outcome:   q.Get("outcome"),
		Limit:     limit,
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to list dispatches")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"rows": records})
}

// handleInvalidateCache drops cached exports so the next read refetches.
func (s *server) handleInvalidateCache(w http.ResponseWriter, _ *http.Request) {
	s.loader.Invalidate()

	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (s *server) buildFlows(snap *export.Snapshot) []dashboard.FlowMeta {
	return dashboard.BuildFlows(
		snap.Configurations,
		snap.Runs,
		s.cfg.Dashboard.StalenessThresholdDays,
		s.now(),
	)
}

// selection builds a filter from repeated and comma-separated query values.
func selection(values []string) dashboard.Selection {
	var out dashboard.Selection

	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}

	return out
}

// rawSelection keeps each value whole. Joined recipient lists contain
// commas, and the empty string selects flows without recipients.
func rawSelection(values []string) dashboard.Selection {
	if len(values) == 0 {
		return nil
	}

	out := make(dashboard.Selection, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}

	return out
}

// activitySelection applies def when no activity is given. "all"
// disables the filter.
func activitySelection(values []string, def dashboard.Selection) dashboard.Selection {
	sel := selection(values)

	if len(sel) == 0 {
		return def
	}

	for _, v := range sel {
		if v == activityAll {
			return nil
		}
	}

	return sel
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}

	return time.ParseInLocation(dateLayout, v, time.UTC)
}
