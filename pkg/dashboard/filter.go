package dashboard

import "time"

// Selection is a set of accepted values. An empty selection accepts
// everything.
type Selection []string

// Allows reports whether v passes the selection.
func (s Selection) Allows(v string) bool {
	if len(s) == 0 {
		return true
	}

	for _, want := range s {
		if want == v {
			return true
		}
	}

	return false
}

// RunFilter selects rows of the flow runs table.
type RunFilter struct {
	Projects Selection
	Statuses Selection
	Flows    Selection
	// From and To bound the run date (inclusive). Zero values are open.
	From time.Time
	To   time.Time
}

// FilterRuns returns the runs matching f, keeping input order. Dates are
// compared on the calendar day of the run in the location of From/To.
func FilterRuns(runs []JobRun, f RunFilter) []JobRun {
	out := make([]JobRun, 0, len(runs))

	for _, r := range runs {
		if !f.Projects.Allows(r.ProjectName) ||
			!f.Statuses.Allows(r.Status) ||
			!f.Flows.Allows(r.FlowName) {
			continue
		}

		if !f.From.IsZero() && dateOf(r.CreatedAt, f.From.Location()).Before(dateOf(f.From, f.From.Location())) {
			continue
		}

		if !f.To.IsZero() && dateOf(r.CreatedAt, f.To.Location()).After(dateOf(f.To, f.To.Location())) {
			continue
		}

		out = append(out, r)
	}

	return out
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)

	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// RunFacets lists the distinct filter values of a runs table.
type RunFacets struct {
	Projects []string   `json:"projects"`
	Statuses []string   `json:"statuses"`
	Flows    []string   `json:"flows"`
	MinDate  *time.Time `json:"min_date,omitempty"`
	MaxDate  *time.Time `json:"max_date,omitempty"`
}

// FacetRuns collects distinct projects, statuses and flows in order of
// first appearance, plus the earliest and latest run time.
func FacetRuns(runs []JobRun) RunFacets {
	var (
		projects, statuses, flows distinct
		facets                    RunFacets
	)

	for i := range runs {
		r := &runs[i]
		projects.add(r.ProjectName)
		statuses.add(r.Status)
		flows.add(r.FlowName)

		if facets.MinDate == nil || r.CreatedAt.Before(*facets.MinDate) {
			facets.MinDate = &r.CreatedAt
		}

		if facets.MaxDate == nil || r.CreatedAt.After(*facets.MaxDate) {
			facets.MaxDate = &r.CreatedAt
		}
	}

	facets.Projects = projects.values()
	facets.Statuses = statuses.values()
	facets.Flows = flows.values()

	return facets
}

// FlowFilter selects rows of the flows table.
type FlowFilter struct {
	Projects   Selection
	Activities Selection
}

// FilterFlows returns the flows matching f, keeping input order.
func FilterFlows(flows []FlowMeta, f FlowFilter) []FlowMeta {
	out := make([]FlowMeta, 0, len(flows))

	for _, flow := range flows {
		if f.Projects.Allows(flow.ProjectName) &&
			f.Activities.Allows(string(flow.Activity)) {
			out = append(out, flow)
		}
	}

	return out
}

// MatrixFilter selects rows of the notification matrix.
type MatrixFilter struct {
	Projects         Selection
	Activities       Selection
	LastRunStatuses  Selection
	FailedRecipients Selection
}

// FilterMatrix returns the rows matching f, keeping input order.
func FilterMatrix(rows []NotificationMatrixRow, f MatrixFilter) []NotificationMatrixRow {
	out := make([]NotificationMatrixRow, 0, len(rows))

	for _, row := range rows {
		if f.Projects.Allows(row.ProjectName) &&
			f.Activities.Allows(string(row.Activity)) &&
			f.LastRunStatuses.Allows(row.LastRunStatus) &&
			f.FailedRecipients.Allows(row.Recipient(EventJobFailed)) {
			out = append(out, row)
		}
	}

	return out
}

// MatrixFacets lists the distinct filter values of the notification matrix.
type MatrixFacets struct {
	Projects         []string `json:"projects"`
	Activities       []string `json:"statuses"`
	LastRunStatuses  []string `json:"last_job_statuses"`
	FailedRecipients []string `json:"failed_recipients"`
}

// FacetMatrix collects distinct filter values in order of first appearance.
func FacetMatrix(rows []NotificationMatrixRow) MatrixFacets {
	var projects, activities, statuses, failed distinct

	for _, row := range rows {
		projects.add(row.ProjectName)
		activities.add(string(row.Activity))
		statuses.add(row.LastRunStatus)
		failed.add(row.Recipient(EventJobFailed))
	}

	return MatrixFacets{
		Projects:         projects.values(),
		Activities:       activities.values(),
		LastRunStatuses:  statuses.values(),
		FailedRecipients: failed.values(),
	}
}

type distinct struct {
	seen  map[string]struct{}
	order []string
}

func (d *distinct) add(v string) {
	if d.seen == nil {
		d.seen = make(map[string]struct{}, 8)
	}

	if _, ok := d.seen[v]; ok {
		return
	}

	d.seen[v] = struct{}{}
	d.order = append(d.order, v)
}

func (d *distinct) values() []string {
	if d.order == nil {
		return []string{}
	}

	return d.order
}
