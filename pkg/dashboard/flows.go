package dashboard

import (
	"time"

	"github.com/docker/go-units"
)

// NoRunsDays is the DaysSinceLastRun value of flows that never ran.
const NoRunsDays = -1

// AssembleFlows left-joins statuses onto configs, producing one FlowMeta
// per configuration in input order. Configurations without a status are
// inactive and carry NoRunsDays. now is only used for the human readable
// last-run age.
func AssembleFlows(
	configs []JobConfiguration,
	statuses []ConfigurationStatus,
	now time.Time,
) []FlowMeta {
	byID := make(map[flowKey]ConfigurationStatus, len(statuses))
	for _, s := range statuses {
		byID[flowKey{s.ProjectID, s.ConfigurationID}] = s
	}

	flows := make([]FlowMeta, 0, len(configs))

	for _, c := range configs {
		flow := FlowMeta{
			ProjectID:        c.ProjectID,
			ProjectName:      c.ProjectName,
			ConfigurationID:  c.ID,
			FlowName:         c.Name,
			DaysSinceLastRun: NoRunsDays,
			LastRunAgo:       "never",
			Activity:         ActivityInactive,
			Link:             c.Link,
		}

		if s, ok := byID[flowKey{c.ProjectID, c.ID}]; ok {
			lastRunAt := s.LastRunAt
			flow.LastRunStatus = s.LastRunStatus
			flow.DaysSinceLastRun = s.DaysSinceLastRun
			flow.LastRunAt = &lastRunAt
			flow.LastRunAgo = humanAgo(now, lastRunAt)
			flow.Activity = s.Activity
		}

		flows = append(flows, flow)
	}

	return flows
}

func humanAgo(now, then time.Time) string {
	d := now.Sub(then)
	if d < 0 {
		return "in the future"
	}

	return units.HumanDuration(d) + " ago"
}

// BuildFlows runs the whole flows pipeline: keep tracked configurations,
// classify their runs and left-join the result.
func BuildFlows(
	configs []JobConfiguration,
	runs []JobRun,
	thresholdDays int,
	now time.Time,
) []FlowMeta {
	tracked := FilterOrchestrations(configs)
	statuses := ClassifyConfigurations(tracked, runs, thresholdDays, now)

	return AssembleFlows(tracked, statuses, now)
}
