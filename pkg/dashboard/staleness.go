package dashboard

import "time"

const day = 24 * time.Hour

// FilterOrchestrations keeps the configurations the dashboard tracks:
// non-deleted orchestrator flows on the default branch.
func FilterOrchestrations(configs []JobConfiguration) []JobConfiguration {
	out := make([]JobConfiguration, 0, len(configs))

	for _, c := range configs {
		if c.Deleted ||
			c.ComponentID != OrchestratorComponentID ||
			c.BranchType != BranchTypeDefault {
			continue
		}

		out = append(out, c)
	}

	return out
}

// Classify computes one status per configuration that has at least one
// run. The latest run of each configuration wins; on equal timestamps the
// run seen first is kept. Configurations are identified by project and
// configuration id. Output is ordered by first appearance in runs.
//
// A configuration is inactive when more than thresholdDays whole days
// passed between its latest run and now. A negative threshold selects
// DefaultStalenessThresholdDays.
func Classify(runs []JobRun, thresholdDays int, now time.Time) []ConfigurationStatus {
	if thresholdDays < 0 {
		thresholdDays = DefaultStalenessThresholdDays
	}

	latest := maxBy(runs,
		func(r JobRun) flowKey { return flowKey{r.ProjectID, r.ConfigurationID} },
		func(a, b JobRun) bool { return a.CreatedAt.After(b.CreatedAt) },
	)

	out := make([]ConfigurationStatus, 0, len(latest))

	for _, run := range latest {
		days := elapsedDays(now, run.CreatedAt)

		activity := ActivityActive
		if days > thresholdDays {
			activity = ActivityInactive
		}

		out = append(out, ConfigurationStatus{
			ProjectID:        run.ProjectID,
			ConfigurationID:  run.ConfigurationID,
			LastRunAt:        run.CreatedAt,
			LastRunStatus:    run.Status,
			DaysSinceLastRun: days,
			Activity:         activity,
		})
	}

	return out
}

// ClassifyConfigurations classifies only runs that belong to one of the
// given configurations.
func ClassifyConfigurations(
	configs []JobConfiguration,
	runs []JobRun,
	thresholdDays int,
	now time.Time,
) []ConfigurationStatus {
	known := make(map[flowKey]struct{}, len(configs))
	for _, c := range configs {
		known[flowKey{c.ProjectID, c.ID}] = struct{}{}
	}

	scoped := make([]JobRun, 0, len(runs))

	for _, r := range runs {
		if _, ok := known[flowKey{r.ProjectID, r.ConfigurationID}]; ok {
			scoped = append(scoped, r)
		}
	}

	return Classify(scoped, thresholdDays, now)
}

// elapsedDays returns the whole days between then and now, rounded
// towards negative infinity.
func elapsedDays(now, then time.Time) int {
	d := now.Sub(then)

	n := d / day
	if d%day < 0 {
		n--
	}

	return int(n)
}

// maxBy reduces items to the greatest item per key, where greater reports
// whether a should replace b. Results are ordered by first key appearance.
func maxBy[T any, K comparable](items []T, key func(T) K, greater func(a, b T) bool) []T {
	index := make(map[K]int, len(items))
	out := make([]T, 0, len(items))

	for _, item := range items {
		k := key(item)

		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, item)

			continue
		}

		if greater(item, out[i]) {
			out[i] = item
		}
	}

	return out
}
