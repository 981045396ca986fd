package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orchestration(id, projectID, name string) JobConfiguration {
	return JobConfiguration{
		ID:          id,
		ProjectID:   projectID,
		ProjectName: "project-" + projectID,
		Name:        name,
		ComponentID: OrchestratorComponentID,
		BranchType:  BranchTypeDefault,
		Link:        "https://connection.example.com/" + id,
	}
}

func TestAssembleFlows_LeftJoinDefaultsInactive(t *testing.T) {
	configs := []JobConfiguration{
		orchestration("cfg1", "1", "Nightly"),
		orchestration("cfg3", "1", "Never ran"),
	}
	statuses := []ConfigurationStatus{{
		ProjectID:        "1",
		ConfigurationID:  "cfg1",
		LastRunAt:        daysAgo(5),
		LastRunStatus:    "success",
		DaysSinceLastRun: 5,
		Activity:         ActivityActive,
	}}

	flows := AssembleFlows(configs, statuses, testNow)
	require.Len(t, flows, 2)

	assert.Equal(t, "cfg1", flows[0].ConfigurationID)
	assert.Equal(t, ActivityActive, flows[0].Activity)
	assert.Equal(t, "success", flows[0].LastRunStatus)
	assert.Equal(t, 5, flows[0].DaysSinceLastRun)
	require.NotNil(t, flows[0].LastRunAt)
	assert.Equal(t, daysAgo(5), *flows[0].LastRunAt)
	assert.Equal(t, "5 days ago", flows[0].LastRunAgo)
	assert.Equal(t, "Nightly", flows[0].FlowName)
	assert.Equal(t, "https://connection.example.com/cfg1", flows[0].Link)

	assert.Equal(t, "cfg3", flows[1].ConfigurationID)
	assert.Equal(t, ActivityInactive, flows[1].Activity)
	assert.Equal(t, "", flows[1].LastRunStatus)
	assert.Equal(t, NoRunsDays, flows[1].DaysSinceLastRun)
	assert.Nil(t, flows[1].LastRunAt)
	assert.Equal(t, "never", flows[1].LastRunAgo)
}

func TestBuildFlows(t *testing.T) {
	configs := []JobConfiguration{
		orchestration("cfg1", "1", "Recent"),
		orchestration("cfg2", "1", "Stale"),
		orchestration("cfg3", "2", "Idle"),
		{ID: "gone", ComponentID: OrchestratorComponentID, BranchType: BranchTypeDefault, Deleted: true},
	}
	runs := []JobRun{
		projectRun("r1", "1", "cfg1", daysAgo(40), "error"),
		projectRun("r2", "1", "cfg1", daysAgo(5), "success"),
		projectRun("r3", "1", "cfg2", daysAgo(31), "success"),
		projectRun("r4", "", "gone", daysAgo(1), "success"),
	}

	flows := BuildFlows(configs, runs, 30, testNow)
	require.Len(t, flows, 3)

	got := make(map[string]FlowMeta, len(flows))
	for _, f := range flows {
		got[f.ConfigurationID] = f
	}

	assert.Equal(t, ActivityActive, got["cfg1"].Activity)
	assert.Equal(t, 5, got["cfg1"].DaysSinceLastRun)
	assert.Equal(t, ActivityInactive, got["cfg2"].Activity)
	assert.Equal(t, 31, got["cfg2"].DaysSinceLastRun)
	assert.Equal(t, ActivityInactive, got["cfg3"].Activity)
	assert.Equal(t, NoRunsDays, got["cfg3"].DaysSinceLastRun)
	assert.NotContains(t, got, "gone")
}

func TestBuildFlows_SharedConfigurationIDAcrossProjects(t *testing.T) {
	configs := []JobConfiguration{
		orchestration("shared", "1", "Alpha flow"),
		orchestration("shared", "2", "Beta flow"),
	}
	runs := []JobRun{
		projectRun("r1", "1", "shared", daysAgo(3), "success"),
		projectRun("r2", "2", "shared", daysAgo(50), "error"),
	}

	flows := BuildFlows(configs, runs, 30, testNow)
	require.Len(t, flows, 2)

	assert.Equal(t, "1", flows[0].ProjectID)
	assert.Equal(t, ActivityActive, flows[0].Activity)
	assert.Equal(t, "success", flows[0].LastRunStatus)
	assert.Equal(t, 3, flows[0].DaysSinceLastRun)

	assert.Equal(t, "2", flows[1].ProjectID)
	assert.Equal(t, ActivityInactive, flows[1].Activity)
	assert.Equal(t, "error", flows[1].LastRunStatus)
	assert.Equal(t, 50, flows[1].DaysSinceLastRun)
}
