package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/flowwatch/pkg/api/store"
	"github.com/ethpandaops/flowwatch/pkg/config"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestStore_RecordAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	records := []*store.DispatchRecord{
		{
			ProjectID: "1", ConfigurationID: "cfg1", Event: "job-failed",
			Recipient: "a@x.com", Outcome: "success", StatusCode: 201,
			CreatedAt: base,
		},
		{
			ProjectID: "2", ConfigurationID: "cfg2", Event: "job-failed",
			Recipient: "a@x.com", Outcome: "failure", StatusCode: 500,
			Message: "boom", CreatedAt: base.Add(time.Minute),
		},
		{
			ProjectID: "1", ConfigurationID: "cfg3", Event: "job-succeeded",
			Recipient: "b@x.com", Outcome: "success", StatusCode: 201,
			CreatedAt: base.Add(2 * time.Minute),
		},
	}

	for _, rec := range records {
		require.NoError(t, s.RecordDispatch(ctx, rec))
		assert.NotZero(t, rec.ID)
	}

	all, err := s.ListDispatches(ctx, store.DispatchQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "cfg3", all[0].ConfigurationID, "newest first")
	assert.Equal(t, "cfg1", all[2].ConfigurationID)

	project1, err := s.ListDispatches(ctx, store.DispatchQuery{ProjectID: "1"})
	require.NoError(t, err)
	assert.Len(t, project1, 2)

	failures, err := s.ListDispatches(ctx, store.DispatchQuery{Outcome: "failure"})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "boom", failures[0].Message)
	assert.Equal(t, 500, failures[0].StatusCode)

	limited, err := s.ListDispatches(ctx, store.DispatchQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "cfg3", limited[0].ConfigurationID)
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := store.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
	assert.NoError(t, s.Stop())
}
