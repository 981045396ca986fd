package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethpandaops/flowwatch/pkg/config"
	"github.com/ethpandaops/flowwatch/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	configsCSV = "configuration_id,project_id,project_name,configuration_name,component_id,branch_type,is_deleted,link\n" +
		"cfg1,1,Alpha,Nightly,keboola.orchestrator,default,false,https://x/cfg1\n"
	runsCSV = "job_run_id,configuration_id,project_id,project_name,component_name,job_status,job_created_at,link\n" +
		"101,cfg1,1,Alpha,Nightly,success,2024-06-01 10:30:00,https://x/101\n"
	subsCSV = "project_id,project_name,configuration_id,flow_name,event,recipient_address\n" +
		"1,Alpha,cfg1,Nightly,job-failed,a@x.com\n"
)

type fakeReader struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   map[string]*atomic.Int64
	delay   time.Duration
	err     error

	// started receives the object name on every call when set; block
	// holds calls until closed or the call context ends.
	started chan string
	block   chan struct{}
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		objects: map[string][]byte{
			"flow_configurations.csv": []byte(configsCSV),
			"flow_jobs.csv":           []byte(runsCSV),
			"components_notif.csv":    []byte(subsCSV),
		},
		calls: map[string]*atomic.Int64{},
	}
}

func (f *fakeReader) counter(name string) *atomic.Int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.calls[name]
	if !ok {
		c = &atomic.Int64{}
		f.calls[name] = c
	}

	return c
}

func (f *fakeReader) GetObject(ctx context.Context, name string) ([]byte, error) {
	f.counter(name).Add(1)

	if f.started != nil {
		f.started <- name
	}

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if f.err != nil {
		return nil, f.err
	}

	data, ok := f.objects[name]
	if !ok {
		return nil, fmt.Errorf("reading %s: %w", name, storage.ErrNotFound)
	}

	return data, nil
}

func (f *fakeReader) Describe() string { return "fake" }

func testTables() config.TablesConfig {
	return config.TablesConfig{
		Configurations: config.DefaultConfigurationsTable,
		Runs:           config.DefaultRunsTable,
		Subscriptions:  config.DefaultSubscriptionsTable,
	}
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestLoader_Load(t *testing.T) {
	reader := newFakeReader()
	loader := NewLoader(testLogger(), reader, testTables(), time.Minute)

	snap, err := loader.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Configurations, 1)
	require.Len(t, snap.Runs, 1)
	require.Len(t, snap.Subscriptions, 1)
	assert.Equal(t, "cfg1", snap.Configurations[0].ID)
	assert.Equal(t, "101", snap.Runs[0].ID)
	assert.Equal(t, "a@x.com", snap.Subscriptions[0].RecipientAddress)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestLoader_CachesWithinTTL(t *testing.T) {
	reader := newFakeReader()
	loader := NewLoader(testLogger(), reader, testTables(), time.Minute)

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	loader.now = func() time.Time { return now }

	ctx := context.Background()

	_, err := loader.Load(ctx)
	require.NoError(t, err)

	_, err = loader.LoadRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reader.counter("flow_jobs.csv").Load())

	now = now.Add(2 * time.Minute)

	_, err = loader.LoadRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reader.counter("flow_jobs.csv").Load(), "expired entry refetched")

	loader.Invalidate()

	_, err = loader.LoadRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), reader.counter("flow_jobs.csv").Load(), "invalidated entry refetched")
}

func TestLoader_ZeroTTLDisablesCache(t *testing.T) {
	reader := newFakeReader()
	loader := NewLoader(testLogger(), reader, testTables(), 0)

	ctx := context.Background()

	for range 3 {
		_, err := loader.LoadRuns(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), reader.counter("flow_jobs.csv").Load())
}

func TestLoader_ConcurrentMissesShareFetch(t *testing.T) {
	reader := newFakeReader()
	reader.delay = 50 * time.Millisecond
	loader := NewLoader(testLogger(), reader, testTables(), time.Minute)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := loader.LoadRuns(context.Background())
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(1), reader.counter("flow_jobs.csv").Load())
}

func TestLoader_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	reader := newFakeReader()
	reader.started = make(chan string, 8)
	reader.block = make(chan struct{})
	loader := NewLoader(testLogger(), reader, testTables(), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)

	go func() {
		_, err := loader.LoadRuns(ctx)
		firstErr <- err
	}()

	require.Equal(t, "flow_jobs.csv", <-reader.started)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	secondErr := make(chan error, 1)

	go func() {
		runs, err := loader.LoadRuns(context.Background())
		if err == nil && len(runs) != 1 {
			err = fmt.Errorf("got %d runs", len(runs))
		}
		secondErr <- err
	}()

	close(reader.block)
	require.NoError(t, <-secondErr)

	assert.Equal(t, int64(1), reader.counter("flow_jobs.csv").Load())
}

func TestLoader_FetchError(t *testing.T) {
	reader := newFakeReader()
	delete(reader.objects, "components_notif.csv")

	loader := NewLoader(testLogger(), reader, testTables(), time.Minute)

	_, err := loader.Load(context.Background())
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, config.DefaultSubscriptionsTable, fetchErr.Table)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoader_ParseErrorIsNotCached(t *testing.T) {
	reader := newFakeReader()
	reader.objects["flow_jobs.csv"] = []byte("job_run_id\n1\n")

	loader := NewLoader(testLogger(), reader, testTables(), time.Minute)

	_, err := loader.LoadRuns(context.Background())

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)

	reader.objects["flow_jobs.csv"] = []byte(runsCSV)

	runs, err := loader.LoadRuns(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestLoader_RefreshKeepsCacheOnFailure(t *testing.T) {
	reader := newFakeReader()
	loader := NewLoader(testLogger(), reader, testTables(), time.Hour)
	ctx := context.Background()

	_, err := loader.Load(ctx)
	require.NoError(t, err)

	reader.objects["flow_jobs.csv"] = []byte(runsCSV +
		"102,cfg1,1,Alpha,Nightly,error,2024-06-02 10:30:00,https://x/102\n")

	snap, err := loader.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Runs, 2)
	assert.Equal(t, int64(2), reader.counter("flow_jobs.csv").Load())

	runs, err := loader.LoadRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2, "refresh replaced the cached table")

	reader.err = errors.New("bucket unavailable")

	_, err = loader.Refresh(ctx)
	require.Error(t, err)

	runs, err = loader.LoadRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2, "failed refresh keeps serving the cached table")
}

func TestRefresher_WarmsCache(t *testing.T) {
	reader := newFakeReader()
	loader := NewLoader(testLogger(), reader, testTables(), time.Hour)

	r := NewRefresher(testLogger(), loader, time.Hour)
	require.NoError(t, r.Start(context.Background()))

	require.Eventually(t, func() bool {
		for _, table := range []string{
			config.DefaultConfigurationsTable,
			config.DefaultRunsTable,
			config.DefaultSubscriptionsTable,
		} {
			if _, ok := loader.cached(table); !ok {
				return false
			}
		}

		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop(), "stop is idempotent")

	_, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), reader.counter("flow_jobs.csv").Load(), "served from the warmed cache")
}
