package export

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/flowwatch/pkg/config"
	"github.com/ethpandaops/flowwatch/pkg/dashboard"
	"github.com/ethpandaops/flowwatch/pkg/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// fetchTimeout bounds one shared table fetch.
const fetchTimeout = 2 * time.Minute

// Snapshot is one consistent read of the three table exports. Its slices
// may be shared with the loader cache and must be treated as read-only.
type Snapshot struct {
	Configurations []dashboard.JobConfiguration
	Runs           []dashboard.JobRun
	Subscriptions  []dashboard.NotificationSubscription
	// FetchedAt is when the oldest of the three tables was fetched.
	FetchedAt time.Time
}

// Loader fetches and decodes table exports from storage, memoizing each
// decoded table for a TTL.
type Loader struct {
	log    logrus.FieldLogger
	reader storage.Reader
	tables config.TablesConfig
	ttl    time.Duration
	now    func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     any
	fetchedAt time.Time
}

// NewLoader creates a Loader. A ttl of zero disables caching.
func NewLoader(
	log logrus.FieldLogger,
	reader storage.Reader,
	tables config.TablesConfig,
	ttl time.Duration,
) *Loader {
	return &Loader{
		log:     log.WithField("component", "export-loader"),
		reader:  reader,
		tables:  tables,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry, 3),
	}
}

// ObjectName maps a table id such as "out.c-notifications.flow_jobs" to
// the export object "flow_jobs.csv".
func ObjectName(tableID string) string {
	if strings.HasSuffix(tableID, ".csv") {
		return tableID
	}

	if i := strings.LastIndex(tableID, "."); i >= 0 {
		tableID = tableID[i+1:]
	}

	return tableID + ".csv"
}

// Load fetches all three tables concurrently.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	return l.load(ctx, false)
}

// Refresh refetches all three tables, bypassing the cache. Cached tables
// are replaced only when the fetch and decode succeed.
func (l *Loader) Refresh(ctx context.Context) (*Snapshot, error) {
	return l.load(ctx, true)
}

func (l *Loader) load(ctx context.Context, force bool) (*Snapshot, error) {
	var (
		snap                               Snapshot
		configsAt, runsAt, subscriptionsAt time.Time
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error

		snap.Configurations, configsAt, err = loadTable(
			gCtx, l, l.tables.Configurations, DecodeConfigurations, force,
		)

		return err
	})

	g.Go(func() error {
		var err error

		snap.Runs, runsAt, err = loadTable(gCtx, l, l.tables.Runs, DecodeRuns, force)

		return err
	})

	g.Go(func() error {
		var err error

		snap.Subscriptions, subscriptionsAt, err = loadTable(
			gCtx, l, l.tables.Subscriptions, DecodeSubscriptions, force,
		)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.FetchedAt = configsAt
	for _, t := range []time.Time{runsAt, subscriptionsAt} {
		if t.Before(snap.FetchedAt) {
			snap.FetchedAt = t
		}
	}

	return &snap, nil
}

// LoadRuns fetches only the job run table.
func (l *Loader) LoadRuns(ctx context.Context) ([]dashboard.JobRun, error) {
	runs, _, err := loadTable(ctx, l, l.tables.Runs, DecodeRuns, false)

	return runs, err
}

// Invalidate drops every cached table.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.entries)

	l.log.Debug("Export cache invalidated")
}

func (l *Loader) cached(table string) (cacheEntry, bool) {
	if l.ttl <= 0 {
		return cacheEntry{}, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[table]
	if !ok || l.now().Sub(entry.fetchedAt) >= l.ttl {
		return cacheEntry{}, false
	}

	return entry, true
}

func (l *Loader) store(table string, entry cacheEntry) {
	if l.ttl <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[table] = entry
}

// loadTable returns the decoded table from cache or storage. Concurrent
// misses for the same table share one fetch. force skips the cache.
func loadTable[T any](
	ctx context.Context,
	l *Loader,
	table string,
	decode func(table string, data []byte) ([]T, error),
	force bool,
) ([]T, time.Time, error) {
	if !force {
		if entry, ok := l.cached(table); ok {
			rows, _ := entry.value.([]T)

			return rows, entry.fetchedAt, nil
		}
	}

	key := table
	if force {
		key = "refresh:" + table
	}

	// The shared fetch outlives any single caller; each caller stops
	// waiting when its own context ends.
	ch := l.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		if entry, ok := l.cached(table); ok && !force {
			return entry, nil
		}

		start := l.now()

		data, err := l.reader.GetObject(fetchCtx, ObjectName(table))
		if err != nil {
			return nil, &FetchError{Table: table, Err: err}
		}

		rows, err := decode(table, data)
		if err != nil {
			return nil, err
		}

		entry := cacheEntry{value: rows, fetchedAt: start}
		l.store(table, entry)

		l.log.WithFields(logrus.Fields{
			"table":    table,
			"rows":     len(rows),
			"bytes":    len(data),
			"duration": l.now().Sub(start).Round(time.Millisecond),
		}).Debug("Fetched table export")

		return entry, nil
	})

	var res singleflight.Result

	select {
	case <-ctx.Done():
		return nil, time.Time{}, ctx.Err()
	case res = <-ch:
	}

	if res.Err != nil {
		return nil, time.Time{}, res.Err
	}

	entry, _ := res.Val.(cacheEntry)
	rows, _ := entry.value.([]T)

	return rows, entry.fetchedAt, nil
}
