package export

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Refresher is a background service that periodically refetches the
// table exports so dashboard reads are served from a warm cache.
type Refresher interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Refresher = (*refresher)(nil)

type refresher struct {
	log      logrus.FieldLogger
	loader   *Loader
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRefresher creates a background refresher for loader.
func NewRefresher(
	log logrus.FieldLogger,
	loader *Loader,
	interval time.Duration,
) Refresher {
	return &refresher{
		log:      log.WithField("component", "export-refresher"),
		loader:   loader,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs one refresh immediately and then one per interval, all in a
// background goroutine.
func (r *refresher) Start(ctx context.Context) error {
	r.log.WithField("interval", r.interval.String()).
		Info("Starting export refresher")

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		r.runPass(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.runPass(ctx)
			case <-r.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the refresher goroutine to stop and waits for it.
func (r *refresher) Stop() error {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()

	r.log.Info("Export refresher stopped")

	return nil
}

// runPass refetches every table. On failure the previous tables stay
// cached until their TTL runs out.
func (r *refresher) runPass(ctx context.Context) {
	start := time.Now()

	snap, err := r.loader.Refresh(ctx)
	if err != nil {
		r.log.WithError(err).Warn("Export refresh failed")

		return
	}

	r.log.WithFields(logrus.Fields{
		"configurations": len(snap.Configurations),
		"runs":           len(snap.Runs),
		"subscriptions":  len(snap.Subscriptions),
		"duration":       time.Since(start).Round(time.Millisecond),
	}).Debug("Export refresh completed")
}
