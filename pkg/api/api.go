package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/flowwatch/pkg/api/store"
	"github.com/ethpandaops/flowwatch/pkg/config"
	"github.com/ethpandaops/flowwatch/pkg/export"
	"github.com/ethpandaops/flowwatch/pkg/notify"
	"github.com/ethpandaops/flowwatch/pkg/storage"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	reader     storage.Reader
	loader     *export.Loader
	refresher  export.Refresher
	dispatcher *notify.Dispatcher
	store      store.Store
	httpServer *http.Server
	now        func() time.Time
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		now:  time.Now,
		done: make(chan struct{}),
	}
}

// Start wires the export loader, the optional dispatcher and audit store,
// then starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	if err := s.setup(ctx); err != nil {
		return err
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	// Warm the cache only once the server is reachable.
	if s.refresher != nil {
		if err := s.refresher.Start(ctx); err != nil {
			return fmt.Errorf("starting export refresher: %w", err)
		}
	}

	return nil
}

// setup creates every collaborator the handlers need.
func (s *server) setup(ctx context.Context) error {
	if s.reader == nil {
		reader, err := storage.NewReader(&s.cfg.Storage)
		if err != nil {
			return fmt.Errorf("creating storage reader: %w", err)
		}

		s.reader = reader
	}

	ttl, err := s.cfg.Cache.TTLDuration()
	if err != nil {
		return fmt.Errorf("parsing cache ttl: %w", err)
	}

	s.loader = export.NewLoader(s.log, s.reader, s.cfg.Tables, ttl)

	s.log.WithFields(logrus.Fields{
		"storage":   s.reader.Describe(),
		"cache_ttl": ttl,
	}).Info("Export loader ready")

	refresh, err := s.cfg.Cache.RefreshIntervalDuration()
	if err != nil {
		return fmt.Errorf("parsing cache refresh interval: %w", err)
	}

	if refresh > 0 {
		s.refresher = export.NewRefresher(s.log, s.loader, refresh)
	}

	if s.cfg.Audit.Enabled {
		s.store = store.NewStore(s.log, &s.cfg.Audit.Database)
		if err := s.store.Start(ctx); err != nil {
			return fmt.Errorf("starting audit store: %w", err)
		}
	}

	if s.cfg.Notifications.Enabled {
		var opts []notify.Option
		if s.store != nil {
			opts = append(opts, notify.WithRecorder(&auditRecorder{store: s.store}))
		}

		dispatcher, err := notify.NewDispatcher(s.log, &s.cfg.Notifications, opts...)
		if err != nil {
			return fmt.Errorf("creating dispatcher: %w", err)
		}

		s.dispatcher = dispatcher

		s.log.WithField("projects", len(s.cfg.Notifications.ProjectTokens)).
			Info("Subscription dispatch enabled")
	}

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the audit store.
func (s *server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.refresher != nil {
		if err := s.refresher.Stop(); err != nil {
			s.log.WithError(err).Warn("Export refresher stop error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping audit store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}

// auditRecorder persists dispatch outcomes to the audit store.
type auditRecorder struct {
	store store.Store
}

var _ notify.Recorder = (*auditRecorder)(nil)

func (a *auditRecorder) RecordDispatch(ctx context.Context, rec notify.Record) error {
	return a.store.RecordDispatch(ctx, &store.DispatchRecord{
		ProjectID:       rec.Target.ProjectID,
		ConfigurationID: rec.Target.ConfigurationID,
		Event:           string(rec.Event),
		Recipient:       rec.Recipient,
		Outcome:         string(rec.Result.Outcome),
		StatusCode:      rec.Result.StatusCode,
		Message:         rec.Result.Message,
		CreatedAt:       rec.At,
	})
}
