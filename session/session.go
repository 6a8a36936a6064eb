// Package session bundles everything one signed-in user needs on a device:
// the engine, the link to the tab coordinator and the backup schedule.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"synapse/backup"
	"synapse/coordinator"
	"synapse/syncer"

	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

const (
	DefaultSyncInterval = 5 * time.Second
	inboxSize           = 64
)

type Options struct {
	// SyncInterval drives the engine's own auto sync when there is no
	// coordinator to join.
	SyncInterval time.Duration
	// Coordinator is optional; without one the session runs degraded.
	Coordinator *coordinator.Coordinator
	// Backups is optional.
	Backups        *backup.Manager
	BackupInterval time.Duration
}

// Session is the per-user runtime. Construct with New, then Start and Stop.
type Session struct {
	id     string
	engine *syncer.Engine
	opts   Options

	inbox chan coordinator.Message

	mu        sync.Mutex
	ctx       context.Context // lifetime passed to Start
	started   bool
	joined    bool
	degraded  bool
	lastError string
	scheduler *backup.Scheduler
}

func New(engine *syncer.Engine, opts Options) *Session {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	return &Session{
		id:     "session-" + uuid.NewString(),
		engine: engine,
		opts:   opts,
		inbox:  make(chan coordinator.Message, inboxSize),
	}
}

// Start seeds the store from the server on first use, joins the
// coordinator (or falls back to auto sync) and starts periodic backups.
// Being offline is not an error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	n, err := s.engine.InitialSync(ctx)
	switch {
	case err == nil:
		if n > 0 {
			logger.Info("Seeded local store", "user_id", s.engine.UserID(), "rows", n)
		}
	case syncer.IsNetworkError(err):
		logger.LogErr(err, "initial sync skipped, offline")
	case syncer.IsAuthError(err):
		logger.LogErr(err, "initial sync unauthorized")
		s.setError(err)
	default:
		return serr.Wrap(err, "initial sync failed")
	}

	if !s.join(ctx) {
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		s.engine.StartAutoSync(ctx, s.opts.SyncInterval)
		logger.Info("No coordinator, running auto sync", "user_id", s.engine.UserID(),
			"interval", s.opts.SyncInterval.String())
	}

	if s.opts.Backups != nil {
		sched := backup.NewScheduler(s.opts.Backups, s.opts.BackupInterval)
		sched.Start(ctx)
		s.mu.Lock()
		s.scheduler = sched
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) join(ctx context.Context) bool {
	c := s.opts.Coordinator
	if c == nil {
		return false
	}
	if err := c.Connect(ctx, s); err != nil {
		logger.LogErr(err, "failed to join coordinator")
		return false
	}
	if err := c.Post(ctx, s.id, coordinator.Message{Type: coordinator.MsgInit, UserID: s.engine.UserID()}); err != nil {
		logger.LogErr(err, "failed to initialize coordinator")
		_ = c.Disconnect(ctx, s.id)
		return false
	}
	return true
}

// SyncNow runs a full cycle and tells sibling tabs about it.
func (s *Session) SyncNow(ctx context.Context) (syncer.Result, error) {
	res, err := s.engine.Sync(ctx)
	if err != nil {
		if !errors.Is(err, syncer.ErrSyncInProgress) {
			s.setError(err)
		}
		return res, err
	}
	s.setError(nil)

	if c := s.opts.Coordinator; c != nil && !s.Degraded() {
		msg, berr := coordinator.NewBroadcast(coordinator.BroadcastEvent{Event: coordinator.EventSyncCompleted, Data: res})
		if berr == nil {
			berr = c.Post(ctx, s.id, msg)
		}
		if berr != nil {
			logger.LogErr(berr, "failed to announce sync")
		}
	}
	return res, nil
}

// Stop leaves the coordinator, stops auto sync and backups. In-flight
// cycles complete.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	sched := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if c := s.opts.Coordinator; c != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := c.Disconnect(ctx, s.id); err != nil && !errors.Is(err, coordinator.ErrStopped) {
			logger.LogErr(err, "failed to leave coordinator")
		}
		cancel()
	}
	s.engine.StopAutoSync()
	if sched != nil {
		sched.Stop()
	}
	logger.Info("Session stopped", "user_id", s.engine.UserID())
}

// Engine exposes the session's engine for status and manual pulls.
func (s *Session) Engine() *syncer.Engine { return s.engine }

// Context is the lifetime the session was started with, for work that must
// outlive the request that triggered it.
func (s *Session) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// SyncInterval is the auto sync period used in degraded mode.
func (s *Session) SyncInterval() time.Duration { return s.opts.SyncInterval }

// Degraded reports whether the session fell back to its own auto sync.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Joined reports whether the coordinator acknowledged INIT.
func (s *Session) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// LastError is the most recent sync or coordinator error, empty when the
// last outcome was good.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Messages delivers coordinator traffic addressed to this session. When
// nobody reads, old messages are dropped rather than stalling the
// coordinator.
func (s *Session) Messages() <-chan coordinator.Message { return s.inbox }

func (s *Session) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastError = ""
		return
	}
	s.lastError = err.Error()
}

// ============================================================================
// coordinator.Port
// ============================================================================

func (s *Session) ID() string { return s.id }

// Send is called from the coordinator loop and never blocks.
func (s *Session) Send(msg coordinator.Message) error {
	switch msg.Type {
	case coordinator.MsgInitSuccess:
		s.mu.Lock()
		s.joined = true
		s.mu.Unlock()
	case coordinator.MsgSyncUpdate:
		logger.Debug("Remote changes applied", "count", len(msg.Changes))
		s.setError(nil)
	case coordinator.MsgSyncError:
		s.setError(errors.New(msg.Message))
	case coordinator.MsgAuthError:
		s.setError(errors.New(msg.Message))
		logger.Info("Coordinator reports auth failure", "user_id", s.engine.UserID())
	case coordinator.MsgBroadcast:
		var ev coordinator.BroadcastEvent
		if err := json.Unmarshal(msg.Payload, &ev); err == nil {
			logger.Debug("Sibling event", "event", ev.Event)
		}
	}

	select {
	case s.inbox <- msg:
	default:
		// drop the oldest to make room
		select {
		case <-s.inbox:
		default:
		}
		select {
		case s.inbox <- msg:
		default:
		}
	}
	return nil
}
