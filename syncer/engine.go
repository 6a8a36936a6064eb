// Package syncer moves changes between the local store and the sync server.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"synapse/models"
	"synapse/store"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Sync Engine
//
// One cycle: push the unsynced log in order, pull everything newer than the
// checkpoint, then advance the checkpoint.
//
//   Idle -> Pushing -> Pulling -> Reconciling -> Idle
//   Idle -> Error -> Idle
//
// A failure ends the cycle early. Unprocessed entries keep their status and
// go out with the next cycle.
// ============================================================================

// State is the engine's position in a cycle.
type State string

const (
	StateIdle        State = "idle"
	StatePushing     State = "pushing"
	StatePulling     State = "pulling"
	StateReconciling State = "reconciling"
	StateError       State = "error"
)

const defaultPushBatch = 100

// LocalStore is the store surface the engine drives.
type LocalStore interface {
	UnsyncedOperations(ctx context.Context) ([]models.OperationLogEntry, error)
	MarkOperationSynced(ctx context.Context, e models.OperationLogEntry, serverVersion int64) error
	Purge(ctx context.Context, t models.EntityType, id string) error
	ApplyRemote(ctx context.Context, c models.Change, userID string) (store.ApplyResult, error)
	Checkpoint(ctx context.Context, userID string) (int64, error)
	AdvanceCheckpoint(ctx context.Context, userID string, watermark int64) error
	ImportSnapshot(ctx context.Context, snap *models.Snapshot, userID string) (int, error)
	PendingCount(ctx context.Context) (int, error)
}

// Backuper takes a best-effort backup before a cycle.
type Backuper interface {
	Take(ctx context.Context) (string, error)
}

// Result summarizes one cycle.
type Result struct {
	Success bool `json:"success"`
	Pushed  int  `json:"pushed"`
	Pulled  int  `json:"pulled"`
	Failed  int  `json:"failed"`
}

// PullResult is what a pull applied.
type PullResult struct {
	Applied  []models.Change // changes written to the store, in order
	Skipped  int             // stale, replayed, or invalid changes
	Conflict int             // changes that met pending local work
}

// Status is the observable sync state. Sync failures land here instead of
// blocking local use.
type Status struct {
	State             State      `json:"state"`
	IsSyncing         bool       `json:"is_syncing"`
	AutoSync          bool       `json:"auto_sync"`
	LastSyncTime      *time.Time `json:"last_sync_time,omitempty"`
	SyncError         string     `json:"sync_error,omitempty"`
	PendingOperations int        `json:"pending_operations"`
	LastResult        *Result    `json:"last_result,omitempty"`
}

type Options struct {
	UserID    string
	Backups   Backuper // optional
	PushBatch int      // max operations per push request; 0 means 100
}

// Engine runs sync cycles for one user. Construct with New.
type Engine struct {
	store     LocalStore
	remote    Remote
	userID    string
	backups   Backuper
	pushBatch int

	// cycleMu admits one cycle or pull at a time; contenders skip.
	cycleMu sync.Mutex

	mu         sync.Mutex
	state      State
	lastSync   time.Time
	lastErr    error
	lastResult *Result
	autoCancel context.CancelFunc
	autoDone   chan struct{}
}

func New(st LocalStore, remote Remote, opts Options) *Engine {
	if opts.PushBatch <= 0 {
		opts.PushBatch = defaultPushBatch
	}
	return &Engine{
		store:     st,
		remote:    remote,
		userID:    opts.UserID,
		backups:   opts.Backups,
		pushBatch: opts.PushBatch,
		state:     StateIdle,
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// GetUnsyncedOperations returns every entry waiting to be pushed, oldest first.
func (e *Engine) GetUnsyncedOperations(ctx context.Context) ([]models.OperationLogEntry, error) {
	return e.store.UnsyncedOperations(ctx)
}

// Sync runs one full cycle. It returns ErrSyncInProgress without doing
// anything if another cycle or pull holds the engine. Errors come back
// unwrapped (*NetworkError, *AuthError, *HTTPError, *store.Error) so callers
// can classify them.
func (e *Engine) Sync(ctx context.Context) (Result, error) {
	if !e.cycleMu.TryLock() {
		return Result{}, ErrSyncInProgress
	}
	defer e.cycleMu.Unlock()

	if e.backups != nil {
		if _, err := e.backups.Take(ctx); err != nil {
			logger.LogErr(err, "pre-sync backup failed")
		}
	}

	var res Result
	e.setState(StatePushing)
	pushed, failed, err := e.push(ctx)
	res.Pushed, res.Failed = pushed, failed
	if err != nil {
		return e.finish(res, err)
	}

	e.setState(StatePulling)
	pr, err := e.pull(ctx)
	if pr != nil {
		res.Pulled = len(pr.Applied)
	}
	if err != nil {
		return e.finish(res, err)
	}

	res.Success = res.Failed == 0
	return e.finish(res, nil)
}

func (e *Engine) finish(res Result, err error) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastResult = &res
	e.lastErr = err
	if err != nil {
		// Error holds until the next cycle starts
		e.state = StateError
		logger.LogErr(err, "sync cycle failed", "pushed", res.Pushed, "pulled", res.Pulled, "failed", res.Failed)
		return res, err
	}
	e.state = StateIdle
	e.lastSync = time.Now()
	logger.Info("Sync cycle completed", "pushed", res.Pushed, "pulled", res.Pulled, "failed", res.Failed)
	return res, nil
}

// ============================================================================
// Push
// ============================================================================

func entityKey(t models.EntityType, id string) string {
	return string(t) + "/" + id
}

// pushBatches splits ops into consecutive runs in log order. A run never
// carries two operations of the same entity, so a rejection can still hold
// back that entity's later operations.
func pushBatches(ops []models.OperationLogEntry, limit int) [][]models.OperationLogEntry {
	var batches [][]models.OperationLogEntry
	var cur []models.OperationLogEntry
	inBatch := map[string]bool{}

	for _, op := range ops {
		key := entityKey(op.EntityType, op.EntityID)
		if inBatch[key] || len(cur) >= limit {
			batches = append(batches, cur)
			cur = nil
			inBatch = map[string]bool{}
		}
		cur = append(cur, op)
		inBatch[key] = true
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// push sends the unsynced log. A rejected operation blocks the rest of its
// entity for this cycle; independent entities continue. Transport and auth
// failures abort the phase.
func (e *Engine) push(ctx context.Context) (pushed, failed int, err error) {
	ops, err := e.store.UnsyncedOperations(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(ops) == 0 {
		return 0, 0, nil
	}

	blocked := map[string]bool{}
	for _, batch := range pushBatches(ops, e.pushBatch) {
		send := batch[:0:0]
		for _, op := range batch {
			if !blocked[entityKey(op.EntityType, op.EntityID)] {
				send = append(send, op)
			}
		}
		if len(send) == 0 {
			continue
		}

		results, err := e.remote.Push(ctx, send)
		if err != nil {
			return pushed, failed, err
		}
		byID := make(map[string]PushResult, len(results))
		for _, r := range results {
			byID[r.ID] = r
		}

		for _, op := range send {
			r, ok := byID[op.ID]
			if !ok || !r.Accepted {
				failed++
				blocked[entityKey(op.EntityType, op.EntityID)] = true
				reason := r.Error
				if !ok {
					reason = "no result returned"
				}
				logger.LogErr(serr.New("operation rejected: "+reason), "push rejected",
					"entity_type", op.EntityType, "entity_id", op.EntityID, "version", op.Version)
				continue
			}

			if err := e.store.MarkOperationSynced(ctx, op, r.ServerVersion); err != nil {
				return pushed, failed, err
			}
			pushed++

			if op.Operation == models.OperationDelete {
				e.purgeConfirmed(ctx, op)
			}
		}
	}
	return pushed, failed, nil
}

// purgeConfirmed drops a tombstone once the server has its delete.
func (e *Engine) purgeConfirmed(ctx context.Context, op models.OperationLogEntry) {
	err := e.store.Purge(ctx, op.EntityType, op.EntityID)
	switch {
	case err == nil:
		logger.Debug("Purged tombstone", "entity_type", op.EntityType, "entity_id", op.EntityID)
	case errors.Is(err, store.ErrPurgeUnsynced), errors.Is(err, store.ErrNotTombstoned):
		// recreated or edited again locally since the delete
	default:
		logger.LogErr(err, "failed to purge tombstone", "entity_type", op.EntityType, "entity_id", op.EntityID)
	}
}

// ============================================================================
// Pull
// ============================================================================

// Pull fetches and applies remote changes without pushing. It shares the
// engine's cycle lock, so at most one remote fetch is in flight.
func (e *Engine) Pull(ctx context.Context) (*PullResult, error) {
	if !e.cycleMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.cycleMu.Unlock()

	e.setState(StatePulling)
	defer e.setState(StateIdle)
	return e.pull(ctx)
}

// pull pages through remote changes newer than the checkpoint. The
// checkpoint advances per page, only after every change of the page is
// durably applied or deliberately skipped. A store failure stops the pull
// with the checkpoint where it was, so the page is fetched again next time.
func (e *Engine) pull(ctx context.Context) (*PullResult, error) {
	since, err := e.store.Checkpoint(ctx, e.userID)
	if err != nil {
		return nil, err
	}

	out := &PullResult{}
	for {
		resp, err := e.remote.Pull(ctx, since)
		if err != nil {
			return out, err
		}

		e.setState(StateReconciling)
		watermark := since
		for _, c := range resp.Changes {
			res, err := e.store.ApplyRemote(ctx, c, e.userID)
			var ve *models.ValidationError
			switch {
			case errors.As(err, &ve):
				logger.LogErr(err, "skipping invalid remote change",
					"entity_type", c.EntityType, "entity_id", c.EntityID, "version", c.Version)
				out.Skipped++
			case err != nil:
				return out, err
			default:
				if res.Resolution != "" {
					out.Conflict++
					logger.Info("Conflict resolved", "entity_type", c.EntityType, "entity_id", c.EntityID,
						"resolution", res.Resolution)
				}
				if res.Outcome == store.ApplyApplied {
					out.Applied = append(out.Applied, c)
				} else {
					out.Skipped++
				}
			}
			watermark = max(watermark, c.Timestamp)
		}

		if watermark > since {
			if err := e.store.AdvanceCheckpoint(ctx, e.userID, watermark); err != nil {
				return out, err
			}
		}
		// a page that cannot move the watermark would be fetched forever
		if !resp.HasMore || watermark == since {
			break
		}
		since = watermark
		e.setState(StatePulling)
	}

	if len(out.Applied) > 0 {
		logger.Info("Pulled remote changes", "applied", len(out.Applied), "skipped", out.Skipped, "conflicts", out.Conflict)
	}
	return out, nil
}

// InitialSync loads the server snapshot when this user has never pulled.
// It returns the number of rows imported, 0 if the store was already seeded.
func (e *Engine) InitialSync(ctx context.Context) (int, error) {
	if !e.cycleMu.TryLock() {
		return 0, ErrSyncInProgress
	}
	defer e.cycleMu.Unlock()

	cp, err := e.store.Checkpoint(ctx, e.userID)
	if err != nil {
		return 0, err
	}
	if cp > 0 {
		return 0, nil
	}

	snap, err := e.remote.Initial(ctx)
	if err != nil {
		return 0, err
	}
	n, err := e.store.ImportSnapshot(ctx, snap, e.userID)
	if err != nil {
		return 0, err
	}
	logger.Info("Initial sync imported snapshot", "rows", n, "watermark", snap.TakenAt)
	return n, nil
}

// ============================================================================
// Auto sync
// ============================================================================

// StartAutoSync runs Sync every interval until StopAutoSync. A tick that
// finds a cycle already running is dropped, not queued. Starting twice is a
// no-op.
func (e *Engine) StartAutoSync(ctx context.Context, interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.autoCancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.autoCancel = cancel
	e.autoDone = make(chan struct{})
	go e.autoLoop(loopCtx, interval, e.autoDone)

	logger.Info("Auto sync started", "user_id", e.userID, "interval", interval.String())
}

// StopAutoSync cancels the timer and waits for an in-flight cycle to finish.
// Safe to call any number of times.
func (e *Engine) StopAutoSync() {
	e.mu.Lock()
	cancel, done := e.autoCancel, e.autoDone
	e.autoCancel, e.autoDone = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("Auto sync stopped", "user_id", e.userID)
}

func (e *Engine) autoLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// cycles outlive the loop context so a stop never aborts one midway
	cycleCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sync(cycleCtx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				logger.Debug("Auto sync cycle ended with error", "error", err.Error())
			}
		}
	}
}

// Status reports the engine state and the number of pending operations.
func (e *Engine) Status(ctx context.Context) Status {
	pending, err := e.store.PendingCount(ctx)
	if err != nil {
		logger.LogErr(err, "failed to count pending operations")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		State:             e.state,
		IsSyncing:         e.state != StateIdle && e.state != StateError,
		AutoSync:          e.autoCancel != nil,
		PendingOperations: pending,
		LastResult:        e.lastResult,
	}
	if !e.lastSync.IsZero() {
		t := e.lastSync
		st.LastSyncTime = &t
	}
	if e.lastErr != nil {
		st.SyncError = e.lastErr.Error()
	}
	return st
}

// UserID returns the user this engine syncs for.
func (e *Engine) UserID() string { return e.userID }
