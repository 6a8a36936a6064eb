package api

import (
	"errors"
	"net/http"
	"strconv"

	"synapse/syncer"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// ============================================================================
// Sync Control API Handlers
//
// Status indicator, auto sync toggle, "Sync Now", and read-only views of the
// outbound queue and the conflict audit.
// ============================================================================

// SyncStatus is the engine status plus what the session has heard from the
// coordinator.
type SyncStatus struct {
	syncer.Status
	Degraded     bool   `json:"degraded"`
	Coordinated  bool   `json:"coordinated"`
	SessionError string `json:"session_error,omitempty"`
}

func (a *API) syncStatus() SyncStatus {
	sctx, cancel := storeCtx()
	defer cancel()
	return SyncStatus{
		Status:       a.session.Engine().Status(sctx),
		Degraded:     a.session.Degraded(),
		Coordinated:  a.session.Joined(),
		SessionError: a.session.LastError(),
	}
}

// Health handles GET /api/v1/health
// No auth; reports whether the store answers.
func (a *API) Health(ctx rweb.Context) error {
	sctx, cancel := storeCtx()
	defer cancel()

	pending, err := a.store.PendingCount(sctx)
	if err != nil {
		logger.LogErr(err, "health check failed")
		return writeError(ctx, http.StatusServiceUnavailable, "local store unavailable")
	}
	return writeSuccess(ctx, http.StatusOK, map[string]any{"status": "ok", "pending_operations": pending})
}

// SyncControlStatus handles GET /api/v1/sync/status
func (a *API) SyncControlStatus(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	return writeSuccess(ctx, http.StatusOK, a.syncStatus())
}

// SyncControlToggle handles POST /api/v1/sync/toggle
// Request body: {"enabled": true} or {"enabled": false}. Toggles the
// engine's own timer; the coordinator poll is unaffected.
func (a *API) SyncControlToggle(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(ctx, &req); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}

	eng := a.session.Engine()
	if req.Enabled {
		// the timer outlives this request
		eng.StartAutoSync(a.session.Context(), a.session.SyncInterval())
	} else {
		eng.StopAutoSync()
	}
	logger.Info("Auto sync toggled", "enabled", req.Enabled)
	return writeSuccess(ctx, http.StatusOK, a.syncStatus())
}

// SyncControlNow handles POST /api/v1/sync/now
// Runs a full cycle. 409 when a cycle is already running, 401 when the
// server refused the token, 502 when the server could not be reached.
func (a *API) SyncControlNow(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}

	res, err := a.session.SyncNow(a.session.Context())
	if err != nil {
		switch {
		case errors.Is(err, syncer.ErrSyncInProgress):
			return writeError(ctx, http.StatusConflict, err.Error())
		case syncer.IsAuthError(err):
			return writeError(ctx, http.StatusUnauthorized, err.Error())
		case syncer.IsNetworkError(err):
			return writeError(ctx, http.StatusBadGateway, err.Error())
		}
		var he *syncer.HTTPError
		if errors.As(err, &he) {
			return writeError(ctx, http.StatusBadGateway, he.Error())
		}
		logger.LogErr(err, "manual sync failed")
		return writeError(ctx, http.StatusInternalServerError, "sync failed")
	}
	return writeSuccess(ctx, http.StatusOK, map[string]any{"result": res, "status": a.syncStatus()})
}

// PendingOperations handles GET /api/v1/sync/pending
// Lists the unsynced log in push order.
//
// Query parameters:
//   - limit: Maximum number of entries to return (optional, default: no limit)
func (a *API) PendingOperations(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	limit := 0
	if limitStr := ctx.Request().QueryParam("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			return writeError(ctx, http.StatusBadRequest, "invalid limit parameter")
		}
		limit = parsed
	}

	ops, err := a.store.UnsyncedOperations(sctx)
	if err != nil {
		return writeStoreError(ctx, err, "list pending operations")
	}
	if limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	return writeSuccess(ctx, http.StatusOK, ops)
}

// Conflicts handles GET /api/v1/sync/conflicts
// Newest first; ?limit= defaults to 50.
func (a *API) Conflicts(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	limit := 0
	if limitStr := ctx.Request().QueryParam("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			return writeError(ctx, http.StatusBadRequest, "invalid limit parameter")
		}
		limit = parsed
	}

	conflicts, err := a.store.ListConflicts(sctx, limit)
	if err != nil {
		return writeStoreError(ctx, err, "list conflicts")
	}
	return writeSuccess(ctx, http.StatusOK, conflicts)
}
