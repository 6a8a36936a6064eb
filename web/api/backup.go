package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"synapse/backup"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// TakeBackup handles POST /api/v1/backups
func (a *API) TakeBackup(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	if a.backups == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "backups are not configured")
	}
	sctx, cancel := storeCtx()
	defer cancel()

	path, err := a.backups.Take(sctx)
	if err != nil {
		logger.LogErr(err, "manual backup failed")
		return writeError(ctx, http.StatusInternalServerError, "backup failed")
	}
	return writeSuccess(ctx, http.StatusCreated, map[string]string{"path": path})
}

// ListBackups handles GET /api/v1/backups
func (a *API) ListBackups(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	if a.backups == nil {
		return writeSuccess(ctx, http.StatusOK, []backup.Info{})
	}

	infos, err := a.backups.List()
	if err != nil {
		logger.LogErr(err, "failed to list backups")
		return writeError(ctx, http.StatusInternalServerError, "failed to list backups")
	}
	if infos == nil {
		infos = []backup.Info{}
	}
	return writeSuccess(ctx, http.StatusOK, infos)
}

// RestoreBackup handles POST /api/v1/backups/restore
// Body: {"name": "backup-....msgpack"}. Only files in the backup directory
// can be restored.
func (a *API) RestoreBackup(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	if a.backups == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "backups are not configured")
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(ctx, &req); err != nil || req.Name == "" {
		return writeError(ctx, http.StatusBadRequest, "name is required")
	}
	if filepath.Base(req.Name) != req.Name {
		return writeError(ctx, http.StatusBadRequest, "name must be a bare file name")
	}

	path := filepath.Join(a.backups.Dir(), req.Name)
	if _, err := os.Stat(path); err != nil {
		return writeError(ctx, http.StatusNotFound, "backup not found")
	}

	sctx, cancel := storeCtx()
	defer cancel()

	n, err := a.backups.Restore(sctx, path)
	switch {
	case err == nil:
	case errors.Is(err, backup.ErrBadPassphrase):
		return writeError(ctx, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.LogErr(err, "restore failed", "name", req.Name)
		return writeError(ctx, http.StatusInternalServerError, "restore failed")
	}

	logger.Info("Backup restored", "name", req.Name, "rows", n)
	return writeSuccess(ctx, http.StatusOK, map[string]int{"rows": n})
}
