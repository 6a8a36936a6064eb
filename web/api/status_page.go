package api

import (
	"synapse/web/pages"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// StatusPage handles GET /
// Counts and state only, no note content.
func (a *API) StatusPage(ctx rweb.Context) error {
	st := a.syncStatus()

	sctx, cancel := storeCtx()
	defer cancel()
	conflicts, err := a.store.ListConflicts(sctx, 10)
	if err != nil {
		logger.LogErr(err, "failed to load conflicts for status page")
	}

	page := pages.StatusPage{
		UserID:       a.userID,
		Status:       st.Status,
		Degraded:     st.Degraded,
		Coordinated:  st.Coordinated,
		SessionError: st.SessionError,
		Conflicts:    conflicts,
	}
	if a.backups != nil {
		if page.Backups, err = a.backups.List(); err != nil {
			logger.LogErr(err, "failed to list backups for status page")
		}
	}

	ctx.Response().SetHeader("Content-Type", "text/html; charset=utf-8")
	return ctx.WriteHTML(page.Render())
}
