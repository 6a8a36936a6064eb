// Package pages renders the device status page.
package pages

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"synapse/backup"
	"synapse/store"
	"synapse/syncer"

	"github.com/rohanthewiz/element"
)

// StatusPage shows sync state, the recent conflict audit and backups.
type StatusPage struct {
	Title        string
	UserID       string
	Status       syncer.Status
	Degraded     bool
	Coordinated  bool
	SessionError string
	Conflicts    []store.Conflict
	Backups      []backup.Info
}

// Render generates the complete HTML document.
func (p StatusPage) Render() string {
	if p.Title == "" {
		p.Title = "Synapse - Sync Status"
	}
	b := element.NewBuilder()

	b.Html("lang", "en").R(
		b.Head().R(
			b.Meta("charset", "UTF-8"),
			b.Meta("name", "viewport", "content", "width=device-width, initial-scale=1.0"),
			b.Meta("http-equiv", "refresh", "content", "10"),
			b.Title().T(p.Title),
			b.Link("rel", "icon", "href", "/favicon.ico"),
			b.Link("rel", "stylesheet", "href", "/static/status.css"),
		),
		b.Body().R(
			b.H1().T(p.Title),
			element.RenderComponents(b,
				SyncPanel{Status: p.Status, UserID: p.UserID, Degraded: p.Degraded,
					Coordinated: p.Coordinated, SessionError: p.SessionError},
				ConflictList{Conflicts: p.Conflicts},
				BackupList{Backups: p.Backups},
			),
		),
	)

	return "<!DOCTYPE html>" + b.String()
}

// SyncPanel is the engine state summary.
type SyncPanel struct {
	Status       syncer.Status
	UserID       string
	Degraded     bool
	Coordinated  bool
	SessionError string
}

func (s SyncPanel) Render(b *element.Builder) any {
	stateClass := "sync-status synced"
	switch {
	case s.Status.State == syncer.StateError:
		stateClass = "sync-status error"
	case s.Status.IsSyncing:
		stateClass = "sync-status syncing"
	case s.Status.PendingOperations > 0:
		stateClass = "sync-status pending"
	}

	mode := "coordinated"
	if s.Degraded {
		mode = "standalone auto sync"
	} else if !s.Coordinated {
		mode = "joining coordinator"
	}

	lastSync := "never"
	if s.Status.LastSyncTime != nil {
		lastSync = s.Status.LastSyncTime.Format(time.RFC3339)
	}

	b.Div("class", "status-panel", "id", "sync-panel").R(
		b.H2().T("Sync"),
		b.Div("class", stateClass, "id", "sync-state").R(
			b.Span("id", "sync-state-text").T(string(s.Status.State)),
		),
		row(b, "User", s.UserID),
		row(b, "Mode", mode),
		row(b, "Auto sync", strconv.FormatBool(s.Status.AutoSync)),
		row(b, "Pending operations", strconv.Itoa(s.Status.PendingOperations)),
		row(b, "Last sync", lastSync),
		func() any {
			if s.Status.LastResult == nil {
				return nil
			}
			r := s.Status.LastResult
			return row(b, "Last result", fmt.Sprintf("pushed %d, pulled %d, failed %d", r.Pushed, r.Pulled, r.Failed))
		}(),
		func() any {
			msg := s.Status.SyncError
			if msg == "" {
				msg = s.SessionError
			}
			if msg == "" {
				return nil
			}
			return b.P("class", "sync-error").T(msg)
		}(),
	)
	return nil
}

func row(b *element.Builder, label, value string) any {
	return b.DivClass("status-row").R(
		b.SpanClass("status-label").T(label),
		b.SpanClass("status-value").T(value),
	)
}

// ConflictList shows the latest conflict decisions.
type ConflictList struct {
	Conflicts []store.Conflict
}

func (c ConflictList) Render(b *element.Builder) any {
	b.Div("class", "status-panel", "id", "conflicts").R(
		b.H2().T("Recent conflicts"),
		func() any {
			if len(c.Conflicts) == 0 {
				return b.P().T("None")
			}
			for _, cf := range c.Conflicts {
				b.DivClass("conflict").R(
					b.SpanClass("conflict-entity").T(string(cf.EntityType)+" "+cf.EntityID),
					b.Small().T(fmt.Sprintf(" v%d local / v%d remote: %s (%s)",
						cf.LocalVersion, cf.RemoteVersion, cf.Resolution,
						time.UnixMilli(cf.CreatedAt).UTC().Format(time.RFC3339))),
				)
			}
			return nil
		}(),
	)
	return nil
}

// BackupList shows the retained backup files.
type BackupList struct {
	Backups []backup.Info
}

func (l BackupList) Render(b *element.Builder) any {
	b.Div("class", "status-panel", "id", "backups").R(
		b.H2().T("Backups"),
		func() any {
			if len(l.Backups) == 0 {
				return b.P().T("None")
			}
			for _, bk := range l.Backups {
				sealed := ""
				if bk.Sealed {
					sealed = ", sealed"
				}
				b.DivClass("backup").R(
					b.SpanClass("backup-name").T(filepath.Base(bk.Path)),
					b.Small().T(fmt.Sprintf(" %d bytes%s", bk.Size, sealed)),
				)
			}
			return nil
		}(),
	)
	return nil
}
