package web

import (
	"synapse/web/api"

	"github.com/rohanthewiz/rweb"
)

// setupRoutes configures all application routes
func setupRoutes(s *rweb.Server, a *api.API) {
	// Page routes - HTML responses
	s.Get("/", a.StatusPage)

	s.Get("/api/v1/health", a.Health)

	// Content CRUD
	s.Post("/api/v1/content", a.CreateContent)
	s.Get("/api/v1/content", a.ListContent)
	s.Get("/api/v1/content/:id", a.GetContent)
	s.Put("/api/v1/content/:id", a.UpdateContent)
	s.Delete("/api/v1/content/:id", a.DeleteContent)

	// Content-tag associations
	s.Get("/api/v1/content/:id/tags", a.GetContentTags)
	s.Put("/api/v1/content/:id/tags", a.ReplaceContentTags)
	s.Post("/api/v1/content/:id/tags/:tag_id", a.AddTagToContent)
	s.Delete("/api/v1/content/:id/tags/:tag_id", a.RemoveTagFromContent)

	// Tags CRUD
	s.Post("/api/v1/tags", a.CreateTag)
	s.Get("/api/v1/tags", a.ListTags)
	s.Put("/api/v1/tags/:id", a.UpdateTag)
	s.Delete("/api/v1/tags/:id", a.DeleteTag)

	// Knowledge graph
	s.Get("/api/v1/graph", a.GetGraph)
	s.Post("/api/v1/graph/nodes", a.CreateNode)
	s.Get("/api/v1/graph/nodes/:id", a.GetNode)
	s.Put("/api/v1/graph/nodes/:id", a.UpdateNode)
	s.Delete("/api/v1/graph/nodes/:id", a.DeleteNode)
	s.Get("/api/v1/graph/nodes/:id/edges", a.GetNodeEdges)
	s.Post("/api/v1/graph/edges", a.CreateEdge)
	s.Delete("/api/v1/graph/edges/:id", a.DeleteEdge)

	// Sync control
	s.Get("/api/v1/sync/status", a.SyncControlStatus)
	s.Post("/api/v1/sync/now", a.SyncControlNow)
	s.Post("/api/v1/sync/toggle", a.SyncControlToggle)
	s.Get("/api/v1/sync/pending", a.PendingOperations)
	s.Get("/api/v1/sync/conflicts", a.Conflicts)

	// Backups
	s.Post("/api/v1/backups", a.TakeBackup)
	s.Get("/api/v1/backups", a.ListBackups)
	s.Post("/api/v1/backups/restore", a.RestoreBackup)
}
