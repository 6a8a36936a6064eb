package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"synapse/models"
	"synapse/store"
)

func contentChange(t *testing.T, op models.Operation, id string, version, ts int64, p *models.ContentPayload) models.Change {
	t.Helper()
	var raw json.RawMessage
	if p != nil {
		b, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		raw = b
	}
	return models.Change{
		EntityType: models.EntityContent,
		EntityID:   id,
		Operation:  op,
		Payload:    raw,
		Version:    version,
		Timestamp:  ts,
	}
}

// ============================================================================
// Remote apply
// ============================================================================

func TestApplyRemoteCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)

	change := contentChange(t, models.OperationCreate, "r1", 3, 1000, newNote("r1", "remote", "from server"))

	res, err := s.ApplyRemote(ctx, change, testUser)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if res.Outcome != store.ApplyApplied {
		t.Errorf("expected applied, got %s", res.Outcome)
	}

	res, err = s.ApplyRemote(ctx, change, testUser)
	if err != nil {
		t.Fatalf("re-apply failed: %v", err)
	}
	if res.Outcome != store.ApplySkipped {
		t.Errorf("expected replay to be skipped, got %s", res.Outcome)
	}

	c, err := s.Content().GetByID(ctx, "r1", testUser)
	if err != nil {
		t.Fatalf("remote content not visible: %v", err)
	}
	if c.Title != "remote" || c.Content != "from server" {
		t.Errorf("unexpected row: %+v", c)
	}

	meta, _ := s.GetMetadata(ctx, models.EntityContent, "r1")
	if meta.Version != 3 || meta.ServerVersion != 3 || meta.SyncStatus != models.SyncStatusSynced {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if pending, _ := s.PendingCount(ctx); pending != 0 {
		t.Errorf("remote changes must not be pushed back, %d pending", pending)
	}
	ops, _ := s.OperationsForEntity(ctx, models.EntityContent, "r1")
	if len(ops) != 1 || !ops[0].Synced {
		t.Errorf("expected one synced log entry, got %+v", ops)
	}
}

func TestApplyRemoteSkipsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)

	if _, err := s.ApplyRemote(ctx, contentChange(t, models.OperationCreate, "r1", 5, 1000, newNote("r1", "v5", "b")), testUser); err != nil {
		t.Fatal(err)
	}
	update := &models.ContentPayload{ID: "r1", Title: models.Ptr("v4")}
	res, err := s.ApplyRemote(ctx, contentChange(t, models.OperationUpdate, "r1", 4, 2000, update), testUser)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != store.ApplySkipped {
		t.Errorf("expected stale update to be skipped, got %s", res.Outcome)
	}
	c, _ := s.Content().GetByID(ctx, "r1", testUser)
	if c.Title != "v5" {
		t.Errorf("expected title v5, got %q", c.Title)
	}
}

func TestApplyRemoteRejectsMalformed(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)

	tests := []struct {
		name   string
		change models.Change
	}{
		{"unknown type", models.Change{EntityType: "widget", EntityID: "w1", Operation: models.OperationCreate, Payload: json.RawMessage(`{"id":"w1"}`), Version: 1}},
		{"unknown field", models.Change{EntityType: models.EntityContent, EntityID: "c1", Operation: models.OperationCreate, Payload: json.RawMessage(`{"id":"c1","type":"note","content":"x","color":"red"}`), Version: 1}},
		{"missing required", models.Change{EntityType: models.EntityContent, EntityID: "c1", Operation: models.OperationCreate, Payload: json.RawMessage(`{"id":"c1","type":"note"}`), Version: 1}},
		{"id mismatch", models.Change{EntityType: models.EntityTag, EntityID: "t1", Operation: models.OperationCreate, Payload: json.RawMessage(`{"id":"t2","title":"x"}`), Version: 1}},
		{"zero version", models.Change{EntityType: models.EntityTag, EntityID: "t1", Operation: models.OperationCreate, Payload: json.RawMessage(`{"id":"t1","title":"x"}`)}},
		{"content tag update", models.Change{EntityType: models.EntityContentTag, EntityID: "c:t", Operation: models.OperationUpdate, Payload: json.RawMessage(`{"content_id":"c","tag_id":"t"}`), Version: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ApplyRemote(ctx, tt.change, testUser)
			var ve *models.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
	if pending, _ := s.PendingCount(ctx); pending != 0 {
		t.Errorf("malformed changes must not touch the log")
	}
}

func TestApplyRemoteDeleteKeepsTombstone(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)

	if _, err := s.ApplyRemote(ctx, contentChange(t, models.OperationCreate, "r1", 1, 1000, newNote("r1", "t", "b")), testUser); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ApplyRemote(ctx, contentChange(t, models.OperationDelete, "r1", 2, 2000, nil), testUser); err != nil {
		t.Fatalf("remote delete failed: %v", err)
	}
	if state, _ := s.Lifecycle(ctx, models.EntityContent, "r1"); state != models.LifecycleTombstoned {
		t.Errorf("expected tombstoned, got %s", state)
	}

	// a late create with an older version cannot resurrect it
	res, err := s.ApplyRemote(ctx, contentChange(t, models.OperationCreate, "r1", 1, 1000, newNote("r1", "t", "b")), testUser)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != store.ApplySkipped {
		t.Errorf("expected skipped, got %s", res.Outcome)
	}
	if _, err := s.Content().GetByID(ctx, "r1", testUser); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected deleted content to stay hidden, got %v", err)
	}
}

// ============================================================================
// Conflicts
// ============================================================================

func TestConflictResolution(t *testing.T) {
	tests := []struct {
		name          string
		remoteVersion int64
		remoteDelta   int64 // added to the local last_modified
		want          models.Resolution
		wantTitle     string
	}{
		{"higher remote version", 5, -10_000, models.ResolutionRemoteVersion, "remote"},
		{"lower remote version", 1, 10_000, models.ResolutionLocalVersion, "local"},
		{"same version newer remote", 2, 1, models.ResolutionRemoteTimestamp, "remote"},
		{"same version older remote", 2, -1, models.ResolutionLocalTimestamp, "local"},
		{"exact tie", 2, 0, models.ResolutionRemoteTie, "remote"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := setupStore(t, store.DriverDuckDB)

			mustCreateContent(t, s, "c1")
			if _, err := s.Content().Update(ctx, "c1", &models.ContentPayload{Title: models.Ptr("local")}, testUser); err != nil {
				t.Fatal(err)
			}
			local, _ := s.GetMetadata(ctx, models.EntityContent, "c1")
			if local.Version != 2 {
				t.Fatalf("expected local version 2, got %d", local.Version)
			}

			change := contentChange(t, models.OperationUpdate, "c1", tt.remoteVersion, local.LastModified+tt.remoteDelta,
				&models.ContentPayload{ID: "c1", Title: models.Ptr("remote")})
			res, err := s.ApplyRemote(ctx, change, testUser)
			if err != nil {
				t.Fatalf("apply failed: %v", err)
			}
			if res.Resolution != tt.want {
				t.Errorf("expected %s, got %s", tt.want, res.Resolution)
			}

			c, _ := s.Content().GetByID(ctx, "c1", testUser)
			if c.Title != tt.wantTitle {
				t.Errorf("expected title %q, got %q", tt.wantTitle, c.Title)
			}

			meta, _ := s.GetMetadata(ctx, models.EntityContent, "c1")
			pending, _ := s.PendingCount(ctx)
			if tt.want.RemoteWins() {
				if res.Outcome != store.ApplyApplied || pending != 0 || meta.SyncStatus != models.SyncStatusSynced {
					t.Errorf("remote win should supersede local work: outcome %s, pending %d, status %s",
						res.Outcome, pending, meta.SyncStatus)
				}
			} else {
				if res.Outcome != store.ApplyLocalWon || pending != 2 || meta.SyncStatus != models.SyncStatusConflict {
					t.Errorf("local win should keep local work: outcome %s, pending %d, status %s",
						res.Outcome, pending, meta.SyncStatus)
				}
			}

			conflicts, err := s.ListConflicts(ctx, 10)
			if err != nil {
				t.Fatalf("failed to list conflicts: %v", err)
			}
			if len(conflicts) != 1 || conflicts[0].Resolution != tt.want {
				t.Errorf("expected one audited conflict, got %+v", conflicts)
			}
			if conflicts[0].Diff == "" {
				t.Error("expected a payload diff in the audit")
			}
		})
	}
}

// markAllSynced acknowledges every pending entry at its local version.
func markAllSynced(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	ops, err := s.UnsyncedOperations(ctx)
	if err != nil {
		t.Fatalf("failed to read unsynced: %v", err)
	}
	for _, op := range ops {
		if err := s.MarkOperationSynced(ctx, op, op.Version); err != nil {
			t.Fatalf("failed to mark %s synced: %v", op.EntityID, err)
		}
	}
}

func TestApplyRemoteComparesServerVersion(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)
	mustCreateContent(t, s, "c1")
	for i := 0; i < 4; i++ {
		if _, err := s.Content().Update(ctx, "c1", &models.ContentPayload{Content: models.Ptr("edit")}, testUser); err != nil {
			t.Fatalf("update %d failed: %v", i, err)
		}
	}

	// the server folded the five local writes into its own version 2
	ops, _ := s.UnsyncedOperations(ctx)
	for i, op := range ops {
		serverVersion := int64(1)
		if i == len(ops)-1 {
			serverVersion = 2
		}
		if err := s.MarkOperationSynced(ctx, op, serverVersion); err != nil {
			t.Fatalf("failed to mark synced: %v", err)
		}
	}
	meta, _ := s.GetMetadata(ctx, models.EntityContent, "c1")
	if meta.Version != 5 || meta.ServerVersion != 2 || meta.SyncStatus != models.SyncStatusSynced {
		t.Fatalf("unexpected metadata after push: %+v", meta)
	}

	newer := contentChange(t, models.OperationUpdate, "c1", 3, models.NowMs(),
		&models.ContentPayload{ID: "c1", Content: models.Ptr("from another device")})
	res, err := s.ApplyRemote(ctx, newer, testUser)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if res.Outcome != store.ApplyApplied {
		t.Errorf("expected server version 3 to apply over server version 2, got %s", res.Outcome)
	}
	c, _ := s.Content().GetByID(ctx, "c1", testUser)
	if c.Content != "from another device" {
		t.Errorf("expected remote body, got %q", c.Content)
	}

	stale := contentChange(t, models.OperationUpdate, "c1", 2, models.NowMs(),
		&models.ContentPayload{ID: "c1", Content: models.Ptr("old")})
	if res, _ := s.ApplyRemote(ctx, stale, testUser); res.Outcome != store.ApplySkipped {
		t.Errorf("expected an already seen server version to be skipped, got %s", res.Outcome)
	}

	// local versions keep climbing past everything already logged
	if _, err := s.Content().Update(ctx, "c1", &models.ContentPayload{Title: models.Ptr("later")}, testUser); err != nil {
		t.Fatal(err)
	}
	meta, _ = s.GetMetadata(ctx, models.EntityContent, "c1")
	if meta.Version != 6 {
		t.Errorf("expected local version 6, got %d", meta.Version)
	}
}

func TestApplyRemoteNodeDeleteCascadesToEdges(t *testing.T) {
	for _, driver := range []string{store.DriverDuckDB, store.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			s := setupStore(t, driver)

			mustCreateNode(t, s, &models.NodePayload{ID: "n1", Type: models.Ptr(models.NodeConcept)})
			mustCreateNode(t, s, &models.NodePayload{ID: "n2", Type: models.Ptr(models.NodeConcept)})
			mustCreateNode(t, s, &models.NodePayload{ID: "n3", Type: models.Ptr(models.NodeConcept)})
			for _, e := range []*models.EdgePayload{
				{ID: "e1", FromNode: models.Ptr("n1"), ToNode: models.Ptr("n2"), RelationType: models.Ptr("mentions")},
				{ID: "e2", FromNode: models.Ptr("n2"), ToNode: models.Ptr("n3"), RelationType: models.Ptr("related")},
			} {
				if _, err := s.Graph().CreateEdge(ctx, e, testUser); err != nil {
					t.Fatalf("failed to create edge %s: %v", e.ID, err)
				}
			}
			markAllSynced(t, s)

			del := models.Change{
				EntityType: models.EntityNode, EntityID: "n1", Operation: models.OperationDelete,
				Version: 5, Timestamp: models.NowMs(),
			}
			res, err := s.ApplyRemote(ctx, del, testUser)
			if err != nil {
				t.Fatalf("apply failed: %v", err)
			}
			if res.Outcome != store.ApplyApplied {
				t.Fatalf("expected applied, got %s", res.Outcome)
			}

			graph, err := s.Graph().GetGraph(ctx, testUser)
			if err != nil {
				t.Fatal(err)
			}
			if len(graph.Nodes) != 2 {
				t.Errorf("expected 2 nodes, got %d", len(graph.Nodes))
			}
			if len(graph.Edges) != 1 || graph.Edges[0].ID != "e2" {
				t.Errorf("expected only e2 to remain, got %+v", graph.Edges)
			}

			meta, _ := s.GetMetadata(ctx, models.EntityEdge, "e1")
			if meta == nil || !meta.Tombstone || meta.SyncStatus != models.SyncStatusSynced {
				t.Errorf("expected e1 tombstoned and synced, got %+v", meta)
			}
			if pending, _ := s.PendingCount(ctx); pending != 0 {
				t.Errorf("a remote cascade must not queue pushes, %d pending", pending)
			}
		})
	}
}

func TestApplyRemoteContentDeleteCascadesToAssociations(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)
	mustCreateContent(t, s, "c1")
	mustCreateContent(t, s, "c2")
	if _, err := s.Tags().Create(ctx, &models.TagPayload{ID: "t1", Title: models.Ptr("go")}, testUser); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"c1", "c2"} {
		if _, err := s.Tags().AddToContent(ctx, id, "t1", testUser); err != nil {
			t.Fatal(err)
		}
	}
	markAllSynced(t, s)

	if _, err := s.ApplyRemote(ctx, contentChange(t, models.OperationDelete, "c1", 9, models.NowMs(), nil), testUser); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if state, _ := s.Lifecycle(ctx, models.EntityContentTag, models.ContentTagID("c1", "t1")); state != models.LifecycleTombstoned {
		t.Errorf("expected c1:t1 tombstoned, got %s", state)
	}
	page, err := s.Content().GetByTagIDs(ctx, testUser, []string{"t1"}, store.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "c2" {
		t.Errorf("expected only c2 under t1, got %+v", page.Items)
	}
}
