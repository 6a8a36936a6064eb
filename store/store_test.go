package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"synapse/models"
	"synapse/store"
)

const testUser = "user-1"

// setupStore opens a fresh store in a temp dir and closes it at test end.
func setupStore(t *testing.T, driver string) *store.Store {
	t.Helper()

	ext := ".ddb"
	if driver == store.DriverSQLite {
		ext = ".sqlite"
	}
	s, err := store.Open(context.Background(), store.Options{
		Driver: driver,
		Path:   filepath.Join(t.TempDir(), "synapse"+ext),
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newNote(id, title, body string) *models.ContentPayload {
	return &models.ContentPayload{
		ID:      id,
		Type:    models.Ptr(models.ContentNote),
		Title:   models.Ptr(title),
		Content: models.Ptr(body),
	}
}

func mustCreateContent(t *testing.T, s *store.Store, id string) *models.Content {
	t.Helper()
	c, err := s.Content().Create(context.Background(), newNote(id, "Title "+id, "Body "+id), testUser)
	if err != nil {
		t.Fatalf("failed to create content %s: %v", id, err)
	}
	return c
}

// ============================================================================
// Atomic writes
// ============================================================================

type entityKey struct {
	t  models.EntityType
	id string
}

var atomicityKeys = []entityKey{
	{models.EntityContent, "c1"}, {models.EntityContent, "c2"},
	{models.EntityTag, "t1"}, {models.EntityContentTag, "c1:t1"},
	{models.EntityNode, "n1"}, {models.EntityNode, "n2"}, {models.EntityEdge, "e1"},
}

// seedAtomicity writes content c1 tagged t1, and nodes n1, n2 joined by e1.
func seedAtomicity(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	mustCreateContent(t, s, "c1")
	if _, err := s.Tags().Create(ctx, &models.TagPayload{ID: "t1", Title: models.Ptr("go")}, testUser); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Tags().AddToContent(ctx, "c1", "t1", testUser); err != nil {
		t.Fatal(err)
	}
	mustCreateNode(t, s, &models.NodePayload{ID: "n1", Type: models.Ptr(models.NodeConcept)})
	mustCreateNode(t, s, &models.NodePayload{ID: "n2", Type: models.Ptr(models.NodeConcept)})
	_, err := s.Graph().CreateEdge(ctx, &models.EdgePayload{
		ID: "e1", FromNode: models.Ptr("n1"), ToNode: models.Ptr("n2"), RelationType: models.Ptr("mentions"),
	}, testUser)
	if err != nil {
		t.Fatal(err)
	}
}

// storeState renders the visible rows, the metadata and the log of every
// seeded entity so two states can be compared.
func storeState(t *testing.T, s *store.Store) string {
	t.Helper()
	ctx := context.Background()
	var b strings.Builder

	page, err := s.Content().GetAll(ctx, testUser, store.ListOptions{})
	if err != nil {
		t.Fatalf("failed to list content: %v", err)
	}
	for _, c := range page.Items {
		tags, err := s.Tags().GetByContentID(ctx, c.ID, testUser)
		if err != nil {
			t.Fatalf("failed to list tags of %s: %v", c.ID, err)
		}
		fmt.Fprintf(&b, "content %s %q %q tags=%d\n", c.ID, c.Title, c.Content, len(tags))
	}
	graph, err := s.Graph().GetGraph(ctx, testUser)
	if err != nil {
		t.Fatalf("failed to read graph: %v", err)
	}
	for _, n := range graph.Nodes {
		fmt.Fprintf(&b, "node %s\n", n.ID)
	}
	for _, e := range graph.Edges {
		fmt.Fprintf(&b, "edge %s %s->%s\n", e.ID, e.FromNode, e.ToNode)
	}

	for _, k := range atomicityKeys {
		meta, err := s.GetMetadata(ctx, k.t, k.id)
		if err != nil {
			t.Fatalf("failed to read metadata: %v", err)
		}
		if meta != nil {
			fmt.Fprintf(&b, "meta %s/%s v%d %s tombstone=%v\n", k.t, k.id, meta.Version, meta.SyncStatus, meta.Tombstone)
		}
		ops, err := s.OperationsForEntity(ctx, k.t, k.id)
		if err != nil {
			t.Fatalf("failed to read log: %v", err)
		}
		fmt.Fprintf(&b, "log %s/%s %d\n", k.t, k.id, len(ops))
	}

	pending, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("failed to count pending: %v", err)
	}
	fmt.Fprintf(&b, "pending %d\n", pending)
	return b.String()
}

// TestWriteAtomicity forces a failure at each stage of every kind of local
// write and checks that nothing of the write survives. Cascading deletes fail
// on the parent's own bookkeeping, after their dependents were written.
func TestWriteAtomicity(t *testing.T) {
	writes := []struct {
		name string
		// failOnHit is the metadata/log stage hit that fails
		failOnHit int
		write     func(ctx context.Context, s *store.Store) error
	}{
		{"create", 1, func(ctx context.Context, s *store.Store) error {
			_, err := s.Content().Create(ctx, newNote("c2", "t", "b"), testUser)
			return err
		}},
		{"update", 1, func(ctx context.Context, s *store.Store) error {
			_, err := s.Content().Update(ctx, "c1", &models.ContentPayload{Title: models.Ptr("changed")}, testUser)
			return err
		}},
		{"content delete", 2, func(ctx context.Context, s *store.Store) error {
			return s.Content().Delete(ctx, "c1", testUser)
		}},
		{"node delete", 2, func(ctx context.Context, s *store.Store) error {
			return s.Graph().DeleteNode(ctx, "n1", testUser)
		}},
	}

	for _, driver := range []string{store.DriverDuckDB, store.DriverSQLite} {
		for _, w := range writes {
			for _, stage := range []string{store.StageRow, store.StageMetadata, store.StageLog} {
				t.Run(driver+"/"+w.name+"/"+stage, func(t *testing.T) {
					ctx := context.Background()
					s := setupStore(t, driver)
					seedAtomicity(t, s)
					before := storeState(t, s)

					boom := errors.New("injected failure")
					failOnHit := w.failOnHit
					if stage == store.StageRow {
						failOnHit = 1
					}
					hits := 0
					s.SetFailpoint(func(at string) error {
						if at != stage {
							return nil
						}
						hits++
						if hits == failOnHit {
							return boom
						}
						return nil
					})

					err := w.write(ctx, s)
					if !errors.Is(err, boom) {
						t.Fatalf("expected injected failure, got %v", err)
					}
					var se *store.Error
					if !errors.As(err, &se) {
						t.Errorf("expected *store.Error, got %T", err)
					}

					s.SetFailpoint(nil)
					if after := storeState(t, s); after != before {
						t.Errorf("failed write left changes behind\nbefore:\n%s\nafter:\n%s", before, after)
					}

					// the store is still usable afterwards
					if err := w.write(ctx, s); err != nil {
						t.Fatalf("write after rollback failed: %v", err)
					}
					if after := storeState(t, s); after == before {
						t.Error("expected the retried write to change the store")
					}
				})
			}
		}
	}
}

// ============================================================================
// Versions and log order
// ============================================================================

func TestVersionsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)
	mustCreateContent(t, s, "c1")

	for i := 0; i < 3; i++ {
		if _, err := s.Content().Update(ctx, "c1", &models.ContentPayload{Content: models.Ptr("edit")}, testUser); err != nil {
			t.Fatalf("update %d failed: %v", i, err)
		}
	}
	if err := s.Content().Delete(ctx, "c1", testUser); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	ops, err := s.OperationsForEntity(ctx, models.EntityContent, "c1")
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if len(ops) != 5 {
		t.Fatalf("expected 5 log entries, got %d", len(ops))
	}
	for i, op := range ops {
		if op.Version != int64(i+1) {
			t.Errorf("entry %d: expected version %d, got %d", i, i+1, op.Version)
		}
		if op.Synced {
			t.Errorf("entry %d should be unsynced", i)
		}
	}
	if ops[0].Operation != models.OperationCreate || ops[4].Operation != models.OperationDelete {
		t.Errorf("unexpected operations: first %s, last %s", ops[0].Operation, ops[4].Operation)
	}
	if ops[4].Data != "" {
		t.Errorf("delete entries carry no payload, got %q", ops[4].Data)
	}

	meta, _ := s.GetMetadata(ctx, models.EntityContent, "c1")
	if meta.Version != 5 || !meta.Tombstone || meta.SyncStatus != models.SyncStatusPending {
		t.Errorf("unexpected metadata after delete: %+v", meta)
	}
}

// TestUnsyncedOperationsInLogOrder checks cross-entity entries come back in
// the order they were written.
func TestUnsyncedOperationsInLogOrder(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)

	mustCreateContent(t, s, "c1")
	tag, err := s.Tags().Create(ctx, &models.TagPayload{ID: "t1", Title: models.Ptr("go")}, testUser)
	if err != nil {
		t.Fatalf("failed to create tag: %v", err)
	}
	if _, err := s.Tags().AddToContent(ctx, "c1", tag.ID, testUser); err != nil {
		t.Fatalf("failed to tag content: %v", err)
	}

	ops, err := s.UnsyncedOperations(ctx)
	if err != nil {
		t.Fatalf("failed to list unsynced: %v", err)
	}
	want := []models.EntityType{models.EntityContent, models.EntityTag, models.EntityContentTag}
	if len(ops) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(ops))
	}
	for i, op := range ops {
		if op.EntityType != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], op.EntityType)
		}
		if i > 0 && op.Seq <= ops[i-1].Seq {
			t.Errorf("entry %d: seq %d not after %d", i, op.Seq, ops[i-1].Seq)
		}
	}
}

func TestMarkOperationSynced(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)
	mustCreateContent(t, s, "c1")

	ops, _ := s.UnsyncedOperations(ctx)
	if _, err := s.Content().Update(ctx, "c1", &models.ContentPayload{Title: models.Ptr("v2")}, testUser); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// acknowledging the older entry must not mark the newer state synced
	if err := s.MarkOperationSynced(ctx, ops[0], 1); err != nil {
		t.Fatalf("failed to mark synced: %v", err)
	}
	meta, _ := s.GetMetadata(ctx, models.EntityContent, "c1")
	if meta.SyncStatus != models.SyncStatusPending {
		t.Errorf("expected pending, got %s", meta.SyncStatus)
	}

	ops, _ = s.UnsyncedOperations(ctx)
	if len(ops) != 1 {
		t.Fatalf("expected 1 unsynced entry, got %d", len(ops))
	}
	if err := s.MarkOperationSynced(ctx, ops[0], 7); err != nil {
		t.Fatalf("failed to mark synced: %v", err)
	}
	meta, _ = s.GetMetadata(ctx, models.EntityContent, "c1")
	if meta.SyncStatus != models.SyncStatusSynced || meta.ServerVersion != 7 {
		t.Errorf("expected synced at server version 7, got %+v", meta)
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestTombstoneHidesAndPurgeRequiresSync(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)
	mustCreateContent(t, s, "c1")

	if err := s.Purge(ctx, models.EntityContent, "c1"); !errors.Is(err, store.ErrNotTombstoned) {
		t.Errorf("expected ErrNotTombstoned for an active entity, got %v", err)
	}

	if err := s.Content().Delete(ctx, "c1", testUser); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Content().GetByID(ctx, "c1", testUser); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("tombstoned content must not be visible, got %v", err)
	}
	page, err := s.Content().GetAll(ctx, testUser, store.ListOptions{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("expected empty listing, got %d items", len(page.Items))
	}
	if state, _ := s.Lifecycle(ctx, models.EntityContent, "c1"); state != models.LifecycleTombstoned {
		t.Errorf("expected tombstoned, got %s", state)
	}

	if err := s.Purge(ctx, models.EntityContent, "c1"); !errors.Is(err, store.ErrPurgeUnsynced) {
		t.Fatalf("expected ErrPurgeUnsynced, got %v", err)
	}

	ops, _ := s.UnsyncedOperations(ctx)
	for _, op := range ops {
		if err := s.MarkOperationSynced(ctx, op, op.Version); err != nil {
			t.Fatalf("failed to mark synced: %v", err)
		}
	}
	n, err := s.PurgeTombstones(ctx)
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged entity, got %d", n)
	}
	if state, _ := s.Lifecycle(ctx, models.EntityContent, "c1"); state != models.LifecyclePurged {
		t.Errorf("expected purged, got %s", state)
	}

	// a recreated id continues the version sequence
	mustCreateContent(t, s, "c1")
	meta, _ := s.GetMetadata(ctx, models.EntityContent, "c1")
	if meta.Version != 3 {
		t.Errorf("expected version 3 after recreate, got %d", meta.Version)
	}
}

func TestUpdateTombstonedIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)
	mustCreateContent(t, s, "c1")
	if err := s.Content().Delete(ctx, "c1", testUser); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, err := s.Content().Update(ctx, "c1", &models.ContentPayload{Title: models.Ptr("x")}, testUser)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Content().Delete(ctx, "c1", testUser); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected second delete to be ErrNotFound, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	s := setupStore(t, store.DriverDuckDB)
	_, err := s.Content().Create(context.Background(), &models.ContentPayload{ID: "c1", Type: models.Ptr("poem"), Content: models.Ptr("x")}, testUser)
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "type" {
		t.Errorf("expected type field, got %q", ve.Field)
	}
}

// ============================================================================
// Listing
// ============================================================================

func TestPaginationIsStable(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		mustCreateContent(t, s, id)
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := s.Content().GetAll(ctx, testUser, store.ListOptions{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		pages++
		for _, c := range page.Items {
			if seen[c.ID] {
				t.Errorf("item %s returned twice", c.ID)
			}
			seen[c.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor

		// a new item inserted mid-walk sorts before the cursor and is not revisited
		if pages == 1 {
			mustCreateContent(t, s, "z")
		}
	}
	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if !seen[id] {
			t.Errorf("item %s never returned", id)
		}
	}
}

func TestSearchAndTypeFilter(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)

	if _, err := s.Content().Create(ctx, newNote("n1", "Go channels", "select statement"), testUser); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Content().Create(ctx, newNote("n2", "100% done", "literal percent"), testUser); err != nil {
		t.Fatal(err)
	}
	link := &models.ContentPayload{ID: "l1", Type: models.Ptr(models.ContentLink), Content: models.Ptr("https://go.dev")}
	if _, err := s.Content().Create(ctx, link, testUser); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts store.ListOptions
		want int
	}{
		{"search title", store.ListOptions{Search: "CHANNELS"}, 1},
		{"search body", store.ListOptions{Search: "statement"}, 1},
		{"percent is literal", store.ListOptions{Search: "%"}, 1},
		{"type filter", store.ListOptions{Type: models.ContentLink}, 1},
		{"no match", store.ListOptions{Search: "rust"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.Content().GetAll(ctx, testUser, tt.opts)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(page.Items) != tt.want {
				t.Errorf("expected %d items, got %d", tt.want, len(page.Items))
			}
		})
	}
}

// ============================================================================
// Checkpoint and retention
// ============================================================================

func TestCheckpointNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)

	if cp, _ := s.Checkpoint(ctx, testUser); cp != 0 {
		t.Fatalf("expected zero checkpoint, got %d", cp)
	}
	if err := s.AdvanceCheckpoint(ctx, testUser, 500); err != nil {
		t.Fatal(err)
	}
	if err := s.AdvanceCheckpoint(ctx, testUser, 200); err != nil {
		t.Fatal(err)
	}
	if cp, _ := s.Checkpoint(ctx, testUser); cp != 500 {
		t.Errorf("expected checkpoint 500, got %d", cp)
	}
}

func TestPruneKeepsUnsynced(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t, store.DriverDuckDB)
	mustCreateContent(t, s, "c1")
	mustCreateContent(t, s, "c2")

	ops, _ := s.UnsyncedOperations(ctx)
	if err := s.MarkOperationSynced(ctx, ops[0], 1); err != nil {
		t.Fatal(err)
	}
	n, err := s.PruneSyncedOperations(ctx, models.NowMs()+1)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned entry, got %d", n)
	}
	if pending, _ := s.PendingCount(ctx); pending != 1 {
		t.Errorf("expected 1 pending entry left, got %d", pending)
	}
}
