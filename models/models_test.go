package models_test

import (
	"encoding/json"
	"testing"

	"synapse/models"
)

// ============================================================================
// Conflict resolution
// ============================================================================

func TestResolveConflict(t *testing.T) {
	tests := []struct {
		name   string
		local  models.Stamp
		remote models.Stamp
		want   models.Resolution
	}{
		{"remote higher version", models.Stamp{Version: 2, LastModified: 900}, models.Stamp{Version: 3, LastModified: 100}, models.ResolutionRemoteVersion},
		{"local higher version", models.Stamp{Version: 4, LastModified: 100}, models.Stamp{Version: 3, LastModified: 900}, models.ResolutionLocalVersion},
		{"same version, remote later", models.Stamp{Version: 3, LastModified: 100}, models.Stamp{Version: 3, LastModified: 200}, models.ResolutionRemoteTimestamp},
		{"same version, local later", models.Stamp{Version: 3, LastModified: 200}, models.Stamp{Version: 3, LastModified: 100}, models.ResolutionLocalTimestamp},
		{"exact tie", models.Stamp{Version: 3, LastModified: 100}, models.Stamp{Version: 3, LastModified: 100}, models.ResolutionRemoteTie},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := models.ResolveConflict(tt.local, tt.remote)
			if got != tt.want {
				t.Errorf("ResolveConflict() = %s, want %s", got, tt.want)
			}
		})
	}

	if !models.ResolutionRemoteTie.RemoteWins() || models.ResolutionLocalTimestamp.RemoteWins() {
		t.Error("RemoteWins() disagrees with the resolution names")
	}
}

// ============================================================================
// Payload decoding
// ============================================================================

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name       string
		entityType models.EntityType
		op         models.Operation
		raw        string
		wantErr    bool
	}{
		{"content create", models.EntityContent, models.OperationCreate, `{"id":"c1","type":"note","content":"x"}`, false},
		{"content create missing body", models.EntityContent, models.OperationCreate, `{"id":"c1","type":"note"}`, true},
		{"content bad kind", models.EntityContent, models.OperationUpdate, `{"id":"c1","type":"poem"}`, true},
		{"content empty update", models.EntityContent, models.OperationUpdate, `{"id":"c1"}`, true},
		{"unknown field", models.EntityContent, models.OperationUpdate, `{"id":"c1","title":"t","extra":1}`, true},
		{"tag blank title", models.EntityTag, models.OperationCreate, `{"id":"t1","title":"  "}`, true},
		{"content tag update", models.EntityContentTag, models.OperationUpdate, `{"content_id":"c1","tag_id":"t1"}`, true},
		{"content node without content id", models.EntityNode, models.OperationCreate, `{"id":"n1","type":"content"}`, true},
		{"concept node", models.EntityNode, models.OperationCreate, `{"id":"n1","type":"concept"}`, false},
		{"self edge", models.EntityEdge, models.OperationCreate, `{"id":"e1","from_node":"n1","to_node":"n1","relation_type":"r"}`, true},
		{"delete without payload", models.EntityEdge, models.OperationDelete, ``, false},
		{"update without payload", models.EntityTag, models.OperationUpdate, `null`, true},
		{"unknown entity", models.EntityType("widget"), models.OperationCreate, `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := models.DecodePayload(tt.entityType, tt.op, []byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if _, ok := err.(*models.ValidationError); !ok {
					t.Errorf("expected *ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestChangeDecodeChecksEnvelope(t *testing.T) {
	c := models.Change{
		EntityType: models.EntityTag,
		EntityID:   "t2",
		Operation:  models.OperationCreate,
		Payload:    json.RawMessage(`{"id":"t1","title":"go"}`),
		Version:    1,
	}
	if _, err := c.Decode(); err == nil {
		t.Error("expected an id mismatch to be rejected")
	}

	c.EntityID = "t1"
	p, err := c.Decode()
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if tp, ok := p.(*models.TagPayload); !ok || *tp.Title != "go" {
		t.Errorf("unexpected payload %#v", p)
	}

	c.Version = 0
	if _, err := c.Decode(); err == nil {
		t.Error("expected a non-positive version to be rejected")
	}

	ct := models.Change{
		EntityType: models.EntityContentTag,
		EntityID:   models.ContentTagID("c1", "t1"),
		Operation:  models.OperationCreate,
		Payload:    json.RawMessage(`{"content_id":"c1","tag_id":"t1"}`),
		Version:    1,
	}
	if _, err := ct.Decode(); err != nil {
		t.Errorf("association ids are derived from the pair: %v", err)
	}
}

// ============================================================================
// Lifecycle, cursors, snapshots
// ============================================================================

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		from, to models.Lifecycle
		want     bool
	}{
		{models.LifecycleActive, models.LifecycleTombstoned, true},
		{models.LifecycleActive, models.LifecyclePurged, false},
		{models.LifecycleTombstoned, models.LifecyclePurged, true},
		{models.LifecycleTombstoned, models.LifecycleActive, true},
		{models.LifecyclePurged, models.LifecycleTombstoned, false},
		{models.LifecyclePurged, models.LifecycleActive, true},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	var m *models.SyncMetadata
	if m.Lifecycle() != models.LifecyclePurged {
		t.Error("missing metadata should read as purged")
	}
}

func TestCursorRoundTrip(t *testing.T) {
	in := models.Cursor{CreatedAt: 1700000000123, ID: "c-42"}
	out, ok := models.DecodeCursor(models.EncodeCursor(in))
	if !ok || out != in {
		t.Errorf("got %+v (ok=%v), want %+v", out, ok, in)
	}

	for _, bad := range []string{"", "!!!", "bm8tcGlwZQ"} {
		if _, ok := models.DecodeCursor(bad); ok {
			t.Errorf("DecodeCursor(%q) should fail", bad)
		}
	}
	if models.EncodeCursor(models.Cursor{}) != "" {
		t.Error("zero cursor should encode to an empty string")
	}
}

func TestSnapshotMsgPack(t *testing.T) {
	snap := &models.Snapshot{
		Content: []models.Content{{ID: "c1", Type: models.ContentNote, Content: "body", CreatedAt: 1, UpdatedAt: 2, UserID: "u1"}},
		Tags:    []models.Tag{{ID: "t1", Title: "go", UserID: "u1"}},
		Nodes:   []models.Node{{ID: "n1", Type: models.NodeConcept, Metadata: &models.NodeMetadata{Label: "idea"}}},
		UserID:  "u1",
		TakenAt: 99,
	}

	b, err := models.EncodeSnapshotMsgPack(snap)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := models.DecodeSnapshotMsgPack(b)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Len() != 3 || got.Content[0].Content != "body" || got.Nodes[0].Metadata.Label != "idea" {
		t.Errorf("snapshot did not survive encoding: %+v", got)
	}

	if _, err := models.DecodeSnapshotMsgPack([]byte("not msgpack")); err == nil {
		t.Error("expected garbage input to fail")
	}
}
