package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"synapse/backup"
	"synapse/coordinator"
	"synapse/models"
	"synapse/session"
	"synapse/store"
	"synapse/syncer"
)

const testUser = "u1"

// syncAPI accepts every push and has nothing to pull.
func syncAPI() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(syncer.PullResponse{Changes: []models.Change{}})
	})
	mux.HandleFunc("/api/sync/push", func(w http.ResponseWriter, r *http.Request) {
		var req syncer.PushRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		var resp syncer.PushResponse
		for _, op := range req.Operations {
			resp.Results = append(resp.Results, syncer.PushResult{ID: op.ID, Accepted: true, ServerVersion: op.Version})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/sync/initial", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"tags":[],"content_tags":[],"nodes":[],"edges":[]}`))
	})
	return mux
}

func setupEngine(t *testing.T, baseURL string) (*store.Store, *syncer.Engine) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{
		Driver: store.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "session.db"),
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	eng := syncer.New(st, syncer.NewHTTPRemote(baseURL, "", time.Second), syncer.Options{UserID: testUser})
	return st, eng
}

type tabPort struct {
	id string
	ch chan coordinator.Message
}

func (p *tabPort) ID() string { return p.id }
func (p *tabPort) Send(m coordinator.Message) error {
	select {
	case p.ch <- m:
	default:
	}
	return nil
}

// ============================================================================
// Tests
// ============================================================================

func TestStartWithoutCoordinatorFallsBack(t *testing.T) {
	srv := httptest.NewServer(syncAPI())
	defer srv.Close()
	_, eng := setupEngine(t, srv.URL)
	ctx := context.Background()

	s := session.New(eng, session.Options{SyncInterval: time.Hour})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !s.Degraded() {
		t.Error("expected degraded mode without a coordinator")
	}
	if !eng.Status(ctx).AutoSync {
		t.Error("expected engine auto sync in degraded mode")
	}

	s.Stop()
	s.Stop()
	if eng.Status(ctx).AutoSync {
		t.Error("expected auto sync stopped")
	}
}

func TestStartOfflineIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(syncAPI())
	url := srv.URL
	srv.Close()
	_, eng := setupEngine(t, url)

	s := session.New(eng, session.Options{SyncInterval: time.Hour})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("offline start should succeed, got %v", err)
	}
	defer s.Stop()
}

func TestSyncNowAnnouncesToSiblings(t *testing.T) {
	srv := httptest.NewServer(syncAPI())
	defer srv.Close()
	st, eng := setupEngine(t, srv.URL)
	ctx := context.Background()

	coord := coordinator.New(eng, coordinator.Options{PollInterval: time.Hour})
	coord.Start(ctx)
	defer coord.Stop()

	sibling := &tabPort{id: "tab-2", ch: make(chan coordinator.Message, 8)}
	if err := coord.Connect(ctx, sibling); err != nil {
		t.Fatal(err)
	}

	s := session.New(eng, session.Options{Coordinator: coord})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !s.Joined() {
		if time.Now().After(deadline) {
			t.Fatal("session never received INIT_SUCCESS")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.Degraded() {
		t.Error("session should not fall back while a coordinator is present")
	}

	if _, err := st.Content().Create(ctx, &models.ContentPayload{
		ID: "n1", Type: models.Ptr(models.ContentNote), Content: models.Ptr("x"),
	}, testUser); err != nil {
		t.Fatal(err)
	}

	// the coordinator's first poll may still hold the engine
	var res syncer.Result
	for {
		var err error
		res, err = s.SyncNow(ctx)
		if err == nil {
			break
		}
		if err != syncer.ErrSyncInProgress || time.Now().After(deadline) {
			t.Fatalf("sync failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if res.Pushed != 1 {
		t.Errorf("expected 1 pushed, got %+v", res)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-sibling.ch:
			if msg.Type != coordinator.MsgBroadcast {
				continue
			}
			var ev coordinator.BroadcastEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if ev.Event != coordinator.EventSyncCompleted {
				t.Errorf("expected %s, got %s", coordinator.EventSyncCompleted, ev.Event)
			}
			return
		case <-timeout:
			t.Fatal("sibling never heard about the sync")
		}
	}
}

func TestStartRunsBackups(t *testing.T) {
	srv := httptest.NewServer(syncAPI())
	defer srv.Close()
	st, eng := setupEngine(t, srv.URL)

	mgr, err := backup.NewManager(st, backup.Options{Dir: t.TempDir(), UserID: testUser})
	if err != nil {
		t.Fatal(err)
	}
	s := session.New(eng, session.Options{
		SyncInterval: time.Hour, Backups: mgr, BackupInterval: 20 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := mgr.Latest(); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no backup was taken")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDefaultFallbackInterval(t *testing.T) {
	eng := syncer.New(nil, nil, syncer.Options{UserID: testUser})
	s := session.New(eng, session.Options{})
	if s.SyncInterval() != 5*time.Second {
		t.Errorf("expected a 5s fallback interval, got %v", s.SyncInterval())
	}
}
