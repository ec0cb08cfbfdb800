package docserver

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/grindlog/grind/internal/docstore"
)

// startTestServer boots a server on an ephemeral port over an in-memory
// store and returns a remote client pointed at it.
func startTestServer(t *testing.T, token string) (*Server, docstore.Store) {
	t.Helper()

	store := docstore.NewMemory()
	srv, err := New(store, &Config{
		Addr:   "127.0.0.1:0",
		Token:  token,
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	client, err := docstore.NewRemote(docstore.RemoteConfig{
		BaseURL: "http://" + srv.Addr(),
		Token:   token,
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to create remote client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return srv, client
}

func TestRemoteRoundTrip(t *testing.T) {
	_, client := startTestServer(t, "")
	ctx := context.Background()

	if _, ok, err := client.Get(ctx, "daily"); err != nil || ok {
		t.Fatalf("Get() on empty store = (ok=%v, err=%v)", ok, err)
	}

	if err := client.Set(ctx, "daily", docstore.Document{"currentDay": 2}, false); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := client.Set(ctx, "daily", docstore.Document{"dailyProblems": map[string]any{}}, true); err != nil {
		t.Fatalf("Set(merge) error: %v", err)
	}

	doc, ok, err := client.Get(ctx, "daily")
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v, %v)", doc, ok, err)
	}
	if doc["currentDay"] != float64(2) {
		t.Errorf("merge dropped currentDay: %v", doc)
	}

	if err := client.UpdateFields(ctx, "solved", []docstore.FieldUpdate{
		{Path: []string{"problemData", "id-1", "name"}, Value: "Two Sum"},
	}); err != nil {
		t.Fatalf("UpdateFields() error: %v", err)
	}
	if err := client.DeleteField(ctx, "solved", "problemData", "id-1"); err != nil {
		t.Fatalf("DeleteField() error: %v", err)
	}

	doc, _, _ = client.Get(ctx, "solved")
	pd, _ := doc["problemData"].(map[string]any)
	if len(pd) != 0 {
		t.Errorf("problemData not emptied: %v", pd)
	}
}

func TestWatchPushesSnapshots(t *testing.T) {
	srv, client := startTestServer(t, "")
	ctx := context.Background()

	var mu sync.Mutex
	var snaps []docstore.Snapshot
	cancel, err := client.Subscribe("daily", func(s docstore.Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer cancel()

	// Wait for the watch socket to register before writing.
	waitFor(t, 2*time.Second, func() bool {
		return srv.WatcherCount() > 0
	})

	if err := client.Set(ctx, "daily", docstore.Document{"currentDay": 4}, false); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	last := snaps[len(snaps)-1]
	if !last.Exists || last.Doc != "daily" {
		t.Fatalf("snapshot = %+v", last)
	}
	if last.Data["currentDay"] != float64(4) {
		t.Errorf("snapshot currentDay = %v", last.Data["currentDay"])
	}
}

func TestTokenRequired(t *testing.T) {
	srv, _ := startTestServer(t, "secret")

	resp, err := http.Get("http://" + srv.Addr() + "/v1/docs/daily")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	authed, err := docstore.NewRemote(docstore.RemoteConfig{
		BaseURL: "http://" + srv.Addr(),
		Token:   "secret",
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer authed.Close()

	if err := authed.Set(context.Background(), "daily", docstore.Document{"currentDay": 1}, false); err != nil {
		t.Errorf("authorized Set() error: %v", err)
	}
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before deadline")
	}
}
