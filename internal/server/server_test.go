package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dagucloud/scriptd/internal/auth"
	"github.com/dagucloud/scriptd/internal/eventbus"
	"github.com/dagucloud/scriptd/internal/queue"
	"github.com/dagucloud/scriptd/internal/runtime/mock"
	"github.com/dagucloud/scriptd/internal/script"
)

func newTestServer(t *testing.T, authEnabled bool) (*Server, *auth.FileStore) {
	t.Helper()
	dir := t.TempDir()

	store, err := auth.NewFileStore(filepath.Join(dir, "keys.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	bus := eventbus.New(nil)
	registry := script.NewRegistry(nil, nil)
	q := queue.New(queue.Config{}, registry, &mock.Runtime{}, bus, nil)

	deps := Dependencies{
		Registry:       registry,
		Queue:          q,
		Auth:           store,
		AuthEnabled:    authEnabled,
		Bus:            bus,
		WatchDir:       dir,
		WatchExtension: ".scr",
		Version:        "test",
		StartedAt:      time.Now(),
	}
	return New(Config{}, deps, nil), store
}

func TestHealthRequiresNoAuth(t *testing.T) {
	s, _ := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok=true, got %v", body)
	}
}

func TestTasksListRejectsMissingBearer(t *testing.T) {
	s, _ := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTasksListAllowsValidReadKey(t *testing.T) {
	s, store := newTestServer(t, true)
	token := createKey(t, store, auth.PermRead)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTaskRunRejectsReadOnlyKey(t *testing.T) {
	s, store := newTestServer(t, true)
	token := createKey(t, store, auth.PermRead)

	body, _ := json.Marshal(taskRunRequest{Code: "click(1,1)"})
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/run", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a read-only key, got %d", rec.Code)
	}
}

func TestTaskRunWithInlineCodeIsAccepted(t *testing.T) {
	s, store := newTestServer(t, true)
	token := createKey(t, store, auth.PermExecute)

	body, _ := json.Marshal(taskRunRequest{Code: "click(1,1)", Name: "demo"})
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/run", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp taskRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.TaskID == "" || resp.Name != "demo" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClusterRoutesUnavailableWithoutClustering(t *testing.T) {
	s, store := newTestServer(t, true)
	token := createKey(t, store, auth.PermRead)

	req := httptest.NewRequest(http.MethodGet, "/api/cluster/nodes", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with clustering disabled, got %d", rec.Code)
	}
}

func TestAuthDisabledBypassesGate(t *testing.T) {
	s, _ := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", rec.Code)
	}
}

func TestUnknownRouteReturnsDiscoveryHint(t *testing.T) {
	s, _ := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if _, ok := body["routes"]; !ok {
		t.Fatalf("expected a routes discovery hint, got %v", body)
	}
}

func createKey(t *testing.T, store *auth.FileStore, perms ...auth.Permission) string {
	t.Helper()
	token, err := auth.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	key, err := auth.NewAPIKey(t.Name(), auth.NewPermissionSet(perms...), token)
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	if err := store.Create(context.Background(), key); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return token
}
