package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marcusd/internal/journal"
	"github.com/marcusd/internal/mcp"
	"github.com/marcusd/internal/persistence"
	"github.com/marcusd/internal/project"
	"github.com/marcusd/internal/types"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	cfg := types.DefaultConfig()
	cfg.EventBus.PersistEvents = false
	store := persistence.NewMemoryStore()

	projects, err := project.NewManager(context.Background(), project.Deps{
		Store:  store,
		Config: cfg,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	dispatcher := mcp.NewDispatcher(projects, journal.New(store), nil)
	return NewServer(dispatcher, projects, NewHub())
}

func postTool(t *testing.T, s *Server, req types.ToolRequest) types.ToolResponse {
	t.Helper()

	body, _ := json.Marshal(req)
	r := httptest.NewRequest(http.MethodPost, "/api/tools/call", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp types.ToolResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t)

	r := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestToolCallOverHTTP(t *testing.T) {
	s := testServer(t)

	resp := postTool(t, s, types.ToolRequest{Tool: "ping", ClientID: "c1"})
	if !resp.Success {
		t.Fatalf("ping failed: %+v", resp.Error)
	}

	// Authenticate, create a project, and read status back over REST
	resp = postTool(t, s, types.ToolRequest{
		Tool: "authenticate", ClientID: "dev",
		Arguments: map[string]interface{}{"client_id": "dev", "client_type": "test", "role": "developer"},
	})
	if !resp.Success {
		t.Fatalf("authenticate: %+v", resp.Error)
	}

	resp = postTool(t, s, types.ToolRequest{
		Tool: "create_project", ClientID: "dev",
		Arguments: map[string]interface{}{"name": "demo", "description": "demo project"},
	})
	if !resp.Success {
		t.Fatalf("create_project: %+v", resp.Error)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	var status map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &status)
	if status["project_name"] != "demo" {
		t.Errorf("status = %v", status)
	}
}

func TestMalformedToolRequest(t *testing.T) {
	s := testServer(t)

	r := httptest.NewRequest(http.MethodPost, "/api/tools/call", bytes.NewReader([]byte("{broken")))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUnauthorizedToolOverHTTP(t *testing.T) {
	s := testServer(t)

	resp := postTool(t, s, types.ToolRequest{
		Tool: "create_project", ClientID: "stranger",
		Arguments: map[string]interface{}{"name": "x", "description": "y"},
	})
	if resp.Success {
		t.Fatal("unauthenticated create_project must fail")
	}
	if resp.Error.Kind != "security" {
		t.Errorf("kind = %s, want security", resp.Error.Kind)
	}
}
