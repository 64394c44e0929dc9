package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shardnode/shardnode/internal/blacklist"
	"github.com/shardnode/shardnode/internal/config"
	"github.com/shardnode/shardnode/internal/dscomposition"
	"github.com/shardnode/shardnode/internal/guard"
	"github.com/shardnode/shardnode/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.NodeID = "test-node"

	bl := blacklist.New(nil)
	committee := dscomposition.New(nil, guard.New(), bl, nil, nil, nil)

	return NewServer(cfg, bl, nil, committee, nil)
}

func TestHealthEndpointReportsNodeID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["node"] != "test-node" {
		t.Fatalf("expected node id in response, got %+v", body)
	}
}

func TestBlacklistEndpointListsEntries(t *testing.T) {
	s := newTestServer(t)
	banned := types.Peer{IP: nil, Port: 9000, NodeID: "bad-actor"}
	s.blacklist.Add(banned, types.Strict)

	req := httptest.NewRequest(http.MethodGet, "/admin/blacklist", nil)
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Count   int              `json:"count"`
		Entries []blacklistEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Entries[0].Severity != "strict" {
		t.Fatalf("unexpected blacklist response: %+v", body)
	}
}

func TestCommitteeEndpointReflectsSnapshot(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/committee", nil)
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 0 {
		t.Fatalf("expected empty committee, got count %d", body.Count)
	}
}
