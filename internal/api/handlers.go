package api

import (
	"encoding/json"
	"net/http"

	"github.com/shardnode/shardnode/pkg/types"
)

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type statusResponse struct {
	NodeID        string `json:"node_id"`
	Address       string `json:"address"`
	Uptime        string `json:"uptime"`
	ActivePeers   int    `json:"active_peers"`
	BlacklistSize int    `json:"blacklist_size"`
	CommitteeSize int    `json:"committee_size"`
}

type blacklistEntry struct {
	PeerKey  string `json:"peer_key"`
	Severity string `json:"severity"`
}

type committeeEntry struct {
	PubKey string `json:"pub_key"`
	Peer   string `json:"peer"`
}

type peerEntry struct {
	Peer string `json:"peer"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"node":   s.config.NodeID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		NodeID:  s.config.NodeID,
		Address: s.config.FullAddress(),
		Uptime:  formatUptime(s.Uptime()),
	}
	if s.sendJobs != nil {
		resp.ActivePeers = s.sendJobs.ActivePeerCount()
	}
	if s.blacklist != nil {
		resp.BlacklistSize = s.blacklist.Size()
	}
	if s.committee != nil {
		resp.CommitteeSize = s.committee.Size()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	if s.blacklist == nil {
		writeError(w, http.StatusServiceUnavailable, "blacklist not configured")
		return
	}
	entries := s.blacklist.Entries()
	out := make([]blacklistEntry, 0, len(entries))
	for key, severity := range entries {
		out = append(out, blacklistEntry{PeerKey: key, Severity: severity.String()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": out,
		"count":   len(out),
	})
}

func (s *Server) handleCommittee(w http.ResponseWriter, r *http.Request) {
	if s.committee == nil {
		writeError(w, http.StatusServiceUnavailable, "committee not configured")
		return
	}
	members := s.committee.Snapshot()
	out := make([]committeeEntry, 0, len(members))
	for _, m := range members {
		out = append(out, committeeEntry{PubKey: string(m.PubKey), Peer: peerDisplay(m.Peer)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"members": out,
		"count":   len(out),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if s.sendJobs == nil {
		writeError(w, http.StatusServiceUnavailable, "send jobs not configured")
		return
	}
	peers := s.sendJobs.Peers()
	out := make([]peerEntry, 0, len(peers))
	for _, p := range peers {
		out = append(out, peerEntry{Peer: peerDisplay(p)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"peers": out,
		"count": len(out),
	})
}

func peerDisplay(p types.Peer) string {
	if !p.IsRoutable() {
		return "-"
	}
	return p.String()
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}
