package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"mcpconsole-go/internal/logs"
	"mcpconsole-go/internal/router"
	"mcpconsole-go/internal/upstream"
	"mcpconsole-go/internal/upstream/types"
)

const (
	maxBodyBytes        = 1 << 20
	defaultHistoryLimit = 20
	defaultLogLimit     = 100
)

// GET /api/v1/console
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Console.Snapshot())
}

type selectRequest struct {
	ServerID string `json:"server_id"`
}

// POST /api/v1/console/select
// Unknown or hidden servers leave the state unchanged and report selected=false.
func (s *Server) handleSelectServer(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ServerID == "" {
		writeError(w, http.StatusBadRequest, "server_id is required")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Console.SelectServer(req.ServerID))
}

type viewRequest struct {
	View router.View `json:"view"`
}

// PUT /api/v1/console/view
func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.View.IsValid() {
		writeError(w, http.StatusBadRequest, "view is required")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Console.SetView(req.View))
}

// GET /api/v1/servers[?scope=display]
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	var servers []types.Server
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "all":
		servers = s.deps.Servers.Servers()
	case "display":
		servers = s.deps.Console.DisplayServers()
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown scope %q", scope))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"servers": servers,
		"total":   len(servers),
	})
}

// GET /api/v1/servers/{id}
func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	server, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, server)
}

// POST /api/v1/servers/{id}/connect[?wait=true]
// Without wait the attempt runs in the background and 202 is returned. With
// wait the attempt still runs to completion if the client goes away.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	server, ok := s.lookupServer(w, r)
	if !ok {
		return
	}

	if !queryBool(r, "wait") {
		go func() {
			if err := s.deps.Servers.Connect(s.baseCtx, server.ID); err != nil {
				s.logger.Debug("Background connect failed", zap.String("server", server.ID), zap.Error(err))
			}
		}()
		writeJSON(w, http.StatusAccepted, server)
		return
	}

	// a client that stops waiting must not turn the attempt into a failure
	err := s.deps.Servers.Connect(context.WithoutCancel(r.Context()), server.ID)
	s.writeServerResult(w, server.ID, err)
}

// POST /api/v1/servers/{id}/disconnect
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	server, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	err := s.deps.Servers.Disconnect(r.Context(), server.ID)
	s.writeServerResult(w, server.ID, err)
}

// POST /api/v1/servers/{id}/ping
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	server, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	err := s.deps.Servers.Ping(r.Context(), server.ID)
	if errors.Is(err, upstream.ErrNotConnected) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeServerResult(w, server.ID, err)
}

func (s *Server) lookupServer(w http.ResponseWriter, r *http.Request) (types.Server, bool) {
	id := r.PathValue("id")
	server, ok := s.deps.Servers.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("server %q not found", id))
	}
	return server, ok
}

// writeServerResult reports the server after an operation. Failures are
// already recorded on the server and notified, so they map to 502 with the
// updated server attached.
func (s *Server) writeServerResult(w http.ResponseWriter, id string, err error) {
	server, _ := s.deps.Servers.Get(id)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  err.Error(),
			"server": server,
		})
		return
	}
	writeJSON(w, http.StatusOK, server)
}

// GET /api/v1/profiles
func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]interface{}{
		"profiles": s.deps.Profiles.Profiles(),
		"active":   nil,
	}
	if active, ok := s.deps.Profiles.Active(); ok {
		resp["active"] = active
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/v1/profiles/{id}/activate[?wait=true]
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	act := s.deps.Profiles.Activate(r.Context(), id)
	if act == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("profile %q not found", id))
		return
	}

	if !queryBool(r, "wait") {
		writeJSON(w, http.StatusAccepted, act.Record())
		return
	}
	record, err := act.Wait(r.Context())
	if err != nil {
		writeError(w, http.StatusRequestTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// POST /api/v1/profiles/deactivate
func (s *Server) handleDeactivate(w http.ResponseWriter, _ *http.Request) {
	s.deps.Profiles.Deactivate()
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/profiles/{id}/activations[?limit=n]
func (s *Server) handleActivations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.deps.Profiles.Get(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("profile %q not found", id))
		return
	}
	limit, ok := queryLimit(w, r, defaultHistoryLimit)
	if !ok {
		return
	}

	resp := map[string]interface{}{"activations": []interface{}{}}
	if s.deps.History != nil {
		records, err := s.deps.History.ListActivations(id, limit)
		if err != nil {
			s.logger.Error("Failed to list activations", zap.String("profile", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read activation history")
			return
		}
		if records != nil {
			resp["activations"] = records
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/protocol[?server=id&limit=n]
func (s *Server) handleProtocol(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, defaultLogLimit)
	if !ok {
		return
	}
	evs := []logs.ProtocolEvent{}
	if s.deps.Protocol != nil {
		evs = s.deps.Protocol.Recent(r.URL.Query().Get("server"), limit)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": evs,
		"total":  len(evs),
	})
}

// GET /api/v1/failures[?limit=n]
func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, defaultLogLimit)
	if !ok {
		return
	}
	entries := []string{}
	if s.deps.DataDir != "" {
		lines, err := logs.ReadFailureLog(s.deps.DataDir, limit)
		if err != nil {
			s.logger.Error("Failed to read failure log", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read failure log")
			return
		}
		if lines != nil {
			entries = lines
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func queryLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
