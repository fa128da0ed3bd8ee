package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ssrf-beamline/fpsioc/internal/audit"
	"github.com/ssrf-beamline/fpsioc/internal/auth"
	"github.com/ssrf-beamline/fpsioc/internal/telemetry"
)

// RegisterRoutes registers the v1 endpoints on r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1.HandleFunc("/ports", s.protect(s.handleListPorts, auth.ScopeRead)).Methods(http.MethodGet)
	v1.HandleFunc("/ports", s.protect(s.handleConfigurePort, auth.ScopeControl)).Methods(http.MethodPost)
	v1.HandleFunc("/ports/{port}", s.protect(s.handleGetPort, auth.ScopeRead)).Methods(http.MethodGet)
	v1.HandleFunc("/ports/{port}/params", s.protect(s.handleListParams, auth.ScopeRead)).Methods(http.MethodGet)
	v1.HandleFunc("/ports/{port}/params/{param}/{addr:[0-9]+}", s.protect(s.handleReadParam, auth.ScopeRead)).Methods(http.MethodGet)
	v1.HandleFunc("/ports/{port}/params/{param}/{addr:[0-9]+}", s.protect(s.handleWriteParam, auth.ScopeControl)).Methods(http.MethodPut)
	v1.HandleFunc("/ports/{port}/report", s.protect(s.handleReport, auth.ScopeRead)).Methods(http.MethodGet)
	v1.HandleFunc("/ports/{port}/trace", s.protect(s.handleTrace, auth.ScopeControl)).Methods(http.MethodPut)
	v1.HandleFunc("/ports/{port}/monitor", s.protect(s.handleMonitor, auth.ScopeTelemetry)).Methods(http.MethodGet)
	v1.HandleFunc("/trace", s.protect(s.handleTrace, auth.ScopeControl)).Methods(http.MethodPut)
	v1.HandleFunc("/telemetry", s.protect(s.handleTelemetry, auth.ScopeTelemetry)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
}

// protect wraps h with authentication and the given scopes, and records
// the token subject as the audit user.
func (s *Server) protect(h http.HandlerFunc, scopes ...string) http.HandlerFunc {
	if s.auth == nil {
		return h
	}
	withUser := func(w http.ResponseWriter, r *http.Request) {
		if claims := auth.GetClaimsFromRequest(r); claims != nil {
			r = r.WithContext(audit.WithUser(r.Context(), claims.Subject))
		}
		h(w, r)
	}
	return s.auth.Protect(withUser, scopes...)
}

// decodeStrict decodes a single JSON object, rejecting unknown fields and
// trailing data.
func decodeStrict(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return NewAPIError("BAD_REQUEST", "Malformed JSON or unknown fields", http.StatusBadRequest, nil)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return NewAPIError("BAD_REQUEST", "Trailing data after JSON object", http.StatusBadRequest, nil)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	subsystems := map[string]bool{
		"orchestrator": s.orchestrator != nil,
		"telemetry":    s.telemetry != nil,
	}
	health := map[string]interface{}{
		"status":     "ok",
		"uptimeSec":  time.Since(s.startTime).Seconds(),
		"version":    Version,
		"subsystems": subsystems,
	}
	if s.orchestrator != nil {
		health["ports"] = len(s.orchestrator.Ports())
	}
	if s.telemetry != nil {
		health["telemetryClients"] = s.telemetry.Clients()
	}

	if !subsystems["orchestrator"] || !subsystems["telemetry"] {
		health["status"] = "degraded"
		WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
			"One or more subsystems are unavailable", health)
		return
	}
	WriteSuccess(w, health)
}

func (s *Server) handleListPorts(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, s.orchestrator.Ports())
}

func (s *Server) handleConfigurePort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Device *int   `json:"device"`
	}
	if err := decodeStrict(r, &req); err != nil {
		writeAPIError(w, err)
		return
	}
	if req.Name == "" || req.Device == nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "name and device are required", nil)
		return
	}

	if err := s.orchestrator.Configure(r.Context(), req.Name, *req.Device); err != nil {
		writeAPIError(w, err)
		return
	}
	status, err := s.orchestrator.Port(req.Name)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteCreated(w, status)
}

func (s *Server) handleGetPort(w http.ResponseWriter, r *http.Request) {
	status, err := s.orchestrator.Port(mux.Vars(r)["port"])
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, status)
}

func (s *Server) handleListParams(w http.ResponseWriter, r *http.Request) {
	params, err := s.orchestrator.Params(mux.Vars(r)["port"])
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, params)
}

func (s *Server) handleReadParam(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, err := strconv.Atoi(vars["addr"])
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid address", nil)
		return
	}

	reading, err := s.orchestrator.Read(r.Context(), vars["port"], vars["param"], addr)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, reading)
}

func (s *Server) handleWriteParam(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, err := strconv.Atoi(vars["addr"])
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid address", nil)
		return
	}

	var req struct {
		Value *int32 `json:"value"`
	}
	if err := decodeStrict(r, &req); err != nil {
		writeAPIError(w, err)
		return
	}
	if req.Value == nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "value is required", nil)
		return
	}

	if err := s.orchestrator.Write(r.Context(), vars["port"], vars["param"], addr, *req.Value); err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"port":  vars["port"],
		"param": vars["param"],
		"addr":  addr,
		"value": *req.Value,
	})
}

// handleReport writes the port report as plain text. level defaults to 1.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	level := 1
	if q := r.URL.Query().Get("level"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid report level", nil)
			return
		}
		level = n
	}

	var buf bytes.Buffer
	if err := s.orchestrator.Report(r.Context(), &buf, mux.Vars(r)["port"], level); err != nil {
		writeAPIError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleTrace serves both /trace and /ports/{port}/trace; the former
// applies to every port.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeStrict(r, &req); err != nil {
		writeAPIError(w, err)
		return
	}
	if req.Enabled == nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "enabled is required", nil)
		return
	}

	port := mux.Vars(r)["port"]
	if err := s.orchestrator.SetTrace(r.Context(), port, *req.Enabled); err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"port": port, "enabled": *req.Enabled})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry not available", nil)
		return
	}

	// the stream outlives the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	err := s.telemetry.Subscribe(r.Context(), w, r)
	switch {
	case errors.Is(err, telemetry.ErrStopped):
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry stream stopped", nil)
	case err != nil && !errors.Is(err, context.Canceled):
		s.logger.Warn("telemetry subscription ended", "error", err)
	}
}
