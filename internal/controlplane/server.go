package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/qgate/internal/logging"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint.
var Version = "dev"

// GenerationHeader carries the catalog generation of a GET /files listing.
const GenerationHeader = "X-Catalog-Generation"

// Server provides the HTTP API for qgate.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
	logger  *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, logger *zap.Logger) *Server {
	s := &Server{
		service: service,
		addr:    addr,
		logger:  logging.OrNop(logger).Named("http"),
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler builds the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Catalog endpoints
	mux.HandleFunc("/files", s.handleFiles)
	mux.HandleFunc("/files/select", s.handleSelect)

	// Change detection
	mux.HandleFunc("/changes", s.handleChanges)
	mux.HandleFunc("/changes/match", s.handleMatch)

	// Test runs
	mux.HandleFunc("/runs", s.handleRuns)
	mux.HandleFunc("/runs/", s.handleRunAction)
	mux.HandleFunc("/reports/", s.handleReport)

	// Backups
	mux.HandleFunc("/backups", s.handleBackups)
	mux.HandleFunc("/backups/", s.handleBackupByID)

	mux.HandleFunc("/audit", s.handleAudit)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting qgate daemon", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Ping(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Catalog Handlers ---

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.service.ListFiles(r.Context())
	w.Header().Set(GenerationHeader, strconv.FormatUint(snap.Generation, 10))
	writeJSON(w, http.StatusOK, snap.Files)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sel, err := s.service.Select(r.Context(), r.URL.Query().Get("preset"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

// --- Change Handlers ---

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries, err := s.service.Changes(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type matchRequest struct {
	Paths []string `json:"paths"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req matchRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.service.MatchPaths(r.Context(), req.Paths))
}

// --- Run Handlers ---

// handleRuns handles POST /runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req RunRequest
	if !decode(w, r, &req) {
		return
	}
	started, err := s.service.StartRun(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, started)
}

type decisionRequest struct {
	SessionID   string `json:"session_id"`
	Description string `json:"description"`
}

// handleRunAction handles /runs/{current,cancel,approve,dismiss}
func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/runs/")

	switch {
	case action == "current" && r.Method == http.MethodGet:
		v, err := s.service.CurrentRun()
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	case action == "cancel" && r.Method == http.MethodPost:
		s.service.CancelRun()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	case action == "approve" && r.Method == http.MethodPost:
		var req decisionRequest
		if !decode(w, r, &req) {
			return
		}
		b, err := s.service.Approve(r.Context(), req.SessionID, req.Description)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	case action == "dismiss" && r.Method == http.MethodPost:
		var req decisionRequest
		if !decode(w, r, &req) {
			return
		}
		if err := s.service.Dismiss(req.SessionID); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleReport handles GET /reports/{file_id}
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/reports/"))
	if err != nil {
		http.Error(w, "file id must be an integer", http.StatusBadRequest)
		return
	}
	text, err := s.service.Report(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

// --- Backup Handlers ---

// handleBackups handles GET, POST and DELETE /backups
func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		backups, err := s.service.ListBackups(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, backups)
	case http.MethodPost:
		var req CreateBackupRequest
		if !decode(w, r, &req) {
			return
		}
		b, err := s.service.CreateBackup(r.Context(), req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	case http.MethodDelete:
		n, err := s.service.Cleanup(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

// handleBackupByID handles /backups/{id}, /backups/stats, /backups/restore and /backups/delete
func (s *Server) handleBackupByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/backups/")
	if id == "" {
		http.Error(w, "backup id required", http.StatusBadRequest)
		return
	}

	switch {
	case id == "stats" && r.Method == http.MethodGet:
		stats, err := s.service.BackupStats(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case id == "restore" && r.Method == http.MethodPost:
		var req idsRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := s.service.Restore(r.Context(), req.IDs)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case id == "delete" && r.Method == http.MethodPost:
		var req idsRequest
		if !decode(w, r, &req) {
			return
		}
		// Partial failures are reported per item in the body.
		res, err := s.service.BulkDelete(r.Context(), req.IDs)
		if res == nil {
			s.writeError(w, err)
			return
		}
		if err != nil {
			s.logger.Warn("bulk delete incomplete", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, res)
	case r.Method == http.MethodGet:
		b, err := s.service.GetBackup(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	case r.Method == http.MethodDelete:
		if err := s.service.DeleteBackup(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleAudit handles GET /audit?limit=N
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.service.Audit(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid json: %v", err)})
		return false
	}
	return true
}
