// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes the scan, fix, and review surface over HTTP.
// The API is deliberately thin: every durable state change goes
// through lib/store, escrow locks go through the configured gate, and
// long-running work is handed to the job runner rather than performed
// inside a request.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/remedy-foundation/remedy/lib/a11y"
	"github.com/remedy-foundation/remedy/lib/escrow"
	"github.com/remedy-foundation/remedy/lib/score"
	"github.com/remedy-foundation/remedy/lib/store"
)

// RequestFix hands a completed scan to the fix runner. Implementations
// must return quickly; the actual run happens elsewhere.
type RequestFix func(scanID string) error

// Config wires the API server's collaborators.
type Config struct {
	Store *store.Store

	// Gate locks payment before a scan is accepted. Nil disables the
	// escrow requirement (local development).
	Gate escrow.Gate

	// ScanPrice is the amount locked per scan when Gate is set.
	ScanPrice int64

	// RequestFix enqueues a fix run. Nil disables the fix endpoint.
	RequestFix RequestFix

	Logger *slog.Logger
}

// Server is the HTTP API handler set.
type Server struct {
	store      *store.Store
	gate       escrow.Gate
	scanPrice  int64
	requestFix RequestFix
	logger     *slog.Logger
}

// New builds a Server. Store is required.
func New(config Config) (*Server, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("httpapi: Store is required")
	}
	if config.Gate != nil && config.ScanPrice <= 0 {
		return nil, fmt.Errorf("httpapi: ScanPrice must be positive when a gate is configured")
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		store:      config.Store,
		gate:       config.Gate,
		scanPrice:  config.ScanPrice,
		requestFix: config.RequestFix,
		logger:     config.Logger,
	}, nil
}

// Routes returns the mounted router.
func (s *Server) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.logRequests)

	router.Get("/healthz", s.handleHealth)

	router.Route("/api", func(api chi.Router) {
		api.Post("/scans", s.handleCreateScan)
		api.Get("/scans", s.handleListScans)
		api.Get("/scans/{scanID}", s.handleGetScan)
		api.Get("/scans/{scanID}/violations", s.handleListViolations)
		api.Get("/scans/{scanID}/report", s.handleReport)
		api.Post("/scans/{scanID}/fix", s.handleRequestFix)
		api.Get("/scans/{scanID}/fixes", s.handleListFixes)
		api.Post("/scans/{scanID}/refund", s.handleRefund)
		api.Post("/fixes/{fixID}/review", s.handleReviewFix)
	})
	return router
}

// logRequests is a minimal structured access log.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(writer, request.ProtoMajor)
		next.ServeHTTP(wrapped, request)
		s.logger.Info("http request",
			"method", request.Method,
			"path", request.URL.Path,
			"status", wrapped.Status(),
			"duration", time.Since(start).Truncate(time.Millisecond))
	})
}

func (s *Server) handleHealth(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

// createScanRequest is the POST /api/scans body.
type createScanRequest struct {
	Owner     string `json:"owner"`
	RepoOwner string `json:"repoOwner"`
	RepoName  string `json:"repoName"`
	RepoURL   string `json:"repoUrl"`
	Branch    string `json:"branch"`

	// Payer identifies the escrow account charged for this scan.
	// Required when the deployment runs with an escrow gate.
	Payer string `json:"payer"`
}

func (request createScanRequest) validate() error {
	if request.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if request.RepoURL == "" {
		return fmt.Errorf("repoUrl is required")
	}
	if !strings.HasPrefix(request.RepoURL, "https://") {
		return fmt.Errorf("repoUrl must be an https clone URL")
	}
	return nil
}

func (s *Server) handleCreateScan(writer http.ResponseWriter, request *http.Request) {
	var body createScanRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(writer, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if err := body.validate(); err != nil {
		writeError(writer, http.StatusBadRequest, err)
		return
	}

	// Payment locks before any durable record exists: a scan row
	// without a lock would be unbilled work.
	var lock escrow.Lock
	if s.gate != nil {
		if body.Payer == "" {
			writeError(writer, http.StatusBadRequest, fmt.Errorf("payer is required"))
			return
		}
		var err error
		lock, err = s.gate.Lock(request.Context(), s.scanPrice, body.Payer)
		if err != nil {
			writeError(writer, http.StatusPaymentRequired, fmt.Errorf("locking escrow: %w", err))
			return
		}
	}

	scan, err := s.store.CreateScan(request.Context(), store.Scan{
		Owner:     body.Owner,
		RepoOwner: body.RepoOwner,
		RepoName:  body.RepoName,
		RepoURL:   body.RepoURL,
		Branch:    body.Branch,
	})
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	if s.gate != nil {
		if err := s.store.SetEscrow(request.Context(), scan.ID, lock.Owner, lock.Sequence, lock.TxHash, lock.ReleaseEligibleAt); err != nil {
			writeError(writer, http.StatusInternalServerError, err)
			return
		}
		scan, err = s.store.GetScan(request.Context(), scan.ID)
		if err != nil {
			writeError(writer, http.StatusInternalServerError, err)
			return
		}
	}

	s.logger.Info("scan created", "scan_id", scan.ID, "repo", scan.RepoOwner+"/"+scan.RepoName)
	writeJSON(writer, http.StatusCreated, toScanJSON(scan))
}

func (s *Server) handleListScans(writer http.ResponseWriter, request *http.Request) {
	scans, err := s.store.ListScans(request.Context())
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	owner := request.URL.Query().Get("owner")
	out := make([]scanJSON, 0, len(scans))
	for _, scan := range scans {
		if owner != "" && scan.Owner != owner {
			continue
		}
		out = append(out, toScanJSON(scan))
	}
	writeJSON(writer, http.StatusOK, map[string]any{"scans": out})
}

func (s *Server) handleGetScan(writer http.ResponseWriter, request *http.Request) {
	scan, ok := s.loadScan(writer, request)
	if !ok {
		return
	}
	writeJSON(writer, http.StatusOK, toScanJSON(scan))
}

func (s *Server) handleListViolations(writer http.ResponseWriter, request *http.Request) {
	scan, ok := s.loadScan(writer, request)
	if !ok {
		return
	}
	violations, err := s.store.ListViolations(request.Context(), scan.ID)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	out := make([]violationJSON, len(violations))
	for i, violation := range violations {
		out[i] = toViolationJSON(violation)
	}
	writeJSON(writer, http.StatusOK, map[string]any{"violations": out})
}

func (s *Server) handleReport(writer http.ResponseWriter, request *http.Request) {
	scan, ok := s.loadScan(writer, request)
	if !ok {
		return
	}
	violations, err := s.store.ListViolations(request.Context(), scan.ID)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	annotated := make([]a11y.Violation, len(violations))
	for i, violation := range violations {
		annotated[i] = a11y.Violation{
			Rule:         violation.Rule,
			Impact:       a11y.Impact(violation.Impact),
			Criteria:     violation.Criteria,
			AODARelevant: violation.AODARelevant,
			Weight:       violation.Weight,
		}
	}
	writeJSON(writer, http.StatusOK, map[string]any{
		"scan":    toScanJSON(scan),
		"summary": score.Summarize(annotated),
	})
}

func (s *Server) handleRequestFix(writer http.ResponseWriter, request *http.Request) {
	if s.requestFix == nil {
		writeError(writer, http.StatusServiceUnavailable, fmt.Errorf("fixing is not enabled on this deployment"))
		return
	}
	scan, ok := s.loadScan(writer, request)
	if !ok {
		return
	}
	if scan.Status != store.StatusComplete {
		writeError(writer, http.StatusConflict,
			fmt.Errorf("scan is %s; fixing requires a completed scan", scan.Status))
		return
	}
	if err := s.requestFix(scan.ID); err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("fix run requested", "scan_id", scan.ID)
	writeJSON(writer, http.StatusAccepted, map[string]string{"scanId": scan.ID, "status": "queued"})
}

func (s *Server) handleListFixes(writer http.ResponseWriter, request *http.Request) {
	scan, ok := s.loadScan(writer, request)
	if !ok {
		return
	}
	fixes, err := s.store.ListFixes(request.Context(), scan.ID)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	out := make([]fixJSON, len(fixes))
	for i, fix := range fixes {
		out[i] = toFixJSON(fix)
	}
	writeJSON(writer, http.StatusOK, map[string]any{"fixes": out})
}

func (s *Server) handleRefund(writer http.ResponseWriter, request *http.Request) {
	if s.gate == nil {
		writeError(writer, http.StatusServiceUnavailable, fmt.Errorf("no escrow gate configured"))
		return
	}
	scan, ok := s.loadScan(writer, request)
	if !ok {
		return
	}
	if scan.EscrowTxHash == "" {
		writeError(writer, http.StatusConflict, fmt.Errorf("scan has no escrow lock"))
		return
	}
	if scan.EscrowRefunded != nil {
		writeError(writer, http.StatusConflict, fmt.Errorf("scan was already refunded"))
		return
	}
	lock := escrow.Lock{
		Owner:    scan.EscrowOwner,
		Sequence: scan.EscrowSequence,
		TxHash:   scan.EscrowTxHash,
	}
	if scan.EscrowReleaseAt != nil {
		lock.ReleaseEligibleAt = *scan.EscrowReleaseAt
	}
	if err := s.gate.Refund(request.Context(), lock); err != nil {
		writeError(writer, http.StatusConflict, fmt.Errorf("refunding escrow: %w", err))
		return
	}
	if err := s.store.MarkRefunded(request.Context(), scan.ID, time.Now().UTC()); err != nil {
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("escrow refunded", "scan_id", scan.ID)
	writeJSON(writer, http.StatusOK, map[string]string{"scanId": scan.ID, "status": "refunded"})
}

// reviewRequest is the POST /api/fixes/{fixID}/review body.
type reviewRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleReviewFix(writer http.ResponseWriter, request *http.Request) {
	fixID := chi.URLParam(request, "fixID")
	var body reviewRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(writer, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	status := store.FixStatus(body.Status)
	if status != store.FixAccepted && status != store.FixRejected {
		writeError(writer, http.StatusBadRequest,
			fmt.Errorf("status must be %q or %q", store.FixAccepted, store.FixRejected))
		return
	}
	if err := s.store.SetFixStatus(request.Context(), fixID, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(writer, http.StatusNotFound, err)
			return
		}
		writeError(writer, http.StatusInternalServerError, err)
		return
	}
	writeJSON(writer, http.StatusOK, map[string]string{"fixId": fixID, "status": body.Status})
}

// loadScan resolves the {scanID} route parameter, writing the error
// response itself when the scan cannot be served.
func (s *Server) loadScan(writer http.ResponseWriter, request *http.Request) (store.Scan, bool) {
	scanID := chi.URLParam(request, "scanID")
	scan, err := s.store.GetScan(request.Context(), scanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(writer, http.StatusNotFound, err)
		} else {
			writeError(writer, http.StatusInternalServerError, err)
		}
		return store.Scan{}, false
	}
	return scan, true
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}

func writeError(writer http.ResponseWriter, status int, err error) {
	writeJSON(writer, status, map[string]string{"error": err.Error()})
}
