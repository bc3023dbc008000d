package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailprobe/mailprobe/internal/csvio"
	"github.com/mailprobe/mailprobe/internal/finder"
	"github.com/mailprobe/mailprobe/internal/job"
	"github.com/mailprobe/mailprobe/internal/proxy"
)

// Version is the reported service version
const Version = "0.1.0"

// VerifyRequest is the request body for POST /verify
type VerifyRequest struct {
	Email string `json:"email"`
	Proxy string `json:"proxy,omitempty"`
}

// FindRequest is the request body for POST /find
type FindRequest struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Domain    string `json:"domain"`
	Proxy     string `json:"proxy,omitempty"`
}

// FindResponse is the response for POST /find. FoundEmail is null when
// no pattern matched.
type FindResponse struct {
	Firstname  string  `json:"firstname"`
	Lastname   string  `json:"lastname"`
	Domain     string  `json:"domain"`
	FoundEmail *string `json:"found_email"`
	Reason     string  `json:"reason"`
}

// BulkResponse is the response for bulk submissions
type BulkResponse struct {
	JobID     string `json:"job_id"`
	TotalRows int    `json:"total_rows"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	ActiveJobs int    `json:"active_jobs"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    Version,
		Uptime:     time.Since(s.startTime).String(),
		ActiveJobs: s.registry.ActiveCount(),
	})
}

// handleVerify handles POST /api/v1/verify
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" {
		s.sendError(w, http.StatusBadRequest, "email is required")
		return
	}

	pxy, err := proxy.Parse(req.Proxy)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid proxy: %v", err))
		return
	}

	res := s.prober.Verify(r.Context(), req.Email, pxy)
	s.sendJSON(w, http.StatusOK, res)
}

// handleFind handles POST /api/v1/find
func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	var req FindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Firstname == "" || req.Lastname == "" || req.Domain == "" {
		s.sendError(w, http.StatusBadRequest, "firstname, lastname and domain are required")
		return
	}

	pxy, err := proxy.Parse(req.Proxy)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid proxy: %v", err))
		return
	}

	res := s.searcher.Find(r.Context(), finder.Query{
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
		Domain:    req.Domain,
	}, pxy)

	resp := FindResponse{
		Firstname: res.Firstname,
		Lastname:  res.Lastname,
		Domain:    res.Domain,
		Reason:    res.Reason,
	}
	if res.FoundEmail != "" {
		resp.FoundEmail = &res.FoundEmail
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleVerifyBulk handles POST /api/v1/verify/bulk
func (s *Server) handleVerifyBulk(w http.ResponseWriter, r *http.Request) {
	s.handleBulk(w, r, csvio.KindVerify)
}

// handleFindBulk handles POST /api/v1/find/bulk
func (s *Server) handleFindBulk(w http.ResponseWriter, r *http.Request) {
	s.handleBulk(w, r, csvio.KindFind)
}

// handleBulk accepts a CSV upload and starts a background job
func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request, kind csvio.Kind) {
	if err := r.ParseMultipartForm(s.config.API.MaxUploadBytes); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		s.sendError(w, http.StatusBadRequest, "file must be a CSV")
		return
	}

	pxy, err := proxy.Parse(r.FormValue("proxy"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid proxy: %v", err))
		return
	}

	var set *csvio.RowSet
	switch kind {
	case csvio.KindVerify:
		set, err = csvio.ParseVerify(file, s.config.Jobs.MaxRows)
	case csvio.KindFind:
		set, err = csvio.ParseFind(file, s.config.Jobs.MaxRows)
	}
	if err != nil {
		var parseErr *csvio.ParseError
		if errors.As(err, &parseErr) {
			s.sendError(w, http.StatusBadRequest, parseErr.Message)
			return
		}
		s.logger.Error("failed to parse upload", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to parse upload")
		return
	}

	// Jobs outlive the upload request
	j := s.runner.Submit(context.Background(), kind, set, header.Filename, pxy)

	s.sendJSON(w, http.StatusAccepted, BulkResponse{
		JobID:     j.ID,
		TotalRows: j.TotalRows,
	})
}

// handleJobProgress handles GET /api/v1/jobs/{id}
func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	j, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.Error("failed to load job", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	s.sendJSON(w, http.StatusOK, j.Snapshot())
}

// handleJobResults handles GET /api/v1/jobs/{id}/results
func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	j, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.Error("failed to load job", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	if j.CurrentStatus() != job.StatusCompleted {
		s.sendError(w, http.StatusConflict, "Job is not completed")
		return
	}

	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = csvio.FilterAll
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", resultFilename(j.Filename, filter)))

	if err := j.WriteResults(w, filter); err != nil {
		s.logger.Error("failed to write results", "id", id, "error", err)
	}
}

// handleTemplate handles GET /api/v1/templates/{kind}
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	tmpl, ok := csvio.Template(csvio.Kind(kind))
	if !ok {
		s.sendError(w, http.StatusBadRequest, "template kind must be verify or find")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", kind+"_template.csv"))
	w.Write([]byte(tmpl))
}

// resultFilename builds the download name from the upload name and
// filter
func resultFilename(upload, filter string) string {
	base := strings.TrimSuffix(upload, ".csv")
	if base == "" {
		base = "results"
	}
	return fmt.Sprintf("%s_%s_results.csv", base, filter)
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
