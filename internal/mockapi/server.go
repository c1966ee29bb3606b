// Package mockapi is an in-process stand-in for the on-demand processing API.
// It backs the package tests and the ondemand-mock development server.
package mockapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/ondemand-client/pkg/ondemand"
)

// Submission is one multipart submission received by the server
type Submission struct {
	Path        string
	Fields      map[string][]string
	FileName    string
	ContentType string
	File        []byte
}

type jobRecord struct {
	result ondemand.ContainerResult
	checks int
}

// Server fakes the processing API
type Server struct {
	pendingChecks int
	apiKeys       map[string]bool
	apiKeyHeader  string
	checkDelay    time.Duration
	dropCheck     int
	submitStatus  int
	logger        *slog.Logger

	mu          sync.Mutex
	jobs        map[string]*jobRecord
	submissions []Submission
	checks      int

	active    atomic.Int32
	maxActive atomic.Int32
}

// Option configures a Server
type Option func(*Server)

// WithPendingChecks sets how many status checks answer completed:false
// before a job completes.
func WithPendingChecks(n int) Option {
	return func(s *Server) { s.pendingChecks = n }
}

// WithAPIKeys restricts accepted API keys. By default any non-empty key passes.
func WithAPIKeys(keys ...string) Option {
	return func(s *Server) {
		for _, k := range keys {
			s.apiKeys[k] = true
		}
	}
}

// WithCheckDelay delays every status response
func WithCheckDelay(d time.Duration) Option {
	return func(s *Server) { s.checkDelay = d }
}

// WithDroppedChecks closes the connection without a response on every
// status check from the nth (1-based) on.
func WithDroppedChecks(n int) Option {
	return func(s *Server) { s.dropCheck = n }
}

// WithSubmitStatus makes every submission fail with the given HTTP status
func WithSubmitStatus(code int) Option {
	return func(s *Server) { s.submitStatus = code }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a mock processing API
func NewServer(opts ...Option) *Server {
	s := &Server{
		apiKeys:      map[string]bool{},
		apiKeyHeader: "X-API-Key",
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		jobs:         map[string]*jobRecord{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit-job", s.HandleSubmit)
	mux.HandleFunc("POST /create-job", s.HandleCreate)
	mux.HandleFunc("GET /{jobID}", s.HandleStatus)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	return mux
}

// Submissions returns the submissions received so far
func (s *Server) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Submission(nil), s.submissions...)
}

// Checks returns the number of status checks received
func (s *Server) Checks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checks
}

// MaxConcurrentChecks returns the highest number of status checks that were
// in flight at the same time.
func (s *Server) MaxConcurrentChecks() int {
	return int(s.maxActive.Load())
}

// HandleSubmit handles POST /submit-job - processes the job and returns the result
func (s *Server) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.acceptSubmission(w, r)
	if !ok {
		return
	}

	result := s.completedResult(uuid.New().String(), sub)
	s.logger.Info("mockapi.submit", "job_id", result.Data.ID, "file", sub.FileName)
	writeJSON(w, http.StatusOK, result)
}

// HandleCreate handles POST /create-job - enqueues the job and returns its ID
func (s *Server) HandleCreate(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.acceptSubmission(w, r)
	if !ok {
		return
	}

	jobID := uuid.New().String()
	s.mu.Lock()
	s.jobs[jobID] = &jobRecord{result: s.completedResult(jobID, sub)}
	s.mu.Unlock()

	s.logger.Info("mockapi.create", "job_id", jobID, "file", sub.FileName)

	// The create endpoint answers with the bare job identifier
	writeJSON(w, http.StatusAccepted, jobID)
}

// HandleStatus handles GET /{jobID} - returns the job status
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		max := s.maxActive.Load()
		if n <= max || s.maxActive.CompareAndSwap(max, n) {
			break
		}
	}

	jobID := r.PathValue("jobID")

	s.mu.Lock()
	s.checks++
	checkNo := s.checks
	rec, found := s.jobs[jobID]
	var resp ondemand.StatusResponse
	if found {
		rec.checks++
		if rec.checks > s.pendingChecks {
			resp = ondemand.StatusResponse{Completed: true, ContainerResult: rec.result}
		} else {
			resp = ondemand.StatusResponse{ContainerResult: ondemand.ContainerResult{
				Data: &ondemand.OnDemandJob{ID: jobID, Status: "Processing"},
			}}
		}
	}
	s.mu.Unlock()

	if s.checkDelay > 0 {
		time.Sleep(s.checkDelay)
	}

	if s.dropCheck > 0 && checkNo >= s.dropCheck {
		s.dropConnection(w)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "job not found"})
		return
	}

	s.logger.Info("mockapi.status", "job_id", jobID, "completed", resp.Completed)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) acceptSubmission(w http.ResponseWriter, r *http.Request) (Submission, bool) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": fmt.Sprintf("Invalid request: %v", err)})
		return Submission{}, false
	}

	apiKey := r.FormValue("apiKey")
	if apiKey == "" {
		apiKey = r.Header.Get(s.apiKeyHeader)
	}
	if apiKey == "" || (len(s.apiKeys) > 0 && !s.apiKeys[apiKey]) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid api key"})
		return Submission{}, false
	}
	if r.FormValue("productId") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "productId is required"})
		return Submission{}, false
	}

	sub := Submission{Path: r.URL.Path, Fields: r.MultipartForm.Value}
	if f, hdr, err := r.FormFile("file"); err == nil {
		data, _ := io.ReadAll(f)
		f.Close()
		sub.FileName = hdr.Filename
		sub.ContentType = hdr.Header.Get("Content-Type")
		sub.File = data
	}

	s.mu.Lock()
	s.submissions = append(s.submissions, sub)
	s.mu.Unlock()

	if s.submitStatus != 0 {
		writeJSON(w, s.submitStatus, map[string]string{"message": "submission rejected"})
		return Submission{}, false
	}
	return sub, true
}

func (s *Server) completedResult(jobID string, sub Submission) ondemand.ContainerResult {
	now := time.Now().UTC()
	records := float64(bytes.Count(sub.File, []byte("\n")))
	return ondemand.ContainerResult{
		Data: &ondemand.OnDemandJob{
			ID:               jobID,
			CreatedDateUTC:   ondemand.Timestamp{Time: now},
			LastUpdatedUTC:   ondemand.Timestamp{Time: now},
			Name:             first(sub.Fields["name"]),
			InputFileName:    sub.FileName,
			InputMime:        sub.ContentType,
			BilledUsage:      float64(len(sub.File)) / 1024,
			RecordCount:      records,
			RecordGroupCount: 1,
			ProcessingTimeMS: 1,
			Status:           "Completed",
			VersionNumber:    first(sub.Fields["version"]),
		},
	}
}

func (s *Server) dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
