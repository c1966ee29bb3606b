package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/tendant/simple-content/pkg/simplecontent"

	"github.com/tendant/ondemand-client/internal/mockapi"
	"github.com/tendant/ondemand-client/pkg/job"
	"github.com/tendant/ondemand-client/pkg/ondemand"
	"github.com/tendant/ondemand-client/pkg/runner"
)

// Local stand-in for the processing API
// Jobs complete after MOCK_PENDING_CHECKS pending status checks
// Results of /v1/test runs are stored under STORAGE_DIR (./dev-data)
func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	cfg := runner.LoadConfig()
	httpAddr := cfg.MockAddr

	storageDir := os.Getenv("STORAGE_DIR")
	if storageDir == "" {
		storageDir = "./dev-data"
	}

	pending := 2
	if v := os.Getenv("MOCK_PENDING_CHECKS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid MOCK_PENDING_CHECKS: %v", err)
		}
		pending = n
	}

	log.Printf("On-demand mock API")
	log.Printf("  Pending checks before completion: %d", pending)
	log.Printf("  Storage directory: %s", storageDir)
	log.Printf("  HTTP address: %s", httpAddr)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	mock := mockapi.NewServer(
		mockapi.WithPendingChecks(pending),
		mockapi.WithLogger(logger),
	)

	// Create HTTP server
	mux := http.NewServeMux()
	mux.Handle("/", mock.Handler())

	handler := &Handler{addr: httpAddr, storageDir: storageDir, logger: logger}
	mux.HandleFunc("/v1/test", handler.handleTest)

	server := &http.Server{
		Addr:    httpAddr,
		Handler: mux,
	}

	// Start server in goroutine
	go func() {
		log.Printf("✓ Mock API ready on %s", httpAddr)
		log.Printf("")
		log.Printf("Available endpoints:")
		log.Printf("  GET  /health       - Health check")
		log.Printf("  POST /submit-job   - Process a job synchronously")
		log.Printf("  POST /create-job   - Enqueue a job, returns its ID")
		log.Printf("  GET  /{jobId}      - Job status")
		log.Printf("  GET  /v1/test      - Run end-to-end test (submit + poll + store result)")
		log.Printf("")
		log.Printf("Submit against it:")
		log.Printf("  ONDEMAND_BASE_URL=http://localhost%s go run ./cmd/ondemand-submit -file data.csv -poll", httpAddr)
		log.Printf("")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// Handler holds dependencies for the test endpoint
type Handler struct {
	addr       string
	storageDir string
	logger     *slog.Logger
}

// handleTest handles the /v1/test endpoint for quick end-to-end testing
func (h *Handler) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "Method not allowed (use GET or POST)", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	log.Println("=== Running End-to-End Test ===")

	cfg := &runner.Config{}
	cfg.API.BaseURL = "http://localhost" + h.addr
	cfg.API.APIKey = "test-key"
	cfg.API.ProductID = "test-product"
	cfg.Poll.Interval = 200 * time.Millisecond
	cfg.Poll.MaxWait = 30 * time.Second
	cfg.Results.ContentDir = h.storageDir

	rn, err := runner.New(ctx, cfg, h.logger)
	if err != nil {
		log.Printf("Failed to create runner: %v", err)
		http.Error(w, fmt.Sprintf("Runner failed: %v", err), http.StatusInternalServerError)
		return
	}
	defer rn.Shutdown()

	// Step 1: Submit and poll
	log.Println("Step 1: Submitting test job...")
	md := ondemand.NewMetadata("1", "text/csv", "Test Orders")
	md.Mapping = []ondemand.PathMapping{ondemand.NewPathMapping("id", "orderId")}
	file := job.FromBytes("test-orders.csv", []byte("id,total\n1,9.99\n2,4.50\n"), "text/csv")

	result, j, err := rn.Submit(ctx, file, md, true)
	if err != nil {
		log.Printf("Job failed: %v", err)
		http.Error(w, fmt.Sprintf("Job failed: %v", err), http.StatusInternalServerError)
		return
	}
	snap := j.Snapshot()
	log.Printf("✓ Job completed (job_id: %s, checks: %d)", snap.JobID, snap.Checks)

	// Step 2: List stored results
	log.Println("Step 2: Checking stored result...")
	parentID, err := uuid.Parse(j.Request().ResultKey)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid content ID: %v", err), http.StatusInternalServerError)
		return
	}
	derived, err := rn.Content().ListDerivedContent(ctx, simplecontent.WithParentID(parentID))
	if err != nil {
		log.Printf("Failed to list derived content: %v", err)
		http.Error(w, fmt.Sprintf("List derived failed: %v", err), http.StatusInternalServerError)
		return
	}

	log.Printf("✓ Found %d stored result(s)", len(derived))
	for _, d := range derived {
		log.Printf("  - Type: %s, Variant: %s, Status: %s", d.DerivationType, d.Variant, d.Status)
	}

	log.Println("=== Test Complete ===")

	// Return test results
	response := map[string]interface{}{
		"test_status":   "success",
		"job_id":        snap.JobID,
		"checks":        snap.Checks,
		"content_id":    parentID.String(),
		"result":        result,
		"stored_count":  len(derived),
		"stored_result": derived,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
