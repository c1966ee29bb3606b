package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/ondemand-client/pkg/job"
	"github.com/tendant/ondemand-client/pkg/ondemand"
	"github.com/tendant/ondemand-client/pkg/runner"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	filePath := flag.String("file", "", "local input file")
	fileURL := flag.String("url", "", "remote input file (http or https)")
	metadataPath := flag.String("metadata", "", "metadata JSON document")
	name := flag.String("name", "", "job name when no metadata document is given")
	version := flag.String("version", "1", "metadata version when no metadata document is given")
	mimeType := flag.String("mime", "", "input mime type when no metadata document is given")
	poll := flag.Bool("poll", false, "submit with polling instead of waiting on the submit call")
	fit := flag.String("fit", "", "shrink image input to fit WIDTHxHEIGHT before upload")
	statusID := flag.String("status", "", "check the status of an existing job and exit")
	flag.Parse()

	cfg := runner.LoadConfig()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer r.Shutdown()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, r.MetricsHandler())
	}

	if *statusID != "" {
		j, err := r.NewJob(ctx, nil, ondemand.NewMetadata("", "", ""))
		if err != nil {
			log.Fatalf("Failed to create job: %v", err)
		}
		resp, err := j.CheckStatus(ctx, *statusID)
		if err != nil {
			log.Fatalf("Status check failed: %v", err)
		}
		printJSON(resp)
		return
	}

	file, err := openInput(*filePath, *fileURL)
	if err != nil {
		log.Fatalf("Invalid input: %v", err)
	}
	if *fit != "" {
		var w, h int
		if _, err := fmt.Sscanf(*fit, "%dx%d", &w, &h); err != nil {
			log.Fatalf("Invalid -fit %q: expected WIDTHxHEIGHT", *fit)
		}
		if file, err = job.FitImage(file, w, h); err != nil {
			log.Fatalf("Invalid -fit: %v", err)
		}
	}

	md, err := loadMetadata(*metadataPath, *version, *mimeType, *name, file.Name())
	if err != nil {
		log.Fatalf("Invalid metadata: %v", err)
	}

	mode := "direct"
	if *poll {
		mode = "polling"
	}
	log.Printf("Submitting %s (product: %s, mode: %s)", file.Name(), cfg.API.ProductID, mode)

	start := time.Now()
	result, j, err := r.Submit(ctx, file, md, *poll)
	if err != nil {
		var reqErr *ondemand.RequestError
		switch {
		case errors.As(err, &reqErr):
			log.Fatalf("Request rejected: %s", reqErr.Error())
		case errors.Is(err, ondemand.ErrCancelled):
			log.Fatalf("Cancelled after %s", time.Since(start).Round(time.Millisecond))
		default:
			log.Fatalf("Job failed: %v", err)
		}
	}

	snap := j.Snapshot()
	log.Printf("✓ Job %s %s in %s (%d status checks)", snap.JobID, snap.State, time.Since(start).Round(time.Millisecond), snap.Checks)
	if result.IsError {
		log.Printf("  Server reported an error: %s", result.Message())
	}
	printJSON(result)
}

func openInput(path, rawURL string) (job.File, error) {
	switch {
	case path != "" && rawURL != "":
		return nil, errors.New("use either -file or -url")
	case path != "":
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		return job.FromPath(filepath.Dir(abs), filepath.Base(abs))
	case rawURL != "":
		return job.FromURL(rawURL, nil)
	default:
		return nil, errors.New("-file or -url is required")
	}
}

func loadMetadata(path, version, mimeType, name, fileName string) (ondemand.Metadata, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return ondemand.Metadata{}, err
		}
		return ondemand.ParseMetadata(data)
	}
	if name == "" {
		name = fileName
	}
	return ondemand.NewMetadata(version, mimeType, name), nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("Failed to print result: %v", err)
	}
}

func serveMetrics(addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	log.Printf("Metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Printf("Metrics server failed: %v", err)
	}
}
