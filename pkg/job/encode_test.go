package job

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/tendant/ondemand-client/pkg/ondemand"
)

func TestExtractJobID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bare string", `"abc-123"`, "abc-123"},
		{"jobId", `{"jobId":"j1"}`, "j1"},
		{"id", `{"id":"j2"}`, "j2"},
		{"Id", `{"Id":"j3"}`, "j3"},
		{"envelope", `{"Data":{"Id":"j4"},"IsError":false}`, "j4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJobID(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("extractJobID: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJobIDMissing(t *testing.T) {
	for _, raw := range []string{``, `""`, `{}`, `{"Data":null}`} {
		if _, err := extractJobID(json.RawMessage(raw)); !errors.Is(err, ondemand.ErrMissingJobID) {
			t.Errorf("extractJobID(%q) = %v, want ErrMissingJobID", raw, err)
		}
	}

	var parseErr *ondemand.ParseError
	if _, err := extractJobID(json.RawMessage(`[1,2]`)); !errors.As(err, &parseErr) {
		t.Errorf("extractJobID(array) = %v, want ParseError", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.WithDefaults()
	if cfg.SubmitPath != "/submit-job" || cfg.CreatePath != "/create-job" || cfg.StatusPath != "/{jobId}" {
		t.Errorf("paths = %+v", cfg)
	}
	if cfg.Interval.Seconds() != 5 || cfg.MaxWait.Hours() != 1 || cfg.MaxChecks != 0 {
		t.Errorf("poll bounds = %+v", cfg)
	}
}

func TestStatusPathEscapesID(t *testing.T) {
	j := New(nil, Request{}, WithConfig(Config{StatusPath: "/jobs/{jobId}/status"}))
	if got := j.statusPath("a b/c"); got != "/jobs/a%20b%2Fc/status" {
		t.Errorf("statusPath = %q", got)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateCreated: "created", StateSubmitting: "submitting", StatePolling: "polling",
		StateCompleted: "completed", StateFailed: "failed", State(99): "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
	if !StateFailed.Terminal() || StatePolling.Terminal() {
		t.Error("Terminal mismatch")
	}
}
