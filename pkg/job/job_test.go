package job_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tendant/ondemand-client/internal/ledger"
	"github.com/tendant/ondemand-client/internal/mockapi"
	"github.com/tendant/ondemand-client/pkg/client"
	"github.com/tendant/ondemand-client/pkg/job"
	"github.com/tendant/ondemand-client/pkg/ondemand"
)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() job.Config {
	return job.Config{Interval: 5 * time.Millisecond, MaxWait: 5 * time.Second}
}

func newClient(t *testing.T, handler http.Handler) *client.Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c, err := client.New(client.Config{BaseURL: ts.URL}, client.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c
}

func newMock(t *testing.T, opts ...mockapi.Option) (*mockapi.Server, *client.Client) {
	t.Helper()
	s := mockapi.NewServer(opts...)
	return s, newClient(t, s.Handler())
}

func testRequest() job.Request {
	md := ondemand.NewMetadata("1.0", "text/csv", "orders")
	md.Mapping = []ondemand.PathMapping{
		ondemand.NewPathMapping("order_id", "id"),
		ondemand.NewPathMapping("total", "amount").WithDefault("0"),
	}
	md.GroupID = ondemand.StringPtr("g-1")
	return job.Request{
		APIKey:    "key-1",
		ProductID: "product-1",
		Metadata:  md,
		File:      job.FromBytes("orders.csv", []byte("order_id,total\n1,9.99\n"), "text/csv"),
	}
}

func newJob(c *client.Client, cfg job.Config, opts ...job.Option) *job.Job {
	opts = append([]job.Option{job.WithConfig(cfg), job.WithLogger(testLogger())}, opts...)
	return job.New(c, testRequest(), opts...)
}

// ── Synchronous Submission ────────────────────────────

const directResponse = `{
	"Data": {
		"Id": "job-42",
		"CreatedDateUtc": "2024-03-01T10:00:00",
		"LastUpdatedUtc": "2024-03-01T10:00:05Z",
		"Name": "orders",
		"InputFileName": "orders.csv",
		"InputMime": "text/csv",
		"BilledUsage": 1.5,
		"RecordCount": 10,
		"RecordGroupCount": 2,
		"ProcessingTimeMS": 250,
		"Status": "Completed",
		"ErrorMessage": null,
		"VersionNumber": "3"
	},
	"IsError": false,
	"ErrorMessage": null
}`

func TestSubmitWithoutPollingDecodesResult(t *testing.T) {
	var gotPath, gotKey string
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get(client.DefaultAPIKeyHeader)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(directResponse))
	}))

	j := newJob(c, fastConfig())
	result, err := j.SubmitWithoutPolling(context.Background())
	if err != nil {
		t.Fatalf("SubmitWithoutPolling: %v", err)
	}
	if gotPath != "/submit-job" || gotKey != "key-1" {
		t.Errorf("request path %q, api key header %q", gotPath, gotKey)
	}

	if result.IsError {
		t.Error("IsError = true")
	}
	d := result.Data
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)
	switch {
	case d.ID != "job-42",
		!d.CreatedDateUTC.Equal(created),
		!d.LastUpdatedUTC.Equal(updated),
		d.Name != "orders",
		d.InputFileName != "orders.csv",
		d.InputMime != "text/csv",
		d.BilledUsage != 1.5,
		d.RecordCount != 10,
		d.RecordGroupCount != 2,
		d.ProcessingTimeMS != 250,
		d.Status != "Completed",
		d.ErrorMessage != nil,
		d.VersionNumber != "3":
		t.Errorf("decoded job = %+v", d)
	}

	snap := j.Snapshot()
	if snap.State != job.StateCompleted || snap.JobID != "job-42" || snap.ResultURI != "/job-42" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSubmitWithoutPollingRequestError(t *testing.T) {
	_, c := newMock(t, mockapi.WithSubmitStatus(http.StatusServiceUnavailable))
	j := newJob(c, fastConfig())

	_, err := j.SubmitWithoutPolling(context.Background())
	var reqErr *ondemand.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v, want RequestError", err)
	}
	if !strings.Contains(reqErr.Status, "Service Unavailable") || reqErr.Message != "submission rejected" {
		t.Errorf("RequestError = %+v", reqErr)
	}

	snap := j.Snapshot()
	if snap.State != job.StateFailed || !errors.Is(snap.Err, err) {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSubmitRejectsInvalidJob(t *testing.T) {
	s, c := newMock(t)
	j := job.New(c, job.Request{ProductID: "p"}, job.WithLogger(testLogger()))

	if _, err := j.SubmitWithoutPolling(context.Background()); !errors.Is(err, ondemand.ErrInvalidJob) {
		t.Fatalf("error = %v, want ErrInvalidJob", err)
	}
	if err := j.SetRequest(job.Request{APIKey: "k"}); err != nil {
		t.Fatalf("SetRequest: %v", err)
	}
	if _, err := j.Start(context.Background()); !errors.Is(err, ondemand.ErrInvalidJob) {
		t.Fatalf("error = %v, want ErrInvalidJob", err)
	}
	if len(s.Submissions()) != 0 {
		t.Error("invalid job reached the server")
	}
}

func TestSubmissionFormFields(t *testing.T) {
	s, c := newMock(t)
	j := newJob(c, fastConfig())

	if _, err := j.SubmitWithoutPolling(context.Background()); err != nil {
		t.Fatalf("SubmitWithoutPolling: %v", err)
	}
	// Both paths build the same form
	if _, err := j.SubmitWithPolling(context.Background()); err != nil {
		t.Fatalf("SubmitWithPolling: %v", err)
	}

	subs := s.Submissions()
	if len(subs) != 2 || subs[0].Path != "/submit-job" || subs[1].Path != "/create-job" {
		t.Fatalf("submissions = %+v", subs)
	}
	for _, sub := range subs {
		want := map[string]string{
			"apiKey":                   "key-1",
			"productId":                "product-1",
			"version":                  "1.0",
			"mimeType":                 "text/csv",
			"name":                     "orders",
			"groupId":                  "g-1",
			"mapping[0][source]":       "order_id",
			"mapping[0][destination]":  "id",
			"mapping[1][source]":       "total",
			"mapping[1][destination]":  "amount",
			"mapping[1][defaultValue]": "0",
		}
		for k, v := range want {
			if got := sub.Fields[k]; len(got) != 1 || got[0] != v {
				t.Errorf("%s: field %s = %v, want %q", sub.Path, k, got, v)
			}
		}
		for _, absent := range []string{"mapping[0][defaultValue]", "isGrouped", "versionId", "containerId", "outputMapping"} {
			if _, ok := sub.Fields[absent]; ok {
				t.Errorf("%s: unexpected field %s", sub.Path, absent)
			}
		}
		if sub.FileName != "orders.csv" || sub.ContentType != "text/csv" || string(sub.File) != "order_id,total\n1,9.99\n" {
			t.Errorf("%s: file = %q %q %q", sub.Path, sub.FileName, sub.ContentType, sub.File)
		}
	}
}

// ── Polling ───────────────────────────────────────────

func TestSubmitWithPollingResolvesOnThirdCheck(t *testing.T) {
	s, c := newMock(t, mockapi.WithPendingChecks(2))
	j := newJob(c, fastConfig())

	result, err := j.SubmitWithPolling(context.Background())
	if err != nil {
		t.Fatalf("SubmitWithPolling: %v", err)
	}
	if s.Checks() != 3 {
		t.Errorf("server saw %d checks, want 3", s.Checks())
	}

	snap := j.Snapshot()
	if snap.State != job.StateCompleted || snap.Checks != 3 || snap.Status != ondemand.StatusCompleted {
		t.Errorf("snapshot = %+v", snap)
	}
	if result.Data == nil || result.Data.ID != snap.JobID || result.Data.InputFileName != "orders.csv" {
		t.Errorf("result = %+v", result.Data)
	}
	if snap.ResultURI != "/"+snap.JobID {
		t.Errorf("ResultURI = %q", snap.ResultURI)
	}
}

func TestFetchResult(t *testing.T) {
	s, c := newMock(t, mockapi.WithPendingChecks(1))
	cfg := fastConfig()
	cfg.Interval = 50 * time.Millisecond
	j := newJob(c, cfg)

	_, err := j.FetchResult()
	var notReady *ondemand.NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("FetchResult before submit = %v, want NotReadyError", err)
	}

	p, err := j.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := j.FetchResult(); !errors.As(err, &notReady) || notReady.Status == ondemand.StatusCompleted {
		t.Fatalf("FetchResult while polling = %v", err)
	}

	result, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	checks := s.Checks()

	cached, err := j.FetchResult()
	if err != nil {
		t.Fatalf("FetchResult: %v", err)
	}
	if cached != result {
		t.Error("FetchResult did not return the cached result")
	}
	if s.Checks() != checks {
		t.Error("FetchResult called the server")
	}
}

func TestChecksDoNotOverlap(t *testing.T) {
	s, c := newMock(t, mockapi.WithPendingChecks(3), mockapi.WithCheckDelay(20*time.Millisecond))
	cfg := fastConfig()
	cfg.Interval = time.Millisecond
	j := newJob(c, cfg)

	if _, err := j.SubmitWithPolling(context.Background()); err != nil {
		t.Fatalf("SubmitWithPolling: %v", err)
	}
	if s.MaxConcurrentChecks() != 1 {
		t.Errorf("max concurrent checks = %d, want 1", s.MaxConcurrentChecks())
	}
}

func TestPollCancel(t *testing.T) {
	s, c := newMock(t)
	cfg := fastConfig()
	cfg.Interval = time.Hour
	j := newJob(c, cfg)

	p, err := j.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Cancel()

	if _, err := p.Wait(context.Background()); !errors.Is(err, ondemand.ErrCancelled) {
		t.Fatalf("Wait = %v, want ErrCancelled", err)
	}
	select {
	case <-p.Done():
	default:
		t.Error("Done not closed after Wait")
	}
	if s.Checks() != 0 {
		t.Errorf("checks = %d after cancel", s.Checks())
	}
	if snap := j.Snapshot(); snap.State != job.StateFailed || !errors.Is(snap.Err, ondemand.ErrCancelled) {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestPollContextCancel(t *testing.T) {
	_, c := newMock(t)
	cfg := fastConfig()
	cfg.Interval = time.Hour
	j := newJob(c, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	p, err := j.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	_, err = p.Wait(context.Background())
	if !errors.Is(err, ondemand.ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want ErrCancelled wrapping context.Canceled", err)
	}
}

func TestWaitContextCancelsPoll(t *testing.T) {
	_, c := newMock(t)
	cfg := fastConfig()
	cfg.Interval = time.Hour
	j := newJob(c, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := j.SubmitWithPolling(ctx)
	if !errors.Is(err, ondemand.ErrCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SubmitWithPolling = %v", err)
	}
}

func TestPollMaxChecks(t *testing.T) {
	s, c := newMock(t, mockapi.WithPendingChecks(100))
	cfg := fastConfig()
	cfg.MaxChecks = 2
	j := newJob(c, cfg)

	_, err := j.SubmitWithPolling(context.Background())
	if !errors.Is(err, ondemand.ErrPollLimit) {
		t.Fatalf("SubmitWithPolling = %v, want ErrPollLimit", err)
	}
	if s.Checks() != 2 {
		t.Errorf("checks = %d, want 2", s.Checks())
	}
}

func TestPollMaxWait(t *testing.T) {
	_, c := newMock(t, mockapi.WithPendingChecks(1_000_000))
	cfg := fastConfig()
	cfg.MaxWait = 30 * time.Millisecond
	j := newJob(c, cfg)

	start := time.Now()
	_, err := j.SubmitWithPolling(context.Background())
	if !errors.Is(err, ondemand.ErrPollLimit) {
		t.Fatalf("SubmitWithPolling = %v, want ErrPollLimit", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("poll ran for %s", elapsed)
	}
}

func TestPollAbortsOnTransportError(t *testing.T) {
	s, c := newMock(t, mockapi.WithPendingChecks(10), mockapi.WithDroppedChecks(2))
	j := newJob(c, fastConfig())

	_, err := j.SubmitWithPolling(context.Background())
	var transportErr *ondemand.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("SubmitWithPolling = %v, want TransportError", err)
	}

	checks := s.Checks()
	time.Sleep(30 * time.Millisecond)
	if s.Checks() != checks {
		t.Error("polling continued after a transport error")
	}
	if snap := j.Snapshot(); snap.State != job.StateFailed {
		t.Errorf("state = %s", snap.State)
	}
}

func TestBusyWhilePolling(t *testing.T) {
	_, c := newMock(t)
	cfg := fastConfig()
	cfg.Interval = time.Hour
	j := newJob(c, cfg)

	p, err := j.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := j.SubmitWithoutPolling(context.Background()); !errors.Is(err, ondemand.ErrBusy) {
		t.Errorf("SubmitWithoutPolling = %v, want ErrBusy", err)
	}
	if err := j.SetRequest(testRequest()); !errors.Is(err, ondemand.ErrBusy) {
		t.Errorf("SetRequest = %v, want ErrBusy", err)
	}
	if _, err := j.CheckStatus(context.Background(), p.JobID()); !errors.Is(err, ondemand.ErrBusy) {
		t.Errorf("CheckStatus = %v, want ErrBusy", err)
	}

	p.Cancel()
	p.Wait(context.Background())

	if _, err := j.SubmitWithoutPolling(context.Background()); err != nil {
		t.Errorf("resubmit after cancel: %v", err)
	}
}

func TestCheckStatus(t *testing.T) {
	_, c := newMock(t)
	cfg := fastConfig()
	cfg.Interval = time.Hour
	j := newJob(c, cfg)

	_, err := j.CheckStatus(context.Background(), "missing")
	var reqErr *ondemand.RequestError
	if !errors.As(err, &reqErr) || reqErr.StatusCode != http.StatusNotFound {
		t.Fatalf("CheckStatus(missing) = %v", err)
	}

	p, err := j.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Cancel()
	p.Wait(context.Background())

	resp, err := j.CheckStatus(context.Background(), p.JobID())
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if !resp.Completed {
		t.Fatal("expected completed status")
	}
	if _, err := j.FetchResult(); err != nil {
		t.Errorf("FetchResult after CheckStatus: %v", err)
	}
	if snap := j.Snapshot(); snap.State != job.StateCompleted || snap.JobID != p.JobID() {
		t.Errorf("snapshot = %+v", snap)
	}

	// Switching to another job drops the cached result of the previous one
	if _, err := j.CheckStatus(context.Background(), "other-job"); err == nil {
		t.Fatal("CheckStatus(other-job) succeeded on unknown job")
	}
	snap := j.Snapshot()
	if snap.JobID != "other-job" || snap.State == job.StateCompleted || snap.Result != nil || snap.ResultURI != "" {
		t.Errorf("snapshot after switching job = %+v", snap)
	}
	var notReady *ondemand.NotReadyError
	if _, err := j.FetchResult(); !errors.As(err, &notReady) {
		t.Errorf("FetchResult after switching job = %v, want NotReadyError", err)
	}
}

// ── Hooks ─────────────────────────────────────────────

type fakeRecorder struct {
	mu   sync.Mutex
	subs []ondemand.Submission
}

func (r *fakeRecorder) Record(ctx context.Context, s ondemand.Submission) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, s)
	return len(r.subs), nil
}

type fakeSink struct {
	mu   sync.Mutex
	keys []string
}

func (s *fakeSink) PutResult(ctx context.Context, key string, result *ondemand.ContainerResult) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return "stored/" + key, nil
}

func TestRecorderAndResultSink(t *testing.T) {
	_, c := newMock(t)
	rec := &fakeRecorder{}
	sink := &fakeSink{}
	j := newJob(c, fastConfig(), job.WithRecorder(rec), job.WithResultSink(sink))

	if _, err := j.SubmitWithPolling(context.Background()); err != nil {
		t.Fatalf("SubmitWithPolling: %v", err)
	}
	jobID := j.Snapshot().JobID

	wantFP, _ := ledger.Fingerprint(strings.NewReader("order_id,total\n1,9.99\n"))
	if len(rec.subs) != 1 {
		t.Fatalf("recorded %d submissions", len(rec.subs))
	}
	got := rec.subs[0]
	if got.ProductID != "product-1" || got.Fingerprint != wantFP || got.JobID != jobID || got.Mode != "polling" || got.FileName != "orders.csv" {
		t.Errorf("recorded = %+v", got)
	}
	if len(sink.keys) != 1 || sink.keys[0] != jobID {
		t.Errorf("sink keys = %v", sink.keys)
	}
}

// countingFile counts how often its contents are opened
type countingFile struct {
	mu    sync.Mutex
	opens int
	data  string
}

func (f *countingFile) Name() string { return "counted.csv" }

func (f *countingFile) Open(ctx context.Context) (io.ReadCloser, error) {
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	return io.NopCloser(strings.NewReader(f.data)), nil
}

func TestRecorderFingerprintsUploadedBytes(t *testing.T) {
	_, c := newMock(t)
	rec := &fakeRecorder{}
	file := &countingFile{data: "id\n1\n2\n"}
	req := testRequest()
	req.File = file
	j := job.New(c, req, job.WithConfig(fastConfig()), job.WithLogger(testLogger()), job.WithRecorder(rec))

	if _, err := j.SubmitWithoutPolling(context.Background()); err != nil {
		t.Fatalf("SubmitWithoutPolling: %v", err)
	}
	if file.opens != 1 {
		t.Errorf("file opened %d times, want 1", file.opens)
	}
	wantFP, _ := ledger.Fingerprint(strings.NewReader(file.data))
	if len(rec.subs) != 1 || rec.subs[0].Fingerprint != wantFP || rec.subs[0].FileName != "counted.csv" {
		t.Errorf("recorded = %+v", rec.subs)
	}
}

func TestLifecycleMetrics(t *testing.T) {
	_, c := newMock(t, mockapi.WithPendingChecks(1))
	reg := prometheus.NewRegistry()
	j := newJob(c, fastConfig(), job.WithMetrics(reg))
	if _, err := j.SubmitWithPolling(context.Background()); err != nil {
		t.Fatalf("SubmitWithPolling: %v", err)
	}

	// A second job on the same registry shares the collectors
	direct := newJob(c, fastConfig(), job.WithMetrics(reg))
	if _, err := direct.SubmitWithoutPolling(context.Background()); err != nil {
		t.Fatalf("SubmitWithoutPolling: %v", err)
	}

	expected := `
# HELP ondemand_job_poll_checks_total Status checks by result (pending, completed, error).
# TYPE ondemand_job_poll_checks_total counter
ondemand_job_poll_checks_total{result="completed"} 1
ondemand_job_poll_checks_total{result="pending"} 1
# HELP ondemand_job_submissions_total Job submissions by mode (direct, polling) and final outcome.
# TYPE ondemand_job_submissions_total counter
ondemand_job_submissions_total{mode="direct",outcome="completed"} 1
ondemand_job_submissions_total{mode="polling",outcome="completed"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"ondemand_job_poll_checks_total", "ondemand_job_submissions_total"); err != nil {
		t.Error(err)
	}
}
