package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/converse/internal/app"
	"github.com/ent0n29/converse/internal/config"
)

func buildTestApp(t *testing.T) *app.BuildResult {
	t.Helper()
	res, err := app.BuildWithRegistry(context.Background(), config.Config{
		MetricsNamespace:       "cmd_test",
		SessionStore:           config.StoreMemory,
		MaxNumberOfPredictions: 10,
		ActionTimeout:          time.Second,
		PolicyTimeout:          time.Second,
	}, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("BuildWithRegistry() error = %v", err)
	}
	t.Cleanup(func() { _ = res.Cleanup() })
	return res
}

func TestPercentileNearestRank(t *testing.T) {
	samples := []time.Duration{5, 1, 4, 2, 3, 10, 9, 8, 7, 6}
	cases := map[float64]time.Duration{0: 1, 0.5: 5, 0.95: 10, 1: 10}
	for q, want := range cases {
		if got := percentile(samples, q); got != want {
			t.Fatalf("percentile(%v) = %v, want %v", q, got, want)
		}
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("percentile(nil) = %v, want 0", got)
	}
}

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://example.com/api/", "a b")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	if want := "wss://example.com/api/v1/sessions/a%20b/ws"; got != want {
		t.Fatalf("wsURLForSession() = %q, want %q", got, want)
	}
	if _, err := wsURLForSession("ftp://example.com", "x"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestBenchOptionsNormalize(t *testing.T) {
	opts := benchOptions{baseURL: " http://x/ ", sessions: 1, turns: 2}
	if err := opts.normalize("a| |b"); err != nil {
		t.Fatalf("normalize() error = %v", err)
	}
	if opts.baseURL != "http://x" || len(opts.texts) != 2 || opts.turnTimeout != time.Second {
		t.Fatalf("unexpected options: %+v", opts)
	}
	bad := benchOptions{baseURL: "http://x", sessions: 1, turns: 1}
	if err := bad.normalize(" | "); err == nil {
		t.Fatalf("expected error for empty texts")
	}
}

func TestBenchAgainstServer(t *testing.T) {
	res := buildTestApp(t)
	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()

	opts := benchOptions{baseURL: ts.URL, sessions: 3, turns: 4}
	if err := opts.normalize(""); err != nil {
		t.Fatalf("normalize() error = %v", err)
	}
	report, err := runBench(context.Background(), opts, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("runBench() error = %v", err)
	}
	if report.Turns != 12 || len(report.Latencies) != 12 {
		t.Fatalf("turns = %d latencies = %d, want 12", report.Turns, len(report.Latencies))
	}
	if report.Errors != 0 || report.Inactive != 0 {
		t.Fatalf("errors = %d inactive = %d, want 0", report.Errors, report.Inactive)
	}

	var out bytes.Buffer
	report.print(&out)
	if !strings.Contains(out.String(), "p95=") {
		t.Fatalf("report missing percentiles: %q", out.String())
	}
}

func TestShellConversation(t *testing.T) {
	res := buildTestApp(t)
	in := strings.NewReader("hello\nweather in Rome today\n/slots\nbye\nhello\n/restart\n/quit\n")
	var out bytes.Buffer
	if err := runShell(context.Background(), res.Processor, "cli", in, &out); err != nil {
		t.Fatalf("runShell() error = %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"bot> Hello! Ask me about the weather.",
		"bot> The weather in Rome today: ",
		"  city = Rome",
		"bot> Goodbye!",
		"(session is closed, /restart to begin again)",
		"(session restarted)",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("shell output missing %q:\n%s", want, got)
		}
	}
}
