package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.ObserveMS(StagePredict, 100)
	w.ObserveMS(StagePredict, 200)
	w.ObserveMS(StagePredict, 300)
	w.ObserveIndicator("too_many_predictions")
	w.ObserveIndicator("too_many_predictions")
	w.ObserveIndicator(" ")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StagePredict || s.Samples != 3 {
		t.Fatalf("stage = %+v", s)
	}
	if s.LastMS != 300 || s.P50MS != 200 || s.AvgMS != 200 {
		t.Fatalf("last/p50/avg = %.2f/%.2f/%.2f", s.LastMS, s.P50MS, s.AvgMS)
	}
	if s.P95MS != 300 || s.MaxMS != 300 {
		t.Fatalf("p95/max = %.2f/%.2f, want 300/300", s.P95MS, s.MaxMS)
	}
	if s.TargetP95MS != 250 {
		t.Fatalf("TargetP95MS = %.2f, want 250", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v", snap.Indicators)
	}
}

func TestStageWindowWrapsAndResets(t *testing.T) {
	w := NewStageWindow(2)
	w.Observe(StageTurn, 10*time.Millisecond)
	w.Observe(StageTurn, 20*time.Millisecond)
	w.Observe(StageTurn, 30*time.Millisecond)

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 || s.AvgMS != 25 {
		t.Fatalf("samples/avg = %d/%.2f, want 2/25", s.Samples, s.AvgMS)
	}

	w.Reset()
	if n := len(w.Snapshot().Stages); n != 0 {
		t.Fatalf("after reset len(Stages) = %d", n)
	}

	var nilWindow *StageWindow
	nilWindow.Observe(StageTurn, time.Millisecond)
	nilWindow.ObserveIndicator("x")
	_ = nilWindow.Snapshot()
}

func TestMetricsRecordOnOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("converse_test", reg)

	m.ObserveTurn("ok", 2, 40*time.Millisecond)
	m.ObserveAction("bot_utter", true)
	m.ObserveAction("find_weather", false)
	m.ObservePolicyError("rules", true)

	if got := testutil.ToFloat64(m.Turns.WithLabelValues("ok")); got != 1 {
		t.Fatalf("turns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Actions.WithLabelValues("find_weather", "failed")); got != 1 {
		t.Fatalf("failed actions = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "converse_test_policy_errors_total") {
		t.Fatalf("metrics output missing policy errors:\n%s", rec.Body.String())
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveTurn("ok", 1, time.Millisecond)
}
