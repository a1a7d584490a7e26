package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Processor stages.
const (
	StageParse        = "parse"
	StageExtractSlots = "extract_slots"
	StagePredict      = "predict"
	StageExecute      = "execute"
	StagePersist      = "persist"
	StageTurn         = "turn_total"
)

// stageTargets are the p95 budgets reported next to each stage, in ms.
var stageTargets = map[string]float64{
	StageParse:        50,
	StageExtractSlots: 5,
	StagePredict:      250,
	StageExecute:      500,
	StagePersist:      50,
	StageTurn:         1500,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// StageWindow keeps the most recent samples of every stage plus counters for
// named indicators. A nil window ignores observations.
type StageWindow struct {
	mu         sync.RWMutex
	size       int
	series     map[string]*series
	indicators map[string]int
}

// series is a fixed-capacity ring of millisecond samples.
type series struct {
	ring  []float64
	count int
	last  float64
}

func (s *series) add(ms float64) {
	s.ring[s.count%len(s.ring)] = ms
	s.count++
	s.last = ms
}

func (s *series) stats(stage string) StageStats {
	n := min(s.count, len(s.ring))
	sorted := slices.Clone(s.ring[:n])
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return StageStats{
		Stage:       stage,
		Samples:     n,
		LastMS:      round2(s.last),
		AvgMS:       round2(sum / float64(n)),
		P50MS:       round2(nearestRank(sorted, 50)),
		P95MS:       round2(nearestRank(sorted, 95)),
		P99MS:       round2(nearestRank(sorted, 99)),
		MaxMS:       round2(sorted[n-1]),
		TargetP95MS: stageTargets[stage],
	}
}

func NewStageWindow(size int) *StageWindow {
	if size <= 0 {
		size = 256
	}
	return &StageWindow{
		size:       size,
		series:     make(map[string]*series),
		indicators: make(map[string]int),
	}
}

func (w *StageWindow) Observe(stage string, d time.Duration) {
	w.ObserveMS(stage, float64(d.Microseconds())/1000)
}

func (w *StageWindow) ObserveMS(stage string, ms float64) {
	if w == nil || stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.series[stage]
	if s == nil {
		s = &series{ring: make([]float64, w.size)}
		w.series[stage] = s
	}
	s.add(ms)
}

// Since records the time elapsed from start.
func (w *StageWindow) Since(stage string, start time.Time) {
	w.Observe(stage, time.Since(start))
}

func (w *StageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if w == nil || name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *StageWindow) Snapshot() StageSnapshot {
	snap := StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	if w == nil {
		return snap
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap.WindowSize = w.size
	for _, stage := range sortedKeys(w.series) {
		snap.Stages = append(snap.Stages, w.series[stage].stats(stage))
	}
	for _, name := range sortedKeys(w.indicators) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

func (w *StageWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.series)
	clear(w.indicators)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// nearestRank expects sorted to be non-empty and ascending.
func nearestRank(sorted []float64, pct float64) float64 {
	rank := int(math.Ceil(pct / 100 * float64(len(sorted))))
	return sorted[max(rank, 1)-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
