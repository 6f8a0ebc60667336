package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Stage names of one question turn.
const (
	StageRecordToTranscript = "record_to_transcript"
	StageQueryToFirstFrame  = "query_to_first_frame"
	StageSynthesis          = "tts_synthesis"
)

// stageBudgets are the p95 targets, in milliseconds, shown next to each stage.
var stageBudgets = map[string]float64{
	StageRecordToTranscript: 2500,
	StageQueryToFirstFrame:  1500,
	StageSynthesis:          2000,
}

type StageLatency struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	BudgetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type OutcomeCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LatencySnapshot is the JSON body of the latency endpoint.
type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageLatency `json:"stages"`
	Outcomes    []OutcomeCount `json:"indicators,omitempty"`
}

// latencyWindow keeps the most recent samples of each stage in a ring and
// counts named outcomes since the last reset.
type latencyWindow struct {
	size int

	mu       sync.Mutex
	rings    map[string]*ring
	outcomes map[string]int
}

type ring struct {
	samples []float64
	pos     int
	last    float64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:     size,
		rings:    make(map[string]*ring),
		outcomes: make(map[string]int),
	}
}

func (w *latencyWindow) add(stage string, ms float64) {
	if stage == "" || ms < 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &ring{samples: make([]float64, 0, w.size)}
		w.rings[stage] = r
	}
	if len(r.samples) < w.size {
		r.samples = append(r.samples, ms)
	} else {
		r.samples[r.pos] = ms
		r.pos = (r.pos + 1) % w.size
	}
	r.last = ms
}

func (w *latencyWindow) count(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	w.outcomes[name]++
	w.mu.Unlock()
}

func (w *latencyWindow) reset() {
	w.mu.Lock()
	w.rings = make(map[string]*ring)
	w.outcomes = make(map[string]int)
	w.mu.Unlock()
}

func (w *latencyWindow) snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageLatency, 0, len(w.rings)),
	}
	for _, stage := range sortedKeys(w.rings) {
		r := w.rings[stage]
		if len(r.samples) == 0 {
			continue
		}
		sorted := slices.Clone(r.samples)
		slices.Sort(sorted)
		snap.Stages = append(snap.Stages, StageLatency{
			Stage:       stage,
			Samples:     len(sorted),
			LastMS:      round2(r.last),
			AvgMS:       round2(stat.Mean(sorted, nil)),
			P50MS:       round2(stat.Quantile(0.50, stat.Empirical, sorted, nil)),
			P95MS:       round2(stat.Quantile(0.95, stat.Empirical, sorted, nil)),
			P99MS:       round2(stat.Quantile(0.99, stat.Empirical, sorted, nil)),
			BudgetP95MS: stageBudgets[stage],
		})
	}
	for _, name := range sortedKeys(w.outcomes) {
		if n := w.outcomes[name]; n > 0 {
			snap.Outcomes = append(snap.Outcomes, OutcomeCount{Name: name, Count: n})
		}
	}
	return snap
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
