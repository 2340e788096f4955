package metrics

import (
	"sync"
	"time"
)

// Recorder captures in-memory counters for the game service and forwards them
// to OpenTelemetry when it is configured. A nil Recorder records nothing.
type Recorder struct {
	mu    sync.Mutex
	stats stats
	otel  *otelInstruments
}

type stats struct {
	actions          map[string]int
	merges           int
	mergeFailures    int
	lastMergeLatency time.Duration
	clockCycles      int
	publishErrors    map[string]int
}

func NewRecorder() *Recorder {
	return newRecorder(nil)
}

func newRecorder(otel *otelInstruments) *Recorder {
	return &Recorder{
		stats: stats{
			actions:       make(map[string]int),
			publishErrors: make(map[string]int),
		},
		otel: otel,
	}
}

// RecordHTTPRequest tracks basic HTTP metrics.
func (r *Recorder) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if r == nil || r.otel == nil {
		return
	}
	r.otel.recordHTTPRequest(method, path, status, duration)
}

// RecordAction counts a scorekeeper action by type.
func (r *Recorder) RecordAction(actionType string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.stats.actions[actionType]++
	r.mu.Unlock()
	if r.otel != nil {
		r.otel.recordAction(actionType)
	}
}

// RecordMerge tracks a session merge and its latency.
func (r *Recorder) RecordMerge(duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.stats.merges++
	r.stats.lastMergeLatency = duration
	if err != nil {
		r.stats.mergeFailures++
	}
	r.mu.Unlock()
	if r.otel != nil {
		r.otel.recordMerge(duration, err)
	}
}

// RecordClockCycle tracks one pass of the clock driver over running games.
func (r *Recorder) RecordClockCycle(games int, duration time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.stats.clockCycles++
	r.mu.Unlock()
	if r.otel != nil {
		r.otel.recordClockCycle(games, duration)
	}
}

// RecordPublishError counts an event that could not be handed to a feed.
func (r *Recorder) RecordPublishError(feed string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.stats.publishErrors[feed]++
	r.mu.Unlock()
	if r.otel != nil {
		r.otel.recordPublishError(feed)
	}
}

// Snapshot is a copy of the in-memory counters, served on /api/v1/stats.
type Snapshot struct {
	Actions          map[string]int `json:"actions"`
	Merges           int            `json:"merges"`
	MergeFailures    int            `json:"merge_failures"`
	LastMergeLatency time.Duration  `json:"last_merge_latency_ns"`
	ClockCycles      int            `json:"clock_cycles"`
	PublishErrors    map[string]int `json:"publish_errors"`
}

// Snapshot copies the counters recorded since startup
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Actions:          make(map[string]int, len(r.stats.actions)),
		Merges:           r.stats.merges,
		MergeFailures:    r.stats.mergeFailures,
		LastMergeLatency: r.stats.lastMergeLatency,
		ClockCycles:      r.stats.clockCycles,
		PublishErrors:    make(map[string]int, len(r.stats.publishErrors)),
	}
	for k, v := range r.stats.actions {
		snap.Actions[k] = v
	}
	for k, v := range r.stats.publishErrors {
		snap.PublishErrors[k] = v
	}
	return snap
}
