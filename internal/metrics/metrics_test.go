package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecorderTracksMerges(t *testing.T) {
	rec := NewRecorder()
	rec.RecordMerge(10*time.Millisecond, nil)
	rec.RecordMerge(25*time.Millisecond, errors.New("boom"))

	snap := rec.Snapshot()
	if snap.Merges != 2 || snap.MergeFailures != 1 {
		t.Fatalf("unexpected merge counts %+v", snap)
	}
	if snap.LastMergeLatency != 25*time.Millisecond {
		t.Fatalf("expected last latency 25ms, got %s", snap.LastMergeLatency)
	}
}

func TestRecorderTracksActionsAndPublishErrors(t *testing.T) {
	rec := NewRecorder()
	rec.RecordAction("goal")
	rec.RecordAction("goal")
	rec.RecordAction("exclusion")
	rec.RecordPublishError("kafka")
	rec.RecordClockCycle(3, time.Millisecond)

	snap := rec.Snapshot()
	if snap.Actions["goal"] != 2 || snap.Actions["exclusion"] != 1 {
		t.Fatalf("unexpected action counts %+v", snap.Actions)
	}
	if snap.PublishErrors["kafka"] != 1 || snap.ClockCycles != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.RecordAction("goal")
	rec.RecordMerge(time.Millisecond, nil)
	rec.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	rec.RecordClockCycle(1, time.Millisecond)
	rec.RecordPublishError("amqp")
	if snap := rec.Snapshot(); snap.Merges != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestSetupDisabledReturnsNoHandler(t *testing.T) {
	rec, handler, shutdown, err := Setup(context.Background(), TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}
	if rec == nil {
		t.Fatalf("expected recorder")
	}
	if handler != nil {
		t.Fatalf("expected nil handler when disabled")
	}
	if shutdown == nil {
		t.Fatalf("expected shutdown function")
	}
}

func TestSetupEnabledExposesPrometheus(t *testing.T) {
	rec, handler, shutdown, err := Setup(context.Background(), TelemetryConfig{
		Enabled:     true,
		ServiceName: "waterpolo-stats-test",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer shutdown(context.Background())
	if handler == nil {
		t.Fatalf("expected handler when enabled")
	}

	rec.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	rec.RecordAction("goal")
	rec.RecordMerge(time.Millisecond, nil)
	rec.RecordClockCycle(2, time.Millisecond)
	rec.RecordPublishError("kafka")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "game_actions_total") {
		t.Fatalf("expected game_actions_total in exposition")
	}
}
