package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/waterpolo-stats/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGames struct {
	mu       sync.Mutex
	advances []time.Time
	saves    int
	saveErr  error
}

func (f *fakeGames) AdvanceAll(_ context.Context, now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advances = append(f.advances, now)
	return 1
}

func (f *fakeGames) SaveDirty(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return 1, f.saveErr
}

func (f *fakeGames) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.advances), f.saves
}

func TestWorkerRunsUntilStopped(t *testing.T) {
	games := &fakeGames{}
	w := NewClockDriver(games, &config.ClockConfig{TickInterval: 5 * time.Millisecond}, discardLogger())

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !w.IsRunning() {
		t.Fatalf("worker should report running")
	}
	// A second start is a no-op
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := games.counts(); n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("clock driver did not tick")
		}
		time.Sleep(time.Millisecond)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if w.IsRunning() {
		t.Fatalf("worker should not report running after stop")
	}
	stopped, _ := games.counts()
	time.Sleep(20 * time.Millisecond)
	if n, _ := games.counts(); n != stopped {
		t.Fatalf("ticks continued after stop: %d -> %d", stopped, n)
	}

	games.mu.Lock()
	defer games.mu.Unlock()
	for i := 1; i < len(games.advances); i++ {
		if games.advances[i].Before(games.advances[i-1]) {
			t.Fatalf("tick times went backwards")
		}
	}
}

func TestWorkerStopsWithContext(t *testing.T) {
	games := &fakeGames{}
	w := NewClockDriver(games, &config.ClockConfig{TickInterval: time.Millisecond}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	select {
	case <-w.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not exit on context cancel")
	}
}

func TestStopWithoutStart(t *testing.T) {
	w := NewAutosaver(&fakeGames{}, &config.AutosaveConfig{Interval: time.Hour}, discardLogger())
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestAutosaverRunOnce(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"failure is logged", errors.New("storage down")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			games := &fakeGames{saveErr: tt.err}
			w := NewAutosaver(games, &config.AutosaveConfig{Interval: time.Hour}, discardLogger())
			w.RunOnce(context.Background())
			if _, saves := games.counts(); saves != 1 {
				t.Fatalf("saves = %d, want 1", saves)
			}
		})
	}
}
