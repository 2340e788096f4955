package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/engine"
	"github.com/waterpolo-stats/internal/reconcile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func playedSession(t *testing.T) *domain.GameSession {
	t.Helper()
	now := time.Date(2025, 11, 8, 18, 0, 0, 0, time.UTC)
	n := 0
	e := engine.New(domain.NewGameSession(domain.NewGameParams{
		ID:              "g1",
		HomeName:        "Sharks",
		AwayName:        "Dolphins",
		Level:           domain.LevelGirlsVarsity,
		ScheduledAt:     now,
		ShotClockLength: 20,
	}), engine.WithClock(func() time.Time { return now }), engine.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}))

	for i := 1; i <= 2; i++ {
		if _, err := e.AddPlayer(domain.SideHome, engine.PlayerSpec{ID: fmt.Sprintf("h%d", i), CapNumber: i}, now); err != nil {
			t.Fatalf("add: %v", err)
		}
		if _, err := e.AddPlayer(domain.SideAway, engine.PlayerSpec{ID: fmt.Sprintf("a%d", i), CapNumber: i}, now); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	now = now.Add(30 * time.Second)
	if _, err := e.ScoreGoal(domain.SideHome, 1, domain.IntPtr(2)); err != nil {
		t.Fatalf("goal: %v", err)
	}
	if _, err := e.RecordExclusion(domain.SideAway, 2, domain.IntPtr(1)); err != nil {
		t.Fatalf("exclusion: %v", err)
	}
	now = now.Add(5 * time.Second)
	if _, err := e.ApplyCapSwap("h2", 11, false, now); err != nil {
		t.Fatalf("swap: %v", err)
	}
	return e.Session()
}

func TestMergeAndLoad(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	rec := reconcile.NewReconciler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := playedSession(t)

	first, err := rec.Merge(ctx, s)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if first.RosterCreated != 5 {
		t.Fatalf("expected 5 roster rows, got %d", first.RosterCreated)
	}
	second, err := rec.Merge(ctx, s)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if second.RosterCreated != 0 || second.RosterUpdated != 5 {
		t.Fatalf("expected natural-key updates only, got %+v", second)
	}

	loaded, err := rec.Load(ctx, "g1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Home.Score != 1 || loaded.Away.Score != 0 {
		t.Fatalf("expected 1-0, got %d-%d", loaded.Home.Score, loaded.Away.Score)
	}
	if loaded.Level != domain.LevelGirlsVarsity || loaded.Status != domain.StatusPaused {
		t.Fatalf("unexpected level/status %s %s", loaded.Level, loaded.Status)
	}
	if loaded.ShotClockLength != 20 || loaded.Possession != s.Possession {
		t.Fatalf("expected 20s shot clock with %s possession, got %v %s", s.Possession, loaded.ShotClockLength, loaded.Possession)
	}
	if !loaded.ScheduledAt.Equal(s.ScheduledAt) {
		t.Fatalf("expected scheduled %s, got %s", s.ScheduledAt, loaded.ScheduledAt)
	}
	if len(loaded.Roster) != 5 {
		t.Fatalf("expected 5 roster entries, got %d", len(loaded.Roster))
	}
	history := engine.HistoryOf(loaded.Roster, "h2")
	if len(history) != 2 || history[0].ExitedAt == nil || history[1].CapNumber != 11 {
		t.Fatalf("unexpected h2 history %+v", history)
	}
	if len(loaded.Events) != len(s.Events) {
		t.Fatalf("expected %d events, got %d", len(s.Events), len(loaded.Events))
	}
	for i := range s.Events {
		if loaded.Events[i].ID != s.Events[i].ID || loaded.Events[i].Type != s.Events[i].Type {
			t.Fatalf("event %d differs: %+v vs %+v", i, loaded.Events[i], s.Events[i])
		}
	}
	if len(loaded.Actions) != 2 || loaded.Actions[0].Type != domain.ActionGoal {
		t.Fatalf("unexpected actions %+v", loaded.Actions)
	}
}

func TestDeleteStaleEvents(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	rec := reconcile.NewReconciler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := playedSession(t)
	if _, err := rec.Merge(ctx, s); err != nil {
		t.Fatalf("merge: %v", err)
	}

	e := engine.New(s)
	if err := e.DeleteAction(s.Actions[1].ID); err != nil {
		t.Fatalf("delete action: %v", err)
	}
	res, err := rec.Merge(ctx, e.Session())
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.EventsRemoved != 2 || res.Actions != 1 {
		t.Fatalf("expected exclusion events removed, got %+v", res)
	}
}

func TestLookupsReturnNotFound(t *testing.T) {
	store := openTestStore(t)
	err := store.InTx(context.Background(), func(ctx context.Context, tx reconcile.Tx) error {
		if _, err := tx.GetGame(ctx, "x"); !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("game: %v", err)
		}
		if _, err := tx.GetTeam(ctx, "x"); !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("team: %v", err)
		}
		if _, err := tx.GetSeason(ctx, "x"); !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("season: %v", err)
		}
		if _, err := tx.GetPlayer(ctx, "x"); !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("player: %v", err)
		}
		if _, err := tx.FindRosterEntry(ctx, domain.RosterKey{GameID: "x", PlayerID: "y", RosterOrder: 1}); !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("roster: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%v", err)
	}
}

func TestRollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	boom := errors.New("boom")

	err := store.InTx(ctx, func(ctx context.Context, tx reconcile.Tx) error {
		if err := tx.CreateTeam(ctx, &domain.TeamRecord{ID: "t1", Name: "Sharks", CreatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = store.InTx(ctx, func(ctx context.Context, tx reconcile.Tx) error {
		_, err := tx.GetTeam(ctx, "t1")
		return err
	})
	if !errors.Is(err, domain.ErrTeamNotFound) {
		t.Fatalf("expected team to be rolled back, got %v", err)
	}
}

func TestRosterNaturalKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now()

	err := store.InTx(ctx, func(ctx context.Context, tx reconcile.Tx) error {
		if err := tx.CreateGame(ctx, &domain.GameRecord{ID: "g1", Status: domain.StatusReady, Period: 1, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		if err := tx.CreatePlayer(ctx, &domain.PlayerRecord{ID: "p1", Name: "P", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		if err := tx.CreateRosterEntry(ctx, &domain.RosterRecord{ID: "r1", GameID: "g1", PlayerID: "p1", CapNumber: 4, RosterOrder: 1, IsActive: true, EnteredAt: now}); err != nil {
			return err
		}
		return tx.CreateRosterEntry(ctx, &domain.RosterRecord{ID: "r2", GameID: "g1", PlayerID: "p1", CapNumber: 5, RosterOrder: 1, IsActive: true, EnteredAt: now})
	})
	if err == nil {
		t.Fatalf("expected unique violation on duplicate (game, player, roster order)")
	}
}
