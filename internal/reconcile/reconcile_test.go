package reconcile_test

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
	"github.com/waterpolo-stats/internal/memstore"
	"github.com/waterpolo-stats/internal/reconcile"
	"github.com/waterpolo-stats/internal/stats"
)

var errBoom = errors.New("boom")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store *memstore.Store
	rec   *reconcile.Reconciler
	eng   *engine.Engine
	now   time.Time
}

func (f *fixture) advance(d time.Duration) time.Time {
	f.now = f.now.Add(d)
	return f.now
}

func newFixture(t *testing.T, p domain.NewGameParams) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		now:   time.Date(2025, 10, 4, 17, 0, 0, 0, time.UTC),
	}
	f.rec = reconcile.NewReconciler(f.store, testLogger())

	if p.ID == "" {
		p.ID = "game-1"
	}
	n := 0
	f.eng = engine.New(domain.NewGameSession(p),
		engine.WithClock(func() time.Time { return f.now }),
		engine.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
	for i := 1; i <= 3; i++ {
		if _, err := f.eng.AddPlayer(domain.SideHome, engine.PlayerSpec{ID: fmt.Sprintf("h%d", i), Name: fmt.Sprintf("Home %d", i), CapNumber: i}, f.now); err != nil {
			t.Fatalf("adding home player: %v", err)
		}
		if _, err := f.eng.AddPlayer(domain.SideAway, engine.PlayerSpec{ID: fmt.Sprintf("a%d", i), CapNumber: i}, f.now); err != nil {
			t.Fatalf("adding away player: %v", err)
		}
	}
	return f
}

func (f *fixture) playGoals(t *testing.T) {
	t.Helper()
	if err := f.eng.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.advance(10 * time.Second)
	if _, err := f.eng.ScoreGoal(domain.SideHome, 1, domain.IntPtr(2)); err != nil {
		t.Fatalf("goal: %v", err)
	}
	if err := f.eng.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	f.advance(10 * time.Second)
	if _, err := f.eng.ScoreGoal(domain.SideAway, 3, nil); err != nil {
		t.Fatalf("goal: %v", err)
	}
}

func listRoster(t *testing.T, s *memstore.Store, gameID string) []domain.RosterRecord {
	t.Helper()
	var out []domain.RosterRecord
	err := s.InTx(context.Background(), func(ctx context.Context, tx reconcile.Tx) error {
		var err error
		out, err = tx.ListRosterEntries(ctx, gameID)
		return err
	})
	if err != nil {
		t.Fatalf("listing roster: %v", err)
	}
	return out
}

func getGame(t *testing.T, s *memstore.Store, id string) *domain.GameRecord {
	t.Helper()
	var g *domain.GameRecord
	err := s.InTx(context.Background(), func(ctx context.Context, tx reconcile.Tx) error {
		var err error
		g, err = tx.GetGame(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("getting game: %v", err)
	}
	return g
}

func TestMergeIsIdempotent(t *testing.T) {
	f := newFixture(t, domain.NewGameParams{})
	f.playGoals(t)
	if _, err := f.eng.ApplyCapSwap("h1", 12, false, f.advance(time.Second)); err != nil {
		t.Fatalf("cap swap: %v", err)
	}
	ctx := context.Background()

	first, err := f.rec.Merge(ctx, f.eng.Session())
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if !first.Created || first.GameID != "game-1" {
		t.Fatalf("expected game-1 to be created, got %+v", first)
	}
	if first.RosterCreated != 7 {
		t.Fatalf("expected 7 roster rows, got %d", first.RosterCreated)
	}
	if first.PlayersCreated != 6 {
		t.Fatalf("expected 6 placeholder players, got %d", first.PlayersCreated)
	}

	second, err := f.rec.Merge(ctx, f.eng.Session())
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if second.Created || second.RosterCreated != 0 || second.PlayersCreated != 0 {
		t.Fatalf("expected second merge to create nothing, got %+v", second)
	}
	if second.RosterUpdated != 7 {
		t.Fatalf("expected 7 roster updates, got %d", second.RosterUpdated)
	}
	if second.EventsRemoved != 0 || second.Events != first.Events {
		t.Fatalf("expected stable events, got first=%+v second=%+v", first, second)
	}
	if got := len(listRoster(t, f.store, "game-1")); got != 7 {
		t.Fatalf("expected 7 durable roster rows, got %d", got)
	}
}

func TestRosterEntryIDsOnlyUniquePerGame(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	rec := reconcile.NewReconciler(store, testLogger())

	// Both fixtures mint the same session entry ids
	for _, id := range []string{"game-a", "game-b"} {
		f := newFixture(t, domain.NewGameParams{ID: id})
		res, err := rec.Merge(ctx, f.eng.Session())
		if err != nil {
			t.Fatalf("merge %s: %v", id, err)
		}
		if res.RosterCreated != 6 {
			t.Fatalf("%s: expected 6 roster rows, got %d", id, res.RosterCreated)
		}
	}

	a, b := listRoster(t, store, "game-a"), listRoster(t, store, "game-b")
	seen := make(map[string]bool)
	for _, r := range append(a, b...) {
		if seen[r.ID] {
			t.Fatalf("durable roster id %s reused", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestLoadKeepsShotClockRules(t *testing.T) {
	f := newFixture(t, domain.NewGameParams{ShotClockLength: 25})
	if err := f.eng.SetPossession(domain.SideAway); err != nil {
		t.Fatalf("possession: %v", err)
	}
	ctx := context.Background()
	if _, err := f.rec.Merge(ctx, f.eng.Session()); err != nil {
		t.Fatalf("merge: %v", err)
	}

	loaded, err := f.rec.Load(ctx, "game-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ShotClockLength != 25 || loaded.ShotClock != 25 {
		t.Fatalf("expected a 25s shot clock, got length %v value %v", loaded.ShotClockLength, loaded.ShotClock)
	}
	if loaded.Possession != domain.SideAway {
		t.Fatalf("expected away possession, got %s", loaded.Possession)
	}
}

func TestMergeLoadRoundTrip(t *testing.T) {
	f := newFixture(t, domain.NewGameParams{HomeName: "Sharks", AwayName: "Dolphins"})
	f.playGoals(t)
	if _, err := f.eng.ApplyCapSwap("h1", 12, false, f.advance(time.Second)); err != nil {
		t.Fatalf("cap swap: %v", err)
	}
	if _, err := f.eng.RemovePlayer("a2", f.advance(time.Second)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ctx := context.Background()
	orig := f.eng.Snapshot()

	if _, err := f.rec.Merge(ctx, orig); err != nil {
		t.Fatalf("merge: %v", err)
	}
	loaded, err := f.rec.Load(ctx, "game-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Home.Score != 1 || loaded.Away.Score != 1 {
		t.Fatalf("expected 1-1, got %d-%d", loaded.Home.Score, loaded.Away.Score)
	}
	if loaded.Status != orig.Status || loaded.Period != orig.Period {
		t.Fatalf("expected status %s period %d, got %s period %d", orig.Status, orig.Period, loaded.Status, loaded.Period)
	}
	if loaded.Home.Name != "Sharks" || loaded.Away.Name != "Dolphins" {
		t.Fatalf("unexpected team names %q %q", loaded.Home.Name, loaded.Away.Name)
	}

	for _, side := range []domain.Side{domain.SideHome, domain.SideAway} {
		want := engine.ActiveRoster(orig.Roster, side)
		got := engine.ActiveRoster(loaded.Roster, side)
		if len(got) != len(want) {
			t.Fatalf("%s: expected %d active entries, got %d", side, len(want), len(got))
		}
		for i := range want {
			if got[i].PlayerID != want[i].PlayerID || got[i].CapNumber != want[i].CapNumber || got[i].RosterOrder != want[i].RosterOrder {
				t.Fatalf("%s: entry %d differs: want %+v got %+v", side, i, want[i], got[i])
			}
		}
	}

	h1 := stats.FindPlayer(&loaded.Home, "h1")
	if h1 == nil || h1.Goals != 1 || h1.CapNumber != 12 || h1.Name != "Home 1" {
		t.Fatalf("unexpected h1 after load: %+v", h1)
	}
	h2 := stats.FindPlayer(&loaded.Home, "h2")
	if h2 == nil || h2.Assists != 1 {
		t.Fatalf("unexpected h2 after load: %+v", h2)
	}
	a2 := stats.FindPlayer(&loaded.Away, "a2")
	if a2 == nil || a2.InGame {
		t.Fatalf("expected removed a2 to be out of the game, got %+v", a2)
	}
	if len(loaded.Events) != len(orig.Events) || loaded.Events[0].ID != orig.Events[0].ID {
		t.Fatalf("expected events to keep their ids and order")
	}
	if len(loaded.Actions) != len(orig.Actions) {
		t.Fatalf("expected %d actions, got %d", len(orig.Actions), len(loaded.Actions))
	}
}

func TestLoadedSessionSupportsEdits(t *testing.T) {
	f := newFixture(t, domain.NewGameParams{})
	f.playGoals(t)
	ctx := context.Background()
	if _, err := f.rec.Merge(ctx, f.eng.Session()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	loaded, err := f.rec.Load(ctx, "game-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	e := engine.New(loaded, engine.WithClock(func() time.Time { return f.now }))
	goal := loaded.Actions[0]
	if err := e.DeleteAction(goal.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if e.Session().Home.Score != 0 {
		t.Fatalf("expected home score 0 after delete, got %d", e.Session().Home.Score)
	}

	res, err := f.rec.Merge(ctx, e.Session())
	if err != nil {
		t.Fatalf("re-merge: %v", err)
	}
	if res.EventsRemoved != 2 {
		t.Fatalf("expected goal and assist events removed, got %d", res.EventsRemoved)
	}
	if g := getGame(t, f.store, "game-1"); g.HomeScore != 0 || g.AwayScore != 1 {
		t.Fatalf("expected durable score 0-1, got %d-%d", g.HomeScore, g.AwayScore)
	}
}

func TestLoadMissingGame(t *testing.T) {
	rec := reconcile.NewReconciler(memstore.New(), testLogger())
	_, err := rec.Load(context.Background(), "nope")
	if !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestMergeRejectsSessionWithoutID(t *testing.T) {
	rec := reconcile.NewReconciler(memstore.New(), testLogger())
	_, err := rec.Merge(context.Background(), &domain.GameSession{})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestMergeLeavesUnresolvedReferencesEmpty(t *testing.T) {
	f := newFixture(t, domain.NewGameParams{HomeTeamID: "team-home", AwayTeamID: "team-missing", SeasonID: "season-missing"})
	ctx := context.Background()
	err := f.store.InTx(ctx, func(ctx context.Context, tx reconcile.Tx) error {
		return tx.CreateTeam(ctx, &domain.TeamRecord{ID: "team-home", Name: "Sharks"})
	})
	if err != nil {
		t.Fatalf("creating team: %v", err)
	}

	if _, err := f.rec.Merge(ctx, f.eng.Session()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	g := getGame(t, f.store, "game-1")
	if g.HomeTeamID != "team-home" {
		t.Fatalf("expected home team to resolve, got %q", g.HomeTeamID)
	}
	if g.AwayTeamID != "" || g.SeasonID != "" {
		t.Fatalf("expected unresolved references to be empty, got away=%q season=%q", g.AwayTeamID, g.SeasonID)
	}
}

func TestMergeFailureWritesNothing(t *testing.T) {
	f := newFixture(t, domain.NewGameParams{})
	f.playGoals(t)
	ctx := context.Background()

	for _, op := range []string{"create_roster_entry", "upsert_event", "upsert_action", "commit"} {
		t.Run(op, func(t *testing.T) {
			f.store.SetFault(func(got string) error {
				if got == op {
					return errBoom
				}
				return nil
			})
			_, err := f.rec.Merge(ctx, f.eng.Session())
			f.store.SetFault(nil)

			var serr *reconcile.StorageError
			if !errors.As(err, &serr) || !errors.Is(err, errBoom) {
				t.Fatalf("expected storage error wrapping boom, got %v", err)
			}
			if _, err := f.rec.Load(ctx, "game-1"); !errors.Is(err, domain.ErrGameNotFound) {
				t.Fatalf("expected no game after failed merge, got %v", err)
			}
			if got := len(listRoster(t, f.store, "game-1")); got != 0 {
				t.Fatalf("expected no roster rows, got %d", got)
			}
		})
	}
}

func TestMergeLinksEventsByCapAtEventTime(t *testing.T) {
	f := newFixture(t, domain.NewGameParams{})
	if err := f.eng.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := f.advance(5 * time.Second)
	if _, err := f.eng.ApplyCapSwap("h2", 7, false, f.advance(5*time.Second)); err != nil {
		t.Fatalf("cap swap: %v", err)
	}
	if _, err := f.eng.AddPlayer(domain.SideHome, engine.PlayerSpec{ID: "h9", CapNumber: 2}, f.advance(time.Second)); err != nil {
		t.Fatalf("add: %v", err)
	}
	after := f.advance(time.Second)

	s := f.eng.Session()
	s.Events = append(s.Events,
		domain.GameEventRecord{ID: "manual-1", Timestamp: before, Period: 1, Type: domain.EventSteal, Side: domain.SideHome, PlayerNumber: domain.IntPtr(2)},
		domain.GameEventRecord{ID: "manual-2", Timestamp: after, Period: 1, Type: domain.EventSteal, Side: domain.SideHome, PlayerNumber: domain.IntPtr(2)},
		domain.GameEventRecord{ID: "manual-3", Timestamp: after, Period: 1, Type: domain.EventSteal, Side: domain.SideHome, PlayerNumber: domain.IntPtr(99)},
	)

	ctx := context.Background()
	res, err := f.rec.Merge(ctx, s)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.UnlinkedEvents != 1 {
		t.Fatalf("expected 1 unlinked event, got %d", res.UnlinkedEvents)
	}

	byID := make(map[string]domain.EventRecord)
	err = f.store.InTx(ctx, func(ctx context.Context, tx reconcile.Tx) error {
		events, err := tx.ListEvents(ctx, "game-1")
		for _, ev := range events {
			byID[ev.SourceEventID] = ev
		}
		return err
	})
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	if got := byID["manual-1"].PlayerID; got != "h2" {
		t.Fatalf("expected cap 2 before swap to be h2, got %q", got)
	}
	if got := byID["manual-2"].PlayerID; got != "h9" {
		t.Fatalf("expected cap 2 after swap to be h9, got %q", got)
	}
	if got := byID["manual-3"].PlayerID; got != "" {
		t.Fatalf("expected unknown cap to stay unlinked, got %q", got)
	}
}

func TestMergeKeepsExistingPlayerRecords(t *testing.T) {
	f := newFixture(t, domain.NewGameParams{})
	ctx := context.Background()
	err := f.store.InTx(ctx, func(ctx context.Context, tx reconcile.Tx) error {
		return tx.CreatePlayer(ctx, &domain.PlayerRecord{ID: "h1", Name: "Known Player", CapNumber: 1})
	})
	if err != nil {
		t.Fatalf("creating player: %v", err)
	}

	res, err := f.rec.Merge(ctx, f.eng.Session())
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.PlayersCreated != 5 {
		t.Fatalf("expected 5 placeholders, got %d", res.PlayersCreated)
	}

	var known, placeholder *domain.PlayerRecord
	err = f.store.InTx(ctx, func(ctx context.Context, tx reconcile.Tx) error {
		var err error
		if known, err = tx.GetPlayer(ctx, "h1"); err != nil {
			return err
		}
		placeholder, err = tx.GetPlayer(ctx, "a1")
		return err
	})
	if err != nil {
		t.Fatalf("getting players: %v", err)
	}
	if known.Name != "Known Player" || known.IsPlaceholder {
		t.Fatalf("expected existing player untouched, got %+v", known)
	}
	if !placeholder.IsPlaceholder || placeholder.Name != "Player #1" {
		t.Fatalf("expected placeholder named by cap, got %+v", placeholder)
	}
}

func TestCareerAcrossSeasons(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	rec := reconcile.NewReconciler(store, testLogger())

	dates := []time.Time{
		time.Date(2024, 10, 5, 17, 0, 0, 0, time.UTC),
		time.Date(2025, 9, 20, 17, 0, 0, 0, time.UTC),
	}
	for i, date := range dates {
		f := newFixture(t, domain.NewGameParams{ID: fmt.Sprintf("game-%d", i), ScheduledAt: date})
		f.playGoals(t)
		if _, err := rec.Merge(ctx, f.eng.Session()); err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}

	career, err := rec.Career(ctx, "h1")
	if err != nil {
		t.Fatalf("career: %v", err)
	}
	if career.Games != 2 || career.Totals.Goals != 2 {
		t.Fatalf("expected 2 games and 2 goals, got %+v", career)
	}
	if len(career.Seasons) != 2 || career.Seasons[0].Year != 2025 || career.Seasons[1].Year != 2024 {
		t.Fatalf("expected seasons 2025 then 2024, got %+v", career.Seasons)
	}

	if _, err := rec.Career(ctx, "nobody"); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Fatalf("expected ErrPlayerNotFound, got %v", err)
	}
}
