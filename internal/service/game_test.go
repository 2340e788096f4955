package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/waterpolo-stats/internal/config"
	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/engine"
	"github.com/waterpolo-stats/internal/memstore"
	"github.com/waterpolo-stats/internal/metrics"
	"github.com/waterpolo-stats/internal/reconcile"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCache struct {
	mu       sync.Mutex
	sessions map[string]*domain.GameSession
}

func newFakeCache() *fakeCache {
	return &fakeCache{sessions: make(map[string]*domain.GameSession)}
}

func (c *fakeCache) SaveSession(_ context.Context, s *domain.GameSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s.ID] = s.Clone()
	return nil
}

func (c *fakeCache) LoadSession(_ context.Context, id string) (*domain.GameSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	return s.Clone(), nil
}

func (c *fakeCache) RemoveSession(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
	return nil
}

func (c *fakeCache) RecoverLive(context.Context) ([]*domain.GameSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*domain.GameSession
	for _, s := range c.sessions {
		if s.Status.Active() {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

type fakeFeed struct {
	mu     sync.Mutex
	events []domain.FeedEvent
}

func (f *fakeFeed) Publish(_ context.Context, feed []domain.FeedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, feed...)
	return nil
}

func (f *fakeFeed) types() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventType, 0, len(f.events))
	for _, fe := range f.events {
		out = append(out, fe.Event.Type)
	}
	return out
}

type fakeHub struct {
	mu          sync.Mutex
	scoreboards []domain.Scoreboard
	forced      int
	events      int
	forgotten   []string
}

func (h *fakeHub) BroadcastScoreboard(sb domain.Scoreboard, force bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scoreboards = append(h.scoreboards, sb)
	if force {
		h.forced++
	}
	return true
}

func (h *fakeHub) BroadcastEvent(string, domain.GameEventRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events++
}

func (h *fakeHub) Forget(gameID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forgotten = append(h.forgotten, gameID)
}

type fixture struct {
	svc      *GameService
	store    *memstore.Store
	cache    *fakeCache
	feed     *fakeFeed
	hub      *fakeHub
	recorder *metrics.Recorder
	now      time.Time
}

func (f *fixture) clock() time.Time {
	return f.now
}

func gameConfig() *config.GameConfig {
	return &config.GameConfig{
		ShotClockSeconds:     domain.DefaultShotClock,
		OvertimePeriodLength: domain.DefaultOvertimePeriodLength,
		MaxOvertimePeriods:   domain.DefaultMaxOvertimePeriods,
		DefaultLevel:         domain.LevelBoysVarsity,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		cache:    newFakeCache(),
		feed:     &fakeFeed{},
		hub:      &fakeHub{},
		recorder: metrics.NewRecorder(),
		now:      time.Date(2025, 10, 4, 17, 0, 0, 0, time.UTC),
	}
	f.svc = f.newService(WithCache(f.cache))
	return f
}

func (f *fixture) newService(opts ...Option) *GameService {
	opts = append([]Option{
		WithPublisher("test", f.feed),
		WithBroadcaster(f.hub),
		WithRecorder(f.recorder),
		WithClock(f.clock),
	}, opts...)
	return NewGameService(reconcile.NewReconciler(f.store, testLogger()), f.store, gameConfig(), testLogger(), opts...)
}

// setupGame creates game g1 with caps 1-2 on each side and starts it
func (f *fixture) setupGame(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.CreateGame(ctx, CreateGameRequest{ID: "g1", HomeName: "Aptos", AwayName: "Soquel"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, p := range []struct {
		side domain.Side
		id   string
		cap  int
	}{
		{domain.SideHome, "h1", 1},
		{domain.SideHome, "h2", 2},
		{domain.SideAway, "a1", 1},
		{domain.SideAway, "a2", 2},
	} {
		if _, err := f.svc.AddPlayer(ctx, "g1", p.side, engine.PlayerSpec{ID: p.id, Name: p.id, CapNumber: p.cap}); err != nil {
			t.Fatalf("add %s: %v", p.id, err)
		}
	}
	if _, err := f.svc.Start(ctx, "g1"); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestRecordActionFansOut(t *testing.T) {
	f := newFixture(t)
	f.setupGame(t)
	ctx := context.Background()

	a, err := f.svc.RecordAction(ctx, "g1", engine.ActionInput{
		Type:                  domain.ActionGoal,
		Side:                  domain.SideHome,
		PlayerNumber:          domain.IntPtr(1),
		SecondaryPlayerNumber: domain.IntPtr(2),
	})
	if err != nil {
		t.Fatalf("goal: %v", err)
	}
	if a.PlayerID != "h1" || a.SecondaryPlayerID != "h2" {
		t.Fatalf("action players = %q/%q", a.PlayerID, a.SecondaryPlayerID)
	}

	sb, err := f.svc.Scoreboard(ctx, "g1")
	if err != nil {
		t.Fatalf("scoreboard: %v", err)
	}
	if sb.HomeScore != 1 || sb.Status != domain.StatusPaused {
		t.Fatalf("scoreboard = %+v", sb)
	}

	want := []domain.EventType{domain.EventGameStart, domain.EventGoal, domain.EventAssist}
	got := f.feed.types()
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("published %v, want %v", got, want)
		}
	}
	if f.feed.events[1].HomeScore != 1 {
		t.Fatalf("feed score = %d", f.feed.events[1].HomeScore)
	}
	if f.hub.events != 3 {
		t.Fatalf("hub events = %d, want 3", f.hub.events)
	}

	cached, err := f.cache.LoadSession(ctx, "g1")
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	if cached.Home.Score != 1 || len(cached.Actions) != 1 {
		t.Fatalf("cached session is stale: score %d, actions %d", cached.Home.Score, len(cached.Actions))
	}
	if got := f.recorder.Snapshot().Actions["goal"]; got != 1 {
		t.Fatalf("goal metric = %d", got)
	}
}

func TestAdvanceAllDrivesClock(t *testing.T) {
	f := newFixture(t)
	f.setupGame(t)
	ctx := context.Background()
	start := f.now

	if n := f.svc.AdvanceAll(ctx, start.Add(10*time.Second)); n != 1 {
		t.Fatalf("running games = %d, want 1", n)
	}
	sb, _ := f.svc.Scoreboard(ctx, "g1")
	if sb.GameClock != 410 || sb.ShotClock != 20 {
		t.Fatalf("clocks after 10s = %v/%v", sb.GameClock, sb.ShotClock)
	}

	f.svc.AdvanceAll(ctx, start.Add(420*time.Second))
	sb, _ = f.svc.Scoreboard(ctx, "g1")
	if sb.GameClock != 0 || sb.PeriodActive || sb.Status != domain.StatusPaused {
		t.Fatalf("period should have ended: %+v", sb)
	}
	got := f.feed.types()
	if got[len(got)-1] != domain.EventPeriodEnd {
		t.Fatalf("last published event = %s, want period_end", got[len(got)-1])
	}

	// Paused games do not count as running
	if n := f.svc.AdvanceAll(ctx, start.Add(430*time.Second)); n != 0 {
		t.Fatalf("running games = %d, want 0", n)
	}
	if f.recorder.Snapshot().ClockCycles != 3 {
		t.Fatalf("clock cycles = %d", f.recorder.Snapshot().ClockCycles)
	}
}

func TestSaveDirtyEvictsCompletedGames(t *testing.T) {
	f := newFixture(t)
	f.setupGame(t)
	ctx := context.Background()

	saved, err := f.svc.SaveDirty(ctx)
	if err != nil || saved != 1 {
		t.Fatalf("first autosave = %d, %v", saved, err)
	}
	if saved, _ := f.svc.SaveDirty(ctx); saved != 0 {
		t.Fatalf("clean game was saved again")
	}

	if _, err := f.svc.EndGame(ctx, "g1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if saved, err := f.svc.SaveDirty(ctx); err != nil || saved != 1 {
		t.Fatalf("final autosave = %d, %v", saved, err)
	}
	if f.svc.IsLive("g1") {
		t.Fatalf("completed game should leave the live set")
	}
	if _, err := f.cache.LoadSession(ctx, "g1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("completed game should leave the cache, got %v", err)
	}
	if len(f.hub.forgotten) != 1 {
		t.Fatalf("hub should forget the game")
	}

	s, err := f.svc.GetGame(ctx, "g1")
	if err != nil {
		t.Fatalf("get after eviction: %v", err)
	}
	if s.Status != domain.StatusCompleted || len(s.Roster) != 4 {
		t.Fatalf("durable game: status %s roster %d", s.Status, len(s.Roster))
	}
	if m := f.recorder.Snapshot().Merges; m != 2 {
		t.Fatalf("merges = %d, want 2", m)
	}
}

func TestSaveIsIdempotentOnRoster(t *testing.T) {
	f := newFixture(t)
	f.setupGame(t)
	ctx := context.Background()

	first, err := f.svc.SaveGame(ctx, "g1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := f.svc.SaveGame(ctx, "g1")
	if err != nil {
		t.Fatalf("save again: %v", err)
	}
	if first.RosterCreated != 4 || second.RosterCreated != 0 || second.RosterUpdated != 4 {
		t.Fatalf("merges = %+v then %+v", first, second)
	}
}

func TestOpenGameSharesConcurrentLoads(t *testing.T) {
	f := newFixture(t)
	f.setupGame(t)
	ctx := context.Background()
	if _, err := f.svc.SaveGame(ctx, "g1"); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A fresh process with no cache must load from the durable store
	svc := f.newService()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.OpenGame(ctx, "g1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("open: %v", err)
	}
	if ids := svc.LiveGameIDs(); len(ids) != 1 || ids[0] != "g1" {
		t.Fatalf("live ids = %v", ids)
	}

	if _, err := svc.Resume(ctx, "g1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("resume of a running game should be rejected, got %v", err)
	}
	if _, err := svc.Pause(ctx, "g1"); err != nil {
		t.Fatalf("pause after load: %v", err)
	}
}

func TestErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Start(ctx, "missing"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("unknown game: %v", err)
	}
	if _, err := f.svc.CreateGame(ctx, CreateGameRequest{HomeName: "A"}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("missing away name: %v", err)
	}
	if _, err := f.svc.CreateGame(ctx, CreateGameRequest{HomeName: "A", AwayName: "B", Level: "varsity"}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("bad level: %v", err)
	}

	f.setupGame(t)
	if _, err := f.svc.CreateGame(ctx, CreateGameRequest{ID: "g1", HomeName: "A", AwayName: "B"}); !errors.Is(err, domain.ErrGameExists) {
		t.Fatalf("duplicate id: %v", err)
	}
	if _, err := f.svc.Start(ctx, "g1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double start: %v", err)
	}
	var terr *domain.TransitionError
	if _, err := f.svc.Start(ctx, "g1"); !errors.As(err, &terr) || terr.Op != "start" {
		t.Fatalf("transition error should name the operation: %v", err)
	}
	if _, err := f.svc.CapSwap(ctx, "g1", "nobody", 9, false); !errors.Is(err, domain.ErrPlayerNotActive) {
		t.Fatalf("swap of unknown player: %v", err)
	}
	if _, err := f.svc.RosterHistory(ctx, "g1", "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("history of unknown player: %v", err)
	}
	if _, err := f.svc.ActiveRoster(ctx, "g1", domain.SideOfficial); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("official roster: %v", err)
	}
}

func TestRosterAndLogQueries(t *testing.T) {
	f := newFixture(t)
	f.setupGame(t)
	ctx := context.Background()

	entry, err := f.svc.CapSwap(ctx, "g1", "h2", 13, true)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if entry.RosterOrder != 2 || entry.CapNumber != 13 || !entry.IsGoalie {
		t.Fatalf("swap entry = %+v", entry)
	}
	history, err := f.svc.RosterHistory(ctx, "g1", "h2")
	if err != nil || len(history) != 2 || history[0].IsActive {
		t.Fatalf("history = %+v, %v", history, err)
	}
	home, _ := f.svc.ActiveRoster(ctx, "g1", domain.SideHome)
	if len(home) != 2 {
		t.Fatalf("home roster = %+v", home)
	}

	if _, err := f.svc.RecordAction(ctx, "g1", engine.ActionInput{Type: domain.ActionSteal, Side: domain.SideHome, PlayerNumber: domain.IntPtr(13)}); err != nil {
		t.Fatalf("steal: %v", err)
	}
	log, err := f.svc.GameLog(ctx, "g1", &LogFilter{Side: domain.SideHome, CapNumber: 13})
	if err != nil || len(log) != 1 || log[0].PlayerID != "h2" {
		t.Fatalf("player log = %+v, %v", log, err)
	}
	box, err := f.svc.BoxScore(ctx, "g1")
	if err != nil || box.Home.Totals.Steals != 1 {
		t.Fatalf("box = %+v, %v", box.Home.Totals, err)
	}
	actions, _ := f.svc.ActionLog(ctx, "g1")
	if len(actions) != 1 {
		t.Fatalf("actions = %+v", actions)
	}

	if err := f.svc.DeleteAction(ctx, "g1", actions[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	box, _ = f.svc.BoxScore(ctx, "g1")
	if box.Home.Totals.Steals != 0 {
		t.Fatalf("steal should be removed from totals")
	}
}

func TestApplyCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateGame(ctx, CreateGameRequest{ID: "g1", HomeName: "A", AwayName: "B"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	cmds := []domain.Command{
		{GameID: "g1", Command: domain.CommandAddPlayer, Side: domain.SideHome, PlayerID: "h7", PlayerName: "Seven", CapNumber: 7},
		{GameID: "g1", Command: domain.CommandStart},
		{GameID: "g1", Command: domain.CommandAction, ActionType: domain.ActionGoal, Side: domain.SideHome, PlayerNumber: domain.IntPtr(7)},
		{GameID: "g1", Command: domain.CommandSave},
	}
	for _, cmd := range cmds {
		if err := f.svc.ApplyCommand(ctx, cmd); err != nil {
			t.Fatalf("%s: %v", cmd.Command, err)
		}
	}
	sb, _ := f.svc.Scoreboard(ctx, "g1")
	if sb.HomeScore != 1 {
		t.Fatalf("home score = %d", sb.HomeScore)
	}

	err := f.svc.ApplyCommand(ctx, domain.Command{GameID: "g1", Command: "dance"})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("unknown command: %v", err)
	}

	// The goal paused the clock
	resume := domain.Command{GameID: "g1", Command: domain.CommandResume}
	if err := f.svc.ApplyCommand(ctx, resume); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := f.svc.ApplyCommand(ctx, resume); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second resume: %v", err)
	}
}

func TestRecoverAdoptsCachedSessions(t *testing.T) {
	f := newFixture(t)
	f.setupGame(t)

	svc := f.newService(WithCache(f.cache))
	n, err := svc.Recover(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("recover = %d, %v", n, err)
	}
	if !svc.IsLive("g1") {
		t.Fatalf("recovered game should be live")
	}
	if saved, err := svc.SaveDirty(context.Background()); err != nil || saved != 1 {
		t.Fatalf("recovered game should be merged, got %d, %v", saved, err)
	}
}

func TestRegistryAndCareer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	team, err := f.svc.CreateTeam(ctx, CreateTeamRequest{Name: "Aptos", Level: domain.LevelBoysVarsity})
	if err != nil {
		t.Fatalf("team: %v", err)
	}
	if _, err := f.svc.CreateSeason(ctx, CreateSeasonRequest{Year: 2025, TeamID: team.ID}); err != nil {
		t.Fatalf("season: %v", err)
	}
	if _, err := f.svc.CreateSeason(ctx, CreateSeasonRequest{Year: 2025, TeamID: "nope"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("season for unknown team: %v", err)
	}
	player, err := f.svc.CreatePlayer(ctx, CreatePlayerRequest{Name: "Kai", CapNumber: 4, TeamID: team.ID})
	if err != nil {
		t.Fatalf("player: %v", err)
	}
	if _, err := f.svc.CreatePlayer(ctx, CreatePlayerRequest{}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("nameless player: %v", err)
	}

	if _, err := f.svc.CreateGame(ctx, CreateGameRequest{ID: "g1", HomeTeamID: team.ID, HomeName: "Aptos", AwayName: "Soquel"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.AddPlayer(ctx, "g1", domain.SideHome, engine.PlayerSpec{ID: player.ID, CapNumber: 4}); err != nil {
		t.Fatalf("add: %v", err)
	}
	f.svc.Start(ctx, "g1")
	if _, err := f.svc.RecordAction(ctx, "g1", engine.ActionInput{Type: domain.ActionGoal, Side: domain.SideHome, PlayerNumber: domain.IntPtr(4)}); err != nil {
		t.Fatalf("goal: %v", err)
	}
	if _, err := f.svc.SaveGame(ctx, "g1"); err != nil {
		t.Fatalf("save: %v", err)
	}

	career, err := f.svc.Career(ctx, player.ID)
	if err != nil {
		t.Fatalf("career: %v", err)
	}
	if career.Games != 1 || career.Totals.Goals != 1 {
		t.Fatalf("career = %+v", career)
	}
	if _, err := f.svc.Career(ctx, "nobody"); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Fatalf("career of unknown player: %v", err)
	}
}
