// Package service owns the live game sessions. Every mutation, tick and merge
// of one game runs under that game's lock, and each change is fanned out to
// the snapshot cache, the event feeds and the websocket hub.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/waterpolo-stats/internal/config"
	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/engine"
	"github.com/waterpolo-stats/internal/metrics"
	"github.com/waterpolo-stats/internal/reconcile"
)

// SessionCache stores live session snapshots outside the process
type SessionCache interface {
	SaveSession(ctx context.Context, s *domain.GameSession) error
	LoadSession(ctx context.Context, gameID string) (*domain.GameSession, error)
	RemoveSession(ctx context.Context, gameID string) error
	RecoverLive(ctx context.Context) ([]*domain.GameSession, error)
}

// EventPublisher delivers appended events to an external feed
type EventPublisher interface {
	Publish(ctx context.Context, feed []domain.FeedEvent) error
}

// Broadcaster pushes live updates to connected displays
type Broadcaster interface {
	BroadcastScoreboard(sb domain.Scoreboard, force bool) bool
	BroadcastEvent(gameID string, ev domain.GameEventRecord)
	Forget(gameID string)
}

// Option configures a GameService
type Option func(*GameService)

// WithCache writes a snapshot to cache after every change
func WithCache(c SessionCache) Option {
	return func(s *GameService) {
		s.cache = c
	}
}

// WithPublisher adds an event feed
func WithPublisher(name string, p EventPublisher) Option {
	return func(s *GameService) {
		s.feeds = append(s.feeds, namedFeed{name: name, pub: p})
	}
}

// WithBroadcaster pushes scoreboards and events to b
func WithBroadcaster(b Broadcaster) Option {
	return func(s *GameService) {
		s.hub = b
	}
}

// WithRecorder records service metrics
func WithRecorder(r *metrics.Recorder) Option {
	return func(s *GameService) {
		s.recorder = r
	}
}

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(s *GameService) {
		s.now = now
	}
}

type namedFeed struct {
	name string
	pub  EventPublisher
}

// liveGame is the single-owner boundary around one engine
type liveGame struct {
	mu     sync.Mutex
	engine *engine.Engine
	dirty  bool
}

// GameService provides the scorekeeping operations
type GameService struct {
	reconciler *reconcile.Reconciler
	store      reconcile.Store
	config     *config.GameConfig
	logger     *slog.Logger

	cache    SessionCache
	feeds    []namedFeed
	hub      Broadcaster
	recorder *metrics.Recorder
	now      func() time.Time

	mu    sync.RWMutex
	games map[string]*liveGame
	loads singleflight.Group
}

// NewGameService creates a new game service
func NewGameService(
	reconciler *reconcile.Reconciler,
	store reconcile.Store,
	cfg *config.GameConfig,
	logger *slog.Logger,
	opts ...Option,
) *GameService {
	s := &GameService{
		reconciler: reconciler,
		store:      store,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
		games:      make(map[string]*liveGame),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateGameRequest describes a new game
type CreateGameRequest struct {
	ID           string           `json:"id,omitempty"`
	HomeTeamID   string           `json:"home_team_id,omitempty"`
	HomeName     string           `json:"home_name"`
	AwayTeamID   string           `json:"away_team_id,omitempty"`
	AwayName     string           `json:"away_name"`
	Level        domain.GameLevel `json:"level,omitempty"`
	GameType     domain.GameType  `json:"game_type,omitempty"`
	Location     string           `json:"location,omitempty"`
	VenueAddress string           `json:"venue_address,omitempty"`
	ScheduledAt  time.Time        `json:"scheduled_at,omitempty"`
	SeasonID     string           `json:"season_id,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	MaxTimeouts  int              `json:"max_timeouts,omitempty"`
}

// Validate checks the request fields
func (r CreateGameRequest) Validate() error {
	if r.HomeName == "" || r.AwayName == "" {
		return fmt.Errorf("%w: home_name and away_name are required", domain.ErrInvalidRequest)
	}
	if r.Level != "" && !r.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", domain.ErrInvalidRequest, r.Level)
	}
	switch r.GameType {
	case "", domain.GameTypeLeague, domain.GameTypeNonLeague, domain.GameTypeTournament, domain.GameTypeScrimmage:
	default:
		return fmt.Errorf("%w: unknown game type %q", domain.ErrInvalidRequest, r.GameType)
	}
	if r.MaxTimeouts < 0 {
		return fmt.Errorf("%w: max_timeouts must not be negative", domain.ErrInvalidRequest)
	}
	return nil
}

// CreateGame starts a new session in the ready state and adds it to the live set
func (s *GameService) CreateGame(ctx context.Context, req CreateGameRequest) (*domain.GameSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	level := req.Level
	if level == "" {
		level = s.config.DefaultLevel
	}
	scheduled := req.ScheduledAt
	if scheduled.IsZero() {
		scheduled = s.now()
	}

	sess := domain.NewGameSession(domain.NewGameParams{
		ID:                   req.ID,
		HomeTeamID:           req.HomeTeamID,
		HomeName:             req.HomeName,
		AwayTeamID:           req.AwayTeamID,
		AwayName:             req.AwayName,
		Level:                level,
		GameType:             req.GameType,
		Location:             req.Location,
		VenueAddress:         req.VenueAddress,
		ScheduledAt:          scheduled,
		SeasonID:             req.SeasonID,
		Notes:                req.Notes,
		MaxTimeouts:          req.MaxTimeouts,
		ShotClockLength:      s.config.ShotClockSeconds,
		OvertimePeriodLength: s.config.OvertimePeriodLength,
		MaxOvertimePeriods:   s.config.MaxOvertimePeriods,
	})
	sess.UpdatedAt = s.now()
	g := &liveGame{engine: s.newEngine(sess), dirty: true}

	s.mu.Lock()
	if _, ok := s.games[g.engine.ID()]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("create %s: %w", g.engine.ID(), domain.ErrGameExists)
	}
	s.games[g.engine.ID()] = g
	s.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	snap := g.engine.Snapshot()
	s.fanOut(ctx, snap, nil, true)

	s.logger.Info("game created",
		"game_id", snap.ID,
		"home", snap.Home.Name,
		"away", snap.Away.Name,
		"level", snap.Level,
	)
	return snap, nil
}

func (s *GameService) newEngine(sess *domain.GameSession) *engine.Engine {
	return engine.New(sess, engine.WithClock(s.now))
}

// GetGame returns a snapshot of a game from the live set, the cache or the durable store
func (s *GameService) GetGame(ctx context.Context, gameID string) (*domain.GameSession, error) {
	if g := s.lookup(gameID); g != nil {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.engine.Snapshot(), nil
	}
	return s.restore(ctx, gameID)
}

// OpenGame loads a game into the live set so it can be scored
func (s *GameService) OpenGame(ctx context.Context, gameID string) (*domain.GameSession, error) {
	g, err := s.live(ctx, gameID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.engine.Snapshot(), nil
}

// IsLive reports whether a game is in the live set
func (s *GameService) IsLive(gameID string) bool {
	return s.lookup(gameID) != nil
}

// LiveGameIDs returns the ids in the live set
func (s *GameService) LiveGameIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.games))
	for id := range s.games {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ScoreboardFor returns the scoreboard of a live game
func (s *GameService) ScoreboardFor(gameID string) (domain.Scoreboard, bool) {
	g := s.lookup(gameID)
	if g == nil {
		return domain.Scoreboard{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.engine.Session().Scoreboard(), true
}

func (s *GameService) lookup(gameID string) *liveGame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.games[gameID]
}

// live returns the live game, adopting it from the cache or durable store
// when it is not loaded yet. Concurrent adoptions of one id share a load.
func (s *GameService) live(ctx context.Context, gameID string) (*liveGame, error) {
	if g := s.lookup(gameID); g != nil {
		return g, nil
	}
	v, err, _ := s.loads.Do(gameID, func() (any, error) {
		if g := s.lookup(gameID); g != nil {
			return g, nil
		}
		sess, err := s.restore(ctx, gameID)
		if err != nil {
			return nil, err
		}
		g := &liveGame{engine: s.newEngine(sess)}

		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.games[gameID]; ok {
			return existing, nil
		}
		s.games[gameID] = g
		s.logger.Info("game opened", "game_id", gameID, "status", sess.Status)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*liveGame), nil
}

// restore reads a session from the cache, falling back to the durable store
func (s *GameService) restore(ctx context.Context, gameID string) (*domain.GameSession, error) {
	if s.cache != nil {
		sess, err := s.cache.LoadSession(ctx, gameID)
		switch {
		case err == nil:
			return sess, nil
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.Warn("failed to read session cache", "game_id", gameID, "error", err)
		}
	}
	sess, err := s.reconciler.Load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// mutate runs fn on the live engine under the game lock. On success the
// game is marked dirty and the change is fanned out before the lock is
// released so feeds see one game's changes in order.
func (s *GameService) mutate(ctx context.Context, gameID string, fn func(e *engine.Engine) error) (*domain.GameSession, error) {
	g, err := s.live(ctx, gameID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := fn(g.engine); err != nil {
		return nil, err
	}
	g.dirty = true
	snap := g.engine.Snapshot()
	s.fanOut(ctx, snap, g.engine.DrainEvents(), true)
	return snap, nil
}

// view runs fn on the live engine, or on a throwaway engine over a restored
// snapshot when the game is not live.
func (s *GameService) view(ctx context.Context, gameID string, fn func(e *engine.Engine)) error {
	if g := s.lookup(gameID); g != nil {
		g.mu.Lock()
		defer g.mu.Unlock()
		fn(g.engine)
		return nil
	}
	sess, err := s.restore(ctx, gameID)
	if err != nil {
		return err
	}
	fn(s.newEngine(sess))
	return nil
}

// fanOut writes snap to the cache and pushes events and the scoreboard to
// the feeds and the hub. Failures are logged; the session change stands.
func (s *GameService) fanOut(ctx context.Context, snap *domain.GameSession, events []domain.GameEventRecord, force bool) {
	if s.cache != nil {
		if err := s.cache.SaveSession(ctx, snap); err != nil {
			s.logger.Warn("failed to cache session", "game_id", snap.ID, "error", err)
		}
	}

	if len(events) > 0 && len(s.feeds) > 0 {
		feed := make([]domain.FeedEvent, 0, len(events))
		for _, ev := range events {
			feed = append(feed, domain.FeedEvent{
				GameID:    snap.ID,
				HomeScore: snap.Home.Score,
				AwayScore: snap.Away.Score,
				Event:     ev,
			})
		}
		for _, f := range s.feeds {
			if err := f.pub.Publish(ctx, feed); err != nil {
				s.logger.Error("failed to publish events",
					"feed", f.name,
					"game_id", snap.ID,
					"events", len(feed),
					"error", err,
				)
			}
		}
	}

	if s.hub != nil {
		for _, ev := range events {
			s.hub.BroadcastEvent(snap.ID, ev)
		}
		s.hub.BroadcastScoreboard(snap.Scoreboard(), force)
	}
}

// AdvanceAll feeds elapsed wall time to every running live game and returns
// how many were running.
func (s *GameService) AdvanceAll(ctx context.Context, now time.Time) int {
	start := time.Now()
	s.mu.RLock()
	games := make([]*liveGame, 0, len(s.games))
	for _, g := range s.games {
		games = append(games, g)
	}
	s.mu.RUnlock()

	running := 0
	for _, g := range games {
		if s.advance(ctx, g, now) {
			running++
		}
	}
	s.recorder.RecordClockCycle(running, time.Since(start))
	return running
}

func (s *GameService) advance(ctx context.Context, g *liveGame, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.engine.Session().Running() {
		// Drop the anchor so paused wall time is never counted
		g.engine.Advance(now)
		return false
	}
	res, err := g.engine.Advance(now)
	if err != nil {
		s.logger.Error("clock advance failed", "game_id", g.engine.ID(), "error", err)
		return true
	}
	g.dirty = true

	events := g.engine.DrainEvents()
	if len(events) == 0 {
		if s.hub != nil {
			s.hub.BroadcastScoreboard(g.engine.Session().Scoreboard(), false)
		}
		return true
	}

	if res.PeriodEnded {
		s.logger.Info("period ended",
			"game_id", g.engine.ID(),
			"period", res.PeriodScore.Period,
			"home_score", res.PeriodScore.HomeScore,
			"away_score", res.PeriodScore.AwayScore,
		)
	}
	s.fanOut(ctx, g.engine.Snapshot(), events, true)
	return true
}

// SaveGame merges a live game into the durable store
func (s *GameService) SaveGame(ctx context.Context, gameID string) (reconcile.MergeResult, error) {
	g, err := s.live(ctx, gameID)
	if err != nil {
		return reconcile.MergeResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return s.merge(ctx, g)
}

// merge must be called with g.mu held
func (s *GameService) merge(ctx context.Context, g *liveGame) (reconcile.MergeResult, error) {
	start := time.Now()
	res, err := s.reconciler.Merge(ctx, g.engine.Session())
	s.recorder.RecordMerge(time.Since(start), err)
	if err != nil {
		s.logger.Error("failed to merge game", "game_id", g.engine.ID(), "error", err)
		return reconcile.MergeResult{}, fmt.Errorf("saving game %s: %w", g.engine.ID(), err)
	}
	g.dirty = false
	return res, nil
}

// SaveDirty merges every live game changed since its last merge. Completed
// games leave the live set once merged.
func (s *GameService) SaveDirty(ctx context.Context) (int, error) {
	s.mu.RLock()
	games := make([]*liveGame, 0, len(s.games))
	for _, g := range s.games {
		games = append(games, g)
	}
	s.mu.RUnlock()

	saved := 0
	var errs []error
	for _, g := range games {
		ok, err := s.saveIfDirty(ctx, g)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			saved++
		}
	}
	return saved, errors.Join(errs...)
}

func (s *GameService) saveIfDirty(ctx context.Context, g *liveGame) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	saved := false
	if g.dirty {
		if _, err := s.merge(ctx, g); err != nil {
			return false, err
		}
		saved = true
	}
	if g.engine.Session().Status == domain.StatusCompleted {
		s.evict(ctx, g.engine.ID())
	}
	return saved, nil
}

// evict drops a merged game from the live set
func (s *GameService) evict(ctx context.Context, gameID string) {
	s.mu.Lock()
	delete(s.games, gameID)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.RemoveSession(ctx, gameID); err != nil {
			s.logger.Warn("failed to remove cached session", "game_id", gameID, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.Forget(gameID)
	}
	s.logger.Info("completed game closed", "game_id", gameID)
}

// Recover adopts the live sessions held in the cache, typically at startup
func (s *GameService) Recover(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	sessions, err := s.cache.RecoverLive(ctx)
	if err != nil {
		return 0, fmt.Errorf("recovering live sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range sessions {
		if _, ok := s.games[sess.ID]; ok {
			continue
		}
		// The cache may be ahead of the durable store
		s.games[sess.ID] = &liveGame{engine: s.newEngine(sess), dirty: true}
		n++
	}
	s.logger.Info("recovered live games", "count", n)
	return n, nil
}
