package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/waterpolo-stats/internal/config"
	"github.com/waterpolo-stats/internal/domain"
)

// SessionCache keeps snapshots of live game sessions in Redis so a restarted
// service can resume games that were not yet saved.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewSessionCache creates a new Redis session cache
func NewSessionCache(cfg *config.RedisConfig, logger *slog.Logger) (*SessionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewSessionCacheWithClient(client, cfg.SnapshotTTL, logger), nil
}

// NewSessionCacheWithClient wraps an existing client
func NewSessionCacheWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *SessionCache {
	return &SessionCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *SessionCache) Close() error {
	return c.client.Close()
}

// Ping checks that Redis is reachable
func (c *SessionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// sessionKey returns the Redis key for a game's session snapshot
func sessionKey(gameID string) string {
	return fmt.Sprintf("game:%s:session", gameID)
}

// scoreboardKey returns the Redis key for a game's scoreboard hash
func scoreboardKey(gameID string) string {
	return fmt.Sprintf("game:%s:scoreboard", gameID)
}

// liveGamesKey is the set of games that are started and not completed
const liveGamesKey = "games:live"

// SaveSession stores a snapshot and scoreboard of s and tracks whether it is live
func (c *SessionCache) SaveSession(ctx context.Context, s *domain.GameSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	sb := s.Scoreboard()

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), data, c.ttl)
	pipe.HSet(ctx, scoreboardKey(s.ID),
		"home_name", sb.HomeName,
		"away_name", sb.AwayName,
		"home_score", sb.HomeScore,
		"away_score", sb.AwayScore,
		"period", sb.Period,
		"game_clock", strconv.FormatFloat(sb.GameClock, 'f', 1, 64),
		"shot_clock", strconv.FormatFloat(sb.ShotClock, 'f', 1, 64),
		"status", string(sb.Status),
		"possession", string(sb.Possession),
		"home_timeouts", sb.HomeTimeouts,
		"away_timeouts", sb.AwayTimeouts,
	)
	pipe.Expire(ctx, scoreboardKey(s.ID), c.ttl)
	if s.Status.Active() {
		pipe.SAdd(ctx, liveGamesKey, s.ID)
	} else {
		pipe.SRem(ctx, liveGamesKey, s.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// LoadSession returns the cached snapshot of a game
func (c *SessionCache) LoadSession(ctx context.Context, gameID string) (*domain.GameSession, error) {
	data, err := c.client.Get(ctx, sessionKey(gameID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrGameNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}

	var s domain.GameSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	return &s, nil
}

// GetScoreboard returns the cached scoreboard of a game
func (c *SessionCache) GetScoreboard(ctx context.Context, gameID string) (*domain.Scoreboard, error) {
	result, err := c.client.HGetAll(ctx, scoreboardKey(gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting scoreboard: %w", err)
	}

	if len(result) == 0 {
		return nil, domain.ErrGameNotFound
	}

	homeScore, _ := strconv.Atoi(result["home_score"])
	awayScore, _ := strconv.Atoi(result["away_score"])
	period, _ := strconv.Atoi(result["period"])
	gameClock, _ := strconv.ParseFloat(result["game_clock"], 64)
	shotClock, _ := strconv.ParseFloat(result["shot_clock"], 64)
	homeTimeouts, _ := strconv.Atoi(result["home_timeouts"])
	awayTimeouts, _ := strconv.Atoi(result["away_timeouts"])

	return &domain.Scoreboard{
		GameID:       gameID,
		HomeName:     result["home_name"],
		AwayName:     result["away_name"],
		HomeScore:    homeScore,
		AwayScore:    awayScore,
		Period:       period,
		IsOvertime:   period > domain.RegularPeriods,
		GameClock:    gameClock,
		ShotClock:    shotClock,
		Status:       domain.GameStatus(result["status"]),
		Possession:   domain.Side(result["possession"]),
		HomeTimeouts: homeTimeouts,
		AwayTimeouts: awayTimeouts,
	}, nil
}

// LiveGameIDs returns the ids of games cached as in progress or paused
func (c *SessionCache) LiveGameIDs(ctx context.Context) ([]string, error) {
	ids, err := c.client.SMembers(ctx, liveGamesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing live games: %w", err)
	}
	return ids, nil
}

// RemoveSession drops everything cached for a game
func (c *SessionCache) RemoveSession(ctx context.Context, gameID string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, sessionKey(gameID), scoreboardKey(gameID))
	pipe.SRem(ctx, liveGamesKey, gameID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}

// RecoverLive loads every live snapshot. Snapshots that expired or fail to
// decode are dropped from the live set.
func (c *SessionCache) RecoverLive(ctx context.Context) ([]*domain.GameSession, error) {
	ids, err := c.LiveGameIDs(ctx)
	if err != nil {
		return nil, err
	}

	sessions := make([]*domain.GameSession, 0, len(ids))
	for _, id := range ids {
		s, err := c.LoadSession(ctx, id)
		if err != nil {
			c.logger.Warn("dropping unrecoverable live game", "game_id", id, "error", err)
			if err := c.client.SRem(ctx, liveGamesKey, id).Err(); err != nil {
				return nil, fmt.Errorf("pruning live games: %w", err)
			}
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}
