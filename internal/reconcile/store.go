// Package reconcile merges live game sessions into a durable entity store and
// rebuilds sessions from it.
package reconcile

import (
	"context"
	"fmt"

	"github.com/waterpolo-stats/internal/domain"
)

// Store runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of entity operations available inside a transaction. Lookups
// return an error matching domain.ErrNotFound when nothing matches.
type Tx interface {
	GetGame(ctx context.Context, id string) (*domain.GameRecord, error)
	CreateGame(ctx context.Context, g *domain.GameRecord) error
	UpdateGame(ctx context.Context, g *domain.GameRecord) error
	ListGames(ctx context.Context) ([]domain.GameRecord, error)

	GetTeam(ctx context.Context, id string) (*domain.TeamRecord, error)
	CreateTeam(ctx context.Context, t *domain.TeamRecord) error

	GetSeason(ctx context.Context, id string) (*domain.SeasonRecord, error)
	CreateSeason(ctx context.Context, s *domain.SeasonRecord) error

	GetPlayer(ctx context.Context, id string) (*domain.PlayerRecord, error)
	CreatePlayer(ctx context.Context, p *domain.PlayerRecord) error

	FindRosterEntry(ctx context.Context, key domain.RosterKey) (*domain.RosterRecord, error)
	CreateRosterEntry(ctx context.Context, r *domain.RosterRecord) error
	UpdateRosterEntry(ctx context.Context, r *domain.RosterRecord) error
	ListRosterEntries(ctx context.Context, gameID string) ([]domain.RosterRecord, error)

	UpsertEvent(ctx context.Context, e *domain.EventRecord) error
	DeleteEventsNotIn(ctx context.Context, gameID string, keep []string) (int, error)
	ListEvents(ctx context.Context, gameID string) ([]domain.EventRecord, error)
	ListPlayerEvents(ctx context.Context, playerID string) ([]domain.PlayerEvent, error)

	UpsertAction(ctx context.Context, a *domain.ActionRecord) error
	DeleteActionsNotIn(ctx context.Context, gameID string, keep []string) (int, error)
	ListActions(ctx context.Context, gameID string) ([]domain.ActionRecord, error)
}

// StorageError wraps a failure of the durable store. The enclosing
// transaction has been rolled back when a caller sees one.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
