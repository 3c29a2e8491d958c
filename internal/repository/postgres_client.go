package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"line-relay/internal/domain"
)

const (
	selectHistorySQL = `SELECT turns FROM chat_history WHERE session_key = $1`
	upsertHistorySQL = `INSERT INTO chat_history (session_key, turns, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (session_key) DO UPDATE SET turns = EXCLUDED.turns, updated_at = EXCLUDED.updated_at`
	deleteHistorySQL = `DELETE FROM chat_history WHERE session_key = $1`
)

// pgxAPI is the subset of *pgxpool.Pool used by PostgresStore.
type pgxAPI interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps one chat_history row per session with the turns as
// a jsonb array.
type PostgresStore struct {
	db pgxAPI
}

func NewPostgresStore(db pgxAPI) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionKey string) (domain.History, bool, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, selectHistorySQL, sessionKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("repository: Get query: %w", err)
	}

	history := domain.History{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &history); err != nil {
			return nil, false, fmt.Errorf("repository: Get decode: %w", err)
		}
	}
	return history, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, sessionKey string, history domain.History) error {
	if history == nil {
		history = domain.History{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("repository: Put marshal: %w", err)
	}
	if _, err := s.db.Exec(ctx, upsertHistorySQL, sessionKey, raw); err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionKey string) error {
	if _, err := s.db.Exec(ctx, deleteHistorySQL, sessionKey); err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}
