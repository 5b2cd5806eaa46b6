package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/imaginegw/imagine-gateway-go/internal/config"
	"github.com/imaginegw/imagine-gateway-go/internal/model"
)

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS imagine_sessions (
	id                 TEXT PRIMARY KEY,
	secret             TEXT NOT NULL,
	verification_state TEXT NOT NULL DEFAULT 'unverified',
	failure_reason     TEXT NOT NULL DEFAULT '',
	daily_count        INT NOT NULL DEFAULT 0,
	daily_window_start TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	total_count        BIGINT NOT NULL DEFAULT 0,
	last_used_at       TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	weight             INT NOT NULL DEFAULT 1,
	blocked            BOOLEAN NOT NULL DEFAULT FALSE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore is the SQL shared backend. Cross-process exclusion uses
// session-scoped advisory locks held on a dedicated connection.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(config.DBMaxOpenConns)
	db.SetMaxIdleConns(config.DBMaxIdleConns)
	db.SetConnMaxLifetime(config.DBConnMaxLifetime)

	if _, err := db.Exec(sessionsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]*model.Session, error) {
	var sessions []model.Session
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM imagine_sessions ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	out := make([]*model.Session, 0, len(sessions))
	for i := range sessions {
		out = append(out, &sessions[i])
	}
	return out, nil
}

func (s *PostgresStore) Save(ctx context.Context, session *model.Session) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO imagine_sessions (
			id, secret, verification_state, failure_reason,
			daily_count, daily_window_start, total_count, last_used_at,
			weight, blocked, created_at, updated_at
		) VALUES (
			:id, :secret, :verification_state, :failure_reason,
			:daily_count, :daily_window_start, :total_count, :last_used_at,
			:weight, :blocked, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			verification_state = EXCLUDED.verification_state,
			failure_reason     = EXCLUDED.failure_reason,
			daily_count        = EXCLUDED.daily_count,
			daily_window_start = EXCLUDED.daily_window_start,
			total_count        = EXCLUDED.total_count,
			last_used_at       = EXCLUDED.last_used_at,
			weight             = EXCLUDED.weight,
			blocked            = EXCLUDED.blocked,
			updated_at         = EXCLUDED.updated_at
	`, session)
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

func (s *PostgresStore) AcquireLock(ctx context.Context, sessionID string) (func(), error) {
	// Advisory locks are connection-scoped, so hold a dedicated
	// connection for the lock's lifetime.
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, sessionID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquire lock %s: %w", sessionID, err)
	}

	release := func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, sessionID); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to release advisory lock")
		}
		conn.Close()
	}
	return release, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
