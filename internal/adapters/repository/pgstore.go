package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/facewatch/internal/domain/model"
	"github.com/okian/facewatch/pkg/metrics"
)

const uniqueViolation = "23505"

// PGStore keeps faces in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to dsn and ensures the schema exists. Tables created
// by earlier deployments without created_at or seq are upgraded in place.
func NewPGStore(ctx context.Context, dsn string, opts ...Option) (*PGStore, error) {
	s := newSettings(opts)

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = s.maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := initPGSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func initPGSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS faces (
			id TEXT PRIMARY KEY,
			img BYTEA
		);
		ALTER TABLE faces ADD COLUMN IF NOT EXISTS created_at TIMESTAMPTZ NOT NULL DEFAULT NOW();
		ALTER TABLE faces ADD COLUMN IF NOT EXISTS seq BIGSERIAL;
		CREATE INDEX IF NOT EXISTS faces_recent_idx ON faces (created_at DESC, seq DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

func (s *PGStore) Insert(ctx context.Context, rec model.FaceRecord) (err error) {
	defer observe("insert", time.Now(), &err)

	_, err = s.pool.Exec(ctx,
		`INSERT INTO faces (id, img, created_at) VALUES ($1, $2, $3)`,
		rec.ID, rec.Image, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert face %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (_ []byte, err error) {
	defer observe("get", time.Now(), &err)

	var img []byte
	err = s.pool.QueryRow(ctx, `SELECT img FROM faces WHERE id = $1`, id).Scan(&img)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get face %s: %w", id, err)
	}
	if len(img) == 0 {
		return nil, ErrNotFound
	}
	return img, nil
}

func (s *PGStore) ListRecent(ctx context.Context, n int) (_ []string, err error) {
	defer observe("list", time.Now(), &err)
	if n < 1 {
		return nil, ErrInvalidLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id FROM faces ORDER BY created_at DESC, seq DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	return ids, nil
}

func (s *PGStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM faces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	metrics.UpdateFacesTotal(n)
	return n, nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
