package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/okian/facewatch/internal/domain/model"
	"github.com/okian/facewatch/pkg/metrics"
)

// SQLiteStore keeps faces in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path.
//
// The database runs in WAL mode with NORMAL synchronous writes and a single
// connection, SQLite allowing only one writer at a time. created_at holds
// unix nanoseconds so ordering stays exact.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	s := newSettings(opts)

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d",
		path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS faces (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			img BLOB,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS faces_recent_idx ON faces (created_at DESC, seq DESC);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec model.FaceRecord) (err error) {
	defer observe("insert", time.Now(), &err)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO faces (id, img, created_at) VALUES (?, ?, ?)`,
		rec.ID, rec.Image, rec.CreatedAt.UnixNano())
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert face %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (_ []byte, err error) {
	defer observe("get", time.Now(), &err)

	var img []byte
	err = s.db.QueryRowContext(ctx, `SELECT img FROM faces WHERE id = ?`, id).Scan(&img)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) ListRecent(ctx context.Context, n int) (_ []string, err error) {
	defer observe("list", time.Now(), &err)
	if n < 1 {
		return nil, ErrInvalidLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM faces ORDER BY created_at DESC, seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0, n)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list faces: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM faces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	metrics.UpdateFacesTotal(n)
	return n, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
