package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements GraphRepository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ GraphRepository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS graphs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		graph_json TEXT NOT NULL,
		metadata TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_graphs_session ON graphs(session_id);
	CREATE INDEX IF NOT EXISTS idx_graphs_created ON graphs(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveGraph stores a chart artifact.
func (s *SQLiteStore) SaveGraph(ctx context.Context, g *domain.Graph) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	if len(g.Figure) == 0 {
		return errors.New("save graph: empty figure")
	}
	meta, err := json.Marshal(g.Metadata)
	if err != nil {
		return fmt.Errorf("encode graph metadata: %w", err)
	}

	query := `
	INSERT INTO graphs (id, session_id, kind, title, graph_json, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	return shared.Retry(ctx, shared.SQLiteRetry, "insert graph", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			g.ID, g.SessionID, g.Kind, g.Title,
			string(g.Figure), string(meta), g.CreatedAt.UnixMilli(),
		)
		return err
	})
}

// GetGraph retrieves a chart by ID.
func (s *SQLiteStore) GetGraph(ctx context.Context, id string) (*domain.Graph, error) {
	query := `
		SELECT id, session_id, kind, title, graph_json, metadata, created_at
		FROM graphs WHERE id = ?`

	g, err := scanGraph(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan graph row: %w", err)
	}
	return g, nil
}

// ListGraphs returns the charts produced by a session.
func (s *SQLiteStore) ListGraphs(ctx context.Context, sessionID string) ([]*domain.Graph, error) {
	query := `
		SELECT id, session_id, kind, title, graph_json, metadata, created_at
		FROM graphs WHERE session_id = ? ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query graphs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close graph rows", "error", closeErr)
		}
	}()

	var graphs []*domain.Graph
	for rows.Next() {
		g, err := scanGraph(rows)
		if err != nil {
			return nil, fmt.Errorf("scan graph row: %w", err)
		}
		graphs = append(graphs, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate graphs: %w", err)
	}
	return graphs, nil
}

// DeleteGraphsBefore removes chart artifacts older than cutoff, retrying
// on SQLITE_BUSY.
func (s *SQLiteStore) DeleteGraphsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := shared.Retry(ctx, shared.SQLiteRetry, "delete graphs", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM graphs WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGraph(row rowScanner) (*domain.Graph, error) {
	var g domain.Graph
	var figure, meta string
	var createdAt int64

	if err := row.Scan(&g.ID, &g.SessionID, &g.Kind, &g.Title, &figure, &meta, &createdAt); err != nil {
		return nil, err
	}
	g.Figure = json.RawMessage(figure)
	if err := json.Unmarshal([]byte(meta), &g.Metadata); err != nil {
		return nil, fmt.Errorf("decode graph metadata: %w", err)
	}
	g.CreatedAt = time.UnixMilli(createdAt)
	return &g, nil
}
