package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/types"
	_ "modernc.org/sqlite"
)

// SQLiteProvider implements Database on a local SQLite file. Starts are
// stored as unix seconds so ordering and range queries are numeric.
type SQLiteProvider struct {
	path string
	conn *sql.DB
}

func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "smarthubsync.db", "Path to the SQLite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLiteProvider, error) {
	s := &SQLiteProvider{path: path}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return errors.New("sqlite-path is required")
	}
	return nil
}

// Init opens the database and creates the schema.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	conn, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database %s: %w", s.path, err)
	}
	// sqlite allows a single writer
	conn.SetMaxOpenConns(1)
	s.conn = conn
	if err := s.initSchema(ctx); err != nil {
		conn.Close()
		s.conn = nil
		return fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteProvider) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS statistics_meta (
		statistic_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source TEXT NOT NULL,
		unit TEXT NOT NULL,
		has_sum INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS statistics (
		statistic_id TEXT NOT NULL,
		start INTEGER NOT NULL,
		state REAL NOT NULL,
		sum REAL NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (statistic_id, start)
	);
	`
	_, err := s.conn.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteProvider) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lastStatistic(ctx context.Context, q rowQueryer, statisticID string) (*types.StatisticPoint, error) {
	var (
		start int64
		p     types.StatisticPoint
	)
	err := q.QueryRowContext(
		ctx,
		`SELECT start, state, sum FROM statistics WHERE statistic_id = ? ORDER BY start DESC LIMIT 1`,
		statisticID,
	).Scan(&start, &p.State, &p.Sum)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Start = time.Unix(start, 0).UTC()
	return &p, nil
}

// GetLastStatistic returns the latest point of the series.
func (s *SQLiteProvider) GetLastStatistic(ctx context.Context, statisticID string) (*types.StatisticPoint, error) {
	if err := validateStatisticID(statisticID); err != nil {
		return nil, err
	}
	p, err := lastStatistic(ctx, s.conn, statisticID)
	if err != nil {
		return nil, fmt.Errorf("failed to get last statistic: %w", err)
	}
	return p, nil
}

// GetStatistics returns the points in [start, end) in ascending order.
func (s *SQLiteProvider) GetStatistics(ctx context.Context, statisticID string, start time.Time, end *time.Time) ([]types.StatisticPoint, error) {
	if err := validateStatisticID(statisticID); err != nil {
		return nil, err
	}
	query := `SELECT start, state, sum FROM statistics WHERE statistic_id = ? AND start >= ?`
	args := []any{statisticID, start.Unix()}
	if end != nil {
		query += ` AND start < ?`
		args = append(args, end.Unix())
	}
	query += ` ORDER BY start ASC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer rows.Close()

	var points []types.StatisticPoint
	for rows.Next() {
		var (
			ts int64
			p  types.StatisticPoint
		)
		if err := rows.Scan(&ts, &p.State, &p.Sum); err != nil {
			return nil, fmt.Errorf("failed to scan statistic: %w", err)
		}
		p.Start = time.Unix(ts, 0).UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating statistics: %w", err)
	}
	return points, nil
}

// AppendStatistics stores the metadata and appends the points within one
// transaction.
func (s *SQLiteProvider) AppendStatistics(ctx context.Context, meta types.StatisticMetadata, points []types.StatisticPoint) error {
	if err := validateStatisticID(meta.StatisticID); err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO statistics_meta (statistic_id, name, source, unit, has_sum)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(statistic_id) DO UPDATE SET
			name = excluded.name,
			source = excluded.source,
			unit = excluded.unit,
			has_sum = excluded.has_sum`,
		meta.StatisticID, meta.Name, meta.Source, meta.Unit, meta.HasSum,
	)
	if err != nil {
		return fmt.Errorf("failed to save statistic metadata: %w", err)
	}

	last, err := lastStatistic(ctx, tx, meta.StatisticID)
	if err != nil {
		return fmt.Errorf("failed to get last statistic: %w", err)
	}
	tail, skipped, err := appendableTail(last, points)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO statistics (statistic_id, start, state, sum, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statistics insert: %w", err)
	}
	defer stmt.Close()

	createdAt := time.Now().UTC().Format(time.RFC3339)
	for _, p := range tail {
		if _, err := stmt.ExecContext(ctx, meta.StatisticID, p.Start.Unix(), p.State, p.Sum, createdAt); err != nil {
			return fmt.Errorf("failed to insert statistic %s: %w", p.Start.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit statistics: %w", err)
	}
	if skipped > 0 {
		log.Ctx(ctx).DebugContext(
			ctx,
			"skipped statistics at or before last stored point",
			slog.String("statisticID", meta.StatisticID),
			slog.Int("skipped", skipped),
		)
	}
	return nil
}

// ListStatisticMetadata returns the metadata of every stored series.
func (s *SQLiteProvider) ListStatisticMetadata(ctx context.Context) ([]types.StatisticMetadata, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT statistic_id, name, source, unit, has_sum FROM statistics_meta ORDER BY statistic_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistic metadata: %w", err)
	}
	defer rows.Close()

	var metas []types.StatisticMetadata
	for rows.Next() {
		var md types.StatisticMetadata
		if err := rows.Scan(&md.StatisticID, &md.Name, &md.Source, &md.Unit, &md.HasSum); err != nil {
			return nil, fmt.Errorf("failed to scan statistic metadata: %w", err)
		}
		metas = append(metas, md)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating statistic metadata: %w", err)
	}
	return metas, nil
}
