package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bwise1/pothole_watch/internal/model"
)

const sqliteFile = "pothole.db"

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite keeps reports in a single database file. Timestamps are stored as
// unix microseconds. A process-wide mutex is the region lock: SQLite has a
// single writer anyway.
type SQLite struct {
	db     *sql.DB
	q      sqlQuerier
	mu     *sync.Mutex
	dbPath string
}

func OpenSQLite(dir string) (*SQLite, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	dbPath := filepath.Join(dir, sqliteFile)

	conn, err := sql.Open("sqlite", dbPath+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if _, err := conn.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &SQLite{db: conn, q: conn, mu: &sync.Mutex{}, dbPath: dbPath}, nil
}

func sqlitePlaceholder(int) string { return "?" }

const sqliteReportColumns = `id, latitude, longitude, reported_at, image_path, status, pothole_group_id`

func (s *SQLite) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS potholes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		reported_at INTEGER NOT NULL,
		image_path TEXT,
		status TEXT NOT NULL DEFAULT 'REPORTED',
		pothole_group_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_potholes_reported_at ON potholes(reported_at);
	CREATE INDEX IF NOT EXISTS idx_potholes_group ON potholes(pothole_group_id);
	CREATE INDEX IF NOT EXISTS idx_potholes_status ON potholes(status);
	`
	_, err := s.q.ExecContext(ctx, schema)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteReport(row rowScanner) (model.Report, error) {
	var (
		report     model.Report
		reportedAt int64
		imagePath  sql.NullString
		status     string
		groupID    sql.NullString
	)
	if err := row.Scan(&report.ID, &report.Latitude, &report.Longitude, &reportedAt, &imagePath, &status, &groupID); err != nil {
		return model.Report{}, err
	}
	report.ReportedAt = time.UnixMicro(reportedAt).UTC()
	report.Status = model.ReportStatus(status)
	if imagePath.Valid {
		report.ImagePath = &imagePath.String
	}
	if groupID.Valid {
		report.GroupID = &groupID.String
	}
	return report, nil
}

func collectSQLiteReports(rows *sql.Rows) ([]model.Report, error) {
	defer rows.Close()

	reports := []model.Report{}
	for rows.Next() {
		report, err := scanSQLiteReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func (s *SQLite) ListReports(ctx context.Context, params model.ListReportsParams) ([]model.Report, error) {
	query := `SELECT ` + sqliteReportColumns + ` FROM potholes`
	args := []any{}
	if params.ExcludeRejected {
		query += " WHERE status <> ?"
		args = append(args, string(model.StatusRejected))
	}
	query += " ORDER BY reported_at DESC, id DESC"
	if params.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, params.Limit, params.Offset)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	return collectSQLiteReports(rows)
}

func (s *SQLite) GetReport(ctx context.Context, id int64) (model.Report, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+sqliteReportColumns+` FROM potholes WHERE id = ?`, id)
	report, err := scanSQLiteReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Report{}, ErrReportNotFound
	}
	return report, err
}

func (s *SQLite) InsertReport(ctx context.Context, report model.Report) (model.Report, error) {
	if report.ReportedAt.IsZero() {
		report.ReportedAt = time.Now().UTC()
	}
	result, err := s.q.ExecContext(ctx, `
	INSERT INTO potholes (latitude, longitude, reported_at, image_path, status, pothole_group_id)
	VALUES (?, ?, ?, ?, ?, ?)`,
		report.Latitude, report.Longitude, report.ReportedAt.UnixMicro(),
		nullableString(report.ImagePath), string(report.Status), nullableString(report.GroupID),
	)
	if err != nil {
		return model.Report{}, fmt.Errorf("inserting report: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return model.Report{}, fmt.Errorf("reading report id: %w", err)
	}
	return s.GetReport(ctx, id)
}

func (s *SQLite) UpdateReportStatus(ctx context.Context, id int64, status model.ReportStatus) error {
	result, err := s.q.ExecContext(ctx, `UPDATE potholes SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (s *SQLite) UpdateGroupStatus(ctx context.Context, ref model.GroupRef, status model.ReportStatus) (int64, error) {
	where, args := groupFilter(ref, sqlitePlaceholder, 2)
	result, err := s.q.ExecContext(ctx, `UPDATE potholes SET status = ? WHERE `+where, append([]any{string(status)}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("updating group status: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLite) ReportsByGroup(ctx context.Context, ref model.GroupRef) ([]model.Report, error) {
	where, args := groupFilter(ref, sqlitePlaceholder, 1)
	rows, err := s.q.QueryContext(ctx, `SELECT `+sqliteReportColumns+` FROM potholes WHERE `+where+` ORDER BY reported_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying group reports: %w", err)
	}
	return collectSQLiteReports(rows)
}

func (s *SQLite) DeleteReport(ctx context.Context, id int64) (bool, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM potholes WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (s *SQLite) WithRegionLock(ctx context.Context, _ []int64, fn func(Store) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&SQLite{db: s.db, q: tx, mu: s.mu, dbPath: s.dbPath}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Close() {
	_ = s.db.Close()
}
