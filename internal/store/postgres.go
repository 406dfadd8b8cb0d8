package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwise1/pothole_watch/internal/db"
	"github.com/bwise1/pothole_watch/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Postgres struct {
	db *db.DB
	q  querier
}

func OpenPostgres(dsn string) (*Postgres, error) {
	database, err := db.New(dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return &Postgres{db: database, q: database.Pool()}, nil
}

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

const pgReportColumns = `id, latitude, longitude, reported_at, image_path, status, pothole_group_id`

func (p *Postgres) Migrate(ctx context.Context) error {
	schema := `
        CREATE TABLE IF NOT EXISTS potholes (
            id BIGSERIAL PRIMARY KEY,
            latitude DOUBLE PRECISION NOT NULL,
            longitude DOUBLE PRECISION NOT NULL,
            reported_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            image_path TEXT,
            status TEXT NOT NULL DEFAULT 'REPORTED',
            pothole_group_id TEXT
        );
        CREATE INDEX IF NOT EXISTS idx_potholes_reported_at ON potholes (reported_at DESC);
        CREATE INDEX IF NOT EXISTS idx_potholes_group ON potholes (pothole_group_id);
        CREATE INDEX IF NOT EXISTS idx_potholes_status ON potholes (status);
    `
	_, err := p.q.Exec(ctx, schema)
	return err
}

func scanPgReport(row pgx.Row) (model.Report, error) {
	var report model.Report
	var status string
	err := row.Scan(
		&report.ID, &report.Latitude, &report.Longitude, &report.ReportedAt,
		&report.ImagePath, &status, &report.GroupID,
	)
	report.Status = model.ReportStatus(status)
	report.ReportedAt = report.ReportedAt.UTC()
	return report, err
}

func (p *Postgres) ListReports(ctx context.Context, params model.ListReportsParams) ([]model.Report, error) {
	query := `SELECT ` + pgReportColumns + ` FROM potholes`
	args := []any{}
	argCount := 0

	if params.ExcludeRejected {
		argCount++
		query += fmt.Sprintf(" WHERE status <> $%d", argCount)
		args = append(args, string(model.StatusRejected))
	}
	query += " ORDER BY reported_at DESC, id DESC"
	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount+1, argCount+2)
		args = append(args, params.Limit, params.Offset)
	}

	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	return collectPgReports(rows)
}

func collectPgReports(rows pgx.Rows) ([]model.Report, error) {
	reports := []model.Report{}
	for rows.Next() {
		report, err := scanPgReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func (p *Postgres) GetReport(ctx context.Context, id int64) (model.Report, error) {
	query := `SELECT ` + pgReportColumns + ` FROM potholes WHERE id = $1`
	report, err := scanPgReport(p.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Report{}, ErrReportNotFound
	}
	return report, err
}

func (p *Postgres) InsertReport(ctx context.Context, report model.Report) (model.Report, error) {
	if report.ReportedAt.IsZero() {
		report.ReportedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO potholes (latitude, longitude, reported_at, image_path, status, pothole_group_id)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING ` + pgReportColumns

	created, err := scanPgReport(p.q.QueryRow(ctx, query,
		report.Latitude, report.Longitude, report.ReportedAt,
		nullableString(report.ImagePath), string(report.Status), nullableString(report.GroupID),
	))
	if err != nil {
		return model.Report{}, fmt.Errorf("inserting report: %w", err)
	}
	return created, nil
}

func (p *Postgres) UpdateReportStatus(ctx context.Context, id int64, status model.ReportStatus) error {
	result, err := p.q.Exec(ctx, `UPDATE potholes SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (p *Postgres) UpdateGroupStatus(ctx context.Context, ref model.GroupRef, status model.ReportStatus) (int64, error) {
	where, args := groupFilter(ref, pgPlaceholder, 2)
	query := `UPDATE potholes SET status = $1 WHERE ` + where
	result, err := p.q.Exec(ctx, query, append([]any{string(status)}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("updating group status: %w", err)
	}
	return result.RowsAffected(), nil
}

func (p *Postgres) ReportsByGroup(ctx context.Context, ref model.GroupRef) ([]model.Report, error) {
	where, args := groupFilter(ref, pgPlaceholder, 1)
	query := `SELECT ` + pgReportColumns + ` FROM potholes WHERE ` + where + ` ORDER BY reported_at DESC, id DESC`
	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying group reports: %w", err)
	}
	defer rows.Close()

	return collectPgReports(rows)
}

func (p *Postgres) DeleteReport(ctx context.Context, id int64) (bool, error) {
	result, err := p.q.Exec(ctx, `DELETE FROM potholes WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (p *Postgres) WithRegionLock(ctx context.Context, keys []int64, fn func(Store) error) error {
	return p.db.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := db.LockKeys(ctx, tx, keys); err != nil {
			return fmt.Errorf("acquiring region lock: %w", err)
		}
		return fn(&Postgres{db: p.db, q: tx})
	})
}

func (p *Postgres) Close() {
	p.db.Close()
}
