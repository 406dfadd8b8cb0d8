// Package store persists pothole reports in Postgres or SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwise1/pothole_watch/internal/model"
)

var (
	ErrReportNotFound = errors.New("report not found")
	ErrUpdateFailed   = errors.New("failed to update report")
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is the storage collaborator of the report service. Implementations
// order listings by recency (reported_at desc, id desc).
type Store interface {
	ListReports(ctx context.Context, params model.ListReportsParams) ([]model.Report, error)
	GetReport(ctx context.Context, id int64) (model.Report, error)
	InsertReport(ctx context.Context, report model.Report) (model.Report, error)
	UpdateReportStatus(ctx context.Context, id int64, status model.ReportStatus) error
	UpdateGroupStatus(ctx context.Context, ref model.GroupRef, status model.ReportStatus) (int64, error)
	ReportsByGroup(ctx context.Context, ref model.GroupRef) ([]model.Report, error)
	DeleteReport(ctx context.Context, id int64) (bool, error)

	// WithRegionLock runs fn in a write transaction after acquiring the region
	// lock keys. The Store passed to fn is bound to that transaction.
	WithRegionLock(ctx context.Context, keys []int64, fn func(Store) error) error

	Migrate(ctx context.Context) error
	Close()
}

// Open connects to the backend named by driver. For sqlite, dsn is the
// directory holding the database file.
func Open(driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverPostgres:
		return OpenPostgres(dsn)
	case DriverSQLite, "":
		return OpenSQLite(dsn)
	}
	return nil, fmt.Errorf("unsupported db driver %q", driver)
}

const ungroupedClause = "(pothole_group_id IS NULL OR pothole_group_id = '')"

// groupFilter renders the WHERE condition selecting the members of ref.
// ph renders the n-th placeholder of the backend.
func groupFilter(ref model.GroupRef, ph func(int) string, argPos int) (string, []any) {
	switch {
	case ref.Ungrouped:
		return ungroupedClause, nil
	case ref.ReportID != 0:
		return fmt.Sprintf("id = %s AND %s", ph(argPos), ungroupedClause), []any{ref.ReportID}
	}
	return fmt.Sprintf("pothole_group_id = %s", ph(argPos)), []any{ref.ID}
}

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
