// Package grouping deduplicates pothole reports into spatial groups and
// aggregates groups into map-ready summaries.
package grouping

import (
	"sort"

	"github.com/bwise1/pothole_watch/internal/model"
	"github.com/google/uuid"
)

type Engine struct {
	Radius float64
	NewID  func() string
}

func New() *Engine {
	return &Engine{
		Radius: DuplicateRadiusMeters,
		NewID:  uuid.NewString,
	}
}

// AssignGroup returns the group id for a new report at lat/lon. The first existing
// report within the duplicate radius that already has a group id donates it;
// proximate reports without one are skipped. Otherwise a fresh id is minted.
// The second return value reports whether an existing group was joined.
func (e *Engine) AssignGroup(lat, lon float64, existing []model.Report) (string, bool) {
	for _, r := range existing {
		if r.Status == model.StatusRejected {
			continue
		}
		if Distance(lat, lon, r.Latitude, r.Longitude) > e.Radius {
			continue
		}
		if r.HasGroup() {
			return *r.GroupID, true
		}
	}
	return e.NewID(), false
}

type accumulator struct {
	group    model.PotholeGroup
	latSum   float64
	lonSum   float64
	statuses []model.ReportStatus
}

// AggregateGroups summarises reports per group id. Reports without a group id
// each become their own pseudo-group. Summaries are ordered by latest report
// first, ties broken by group id.
func AggregateGroups(reports []model.Report) []model.PotholeGroup {
	groups := make(map[string]*accumulator)
	var order []string

	for _, r := range reports {
		gid := r.Group()
		ungrouped := gid == ""
		if ungrouped {
			gid = model.PseudoGroupID(r.ID)
		}

		acc, ok := groups[gid]
		if !ok {
			acc = &accumulator{group: model.PotholeGroup{
				GroupID:          gid,
				LatestReportedAt: r.ReportedAt,
				Ungrouped:        ungrouped,
			}}
			groups[gid] = acc
			order = append(order, gid)
		}

		acc.latSum += r.Latitude
		acc.lonSum += r.Longitude
		acc.group.ReportCount++
		acc.group.ReportIDs = append(acc.group.ReportIDs, r.ID)
		acc.statuses = append(acc.statuses, r.Status)
		if r.ReportedAt.After(acc.group.LatestReportedAt) {
			acc.group.LatestReportedAt = r.ReportedAt
		}
	}

	result := make([]model.PotholeGroup, 0, len(order))
	for _, gid := range order {
		acc := groups[gid]
		g := acc.group
		g.Latitude = acc.latSum / float64(g.ReportCount)
		g.Longitude = acc.lonSum / float64(g.ReportCount)
		g.Status = AggregateStatus(acc.statuses)
		result = append(result, g)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].LatestReportedAt.Equal(result[j].LatestReportedAt) {
			return result[i].LatestReportedAt.After(result[j].LatestReportedAt)
		}
		return result[i].GroupID < result[j].GroupID
	})
	return result
}

// AggregateStatus picks the representative status of a group: any unresolved
// report makes the whole group read as unresolved.
func AggregateStatus(statuses []model.ReportStatus) model.ReportStatus {
	best := model.StatusRejected
	for _, s := range statuses {
		if s.Valid() && s.Priority() < best.Priority() {
			best = s
		}
	}
	return best
}

// Bucket groups reports for the dashboard: real groups by id, and every report
// without a group id in a single ungrouped bucket. Buckets are ordered by their
// most recent report.
func Bucket(reports []model.Report) []model.DashboardGroup {
	buckets := make(map[string]*model.DashboardGroup)
	var order []string

	for _, r := range reports {
		gid := r.Group()
		if gid == "" {
			gid = model.UngroupedKey
		}
		b, ok := buckets[gid]
		if !ok {
			b = &model.DashboardGroup{GroupID: gid, LatestAt: r.ReportedAt}
			buckets[gid] = b
			order = append(order, gid)
		}
		b.Reports = append(b.Reports, r)
		b.Count++
		if r.ReportedAt.After(b.LatestAt) {
			b.LatestAt = r.ReportedAt
		}
	}

	result := make([]model.DashboardGroup, 0, len(order))
	for _, gid := range order {
		result = append(result, *buckets[gid])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].LatestAt.After(result[j].LatestAt)
	})
	return result
}
