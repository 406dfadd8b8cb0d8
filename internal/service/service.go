// Package service holds the pothole report workflows shared by the HTTP API
// and the operator CLI.
package service

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"sync/atomic"

	"github.com/bwise1/pothole_watch/internal/detector"
	"github.com/bwise1/pothole_watch/internal/grouping"
	"github.com/bwise1/pothole_watch/internal/metrics"
	"github.com/bwise1/pothole_watch/internal/model"
	"github.com/bwise1/pothole_watch/internal/store"
	"github.com/bwise1/pothole_watch/util"
	"github.com/bwise1/pothole_watch/util/exifgps"
	"github.com/bwise1/pothole_watch/util/storage"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPageSize    = 100
	DefaultRouteBuffer = 30.0
	statsDayLayout     = "2006-01-02"
	groupsFlightKey    = "groups"
)

var (
	ErrMissingImage       = errors.New("image file is required")
	ErrMissingCoordinates = errors.New("latitude and longitude are required when the photo has no GPS position")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrInvalidStatus      = errors.New("invalid report status")
	ErrInvalidPolyline    = errors.New("invalid route polyline")
	ErrRoutingDisabled    = errors.New("routing is not configured")
)

// Router resolves the road geometry between two points as [lat, lon] vertices.
type Router interface {
	RouteShape(ctx context.Context, fromLat, fromLon, toLat, toLon float64) ([][]float64, error)
}

// Notifier receives live update events after a mutation commits.
type Notifier interface {
	Publish(ev model.Event)
}

type Service struct {
	Store    store.Store
	Images   storage.ImageStore
	Detector *detector.Handle
	Engine   *grouping.Engine
	Cache    *GroupCache
	Metrics  *metrics.Collector
	Notifier Notifier
	Router   Router

	flight     singleflight.Group
	generation atomic.Uint64
}

func New(st store.Store, images storage.ImageStore, det *detector.Handle) *Service {
	return &Service{
		Store:    st,
		Images:   images,
		Detector: det,
		Engine:   grouping.New(),
	}
}

// NewReport is one citizen submission. Nil coordinates are read from the
// photo's EXIF GPS block.
type NewReport struct {
	Latitude  *float64
	Longitude *float64
	Filename  string
	Image     []byte
}

// CreateReport stores the photo, classifies it and inserts the report with its
// group assignment. Assignment and insert run under the region lock of the
// report position so concurrent duplicates join one group.
func (s *Service) CreateReport(ctx context.Context, in NewReport) (model.CreateReportResponse, error) {
	if len(in.Image) == 0 {
		return model.CreateReportResponse{}, ErrMissingImage
	}

	lat, lon, err := resolvePosition(in)
	if err != nil {
		return model.CreateReportResponse{}, err
	}

	ref, err := s.Images.Save(ctx, in.Filename, bytes.NewReader(in.Image))
	if err != nil {
		return model.CreateReportResponse{}, errors.Wrap(err, "saving report image")
	}

	detected := false
	if s.Detector != nil {
		detected = s.Detector.IsPothole(ctx, in.Image, in.Filename)
	}
	status := model.StatusRejected
	if detected {
		status = model.StatusReported
	}

	report := model.Report{
		Latitude:  lat,
		Longitude: lon,
		ImagePath: &ref,
		Status:    status,
	}

	var (
		stored model.Report
		joined bool
	)
	keys := grouping.RegionLockKeys(lat, lon, s.Engine.Radius)
	err = s.Store.WithRegionLock(ctx, keys, func(tx store.Store) error {
		existing, err := tx.ListReports(ctx, model.ListReportsParams{ExcludeRejected: true})
		if err != nil {
			return err
		}
		var groupID string
		groupID, joined = s.Engine.AssignGroup(lat, lon, existing)
		report.GroupID = &groupID

		stored, err = tx.InsertReport(ctx, report)
		return err
	})
	if err != nil {
		if delErr := s.Images.Delete(ctx, ref); delErr != nil {
			log.Printf("[Reports]: unable to remove image %s after failed insert: %v", ref, delErr)
		}
		return model.CreateReportResponse{}, errors.Wrap(err, "storing report")
	}

	s.Metrics.ReportCreated(string(stored.Status))
	s.Metrics.GroupAssigned(joined)
	log.Printf("[Reports]: report %d stored at %.6f,%.6f status=%s group=%s joined=%t",
		stored.ID, lat, lon, stored.Status, stored.Group(), joined)

	s.invalidate(ctx)
	s.publish(model.EventReportCreated, stored, &model.Position{Latitude: lat, Longitude: lon})

	return model.CreateReportResponse{
		Filename:        ref,
		PotholeDetected: detected,
		Report:          stored,
	}, nil
}

func resolvePosition(in NewReport) (float64, float64, error) {
	var lat, lon float64
	if in.Latitude != nil && in.Longitude != nil {
		lat, lon = *in.Latitude, *in.Longitude
	} else {
		var err error
		lat, lon, err = exifgps.Position(in.Image)
		if err != nil {
			return 0, 0, ErrMissingCoordinates
		}
	}
	if err := util.ValidateStruct(model.CreateReportRequest{Latitude: lat, Longitude: lon}); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}
	return lat, lon, nil
}

// ListReports pages through non-rejected reports, most recent first.
func (s *Service) ListReports(ctx context.Context, limit, offset int) ([]model.Report, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.Store.ListReports(ctx, model.ListReportsParams{ExcludeRejected: true, Limit: limit, Offset: offset})
}

func (s *Service) GetReport(ctx context.Context, id int64) (model.Report, error) {
	return s.Store.GetReport(ctx, id)
}

func (s *Service) UpdateReportStatus(ctx context.Context, id int64, status model.ReportStatus) (model.Report, error) {
	if !status.Valid() {
		return model.Report{}, ErrInvalidStatus
	}
	if err := s.Store.UpdateReportStatus(ctx, id, status); err != nil {
		return model.Report{}, err
	}
	report, err := s.Store.GetReport(ctx, id)
	if err != nil {
		return model.Report{}, err
	}

	s.invalidate(ctx)
	s.publish(model.EventReportStatus, report, &model.Position{Latitude: report.Latitude, Longitude: report.Longitude})
	return report, nil
}

// RemoveReport deletes the image of report id and then its record. It reports
// false without error when the id does not exist.
func (s *Service) RemoveReport(ctx context.Context, id int64) (bool, error) {
	report, err := s.Store.GetReport(ctx, id)
	if errors.Is(err, store.ErrReportNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	deleted, err := s.removeReport(ctx, report)
	if err != nil || !deleted {
		return deleted, err
	}

	s.invalidate(ctx)
	s.publish(model.EventReportDeleted, report, &model.Position{Latitude: report.Latitude, Longitude: report.Longitude})
	return true, nil
}

func (s *Service) removeReport(ctx context.Context, report model.Report) (bool, error) {
	if report.ImagePath != nil && *report.ImagePath != "" {
		if err := s.Images.Delete(ctx, *report.ImagePath); err != nil {
			log.Printf("[Reports]: unable to remove image of report %d: %v", report.ID, err)
		}
	}
	return s.Store.DeleteReport(ctx, report.ID)
}

// CascadeStatus sets status on every member of ref in one bulk update and
// returns the number of reports changed.
func (s *Service) CascadeStatus(ctx context.Context, ref model.GroupRef, status model.ReportStatus) (int64, error) {
	if !status.Valid() {
		return 0, ErrInvalidStatus
	}
	n, err := s.Store.UpdateGroupStatus(ctx, ref, status)
	if err != nil {
		return 0, err
	}
	log.Printf("[Groups]: status of %s set to %s on %d reports", ref, status, n)

	s.invalidate(ctx)
	s.publish(model.EventGroupStatus, model.GroupStatusChange{GroupID: ref.String(), Status: status, Updated: n}, nil)
	return n, nil
}

// CascadeDelete removes every member of ref, image first and then record.
// Members that vanish midway are skipped. The operation is not transactional.
func (s *Service) CascadeDelete(ctx context.Context, ref model.GroupRef) ([]int64, error) {
	members, err := s.Store.ReportsByGroup(ctx, ref)
	if err != nil {
		return nil, err
	}

	deleted := make([]int64, 0, len(members))
	var firstErr error
	for _, r := range members {
		ok, err := s.removeReport(ctx, r)
		if err != nil {
			log.Printf("[Groups]: unable to delete report %d of %s: %v", r.ID, ref, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			deleted = append(deleted, r.ID)
		}
	}
	log.Printf("[Groups]: deleted %d of %d reports in %s", len(deleted), len(members), ref)

	if len(deleted) > 0 {
		s.invalidate(ctx)
		s.publish(model.EventGroupDeleted, model.GroupDeletion{GroupID: ref.String(), ReportIDs: deleted}, nil)
	}
	return deleted, firstErr
}

// Groups returns the map summaries of all non-rejected reports. Concurrent
// misses share one aggregation, but never one that started before the last
// mutation.
func (s *Service) Groups(ctx context.Context) ([]model.PotholeGroup, error) {
	gen := s.generation.Load()

	cacheGen, err := s.Cache.Generation(ctx)
	cacheUsable := err == nil
	if err == nil {
		var groups []model.PotholeGroup
		var ok bool
		groups, ok, err = s.Cache.Get(ctx, cacheGen)
		if err == nil && ok {
			s.Metrics.CacheLookup(metrics.CacheHit)
			return groups, nil
		}
	}
	switch {
	case err != nil:
		s.Metrics.CacheLookup(metrics.CacheError)
		log.Printf("[Groups]: cache read failed: %v", err)
	case s.Cache != nil:
		s.Metrics.CacheLookup(metrics.CacheMiss)
	}

	key := fmt.Sprintf("%s:%d:%d", groupsFlightKey, gen, cacheGen)
	v, err, _ := s.flight.Do(key, func() (any, error) {
		reports, err := s.Store.ListReports(ctx, model.ListReportsParams{ExcludeRejected: true})
		if err != nil {
			return nil, err
		}
		groups := grouping.AggregateGroups(reports)
		if cacheUsable && s.generation.Load() == gen {
			if err := s.Cache.Set(ctx, cacheGen, groups); err != nil {
				log.Printf("[Groups]: cache write failed: %v", err)
			}
		}
		return groups, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.PotholeGroup), nil
}

// GroupsAlongRoute returns the groups whose mean position lies within buffer
// meters of a vertex of the encoded route.
func (s *Service) GroupsAlongRoute(ctx context.Context, encoded string, buffer float64) ([]model.PotholeGroup, error) {
	coords, err := util.DecodePolyLines(encoded)
	if err != nil || len(coords) == 0 {
		return nil, ErrInvalidPolyline
	}
	return s.groupsNear(ctx, coords, buffer)
}

// GroupsAlongTrip routes from one point to another and matches groups
// against the resulting road geometry.
func (s *Service) GroupsAlongTrip(ctx context.Context, from, to model.Position, buffer float64) ([]model.PotholeGroup, error) {
	if s.Router == nil {
		return nil, ErrRoutingDisabled
	}
	for _, p := range []model.Position{from, to} {
		if err := util.ValidateStruct(model.CreateReportRequest{Latitude: p.Latitude, Longitude: p.Longitude}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
		}
	}
	shape, err := s.Router.RouteShape(ctx, from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	if err != nil {
		return nil, errors.Wrap(err, "routing trip")
	}
	return s.groupsNear(ctx, shape, buffer)
}

func (s *Service) groupsNear(ctx context.Context, coords [][]float64, buffer float64) ([]model.PotholeGroup, error) {
	if buffer <= 0 {
		buffer = DefaultRouteBuffer
	}
	groups, err := s.Groups(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]model.PotholeGroup, 0)
	for _, g := range groups {
		for _, c := range coords {
			if grouping.Distance(g.Latitude, g.Longitude, c[0], c[1]) <= buffer {
				matched = append(matched, g)
				break
			}
		}
	}
	return matched, nil
}

// Dashboard buckets non-rejected reports by group id.
func (s *Service) Dashboard(ctx context.Context) ([]model.DashboardGroup, error) {
	reports, err := s.Store.ListReports(ctx, model.ListReportsParams{ExcludeRejected: true})
	if err != nil {
		return nil, err
	}
	return grouping.Bucket(reports), nil
}

// Debug splits every report, rejected included, by classifier verdict.
func (s *Service) Debug(ctx context.Context) (model.DebugView, error) {
	reports, err := s.Store.ListReports(ctx, model.ListReportsParams{})
	if err != nil {
		return model.DebugView{}, err
	}
	view := model.DebugView{Detected: []model.Report{}, Rejected: []model.Report{}}
	for _, r := range reports {
		if r.Status == model.StatusRejected {
			view.Rejected = append(view.Rejected, r)
		} else {
			view.Detected = append(view.Detected, r)
		}
	}
	return view, nil
}

func (s *Service) Stats(ctx context.Context) (model.Stats, error) {
	reports, err := s.Store.ListReports(ctx, model.ListReportsParams{})
	if err != nil {
		return model.Stats{}, err
	}

	stats := model.Stats{
		Total: len(reports),
		ByStatus: map[model.ReportStatus]int{
			model.StatusReported:   0,
			model.StatusInProgress: 0,
			model.StatusCompleted:  0,
			model.StatusRejected:   0,
		},
		PerDay: []model.DailyCount{},
	}
	perDay := map[string]int{}
	for _, r := range reports {
		stats.ByStatus[r.Status]++
		perDay[r.ReportedAt.UTC().Format(statsDayLayout)]++
	}
	for day, n := range perDay {
		stats.PerDay = append(stats.PerDay, model.DailyCount{Day: day, Count: n})
	}
	sort.Slice(stats.PerDay, func(i, j int) bool { return stats.PerDay[i].Day < stats.PerDay[j].Day })
	return stats, nil
}

func (s *Service) DetectorState() detector.State {
	if s.Detector == nil {
		return detector.StateUnavailable
	}
	return s.Detector.State()
}

func (s *Service) invalidate(ctx context.Context) {
	s.generation.Add(1)
	if err := s.Cache.Invalidate(ctx); err != nil {
		log.Printf("[Groups]: cache invalidation failed: %v", err)
	}
}

func (s *Service) publish(eventType string, data any, pos *model.Position) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Publish(model.Event{Type: eventType, Data: data, Position: pos})
}
