package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwise1/pothole_watch/internal/detector"
	"github.com/bwise1/pothole_watch/internal/metrics"
	"github.com/bwise1/pothole_watch/internal/model"
	"github.com/bwise1/pothole_watch/internal/store"
	"github.com/bwise1/pothole_watch/util/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/twpayne/go-polyline"
)

type fakeOracle struct{ detected bool }

func (f fakeOracle) Detect(context.Context, []byte, string, float64) (detector.Detection, error) {
	return detector.Detection{Detected: f.detected}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.Event
}

func (n *recordingNotifier) Publish(ev model.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Type
	}
	return out
}

type testEnv struct {
	svc       *Service
	notifier  *recordingNotifier
	uploadDir string
}

func newTestEnv(t *testing.T, det *detector.Handle) *testEnv {
	t.Helper()

	st, err := store.OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	uploadDir := t.TempDir()
	svc := New(st, storage.NewLocal(uploadDir, "/static/uploads"), det)
	n := &recordingNotifier{}
	svc.Notifier = n
	return &testEnv{svc: svc, notifier: n, uploadDir: uploadDir}
}

func detecting(detected bool) *detector.Handle {
	return detector.NewHandle(func(context.Context) (detector.Oracle, error) {
		return fakeOracle{detected: detected}, nil
	}, 0)
}

func f64(v float64) *float64 { return &v }

func submit(t *testing.T, svc *Service, lat, lon float64) model.CreateReportResponse {
	t.Helper()
	resp, err := svc.CreateReport(context.Background(), NewReport{
		Latitude:  f64(lat),
		Longitude: f64(lon),
		Filename:  "road.jpg",
		Image:     []byte("fake jpeg bytes"),
	})
	if err != nil {
		t.Fatalf("CreateReport(%v, %v): %v", lat, lon, err)
	}
	return resp
}

func (e *testEnv) imageExists(t *testing.T, ref string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(e.uploadDir, filepath.Base(ref)))
	return err == nil
}

func TestCreateReportGroupsDuplicates(t *testing.T) {
	env := newTestEnv(t, detecting(true))

	first := submit(t, env.svc, 37.5665, 126.9780)
	if !first.PotholeDetected || first.Report.Status != model.StatusReported {
		t.Fatalf("first report = %+v, want detected and REPORTED", first)
	}
	if !first.Report.HasGroup() {
		t.Fatal("first report has no group id")
	}
	if !env.imageExists(t, first.Filename) {
		t.Fatalf("image %s not saved", first.Filename)
	}

	// about 11 m north
	near := submit(t, env.svc, 37.5666, 126.9780)
	if near.Report.Group() != first.Report.Group() {
		t.Fatalf("nearby report group = %q, want %q", near.Report.Group(), first.Report.Group())
	}

	far := submit(t, env.svc, 37.5700, 126.9780)
	if far.Report.Group() == first.Report.Group() {
		t.Fatal("distant report joined the first group")
	}

	got := env.notifier.types()
	if len(got) != 3 || got[0] != model.EventReportCreated {
		t.Fatalf("events = %v, want three report_created", got)
	}
}

func TestCreateReportUnavailableDetectorRejects(t *testing.T) {
	env := newTestEnv(t, detector.Unavailable(errors.New("no model")))

	resp := submit(t, env.svc, 10, 10)
	if resp.PotholeDetected || resp.Report.Status != model.StatusRejected {
		t.Fatalf("report = %+v, want REJECTED", resp.Report)
	}
	if !resp.Report.HasGroup() {
		t.Fatal("rejected report should still carry a group id")
	}

	// rejected reports never donate their group
	env.svc.Detector = detecting(true)
	next := submit(t, env.svc, 10, 10)
	if next.Report.Group() == resp.Report.Group() {
		t.Fatal("report joined the group of a rejected report")
	}
}

func TestCreateReportNilDetector(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := submit(t, env.svc, 1, 1)
	if resp.Report.Status != model.StatusRejected {
		t.Fatalf("status = %s, want REJECTED", resp.Report.Status)
	}
	if env.svc.DetectorState() != detector.StateUnavailable {
		t.Fatalf("DetectorState() = %s", env.svc.DetectorState())
	}
}

func TestCreateReportValidation(t *testing.T) {
	env := newTestEnv(t, detecting(true))
	ctx := context.Background()

	tests := []struct {
		name string
		in   NewReport
		want error
	}{
		{"no image", NewReport{Latitude: f64(1), Longitude: f64(1)}, ErrMissingImage},
		{"no coordinates and no exif", NewReport{Image: []byte("x"), Filename: "a.jpg"}, ErrMissingCoordinates},
		{"latitude out of range", NewReport{Latitude: f64(95), Longitude: f64(1), Image: []byte("x")}, ErrInvalidCoordinates},
		{"longitude out of range", NewReport{Latitude: f64(1), Longitude: f64(-200), Image: []byte("x")}, ErrInvalidCoordinates},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.CreateReport(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("CreateReport() err = %v, want %v", err, tt.want)
			}
		})
	}

	entries, _ := os.ReadDir(env.uploadDir)
	if len(entries) != 0 {
		t.Fatalf("rejected submissions left %d images behind", len(entries))
	}
}

func TestCreateReportConcurrentDuplicatesShareGroup(t *testing.T) {
	env := newTestEnv(t, detecting(true))

	const n = 8
	var wg sync.WaitGroup
	groups := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := env.svc.CreateReport(context.Background(), NewReport{
				Latitude:  f64(48.8584 + float64(i)*0.00001),
				Longitude: f64(2.2945),
				Filename:  "dup.jpg",
				Image:     []byte("img"),
			})
			errs[i] = err
			groups[i] = resp.Report.Group()
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("submission %d: %v", i, errs[i])
		}
		if groups[i] != groups[0] {
			t.Fatalf("submission %d got group %q, want %q", i, groups[i], groups[0])
		}
	}
}

func TestCascadeStatus(t *testing.T) {
	env := newTestEnv(t, detecting(true))
	ctx := context.Background()

	a := submit(t, env.svc, 0, 0)
	submit(t, env.svc, 0.0001, 0.0001)
	other := submit(t, env.svc, 1, 1)

	ref, err := model.ParseGroupRef(a.Report.Group())
	if err != nil {
		t.Fatalf("ParseGroupRef: %v", err)
	}
	n, err := env.svc.CascadeStatus(ctx, ref, model.StatusCompleted)
	if err != nil {
		t.Fatalf("CascadeStatus: %v", err)
	}
	if n != 2 {
		t.Fatalf("updated %d reports, want 2", n)
	}

	groups, err := env.svc.Groups(ctx)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	for _, g := range groups {
		want := model.StatusReported
		if g.GroupID == a.Report.Group() {
			want = model.StatusCompleted
			if g.ReportCount != 2 || g.Latitude != 0.00005 || g.Longitude != 0.00005 {
				t.Errorf("group summary = %+v", g)
			}
		}
		if g.Status != want {
			t.Errorf("group %s status = %s, want %s", g.GroupID, g.Status, want)
		}
	}

	untouched, _ := env.svc.GetReport(ctx, other.Report.ID)
	if untouched.Status != model.StatusReported {
		t.Fatalf("other group changed to %s", untouched.Status)
	}

	if _, err := env.svc.CascadeStatus(ctx, ref, model.ReportStatus("FIXED")); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("invalid status err = %v", err)
	}
}

func TestCascadeDelete(t *testing.T) {
	env := newTestEnv(t, detecting(true))
	ctx := context.Background()

	a := submit(t, env.svc, 5, 5)
	b := submit(t, env.svc, 5.00005, 5)
	keep := submit(t, env.svc, 6, 6)

	// image already gone: tolerated
	if err := os.Remove(filepath.Join(env.uploadDir, filepath.Base(b.Filename))); err != nil {
		t.Fatalf("remove: %v", err)
	}

	ref, _ := model.ParseGroupRef(a.Report.Group())
	deleted, err := env.svc.CascadeDelete(ctx, ref)
	if err != nil {
		t.Fatalf("CascadeDelete: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("deleted %v, want two reports", deleted)
	}
	if env.imageExists(t, a.Filename) {
		t.Fatal("image of deleted report still on disk")
	}
	if !env.imageExists(t, keep.Filename) {
		t.Fatal("image of other group removed")
	}

	groups, err := env.svc.Groups(ctx)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	for _, g := range groups {
		if g.GroupID == a.Report.Group() {
			t.Fatalf("deleted group still aggregated: %+v", g)
		}
	}

	again, err := env.svc.CascadeDelete(ctx, ref)
	if err != nil || len(again) != 0 {
		t.Fatalf("second CascadeDelete = %v, %v; want nothing", again, err)
	}
}

func TestRemoveReport(t *testing.T) {
	env := newTestEnv(t, detecting(true))
	ctx := context.Background()

	r := submit(t, env.svc, 3, 3)
	ok, err := env.svc.RemoveReport(ctx, r.Report.ID)
	if err != nil || !ok {
		t.Fatalf("RemoveReport = %v, %v", ok, err)
	}
	if env.imageExists(t, r.Filename) {
		t.Fatal("image not removed")
	}

	ok, err = env.svc.RemoveReport(ctx, r.Report.ID)
	if err != nil || ok {
		t.Fatalf("RemoveReport(missing) = %v, %v; want false, nil", ok, err)
	}
}

func TestUpdateReportStatus(t *testing.T) {
	env := newTestEnv(t, detecting(true))
	ctx := context.Background()

	r := submit(t, env.svc, 3, 3)
	got, err := env.svc.UpdateReportStatus(ctx, r.Report.ID, model.StatusInProgress)
	if err != nil {
		t.Fatalf("UpdateReportStatus: %v", err)
	}
	if got.Status != model.StatusInProgress {
		t.Fatalf("status = %s", got.Status)
	}
	if _, err := env.svc.UpdateReportStatus(ctx, 9999, model.StatusCompleted); !errors.Is(err, store.ErrReportNotFound) {
		t.Fatalf("missing report err = %v", err)
	}
}

func TestViews(t *testing.T) {
	env := newTestEnv(t, detecting(true))
	ctx := context.Background()

	submit(t, env.svc, 1, 1)
	submit(t, env.svc, 1.0001, 1)
	env.svc.Detector = detecting(false)
	submit(t, env.svc, 2, 2)

	reports, err := env.svc.ListReports(ctx, 0, 0)
	if err != nil || len(reports) != 2 {
		t.Fatalf("ListReports = %d reports, %v; want 2", len(reports), err)
	}

	dash, err := env.svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if len(dash) != 1 || dash[0].Count != 2 {
		t.Fatalf("dashboard = %+v, want one bucket of two", dash)
	}

	debug, err := env.svc.Debug(ctx)
	if err != nil {
		t.Fatalf("Debug: %v", err)
	}
	if len(debug.Detected) != 2 || len(debug.Rejected) != 1 {
		t.Fatalf("debug = %d detected / %d rejected", len(debug.Detected), len(debug.Rejected))
	}

	stats, err := env.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || stats.ByStatus[model.StatusReported] != 2 || stats.ByStatus[model.StatusRejected] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(stats.PerDay) != 1 || stats.PerDay[0].Count != 3 {
		t.Fatalf("per day = %+v", stats.PerDay)
	}
}

func TestGroupsAlongRoute(t *testing.T) {
	env := newTestEnv(t, detecting(true))
	ctx := context.Background()

	onRoute := submit(t, env.svc, 35.0, 139.0)
	submit(t, env.svc, 35.1, 139.1)

	route := string(polyline.EncodeCoords([][]float64{{34.9999, 138.9999}, {35.0, 139.0001}, {35.01, 139.01}}))
	groups, err := env.svc.GroupsAlongRoute(ctx, route, 0)
	if err != nil {
		t.Fatalf("GroupsAlongRoute: %v", err)
	}
	if len(groups) != 1 || groups[0].GroupID != onRoute.Report.Group() {
		t.Fatalf("groups along route = %+v", groups)
	}

	if _, err := env.svc.GroupsAlongRoute(ctx, "", 10); !errors.Is(err, ErrInvalidPolyline) {
		t.Fatalf("empty polyline err = %v", err)
	}
}

type fixedRouter struct{ shape [][]float64 }

func (r fixedRouter) RouteShape(context.Context, float64, float64, float64, float64) ([][]float64, error) {
	return r.shape, nil
}

func TestGroupsAlongTrip(t *testing.T) {
	env := newTestEnv(t, detecting(true))
	ctx := context.Background()

	from, to := model.Position{Latitude: 35.17, Longitude: 33.36}, model.Position{Latitude: 35.18, Longitude: 33.37}
	if _, err := env.svc.GroupsAlongTrip(ctx, from, to, 0); !errors.Is(err, ErrRoutingDisabled) {
		t.Fatalf("err without router = %v", err)
	}

	hit := submit(t, env.svc, 35.175, 33.365)
	submit(t, env.svc, 35.2, 33.4)
	env.svc.Router = fixedRouter{shape: [][]float64{{35.17, 33.36}, {35.17501, 33.36501}, {35.18, 33.37}}}

	groups, err := env.svc.GroupsAlongTrip(ctx, from, to, 10)
	if err != nil {
		t.Fatalf("GroupsAlongTrip: %v", err)
	}
	if len(groups) != 1 || groups[0].GroupID != hit.Report.Group() {
		t.Fatalf("groups along trip = %+v", groups)
	}

	bad := model.Position{Latitude: 120, Longitude: 0}
	if _, err := env.svc.GroupsAlongTrip(ctx, bad, to, 10); !errors.Is(err, ErrInvalidCoordinates) {
		t.Fatalf("invalid endpoint err = %v", err)
	}
}

func TestNilGroupCache(t *testing.T) {
	var c *GroupCache
	if c != NewGroupCache(nil, 0) {
		t.Fatal("NewGroupCache(nil) should return nil")
	}
	ctx := context.Background()
	if gen, err := c.Generation(ctx); gen != 0 || err != nil {
		t.Fatalf("nil cache Generation = %d, %v", gen, err)
	}
	if _, ok, err := c.Get(ctx, 0); ok || err != nil {
		t.Fatalf("nil cache Get = %v, %v", ok, err)
	}
	if err := c.Set(ctx, 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	return mr, rc
}

func TestGroupCacheRedis(t *testing.T) {
	mr, rc := newRedis(t)
	cache := NewGroupCache(rc, time.Minute)
	ctx := context.Background()

	gen, err := cache.Generation(ctx)
	if err != nil || gen != 0 {
		t.Fatalf("initial Generation = %d, %v", gen, err)
	}
	if _, ok, err := cache.Get(ctx, gen); ok || err != nil {
		t.Fatalf("empty cache Get = %v, %v", ok, err)
	}

	latest := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	want := []model.PotholeGroup{
		{GroupID: "g1", Latitude: 37.5665, Longitude: 126.978, ReportIDs: []int64{1, 2}, ReportCount: 2, LatestReportedAt: latest, Status: model.StatusInProgress},
		{GroupID: model.PseudoGroupID(3), Latitude: 37.6, Longitude: 127, ReportIDs: []int64{3}, ReportCount: 1, LatestReportedAt: latest.Add(-time.Hour), Status: model.StatusReported, Ungrouped: true},
	}
	if err := cache.Set(ctx, gen, want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL(groupsKey(gen)); ttl != time.Minute {
		t.Fatalf("entry TTL = %v, want 1m", ttl)
	}

	got, ok, err := cache.Get(ctx, gen)
	if err != nil || !ok {
		t.Fatalf("Get after Set = %v, %v", ok, err)
	}
	if len(got) != len(want) {
		t.Fatalf("Get returned %d groups, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.GroupID != w.GroupID || g.Latitude != w.Latitude || g.Longitude != w.Longitude ||
			g.ReportCount != w.ReportCount || g.Status != w.Status || g.Ungrouped != w.Ungrouped ||
			!g.LatestReportedAt.Equal(w.LatestReportedAt) || len(g.ReportIDs) != len(w.ReportIDs) {
			t.Errorf("group %d = %+v, want %+v", i, g, w)
		}
	}

	if err := cache.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	next, err := cache.Generation(ctx)
	if err != nil || next != gen+1 {
		t.Fatalf("Generation after Invalidate = %d, %v", next, err)
	}
	if _, ok, _ := cache.Get(ctx, next); ok {
		t.Fatal("Get after Invalidate hit")
	}

	mr.Set(groupsKey(next), "not json")
	if _, _, err := cache.Get(ctx, next); err == nil {
		t.Fatal("Get of a corrupt entry returned no error")
	}

	mr.SetError("ERR cache offline")
	if _, err := cache.Generation(ctx); err == nil {
		t.Fatal("Generation with a failing server returned no error")
	}
}

func TestGroupsUsesRedisCache(t *testing.T) {
	env := newTestEnv(t, detecting(true))
	mr, rc := newRedis(t)
	env.svc.Cache = NewGroupCache(rc, time.Minute)
	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	env.svc.Metrics = collector
	ctx := context.Background()
	lookups := func(result string) float64 {
		return testutil.ToFloat64(collector.GroupCache.WithLabelValues(result))
	}

	first := submit(t, env.svc, 37.5665, 126.9780)
	if _, err := env.svc.Groups(ctx); err != nil {
		t.Fatal(err)
	}
	groups, err := env.svc.Groups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if lookups(metrics.CacheMiss) != 1 || lookups(metrics.CacheHit) != 1 {
		t.Fatalf("lookups miss=%v hit=%v, want 1 and 1", lookups(metrics.CacheMiss), lookups(metrics.CacheHit))
	}
	if len(groups) != 1 || groups[0].Status != model.StatusReported {
		t.Fatalf("cached groups = %+v", groups)
	}

	ref := model.GroupRef{ID: first.Report.Group()}
	if _, err := env.svc.CascadeStatus(ctx, ref, model.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	groups, err = env.svc.Groups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if lookups(metrics.CacheMiss) != 2 {
		t.Fatalf("status change did not invalidate the cache, misses = %v", lookups(metrics.CacheMiss))
	}
	if len(groups) != 1 || groups[0].Status != model.StatusCompleted {
		t.Fatalf("groups after status change = %+v", groups)
	}

	mr.SetError("ERR cache offline")
	groups, err = env.svc.Groups(ctx)
	if err != nil {
		t.Fatalf("Groups with a failing cache: %v", err)
	}
	if len(groups) != 1 || lookups(metrics.CacheError) != 1 {
		t.Fatalf("failing cache: groups=%d errors=%v", len(groups), lookups(metrics.CacheError))
	}
}

// pausingStore holds the first armed ListReports after it has read its rows.
type pausingStore struct {
	store.Store
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStore) ListReports(ctx context.Context, params model.ListReportsParams) ([]model.Report, error) {
	reports, err := p.Store.ListReports(ctx, params)
	if p.armed.CompareAndSwap(true, false) {
		close(p.read)
		<-p.release
	}
	return reports, err
}

func TestGroupsAfterCascadeDeleteDuringAggregation(t *testing.T) {
	for _, withRedis := range []bool{false, true} {
		t.Run(fmt.Sprintf("redis=%t", withRedis), func(t *testing.T) {
			env := newTestEnv(t, detecting(true))
			if withRedis {
				_, rc := newRedis(t)
				env.svc.Cache = NewGroupCache(rc, time.Minute)
			}
			ctx := context.Background()
			r := submit(t, env.svc, 37.5665, 126.9780)

			ps := &pausingStore{Store: env.svc.Store, read: make(chan struct{}), release: make(chan struct{})}
			env.svc.Store = ps
			ps.armed.Store(true)

			type result struct {
				groups []model.PotholeGroup
				err    error
			}
			stale := make(chan result, 1)
			go func() {
				groups, err := env.svc.Groups(ctx)
				stale <- result{groups, err}
			}()
			<-ps.read

			deleted, err := env.svc.CascadeDelete(ctx, model.GroupRef{ID: r.Report.Group()})
			if err != nil || len(deleted) != 1 {
				t.Fatalf("CascadeDelete = %v, %v", deleted, err)
			}

			fresh := make(chan result, 1)
			go func() {
				groups, err := env.svc.Groups(ctx)
				fresh <- result{groups, err}
			}()
			var after result
			select {
			case after = <-fresh:
			case <-time.After(5 * time.Second):
				close(ps.release)
				t.Fatal("Groups after CascadeDelete waited on the aggregation started before it")
			}
			if after.err != nil || len(after.groups) != 0 {
				t.Fatalf("Groups after CascadeDelete = %+v, %v; want no groups", after.groups, after.err)
			}

			close(ps.release)
			if before := <-stale; before.err != nil {
				t.Fatalf("earlier Groups: %v", before.err)
			}

			groups, err := env.svc.Groups(ctx)
			if err != nil || len(groups) != 0 {
				t.Fatalf("Groups once the earlier aggregation finished = %+v, %v", groups, err)
			}
		})
	}
}
