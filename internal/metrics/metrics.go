// Package metrics holds the Prometheus collectors of the pothole service.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeJoined = "joined"
	OutcomeMinted = "minted"

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Collector bundles the service metrics. A nil *Collector records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	ReportsCreated   *prometheus.CounterVec
	GroupAssignments *prometheus.CounterVec
	GroupCache       *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDurations    *prometheus.HistogramVec
}

// NewCollector registers the collectors against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.ReportsCreated, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pothole_reports_created_total",
		Help: "Reports stored, labeled by the status the classifier assigned.",
	}, []string{"status"}), "pothole_reports_created_total"); err != nil {
		return nil, err
	}
	if c.GroupAssignments, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pothole_group_assignments_total",
		Help: "Group assignments, labeled by whether an existing group was joined or a new one minted.",
	}, []string{"outcome"}), "pothole_group_assignments_total"); err != nil {
		return nil, err
	}
	if c.GroupCache, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pothole_group_cache_total",
		Help: "Group summary cache lookups by result.",
	}, []string{"result"}), "pothole_group_cache_total"); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pothole_http_requests_total",
		Help: "Handled HTTP requests by method, route pattern and status code.",
	}, []string{"method", "route", "code"}), "pothole_http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pothole_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"}), "pothole_http_request_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) ReportCreated(status string) {
	if c == nil {
		return
	}
	c.ReportsCreated.WithLabelValues(status).Inc()
}

func (c *Collector) GroupAssigned(joined bool) {
	if c == nil {
		return
	}
	outcome := OutcomeMinted
	if joined {
		outcome = OutcomeJoined
	}
	c.GroupAssignments.WithLabelValues(outcome).Inc()
}

func (c *Collector) CacheLookup(result string) {
	if c == nil {
		return
	}
	c.GroupCache.WithLabelValues(result).Inc()
}

// Middleware records request counts and latency keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
