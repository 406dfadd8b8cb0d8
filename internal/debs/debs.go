package deps

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/bwise1/pothole_watch/config"
	"github.com/bwise1/pothole_watch/internal/detector"
	"github.com/bwise1/pothole_watch/internal/http/valhalla"
	"github.com/bwise1/pothole_watch/internal/metrics"
	"github.com/bwise1/pothole_watch/internal/service"
	"github.com/bwise1/pothole_watch/internal/store"
	"github.com/bwise1/pothole_watch/util/storage"
	"github.com/bwise1/pothole_watch/util/websockets"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const startupTimeout = 10 * time.Second

type Dependencies struct {
	Store     store.Store
	Images    storage.ImageStore
	Detector  *detector.Handle
	Redis     *redis.Client
	WebSocket *websockets.WebSocketManager
	Metrics   *metrics.Collector
	Service   *service.Service
}

func New(cfg *config.Config) *Dependencies {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	st, err := store.Open(cfg.DBDriver, cfg.Dsn)
	if err != nil {
		log.Panicln("failed to connect to database", "error", err)
	}
	if err := st.Migrate(ctx); err != nil {
		log.Panicln("failed to migrate database", "error", err)
	}

	images, err := NewImageStore(cfg)
	if err != nil {
		log.Panicln("failed to set up image storage", "error", err)
	}

	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		log.Panicln("failed to register metrics", "error", err)
	}

	d := &Dependencies{
		Store:     st,
		Images:    images,
		Detector:  NewDetector(cfg),
		Redis:     openRedis(ctx, cfg),
		WebSocket: websockets.NewWebSocketManager(),
		Metrics:   collector,
	}
	d.Service = d.NewService(cfg)
	return d
}

// NewService wires the report service to the collaborators in d.
func (d *Dependencies) NewService(cfg *config.Config) *service.Service {
	svc := service.New(d.Store, d.Images, d.Detector)
	svc.Cache = service.NewGroupCache(d.Redis, cfg.GroupCacheTTL)
	svc.Metrics = d.Metrics
	if d.WebSocket != nil {
		svc.Notifier = d.WebSocket
	}
	if cfg.RoutingURL != "" {
		svc.Router = valhalla.NewValhallaClient(cfg.RoutingURL)
	}
	return svc
}

func NewImageStore(cfg *config.Config) (storage.ImageStore, error) {
	if cfg.ImageBackend == config.ImageBackendCloudinary {
		return storage.NewCloudinary(cfg)
	}
	return storage.NewLocal(cfg.UploadDir, cfg.UploadURLPrefix), nil
}

// NewDetector returns a lazily loaded handle, or an unavailable one when no
// inference service is configured.
func NewDetector(cfg *config.Config) *detector.Handle {
	if cfg.DetectorURL == "" {
		log.Println("[Detector]: DETECTOR_URL not set, every report will be stored as rejected")
		return detector.Unavailable(errors.New("DETECTOR_URL not set"))
	}
	return detector.NewHandle(detector.HTTPLoader(cfg.DetectorURL, cfg.DetectorTimeout), cfg.DetectorConfidence)
}

func openRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err := rc.Ping(ctx).Err(); err != nil {
		log.Printf("[Redis]: %s unreachable, group cache disabled: %v", cfg.RedisAddr, err)
		_ = rc.Close()
		return nil
	}
	return rc
}

func (d *Dependencies) Close() {
	if d.WebSocket != nil {
		d.WebSocket.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	d.Store.Close()
}
