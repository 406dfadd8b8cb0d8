package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwise1/pothole_watch/config"
	deps "github.com/bwise1/pothole_watch/internal/debs"
	"github.com/bwise1/pothole_watch/util/values"
	"github.com/go-chi/chi/v5"
)

const (
	defaultIdleTimeout    = time.Minute
	defaultReadTimeout    = 30 * time.Second
	defaultWriteTimeout   = 60 * time.Second
	defaultShutdownPeriod = 30 * time.Second

	healthMessage = "Pothole detection server is running!"
)

type Handler func(w http.ResponseWriter, r *http.Request) *ServerResponse

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h(w, r)
	respByte, err := json.Marshal(resp)
	if err != nil {
		writeErrorResponse(w, err, values.Error, "unable to marshal server response")
		return
	}
	writeJSONResponse(w, respByte, resp.StatusCode)
}

type API struct {
	Server *http.Server
	Config *config.Config
	Deps   *deps.Dependencies
}

func (api *API) Serve() error {
	api.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", api.Config.Port),
		IdleTimeout:  defaultIdleTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		Handler:      api.setUpServerHandler(),
	}
	return api.Server.ListenAndServe()
}

func (api *API) setUpServerHandler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(RequestTracing)
	mux.Use(api.Deps.Metrics.Middleware)

	mux.Method(http.MethodGet, "/", Handler(api.Health))
	mux.Method(http.MethodGet, "/metrics", api.Deps.Metrics.Handler())
	if api.Deps.WebSocket != nil {
		mux.Get("/ws", api.Deps.WebSocket.HandleConnections)
	}
	if api.Config.ImageBackend != config.ImageBackendCloudinary {
		prefix := "/" + strings.Trim(api.Config.UploadURLPrefix, "/")
		mux.Handle(prefix+"/*", http.StripPrefix(prefix+"/", http.FileServer(http.Dir(api.Config.UploadDir))))
	}

	mux.Mount("/api", api.ReportRoutes())

	return mux
}

func (api *API) Health(_ http.ResponseWriter, _ *http.Request) *ServerResponse {
	return &ServerResponse{
		Status:     "ok",
		Message:    healthMessage,
		StatusCode: http.StatusOK,
	}
}

func (api *API) Shutdown() error {
	if api.Server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownPeriod)
	defer cancel()
	return api.Server.Shutdown(ctx)
}
