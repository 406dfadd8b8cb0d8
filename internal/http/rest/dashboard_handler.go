package rest

import (
	"net/http"

	"github.com/bwise1/pothole_watch/util"
	"github.com/bwise1/pothole_watch/util/tracing"
	"github.com/bwise1/pothole_watch/util/values"
)

func (api *API) GetDashboard(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	buckets, err := api.Deps.Service.Dashboard(r.Context())
	if err != nil {
		return respondWithError(err, "Failed to build dashboard", values.Error, &tc)
	}

	return &ServerResponse{
		Message:    "Dashboard fetched successfully",
		Status:     values.Success,
		StatusCode: util.StatusCode(values.Success),
		Data:       buckets,
	}
}

func (api *API) GetStats(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	stats, err := api.Deps.Service.Stats(r.Context())
	if err != nil {
		return respondWithError(err, "Failed to compute stats", values.Error, &tc)
	}

	return &ServerResponse{
		Message:    "Stats fetched successfully",
		Status:     values.Success,
		StatusCode: util.StatusCode(values.Success),
		Data:       stats,
	}
}

// GetDebug lists every report, rejected ones included, with the detector state.
func (api *API) GetDebug(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	view, err := api.Deps.Service.Debug(r.Context())
	if err != nil {
		return respondWithError(err, "Failed to fetch debug view", values.Error, &tc)
	}

	return &ServerResponse{
		Message:    "Detector state: " + api.Deps.Service.DetectorState().String(),
		Status:     values.Success,
		StatusCode: util.StatusCode(values.Success),
		Data:       view,
	}
}
