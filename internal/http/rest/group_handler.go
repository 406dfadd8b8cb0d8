package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwise1/pothole_watch/internal/model"
	"github.com/bwise1/pothole_watch/internal/service"
	"github.com/bwise1/pothole_watch/util"
	"github.com/bwise1/pothole_watch/util/tracing"
	"github.com/bwise1/pothole_watch/util/values"
	"github.com/go-chi/chi/v5"
)

func (api *API) GetPotholeGroups(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	groups, status, message, err := api.GetPotholeGroupsHelper(r.Context())
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       groups,
	}
}

// GetGroupsAlongRoute matches groups against an encoded polyline, or against
// the route between from=lat,lon and to=lat,lon when no polyline is given.
func (api *API) GetGroupsAlongRoute(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	buffer, err := util.QueryFloat(r, "buffer", service.DefaultRouteBuffer)
	if err != nil || buffer <= 0 {
		return respondWithError(err, "buffer must be a positive number of meters", values.BadRequestBody, &tc)
	}

	q := r.URL.Query()
	encoded := strings.TrimSpace(q.Get("polyline"))
	var (
		groups  []model.PotholeGroup
		status  string
		message string
	)
	switch {
	case util.NotBlank(encoded):
		groups, status, message, err = api.GroupsAlongRouteHelper(r.Context(), encoded, buffer)
	case util.NotBlank(q.Get("from")) && util.NotBlank(q.Get("to")):
		from, fromErr := parsePosition(q.Get("from"))
		to, toErr := parsePosition(q.Get("to"))
		if fromErr != nil || toErr != nil {
			return respondWithError(errors.Join(fromErr, toErr), "from and to must be lat,lon", values.BadRequestBody, &tc)
		}
		groups, status, message, err = api.GroupsAlongTripHelper(r.Context(), from, to, buffer)
	default:
		return respondWithError(nil, "polyline or from and to are required", values.BadRequestBody, &tc)
	}
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       groups,
	}
}

func parsePosition(raw string) (model.Position, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return model.Position{}, fmt.Errorf("invalid position %q", raw)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return model.Position{}, fmt.Errorf("invalid latitude in %q", raw)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return model.Position{}, fmt.Errorf("invalid longitude in %q", raw)
	}
	return model.Position{Latitude: lat, Longitude: lon}, nil
}

func (api *API) UpdateGroupStatus(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	ref, err := model.ParseGroupRef(chi.URLParam(r, "groupID"))
	if err != nil {
		return respondWithError(err, "invalid group id", values.BadRequestBody, &tc)
	}

	newStatus, err := readStatus(r, &tc)
	if err != nil {
		return respondWithError(err, err.Error(), values.BadRequestBody, &tc)
	}

	change, status, message, err := api.UpdateGroupStatusHelper(r.Context(), ref, newStatus)
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       change,
	}
}

func (api *API) DeleteGroup(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	ref, err := model.ParseGroupRef(chi.URLParam(r, "groupID"))
	if err != nil {
		return respondWithError(err, "invalid group id", values.BadRequestBody, &tc)
	}

	deletion, status, message, err := api.DeleteGroupHelper(r.Context(), ref)
	if err != nil {
		// members removed before the failure stay removed
		resp := respondWithError(err, message, status, &tc)
		resp.Data = deletion
		return resp
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       deletion,
	}
}
