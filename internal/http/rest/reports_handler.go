package rest

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwise1/pothole_watch/internal/model"
	"github.com/bwise1/pothole_watch/internal/service"
	"github.com/bwise1/pothole_watch/util"
	"github.com/bwise1/pothole_watch/util/tracing"
	"github.com/bwise1/pothole_watch/util/values"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const defaultMaxUploadMB = 10

func (api *API) ReportRoutes() chi.Router {
	mux := chi.NewRouter()

	mux.Method(http.MethodPost, "/report", Handler(api.CreateReport))
	mux.Method(http.MethodGet, "/reports", Handler(api.ListReports))
	mux.Method(http.MethodGet, "/reports/{reportID}", Handler(api.GetReportByID))

	mux.Method(http.MethodGet, "/pothole-groups", Handler(api.GetPotholeGroups))
	mux.Method(http.MethodGet, "/pothole-groups/along-route", Handler(api.GetGroupsAlongRoute))
	mux.Method(http.MethodGet, "/dashboard", Handler(api.GetDashboard))
	mux.Method(http.MethodGet, "/stats", Handler(api.GetStats))
	mux.Method(http.MethodGet, "/debug", Handler(api.GetDebug))

	mux.Group(func(r chi.Router) {
		r.Use(api.RequireOperator)
		r.Method(http.MethodPost, "/reports/{reportID}/status", Handler(api.UpdateReportStatus))
		r.Method(http.MethodDelete, "/reports/{reportID}", Handler(api.DeleteReport))
		r.Method(http.MethodPost, "/groups/{groupID}/status", Handler(api.UpdateGroupStatus))
		r.Method(http.MethodDelete, "/groups/{groupID}", Handler(api.DeleteGroup))
	})

	return mux
}

func (api *API) CreateReport(w http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	maxMB := api.Config.MaxUploadMB
	if maxMB <= 0 {
		maxMB = defaultMaxUploadMB
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxMB<<20)
	if err := r.ParseMultipartForm(maxMB << 20); err != nil {
		return respondWithError(err, "unable to parse upload form", values.BadRequestBody, &tc)
	}

	in := service.NewReport{}
	lat, lon, err := formCoordinates(r)
	if err != nil {
		return respondWithError(err, err.Error(), values.BadRequestBody, &tc)
	}
	in.Latitude, in.Longitude = lat, lon

	file, header, err := r.FormFile("file")
	if err != nil {
		return respondWithError(err, "no file part", values.BadRequestBody, &tc)
	}
	defer file.Close()
	if header.Filename == "" {
		return respondWithError(nil, "no selected file", values.BadRequestBody, &tc)
	}
	in.Filename = header.Filename
	if in.Image, err = io.ReadAll(file); err != nil {
		return respondWithError(err, "unable to read uploaded file", values.BadRequestBody, &tc)
	}

	resp, status, message, err := api.CreateReportHelper(r.Context(), in)
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       resp,
	}
}

// formCoordinates returns nil pointers when both fields are blank so the
// service falls back to the photo's GPS block.
func formCoordinates(r *http.Request) (*float64, *float64, error) {
	rawLat := strings.TrimSpace(r.FormValue("latitude"))
	rawLon := strings.TrimSpace(r.FormValue("longitude"))
	if rawLat == "" && rawLon == "" {
		return nil, nil, nil
	}
	if rawLat == "" || rawLon == "" {
		return nil, nil, errors.New("latitude and longitude must be sent together")
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return nil, nil, errors.New("invalid latitude")
	}
	lon, err := strconv.ParseFloat(rawLon, 64)
	if err != nil {
		return nil, nil, errors.New("invalid longitude")
	}
	return &lat, &lon, nil
}

func (api *API) ListReports(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	limit, err := util.QueryInt(r, "limit", service.DefaultPageSize)
	if err != nil {
		return respondWithError(err, err.Error(), values.BadRequestBody, &tc)
	}
	offset, err := util.QueryInt(r, "offset", 0)
	if err != nil {
		return respondWithError(err, err.Error(), values.BadRequestBody, &tc)
	}

	reports, status, message, err := api.ListReportsHelper(r.Context(), limit, offset)
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       reports,
	}
}

func (api *API) GetReportByID(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	id, err := reportIDParam(r)
	if err != nil {
		return respondWithError(err, "invalid ID format", values.BadRequestBody, &tc)
	}

	report, status, message, err := api.GetReportByIDHelper(r.Context(), id)
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       report,
	}
}

func (api *API) UpdateReportStatus(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	id, err := reportIDParam(r)
	if err != nil {
		return respondWithError(err, "invalid ID format", values.BadRequestBody, &tc)
	}

	newStatus, err := readStatus(r, &tc)
	if err != nil {
		return respondWithError(err, err.Error(), values.BadRequestBody, &tc)
	}

	report, status, message, err := api.UpdateReportStatusHelper(r.Context(), id, newStatus)
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
		Data:       report,
	}
}

func (api *API) DeleteReport(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := r.Context().Value(values.ContextTracingKey).(tracing.Context)

	id, err := reportIDParam(r)
	if err != nil {
		return respondWithError(err, "invalid ID format", values.BadRequestBody, &tc)
	}

	status, message, err := api.DeleteReportHelper(r.Context(), id)
	if err != nil {
		return respondWithError(err, message, status, &tc)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
	}
}

func reportIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "reportID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid report id %q", chi.URLParam(r, "reportID"))
	}
	return id, nil
}

// readStatus accepts {"status": "..."} JSON or a form field of the same name.
func readStatus(r *http.Request, tc *tracing.Context) (model.ReportStatus, error) {
	var req model.UpdateStatusRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := util.DecodeJSONBody(tc, r.Body, &req); err != nil {
			return "", errors.New("unable to decode request")
		}
	} else {
		req.Status = r.FormValue("status")
	}
	if err := util.ValidateStruct(req); err != nil {
		return "", errors.New("status is required")
	}
	return model.ParseReportStatus(req.Status)
}
