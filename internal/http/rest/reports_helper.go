package rest

import (
	"context"

	"github.com/bwise1/pothole_watch/internal/model"
	"github.com/bwise1/pothole_watch/internal/service"
	"github.com/bwise1/pothole_watch/internal/store"
	"github.com/bwise1/pothole_watch/util/values"
	"github.com/pkg/errors"
)

func (api *API) CreateReportHelper(ctx context.Context, in service.NewReport) (model.CreateReportResponse, string, string, error) {
	resp, err := api.Deps.Service.CreateReport(ctx, in)
	switch {
	case errors.Is(err, service.ErrMissingImage),
		errors.Is(err, service.ErrMissingCoordinates),
		errors.Is(err, service.ErrInvalidCoordinates):
		return resp, values.BadRequestBody, err.Error(), err
	case err != nil:
		return resp, values.Error, "Failed to create report", err
	}
	return resp, values.Created, "Report created successfully", nil
}

func (api *API) ListReportsHelper(ctx context.Context, limit, offset int) ([]model.Report, string, string, error) {
	reports, err := api.Deps.Service.ListReports(ctx, limit, offset)
	if err != nil {
		return nil, values.Error, "Failed to fetch reports", err
	}
	if reports == nil {
		reports = []model.Report{}
	}
	return reports, values.Success, "Reports fetched successfully", nil
}

func (api *API) GetReportByIDHelper(ctx context.Context, id int64) (model.Report, string, string, error) {
	report, err := api.Deps.Service.GetReport(ctx, id)
	if errors.Is(err, store.ErrReportNotFound) {
		return report, values.NotFound, "Report not found", err
	}
	if err != nil {
		return report, values.Error, "Failed to fetch report", err
	}
	return report, values.Success, "Report fetched successfully", nil
}

func (api *API) UpdateReportStatusHelper(ctx context.Context, id int64, status model.ReportStatus) (model.Report, string, string, error) {
	report, err := api.Deps.Service.UpdateReportStatus(ctx, id, status)
	switch {
	case errors.Is(err, store.ErrReportNotFound):
		return report, values.NotFound, "Report not found", err
	case errors.Is(err, service.ErrInvalidStatus):
		return report, values.BadRequestBody, err.Error(), err
	case err != nil:
		return report, values.Error, "Failed to update report status", err
	}
	return report, values.Success, "Report status updated", nil
}

func (api *API) DeleteReportHelper(ctx context.Context, id int64) (string, string, error) {
	deleted, err := api.Deps.Service.RemoveReport(ctx, id)
	if err != nil {
		return values.Error, "Failed to delete report", err
	}
	if !deleted {
		return values.NotFound, "Report not found", store.ErrReportNotFound
	}
	return values.Success, "Report deleted", nil
}
