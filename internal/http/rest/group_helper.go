package rest

import (
	"context"
	"fmt"

	"github.com/bwise1/pothole_watch/internal/http/valhalla"
	"github.com/bwise1/pothole_watch/internal/model"
	"github.com/bwise1/pothole_watch/internal/service"
	"github.com/bwise1/pothole_watch/util/values"
	"github.com/pkg/errors"
)

func (api *API) GetPotholeGroupsHelper(ctx context.Context) ([]model.PotholeGroup, string, string, error) {
	groups, err := api.Deps.Service.Groups(ctx)
	if err != nil {
		return nil, values.Error, "Failed to fetch pothole groups", err
	}
	return groups, values.Success, "Pothole groups fetched successfully", nil
}

func (api *API) GroupsAlongRouteHelper(ctx context.Context, encoded string, buffer float64) ([]model.PotholeGroup, string, string, error) {
	groups, err := api.Deps.Service.GroupsAlongRoute(ctx, encoded, buffer)
	if errors.Is(err, service.ErrInvalidPolyline) {
		return nil, values.BadRequestBody, err.Error(), err
	}
	if err != nil {
		return nil, values.Error, "Failed to match groups to route", err
	}
	return groups, values.Success, fmt.Sprintf("%d pothole groups along route", len(groups)), nil
}

func (api *API) GroupsAlongTripHelper(ctx context.Context, from, to model.Position, buffer float64) ([]model.PotholeGroup, string, string, error) {
	groups, err := api.Deps.Service.GroupsAlongTrip(ctx, from, to, buffer)
	switch {
	case errors.Is(err, service.ErrRoutingDisabled):
		return nil, values.Unavailable, err.Error(), err
	case errors.Is(err, service.ErrInvalidCoordinates):
		return nil, values.BadRequestBody, err.Error(), err
	case errors.Is(err, valhalla.ErrNoRoute):
		return nil, values.NotFound, "No route found between the given points", err
	case err != nil:
		return nil, values.Error, "Failed to route trip", err
	}
	return groups, values.Success, fmt.Sprintf("%d pothole groups along trip", len(groups)), nil
}

func (api *API) UpdateGroupStatusHelper(ctx context.Context, ref model.GroupRef, status model.ReportStatus) (model.GroupStatusChange, string, string, error) {
	n, err := api.Deps.Service.CascadeStatus(ctx, ref, status)
	if errors.Is(err, service.ErrInvalidStatus) {
		return model.GroupStatusChange{}, values.BadRequestBody, err.Error(), err
	}
	if err != nil {
		return model.GroupStatusChange{}, values.Error, "Failed to update group status", err
	}
	change := model.GroupStatusChange{GroupID: ref.String(), Status: status, Updated: n}
	return change, values.Success, fmt.Sprintf("Status of %d reports updated", n), nil
}

func (api *API) DeleteGroupHelper(ctx context.Context, ref model.GroupRef) (model.GroupDeletion, string, string, error) {
	deleted, err := api.Deps.Service.CascadeDelete(ctx, ref)
	if deleted == nil {
		deleted = []int64{}
	}
	deletion := model.GroupDeletion{GroupID: ref.String(), ReportIDs: deleted}
	if err != nil {
		return deletion, values.Error, "Failed to delete every report of the group", err
	}
	return deletion, values.Success, fmt.Sprintf("%d reports deleted", len(deleted)), nil
}
