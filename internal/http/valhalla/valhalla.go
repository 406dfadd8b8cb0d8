// Package valhalla asks a Valhalla routing server for the road geometry
// between two points.
package valhalla

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/twpayne/go-polyline"
)

const defaultCosting = "auto"

// shapes in Valhalla responses are encoded with six decimal digits
var shapeCodec = polyline.Codec{Dim: 2, Scale: 1e6}

var ErrNoRoute = errors.New("no route found")

// ValhallaClient handles communication with the Valhalla API
type ValhallaClient struct {
	BaseURL string
	Client  *http.Client
}

// NewValhallaClient creates a new client instance
func NewValhallaClient(baseURL string) *ValhallaClient {
	return &ValhallaClient{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Location represents a point in the route request
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type RouteRequest struct {
	Locations []Location `json:"locations"`
	Costing   string     `json:"costing"`
	Units     string     `json:"units,omitempty"`
}

type RouteResponse struct {
	Trip Trip `json:"trip"`
}

type Trip struct {
	Legs          []Leg   `json:"legs"`
	Summary       Summary `json:"summary"`
	Status        int     `json:"status,omitempty"`
	StatusMessage string  `json:"status_message,omitempty"`
}

type Summary struct {
	Length float64 `json:"length"`
	Time   float64 `json:"time"`
}

type Leg struct {
	Shape   string  `json:"shape"`
	Summary Summary `json:"summary"`
}

// GetRoute fetches a route from Valhalla
func (vc *ValhallaClient) GetRoute(ctx context.Context, request RouteRequest) (*RouteResponse, error) {
	url := fmt.Sprintf("%s/route", vc.BaseURL)

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal route request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := vc.Client.Do(req)
	if err != nil {
		log.Printf("[Valhalla]: request failed: %v", err)
		return nil, fmt.Errorf("failed to make route request to Valhalla: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Valhalla response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Valhalla]: status %d: %s", resp.StatusCode, string(bodyBytes))
		return nil, fmt.Errorf("valhalla error: status code %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var routeResponse RouteResponse
	if err := json.Unmarshal(bodyBytes, &routeResponse); err != nil {
		return nil, fmt.Errorf("failed to decode Valhalla route response: %w", err)
	}
	return &routeResponse, nil
}

// RouteShape returns the [lat, lon] vertices of the driving route between two
// points, all legs concatenated.
func (vc *ValhallaClient) RouteShape(ctx context.Context, fromLat, fromLon, toLat, toLon float64) ([][]float64, error) {
	resp, err := vc.GetRoute(ctx, RouteRequest{
		Locations: []Location{{Lat: fromLat, Lon: fromLon}, {Lat: toLat, Lon: toLon}},
		Costing:   defaultCosting,
		Units:     "kilometers",
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Trip.Legs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, resp.Trip.StatusMessage)
	}

	var shape [][]float64
	for i, leg := range resp.Trip.Legs {
		coords, _, err := shapeCodec.DecodeCoords([]byte(leg.Shape))
		if err != nil {
			return nil, fmt.Errorf("decoding shape of leg %d: %w", i, err)
		}
		shape = append(shape, coords...)
	}
	if len(shape) == 0 {
		return nil, ErrNoRoute
	}
	return shape, nil
}
