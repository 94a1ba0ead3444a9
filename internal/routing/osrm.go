package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rcliao/fieldsync/internal/model"
)

// DefaultOSRMURL is the public OSRM demo server.
const DefaultOSRMURL = "https://router.project-osrm.org"

// OSRMRouter asks an OSRM HTTP service for alternatives.
type OSRMRouter struct {
	baseURL string
	profile string
	client  *http.Client
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Type        string      `json:"type"`
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// NewOSRMRouter creates a router. Profile defaults to "driving".
func NewOSRMRouter(baseURL, profile string) *OSRMRouter {
	if baseURL == "" {
		baseURL = DefaultOSRMURL
	}
	if profile == "" {
		profile = "driving"
	}
	return &OSRMRouter{
		baseURL: baseURL,
		profile: profile,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Routes returns OSRM's alternatives in the order the service ranked them.
func (r *OSRMRouter) Routes(ctx context.Context, origin, dest model.LatLng) ([]Route, error) {
	q := url.Values{}
	q.Set("alternatives", "true")
	q.Set("geometries", "geojson")
	q.Set("overview", "full")
	endpoint := fmt.Sprintf("%s/route/v1/%s/%f,%f;%f,%f?%s",
		r.baseURL, r.profile, origin.Lng, origin.Lat, dest.Lng, dest.Lat, q.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("osrm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("osrm error %d: %s", resp.StatusCode, string(b))
	}

	var result osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode osrm response: %w", err)
	}
	if result.Code != "" && result.Code != "Ok" {
		// NoRoute and friends mean "no alternatives", not a broken service.
		if result.Code == "NoRoute" {
			return nil, nil
		}
		return nil, fmt.Errorf("osrm %s: %s", result.Code, result.Message)
	}

	routes := make([]Route, 0, len(result.Routes))
	for _, rt := range result.Routes {
		path := make(model.Path, 0, len(rt.Geometry.Coordinates))
		for _, c := range rt.Geometry.Coordinates {
			if len(c) < 2 {
				return nil, fmt.Errorf("osrm: malformed coordinate %v", c)
			}
			// GeoJSON order is lng, lat.
			path = append(path, model.LatLng{Lat: c[1], Lng: c[0]})
		}
		routes = append(routes, Route{
			Path:           path,
			DistanceMeters: rt.Distance,
			Duration:       time.Duration(rt.Duration * float64(time.Second)),
		})
	}
	return routes, nil
}
