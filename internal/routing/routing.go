// Package routing is the client side of the external routing service: given
// an origin and a destination it returns zero or more alternative paths.
package routing

import (
	"context"
	"time"

	"github.com/rcliao/fieldsync/internal/model"
)

// Route is one alternative returned by a routing provider.
type Route struct {
	Path           model.Path    `json:"path"`
	DistanceMeters float64       `json:"distance_m"`
	Duration       time.Duration `json:"duration"`
}

// Router computes alternative paths between two points, best first.
type Router interface {
	Routes(ctx context.Context, origin, dest model.LatLng) ([]Route, error)
}

// RouterFunc adapts a function to Router.
type RouterFunc func(ctx context.Context, origin, dest model.LatLng) ([]Route, error)

// Routes calls f.
func (f RouterFunc) Routes(ctx context.Context, origin, dest model.LatLng) ([]Route, error) {
	return f(ctx, origin, dest)
}

// New creates a router for the named provider. "osrm" talks to an OSRM
// compatible HTTP service at baseURL; "" or "none" returns nil, which makes
// every mission fall back to a straight line.
func New(provider, baseURL, profile string) Router {
	switch provider {
	case "osrm":
		return NewOSRMRouter(baseURL, profile)
	default:
		return nil
	}
}
