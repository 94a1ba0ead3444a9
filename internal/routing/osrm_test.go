package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/fieldsync/internal/model"
)

func TestOSRMRoutes(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"code":"Ok","routes":[
			{"distance":1200.5,"duration":90,"geometry":{"type":"LineString","coordinates":[[44.30,33.30],[44.31,33.31]]}},
			{"distance":1500,"duration":120,"geometry":{"type":"LineString","coordinates":[[44.30,33.30],[44.32,33.30],[44.31,33.31]]}}
		]}`))
	}))
	defer srv.Close()

	r := NewOSRMRouter(srv.URL, "")
	routes, err := r.Routes(context.Background(), model.LatLng{Lat: 33.30, Lng: 44.30}, model.LatLng{Lat: 33.31, Lng: 44.31})
	if err != nil {
		t.Fatalf("routes: %v", err)
	}

	if !strings.HasPrefix(gotPath, "/route/v1/driving/44.300000,33.300000;44.310000,33.310000") {
		t.Errorf("unexpected request path %q", gotPath)
	}
	if !strings.Contains(gotQuery, "alternatives=true") || !strings.Contains(gotQuery, "geometries=geojson") {
		t.Errorf("unexpected query %q", gotQuery)
	}

	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	if routes[0].Path[0] != (model.LatLng{Lat: 33.30, Lng: 44.30}) {
		t.Errorf("expected lat/lng swap from geojson, got %v", routes[0].Path[0])
	}
	if routes[0].Duration != 90*time.Second {
		t.Errorf("expected 90s, got %s", routes[0].Duration)
	}
	if len(routes[1].Path) != 3 {
		t.Errorf("expected 3 points on second route, got %d", len(routes[1].Path))
	}
}

func TestOSRMNoRouteIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"NoRoute","message":"Impossible route","routes":[]}`))
	}))
	defer srv.Close()

	routes, err := NewOSRMRouter(srv.URL, "foot").Routes(context.Background(), model.LatLng{}, model.LatLng{Lat: 1, Lng: 1})
	if err != nil {
		t.Fatalf("expected no error for NoRoute, got %v", err)
	}
	if len(routes) != 0 {
		t.Errorf("expected no routes, got %d", len(routes))
	}
}

func TestOSRMErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", 500, `boom`},
		{"malformed json", 200, `{"routes":[`},
		{"malformed coordinate", 200, `{"code":"Ok","routes":[{"geometry":{"coordinates":[[44.3]]}}]}`},
		{"invalid query", 200, `{"code":"InvalidQuery","message":"bad"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOSRMRouter(srv.URL, "").Routes(context.Background(), model.LatLng{}, model.LatLng{Lat: 1, Lng: 1})
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewProvider(t *testing.T) {
	if New("none", "", "") != nil {
		t.Error("expected nil router for provider none")
	}
	if New("", "", "") != nil {
		t.Error("expected nil router when no provider configured")
	}
	if _, ok := New("osrm", "http://example", "").(*OSRMRouter); !ok {
		t.Error("expected OSRM router")
	}
}
