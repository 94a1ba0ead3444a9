package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNominatimSearch(t *testing.T) {
	var gotQuery, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotAgent = r.Header.Get("User-Agent")
		if r.URL.Query().Get("countrycodes") != "iq" {
			t.Errorf("expected countrycodes=iq, got %q", r.URL.Query().Get("countrycodes"))
		}
		w.Write([]byte(`[
			{"display_name":"Tahrir Square, Baghdad","lat":"33.3340","lon":"44.4195"},
			{"display_name":"broken","lat":"north","lon":"44.0"},
			{"display_name":"Kadhimiya, Baghdad","lat":"33.3800","lon":"44.3400"}
		]`))
	}))
	defer srv.Close()

	s := NewNominatimSearcher(srv.URL, "iq")
	places, err := s.Search(context.Background(), "  tahrir  ", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotQuery != "tahrir" {
		t.Errorf("expected trimmed query, got %q", gotQuery)
	}
	if gotAgent == "" {
		t.Error("expected a User-Agent header")
	}
	if len(places) != 2 {
		t.Fatalf("expected 2 parseable places, got %d", len(places))
	}
	if places[0].DisplayName != "Tahrir Square, Baghdad" || places[0].Position.Lat != 33.3340 {
		t.Errorf("unexpected first place %+v", places[0])
	}
}

func TestNominatimBlankQuery(t *testing.T) {
	s := NewNominatimSearcher("http://127.0.0.1:0", "")
	places, err := s.Search(context.Background(), "   ", 5)
	if err != nil || places != nil {
		t.Errorf("expected no request and no results, got %v, %v", places, err)
	}
}

func TestNominatimError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := NewNominatimSearcher(srv.URL, "").Search(context.Background(), "x", 1); err == nil {
		t.Error("expected error on 429")
	}
}
