// Package geocode is the client side of the external place search service.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/fieldsync/internal/model"
)

// DefaultNominatimURL is the public OpenStreetMap Nominatim endpoint.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// Place is one ranked search result.
type Place struct {
	DisplayName string       `json:"display_name"`
	Position    model.LatLng `json:"position"`
}

// Searcher turns free text into ranked places, best first.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Place, error)
}

// NominatimSearcher queries a Nominatim compatible service.
type NominatimSearcher struct {
	baseURL     string
	countryCode string
	userAgent   string
	client      *http.Client
}

type nominatimResult struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// NewNominatimSearcher creates a searcher. countryCode restricts results
// (e.g. "iq"); empty searches everywhere.
func NewNominatimSearcher(baseURL, countryCode string) *NominatimSearcher {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	return &NominatimSearcher{
		baseURL:     baseURL,
		countryCode: countryCode,
		userAgent:   "fieldsync/1.0",
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Search returns up to limit places. Blank queries return no results.
func (s *NominatimSearcher) Search(ctx context.Context, query string, limit int) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(limit))
	if s.countryCode != "" {
		q.Set("countrycodes", s.countryCode)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	// Nominatim's usage policy requires an identifying agent.
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("nominatim error %d: %s", resp.StatusCode, string(b))
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode nominatim response: %w", err)
	}

	places := make([]Place, 0, len(results))
	for _, r := range results {
		lat, err1 := strconv.ParseFloat(r.Lat, 64)
		lng, err2 := strconv.ParseFloat(r.Lon, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		p := model.LatLng{Lat: lat, Lng: lng}
		if !p.Valid() {
			continue
		}
		places = append(places, Place{DisplayName: r.DisplayName, Position: p})
	}
	return places, nil
}
