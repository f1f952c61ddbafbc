// Package geocoding enriches coordinates with locality data. The lookup is
// strictly best-effort: any failure leaves the address fields unset and the
// caller none the wiser.
package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mahakalaqua/visitor-tracker/internal/domain/visitor"
	"go.uber.org/zap"
)

// ReverseGeocoder resolves lat/lng into address fields via an external
// HTTP lookup. No auth, no retries.
type ReverseGeocoder struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewReverseGeocoder creates a reverse geocoder client
func NewReverseGeocoder(baseURL string, timeout time.Duration, logger *zap.Logger) *ReverseGeocoder {
	return &ReverseGeocoder{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// reverseResponse is the subset of the lookup response we read
type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Road    string `json:"road"`
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
}

// Enrich fills the address fields of data in place. Failures are logged and
// swallowed; Enrich never panics past its boundary.
func (g *ReverseGeocoder) Enrich(ctx context.Context, data *visitor.LocationData) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("reverse geocode panicked", zap.Any("panic", r))
		}
	}()

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", data.Latitude))
	q.Set("lon", fmt.Sprintf("%f", data.Longitude))
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		g.logger.Warn("reverse geocode request build failed", zap.Error(err))
		return
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Warn("reverse geocode lookup failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("reverse geocode returned non-200",
			zap.Int("status", resp.StatusCode))
		return
	}

	var parsed reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		g.logger.Warn("reverse geocode response malformed", zap.Error(err))
		return
	}

	data.Address = parsed.DisplayName
	data.City = firstNonEmpty(parsed.Address.City, parsed.Address.Town, parsed.Address.Village)
	data.State = parsed.Address.State
	data.Country = parsed.Address.Country
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
