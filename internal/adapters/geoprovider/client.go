// Package geoprovider mirrors geofences into the external mapping
// provider's geofencing API.
package geoprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

type createRequest struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	RadiusM float64 `json:"radius_m"`
}

type createResponse struct {
	ID string `json:"id"`
}

type checkRequest struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lng"`
	GeofenceID string  `json:"geofenceId"`
}

type checkResponse struct {
	Inside *bool `json:"inside"`
}

// Client implements ports.GeofenceProvider over HTTP.
type Client struct {
	http    *fasthttp.Client
	baseURL string
	apiKey  string
	timeout time.Duration
	limiter *rate.Limiter
}

// Options configures a Client. Dial overrides the network dialer, which
// tests use to serve the API in memory.
type Options struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
	Dial          fasthttp.DialFunc
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Client{
		http: &fasthttp.Client{
			Name:         "geotrack",
			Dial:         opts.Dial,
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
		},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// CreateGeofence registers a circle and returns the provider's reference.
func (c *Client) CreateGeofence(ctx context.Context, center domain.GeoPoint, radiusKm float64) (string, error) {
	var out createResponse
	if err := c.post(ctx, "/geofences", createRequest{Lat: center.Lat, Lon: center.Lon, RadiusM: radiusKm * 1000}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", domain.ProviderError("geofence provider", fmt.Errorf("response without id"))
	}
	return out.ID, nil
}

// CheckGeofence asks the provider whether pos lies inside the geofence it
// registered under ref.
func (c *Client) CheckGeofence(ctx context.Context, pos domain.GeoPoint, ref string) (bool, error) {
	var out checkResponse
	if err := c.post(ctx, "/geofence/check", checkRequest{Lat: pos.Lat, Lon: pos.Lon, GeofenceID: ref}, &out); err != nil {
		return false, err
	}
	if out.Inside == nil {
		return false, domain.ProviderError("geofence provider", fmt.Errorf("response without inside flag"))
	}
	return *out.Inside, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.SetBody(body)

	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return domain.ProviderError("geofence provider", err)
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return domain.ProviderError("geofence provider", fmt.Errorf("status %d: %s", code, resp.Body()))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return domain.ProviderError("geofence provider", fmt.Errorf("unexpected response: %s", resp.Body()))
	}
	return nil
}
