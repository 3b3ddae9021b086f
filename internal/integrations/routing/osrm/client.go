package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/integrations/routing"
	"github.com/BearBump/LastMile/internal/metrics"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/BearBump/LastMile/internal/ratelimit"
	"github.com/pkg/errors"
)

const op = "osrm route"

type Client struct {
	baseURL string
	limiter ratelimit.Limiter
	httpc   *http.Client
}

func New(baseURL string, limiter ratelimit.Limiter) *Client {
	if baseURL == "" {
		baseURL = "https://router.project-osrm.org"
	}
	if limiter == nil {
		limiter = ratelimit.NewTokenBucket(1, 1)
	}
	return &Client{
		baseURL: baseURL,
		limiter: limiter,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type respBody struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Type        string       `json:"type"`
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func coordPath(points []models.GeoPoint) string {
	parts := make([]string, 0, len(points))
	for _, p := range points {
		parts = append(parts,
			strconv.FormatFloat(p.Lon, 'f', 6, 64)+","+strconv.FormatFloat(p.Lat, 'f', 6, 64))
	}
	return strings.Join(parts, ";")
}

func (c *Client) Route(ctx context.Context, points []models.GeoPoint) (*routing.RouteResult, error) {
	if len(points) < 2 {
		return nil, nil
	}
	res, err := c.route(ctx, points)
	if ctx.Err() != nil {
		return nil, nil
	}
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("osrm", "error").Inc()
		if apperr.KindOf(err) != apperr.KindUnknown {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindNetwork, op, err)
	}
	metrics.ProviderRequests.WithLabelValues("osrm", "ok").Inc()
	return res, nil
}

func (c *Client) route(ctx context.Context, points []models.GeoPoint) (*routing.RouteResult, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/route/v1/driving/" + coordPath(points)
	q := u.Query()
	q.Set("overview", "full")
	q.Set("geometries", "geojson")
	u.RawQuery = q.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	var rb respBody
	decodeErr := json.NewDecoder(resp.Body).Decode(&rb)
	if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests && decodeErr == nil {
		return nil, apperr.New(apperr.KindValidation, op, rb.Code+": "+rb.Message)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("osrm http %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, errors.Wrap(decodeErr, "decode")
	}
	if rb.Code != "Ok" || len(rb.Routes) == 0 {
		return nil, apperr.New(apperr.KindValidation, op, "osrm code "+rb.Code)
	}

	r := rb.Routes[0]
	line := make([]models.GeoPoint, 0, len(r.Geometry.Coordinates))
	for _, c := range r.Geometry.Coordinates {
		line = append(line, models.GeoPoint{Lat: c[1], Lon: c[0]})
	}
	return &routing.RouteResult{
		Polyline:  line,
		DistanceM: r.Distance,
		DurationS: r.Duration,
	}, nil
}
