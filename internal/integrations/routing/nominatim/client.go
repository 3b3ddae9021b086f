package nominatim

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
	"github.com/BearBump/LastMile/internal/metrics"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/BearBump/LastMile/internal/ratelimit"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

const op = "nominatim geocode"

type Client struct {
	baseURL   string
	userAgent string
	limiter   ratelimit.Limiter
	retryWait time.Duration
	httpc     *http.Client
}

func New(baseURL, userAgent string, limiter ratelimit.Limiter) *Client {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	if userAgent == "" {
		userAgent = "lastmile-agent"
	}
	if limiter == nil {
		limiter = ratelimit.NewTokenBucket(1, 1)
	}
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		limiter:   limiter,
		retryWait: 500 * time.Millisecond,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type serverError struct {
	status int
}

func (e *serverError) Error() string { return fmt.Sprintf("nominatim http %d", e.status) }

func (c *Client) Geocode(ctx context.Context, query string) (*models.GeoPoint, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/search"
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	var places []place
	// одна повторная попытка только на 5xx
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryWait), 1), ctx)
	err = backoff.Retry(func() error {
		var serr *serverError
		places, err = c.do(ctx, u.String())
		if errors.As(err, &serr) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, b)
	if ctx.Err() != nil {
		return nil, nil
	}
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("nominatim", "error").Inc()
		return nil, apperr.Wrap(apperr.KindNetwork, op, err)
	}
	if len(places) == 0 {
		metrics.ProviderRequests.WithLabelValues("nominatim", "not_found").Inc()
		return nil, nil
	}

	lat, errLat := strconv.ParseFloat(places[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(places[0].Lon, 64)
	if errLat != nil || errLon != nil {
		metrics.ProviderRequests.WithLabelValues("nominatim", "error").Inc()
		return nil, apperr.New(apperr.KindNetwork, op, "bad coordinates")
	}
	metrics.ProviderRequests.WithLabelValues("nominatim", "ok").Inc()
	return &models.GeoPoint{Lat: lat, Lon: lon}, nil
}

func (c *Client) do(ctx context.Context, rawURL string) ([]place, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 5 {
		return nil, &serverError{status: resp.StatusCode}
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("nominatim http %d", resp.StatusCode)
	}

	var out []place
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return out, nil
}
