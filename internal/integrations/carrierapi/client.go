// Package carrierapi is the bearer-authenticated REST client for the carrier
// backend. With an empty or static base URL reads are served from a bundled
// snapshot and writes fail with OfflineOnly.
package carrierapi

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/kv"
	"github.com/BearBump/LastMile/internal/metrics"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/pkg/errors"
)

//go:embed snapshot.json
var bundledSnapshot []byte

// StaticScheme marks a base URL that has no backend behind it.
const StaticScheme = "static:"

type Options struct {
	// BaseURL is used until a runtime URL is persisted in KV.
	BaseURL      string
	SnapshotPath string
	Timeout      time.Duration
}

type Client struct {
	settings *kv.Settings
	fallback string
	httpc    *http.Client

	snapshot map[string]json.RawMessage

	mu     sync.RWMutex
	static map[string]bool
}

func New(settings *kv.Settings, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	raw := bundledSnapshot
	if opts.SnapshotPath != "" {
		b, err := os.ReadFile(opts.SnapshotPath)
		if err != nil {
			return nil, errors.Wrap(err, "read snapshot")
		}
		raw = b
	}
	var snap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return &Client{
		settings: settings,
		fallback: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpc: &http.Client{
			Timeout: opts.Timeout,
		},
		snapshot: snap,
		static:   map[string]bool{},
	}, nil
}

// BaseURL returns the persisted runtime URL or the configured fallback.
func (c *Client) BaseURL(ctx context.Context) string {
	if c.settings != nil {
		u, err := c.settings.APIBaseURL(ctx)
		if err != nil {
			slog.Warn("read api base url", "error", err.Error())
		}
		if u != "" {
			return u
		}
	}
	return c.fallback
}

func (c *Client) SetBaseURL(ctx context.Context, u string) error {
	if c.settings == nil {
		return errors.New("no settings store")
	}
	return c.settings.SetAPIBaseURL(ctx, u)
}

// SnapshotMode reports whether calls are served from the bundled snapshot.
func (c *Client) SnapshotMode(ctx context.Context) bool {
	base := c.BaseURL(ctx)
	if base == "" || strings.HasPrefix(base, StaticScheme) {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.static[base]
}

// Detect probes /health and switches to snapshot mode when the host answers
// with something other than JSON (a static site). Transport errors leave the
// mode untouched: the device is simply offline.
func (c *Client) Detect(ctx context.Context) bool {
	base := c.BaseURL(ctx)
	if base == "" || strings.HasPrefix(base, StaticScheme) {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return c.SnapshotMode(ctx)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var h Health
	static := json.Unmarshal(body, &h) != nil
	c.mu.Lock()
	c.static[base] = static
	c.mu.Unlock()
	if static {
		slog.Info("carrier api: static host, snapshot mode", "base_url", base)
	}
	return static
}

func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var out LoginResponse
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var out models.User
	if err := c.do(ctx, "me", http.MethodGet, "/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Roles(ctx context.Context) ([]models.RoleInfo, error) {
	var out []models.RoleInfo
	if err := c.do(ctx, "roles", http.MethodGet, "/roles", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Shipments(ctx context.Context) ([]models.Shipment, error) {
	var out []models.Shipment
	if err := c.do(ctx, "shipments", http.MethodGet, "/shipments", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PostUpdate sends one status update. The server deduplicates by ClientID.
func (c *Client) PostUpdate(ctx context.Context, req models.UpdateRequest) (*UpdateResponse, error) {
	var out UpdateResponse
	if err := c.do(ctx, "post update", http.MethodPost, "/updates", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logs(ctx context.Context) ([]models.LogEntry, error) {
	var out []models.LogEntry
	if err := c.do(ctx, "logs", http.MethodGet, "/logs", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	var out []models.User
	if err := c.do(ctx, "users", http.MethodGet, "/users", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateUser(ctx context.Context, in models.UserCreate) (*models.User, error) {
	var out models.User
	if err := c.do(ctx, "create user", http.MethodPost, "/users", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateUser(ctx context.Context, driverID string, in models.UserUpdate) (*models.User, error) {
	var out models.User
	path := "/users/" + url.PathEscape(driverID)
	if err := c.do(ctx, "update user", http.MethodPatch, path, nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AllocateShipment(ctx context.Context, awb, driverID string) error {
	path := "/shipments/" + url.PathEscape(awb) + "/allocate"
	return c.do(ctx, "allocate shipment", http.MethodPost, path, nil, map[string]string{"driver_id": driverID}, nil)
}

func (c *Client) StartPostisSync(ctx context.Context) (*SyncStatus, error) {
	var out SyncStatus
	if err := c.do(ctx, "start postis sync", http.MethodPost, "/postis/sync", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PostisSyncStatus(ctx context.Context) (*SyncStatus, error) {
	var out SyncStatus
	if err := c.do(ctx, "postis sync status", http.MethodGet, "/postis/sync", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SyncDrivers(ctx context.Context) error {
	return c.do(ctx, "sync drivers", http.MethodPost, "/drivers/sync", nil, nil, nil)
}

// Analytics scope is "self" or "all".
func (c *Client) Analytics(ctx context.Context, scope string) (Analytics, error) {
	q := url.Values{}
	if scope != "" {
		q.Set("scope", scope)
	}
	var out Analytics
	if err := c.do(ctx, "analytics", http.MethodGet, "/analytics", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CODReport(ctx context.Context, limit int) ([]CODRow, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []CODRow
	if err := c.do(ctx, "cod report", http.MethodGet, "/cod-report", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body, out any) (err error) {
	defer func() {
		kind := "ok"
		if err != nil {
			kind = apperr.KindOf(err).String()
		}
		metrics.CarrierRequests.WithLabelValues(op, kind).Inc()
	}()

	if c.SnapshotMode(ctx) {
		return c.fromSnapshot(op, method, path, out)
	}

	u, err := url.Parse(c.BaseURL(ctx))
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, op, errors.Wrap(err, "parse base url"))
	}
	// path приходит уже экранированным (PathEscape для AWB и id)
	raw := strings.TrimRight(u.EscapedPath(), "/") + path
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, op, errors.Wrap(err, "unescape path"))
	}
	u.Path, u.RawPath = decoded, raw
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode body")
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindNetwork, op, errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return apperr.FromStatus(op, resp.StatusCode, readDetail(resp.Body))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Wrap(apperr.KindNetwork, op, errors.Wrap(err, "decode"))
	}
	return nil
}

func (c *Client) token(ctx context.Context) string {
	if c.settings == nil {
		return ""
	}
	tok, err := c.settings.Token(ctx)
	if err != nil {
		slog.Warn("read token", "error", err.Error())
	}
	return tok
}

func (c *Client) fromSnapshot(op, method, path string, out any) error {
	// логин в демо-режиме отдаёт демо-токен из снапшота
	if method != http.MethodGet && path != "/auth/login" {
		return apperr.New(apperr.KindOfflineOnly, op, "no backend configured")
	}
	raw, ok := c.snapshot[path]
	if !ok {
		return apperr.New(apperr.KindOfflineOnly, op, "not available offline")
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode snapshot "+path)
	}
	return nil
}

// readDetail extracts {detail} from an error body. Non-string details (e.g.
// validation lists) are returned as raw JSON.
func readDetail(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(b, &env); err != nil || len(env.Detail) == 0 {
		s := strings.TrimSpace(string(b))
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	var s string
	if err := json.Unmarshal(env.Detail, &s); err == nil {
		return s
	}
	return string(env.Detail)
}
