// Package session decodes the bearer token, projects roles to permissions and
// owns the session lifecycle (boot, login, refresh from /me, logout).
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/events"
	"github.com/BearBump/LastMile/internal/integrations/carrierapi"
	"github.com/BearBump/LastMile/internal/kv"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/pkg/errors"
)

type API interface {
	Login(ctx context.Context, username, password string) (*carrierapi.LoginResponse, error)
	Me(ctx context.Context) (*models.User, error)
}

type Session struct {
	Token  string        `json:"-"`
	Claims models.Claims `json:"claims"`
	User   models.User   `json:"user"`
	// Verified: the user was confirmed by /me, not only decoded from the token.
	Verified bool `json:"verified"`
}

type Manager struct {
	settings *kv.Settings
	api      API
	bus      *events.Bus

	mu  sync.RWMutex
	cur *Session

	now func() time.Time
}

func NewManager(settings *kv.Settings, api API, bus *events.Bus) *Manager {
	return &Manager{
		settings: settings,
		api:      api,
		bus:      bus,
		now:      time.Now,
	}
}

// Boot restores the session from the stored token. An undecodable or expired
// token is purged.
func (m *Manager) Boot(ctx context.Context) error {
	tok, err := m.settings.Token(ctx)
	if err != nil {
		return errors.Wrap(err, "read token")
	}
	if tok == "" {
		return nil
	}
	claims := DecodeToken(tok)
	if claims == nil || !claims.Exp.After(m.now()) {
		slog.Info("session: stored token unusable, purging")
		return m.Purge(ctx)
	}
	m.set(seed(tok, *claims))
	return nil
}

func (m *Manager) Login(ctx context.Context, username, password string) (*Session, error) {
	resp, err := m.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	claims := DecodeToken(resp.AccessToken)
	if claims == nil {
		return nil, apperr.New(apperr.KindValidation, "login", "server returned a malformed token")
	}
	if claims.Role == "" {
		claims.Role = resp.Role
	}
	if err := m.settings.SetToken(ctx, resp.AccessToken); err != nil {
		return nil, errors.Wrap(err, "store token")
	}
	m.set(seed(resp.AccessToken, *claims))

	if err := m.Refresh(ctx); err != nil && !apperr.Is(err, apperr.KindAuthExpired) {
		slog.Warn("session: /me unavailable after login", "error", err.Error())
	}
	return m.Current(), nil
}

// Refresh replaces the token-derived user with the server's /me answer.
// Failures keep the current session, except AuthExpired which purges it.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.Current() == nil {
		return nil
	}
	u, err := m.api.Me(ctx)
	if apperr.Is(err, apperr.KindAuthExpired) {
		_ = m.Purge(ctx)
		return err
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.cur == nil {
		m.mu.Unlock()
		return nil
	}
	next := *m.cur
	user := *u
	user.Role = NormaliseRole(user.Role)
	if user.DriverID == "" {
		user.DriverID = next.User.DriverID
	}
	if len(user.Permissions) == 0 {
		user.Permissions = PermissionsForRole(user.Role)
	}
	next.User = user
	next.Verified = true
	m.cur = &next
	m.mu.Unlock()

	m.publish()
	return nil
}

func (m *Manager) Logout(ctx context.Context) error {
	return m.Purge(ctx)
}

// Purge drops the token and the user.
func (m *Manager) Purge(ctx context.Context) error {
	m.mu.Lock()
	m.cur = nil
	m.mu.Unlock()
	err := m.settings.ClearToken(ctx)
	m.publish()
	if err != nil {
		return errors.Wrap(err, "clear token")
	}
	return nil
}

// Current returns a copy of the session, or nil. An expired session is purged
// on observation.
func (m *Manager) Current() *Session {
	m.mu.RLock()
	cur := m.cur
	m.mu.RUnlock()
	if cur == nil {
		return nil
	}
	if !cur.Claims.Exp.After(m.now()) {
		slog.Info("session expired", "user", cur.User.Username)
		if err := m.Purge(context.Background()); err != nil {
			slog.Warn("session purge", "error", err.Error())
		}
		return nil
	}
	c := *cur
	c.User.Permissions = append([]string{}, cur.User.Permissions...)
	return &c
}

func (m *Manager) Token() string {
	if s := m.Current(); s != nil {
		return s.Token
	}
	return ""
}

func (m *Manager) Valid() bool { return m.Current() != nil }

// Can reports whether the current user holds perm.
func (m *Manager) Can(perm string) bool {
	s := m.Current()
	if s == nil {
		return false
	}
	return HasPermission(&s.User, perm)
}

func (m *Manager) set(s *Session) {
	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
	m.publish()
}

func (m *Manager) publish() {
	payload := map[string]any{"authenticated": false}
	m.mu.RLock()
	if m.cur != nil {
		payload["authenticated"] = true
		payload["username"] = m.cur.User.Username
		payload["role"] = m.cur.User.Role
	}
	m.mu.RUnlock()
	m.bus.Publish(events.Event{Type: events.SessionChanged, Payload: payload})
}

func seed(tok string, c models.Claims) *Session {
	role := NormaliseRole(c.Role)
	return &Session{
		Token:  tok,
		Claims: c,
		User: models.User{
			Username:    c.Sub,
			DriverID:    c.DriverID,
			Role:        role,
			Active:      true,
			Permissions: PermissionsForRole(role),
		},
	}
}
