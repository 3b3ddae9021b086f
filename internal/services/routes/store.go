// Package routes is the dispatcher's device-local route scratchpad. The store
// owns the routes_v1 key and enforces that an AWB belongs to at most one
// route per date and appears at most once in a route.
package routes

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/events"
	"github.com/BearBump/LastMile/internal/kv"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const dateLayout = "2006-01-02"

var (
	ErrNotFound         = errors.New("route not found")
	ErrInvalidOrder     = errors.New("order is not a permutation of the route's awbs")
	ErrDraftInvalidated = errors.New("route changed during draft")
)

type CreateInput struct {
	Date     string  `json:"date"`
	DriverID *string `json:"driver_id,omitempty"`
	Name     string  `json:"name,omitempty"`
}

type MoveOptions struct {
	// ScopeDate limits removal to routes of the target's date.
	ScopeDate bool `json:"scope_date"`
}

type Store struct {
	kv       *kv.Store
	settings *kv.Settings
	bus      *events.Bus

	mu     sync.Mutex
	routes []models.Route
	revs   map[string]uint64

	newID func() string
	today func() string
}

func Open(ctx context.Context, store *kv.Store, settings *kv.Settings, bus *events.Bus) (*Store, error) {
	if bus == nil {
		bus = events.NewBus()
	}
	s := &Store{
		kv:       store,
		settings: settings,
		bus:      bus,
		revs:     map[string]uint64{},
		newID:    uuid.NewString,
		today:    func() string { return time.Now().Format(dateLayout) },
	}
	var stored []models.Route
	if _, err := store.Get(ctx, kv.KeyRoutes, &stored); err != nil {
		return nil, errors.Wrap(err, "load routes")
	}
	for i := range stored {
		stored[i].AWBs = normaliseAWBs(stored[i].AWBs)
	}
	s.routes = stored
	if err := validate(s.routes); err != nil {
		// старые данные могли нарушать инварианты: чиним, а не падаем
		slog.Warn("routes: repairing stored routes", "error", err.Error())
		s.routes = repair(s.routes)
	}
	return s, nil
}

// ListRoutes filters by date and driver (empty means any), newest date first.
func (s *Store) ListRoutes(date, driverID string) []models.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Route, 0, len(s.routes))
	for i := range s.routes {
		r := &s.routes[i]
		if date != "" && r.Date != date {
			continue
		}
		if driverID != "" && (r.DriverID == nil || *r.DriverID != driverID) {
			continue
		}
		out = append(out, *r.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) GetRoute(id string) (models.Route, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return *s.routes[i].Clone(), true
	}
	return models.Route{}, false
}

func (s *Store) CreateRoute(ctx context.Context, in CreateInput) (models.Route, error) {
	date := strings.TrimSpace(in.Date)
	if date == "" {
		date = s.today()
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return models.Route{}, apperr.New(apperr.KindValidation, "create route", "date must be YYYY-MM-DD")
	}
	r := models.Route{
		ID:       s.newID(),
		Date:     date,
		DriverID: trimmedPtr(in.DriverID),
		Name:     strings.TrimSpace(in.Name),
		AWBs:     []string{},
	}
	err := s.mutate(ctx, "create route", func(rs *[]models.Route) ([]string, error) {
		*rs = append(*rs, r)
		return []string{r.ID}, nil
	})
	if err != nil {
		return models.Route{}, err
	}
	return r, nil
}

// UpdateRoute patches scalar fields and never touches awbs.
func (s *Store) UpdateRoute(ctx context.Context, id string, p models.RoutePatch) (models.Route, error) {
	if p.Date != nil {
		if _, err := time.Parse(dateLayout, strings.TrimSpace(*p.Date)); err != nil {
			return models.Route{}, apperr.New(apperr.KindValidation, "update route", "date must be YYYY-MM-DD")
		}
	}
	var out models.Route
	err := s.mutate(ctx, "update route", func(rs *[]models.Route) ([]string, error) {
		i := index(*rs, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		r := &(*rs)[i]
		if p.Date != nil {
			r.Date = strings.TrimSpace(*p.Date)
		}
		if p.DriverID != nil {
			r.DriverID = trimmedPtr(p.DriverID)
		}
		if p.DriverName != nil {
			r.DriverName = strings.TrimSpace(*p.DriverName)
		}
		if p.HelperName != nil {
			r.HelperName = strings.TrimSpace(*p.HelperName)
		}
		if p.VehiclePlate != nil {
			r.VehiclePlate = strings.ToUpper(strings.TrimSpace(*p.VehiclePlate))
		}
		if p.County != nil {
			r.County = strings.TrimSpace(*p.County)
		}
		if p.Name != nil {
			r.Name = strings.TrimSpace(*p.Name)
		}
		out = *r.Clone()
		return []string{id}, nil
	})
	if err != nil {
		return models.Route{}, err
	}
	s.remember(ctx, out)
	return out, nil
}

// MoveAwbToRoute appends awb to the target and removes it from other routes
// (of the same date with ScopeDate, otherwise from all) in one write.
func (s *Store) MoveAwbToRoute(ctx context.Context, targetID, awb string, opts MoveOptions) (models.Route, error) {
	awb = models.NormaliseAWB(awb)
	if awb == "" {
		return models.Route{}, apperr.New(apperr.KindValidation, "move awb", "awb is required")
	}
	var out models.Route
	err := s.mutate(ctx, "move awb", func(rs *[]models.Route) ([]string, error) {
		ti := index(*rs, targetID)
		if ti < 0 {
			return nil, ErrNotFound
		}
		date := (*rs)[ti].Date
		changed := []string{targetID}
		for i := range *rs {
			r := &(*rs)[i]
			if i == ti || (opts.ScopeDate && r.Date != date) {
				continue
			}
			if r.HasAWB(awb) {
				r.AWBs = without(r.AWBs, awb)
				changed = append(changed, r.ID)
			}
		}
		t := &(*rs)[ti]
		if !t.HasAWB(awb) {
			t.AWBs = append(t.AWBs, awb)
		} else if len(changed) == 1 {
			changed = nil
		}
		out = *t.Clone()
		return changed, nil
	})
	if err != nil {
		return models.Route{}, err
	}
	return out, nil
}

func (s *Store) RemoveAwbFromRoute(ctx context.Context, id, awb string) (models.Route, error) {
	awb = models.NormaliseAWB(awb)
	var out models.Route
	err := s.mutate(ctx, "remove awb", func(rs *[]models.Route) ([]string, error) {
		i := index(*rs, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		r := &(*rs)[i]
		out = *r.Clone()
		if !r.HasAWB(awb) {
			return nil, nil
		}
		r.AWBs = without(r.AWBs, awb)
		out = *r.Clone()
		return []string{id}, nil
	})
	if err != nil {
		return models.Route{}, err
	}
	return out, nil
}

// SetRouteAwbOrder replaces the visit order. awbs must be a permutation of
// the current set; otherwise nothing changes and ErrInvalidOrder is returned.
func (s *Store) SetRouteAwbOrder(ctx context.Context, id string, awbs []string) (models.Route, error) {
	return s.setOrder(ctx, "set awb order", id, awbs, nil)
}

// setOrder with a non-nil rev applies the order only if the route is still at
// that revision; the check runs under the store lock.
func (s *Store) setOrder(ctx context.Context, op, id string, awbs []string, rev *uint64) (models.Route, error) {
	order, ok := normaliseOrder(awbs)
	var out models.Route
	err := s.mutate(ctx, op, func(rs *[]models.Route) ([]string, error) {
		i := index(*rs, id)
		if rev != nil && (i < 0 || s.revs[id] != *rev) {
			return nil, ErrDraftInvalidated
		}
		if i < 0 {
			return nil, ErrNotFound
		}
		r := &(*rs)[i]
		if !ok || !isPermutation(r.AWBs, order) {
			return nil, ErrInvalidOrder
		}
		r.AWBs = order
		out = *r.Clone()
		return []string{id}, nil
	})
	if err != nil {
		return models.Route{}, err
	}
	return out, nil
}

func (s *Store) DeleteRoute(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete route", func(rs *[]models.Route) ([]string, error) {
		i := index(*rs, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		*rs = append((*rs)[:i], (*rs)[i+1:]...)
		return []string{id}, nil
	})
}

// Subscribe delivers routes-changed events to fn.
func (s *Store) Subscribe(fn events.Handler) func() {
	return s.bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.RoutesChanged {
			fn(ev)
		}
	})
}

// mutate runs fn on a copy of all routes, validates, persists and swaps the
// copy in. fn returns the ids it changed; none means no write.
func (s *Store) mutate(ctx context.Context, op string, fn func(rs *[]models.Route) ([]string, error)) error {
	s.mu.Lock()
	next := make([]models.Route, len(s.routes))
	for i := range s.routes {
		next[i] = *s.routes[i].Clone()
	}
	changed, err := fn(&next)
	if err != nil {
		s.mu.Unlock()
		return classify(op, err)
	}
	if len(changed) == 0 {
		s.mu.Unlock()
		return nil
	}
	if err := validate(next); err != nil {
		s.mu.Unlock()
		return classify(op, err)
	}
	if err := s.kv.Set(ctx, kv.KeyRoutes, next); err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "persist routes")
	}
	s.routes = next
	for _, id := range changed {
		s.revs[id]++
	}
	s.mu.Unlock()

	s.bus.Publish(events.Event{Type: events.RoutesChanged, Payload: map[string]any{"ids": changed}})
	return nil
}

func (s *Store) remember(ctx context.Context, r models.Route) {
	if s.settings == nil {
		return
	}
	if r.VehiclePlate != "" {
		if err := s.settings.SetLastVehiclePlate(ctx, r.VehiclePlate); err != nil {
			slog.Warn("remember vehicle plate", "error", err.Error())
		}
	}
	if r.HelperName != "" {
		if err := s.settings.AddHelper(ctx, r.HelperName); err != nil {
			slog.Warn("remember helper", "error", err.Error())
		}
	}
}

func (s *Store) indexLocked(id string) int { return index(s.routes, id) }

func (s *Store) revision(id string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return 0, false
	}
	return s.revs[id], true
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return &apperr.Error{Kind: apperr.KindValidation, Op: op, Detail: err.Error(), Status: 404, Err: err}
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrDraftInvalidated), errors.Is(err, errExclusivity):
		return &apperr.Error{Kind: apperr.KindConflict, Op: op, Detail: err.Error(), Err: err}
	}
	return err
}
