package routes

import (
	"context"
	"sync"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/pkg/errors"
)

// Draft is an in-memory reordering of one route (drag in progress). Only
// Commit touches the store; any mutation of the route after BeginDraft makes
// the commit fail with ErrDraftInvalidated.
type Draft struct {
	s       *Store
	routeID string
	rev     uint64

	mu    sync.Mutex
	base  []string
	order []string
	done  bool
}

func (s *Store) BeginDraft(id string) (*Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return nil, classify("begin draft", ErrNotFound)
	}
	awbs := append([]string{}, s.routes[i].AWBs...)
	return &Draft{
		s:       s,
		routeID: id,
		rev:     s.revs[id],
		base:    awbs,
		order:   append([]string{}, awbs...),
	}, nil
}

func (d *Draft) RouteID() string { return d.routeID }

// Order returns the current preview order.
func (d *Draft) Order() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.order...)
}

// Move drags the stop at from to position to and returns the preview.
func (d *Draft) Move(from, to int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if from < 0 || from >= len(d.order) || to < 0 || to >= len(d.order) {
		return nil, apperr.New(apperr.KindValidation, "draft move", "index out of range")
	}
	a := d.order[from]
	rest := append(append([]string{}, d.order[:from]...), d.order[from+1:]...)
	next := append(append(append([]string{}, rest[:to]...), a), rest[to:]...)
	d.order = next
	return append([]string{}, next...), nil
}

// Preview replaces the preview order; it must be a permutation of the route
// as it was when the draft began.
func (d *Draft) Preview(awbs []string) ([]string, error) {
	order, ok := normaliseOrder(awbs)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !ok || !isPermutation(d.base, order) {
		return nil, classify("draft preview", ErrInvalidOrder)
	}
	d.order = order
	return append([]string{}, order...), nil
}

// Stale reports whether the route changed since the draft began.
func (d *Draft) Stale() bool {
	rev, ok := d.s.revision(d.routeID)
	return !ok || rev != d.rev
}

func (d *Draft) Commit(ctx context.Context) error {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return errors.New("draft already finished")
	}
	d.done = true
	order := append([]string{}, d.order...)
	d.mu.Unlock()

	rev := d.rev
	_, err := d.s.setOrder(ctx, "commit draft", d.routeID, order, &rev)
	return err
}

func (d *Draft) Abort() {
	d.mu.Lock()
	d.done = true
	d.mu.Unlock()
}
