// Package queue is the device-local offline update queue. Every entry is
// persisted before Enqueue returns and delivered by Drain one at a time in
// chronological order; the entry id is sent as client_id so a retried post
// never produces a second server-side effect.
package queue

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/events"
	"github.com/BearBump/LastMile/internal/integrations/carrierapi"
	"github.com/BearBump/LastMile/internal/kv"
	"github.com/BearBump/LastMile/internal/metrics"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrDrainInFlight = errors.New("drain already in flight")
	ErrNoSession     = errors.New("no session token")
)

// RetryMessage marks entries that failed on a transient error.
const RetryMessage = "retry"

type Poster interface {
	PostUpdate(ctx context.Context, req models.UpdateRequest) (*carrierapi.UpdateResponse, error)
}

type EnqueueInput struct {
	AWB     string `json:"awb"`
	EventID string `json:"event_id"`
	Label   string `json:"label,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

type Report struct {
	Synced  int  `json:"synced"`
	Failed  int  `json:"failed"`
	Skipped int  `json:"skipped"`
	Aborted bool `json:"aborted"`
}

type Service struct {
	store  *kv.Store
	poster Poster
	bus    *events.Bus

	mu      sync.Mutex
	entries []models.QueueEntry // по возрастанию timestamp

	draining atomic.Bool
	now      func() time.Time
	newID    func() string
}

// Open loads the persisted queue and demotes entries stranded in syncing.
func Open(ctx context.Context, store *kv.Store, poster Poster, bus *events.Bus) (*Service, error) {
	if bus == nil {
		bus = events.NewBus()
	}
	s := &Service{
		store:  store,
		poster: poster,
		bus:    bus,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  newID,
	}
	var stored []models.QueueEntry
	if _, err := store.Get(ctx, kv.KeyQueue, &stored); err != nil {
		return nil, errors.Wrap(err, "load queue")
	}
	sort.SliceStable(stored, func(i, j int) bool { return before(stored[i], stored[j]) })
	s.entries = stored

	if _, err := s.Recover(ctx); err != nil {
		slog.Warn("queue recover", "error", err.Error())
	}
	s.updateGauges()
	return s, nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func before(a, b models.QueueEntry) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.ID < b.ID
	}
	return a.Timestamp.Before(b.Timestamp)
}

// Enqueue validates and persists a new pending entry.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (models.QueueEntry, error) {
	awb := models.NormaliseAWB(in.AWB)
	if awb == "" {
		return models.QueueEntry{}, apperr.New(apperr.KindValidation, "enqueue", "awb is required")
	}
	eventID := strings.ToUpper(strings.TrimSpace(in.EventID))
	if eventID == "" {
		return models.QueueEntry{}, apperr.New(apperr.KindValidation, "enqueue", "event_id is required")
	}
	label := strings.TrimSpace(in.Label)
	notes := strings.TrimSpace(in.Notes)
	if opt, ok := models.FindStatusOption(eventID); ok {
		if label == "" {
			label = opt.Label
		}
		if !opt.FailureLike() {
			notes = ""
		} else if notes == "" {
			return models.QueueEntry{}, apperr.New(apperr.KindValidation, "enqueue", "reason is required for "+eventID)
		}
	}
	if label == "" {
		label = eventID
	}

	s.mu.Lock()
	ts := s.now()
	if n := len(s.entries); n > 0 && ts.Before(s.entries[n-1].Timestamp) {
		ts = s.entries[n-1].Timestamp
	}
	e := models.QueueEntry{
		ID:        s.newID(),
		AWB:       awb,
		EventID:   eventID,
		Label:     label,
		Notes:     notes,
		Timestamp: ts,
		Status:    models.QueueStatusPending,
	}
	s.entries = append(s.entries, e)
	if err := s.persistLocked(ctx); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		s.mu.Unlock()
		return models.QueueEntry{}, err
	}
	s.mu.Unlock()

	s.changed(e.ID)
	return e, nil
}

// List returns all entries, newest first.
func (s *Service) List() []models.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QueueEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// Clear drops synced and failed entries and returns how many were removed.
func (s *Service) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	prev := s.entries
	kept := make([]models.QueueEntry, 0, len(prev))
	for _, e := range prev {
		if e.Status == models.QueueStatusSynced || e.Status == models.QueueStatusFailed {
			continue
		}
		kept = append(kept, e)
	}
	removed := len(prev) - len(kept)
	if removed == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	s.entries = kept
	if err := s.persistLocked(ctx); err != nil {
		s.entries = prev
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()

	s.changed("")
	return removed, nil
}

// Recover demotes syncing entries to pending. Safe because the server
// deduplicates by client_id.
func (s *Service) Recover(ctx context.Context) (int, error) {
	s.mu.Lock()
	n := 0
	for i := range s.entries {
		if s.entries[i].Status == models.QueueStatusSyncing {
			s.entries[i].Status = models.QueueStatusPending
			n++
		}
	}
	if n == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	slog.Info("queue recovered stranded entries", "count", n)
	s.changed("")
	return n, err
}

func (s *Service) Stats() map[models.QueueStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Service) statsLocked() map[models.QueueStatus]int {
	out := map[models.QueueStatus]int{
		models.QueueStatusPending: 0,
		models.QueueStatusSyncing: 0,
		models.QueueStatusSynced:  0,
		models.QueueStatusFailed:  0,
	}
	for _, e := range s.entries {
		out[e.Status]++
	}
	return out
}

// Draining reports whether a drain is in flight.
func (s *Service) Draining() bool { return s.draining.Load() }

// Subscribe delivers queue-changed and queue-drained events to fn.
func (s *Service) Subscribe(fn events.Handler) func() {
	return s.bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.QueueChanged || ev.Type == events.QueueDrained {
			fn(ev)
		}
	})
}

func (s *Service) persistLocked(ctx context.Context) error {
	out := make([]models.QueueEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		out = append(out, s.entries[i])
	}
	if err := s.store.Set(ctx, kv.KeyQueue, out); err != nil {
		return errors.Wrap(err, "persist queue")
	}
	return nil
}

func (s *Service) updateGauges() {
	for st, n := range s.Stats() {
		metrics.QueueDepth.WithLabelValues(string(st)).Set(float64(n))
	}
}

func (s *Service) changed(id string) {
	s.updateGauges()
	payload := map[string]any{}
	if id != "" {
		payload["id"] = id
	}
	s.bus.Publish(events.Event{Type: events.QueueChanged, Payload: payload})
}
