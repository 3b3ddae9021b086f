package queue

import (
	"context"
	"log/slog"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/events"
	"github.com/BearBump/LastMile/internal/metrics"
	"github.com/BearBump/LastMile/internal/models"
)

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeFailed
	outcomeRetry
	outcomeRequeue
)

func (o outcome) String() string {
	switch o {
	case outcomeSynced:
		return "synced"
	case outcomeFailed:
		return "failed"
	case outcomeRetry:
		return "retry"
	default:
		return "requeued"
	}
}

// Drain delivers pending and failed entries one by one, oldest first. A second
// call while a drain is running returns ErrDrainInFlight without doing
// anything. The returned error is the reason the drain stopped early, if any;
// an AuthExpired error means the session must be purged.
func (s *Service) Drain(ctx context.Context, token string) (Report, error) {
	if !s.draining.CompareAndSwap(false, true) {
		metrics.DrainRuns.WithLabelValues("collapsed").Inc()
		return Report{}, ErrDrainInFlight
	}
	defer s.draining.Store(false)

	if token == "" {
		return Report{}, ErrNoSession
	}

	var (
		rep   Report
		cause error
	)
	for _, id := range s.deliverableIDs() {
		if err := ctx.Err(); err != nil {
			rep.Aborted, cause = true, err
			break
		}
		e, ok := s.transition(ctx, id, func(e *models.QueueEntry) bool {
			if !e.Deliverable() {
				return false
			}
			e.Status = models.QueueStatusSyncing
			return true
		})
		if !ok {
			rep.Skipped++
			continue
		}

		_, err := s.poster.PostUpdate(ctx, models.UpdateRequest{
			AWB:      e.AWB,
			EventID:  e.EventID,
			Notes:    e.Notes,
			ClientID: e.ID,
			ClientTS: e.Timestamp,
		})
		out, posted := classify(ctx, err)

		s.transition(ctx, id, func(e *models.QueueEntry) bool {
			if posted {
				e.Attempts++
			}
			switch out {
			case outcomeSynced:
				e.Status = models.QueueStatusSynced
				e.ErrorMessage = nil
			case outcomeFailed:
				msg := apperr.Detail(err)
				e.Status = models.QueueStatusFailed
				e.ErrorMessage = &msg
			case outcomeRetry:
				msg := RetryMessage
				e.Status = models.QueueStatusFailed
				e.ErrorMessage = &msg
			case outcomeRequeue:
				e.Status = models.QueueStatusPending
			}
			return true
		})
		metrics.QueueOutcomes.WithLabelValues(out.String()).Inc()

		switch out {
		case outcomeSynced:
			rep.Synced++
			continue
		case outcomeFailed:
			rep.Failed++
			slog.Warn("queue entry rejected", "id", id, "awb", e.AWB, "error", err.Error())
			continue
		case outcomeRetry:
			rep.Failed++
		}
		rep.Aborted = true
		if err != nil {
			cause = err
		} else {
			cause = ctx.Err()
		}
		break
	}

	result := "completed"
	if rep.Aborted {
		result = "aborted"
		slog.Info("queue drain aborted", "synced", rep.Synced, "failed", rep.Failed, "reason", errString(cause))
	}
	metrics.DrainRuns.WithLabelValues(result).Inc()
	s.bus.Publish(events.Event{Type: events.QueueDrained, Payload: map[string]any{
		"synced":  rep.Synced,
		"failed":  rep.Failed,
		"aborted": rep.Aborted,
	}})
	return rep, cause
}

// classify maps a post result to an entry outcome. posted is false when the
// request never left the device.
func classify(ctx context.Context, err error) (outcome, bool) {
	if err == nil {
		return outcomeSynced, true
	}
	if ctx.Err() != nil {
		return outcomeRequeue, true
	}
	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		// сервер уже применил этот client_id
		return outcomeSynced, true
	case apperr.KindValidation:
		return outcomeFailed, true
	case apperr.KindAuthExpired:
		return outcomeRequeue, true
	case apperr.KindOfflineOnly:
		return outcomeRequeue, false
	default:
		return outcomeRetry, true
	}
}

func (s *Service) deliverableIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Deliverable() {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// transition applies fn to entry id and persists. A persist failure is logged:
// the server side stays correct thanks to client_id.
func (s *Service) transition(ctx context.Context, id string, fn func(e *models.QueueEntry) bool) (models.QueueEntry, bool) {
	s.mu.Lock()
	idx := -1
	for i := range s.entries {
		if s.entries[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 || !fn(&s.entries[idx]) {
		s.mu.Unlock()
		return models.QueueEntry{}, false
	}
	e := s.entries[idx]
	// запись на диск не зависит от отмены дренажа
	if err := s.persistLocked(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("queue persist", "id", id, "status", string(e.Status), "error", err.Error())
	}
	s.mu.Unlock()

	s.changed(id)
	return e, true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
