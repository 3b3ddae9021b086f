// Package syncer reacts to connectivity and lifecycle triggers: it drains the
// update queue when a session exists and pre-warms the geocode cache for the
// route on screen. At most one drain and one warmup run at a time; extra
// triggers collapse.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/services/queue"
	"github.com/pkg/errors"
)

type Drainer interface {
	Drain(ctx context.Context, token string) (queue.Report, error)
}

type Session interface {
	Token() string
	Purge(ctx context.Context) error
}

type Reason string

const (
	ReasonOnline     Reason = "online"
	ReasonForeground Reason = "foreground"
	ReasonRefresh    Reason = "refresh"
	ReasonPeriodic   Reason = "periodic"
)

type Syncer struct {
	queue   Drainer
	session Session
	warm    *Warmer

	planner  *Planner
	periodic bool

	triggerCh chan Reason
	online    atomic.Bool
	failures  atomic.Int32

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalDrains         atomic.Int64
	totalSynced         atomic.Int64
	totalFailed         atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(q Drainer, s Session, w *Warmer) *Syncer {
	sy := &Syncer{
		queue:             q,
		session:           s,
		warm:              w,
		planner:           NewPlanner(DefaultPlannerConfig(), nil),
		triggerCh:         make(chan Reason, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
	sy.online.Store(true)
	return sy
}

// WithPeriodic enables a background drain every interval (with backoff after
// transient failures).
func (s *Syncer) WithPeriodic(cfg PlannerConfig) *Syncer {
	s.planner = NewPlanner(cfg, nil)
	s.periodic = true
	return s
}

func (s *Syncer) WithPlanner(p *Planner) *Syncer {
	s.planner = p
	return s
}

// Online records an offline→online transition. It triggers a drain only when
// the device was offline.
func (s *Syncer) Online() {
	if s.online.CompareAndSwap(false, true) {
		s.Trigger(ReasonOnline)
	}
}

func (s *Syncer) Offline() {
	s.online.Store(false)
}

func (s *Syncer) IsOnline() bool { return s.online.Load() }

func (s *Syncer) Foreground() { s.Trigger(ReasonForeground) }

func (s *Syncer) Refresh() { s.Trigger(ReasonRefresh) }

// Trigger asks for a drain (best-effort, non-blocking; pending triggers collapse).
func (s *Syncer) Trigger(r Reason) {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- r:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	Online        bool       `json:"online"`
	TotalDrains   int64      `json:"totalDrains"`
	TotalSynced   int64      `json:"totalSynced"`
	TotalFailed   int64      `json:"totalFailed"`
	TotalErrors   int64      `json:"totalErrors"`
	Failures      int32      `json:"consecutiveFailures"`
	Warming       bool       `json:"warming"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Syncer) Stats() Stats {
	st := Stats{
		StartedAt:   time.Unix(0, s.startedAtUnixNano).UTC(),
		Online:      s.online.Load(),
		TotalDrains: s.totalDrains.Load(),
		TotalSynced: s.totalSynced.Load(),
		TotalFailed: s.totalFailed.Load(),
		TotalErrors: s.totalErrors.Load(),
		Failures:    s.failures.Load(),
	}
	if s.warm != nil {
		st.Warming = s.warm.InFlight()
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Syncer) Run(ctx context.Context) error {
	var timer *time.Timer
	var tick <-chan time.Time
	if s.periodic {
		timer = time.NewTimer(s.planner.NextDelay(0))
		defer timer.Stop()
		tick = timer.C
	}

	for {
		var reason Reason
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			reason = ReasonPeriodic
		case reason = <-s.triggerCh:
		}
		s.RunOnce(ctx, reason)
		if timer != nil {
			timer.Reset(s.planner.NextDelay(int(s.failures.Load())))
		}
	}
}

// RunOnce drains the queue if a session exists. Exposed for the CLI.
func (s *Syncer) RunOnce(ctx context.Context, reason Reason) (queue.Report, error) {
	s.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())

	if reason == ReasonPeriodic && !s.online.Load() {
		return queue.Report{}, nil
	}
	tok := s.session.Token()
	if tok == "" {
		return queue.Report{}, nil
	}

	rep, err := s.queue.Drain(ctx, tok)
	if errors.Is(err, queue.ErrDrainInFlight) {
		return rep, nil
	}
	s.totalDrains.Add(1)
	s.totalSynced.Add(int64(rep.Synced))
	s.totalFailed.Add(int64(rep.Failed))

	switch {
	case err == nil:
		s.failures.Store(0)
	case apperr.Is(err, apperr.KindAuthExpired):
		slog.Warn("drain: session expired, purging", "reason", string(reason))
		if perr := s.session.Purge(ctx); perr != nil {
			slog.Error("purge session", "error", perr.Error())
		}
		s.recordError(err)
	case apperr.Is(err, apperr.KindOfflineOnly), ctx.Err() != nil:
		// бэкенда нет или нас остановили: не ошибка и не повод для backoff
	default:
		s.failures.Add(1)
		s.recordError(err)
		slog.Error("drain", "reason", string(reason), "synced", rep.Synced, "failed", rep.Failed, "error", err.Error())
	}
	return rep, err
}

func (s *Syncer) recordError(err error) {
	s.totalErrors.Add(1)
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

// WarmRoute pre-geocodes the route's stops. See Warmer.WarmRoute.
func (s *Syncer) WarmRoute(ctx context.Context, routeID string, progress Progress) (WarmReport, error) {
	if s.warm == nil {
		return WarmReport{}, errors.New("warmup is not configured")
	}
	return s.warm.WarmRoute(ctx, routeID, progress)
}
