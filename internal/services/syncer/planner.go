package syncer

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	Interval time.Duration // default: 60 seconds, periodic drain while healthy

	Backoff1 time.Duration // default: 5 seconds
	Backoff2 time.Duration // default: 15 seconds
	Backoff3 time.Duration // default: 30 seconds
	Backoff4 time.Duration // default: 2 minutes

	// Jitter is the max random addition to a backoff delay.
	Jitter time.Duration // default: 2 seconds
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Interval: 60 * time.Second,
		Backoff1: 5 * time.Second,
		Backoff2: 15 * time.Second,
		Backoff3: 30 * time.Second,
		Backoff4: 2 * time.Minute,
		Jitter:   2 * time.Second,
	}
}

// Planner decides when the next periodic drain runs.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// NextDelay returns the regular interval after a clean drain and a growing
// backoff (with jitter) after consecutive transient failures.
func (p *Planner) NextDelay(failures int) time.Duration {
	if failures <= 0 {
		return p.cfg.Interval
	}
	return p.BackoffDelay(failures) + p.jitter()
}

func (p *Planner) BackoffDelay(failures int) time.Duration {
	switch {
	case failures <= 1:
		return p.cfg.Backoff1
	case failures == 2:
		return p.cfg.Backoff2
	case failures == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}

func (p *Planner) jitter() time.Duration {
	ms := int(p.cfg.Jitter / time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return time.Duration(p.r.Intn(ms+1)) * time.Millisecond
}
