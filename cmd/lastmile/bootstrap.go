package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BearBump/LastMile/config"
	"github.com/BearBump/LastMile/internal/broker/kafka"
	"github.com/BearBump/LastMile/internal/events"
	"github.com/BearBump/LastMile/internal/geocache"
	"github.com/BearBump/LastMile/internal/integrations/carrierapi"
	"github.com/BearBump/LastMile/internal/integrations/routing"
	"github.com/BearBump/LastMile/internal/integrations/routing/fake"
	"github.com/BearBump/LastMile/internal/integrations/routing/nominatim"
	"github.com/BearBump/LastMile/internal/integrations/routing/osrm"
	"github.com/BearBump/LastMile/internal/kv"
	"github.com/BearBump/LastMile/internal/kv/badgerkv"
	"github.com/BearBump/LastMile/internal/kv/memkv"
	"github.com/BearBump/LastMile/internal/kv/pgkv"
	"github.com/BearBump/LastMile/internal/kv/rediskv"
	"github.com/BearBump/LastMile/internal/ratelimit"
	"github.com/BearBump/LastMile/internal/services/queue"
	"github.com/BearBump/LastMile/internal/services/routes"
	"github.com/BearBump/LastMile/internal/services/session"
	"github.com/BearBump/LastMile/internal/services/syncer"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

const (
	defaultHTTPAddr = "127.0.0.1:7070"
	defaultDeviceID = "agent"
	defaultBackend  = "badger"
	defaultBadger   = "./data/lastmile"
)

type factories struct {
	newSubstrate func(cfg *config.Config) (kv.Substrate, error)
	newLimiter   func(cfg *config.Config) (ratelimit.Limiter, func())
	newProviders func(cfg *config.Config, lim ratelimit.Limiter) (routing.Geocoder, routing.Router)
	newPublisher func(cfg *config.Config) kafka.Publisher
}

func defaultFactories() factories {
	return factories{
		newSubstrate: openSubstrate,
		newLimiter: func(cfg *config.Config) (ratelimit.Limiter, func()) {
			if cfg.Routing.SharedLimiter && cfg.Redis.Host != "" {
				// один бюджет на всё депо: окно в секунду
				rl := ratelimit.NewRedisWindow(cfg.Redis.Addr(), "lastmile:ratelimit:geocode",
					int64(max(1, int(cfg.Routing.RatePerSecond))), time.Second)
				return rl, func() { _ = rl.Close() }
			}
			return ratelimit.NewTokenBucket(cfg.Routing.RatePerSecond, 1), func() {}
		},
		newProviders: func(cfg *config.Config, lim ratelimit.Limiter) (routing.Geocoder, routing.Router) {
			if cfg.Routing.Provider == "fake" {
				p := fake.New()
				return p, p
			}
			return nominatim.New(cfg.Routing.NominatimURL, cfg.Routing.UserAgent, lim),
				osrm.New(cfg.Routing.OSRMURL, lim)
		},
		newPublisher: func(cfg *config.Config) kafka.Publisher {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
	}
}

func applyDefaults(cfg *config.Config) {
	if cfg.Agent.HTTPAddr == "" {
		cfg.Agent.HTTPAddr = defaultHTTPAddr
	}
	if cfg.Agent.DeviceID == "" {
		cfg.Agent.DeviceID = defaultDeviceID
		if h, err := os.Hostname(); err == nil && h != "" {
			cfg.Agent.DeviceID = h
		}
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaultBackend
	}
	if cfg.Storage.BadgerPath == "" {
		cfg.Storage.BadgerPath = defaultBadger
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = "lastmile:" + cfg.Agent.DeviceID
	}
	if cfg.Kafka.EventsTopic == "" {
		cfg.Kafka.EventsTopic = kafka.DefaultEventsTopic
	}
	if cfg.Carrier.TimeoutSeconds <= 0 {
		cfg.Carrier.TimeoutSeconds = 30
	}
	if cfg.Routing.RatePerSecond <= 0 {
		cfg.Routing.RatePerSecond = 1
	}
	if cfg.Geocode.CacheCap <= 0 {
		cfg.Geocode.CacheCap = geocache.DefaultCap
	}
	if cfg.Geocode.BatchSize <= 0 {
		cfg.Geocode.BatchSize = syncer.DefaultBatchSize
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openSubstrate(cfg *config.Config) (kv.Substrate, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memkv.New(), nil
	case "badger":
		bc := badgerkv.DefaultConfig(cfg.Storage.BadgerPath)
		bc.Logger = slog.Default()
		return badgerkv.Open(bc)
	case "redis":
		return rediskv.New(cfg.Redis.Addr(), cfg.Storage.KeyPrefix), nil
	case "postgres":
		return openPostgresWithRetry(cfg.Database.ConnString(), cfg.Agent.DeviceID, 60*time.Second)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func openPostgresWithRetry(connString, device string, wait time.Duration) (*pgkv.Storage, error) {
	var st *pgkv.Storage
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = wait
	err := backoff.RetryNotify(func() error {
		var err error
		st, err = pgkv.New(connString, device)
		return err
	}, b, func(err error, next time.Duration) {
		slog.Warn("postgres is not ready", "retry_in", next.String(), "error", err.Error())
	})
	if err != nil {
		return nil, errors.Wrapf(err, "postgres is not ready after %s", wait)
	}
	return st, nil
}

type app struct {
	cfg *config.Config

	store    *kv.Store
	settings *kv.Settings
	bus      *events.Bus

	carrier  *carrierapi.Client
	session  *session.Manager
	queue    *queue.Service
	routes   *routes.Store
	cache    *geocache.Cache
	resolver *routing.Resolver
	router   routing.Router
	syncer   *syncer.Syncer

	closers []func()
}

func bootstrap(ctx context.Context, cfg *config.Config, f factories) (*app, error) {
	applyDefaults(cfg)

	sub, err := f.newSubstrate(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open storage")
	}
	a := &app{cfg: cfg, bus: events.NewBus()}
	a.closers = append(a.closers, func() { _ = sub.Close() })
	a.store = kv.New(sub)
	a.settings = kv.NewSettings(a.store)

	a.carrier, err = carrierapi.New(a.settings, carrierapi.Options{
		BaseURL:      cfg.Carrier.BaseURL,
		SnapshotPath: cfg.Carrier.SnapshotPath,
		Timeout:      time.Duration(cfg.Carrier.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "carrier client")
	}

	a.session = session.NewManager(a.settings, a.carrier, a.bus)
	if err := a.session.Boot(ctx); err != nil {
		slog.Warn("session boot", "error", err.Error())
	}

	if a.queue, err = queue.Open(ctx, a.store, a.carrier, a.bus); err != nil {
		a.Close()
		return nil, errors.Wrap(err, "open queue")
	}
	if a.routes, err = routes.Open(ctx, a.store, a.settings, a.bus); err != nil {
		a.Close()
		return nil, errors.Wrap(err, "open routes")
	}

	a.cache = geocache.New(a.store, cfg.Geocode.CacheCap)
	if err := a.cache.Load(ctx); err != nil {
		slog.Warn("geocode cache load", "error", err.Error())
	}
	lim, closeLim := f.newLimiter(cfg)
	a.closers = append(a.closers, closeLim)
	geocoder, router := f.newProviders(cfg, lim)
	a.resolver = routing.NewResolver(a.cache, geocoder)
	a.router = router

	warmer := syncer.NewWarmer(a.routes, a.carrier, a.resolver, a.bus, cfg.Geocode.BatchSize)
	a.syncer = syncer.New(a.queue, a.session, warmer)
	if cfg.Agent.DrainIntervalSeconds > 0 {
		pc := syncer.DefaultPlannerConfig()
		pc.Interval = time.Duration(cfg.Agent.DrainIntervalSeconds) * time.Second
		a.syncer.WithPeriodic(pc)
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
