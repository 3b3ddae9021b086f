package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/BearBump/LastMile/internal/api/agentapi"
	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/broker/kafka"
	"golang.org/x/sync/errgroup"
)

type serveOpts struct {
	swaggerPath string
	onReady     func()
}

func runServe(ctx context.Context, a *app, lis net.Listener, pub kafka.Publisher, opts serveOpts) error {
	api := agentapi.New(agentapi.Deps{
		Session:     a.session,
		Queue:       a.queue,
		Routes:      a.routes,
		Syncer:      a.syncer,
		Resolver:    a.resolver,
		Router:      a.router,
		Cache:       a.cache,
		Settings:    a.settings,
		Carrier:     a.carrier,
		SwaggerPath: opts.swaggerPath,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Serve(gctx, lis) })
	g.Go(func() error { return a.syncer.Run(gctx) })

	if pub != nil {
		fw := kafka.NewForwarder(pub, a.cfg.Kafka.EventsTopic, a.cfg.Agent.DeviceID, 0)
		unsub := fw.Attach(a.bus)
		defer unsub()
		g.Go(func() error { return fw.Run(gctx) })
		slog.Info("forwarding events", "topic", a.cfg.Kafka.EventsTopic, "device_id", a.cfg.Agent.DeviceID)
	}

	// старт: определяем бэкенд, освежаем пользователя и сразу пробуем отправить очередь
	g.Go(func() error {
		if a.carrier.Detect(gctx) {
			slog.Info("carrier api: snapshot mode")
		}
		if err := a.session.Refresh(gctx); err != nil && !apperr.Is(err, apperr.KindOfflineOnly) {
			slog.Warn("session refresh", "error", err.Error())
		}
		a.syncer.Foreground()
		if opts.onReady != nil {
			opts.onReady()
		}
		return nil
	})

	return g.Wait()
}
