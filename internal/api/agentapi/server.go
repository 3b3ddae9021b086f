// Package agentapi is the loopback JSON API the UI talks to.
package agentapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/LastMile/internal/geocache"
	"github.com/BearBump/LastMile/internal/integrations/carrierapi"
	"github.com/BearBump/LastMile/internal/integrations/routing"
	"github.com/BearBump/LastMile/internal/kv"
	"github.com/BearBump/LastMile/internal/services/queue"
	"github.com/BearBump/LastMile/internal/services/routes"
	"github.com/BearBump/LastMile/internal/services/session"
	"github.com/BearBump/LastMile/internal/services/syncer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

//go:embed swagger.json
var swaggerDoc []byte

type Deps struct {
	Session  *session.Manager
	Queue    *queue.Service
	Routes   *routes.Store
	Syncer   *syncer.Syncer
	Resolver *routing.Resolver
	Router   routing.Router
	Cache    *geocache.Cache
	Settings *kv.Settings
	Carrier  *carrierapi.Client

	// SwaggerPath overrides the embedded swagger.json.
	SwaggerPath string
}

type Server struct {
	d Deps
}

func New(d Deps) *Server {
	return &Server{d: d}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stats", s.stats)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		if s.d.SwaggerPath != "" {
			http.ServeFile(w, r, s.d.SwaggerPath)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(swaggerDoc)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))

	r.Get("/status-options", s.statusOptions)
	r.Get("/roles", s.roles)

	r.Route("/session", func(r chi.Router) {
		r.Post("/login", s.login)
		r.Post("/logout", s.logout)
		r.Get("/", s.currentSession)
		r.Post("/refresh", s.refreshSession)
	})

	r.Route("/queue", func(r chi.Router) {
		r.Use(s.authenticated)
		r.Get("/", s.listQueue)
		r.With(s.require(session.PermAWBUpdate)).Post("/", s.enqueue)
		r.With(s.require(session.PermAWBUpdate)).Delete("/", s.clearQueue)
		r.Post("/drain", s.drain)
	})

	r.Route("/routes", func(r chi.Router) {
		r.Use(s.require(session.PermShipmentsRead))
		r.Get("/", s.listRoutes)
		r.Get("/{id}", s.getRoute)
		r.Post("/{id}/warm", s.warmRoute)

		r.Group(func(r chi.Router) {
			r.Use(s.require(session.PermShipmentsAssign))
			r.Post("/", s.createRoute)
			r.Patch("/{id}", s.updateRoute)
			r.Delete("/{id}", s.deleteRoute)
			r.Post("/{id}/awbs", s.moveAWB)
			r.Delete("/{id}/awbs/{awb}", s.removeAWB)
			r.Put("/{id}/order", s.setOrder)
			r.Post("/{id}/optimise", s.optimiseRoute)
			r.Post("/{id}/allocate", s.allocateRoute)
		})
	})

	r.Route("/sync", func(r chi.Router) {
		r.Post("/online", func(w http.ResponseWriter, r *http.Request) {
			s.d.Syncer.Online()
			writeJSON(w, http.StatusAccepted, s.d.Syncer.Stats())
		})
		r.Post("/offline", func(w http.ResponseWriter, r *http.Request) {
			s.d.Syncer.Offline()
			writeJSON(w, http.StatusAccepted, s.d.Syncer.Stats())
		})
		r.Post("/foreground", func(w http.ResponseWriter, r *http.Request) {
			s.d.Syncer.Foreground()
			writeJSON(w, http.StatusAccepted, s.d.Syncer.Stats())
		})
	})

	r.Get("/geocode", s.geocode)

	r.Route("/settings", func(r chi.Router) {
		r.Get("/origin", s.getOrigin)
		r.With(s.require(session.PermShipmentsAssign)).Put("/origin", s.setOrigin)
		r.Get("/api-base-url", s.getBaseURL)
		r.Put("/api-base-url", s.setBaseURL)
	})

	return r
}

// Serve runs the API on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("agent API listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"syncer": s.d.Syncer.Stats(),
		"queue":  s.d.Queue.Stats(),
	}
	if s.d.Cache != nil {
		out["geocode_cache"] = s.d.Cache.Len()
	}
	if s.d.Carrier != nil {
		out["snapshot_mode"] = s.d.Carrier.SnapshotMode(r.Context())
	}
	writeJSON(w, http.StatusOK, out)
}

func decode(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
