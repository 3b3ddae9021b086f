package agentapi

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/BearBump/LastMile/internal/integrations/routing"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/BearBump/LastMile/internal/services/routes"
	"github.com/pkg/errors"
)

func isNotFound(err error) bool {
	return errors.Is(err, routes.ErrNotFound)
}

// route asks the router for road metrics; nil means "use haversine".
func (s *Server) route(r *http.Request, pts []models.GeoPoint) *routing.RouteResult {
	if s.d.Router == nil || len(pts) < 2 {
		return nil
	}
	res, err := s.d.Router.Route(r.Context(), pts)
	if err != nil {
		slog.Warn("route metrics: router unavailable, falling back to haversine", "error", err.Error())
		return nil
	}
	return res
}

func (s *Server) geocode(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		badRequest(w, "q is required")
		return
	}
	p, src, err := s.d.Resolver.Resolve(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "point": p, "source": src})
}

func (s *Server) getOrigin(w http.ResponseWriter, r *http.Request) {
	o, ok, err := s.d.Settings.WarehouseOrigin(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "warehouse origin is not set"})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) setOrigin(w http.ResponseWriter, r *http.Request) {
	var o models.Origin
	if err := decode(r, &o); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if o.Lat < -90 || o.Lat > 90 || o.Lon < -180 || o.Lon > 180 {
		badRequest(w, "coordinates out of range")
		return
	}
	if err := s.d.Settings.SetWarehouseOrigin(r.Context(), o); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type baseURLBody struct {
	BaseURL string `json:"base_url"`
}

func (s *Server) getBaseURL(w http.ResponseWriter, r *http.Request) {
	if s.d.Carrier == nil {
		writeJSON(w, http.StatusOK, baseURLBody{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"base_url":      s.d.Carrier.BaseURL(r.Context()),
		"snapshot_mode": s.d.Carrier.SnapshotMode(r.Context()),
	})
}

func (s *Server) setBaseURL(w http.ResponseWriter, r *http.Request) {
	var b baseURLBody
	if err := decode(r, &b); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if s.d.Carrier == nil {
		badRequest(w, "carrier API is not configured")
		return
	}
	next := strings.TrimSpace(b.BaseURL)
	prev := s.d.Carrier.BaseURL(r.Context())
	if strings.TrimRight(prev, "/") != strings.TrimRight(next, "/") {
		// токен выдан старым хостом, новому его не отправляем
		if err := s.d.Session.Purge(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		slog.Info("api base url changed, session dropped", "from", prev, "to", next)
	}
	if err := s.d.Carrier.SetBaseURL(r.Context(), next); err != nil {
		writeError(w, err)
		return
	}
	s.d.Carrier.Detect(r.Context())
	s.getBaseURL(w, r)
}
