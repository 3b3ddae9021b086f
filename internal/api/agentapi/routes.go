package agentapi

import (
	"net/http"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/BearBump/LastMile/internal/services/optimizer"
	"github.com/BearBump/LastMile/internal/services/routes"
	"github.com/go-chi/chi/v5"
)

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.d.Routes.ListRoutes(q.Get("date"), q.Get("driver_id")))
}

func (s *Server) getRoute(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.d.Routes.GetRoute(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": routes.ErrNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) createRoute(w http.ResponseWriter, r *http.Request) {
	var in routes.CreateInput
	if err := decode(r, &in); err != nil {
		badRequest(w, "invalid body")
		return
	}
	rt, err := s.d.Routes.CreateRoute(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (s *Server) updateRoute(w http.ResponseWriter, r *http.Request) {
	var p models.RoutePatch
	if err := decode(r, &p); err != nil {
		badRequest(w, "invalid body")
		return
	}
	rt, err := s.d.Routes.UpdateRoute(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) deleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Routes.DeleteRoute(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveRequest struct {
	AWB       string `json:"awb"`
	ScopeDate bool   `json:"scope_date"`
}

func (s *Server) moveAWB(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	rt, err := s.d.Routes.MoveAwbToRoute(r.Context(), chi.URLParam(r, "id"), req.AWB, routes.MoveOptions{ScopeDate: req.ScopeDate})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) removeAWB(w http.ResponseWriter, r *http.Request) {
	rt, err := s.d.Routes.RemoveAwbFromRoute(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "awb"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

type orderRequest struct {
	AWBs []string `json:"awbs"`
}

func (s *Server) setOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	rt, err := s.d.Routes.SetRouteAwbOrder(r.Context(), chi.URLParam(r, "id"), req.AWBs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) warmRoute(w http.ResponseWriter, r *http.Request) {
	rep, err := s.d.Syncer.WarmRoute(r.Context(), chi.URLParam(r, "id"), nil)
	if err != nil {
		writeError(w, routeErr("warm route", err))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type optimiseResponse struct {
	Route      models.Route           `json:"route"`
	Metrics    optimizer.RouteMetrics `json:"metrics"`
	Unresolved []string               `json:"unresolved"`
}

// optimiseRoute reorders the route as a nearest-neighbour round trip from the
// warehouse. Stops that could not be located keep their order at the end.
func (s *Server) optimiseRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	origin, ok, err := s.d.Settings.WarehouseOrigin(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		badRequest(w, "warehouse origin is not set")
		return
	}

	warm, err := s.d.Syncer.WarmRoute(ctx, id, nil)
	if err != nil {
		writeError(w, routeErr("optimise route", err))
		return
	}
	rt, _ := s.d.Routes.GetRoute(id)
	ordered, unresolved := optimizer.OrderAWBs(origin.Point(), rt.AWBs, warm.Points)

	next := make([]string, 0, len(rt.AWBs))
	for _, st := range ordered {
		next = append(next, st.AWB)
	}
	next = append(next, unresolved...)
	rt, err = s.d.Routes.SetRouteAwbOrder(ctx, id, next)
	if err != nil {
		writeError(w, err)
		return
	}

	pts := optimizer.RoundTrip(origin.Point(), ordered)
	res := s.route(r, pts)
	writeJSON(w, http.StatusOK, optimiseResponse{
		Route:      rt,
		Metrics:    optimizer.Metrics(res, pts),
		Unresolved: append([]string{}, unresolved...),
	})
}

func (s *Server) allocateRoute(w http.ResponseWriter, r *http.Request) {
	if s.d.Carrier == nil {
		writeError(w, apperr.New(apperr.KindOfflineOnly, "allocate route", "carrier API is not configured"))
		return
	}
	rep, err := s.d.Routes.AllocateRoute(r.Context(), chi.URLParam(r, "id"), s.d.Carrier)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"report": rep, "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func routeErr(op string, err error) error {
	if apperr.KindOf(err) == apperr.KindUnknown && isNotFound(err) {
		return &apperr.Error{Kind: apperr.KindValidation, Op: op, Detail: routes.ErrNotFound.Error(), Status: http.StatusNotFound, Err: err}
	}
	return err
}
