package agentapi

import (
	"net/http"

	"github.com/BearBump/LastMile/internal/models"
	"github.com/BearBump/LastMile/internal/services/queue"
	"github.com/BearBump/LastMile/internal/services/syncer"
)

func (s *Server) statusOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.StatusOptions)
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":  s.d.Queue.List(),
		"stats":    s.d.Queue.Stats(),
		"draining": s.d.Queue.Draining(),
	})
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var in queue.EnqueueInput
	if err := decode(r, &in); err != nil {
		badRequest(w, "invalid body")
		return
	}
	e, err := s.d.Queue.Enqueue(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	s.d.Syncer.Trigger(syncer.ReasonRefresh)
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) clearQueue(w http.ResponseWriter, r *http.Request) {
	n, err := s.d.Queue.Clear(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) drain(w http.ResponseWriter, r *http.Request) {
	if s.d.Queue.Draining() {
		writeError(w, queue.ErrDrainInFlight)
		return
	}
	rep, err := s.d.Syncer.RunOnce(r.Context(), syncer.ReasonRefresh)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"report": rep, "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
