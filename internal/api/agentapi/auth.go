package agentapi

import (
	"net/http"

	"github.com/BearBump/LastMile/internal/services/session"
)

func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.d.Session.Valid() {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "not authenticated"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cur := s.d.Session.Current()
			if cur == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "not authenticated"})
				return
			}
			if !session.HasPermission(&cur.User, perm) {
				writeJSON(w, http.StatusForbidden, map[string]string{"detail": "missing permission " + perm})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if req.Username == "" {
		badRequest(w, "username is required")
		return
	}
	sess, err := s.d.Session.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	s.d.Syncer.Refresh()
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Session.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	cur := s.d.Session.Current()
	if cur == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "not authenticated"})
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

func (s *Server) refreshSession(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Session.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.currentSession(w, r)
}

func (s *Server) roles(w http.ResponseWriter, r *http.Request) {
	if s.d.Carrier != nil {
		if out, err := s.d.Carrier.Roles(r.Context()); err == nil && len(out) > 0 {
			writeJSON(w, http.StatusOK, out)
			return
		}
	}
	writeJSON(w, http.StatusOK, session.RoleInfos())
}
