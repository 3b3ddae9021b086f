package agentapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/services/queue"
	"github.com/BearBump/LastMile/internal/services/syncer"
	"github.com/pkg/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError uses the same {detail} envelope the carrier backend does.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		slog.Error("agent api", "status", status, "error", err.Error())
	}
	body := map[string]string{"detail": err.Error()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body["kind"] = ae.Kind.String()
		if ae.Detail != "" {
			body["detail"] = ae.Detail
		}
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"detail": detail, "kind": apperr.KindValidation.String()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrDrainInFlight), errors.Is(err, syncer.ErrWarmupInFlight):
		return http.StatusConflict
	case errors.Is(err, queue.ErrNoSession):
		return http.StatusUnauthorized
	}
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Status == http.StatusNotFound {
		return http.StatusNotFound
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindAuthExpired:
		return http.StatusUnauthorized
	case apperr.KindOfflineOnly:
		return http.StatusServiceUnavailable
	case apperr.KindStorageFull:
		return http.StatusInsufficientStorage
	case apperr.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
