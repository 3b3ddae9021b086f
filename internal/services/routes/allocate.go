package routes

import (
	"context"
	"log/slog"

	"github.com/BearBump/LastMile/internal/apperr"
)

type Allocator interface {
	AllocateShipment(ctx context.Context, awb, driverID string) error
}

type AllocationReport struct {
	Allocated []string          `json:"allocated"`
	Failed    map[string]string `json:"failed,omitempty"`
	// Offline: no backend, the assignment exists only locally.
	Offline bool `json:"offline"`
}

// AllocateRoute assigns every AWB of the route to its driver on the server.
// This is the only way routes reach the server.
func (s *Store) AllocateRoute(ctx context.Context, id string, a Allocator) (AllocationReport, error) {
	r, ok := s.GetRoute(id)
	if !ok {
		return AllocationReport{}, classify("allocate route", ErrNotFound)
	}
	if r.DriverID == nil {
		return AllocationReport{}, apperr.New(apperr.KindValidation, "allocate route", "route has no driver")
	}
	rep := AllocationReport{Allocated: []string{}, Failed: map[string]string{}}
	for _, awb := range r.AWBs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		err := a.AllocateShipment(ctx, awb, *r.DriverID)
		switch apperr.KindOf(err) {
		case apperr.KindUnknown:
			if err != nil {
				return rep, err
			}
			rep.Allocated = append(rep.Allocated, awb)
		case apperr.KindOfflineOnly:
			rep.Offline = true
			rep.Allocated = append(rep.Allocated, awb)
		case apperr.KindValidation, apperr.KindConflict:
			rep.Failed[awb] = apperr.Detail(err)
		default:
			slog.Warn("allocate route aborted", "route", id, "awb", awb, "error", err.Error())
			return rep, err
		}
	}
	return rep, nil
}
