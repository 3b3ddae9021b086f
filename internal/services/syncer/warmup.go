package syncer

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/BearBump/LastMile/internal/events"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/BearBump/LastMile/internal/services/routes"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const DefaultBatchSize = 5

var ErrWarmupInFlight = errors.New("warmup already in flight")

type RouteSource interface {
	GetRoute(id string) (models.Route, bool)
}

type ShipmentSource interface {
	Shipments(ctx context.Context) ([]models.Shipment, error)
}

type Resolver interface {
	ResolveShipment(ctx context.Context, s models.Shipment) (*models.GeoPoint, models.GeocodeSource, error)
}

// Progress is called after every stop; current is the AWB just resolved.
type Progress func(done, total int, current string)

type WarmReport struct {
	RouteID  string                     `json:"route_id"`
	Total    int                        `json:"total"`
	Resolved int                        `json:"resolved"`
	Negative int                        `json:"negative"`
	Missing  int                        `json:"missing"`
	Failed   int                        `json:"failed"`
	Points   map[string]models.GeoPoint `json:"points"`
}

// Warmer pre-geocodes the stops of a route so the map and optimiser work
// offline afterwards.
type Warmer struct {
	routes    RouteSource
	shipments ShipmentSource
	resolver  Resolver
	bus       *events.Bus
	batchSize int

	inFlight atomic.Bool
}

func NewWarmer(rs RouteSource, ss ShipmentSource, r Resolver, bus *events.Bus, batchSize int) *Warmer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Warmer{routes: rs, shipments: ss, resolver: r, bus: bus, batchSize: batchSize}
}

func (w *Warmer) InFlight() bool { return w.inFlight.Load() }

type stopResult struct {
	point  *models.GeoPoint
	source models.GeocodeSource
	err    error
}

// WarmRoute resolves the route's stops batch by batch. Provider errors are
// counted and skipped; cancellation stops between batches and returns ctx.Err().
func (w *Warmer) WarmRoute(ctx context.Context, routeID string, progress Progress) (WarmReport, error) {
	if !w.inFlight.CompareAndSwap(false, true) {
		return WarmReport{}, ErrWarmupInFlight
	}
	defer w.inFlight.Store(false)

	r, ok := w.routes.GetRoute(routeID)
	if !ok {
		return WarmReport{}, errors.Wrapf(routes.ErrNotFound, "warm route %s", routeID)
	}
	rep := WarmReport{RouteID: routeID, Total: len(r.AWBs), Points: map[string]models.GeoPoint{}}
	if rep.Total == 0 {
		return rep, nil
	}

	list, err := w.shipments.Shipments(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "load shipments")
	}
	byAWB := make(map[string]models.Shipment, len(list))
	for _, s := range list {
		byAWB[models.NormaliseAWB(s.AWB)] = s
	}

	done := 0
	for start := 0; start < len(r.AWBs); start += w.batchSize {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		end := min(start+w.batchSize, len(r.AWBs))
		batch := r.AWBs[start:end]
		results := make([]stopResult, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i, awb := range batch {
			s, known := byAWB[awb]
			if !known {
				continue
			}
			g.Go(func() error {
				p, src, err := w.resolver.ResolveShipment(gctx, s)
				results[i] = stopResult{point: p, source: src, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for i, awb := range batch {
			res := results[i]
			switch {
			case res.err != nil:
				rep.Failed++
				slog.Warn("warm route: geocode failed", "route_id", routeID, "awb", awb, "error", res.err.Error())
			case res.point != nil:
				rep.Resolved++
				rep.Points[awb] = *res.point
			case res.source == models.GeocodeSourceNegative:
				rep.Negative++
			default:
				// нет данных по отправке или запрос отменён
				rep.Missing++
			}
			done++
			if progress != nil {
				progress(done, rep.Total, awb)
			}
		}

		w.bus.Publish(events.Event{Type: events.GeocodeProgress, Payload: map[string]any{
			"route_id": routeID,
			"done":     done,
			"total":    rep.Total,
			"current":  batch[len(batch)-1],
		}})
	}

	slog.Info("warm route", "route_id", routeID, "total", rep.Total, "resolved", rep.Resolved,
		"negative", rep.Negative, "missing", rep.Missing, "failed", rep.Failed)
	return rep, nil
}
