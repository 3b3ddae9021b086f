// Package geocache is the bounded query→coordinates cache behind the map view.
// Negative outcomes are cached too so unresolvable addresses are not retried
// until the query text changes.
package geocache

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/LastMile/internal/kv"
	"github.com/BearBump/LastMile/internal/metrics"
	"github.com/BearBump/LastMile/internal/models"
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/pkg/errors"
)

const DefaultCap = 2000

type Outcome int

const (
	Miss Outcome = iota
	Hit
	NegativeHit
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case NegativeHit:
		return "negative"
	default:
		return "miss"
	}
}

type Cache struct {
	mu    sync.Mutex
	lru   *lru.LRU[string, models.GeocodeEntry]
	store *kv.Store
	now   func() time.Time
}

// New returns an empty cache bounded at capacity entries. store may be nil
// for a memory-only cache.
func New(store *kv.Store, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	l, _ := lru.NewLRU[string, models.GeocodeEntry](capacity, nil)
	return &Cache{lru: l, store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Normalize trims, collapses inner whitespace and lowercases the query.
func Normalize(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Load restores persisted entries, oldest first so the newest end up most recent.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	var m map[string]models.GeocodeEntry
	if _, err := c.store.Get(ctx, kv.KeyGeocodeCache, &m); err != nil {
		return errors.Wrap(err, "load geocode cache")
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := m[keys[i]].TS, m[keys[j]].TS
		if ti.Equal(tj) {
			return keys[i] < keys[j]
		}
		return ti.Before(tj)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.lru.Add(Normalize(k), m[k])
	}
	return nil
}

func (c *Cache) Lookup(query string) (models.GeocodeEntry, Outcome) {
	key := Normalize(query)
	if key == "" {
		return models.GeocodeEntry{}, Miss
	}
	// Peek не трогает порядок: вытесняется самая старая по ts запись.
	c.mu.Lock()
	e, ok := c.lru.Peek(key)
	c.mu.Unlock()

	out := Miss
	switch {
	case !ok:
	case e.Negative():
		out = NegativeHit
	default:
		out = Hit
	}
	metrics.GeocodeLookups.WithLabelValues(out.String()).Inc()
	return e, out
}

// Put stores a positive outcome and flushes to storage.
func (c *Cache) Put(ctx context.Context, query string, p models.GeoPoint, source models.GeocodeSource) {
	if source == "" || source == models.GeocodeSourceNegative {
		source = models.GeocodeSourceGeocode
	}
	c.put(ctx, query, models.GeocodeEntry{Lat: p.Lat, Lon: p.Lon, Source: source})
}

// PutNegative records that query could not be resolved.
func (c *Cache) PutNegative(ctx context.Context, query string) {
	c.put(ctx, query, models.GeocodeEntry{Source: models.GeocodeSourceNegative})
}

func (c *Cache) put(ctx context.Context, query string, e models.GeocodeEntry) {
	key := Normalize(query)
	if key == "" {
		return
	}
	e.TS = c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, e)
	c.flushLocked(ctx)
}

func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	if c.store == nil {
		return
	}
	if err := c.store.Remove(ctx, kv.KeyGeocodeCache); err != nil {
		slog.Warn("geocode cache clear", "error", err.Error())
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Память остаётся источником истины: ошибка записи только логируется.
func (c *Cache) flushLocked(ctx context.Context) {
	if c.store == nil {
		return
	}
	m := make(map[string]models.GeocodeEntry, c.lru.Len())
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok {
			m[k] = e
		}
	}
	if err := c.store.Set(ctx, kv.KeyGeocodeCache, m); err != nil {
		slog.Warn("geocode cache flush", "entries", len(m), "error", err.Error())
	}
}
