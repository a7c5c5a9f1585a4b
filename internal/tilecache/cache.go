// Package tilecache keeps the rendered tiles for the current view across
// frames. It requests missing tiles, keeps ready lower-resolution tiles as
// placeholders until the current level covers them, and releases every
// bitmap it evicts.
package tilecache

import (
	"sort"

	"github.com/spherical/pagetiles/internal/domain"
	"github.com/spherical/pagetiles/internal/geometry"
	"github.com/spherical/pagetiles/internal/observability"
)

// Scheduler is the part of the worker-pool scheduler the cache needs.
type Scheduler interface {
	Submit(tile domain.Tile) (<-chan domain.TileResult, error)
	CancelTile(id domain.TileID) bool
}

// CachedTile is one cache entry. Bitmap is set once Ready is true.
type CachedTile struct {
	domain.Tile
	Bitmap *domain.Bitmap
	Ready  bool

	result <-chan domain.TileResult
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries      int    `json:"entries"`
	Ready        int    `json:"ready"`
	Pending      int    `json:"pending"`
	Requested    uint64 `json:"requested"`
	Evicted      uint64 `json:"evicted"`
	Failed       uint64 `json:"failed"`
	Placeholders int    `json:"placeholders"`
}

// Cache is driven by a single coordinating goroutine and is not safe for
// concurrent use.
type Cache struct {
	sched   Scheduler
	logger  *observability.Logger
	entries map[domain.TileID]*CachedTile
	stats   Stats
	closed  bool
}

// New creates an empty cache that requests tiles from sched.
func New(sched Scheduler, logger *observability.Logger) *Cache {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Cache{
		sched:   sched,
		logger:  logger.WithComponent("tilecache"),
		entries: make(map[domain.TileID]*CachedTile),
	}
}

// Update reconciles the cache with the given frames, one per visible page,
// and returns the drawable tiles in painting order. It never blocks on
// workers: completions are picked up if they have already arrived.
func (c *Cache) Update(frames ...geometry.Frame) []*CachedTile {
	if c.closed {
		return nil
	}
	failed := c.collect()

	wanted := make(map[domain.TileID]struct{})
	for _, f := range frames {
		for _, t := range f.Tiles {
			wanted[t.ID] = struct{}{}
			if _, ok := c.entries[t.ID]; ok {
				continue
			}
			if _, ok := failed[t.ID]; ok {
				continue
			}
			ch, err := c.sched.Submit(t)
			if err != nil {
				c.logger.Warn().Err(err).Str("tile", string(t.ID)).Msg("Tile request rejected")
				continue
			}
			c.entries[t.ID] = &CachedTile{Tile: t, result: ch}
			c.stats.Requested++
		}
	}

	placeholders := 0
	for id, e := range c.entries {
		if _, ok := wanted[id]; ok {
			continue
		}
		if c.isPlaceholder(e, frames) {
			placeholders++
			continue
		}
		c.evict(e)
	}
	c.stats.Placeholders = placeholders

	return c.Drawable()
}

// collect moves every completion that has already arrived into its entry.
// Failed tiles are dropped and returned so they are not re-requested in the
// same pass.
func (c *Cache) collect() map[domain.TileID]struct{} {
	var failed map[domain.TileID]struct{}
	for id, e := range c.entries {
		if e.Ready {
			continue
		}
		select {
		case res := <-e.result:
			e.result = nil
			if res.Err != nil {
				res.Bitmap.Release()
				delete(c.entries, id)
				c.stats.Failed++
				if failed == nil {
					failed = make(map[domain.TileID]struct{})
				}
				failed[id] = struct{}{}
				c.logger.Debug().Err(res.Err).Str("tile", string(id)).Msg("Tile failed, will retry when visible")
				continue
			}
			e.Bitmap = res.Bitmap
			e.Ready = true
		default:
		}
	}
	return failed
}

// isPlaceholder reports whether a ready tile below some frame's LOD still
// overlaps that frame's region and is not yet covered by ready tiles at
// the frame's LOD.
func (c *Cache) isPlaceholder(e *CachedTile, frames []geometry.Frame) bool {
	if !e.Ready {
		return false
	}
	for _, f := range frames {
		if f.PageIndex != e.PageIndex || e.LOD >= f.LOD || !e.Rect().Intersects(f.Region) {
			continue
		}
		if !c.covered(e.Rect(), f) {
			return true
		}
	}
	return false
}

func (c *Cache) covered(r domain.Rect, f geometry.Frame) bool {
	for _, id := range f.CellsCovering(r) {
		e, ok := c.entries[id]
		if !ok || !e.Ready {
			return false
		}
	}
	return true
}

func (c *Cache) evict(e *CachedTile) {
	delete(c.entries, e.ID)
	c.stats.Evicted++
	if e.Ready {
		e.Bitmap.Release()
		e.Bitmap = nil
		return
	}
	if !c.sched.CancelTile(e.ID) {
		// the job already resolved; its result is waiting in the channel
		select {
		case res := <-e.result:
			res.Bitmap.Release()
		default:
		}
	}
	e.result = nil
}

// Drawable returns the ready tiles ordered for painting: ascending LOD,
// then page, row and column.
func (c *Cache) Drawable() []*CachedTile {
	out := make([]*CachedTile, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Ready {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LOD != b.LOD {
			return a.LOD < b.LOD
		}
		if a.PageIndex != b.PageIndex {
			return a.PageIndex < b.PageIndex
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Col < b.Col
	})
	return out
}

// Get returns the entry for id.
func (c *Cache) Get(id domain.TileID) (*CachedTile, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// Len returns the number of entries, ready or pending.
func (c *Cache) Len() int { return len(c.entries) }

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	st := c.stats
	st.Entries = len(c.entries)
	for _, e := range c.entries {
		if e.Ready {
			st.Ready++
		} else {
			st.Pending++
		}
	}
	return st
}

// Close evicts every entry, cancelling pending jobs and releasing bitmaps.
func (c *Cache) Close() {
	if c.closed {
		return
	}
	c.closed = true
	n := len(c.entries)
	for _, e := range c.entries {
		c.evict(e)
	}
	c.logger.Debug().Int("entries", n).Msg("Tile cache closed")
}
