// Package viewer is the public entry point: it wires the geometry engine,
// scheduler, tile cache and zoom controller for one document view.
package viewer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/spherical/pagetiles/internal/config"
	"github.com/spherical/pagetiles/internal/domain"
	"github.com/spherical/pagetiles/internal/geometry"
	"github.com/spherical/pagetiles/internal/observability"
	"github.com/spherical/pagetiles/internal/raster"
	"github.com/spherical/pagetiles/internal/scheduler"
	"github.com/spherical/pagetiles/internal/store"
	"github.com/spherical/pagetiles/internal/tilecache"
	"github.com/spherical/pagetiles/internal/zoom"
)

// Re-exported types for callers outside this module.
type (
	Size       = domain.Size
	Point      = domain.Point
	Transform  = domain.Transform
	Tile       = domain.Tile
	Source     = domain.Source
	Dimensions = domain.Dimensions
	CachedTile = tilecache.CachedTile
	AnchorKind = zoom.AnchorKind
)

const (
	AnchorCenter      = zoom.AnchorCenter
	AnchorFocalPoint  = zoom.AnchorFocalPoint
	AnchorFitToScreen = zoom.AnchorFitToScreen
)

// DefaultViewport is used until SetViewport is called.
var DefaultViewport = Size{Width: 1024, Height: 768}

// Stats is a snapshot of the whole view.
type Stats struct {
	Document           Dimensions      `json:"document"`
	Loaded             bool            `json:"loaded"`
	Page               int             `json:"page"`
	Zoom               zoom.State      `json:"zoom"`
	LOD                float64         `json:"lod"`
	Scheduler          scheduler.Stats `json:"scheduler"`
	Cache              tilecache.Stats `json:"cache"`
	BitmapsOutstanding int             `json:"bitmapsOutstanding"`
}

// Viewer owns every component of one document view. Its methods are safe
// for concurrent use; they serialize on an internal lock, which keeps the
// cache and zoom controller on a single logical coordinator.
type Viewer struct {
	cfg    *config.Config
	logger *observability.Logger

	pool       *raster.Pool
	store      store.Client
	background color.Color
	engine     *geometry.Engine
	sched      *scheduler.Scheduler

	mu     sync.Mutex
	cache  *tilecache.Cache
	zoom   *zoom.Controller
	src    Source
	dims   Dimensions
	page   int
	loaded bool
}

// New builds a viewer from cfg and starts its worker pool.
func New(cfg *config.Config, logger *observability.Logger) (*Viewer, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("invalid configuration", err)
	}
	if logger == nil {
		logger = observability.Nop()
	}

	bg, err := raster.ParseColor(cfg.Raster.Background)
	if err != nil {
		return nil, domain.ConfigError("invalid raster background", err)
	}

	engine, err := geometry.NewEngine(geometry.Config{
		TileSize: cfg.Tiles.TileSize,
		Buffer:   cfg.Tiles.Buffer,
		Levels:   cfg.Tiles.LODLevels,
	})
	if err != nil {
		return nil, err
	}

	zc, err := zoom.New(zoom.Config{
		MinScale:    cfg.Zoom.MinScale,
		MaxScale:    cfg.Zoom.MaxScale,
		Step:        cfg.Zoom.Step,
		ClampScroll: cfg.Zoom.ClampScroll,
	}, DefaultViewport, Size{})
	if err != nil {
		return nil, err
	}

	v := &Viewer{
		cfg:        cfg,
		logger:     logger.WithComponent("viewer"),
		pool:       raster.NewPool(cfg.Workers.Count * 16),
		background: bg,
		engine:     engine,
		zoom:       zc,
	}

	factory, err := v.rasterizerFactory(logger)
	if err != nil {
		return nil, err
	}

	v.sched, err = scheduler.New(scheduler.Config{Workers: cfg.Workers.Count}, factory, logger)
	if err != nil {
		v.closeStore()
		return nil, err
	}
	v.cache = tilecache.New(v.sched, logger)

	v.logger.Info().
		Str("engine", cfg.Raster.Engine).
		Str("store", cfg.Store.Driver).
		Int("tile_size", cfg.Tiles.TileSize).
		Int("workers", cfg.Workers.Count).
		Msg("Viewer ready")
	return v, nil
}

func (v *Viewer) rasterizerFactory(logger *observability.Logger) (domain.RasterizerFactory, error) {
	var factory domain.RasterizerFactory
	switch v.cfg.Raster.Engine {
	case "pattern":
		factory = raster.NewPatternFactory(v.pool, v.background)
	case "fitz", "":
		factory = raster.NewFitzFactory(v.pool, raster.FitzOptions{
			BaseDPI:    v.cfg.Raster.BaseDPI,
			Background: v.background,
			Logger:     logger,
		})
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown raster engine %q", v.cfg.Raster.Engine), nil)
	}

	switch v.cfg.Store.Driver {
	case "none", "":
		return factory, nil
	case "memory":
		v.store = store.NewMemoryClient(v.cfg.Store.MaxEntries)
	case "redis":
		rc := v.cfg.Store.Redis
		client, err := store.NewRedisClient(store.RedisConfig{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			PoolSize: rc.PoolSize,
			Prefix:   rc.Prefix,
		})
		if err != nil {
			return nil, domain.IOError("failed to connect tile store", err)
		}
		v.store = client
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown store driver %q", v.cfg.Store.Driver), nil)
	}
	return raster.NewStoredFactory(factory, v.store, v.pool, v.cfg.Store.TTL, logger), nil
}

// SourceFor turns a CLI or API argument into a Source.
func SourceFor(arg string) Source {
	return Source{Path: strings.TrimSpace(arg)}
}

// Open loads src on every worker, resets the cache and fits the first page
// to the viewport. A concurrent Open supersedes this one.
func (v *Viewer) Open(ctx context.Context, src Source) (Dimensions, error) {
	start := time.Now()
	dims, err := v.sched.LoadDocument(ctx, src)
	if err != nil {
		return Dimensions{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache.Close()
	v.cache = tilecache.New(v.sched, v.logger)
	v.src = src
	v.dims = dims
	v.page = 0
	v.loaded = true
	v.zoom.SetPageSize(dims.Size())
	if _, err := v.zoom.FitToScreen(); err != nil {
		return dims, err
	}

	v.logger.Info().Str("source", src.String()).Int("pages", dims.NumPages).Dur("took", time.Since(start)).Msg("Document opened")
	return dims, nil
}

// Document returns the open document's dimensions.
func (v *Viewer) Document() (Dimensions, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dims, v.loaded
}

// SetPage switches to page index i and resets scroll to the origin.
func (v *Viewer) SetPage(i int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.loaded {
		return domain.ValidationError("no document open", domain.ErrNoDocument)
	}
	if i < 0 || i >= v.dims.NumPages {
		return domain.ValidationError(fmt.Sprintf("page %d out of range [0, %d)", i, v.dims.NumPages), nil)
	}
	v.page = i
	v.zoom.SetScroll(Point{})
	return nil
}

// Page returns the current page index.
func (v *Viewer) Page() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

// SetViewport resizes the viewport.
func (v *Viewer) SetViewport(s Size) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.zoom.SetViewport(s)
}

// Scroll moves the view to the given scroll offset.
func (v *Viewer) Scroll(p Point) Transform {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.zoom.SetScroll(p)
	return v.zoom.Transform()
}

// ZoomAt zooms to scale around the anchor and returns the new transform.
func (v *Viewer) ZoomAt(kind AnchorKind, p Point, scale float64) (Transform, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom.ZoomAt(kind, p, scale)
}

// Wheel zooms one step around the viewport center.
func (v *Viewer) Wheel(delta float64) (Transform, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom.Wheel(delta)
}

// Pinch zooms by factor around p.
func (v *Viewer) Pinch(factor float64, p Point) (Transform, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom.Pinch(factor, p)
}

// FitToScreen fits the page into the viewport.
func (v *Viewer) FitToScreen() (Transform, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom.FitToScreen()
}

// Transform returns the current world-to-screen transform.
func (v *Viewer) Transform() Transform {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom.Transform()
}

// VisibleTiles returns the tiles covering the viewport on the current page.
func (v *Viewer) VisibleTiles() []Tile {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frame().Tiles
}

func (v *Viewer) frame() geometry.Frame {
	return v.engine.Frame(v.zoom.Viewport(), v.zoom.Transform(), v.dims.Size(), v.page)
}

// Refresh reconciles the cache with the current view and returns the
// drawable tiles in painting order. It does not wait for renders.
func (v *Viewer) Refresh() []*CachedTile {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.loaded {
		return nil
	}
	return v.cache.Update(v.frame())
}

// WaitReady refreshes until every visible tile is ready or ctx ends.
func (v *Viewer) WaitReady(ctx context.Context) ([]*CachedTile, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		v.mu.Lock()
		if !v.loaded {
			v.mu.Unlock()
			return nil, domain.ValidationError("no document open", domain.ErrNoDocument)
		}
		f := v.frame()
		drawable := v.cache.Update(f)
		done := v.allReady(f)
		v.mu.Unlock()
		if done {
			return drawable, nil
		}

		select {
		case <-ctx.Done():
			return drawable, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (v *Viewer) allReady(f geometry.Frame) bool {
	for _, t := range f.Tiles {
		e, ok := v.cache.Get(t.ID)
		if !ok || !e.Ready {
			return false
		}
	}
	return true
}

// Composite waits for the view to be complete and paints it into a
// viewport-sized image, lower LODs first.
func (v *Viewer) Composite(ctx context.Context) (*image.RGBA, error) {
	if _, err := v.WaitReady(ctx); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	vp := v.zoom.Viewport()
	dst := image.NewRGBA(image.Rect(0, 0, int(math.Ceil(vp.Width)), int(math.Ceil(vp.Height))))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(v.background), image.Point{}, draw.Src)

	t := v.zoom.Transform()
	for _, e := range v.cache.Drawable() {
		if e.PageIndex != v.page || e.Bitmap == nil {
			continue
		}
		p0 := t.ToScreen(Point{X: e.X, Y: e.Y})
		p1 := t.ToScreen(Point{X: e.X + e.Width, Y: e.Y + e.Height})
		r := image.Rect(int(math.Floor(p0.X)), int(math.Floor(p0.Y)), int(math.Ceil(p1.X)), int(math.Ceil(p1.Y)))
		if !r.Overlaps(dst.Bounds()) {
			continue
		}
		draw.ApproxBiLinear.Scale(dst, r, e.Bitmap.Image, e.Bitmap.Image.Bounds(), draw.Over, nil)
	}
	return dst, nil
}

// TileAt builds the tile for a grid cell, checking it against the open
// document and the configured levels.
func (v *Viewer) TileAt(page int, lod float64, row, col int) (Tile, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rows, cols, err := v.grid(page, lod)
	if err != nil {
		return Tile{}, err
	}
	if row < 0 || col < 0 || row >= rows || col >= cols {
		return Tile{}, domain.ValidationError(fmt.Sprintf("cell %d,%d outside the %dx%d grid", row, col, rows, cols), nil)
	}
	return v.cell(page, lod, row, col), nil
}

// PageTiles returns every tile of a page's grid at lod in row-major order.
func (v *Viewer) PageTiles(page int, lod float64) ([]Tile, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rows, cols, err := v.grid(page, lod)
	if err != nil {
		return nil, err
	}
	tiles := make([]Tile, 0, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			tiles = append(tiles, v.cell(page, lod, row, col))
		}
	}
	return tiles, nil
}

func (v *Viewer) grid(page int, lod float64) (rows, cols int, err error) {
	if !v.loaded {
		return 0, 0, domain.ValidationError("no document open", domain.ErrNoDocument)
	}
	if page < 0 || page >= v.dims.NumPages {
		return 0, 0, domain.ValidationError(fmt.Sprintf("page %d out of range", page), nil)
	}
	known := false
	for _, l := range v.engine.Levels() {
		if l == lod {
			known = true
			break
		}
	}
	if !known {
		return 0, 0, domain.ValidationError(fmt.Sprintf("lod %g is not a configured level", lod), nil)
	}
	tw := float64(v.engine.TileSize()) / lod
	return int(math.Ceil(v.dims.Height / tw)), int(math.Ceil(v.dims.Width / tw)), nil
}

func (v *Viewer) cell(page int, lod float64, row, col int) Tile {
	tw := float64(v.engine.TileSize()) / lod
	return Tile{
		ID:        domain.NewTileID(page, lod, row, col),
		PageIndex: page,
		Row:       row,
		Col:       col,
		LOD:       lod,
		X:         float64(col) * tw,
		Y:         float64(row) * tw,
		Width:     tw,
		Height:    tw,
	}
}

// Progress reports how many of the visible tiles are ready. It does not
// refresh the cache.
func (v *Viewer) Progress() (ready, total int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.loaded {
		return 0, 0
	}
	for _, t := range v.frame().Tiles {
		if e, ok := v.cache.Get(t.ID); ok && e.Ready {
			ready++
		}
		total++
	}
	return ready, total
}

// RenderTile renders one tile outside the cache. The caller owns the
// returned bitmap and must release it.
func (v *Viewer) RenderTile(ctx context.Context, t Tile) (*domain.Bitmap, error) {
	return v.sched.RenderTile(ctx, t)
}

// PurgeStore drops the open document's tiles from the shared store. It is a
// no-op without a store.
func (v *Viewer) PurgeStore(ctx context.Context) error {
	v.mu.Lock()
	src, loaded := v.src, v.loaded
	v.mu.Unlock()
	if !loaded {
		return domain.ValidationError("no document open", domain.ErrNoDocument)
	}
	if v.store == nil {
		return nil
	}
	if err := v.store.DeleteByPrefix(ctx, store.DocumentKey(raster.SourceDigest(src))); err != nil {
		return domain.IOError("failed to purge tile store", err)
	}
	return nil
}

// Stats returns a snapshot of every component.
func (v *Viewer) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Stats{
		Document:           v.dims,
		Loaded:             v.loaded,
		Page:               v.page,
		Zoom:               v.zoom.State(),
		LOD:                v.engine.SelectLOD(v.zoom.Scale()),
		Scheduler:          v.sched.Stats(),
		Cache:              v.cache.Stats(),
		BitmapsOutstanding: v.pool.Outstanding(),
	}
}

// Close releases cached tiles, stops the workers and closes the store.
func (v *Viewer) Close() error {
	v.mu.Lock()
	v.cache.Close()
	v.loaded = false
	v.mu.Unlock()

	err := v.sched.Close()
	if serr := v.closeStore(); err == nil {
		err = serr
	}
	v.logger.Debug().Int("bitmaps_outstanding", v.pool.Outstanding()).Msg("Viewer closed")
	return err
}

func (v *Viewer) closeStore() error {
	if v.store == nil {
		return nil
	}
	return v.store.Close()
}
