// Package geometry maps a viewport and transform onto the set of page tiles
// needed to cover it, and picks the level of detail to render them at.
//
// All functions here are pure: identical inputs always produce identical
// tiles and ids, which the tile cache relies on.
package geometry

import (
	"fmt"
	"math"

	"github.com/spherical/pagetiles/internal/domain"
)

// eps absorbs float noise at exact tile boundaries so that a rect ending
// exactly on a grid line does not pull in the next row or column.
const eps = 1e-9

// Config configures an Engine.
type Config struct {
	TileSize int
	Buffer   int
	Levels   []float64
}

// Engine enumerates visible tiles. It holds configuration only.
type Engine struct {
	tileSize float64
	buffer   int
	levels   Levels
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.TileSize <= 0 {
		return nil, domain.ValidationError(fmt.Sprintf("tile size must be positive, got %d", cfg.TileSize), nil)
	}
	if cfg.Buffer < 0 {
		return nil, domain.ValidationError(fmt.Sprintf("buffer must not be negative, got %d", cfg.Buffer), nil)
	}
	values := cfg.Levels
	if len(values) == 0 {
		values = DefaultLevels
	}
	levels, err := NewLevels(values)
	if err != nil {
		return nil, err
	}
	return &Engine{
		tileSize: float64(cfg.TileSize),
		buffer:   cfg.Buffer,
		levels:   levels,
	}, nil
}

// TileSize returns the tile edge length in LOD pixels.
func (e *Engine) TileSize() int { return int(e.tileSize) }

// Buffer returns the number of extra tile rings around the visible area.
func (e *Engine) Buffer() int { return e.buffer }

// Levels returns the configured LOD levels.
func (e *Engine) Levels() Levels { return e.levels }

// SelectLOD returns the level tiles are rendered at for the given scale.
func (e *Engine) SelectLOD(scale float64) float64 {
	return e.levels.Select(scale)
}

// VisibleTiles returns the tiles of page pageIndex that cover the viewport,
// plus Buffer rings, clipped to the page. Tiles come out in row-major order.
func (e *Engine) VisibleTiles(viewport domain.Size, t domain.Transform, content domain.Size, pageIndex int) []domain.Tile {
	return e.Frame(viewport, t, content, pageIndex).Tiles
}

// Frame is the geometry engine's output for one page and one transform.
type Frame struct {
	PageIndex int
	LOD       float64
	TileSize  float64
	Tiles     []domain.Tile
	// Visible is the viewport in world space.
	Visible domain.Rect
	// Region is Visible grown by TileWidth()*buffer on every side.
	Region  domain.Rect
	Content domain.Size
}

// TileWidth returns the world-space edge length of one tile at the frame's LOD.
func (f Frame) TileWidth() float64 {
	return f.TileSize / f.LOD
}

// Frame computes the visible tile set together with the regions the cache
// needs for its placeholder policy.
func (e *Engine) Frame(viewport domain.Size, t domain.Transform, content domain.Size, pageIndex int) Frame {
	f := Frame{PageIndex: pageIndex, TileSize: e.tileSize, Content: content}
	if t.Scale <= 0 || math.IsNaN(t.Scale) || math.IsInf(t.Scale, 0) {
		f.LOD = e.levels.Min()
		return f
	}

	f.LOD = e.levels.Select(t.Scale)
	f.Visible = domain.Rect{
		X:      -t.X / t.Scale,
		Y:      -t.Y / t.Scale,
		Width:  viewport.Width / t.Scale,
		Height: viewport.Height / t.Scale,
	}
	f.Region = f.Visible.Grow(f.TileWidth() * float64(e.buffer))

	if viewport.Empty() || content.Empty() {
		return f
	}

	lodRect := f.Visible.Scale(f.LOD)
	startCol, endCol := span(lodRect.X, lodRect.Right(), e.tileSize)
	startRow, endRow := span(lodRect.Y, lodRect.Bottom(), e.tileSize)

	startCol -= e.buffer
	startRow -= e.buffer
	endCol += e.buffer
	endRow += e.buffer

	maxCols := gridCount(content.Width, f.LOD, e.tileSize)
	maxRows := gridCount(content.Height, f.LOD, e.tileSize)
	startCol, endCol = clip(startCol, endCol, maxCols)
	startRow, endRow = clip(startRow, endRow, maxRows)
	if startCol >= endCol || startRow >= endRow {
		return f
	}

	tw := f.TileWidth()
	f.Tiles = make([]domain.Tile, 0, (endRow-startRow)*(endCol-startCol))
	for row := startRow; row < endRow; row++ {
		for col := startCol; col < endCol; col++ {
			f.Tiles = append(f.Tiles, domain.Tile{
				ID:        domain.NewTileID(pageIndex, f.LOD, row, col),
				PageIndex: pageIndex,
				Row:       row,
				Col:       col,
				LOD:       f.LOD,
				X:         float64(col) * tw,
				Y:         float64(row) * tw,
				Width:     tw,
				Height:    tw,
			})
		}
	}
	return f
}

// CellsCovering returns the ids of the frame-LOD grid cells overlapping r,
// restricted to the frame's region and the page bounds.
func (f Frame) CellsCovering(r domain.Rect) []domain.TileID {
	if f.LOD <= 0 || f.TileSize <= 0 {
		return nil
	}
	area := r.Intersect(f.Region).Intersect(domain.Rect{Width: f.Content.Width, Height: f.Content.Height})
	if area.Empty() {
		return nil
	}
	tw := f.TileWidth()
	startCol, endCol := span(area.X, area.Right(), tw)
	startRow, endRow := span(area.Y, area.Bottom(), tw)
	startCol, endCol = clip(startCol, endCol, gridCount(f.Content.Width, f.LOD, f.TileSize))
	startRow, endRow = clip(startRow, endRow, gridCount(f.Content.Height, f.LOD, f.TileSize))

	var ids []domain.TileID
	for row := startRow; row < endRow; row++ {
		for col := startCol; col < endCol; col++ {
			ids = append(ids, domain.NewTileID(f.PageIndex, f.LOD, row, col))
		}
	}
	return ids
}

// span returns the half-open index range of cells of the given size that
// overlap [from, to).
func span(from, to, size float64) (int, int) {
	start := cellIndex(math.Floor(from/size + eps))
	end := cellIndex(math.Ceil(to/size - eps))
	return start, end
}

func gridCount(extent, lod, tileSize float64) int {
	return cellIndex(math.Ceil(extent*lod/tileSize - eps))
}

// maxCells bounds cell indexes so extreme zoom-outs cannot overflow int.
const maxCells = 1 << 30

func cellIndex(v float64) int {
	switch {
	case math.IsNaN(v):
		return 0
	case v < -maxCells:
		return -maxCells
	case v > maxCells:
		return maxCells
	}
	return int(v)
}

func clip(start, end, limit int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > limit {
		end = limit
	}
	return start, end
}
