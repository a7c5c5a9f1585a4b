package domain

import (
	"image"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
)

// Size is a width/height pair in whatever space the caller states.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether either dimension is non-positive.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Intersects reports whether r and o share a region of positive area.
func (r Rect) Intersects(o Rect) bool {
	return !r.Intersect(o).Empty()
}

// Intersect returns the overlap of r and o, possibly empty.
func (r Rect) Intersect(o Rect) Rect {
	x0 := math.Max(r.X, o.X)
	y0 := math.Max(r.Y, o.Y)
	x1 := math.Min(r.Right(), o.Right())
	y1 := math.Min(r.Bottom(), o.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Grow expands the rectangle by d on every side.
func (r Rect) Grow(d float64) Rect {
	return Rect{X: r.X - d, Y: r.Y - d, Width: r.Width + 2*d, Height: r.Height + 2*d}
}

// Scale multiplies every component by f.
func (r Rect) Scale(f float64) Rect {
	return Rect{X: r.X * f, Y: r.Y * f, Width: r.Width * f, Height: r.Height * f}
}

// Contains reports whether p lies inside r (right and bottom edges excluded).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.Right() && p.Y >= r.Y && p.Y < r.Bottom()
}

// Transform maps world space to screen space: screen = world*Scale + (X, Y).
type Transform struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

// ToScreen maps a world point to screen space.
func (t Transform) ToScreen(p Point) Point {
	return Point{X: p.X*t.Scale + t.X, Y: p.Y*t.Scale + t.Y}
}

// ToWorld maps a screen point to world space.
func (t Transform) ToWorld(p Point) Point {
	return Point{X: (p.X - t.X) / t.Scale, Y: (p.Y - t.Y) / t.Scale}
}

// TileID is the deterministic composite key of (page, lod, row, col).
type TileID string

// NewTileID builds the id for a tile cell. Equal inputs always give equal ids.
func NewTileID(pageIndex int, lod float64, row, col int) TileID {
	var b strings.Builder
	b.WriteString(strconv.Itoa(pageIndex))
	b.WriteByte(':')
	b.WriteString(strconv.FormatFloat(lod, 'g', -1, 64))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(row))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(col))
	return TileID(b.String())
}

// Tile is one cell of a page's tile grid at a given LOD. X, Y, Width and
// Height are in world space.
type Tile struct {
	ID        TileID  `json:"id"`
	PageIndex int     `json:"pageIndex"`
	Row       int     `json:"row"`
	Col       int     `json:"col"`
	LOD       float64 `json:"lod"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

// Rect returns the tile's world-space rectangle.
func (t Tile) Rect() Rect {
	return Rect{X: t.X, Y: t.Y, Width: t.Width, Height: t.Height}
}

// Job converts the tile into a render job. The tile rect is the cell in
// LOD pixel space and the output has the same pixel size.
func (t Tile) Job() RenderJob {
	x0 := int(math.Round(t.X * t.LOD))
	y0 := int(math.Round(t.Y * t.LOD))
	x1 := int(math.Round((t.X + t.Width) * t.LOD))
	y1 := int(math.Round((t.Y + t.Height) * t.LOD))
	return RenderJob{
		TileID:     t.ID,
		PageIndex:  t.PageIndex,
		LOD:        t.LOD,
		TileRect:   image.Rect(x0, y0, x1, y1),
		OutputSize: image.Pt(x1-x0, y1-y0),
	}
}

// RenderJob is a rasterization request for one tile.
type RenderJob struct {
	TileID     TileID
	PageIndex  int
	LOD        float64
	TileRect   image.Rectangle
	OutputSize image.Point
}

// Dimensions describes a loaded document. Width and Height are the first
// page's size in world units.
type Dimensions struct {
	NumPages int     `json:"numPages"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// Size returns the page size as a Size.
func (d Dimensions) Size() Size {
	return Size{Width: d.Width, Height: d.Height}
}

// Source identifies a document: either a path/URI or in-memory bytes.
type Source struct {
	Path string
	Data []byte
}

// String returns a short description of the source for logs.
func (s Source) String() string {
	if s.Path != "" {
		return s.Path
	}
	return "memory:" + strconv.Itoa(len(s.Data)) + "b"
}

// Bitmap is a rasterized tile. Its pixel buffer is owned by exactly one
// holder at a time, and that holder must call Release exactly once.
type Bitmap struct {
	Image *image.RGBA

	release  func(*image.RGBA)
	released atomic.Bool
}

// NewBitmap wraps img. release is called with img when the bitmap is released.
func NewBitmap(img *image.RGBA, release func(*image.RGBA)) *Bitmap {
	return &Bitmap{Image: img, release: release}
}

// Release frees the backing buffer. It reports false if the bitmap was
// already released or is nil.
func (b *Bitmap) Release() bool {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return false
	}
	img := b.Image
	b.Image = nil
	if b.release != nil {
		b.release(img)
	}
	return true
}

// Released reports whether Release has been called.
func (b *Bitmap) Released() bool {
	return b != nil && b.released.Load()
}

// TileResult is the single value delivered on a render job's completion channel.
type TileResult struct {
	TileID TileID
	Bitmap *Bitmap
	Err    error
}
