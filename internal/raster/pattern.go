package raster

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/spherical/pagetiles/internal/domain"
)

// PatternScheme prefixes synthetic document sources: pattern://WIDTHxHEIGHT[xPAGES].
const PatternScheme = "pattern://"

const patternCell = 32.0

// PatternRasterizer renders a deterministic checkerboard document. It needs
// no decoder, which makes it the rasterizer of choice for demos and tests.
type PatternRasterizer struct {
	pool       *Pool
	background color.Color
	dims       *domain.Dimensions
}

// NewPatternFactory returns a factory creating one PatternRasterizer per worker.
func NewPatternFactory(pool *Pool, background color.Color) domain.RasterizerFactory {
	return func() domain.Rasterizer {
		return NewPatternRasterizer(pool, background)
	}
}

// NewPatternRasterizer creates a pattern rasterizer with no document open.
func NewPatternRasterizer(pool *Pool, background color.Color) *PatternRasterizer {
	if background == nil {
		background = color.White
	}
	return &PatternRasterizer{pool: pool, background: background}
}

// ParsePatternSource parses pattern://WIDTHxHEIGHT[xPAGES].
func ParsePatternSource(path string) (domain.Dimensions, error) {
	if !strings.HasPrefix(path, PatternScheme) {
		return domain.Dimensions{}, domain.ValidationError(fmt.Sprintf("not a pattern source: %q", path), nil)
	}
	size := strings.TrimPrefix(path, PatternScheme)

	var (
		w, h  float64
		pages = 1
	)
	n, _ := fmt.Sscanf(size, "%gx%gx%d", &w, &h, &pages)
	if n < 2 {
		return domain.Dimensions{}, domain.ValidationError(fmt.Sprintf("malformed pattern source: %q", path), nil)
	}
	if w <= 0 || h <= 0 || pages <= 0 {
		return domain.Dimensions{}, domain.ValidationError(fmt.Sprintf("pattern source needs positive size and pages: %q", path), nil)
	}
	return domain.Dimensions{NumPages: pages, Width: w, Height: h}, nil
}

// Open parses the pattern source.
func (r *PatternRasterizer) Open(ctx context.Context, src domain.Source) (domain.Dimensions, error) {
	if err := ctx.Err(); err != nil {
		return domain.Dimensions{}, err
	}
	dims, err := ParsePatternSource(src.Path)
	if err != nil {
		return domain.Dimensions{}, domain.LoadError("cannot open pattern document", err)
	}
	r.dims = &dims
	return dims, nil
}

// RenderTile paints the tile's part of the checkerboard.
func (r *PatternRasterizer) RenderTile(ctx context.Context, job domain.RenderJob) (*domain.Bitmap, error) {
	if r.dims == nil {
		return nil, domain.RenderError("cannot render tile "+string(job.TileID), domain.ErrNoDocument)
	}
	if job.PageIndex < 0 || job.PageIndex >= r.dims.NumPages {
		return nil, domain.RenderError(fmt.Sprintf("page %d out of range (document has %d)", job.PageIndex, r.dims.NumPages), nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page := &patternPage{
		index:  job.PageIndex,
		lod:    job.LOD,
		bounds: image.Rect(0, 0, int(math.Ceil(r.dims.Width*job.LOD)), int(math.Ceil(r.dims.Height*job.LOD))),
	}
	bm := r.pool.Get(job.OutputSize.X, job.OutputSize.Y)
	blit(bm.Image, page, job, r.background)
	return bm, nil
}

// Close forgets the document.
func (r *PatternRasterizer) Close() error {
	r.dims = nil
	return nil
}

// patternPage is a page at one LOD, evaluated lazily per pixel.
type patternPage struct {
	index  int
	lod    float64
	bounds image.Rectangle
}

func (p *patternPage) ColorModel() color.Model { return color.RGBAModel }
func (p *patternPage) Bounds() image.Rectangle { return p.bounds }

func (p *patternPage) At(x, y int) color.Color {
	cx := int(math.Floor(float64(x) / p.lod / patternCell))
	cy := int(math.Floor(float64(y) / p.lod / patternCell))
	if (cx+cy)%2 == 0 {
		return color.RGBA{R: 0xf4, G: 0xf4, B: 0xf4, A: 0xff}
	}
	shade := uint8(0x40 + (p.index*37)%0x80)
	return color.RGBA{R: shade, G: 0x70, B: 0xa0, A: 0xff}
}
