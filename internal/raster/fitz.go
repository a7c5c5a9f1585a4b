// Package raster provides the rasterization capability used by the worker
// pool: a MuPDF backed rasterizer, a synthetic pattern rasterizer and a
// store-backed decorator, all producing pooled bitmaps.
package raster

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/gen2brain/go-fitz"
	"github.com/spherical/pagetiles/internal/domain"
	"github.com/spherical/pagetiles/internal/observability"
)

// FitzOptions configures FitzRasterizer.
type FitzOptions struct {
	// BaseDPI is the resolution of LOD 1.0 and so fixes the world unit: one
	// world unit is one pixel at BaseDPI. 72 maps one PDF point to one unit.
	BaseDPI    float64
	Background color.Color
	Logger     *observability.Logger
}

// FitzRasterizer implements domain.Rasterizer using go-fitz. Each instance
// holds its own decoded document and is meant to be owned by one worker.
type FitzRasterizer struct {
	doc       *fitz.Document
	numPages  int
	pool      *Pool
	validator *Validator
	opts      FitzOptions
	logger    *observability.Logger

	// last rendered full page, reused while consecutive tiles hit the same page and LOD
	memoPage int
	memoLOD  float64
	memo     *image.RGBA
}

// NewFitzFactory returns a factory creating one FitzRasterizer per worker.
func NewFitzFactory(pool *Pool, opts FitzOptions) domain.RasterizerFactory {
	return func() domain.Rasterizer {
		return NewFitzRasterizer(pool, opts)
	}
}

// NewFitzRasterizer creates a rasterizer with no document loaded.
func NewFitzRasterizer(pool *Pool, opts FitzOptions) *FitzRasterizer {
	if opts.BaseDPI <= 0 {
		opts.BaseDPI = 72
	}
	if opts.Background == nil {
		opts.Background = color.White
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	return &FitzRasterizer{
		pool:      pool,
		validator: NewValidator(logger),
		opts:      opts,
		logger:    logger,
		memoPage:  -1,
	}
}

// Open decodes the document and reports its page count and first page size
// in world units (pixels at BaseDPI).
func (r *FitzRasterizer) Open(ctx context.Context, src domain.Source) (domain.Dimensions, error) {
	if err := r.validator.ValidateSource(src); err != nil {
		return domain.Dimensions{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Dimensions{}, err
	}

	var (
		doc *fitz.Document
		err error
	)
	if len(src.Data) > 0 {
		doc, err = fitz.NewFromMemory(src.Data)
	} else {
		doc, err = fitz.New(src.Path)
	}
	if err != nil {
		return domain.Dimensions{}, domain.LoadError("Failed to open PDF", err)
	}

	pageCount := doc.NumPage()
	if pageCount == 0 {
		doc.Close()
		return domain.Dimensions{}, domain.ValidationError("PDF has no pages", nil)
	}

	bounds, err := doc.Bound(0)
	if err != nil {
		doc.Close()
		return domain.Dimensions{}, domain.LoadError("Failed to read page bounds", err)
	}

	r.Close()
	r.doc = doc
	r.numPages = pageCount

	w, h := r.worldSize(bounds)
	return domain.Dimensions{NumPages: pageCount, Width: w, Height: h}, nil
}

// worldSize converts page bounds in points (1/72 inch) to world units.
func (r *FitzRasterizer) worldSize(bounds image.Rectangle) (float64, float64) {
	k := r.opts.BaseDPI / 72
	return float64(bounds.Dx()) * k, float64(bounds.Dy()) * k
}

// RenderTile rasterizes the page at BaseDPI*LOD and copies the tile cell out of it.
func (r *FitzRasterizer) RenderTile(ctx context.Context, job domain.RenderJob) (*domain.Bitmap, error) {
	if r.doc == nil {
		return nil, domain.RenderError("cannot render tile "+string(job.TileID), domain.ErrNoDocument)
	}
	if job.PageIndex < 0 || job.PageIndex >= r.numPages {
		return nil, domain.RenderError(fmt.Sprintf("page %d out of range (document has %d)", job.PageIndex, r.numPages), nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := r.pageImage(job.PageIndex, job.LOD)
	if err != nil {
		return nil, domain.RenderError(fmt.Sprintf("Failed to rasterize page %d", job.PageIndex+1), err)
	}

	bm := r.pool.Get(job.OutputSize.X, job.OutputSize.Y)
	blit(bm.Image, page, job, r.opts.Background)
	return bm, nil
}

func (r *FitzRasterizer) pageImage(pageIndex int, lod float64) (*image.RGBA, error) {
	if r.memo != nil && r.memoPage == pageIndex && r.memoLOD == lod {
		return r.memo, nil
	}
	img, err := r.doc.ImageDPI(pageIndex, r.opts.BaseDPI*lod)
	if err != nil {
		return nil, err
	}
	r.memo, r.memoPage, r.memoLOD = img, pageIndex, lod
	return img, nil
}

// Close releases the decoded document.
func (r *FitzRasterizer) Close() error {
	r.memo, r.memoPage = nil, -1
	if r.doc == nil {
		return nil
	}
	err := r.doc.Close()
	r.doc = nil
	r.numPages = 0
	return err
}
