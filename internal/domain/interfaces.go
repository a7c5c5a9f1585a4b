package domain

import "context"

// Rasterizer turns tile jobs into bitmaps for one decoded document.
// Implementations are not safe for concurrent use: every worker owns its own instance.
type Rasterizer interface {
	// Open decodes the document, replacing any previously opened one.
	Open(ctx context.Context, src Source) (Dimensions, error)

	// RenderTile rasterizes job.TileRect of page job.PageIndex at job.LOD into
	// a bitmap of job.OutputSize. The caller owns the returned bitmap.
	RenderTile(ctx context.Context, job RenderJob) (*Bitmap, error)

	// Close releases the decoded document.
	Close() error
}

// RasterizerFactory creates an independent Rasterizer per worker.
type RasterizerFactory func() Rasterizer
