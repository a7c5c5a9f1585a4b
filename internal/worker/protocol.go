// Package worker runs one rasterizer instance on its own goroutine and
// talks to the scheduler only through request/response messages.
package worker

import "github.com/spherical/pagetiles/internal/domain"

// Kind identifies a protocol message.
type Kind int

const (
	// coordinator -> worker
	LoadDocument Kind = iota
	RenderTile

	// worker -> coordinator
	DocumentLoaded
	DocumentError
	TileReady
	TileError
)

func (k Kind) String() string {
	switch k {
	case LoadDocument:
		return "LOAD_DOCUMENT"
	case RenderTile:
		return "RENDER_TILE"
	case DocumentLoaded:
		return "DOCUMENT_LOADED"
	case DocumentError:
		return "DOCUMENT_ERROR"
	case TileReady:
		return "TILE_READY"
	case TileError:
		return "TILE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Request is sent to a worker. LoadID correlates LOAD_DOCUMENT replies;
// Seq correlates RENDER_TILE replies together with the job's tile id.
type Request struct {
	Kind   Kind
	LoadID string
	Source domain.Source
	Job    domain.RenderJob
	Seq    uint64
}

// Response is sent back by a worker.
type Response struct {
	Kind       Kind
	Worker     int
	LoadID     string
	Dimensions domain.Dimensions
	TileID     domain.TileID
	Seq        uint64
	Bitmap     *domain.Bitmap
	Err        error
}
