package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spherical/pagetiles/internal/domain"
	"github.com/spherical/pagetiles/internal/observability"
)

// Worker owns one Rasterizer (and so one decoded document) and processes its
// mailbox in order. The mailbox is unbounded so Send never blocks.
type Worker struct {
	id     int
	raster domain.Rasterizer
	out    chan<- Response
	logger *observability.Logger

	mu     sync.Mutex
	queue  []Request
	closed bool
	notify chan struct{}

	done chan struct{}
}

// New creates a worker that replies on out. Call Run to start it.
func New(id int, raster domain.Rasterizer, out chan<- Response, logger *observability.Logger) *Worker {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Worker{
		id:     id,
		raster: raster,
		out:    out,
		logger: logger.With().Str("component", "worker").Int("worker", id).Logger(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the worker's index in its pool.
func (w *Worker) ID() int { return w.id }

// Send enqueues a request. It reports false once the worker has stopped.
func (w *Worker) Send(req Request) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, req)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued, not yet started requests.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Done is closed when Run has returned and the rasterizer is closed.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Run processes requests until ctx is cancelled. Replies that cannot be
// delivered because ctx ended have their bitmaps released.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if err := w.raster.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to close rasterizer")
		}
	}()
	defer w.stop()

	for {
		req, ok := w.next(ctx)
		if !ok {
			return
		}
		resp := w.handle(ctx, req)
		select {
		case w.out <- resp:
		case <-ctx.Done():
			resp.Bitmap.Release()
			return
		}
	}
}

func (w *Worker) stop() {
	w.mu.Lock()
	w.closed = true
	w.queue = nil
	w.mu.Unlock()
}

func (w *Worker) next(ctx context.Context) (Request, bool) {
	for {
		w.mu.Lock()
		if len(w.queue) > 0 {
			req := w.queue[0]
			w.queue[0] = Request{}
			w.queue = w.queue[1:]
			w.mu.Unlock()
			return req, true
		}
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return Request{}, false
		case <-w.notify:
		}
	}
}

func (w *Worker) handle(ctx context.Context, req Request) (resp Response) {
	switch req.Kind {
	case LoadDocument:
		resp = Response{Kind: DocumentError, Worker: w.id, LoadID: req.LoadID}
	case RenderTile:
		resp = Response{Kind: TileError, Worker: w.id, TileID: req.Job.TileID, Seq: req.Seq}
	default:
		return Response{Kind: TileError, Worker: w.id, Err: domain.ValidationError(fmt.Sprintf("unknown request kind %v", req.Kind), nil)}
	}

	defer func() {
		if p := recover(); p != nil {
			w.logger.Error().Str("request", req.Kind.String()).Msgf("Rasterizer panic: %v", p)
			resp.Bitmap.Release()
			resp.Bitmap = nil
			resp.Kind = errorKind(req.Kind)
			resp.Err = domain.RenderError(fmt.Sprintf("rasterizer panic: %v", p), nil)
		}
	}()

	start := time.Now()
	switch req.Kind {
	case LoadDocument:
		dims, err := w.raster.Open(ctx, req.Source)
		if err != nil {
			resp.Err = err
			w.logger.Warn().Err(err).Str("load_id", req.LoadID).Msg("Document load failed")
			return resp
		}
		resp.Kind = DocumentLoaded
		resp.Dimensions = dims
		w.logger.Debug().Str("load_id", req.LoadID).Int("pages", dims.NumPages).Dur("took", time.Since(start)).Msg("Document loaded")

	case RenderTile:
		bm, err := w.raster.RenderTile(ctx, req.Job)
		if err != nil {
			resp.Err = err
			w.logger.Debug().Err(err).Str("tile", string(req.Job.TileID)).Msg("Tile render failed")
			return resp
		}
		resp.Kind = TileReady
		resp.Bitmap = bm
		w.logger.Debug().Str("tile", string(req.Job.TileID)).Dur("took", time.Since(start)).Msg("Tile rendered")
	}
	return resp
}

func errorKind(k Kind) Kind {
	if k == LoadDocument {
		return DocumentError
	}
	return TileError
}
