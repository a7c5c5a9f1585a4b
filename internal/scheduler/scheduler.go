// Package scheduler distributes document loads and tile renders over a fixed
// pool of workers.
//
// A document load is a barrier: it completes only once every worker has
// opened the document, and fails on the first worker error. Render jobs are
// dispatched round-robin. Cache jobs are tracked in a table keyed by tile
// id; direct renders are keyed by sequence number so they never replace or
// cancel a cache job for the same tile. Results for jobs no longer tracked
// are discarded and their bitmaps released.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spherical/pagetiles/internal/domain"
	"github.com/spherical/pagetiles/internal/observability"
	"github.com/spherical/pagetiles/internal/worker"
)

// Config configures a Scheduler.
type Config struct {
	Workers int
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Workers    int               `json:"workers"`
	Dispatched []int             `json:"dispatched"`
	Queued     []int             `json:"queued"`
	InFlight   int               `json:"inFlight"`
	Completed  uint64            `json:"completed"`
	Failed     uint64            `json:"failed"`
	Discarded  uint64            `json:"discarded"`
	Cancelled  uint64            `json:"cancelled"`
	Superseded uint64            `json:"superseded"`
	Loaded     bool              `json:"loaded"`
	Dimensions domain.Dimensions `json:"dimensions"`
}

type job struct {
	tile   domain.Tile
	seq    uint64
	worker int
	direct bool
	result chan domain.TileResult
}

type pendingLoad struct {
	id       string
	source   domain.Source
	expected int
	acked    int
	dims     domain.Dimensions
	done     chan error
	finished bool
}

// Scheduler owns the worker pool. All methods are safe for concurrent use.
type Scheduler struct {
	logger  *observability.Logger
	workers []*worker.Worker
	replies chan worker.Response

	cancel   context.CancelFunc
	loopDone chan struct{}

	mu     sync.Mutex
	closed bool
	next   int
	seq    uint64
	jobs   map[domain.TileID]*job
	direct map[uint64]*job
	load   *pendingLoad
	loaded bool
	dims   domain.Dimensions
	stats  Stats
}

// New starts cfg.Workers workers, each with its own rasterizer from factory.
func New(cfg Config, factory domain.RasterizerFactory, logger *observability.Logger) (*Scheduler, error) {
	if cfg.Workers <= 0 {
		return nil, domain.ValidationError(fmt.Sprintf("worker count must be positive, got %d", cfg.Workers), nil)
	}
	if factory == nil {
		return nil, domain.ValidationError("rasterizer factory is required", nil)
	}
	if logger == nil {
		logger = observability.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:   logger.WithComponent("scheduler"),
		replies:  make(chan worker.Response, cfg.Workers*4),
		cancel:   cancel,
		loopDone: make(chan struct{}),
		jobs:     make(map[domain.TileID]*job),
		direct:   make(map[uint64]*job),
	}
	s.stats.Workers = cfg.Workers
	s.stats.Dispatched = make([]int, cfg.Workers)

	for i := 0; i < cfg.Workers; i++ {
		w := worker.New(i, factory(), s.replies, logger)
		s.workers = append(s.workers, w)
		go w.Run(ctx)
	}
	go s.replyLoop(ctx)

	s.logger.Info().Int("workers", cfg.Workers).Msg("Scheduler started")
	return s, nil
}

// LoadDocument broadcasts src to every worker and waits for all of them to
// acknowledge. The first worker error fails the load. A later LoadDocument
// call rejects this one with a superseded error. If ctx ends first the load
// is abandoned and ctx's error returned.
func (s *Scheduler) LoadDocument(ctx context.Context, src domain.Source) (domain.Dimensions, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Dimensions{}, domain.ClosedError("cannot load document")
	}
	if s.load != nil {
		s.logger.Info().Str("load_id", s.load.id).Msg("Superseding outstanding document load")
		s.finishLoad(s.load, domain.SupersededError())
	}

	pl := &pendingLoad{
		id:       uuid.NewString(),
		source:   src,
		expected: len(s.workers),
		done:     make(chan error, 1),
	}
	s.load = pl
	s.loaded = false
	s.dims = domain.Dimensions{}
	for _, w := range s.workers {
		w.Send(worker.Request{Kind: worker.LoadDocument, LoadID: pl.id, Source: src})
	}
	s.mu.Unlock()

	s.logger.Info().Str("load_id", pl.id).Str("source", src.String()).Int("workers", pl.expected).Msg("Loading document")

	select {
	case err := <-pl.done:
		if err != nil {
			return domain.Dimensions{}, err
		}
		return pl.dims, nil
	case <-ctx.Done():
		s.mu.Lock()
		s.finishLoad(pl, ctx.Err())
		s.mu.Unlock()
		// the load may have completed concurrently; the first outcome wins
		if err := <-pl.done; err != nil {
			return domain.Dimensions{}, err
		}
		return pl.dims, nil
	}
}

// finishLoad settles pl once. Callers hold s.mu.
func (s *Scheduler) finishLoad(pl *pendingLoad, err error) {
	if pl.finished {
		return
	}
	pl.finished = true
	pl.done <- err
	if s.load == pl {
		s.load = nil
	}
}

// Dimensions returns the loaded document's dimensions, if a load completed.
func (s *Scheduler) Dimensions() (domain.Dimensions, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dims, s.loaded
}

// Submit dispatches tile to the next worker and returns a channel that
// receives exactly one result, unless the job is cancelled first. If a job
// for the same id is in flight, it is resolved with a cancelled error and
// replaced.
func (s *Scheduler) Submit(tile domain.Tile) (<-chan domain.TileResult, error) {
	j, err := s.submit(tile, false)
	if err != nil {
		return nil, err
	}
	return j.result, nil
}

func (s *Scheduler) submit(tile domain.Tile, direct bool) (*job, error) {
	if tile.ID == "" {
		return nil, domain.ValidationError("tile id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ClosedError("cannot submit tile")
	}

	if old, ok := s.jobs[tile.ID]; ok && !direct {
		old.result <- domain.TileResult{TileID: tile.ID, Err: domain.CancelledError("replaced by a newer job for the same tile")}
		s.stats.Superseded++
	}

	s.seq++
	idx := s.next % len(s.workers)
	s.next++
	j := &job{
		tile:   tile,
		seq:    s.seq,
		worker: idx,
		direct: direct,
		result: make(chan domain.TileResult, 1),
	}
	if direct {
		s.direct[j.seq] = j
	} else {
		s.jobs[tile.ID] = j
	}
	s.stats.Dispatched[idx]++
	s.workers[idx].Send(worker.Request{Kind: worker.RenderTile, Job: tile.Job(), Seq: j.seq})

	s.logger.Debug().Str("tile", string(tile.ID)).Int("worker", idx).Uint64("seq", j.seq).Msg("Tile dispatched")
	return j, nil
}

// RenderTile renders tile outside the cache job table and waits for its
// bitmap. Concurrent calls for the same tile each get their own result, and
// neither Submit nor CancelTile affects them. If ctx ends first the job is
// cancelled.
func (s *Scheduler) RenderTile(ctx context.Context, tile domain.Tile) (*domain.Bitmap, error) {
	j, err := s.submit(tile, true)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-j.result:
		return res.Bitmap, res.Err
	case <-ctx.Done():
		if !s.cancelJob(j) {
			select {
			case res := <-j.result:
				res.Bitmap.Release()
			default:
			}
		}
		return nil, ctx.Err()
	}
}

// CancelTile drops the in-flight cache job for id. The worker still finishes it;
// the late result is discarded and its bitmap released. It reports whether
// a job was removed.
func (s *Scheduler) CancelTile(id domain.TileID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	s.stats.Cancelled++
	return true
}

func (s *Scheduler) cancelJob(j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.direct {
		if _, ok := s.direct[j.seq]; !ok {
			return false
		}
		delete(s.direct, j.seq)
	} else {
		if cur, ok := s.jobs[j.tile.ID]; !ok || cur != j {
			return false
		}
		delete(s.jobs, j.tile.ID)
	}
	s.stats.Cancelled++
	return true
}

// InFlight returns the number of jobs awaiting a result.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs) + len(s.direct)
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Dispatched = append([]int(nil), s.stats.Dispatched...)
	st.Queued = make([]int, len(s.workers))
	for i, w := range s.workers {
		st.Queued[i] = w.Pending()
	}
	st.InFlight = len(s.jobs) + len(s.direct)
	st.Loaded = s.loaded
	st.Dimensions = s.dims
	return st
}

func (s *Scheduler) replyLoop(ctx context.Context) {
	defer close(s.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-s.replies:
			s.handle(resp)
		}
	}
}

func (s *Scheduler) handle(resp worker.Response) {
	switch resp.Kind {
	case worker.DocumentLoaded, worker.DocumentError:
		s.handleLoad(resp)
	case worker.TileReady, worker.TileError:
		s.handleTile(resp)
	default:
		s.logger.Warn().Str("kind", resp.Kind.String()).Int("worker", resp.Worker).Msg("Unexpected worker message")
		resp.Bitmap.Release()
	}
}

func (s *Scheduler) handleLoad(resp worker.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pl := s.load
	if pl == nil || pl.id != resp.LoadID {
		s.logger.Debug().Str("load_id", resp.LoadID).Int("worker", resp.Worker).Msg("Ignoring stale load acknowledgement")
		return
	}

	if resp.Kind == worker.DocumentError {
		s.logger.Warn().Err(resp.Err).Str("load_id", pl.id).Int("worker", resp.Worker).Msg("Document load failed")
		s.finishLoad(pl, domain.LoadError(fmt.Sprintf("worker %d failed to load %s", resp.Worker, pl.source), resp.Err))
		return
	}

	if pl.acked == 0 {
		pl.dims = resp.Dimensions
	}
	pl.acked++
	if pl.acked < pl.expected {
		return
	}
	s.loaded = true
	s.dims = pl.dims
	s.logger.Info().Str("load_id", pl.id).Int("pages", pl.dims.NumPages).
		Float64("width", pl.dims.Width).Float64("height", pl.dims.Height).Msg("Document loaded on all workers")
	s.finishLoad(pl, nil)
}

func (s *Scheduler) handleTile(resp worker.Response) {
	s.mu.Lock()
	j := s.lookup(resp)
	if j == nil {
		s.stats.Discarded++
		s.mu.Unlock()
		resp.Bitmap.Release()
		s.logger.Debug().Str("tile", string(resp.TileID)).Uint64("seq", resp.Seq).Msg("Discarded stale tile result")
		return
	}

	res := domain.TileResult{TileID: resp.TileID}
	if resp.Kind == worker.TileReady {
		s.stats.Completed++
		res.Bitmap = resp.Bitmap
	} else {
		s.stats.Failed++
		res.Err = resp.Err
		if res.Err == nil {
			res.Err = domain.RenderError("tile render failed", nil)
		}
		resp.Bitmap.Release()
	}
	j.result <- res
	s.mu.Unlock()

	if res.Err != nil {
		s.logger.Debug().Err(res.Err).Str("tile", string(resp.TileID)).Msg("Tile failed")
	}
}

// lookup removes and returns the job resp answers, or nil if it is stale.
// Callers hold s.mu.
func (s *Scheduler) lookup(resp worker.Response) *job {
	if j, ok := s.direct[resp.Seq]; ok && j.tile.ID == resp.TileID {
		delete(s.direct, resp.Seq)
		return j
	}
	if j, ok := s.jobs[resp.TileID]; ok && j.seq == resp.Seq {
		delete(s.jobs, resp.TileID)
		return j
	}
	return nil
}

// Close rejects any outstanding load, resolves in-flight jobs with a closed
// error, stops the workers and releases bitmaps that arrive late. It is
// safe to call more than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.load != nil {
		s.finishLoad(s.load, domain.ClosedError("document load aborted"))
	}
	for id, j := range s.jobs {
		j.result <- domain.TileResult{TileID: id, Err: domain.ClosedError("scheduler closed before tile completed")}
		delete(s.jobs, id)
	}
	for seq, j := range s.direct {
		j.result <- domain.TileResult{TileID: j.tile.ID, Err: domain.ClosedError("scheduler closed before tile completed")}
		delete(s.direct, seq)
	}
	s.loaded = false
	s.mu.Unlock()

	s.cancel()
	for _, w := range s.workers {
		<-w.Done()
	}
	<-s.loopDone

	close(s.replies)
	released := 0
	for resp := range s.replies {
		if resp.Bitmap.Release() {
			released++
		}
	}
	s.logger.Info().Int("late_bitmaps_released", released).Msg("Scheduler closed")
	return nil
}
