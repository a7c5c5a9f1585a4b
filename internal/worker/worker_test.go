package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pagetiles/internal/domain"
	"github.com/spherical/pagetiles/internal/raster"
)

func testJob(row, col int) domain.RenderJob {
	return domain.Tile{
		ID: domain.NewTileID(0, 1, row, col), Row: row, Col: col, LOD: 1,
		X: float64(col) * 32, Y: float64(row) * 32, Width: 32, Height: 32,
	}.Job()
}

func recv(t *testing.T, ch <-chan Response) Response {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker response")
		return Response{}
	}
}

func TestWorker_LoadThenRender(t *testing.T) {
	pool := raster.NewPool(4)
	out := make(chan Response, 4)
	w := New(3, raster.NewPatternRasterizer(pool, nil), out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.True(t, w.Send(Request{Kind: RenderTile, Job: testJob(0, 0), Seq: 1}))
	require.True(t, w.Send(Request{Kind: LoadDocument, LoadID: "L1", Source: domain.Source{Path: "pattern://100x100x3"}}))
	require.True(t, w.Send(Request{Kind: RenderTile, Job: testJob(1, 2), Seq: 2}))

	early := recv(t, out)
	assert.Equal(t, TileError, early.Kind)
	assert.ErrorIs(t, early.Err, domain.ErrNoDocument)
	assert.Equal(t, uint64(1), early.Seq)

	loaded := recv(t, out)
	assert.Equal(t, DocumentLoaded, loaded.Kind)
	assert.Equal(t, "L1", loaded.LoadID)
	assert.Equal(t, 3, loaded.Worker)
	assert.Equal(t, 3, loaded.Dimensions.NumPages)

	ready := recv(t, out)
	assert.Equal(t, TileReady, ready.Kind)
	assert.Equal(t, domain.NewTileID(0, 1, 1, 2), ready.TileID)
	require.NotNil(t, ready.Bitmap)
	ready.Bitmap.Release()
	assert.Equal(t, 0, pool.Outstanding())
}

func TestWorker_LoadError(t *testing.T) {
	out := make(chan Response, 1)
	w := New(0, raster.NewPatternRasterizer(raster.NewPool(0), nil), out, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Send(Request{Kind: LoadDocument, LoadID: "L", Source: domain.Source{Path: "not-a-pattern"}})
	resp := recv(t, out)
	assert.Equal(t, DocumentError, resp.Kind)
	assert.True(t, domain.IsType(resp.Err, domain.ErrorTypeLoad))
}

type panickyRasterizer struct{ closed bool }

func (p *panickyRasterizer) Open(context.Context, domain.Source) (domain.Dimensions, error) {
	return domain.Dimensions{NumPages: 1, Width: 10, Height: 10}, nil
}
func (p *panickyRasterizer) RenderTile(context.Context, domain.RenderJob) (*domain.Bitmap, error) {
	panic("decoder blew up")
}
func (p *panickyRasterizer) Close() error { p.closed = true; return nil }

func TestWorker_RecoversPanic(t *testing.T) {
	out := make(chan Response, 1)
	r := &panickyRasterizer{}
	w := New(1, r, out, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	w.Send(Request{Kind: RenderTile, Job: testJob(0, 0), Seq: 9})
	resp := recv(t, out)
	assert.Equal(t, TileError, resp.Kind)
	assert.True(t, domain.IsType(resp.Err, domain.ErrorTypeRender))
	assert.Equal(t, uint64(9), resp.Seq)

	cancel()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.True(t, r.closed)
	assert.False(t, w.Send(Request{Kind: RenderTile}))
}

func TestWorker_ReleasesUndeliveredBitmap(t *testing.T) {
	pool := raster.NewPool(1)
	out := make(chan Response) // unbuffered and never read
	w := New(0, raster.NewPatternRasterizer(pool, nil), out, nil)
	ctx, cancel := context.WithCancel(context.Background())

	rz := raster.NewPatternRasterizer(pool, nil)
	_, err := rz.Open(ctx, domain.Source{Path: "pattern://64x64"})
	require.NoError(t, err)
	w.raster = rz

	go w.Run(ctx)
	w.Send(Request{Kind: RenderTile, Job: testJob(0, 0), Seq: 1})

	require.Eventually(t, func() bool { return pool.Outstanding() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-w.Done()
	assert.Equal(t, 0, pool.Outstanding())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "TILE_READY", TileReady.String())
	assert.Equal(t, "LOAD_DOCUMENT", LoadDocument.String())
	assert.Equal(t, "UNKNOWN", Kind(99).String())
}
