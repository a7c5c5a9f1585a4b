package geometry

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pagetiles/internal/domain"
)

func newTestEngine(t *testing.T, buffer int) *Engine {
	t.Helper()
	e, err := NewEngine(Config{TileSize: 256, Buffer: buffer, Levels: DefaultLevels})
	require.NoError(t, err)
	return e
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(Config{TileSize: 0})
	assert.Error(t, err)

	_, err = NewEngine(Config{TileSize: 256, Buffer: -1})
	assert.Error(t, err)

	e, err := NewEngine(Config{TileSize: 128})
	require.NoError(t, err)
	assert.Equal(t, DefaultLevels, e.Levels())
}

func TestVisibleTiles_Basic(t *testing.T) {
	e := newTestEngine(t, 0)
	tiles := e.VisibleTiles(domain.Size{Width: 500, Height: 500}, domain.Transform{Scale: 1}, domain.Size{Width: 1000, Height: 1000}, 0)

	require.Len(t, tiles, 4)
	assert.Equal(t, domain.NewTileID(0, 1, 0, 0), tiles[0].ID)
	assert.Equal(t, domain.NewTileID(0, 1, 1, 1), tiles[3].ID)
	for _, tile := range tiles {
		assert.Equal(t, 256.0, tile.Width)
		assert.Equal(t, float64(tile.Col)*256, tile.X)
		assert.Equal(t, float64(tile.Row)*256, tile.Y)
	}
}

func TestVisibleTiles_BufferRing(t *testing.T) {
	e := newTestEngine(t, 1)
	tiles := e.VisibleTiles(domain.Size{Width: 500, Height: 500}, domain.Transform{X: -600, Y: -600, Scale: 1}, domain.Size{Width: 2000, Height: 2000}, 0)

	// visible cols 2..4 (600/256=2.3, 1100/256=4.3), plus one ring each side
	cols := map[int]bool{}
	rows := map[int]bool{}
	for _, tile := range tiles {
		cols[tile.Col] = true
		rows[tile.Row] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true}, cols)
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true}, rows)
	assert.Len(t, tiles, 25)
}

func TestVisibleTiles_CulledToContent(t *testing.T) {
	e := newTestEngine(t, 2)
	tiles := e.VisibleTiles(domain.Size{Width: 800, Height: 800}, domain.Transform{Scale: 1}, domain.Size{Width: 300, Height: 300}, 4)

	require.Len(t, tiles, 4)
	for _, tile := range tiles {
		assert.Less(t, tile.X, 300.0)
		assert.Less(t, tile.Y, 300.0)
		assert.Equal(t, 4, tile.PageIndex)
	}
}

func TestVisibleTiles_HigherLOD(t *testing.T) {
	e := newTestEngine(t, 0)
	tiles := e.VisibleTiles(domain.Size{Width: 500, Height: 500}, domain.Transform{Scale: 1.5}, domain.Size{Width: 1000, Height: 1000}, 0)

	require.NotEmpty(t, tiles)
	for _, tile := range tiles {
		assert.Equal(t, 2.0, tile.LOD)
		assert.Equal(t, 128.0, tile.Width)
		assert.Equal(t, 128.0, tile.Height)
	}
	// world visible width = 500/1.5 = 333.3, at LOD 2 = 666.7 px -> 3 columns
	assert.Len(t, tiles, 9)
}

func TestVisibleTiles_EmptyCases(t *testing.T) {
	e := newTestEngine(t, 1)
	content := domain.Size{Width: 1000, Height: 1000}
	viewport := domain.Size{Width: 500, Height: 500}

	assert.Empty(t, e.VisibleTiles(domain.Size{}, domain.Transform{Scale: 1}, content, 0))
	assert.Empty(t, e.VisibleTiles(viewport, domain.Transform{Scale: 1}, domain.Size{}, 0))
	assert.Empty(t, e.VisibleTiles(viewport, domain.Transform{Scale: 0}, content, 0))
	// panned entirely past the page, beyond the buffer ring
	assert.Empty(t, e.VisibleTiles(viewport, domain.Transform{X: -5000, Scale: 1}, content, 0))
}

func TestVisibleTiles_ExtremeZoomOut(t *testing.T) {
	e := newTestEngine(t, 1)
	content := domain.Size{Width: 3000, Height: 1000}

	for _, scale := range []float64{1e-300, 1e-100, 1e-20} {
		tiles := e.VisibleTiles(domain.Size{Width: 800, Height: 600}, domain.Transform{X: 10, Y: 10, Scale: scale}, content, 0)
		// the whole page at LOD 0.125 is a 2x1 grid
		require.Len(t, tiles, 2, "scale %g", scale)
		assert.Equal(t, 0.125, tiles[0].LOD)
		assert.Equal(t, domain.NewTileID(0, 0.125, 0, 1), tiles[1].ID)
	}

	f := e.Frame(domain.Size{Width: 800, Height: 600}, domain.Transform{Scale: 1e-300}, content, 0)
	assert.Len(t, f.CellsCovering(domain.Rect{X: -1e300, Y: -1e300, Width: 2e300, Height: 2e300}), 2)
}

func TestVisibleTiles_Idempotent(t *testing.T) {
	e := newTestEngine(t, 1)
	args := func() []domain.Tile {
		return e.VisibleTiles(domain.Size{Width: 731, Height: 415}, domain.Transform{X: -123.5, Y: -77.25, Scale: 2.7}, domain.Size{Width: 612, Height: 792}, 2)
	}
	assert.Equal(t, args(), args())
}

// Every point of (visible rect + buffer) ∩ content is covered by exactly one
// tile, and no tile starts outside the content.
func TestVisibleTiles_CoverageProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		buffer := rng.Intn(3)
		e := newTestEngine(t, buffer)
		viewport := domain.Size{Width: 50 + rng.Float64()*1500, Height: 50 + rng.Float64()*1500}
		content := domain.Size{Width: 10 + rng.Float64()*3000, Height: 10 + rng.Float64()*3000}
		tr := domain.Transform{
			X:     -rng.Float64()*2000 + 500,
			Y:     -rng.Float64()*2000 + 500,
			Scale: 0.05 + rng.Float64()*10,
		}

		f := e.Frame(viewport, tr, content, 0)
		ids := map[domain.TileID]bool{}
		for _, tile := range f.Tiles {
			require.False(t, ids[tile.ID], "duplicate tile %s", tile.ID)
			ids[tile.ID] = true
			require.Less(t, tile.X, content.Width)
			require.Less(t, tile.Y, content.Height)
			require.GreaterOrEqual(t, tile.Col, 0)
			require.GreaterOrEqual(t, tile.Row, 0)
			require.True(t, tile.Rect().Intersects(f.Region), "tile %s outside expanded region", tile.ID)
		}

		target := f.Region.Intersect(domain.Rect{Width: content.Width, Height: content.Height})
		if target.Empty() {
			require.Empty(t, f.Tiles)
			continue
		}
		for s := 0; s < 50; s++ {
			p := domain.Point{
				X: target.X + rng.Float64()*target.Width*0.999,
				Y: target.Y + rng.Float64()*target.Height*0.999,
			}
			hits := 0
			for _, tile := range f.Tiles {
				if tile.Rect().Contains(p) {
					hits++
				}
			}
			require.Equal(t, 1, hits, "point %+v in iteration %d", p, i)
		}
	}
}

func TestFrame_CellsCovering(t *testing.T) {
	e := newTestEngine(t, 0)
	f := e.Frame(domain.Size{Width: 500, Height: 500}, domain.Transform{Scale: 2}, domain.Size{Width: 1000, Height: 1000}, 1)
	require.Equal(t, 2.0, f.LOD)

	// one LOD-1 tile (256 world units) is covered by a 2x2 block of LOD-2 tiles
	ids := f.CellsCovering(domain.Rect{X: 0, Y: 0, Width: 256, Height: 256})
	assert.ElementsMatch(t, []domain.TileID{
		domain.NewTileID(1, 2, 0, 0), domain.NewTileID(1, 2, 0, 1),
		domain.NewTileID(1, 2, 1, 0), domain.NewTileID(1, 2, 1, 1),
	}, ids)

	// restricted to the region: visible is 250x250 world units
	ids = f.CellsCovering(domain.Rect{X: 256, Y: 0, Width: 256, Height: 256})
	assert.Empty(t, ids)

	assert.Empty(t, f.CellsCovering(domain.Rect{X: 2000, Y: 2000, Width: 10, Height: 10}))
}
