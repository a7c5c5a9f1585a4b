package domain

import (
	"errors"
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTileID_Deterministic(t *testing.T) {
	a := NewTileID(3, 0.125, 7, 11)
	b := NewTileID(3, 0.125, 7, 11)
	assert.Equal(t, a, b)
	assert.Equal(t, TileID("3:0.125:7:11"), a)

	assert.NotEqual(t, NewTileID(3, 1, 7, 11), NewTileID(3, 2, 7, 11))
	assert.NotEqual(t, NewTileID(3, 1, 1, 11), NewTileID(3, 1, 11, 1))
}

func TestTransform_RoundTrip(t *testing.T) {
	tr := Transform{X: -120, Y: 35, Scale: 2.5}
	p := Point{X: 40, Y: 12}

	s := tr.ToScreen(p)
	assert.InDelta(t, 40*2.5-120, s.X, 1e-9)
	assert.InDelta(t, 12*2.5+35, s.Y, 1e-9)

	back := tr.ToWorld(s)
	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)
}

func TestRect_Intersect(t *testing.T) {
	tests := []struct {
		name string
		a, b Rect
		want Rect
	}{
		{"overlap", Rect{0, 0, 10, 10}, Rect{5, 5, 10, 10}, Rect{5, 5, 5, 5}},
		{"contained", Rect{0, 0, 10, 10}, Rect{2, 3, 4, 5}, Rect{2, 3, 4, 5}},
		{"touching edge", Rect{0, 0, 10, 10}, Rect{10, 0, 5, 5}, Rect{}},
		{"disjoint", Rect{0, 0, 1, 1}, Rect{5, 5, 1, 1}, Rect{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Intersect(tt.b))
			assert.Equal(t, !tt.want.Empty(), tt.a.Intersects(tt.b))
		})
	}
}

func TestTile_Job(t *testing.T) {
	tile := Tile{
		ID: NewTileID(0, 2, 1, 3), PageIndex: 0, Row: 1, Col: 3, LOD: 2,
		X: 384, Y: 128, Width: 128, Height: 128,
	}
	job := tile.Job()
	assert.Equal(t, tile.ID, job.TileID)
	assert.Equal(t, image.Rect(768, 256, 1024, 512), job.TileRect)
	assert.Equal(t, image.Pt(256, 256), job.OutputSize)
}

func TestBitmap_ReleaseOnce(t *testing.T) {
	calls := 0
	b := NewBitmap(image.NewRGBA(image.Rect(0, 0, 4, 4)), func(*image.RGBA) { calls++ })

	assert.True(t, b.Release())
	assert.False(t, b.Release())
	assert.True(t, b.Released())
	assert.Nil(t, b.Image)
	assert.Equal(t, 1, calls)

	var nilBitmap *Bitmap
	assert.False(t, nilBitmap.Release())
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("load: %w", SupersededError())
	assert.True(t, IsType(err, ErrorTypeSuperseded))
	assert.False(t, IsType(err, ErrorTypeLoad))
	assert.True(t, errors.Is(err, ErrSuperseded))

	nested := LoadError("worker 2", RenderError("inner", nil))
	assert.True(t, IsType(nested, ErrorTypeLoad))
	assert.True(t, IsType(nested, ErrorTypeRender))

	require.False(t, IsType(errors.New("plain"), ErrorTypeLoad))
}
