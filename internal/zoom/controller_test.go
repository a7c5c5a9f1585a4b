package zoom

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pagetiles/internal/domain"
)

func newController(t *testing.T, viewport, page domain.Size) *Controller {
	t.Helper()
	c, err := New(DefaultConfig(), viewport, page)
	require.NoError(t, err)
	return c
}

func assertPoint(t *testing.T, want, got domain.Point, delta float64) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, delta, "x")
	assert.InDelta(t, want.Y, got.Y, delta, "y")
}

func TestZoomAt_CenterKeepsWorldPoint(t *testing.T) {
	c := newController(t, domain.Size{Width: 500, Height: 500}, domain.Size{Width: 1000, Height: 1000})
	anchorScreen := domain.Point{X: 250, Y: 250}
	world := c.Transform().ToWorld(anchorScreen)
	assertPoint(t, domain.Point{X: 250, Y: 250}, world, 1e-9)

	tr, err := c.ZoomAt(AnchorCenter, domain.Point{}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, tr.Scale)
	assertPoint(t, anchorScreen, tr.ToScreen(world), 1)
	assertPoint(t, domain.Point{X: 250, Y: 250}, c.Scroll(), 1e-9)
}

func TestZoomAt_MarginCorrection(t *testing.T) {
	// content narrower than the viewport is centered, so the margin moves
	c := newController(t, domain.Size{Width: 500, Height: 500}, domain.Size{Width: 200, Height: 200})
	assertPoint(t, domain.Point{X: 150, Y: 150}, c.Margin(), 1e-9)

	focal := domain.Point{X: 200, Y: 210}
	world := c.Transform().ToWorld(focal)

	tr, err := c.ZoomAt(AnchorFocalPoint, focal, 2)
	require.NoError(t, err)
	assertPoint(t, domain.Point{X: 50, Y: 50}, c.Margin(), 1e-9)
	assertPoint(t, focal, tr.ToScreen(world), 1e-6)
	assertPoint(t, domain.Point{X: -50, Y: -40}, c.Scroll(), 1e-9)
}

func TestZoomAt_CenteredContentStaysCentered(t *testing.T) {
	c := newController(t, domain.Size{Width: 800, Height: 600}, domain.Size{Width: 100, Height: 100})
	_, err := c.ZoomAt(AnchorCenter, domain.Point{}, 3)
	require.NoError(t, err)
	assertPoint(t, domain.Point{}, c.Scroll(), 1e-9)
	assertPoint(t, domain.Point{X: 250, Y: 150}, c.Margin(), 1e-9)
}

func TestFitToScreen(t *testing.T) {
	c := newController(t, domain.Size{Width: 500, Height: 400}, domain.Size{Width: 1000, Height: 1000})
	c.SetScroll(domain.Point{X: 120, Y: 80})

	tr, err := c.FitToScreen()
	require.NoError(t, err)
	assert.InDelta(t, 0.4, tr.Scale, 1e-9)
	assertPoint(t, domain.Point{}, c.Scroll(), 0)
	// page is centered horizontally: 1000*0.4 = 400 wide in a 500 viewport
	assert.InDelta(t, 50, tr.X, 1e-9)
	assert.InDelta(t, 0, tr.Y, 1e-9)
}

func TestApplyScale_Clamps(t *testing.T) {
	c := newController(t, domain.Size{Width: 100, Height: 100}, domain.Size{Width: 100, Height: 100})
	assert.Equal(t, 10.0, c.ApplyScale(50))
	assert.Equal(t, 0.1, c.ApplyScale(0.001))
	assert.Equal(t, 0.1, c.ApplyScale(-1), "invalid scale is ignored")
}

func TestStepsWheelAndPinch(t *testing.T) {
	c := newController(t, domain.Size{Width: 500, Height: 500}, domain.Size{Width: 1000, Height: 1000})

	tr, err := c.ZoomIn()
	require.NoError(t, err)
	assert.InDelta(t, 1.25, tr.Scale, 1e-9)

	tr, err = c.ZoomOut()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, tr.Scale, 1e-9)

	tr, err = c.Wheel(-3)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, tr.Scale, 1e-9)
	tr, err = c.Wheel(0)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, tr.Scale, 1e-9)
	tr, err = c.Wheel(2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, tr.Scale, 1e-9)

	focal := domain.Point{X: 100, Y: 400}
	world := c.Transform().ToWorld(focal)
	tr, err = c.Pinch(1.5, focal)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, tr.Scale, 1e-9)
	assertPoint(t, focal, tr.ToScreen(world), 1e-6)

	_, err = c.Pinch(0, focal)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestTokens(t *testing.T) {
	c := newController(t, domain.Size{Width: 500, Height: 500}, domain.Size{Width: 1000, Height: 1000})

	first, err := c.BeginZoom(AnchorCenter, domain.Point{})
	require.NoError(t, err)
	second, err := c.BeginZoom(AnchorFocalPoint, domain.Point{X: 10, Y: 10})
	require.NoError(t, err)
	assert.Equal(t, AnchorFocalPoint, second.Kind())

	_, err = c.EndZoom(first)
	assert.ErrorIs(t, err, ErrStaleToken)

	c.ApplyScale(2)
	_, err = c.EndZoom(second)
	require.NoError(t, err)

	_, err = c.EndZoom(second)
	assert.ErrorIs(t, err, ErrTokenConsumed)

	_, err = c.EndZoom(Token{})
	assert.ErrorIs(t, err, ErrStaleToken)

	_, err = c.BeginZoom(AnchorKind(42), domain.Point{})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestClampScroll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClampScroll = true
	c, err := New(cfg, domain.Size{Width: 500, Height: 500}, domain.Size{Width: 1000, Height: 1000})
	require.NoError(t, err)

	// anchoring near the top-left corner while zooming out would scroll negative
	_, err = c.ZoomAt(AnchorFocalPoint, domain.Point{X: 400, Y: 400}, 0.6)
	require.NoError(t, err)
	assertPoint(t, domain.Point{}, c.Scroll(), 1e-9)

	_, err = c.ZoomAt(AnchorCenter, domain.Point{}, 4)
	require.NoError(t, err)
	assert.LessOrEqual(t, c.Scroll().X, 4000.0-500)
	assert.GreaterOrEqual(t, c.Scroll().X, 0.0)
}

func TestNew_Validation(t *testing.T) {
	for name, cfg := range map[string]Config{
		"zero min":      {MinScale: 0, MaxScale: 1, Step: 2},
		"max below min": {MinScale: 2, MaxScale: 1, Step: 2},
		"flat step":     {MinScale: 0.1, MaxScale: 1, Step: 1},
	} {
		_, err := New(cfg, domain.Size{}, domain.Size{})
		assert.True(t, domain.IsType(err, domain.ErrorTypeValidation), name)
	}
}

func TestParseAnchorKind(t *testing.T) {
	for _, k := range []AnchorKind{AnchorCenter, AnchorFocalPoint, AnchorFitToScreen} {
		got, err := ParseAnchorKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseAnchorKind("sideways")
	assert.Error(t, err)
}

// Any sequence of anchored zooms keeps the anchored world point under the
// same screen position.
func TestZoomAt_AnchorInvariantRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cfg := Config{MinScale: 0.05, MaxScale: 20, Step: 1.25}

	for i := 0; i < 300; i++ {
		viewport := domain.Size{Width: 100 + rng.Float64()*1500, Height: 100 + rng.Float64()*1500}
		page := domain.Size{Width: 50 + rng.Float64()*3000, Height: 50 + rng.Float64()*3000}
		c, err := New(cfg, viewport, page)
		require.NoError(t, err)
		c.ApplyScale(0.1 + rng.Float64()*5)
		c.SetScroll(domain.Point{X: rng.Float64() * 1000, Y: rng.Float64() * 1000})

		for step := 0; step < 10; step++ {
			kind := AnchorKind(rng.Intn(2))
			p := domain.Point{X: rng.Float64() * viewport.Width, Y: rng.Float64() * viewport.Height}
			if kind == AnchorCenter {
				p = domain.Point{X: viewport.Width / 2, Y: viewport.Height / 2}
			}
			world := c.Transform().ToWorld(p)

			tr, err := c.ZoomAt(kind, p, 0.05+rng.Float64()*20)
			require.NoError(t, err)
			assertPoint(t, p, tr.ToScreen(world), 1e-6)
		}
	}
}
