// Package zoom changes the view scale while keeping an anchor point fixed
// on screen.
//
// A zoom is two-phase. BeginZoom records where the anchor sits as a ratio
// of the current content size. The caller then changes the scale with
// ApplyScale, and EndZoom recomputes the scroll offset so the anchor lands
// back on the same screen position. Content narrower than the viewport is
// centered, so the centering margin before and after the change is part of
// that computation.
package zoom

import (
	"errors"
	"fmt"
	"math"

	"github.com/spherical/pagetiles/internal/domain"
)

var (
	// ErrTokenConsumed is returned when EndZoom is called twice for one zoom.
	ErrTokenConsumed = errors.New("zoom token already consumed")
	// ErrStaleToken is returned for a token from a zoom that a later
	// BeginZoom replaced.
	ErrStaleToken = errors.New("zoom token is stale")
)

// AnchorKind selects what stays fixed during a zoom.
type AnchorKind int

const (
	// AnchorCenter keeps the viewport center fixed (wheel, toolbar).
	AnchorCenter AnchorKind = iota
	// AnchorFocalPoint keeps a given screen point fixed (pinch, touch).
	AnchorFocalPoint
	// AnchorFitToScreen resets the scroll offset to the origin.
	AnchorFitToScreen
)

func (k AnchorKind) String() string {
	switch k {
	case AnchorCenter:
		return "center"
	case AnchorFocalPoint:
		return "focal-point"
	case AnchorFitToScreen:
		return "fit-to-screen"
	default:
		return fmt.Sprintf("AnchorKind(%d)", int(k))
	}
}

// ParseAnchorKind parses the names returned by AnchorKind.String.
func ParseAnchorKind(s string) (AnchorKind, error) {
	switch s {
	case "center", "":
		return AnchorCenter, nil
	case "focal-point", "focal":
		return AnchorFocalPoint, nil
	case "fit-to-screen", "fit":
		return AnchorFitToScreen, nil
	}
	return 0, domain.ValidationError(fmt.Sprintf("unknown anchor kind %q", s), nil)
}

// Config bounds and steps the scale.
type Config struct {
	MinScale float64
	MaxScale float64
	// Step is the factor applied by ZoomIn, ZoomOut and Wheel.
	Step float64
	// ClampScroll keeps the restored scroll inside the scrollable range.
	// The anchor can then move when it sits near the content edge.
	ClampScroll bool
}

// DefaultConfig returns the default scale bounds.
func DefaultConfig() Config {
	return Config{MinScale: 0.1, MaxScale: 10, Step: 1.25}
}

func (c Config) validate() error {
	if c.MinScale <= 0 || c.MaxScale < c.MinScale {
		return domain.ValidationError(fmt.Sprintf("invalid scale bounds [%g, %g]", c.MinScale, c.MaxScale), nil)
	}
	if c.Step <= 1 {
		return domain.ValidationError(fmt.Sprintf("zoom step must be greater than 1, got %g", c.Step), nil)
	}
	return nil
}

// Token identifies one BeginZoom/EndZoom pair.
type Token struct {
	gen  uint64
	kind AnchorKind
}

// Kind returns the anchor kind the token was issued for.
func (t Token) Kind() AnchorKind { return t.kind }

type anchor struct {
	kind   AnchorKind
	screen domain.Point
	ratio  domain.Point
}

// State is a snapshot of the controller's layout.
type State struct {
	Scale     float64          `json:"scale"`
	Scroll    domain.Point     `json:"scroll"`
	Margin    domain.Point     `json:"margin"`
	Content   domain.Size      `json:"content"`
	Viewport  domain.Size      `json:"viewport"`
	Transform domain.Transform `json:"transform"`
}

// Controller holds scale and scroll for one viewport. It is meant to be
// driven from a single goroutine.
type Controller struct {
	cfg      Config
	viewport domain.Size
	page     domain.Size
	scale    float64
	scroll   domain.Point

	gen    uint64
	active *anchor
}

// New creates a controller at scale 1 (clamped to the configured bounds).
func New(cfg Config, viewport, page domain.Size) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Controller{cfg: cfg, viewport: viewport, page: page}
	c.scale = c.clamp(1)
	return c, nil
}

func (c *Controller) clamp(scale float64) float64 {
	return math.Min(c.cfg.MaxScale, math.Max(c.cfg.MinScale, scale))
}

func (c *Controller) Scale() float64 { return c.scale }
func (c *Controller) Scroll() domain.Point { return c.scroll }
func (c *Controller) Viewport() domain.Size { return c.viewport }
func (c *Controller) PageSize() domain.Size { return c.page }

// SetScroll sets the scroll offset in screen pixels.
func (c *Controller) SetScroll(p domain.Point) { c.scroll = p }

// SetViewport updates the viewport size.
func (c *Controller) SetViewport(s domain.Size) { c.viewport = s }

// SetPageSize updates the world-space size of the content.
func (c *Controller) SetPageSize(s domain.Size) { c.page = s }

// ContentSize returns the page size at the current scale.
func (c *Controller) ContentSize() domain.Size {
	return domain.Size{Width: c.page.Width * c.scale, Height: c.page.Height * c.scale}
}

// Margin returns the centering offset applied when content is narrower
// (or shorter) than the viewport.
func (c *Controller) Margin() domain.Point {
	content := c.ContentSize()
	return domain.Point{
		X: math.Max(0, (c.viewport.Width-content.Width)/2),
		Y: math.Max(0, (c.viewport.Height-content.Height)/2),
	}
}

// Transform maps world space to screen space for the current layout.
func (c *Controller) Transform() domain.Transform {
	m := c.Margin()
	return domain.Transform{X: m.X - c.scroll.X, Y: m.Y - c.scroll.Y, Scale: c.scale}
}

// State returns a snapshot of the layout.
func (c *Controller) State() State {
	return State{
		Scale:     c.scale,
		Scroll:    c.scroll,
		Margin:    c.Margin(),
		Content:   c.ContentSize(),
		Viewport:  c.viewport,
		Transform: c.Transform(),
	}
}

// BeginZoom captures the anchor before the scale changes. p is used only
// for AnchorFocalPoint. Starting a zoom invalidates any earlier token.
func (c *Controller) BeginZoom(kind AnchorKind, p domain.Point) (Token, error) {
	a := &anchor{kind: kind}
	switch kind {
	case AnchorCenter:
		a.screen = domain.Point{X: c.viewport.Width / 2, Y: c.viewport.Height / 2}
	case AnchorFocalPoint:
		a.screen = p
	case AnchorFitToScreen:
	default:
		return Token{}, domain.ValidationError(fmt.Sprintf("unknown anchor kind %v", kind), nil)
	}

	if kind != AnchorFitToScreen {
		content := c.ContentSize()
		m := c.Margin()
		a.ratio = domain.Point{
			X: ratio(c.scroll.X+a.screen.X-m.X, content.Width),
			Y: ratio(c.scroll.Y+a.screen.Y-m.Y, content.Height),
		}
	}

	c.gen++
	c.active = a
	return Token{gen: c.gen, kind: kind}, nil
}

func ratio(offset, extent float64) float64 {
	if extent <= 0 {
		return 0
	}
	return offset / extent
}

// ApplyScale sets the scale, clamped to the configured bounds, and returns
// the value applied. The scroll offset is left for EndZoom to restore.
func (c *Controller) ApplyScale(scale float64) float64 {
	if scale > 0 && !math.IsNaN(scale) && !math.IsInf(scale, 0) {
		c.scale = c.clamp(scale)
	}
	return c.scale
}

// EndZoom restores the anchor captured by BeginZoom against the new layout
// and returns the resulting transform. Each token can be ended once.
func (c *Controller) EndZoom(tok Token) (domain.Transform, error) {
	if tok.gen == 0 || tok.gen != c.gen {
		return c.Transform(), domain.ValidationError("cannot end zoom", ErrStaleToken)
	}
	if c.active == nil {
		return c.Transform(), domain.ValidationError("cannot end zoom", ErrTokenConsumed)
	}
	a := c.active
	c.active = nil

	if a.kind == AnchorFitToScreen {
		c.scroll = domain.Point{}
		return c.Transform(), nil
	}

	content := c.ContentSize()
	m := c.Margin()
	c.scroll = domain.Point{
		X: a.ratio.X*content.Width + m.X - a.screen.X,
		Y: a.ratio.Y*content.Height + m.Y - a.screen.Y,
	}
	if c.cfg.ClampScroll {
		c.scroll.X = clampScroll(c.scroll.X, content.Width, c.viewport.Width)
		c.scroll.Y = clampScroll(c.scroll.Y, content.Height, c.viewport.Height)
	}
	return c.Transform(), nil
}

func clampScroll(v, content, viewport float64) float64 {
	return math.Min(math.Max(0, content-viewport), math.Max(0, v))
}

// ZoomAt runs a full zoom to scale around the given anchor.
func (c *Controller) ZoomAt(kind AnchorKind, p domain.Point, scale float64) (domain.Transform, error) {
	tok, err := c.BeginZoom(kind, p)
	if err != nil {
		return c.Transform(), err
	}
	c.ApplyScale(scale)
	return c.EndZoom(tok)
}

// ZoomIn multiplies the scale by the configured step around the viewport center.
func (c *Controller) ZoomIn() (domain.Transform, error) {
	return c.ZoomAt(AnchorCenter, domain.Point{}, c.scale*c.cfg.Step)
}

// ZoomOut divides the scale by the configured step around the viewport center.
func (c *Controller) ZoomOut() (domain.Transform, error) {
	return c.ZoomAt(AnchorCenter, domain.Point{}, c.scale/c.cfg.Step)
}

// Wheel zooms in for a negative delta and out for a positive one.
func (c *Controller) Wheel(delta float64) (domain.Transform, error) {
	switch {
	case delta < 0:
		return c.ZoomIn()
	case delta > 0:
		return c.ZoomOut()
	}
	return c.Transform(), nil
}

// Pinch multiplies the scale by factor around the focal point p.
func (c *Controller) Pinch(factor float64, p domain.Point) (domain.Transform, error) {
	if factor <= 0 {
		return c.Transform(), domain.ValidationError(fmt.Sprintf("pinch factor must be positive, got %g", factor), nil)
	}
	return c.ZoomAt(AnchorFocalPoint, p, c.scale*factor)
}

// FitScale returns the scale at which the whole page fits the viewport.
func (c *Controller) FitScale() float64 {
	if c.page.Empty() || c.viewport.Empty() {
		return c.scale
	}
	return c.clamp(math.Min(c.viewport.Width/c.page.Width, c.viewport.Height/c.page.Height))
}

// FitToScreen scales the page to fit and scrolls to the origin.
func (c *Controller) FitToScreen() (domain.Transform, error) {
	return c.ZoomAt(AnchorFitToScreen, domain.Point{}, c.FitScale())
}
