package raster

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/draw"

	"github.com/spherical/pagetiles/internal/domain"
)

// blit fills dst with bg and copies job.TileRect of page into it, scaling
// when the output size differs from the tile rect. Areas of the tile rect
// outside the page stay background.
func blit(dst *image.RGBA, page image.Image, job domain.RenderJob, bg color.Color) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	tile := job.TileRect
	src := tile.Intersect(page.Bounds())
	if src.Empty() {
		return
	}

	out := job.OutputSize
	if tile.Size() == out {
		draw.Draw(dst, src.Sub(tile.Min), page, src.Min, draw.Src)
		return
	}

	sx := float64(out.X) / float64(tile.Dx())
	sy := float64(out.Y) / float64(tile.Dy())
	target := image.Rect(
		int(float64(src.Min.X-tile.Min.X)*sx),
		int(float64(src.Min.Y-tile.Min.Y)*sy),
		int(float64(src.Max.X-tile.Min.X)*sx+0.5),
		int(float64(src.Max.Y-tile.Min.Y)*sy+0.5),
	)
	draw.ApproxBiLinear.Scale(dst, target, page, src, draw.Src, nil)
}

// ParseColor parses #rgb or #rrggbb.
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("parse color %q: want #rgb or #rrggbb", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("parse color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
