package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/pagetiles/cmd/pagetiles/ui"
	"github.com/spherical/pagetiles/internal/raster"
	"github.com/spherical/pagetiles/pkg/viewer"
)

// viewFlags describe the view shared by tiles, render and zoom.
type viewFlags struct {
	width  float64
	height float64
	page   int
	scale  float64
}

func (f *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.width, "width", viewer.DefaultViewport.Width, "viewport width in pixels")
	cmd.Flags().Float64Var(&f.height, "height", viewer.DefaultViewport.Height, "viewport height in pixels")
	cmd.Flags().IntVarP(&f.page, "page", "p", 1, "page number, starting at 1")
	cmd.Flags().Float64VarP(&f.scale, "scale", "s", 0, "zoom scale around the viewport center (0 fits the page)")
}

// apply sets the viewport, page and scale on an open viewer.
func (f *viewFlags) apply(v *viewer.Viewer) (viewer.Transform, error) {
	v.SetViewport(viewer.Size{Width: f.width, Height: f.height})
	if err := v.SetPage(f.page - 1); err != nil {
		return viewer.Transform{}, err
	}
	if f.scale > 0 {
		return v.ZoomAt(viewer.AnchorCenter, viewer.Point{}, f.scale)
	}
	return v.FitToScreen()
}

// openViewer builds a viewer from the loaded config and opens source on it.
// Synthetic pattern:// sources switch the rasterizer to the pattern engine.
func openViewer(ctx context.Context, source string) (*viewer.Viewer, viewer.Dimensions, error) {
	if strings.HasPrefix(source, raster.PatternScheme) {
		cfg.Raster.Engine = "pattern"
	}

	v, err := viewer.New(cfg, logger)
	if err != nil {
		return nil, viewer.Dimensions{}, err
	}

	spinner := ui.NewSpinner(fmt.Sprintf("Loading %s on %d workers...", source, cfg.Workers.Count))
	spinner.Start()
	dims, err := v.Open(ctx, viewer.SourceFor(source))
	spinner.Stop()
	if err != nil {
		v.Close()
		return nil, viewer.Dimensions{}, fmt.Errorf("open %s: %w", source, err)
	}

	ui.Step("Loaded %d pages of %gx%g", dims.NumPages, dims.Width, dims.Height)
	return v, dims, nil
}

func formatFloat(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}
