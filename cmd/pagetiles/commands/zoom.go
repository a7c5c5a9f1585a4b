package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/pagetiles/cmd/pagetiles/ui"
	"github.com/spherical/pagetiles/internal/zoom"
	"github.com/spherical/pagetiles/pkg/viewer"
)

var (
	zoomView  viewFlags
	zoomKind  string
	zoomX     float64
	zoomY     float64
	zoomTo    float64
	zoomWheel int
)

var zoomCmd = &cobra.Command{
	Use:   "zoom <source>",
	Short: "Show how a zoom moves the view",
	Long: `Set up a view, zoom it around an anchor and print the transform and the
document point under the anchor before and after. The point under a center
or focal-point anchor stays put.`,
	Args: cobra.ExactArgs(1),
	RunE: runZoom,
}

func init() {
	zoomView.register(zoomCmd)
	zoomCmd.Flags().StringVarP(&zoomKind, "kind", "k", "center", "anchor: center, focal-point or fit-to-screen")
	zoomCmd.Flags().Float64Var(&zoomX, "x", 0, "focal point x in viewport pixels")
	zoomCmd.Flags().Float64Var(&zoomY, "y", 0, "focal point y in viewport pixels")
	zoomCmd.Flags().Float64Var(&zoomTo, "to", 0, "target scale")
	zoomCmd.Flags().IntVar(&zoomWheel, "wheel", 0, "wheel steps instead of --to; negative zooms in")
	rootCmd.AddCommand(zoomCmd)
}

func runZoom(cmd *cobra.Command, args []string) error {
	kind, err := zoom.ParseAnchorKind(zoomKind)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	v, _, err := openViewer(ctx, args[0])
	if err != nil {
		return err
	}
	defer v.Close()

	before, err := zoomView.apply(v)
	if err != nil {
		return err
	}
	anchor := viewer.Point{X: zoomX, Y: zoomY}
	if kind == zoom.AnchorCenter {
		anchor = viewer.Point{X: zoomView.width / 2, Y: zoomView.height / 2}
	}
	lodBefore := v.Stats().LOD

	var after viewer.Transform
	switch {
	case zoomWheel != 0:
		after = before
		for i := 0; i < abs(zoomWheel); i++ {
			if after, err = v.Wheel(float64(zoomWheel)); err != nil {
				return err
			}
		}
	case kind == zoom.AnchorFitToScreen:
		after, err = v.FitToScreen()
	case zoomTo > 0:
		after, err = v.ZoomAt(kind, anchor, zoomTo)
	default:
		return fmt.Errorf("one of --to, --wheel or --kind fit-to-screen is required")
	}
	if err != nil {
		return err
	}
	lodAfter := v.Stats().LOD

	ui.Section("Zoom " + kind.String())
	ui.Table([]string{"", "Scale", "X", "Y", "LOD", "Under anchor"}, [][]string{
		transformRow("before", before, anchor, lodBefore),
		transformRow("after", after, anchor, lodAfter),
	})
	ui.Newline()
	ui.Success("Scale %s → %s", formatFloat(before.Scale), formatFloat(after.Scale))
	return nil
}

func transformRow(label string, t viewer.Transform, anchor viewer.Point, lod float64) []string {
	w := t.ToWorld(anchor)
	return []string{
		label,
		formatFloat(t.Scale),
		formatFloat(t.X),
		formatFloat(t.Y),
		fmt.Sprintf("%g", lod),
		fmt.Sprintf("%s, %s", formatFloat(w.X), formatFloat(w.Y)),
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
