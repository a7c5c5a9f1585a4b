package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/pagetiles/cmd/pagetiles/ui"
)

var tilesView viewFlags

var tilesCmd = &cobra.Command{
	Use:   "tiles <source>",
	Short: "List the tiles a view needs",
	Long:  "Open a document, set up the view and list the tiles covering the viewport at the selected level of detail.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTiles,
}

func init() {
	tilesView.register(tilesCmd)
	rootCmd.AddCommand(tilesCmd)
}

func runTiles(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	v, dims, err := openViewer(ctx, args[0])
	if err != nil {
		return err
	}
	defer v.Close()

	tr, err := tilesView.apply(v)
	if err != nil {
		return err
	}
	st := v.Stats()

	ui.Section("View")
	ui.KeyValue("Pages", dims.NumPages)
	ui.KeyValue("Page size", fmt.Sprintf("%gx%g", dims.Width, dims.Height))
	ui.KeyValue("Scale", formatFloat(tr.Scale))
	ui.KeyValue("Translation", fmt.Sprintf("%s, %s", formatFloat(tr.X), formatFloat(tr.Y)))
	ui.KeyValue("LOD", st.LOD)

	tiles := v.VisibleTiles()
	rows := make([][]string, 0, len(tiles))
	for _, t := range tiles {
		rows = append(rows, []string{
			string(t.ID),
			fmt.Sprintf("%d", t.Row),
			fmt.Sprintf("%d", t.Col),
			formatFloat(t.X),
			formatFloat(t.Y),
			formatFloat(t.Width),
		})
	}

	ui.Section("Visible tiles")
	ui.Table([]string{"ID", "Row", "Col", "X", "Y", "Size"}, rows)
	ui.Newline()
	ui.Success("%d tiles at LOD %g", len(tiles), st.LOD)
	return nil
}
