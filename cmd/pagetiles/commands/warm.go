package commands

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/pagetiles/cmd/pagetiles/ui"
	"github.com/spherical/pagetiles/pkg/viewer"
)

var (
	warmLODs    []float64
	warmPurge   bool
	warmTimeout time.Duration
)

var warmCmd = &cobra.Command{
	Use:   "warm <source>",
	Short: "Pre-render every tile of a document",
	Long: `Render the full tile grid of every page at the given levels of detail.
With a tile store configured (store.driver memory or redis) the encoded tiles
are kept there for later views and other processes.`,
	Args: cobra.ExactArgs(1),
	RunE: runWarm,
}

func init() {
	warmCmd.Flags().Float64SliceVar(&warmLODs, "lod", nil, "levels of detail to render (default: every configured level)")
	warmCmd.Flags().BoolVar(&warmPurge, "purge", false, "drop the document's stored tiles before rendering")
	warmCmd.Flags().DurationVar(&warmTimeout, "timeout", 30*time.Minute, "overall timeout")
	rootCmd.AddCommand(warmCmd)
}

func runWarm(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), warmTimeout)
	defer cancel()
	start := time.Now()

	v, dims, err := openViewer(ctx, args[0])
	if err != nil {
		return err
	}
	defer v.Close()

	lods := warmLODs
	if len(lods) == 0 {
		lods = cfg.Tiles.LODLevels
	}

	var tiles []viewer.Tile
	for page := 0; page < dims.NumPages; page++ {
		for _, lod := range lods {
			grid, err := v.PageTiles(page, lod)
			if err != nil {
				return err
			}
			tiles = append(tiles, grid...)
		}
	}
	if cfg.Store.Driver == "none" {
		ui.Warning("No tile store configured; tiles are rendered and discarded")
	}
	if warmPurge {
		if err := v.PurgeStore(ctx); err != nil {
			return err
		}
		ui.Step("Purged stored tiles")
	}

	bar := ui.NewProgressBar(int64(len(tiles)), fmt.Sprintf("Rendering %d pages", dims.NumPages))
	failed := renderTiles(ctx, v, tiles, cfg.Workers.Count, bar.Add)
	bar.Finish()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("warm %s: %w", args[0], err)
	}

	if failed > 0 {
		ui.Warning("%d of %d tiles failed", failed, len(tiles))
	}
	ui.Success("Rendered %d tiles at LOD %v in %s", len(tiles)-int(failed), lods, ui.FormatDuration(time.Since(start)))
	return nil
}

// renderTiles renders tiles with at most limit in flight and returns how many
// failed. It stops early only when ctx ends.
func renderTiles(ctx context.Context, v *viewer.Viewer, tiles []viewer.Tile, limit int, done func(int)) int64 {
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, t := range tiles {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			bm, err := v.RenderTile(gctx, t)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				failed.Add(1)
				logger.Warn().Err(err).Str("tile", string(t.ID)).Msg("Tile failed")
				done(1)
				return nil
			}
			bm.Release()
			done(1)
			return nil
		})
	}
	_ = g.Wait()
	return failed.Load()
}
