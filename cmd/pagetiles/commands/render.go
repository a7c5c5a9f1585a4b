package commands

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/pagetiles/cmd/pagetiles/ui"
	"github.com/spherical/pagetiles/pkg/viewer"
)

var (
	renderView    viewFlags
	renderOutput  string
	renderAll     bool
	renderTimeout time.Duration
)

var renderCmd = &cobra.Command{
	Use:   "render <source>",
	Short: "Render views to PNG",
	Long: `Render the view of one page, or of every page with --all, and write each
composited viewport to a PNG file. Tiles render on the worker pool; the
output is written once every visible tile is ready.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderView.register(renderCmd)
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "page.png", "output file; %d is replaced by the page number")
	renderCmd.Flags().BoolVar(&renderAll, "all", false, "render every page")
	renderCmd.Flags().DurationVar(&renderTimeout, "timeout", 5*time.Minute, "overall timeout")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), renderTimeout)
	defer cancel()
	start := time.Now()

	v, dims, err := openViewer(ctx, args[0])
	if err != nil {
		return err
	}
	defer v.Close()

	pages := []int{renderView.page}
	if renderAll {
		pages = pages[:0]
		for i := 1; i <= dims.NumPages; i++ {
			pages = append(pages, i)
		}
	}

	progress := ui.NewMultiProgress()
	var written []string
	for _, page := range pages {
		renderView.page = page
		if _, err := renderView.apply(v); err != nil {
			progress.Close()
			return err
		}
		if err := waitPage(ctx, v, progress, page); err != nil {
			progress.Close()
			return err
		}

		img, err := v.Composite(ctx)
		if err != nil {
			progress.Close()
			return fmt.Errorf("composite page %d: %w", page, err)
		}
		path := outputPath(renderOutput, page, len(pages) > 1)
		if err := writePNG(path, img); err != nil {
			progress.Close()
			return err
		}
		written = append(written, path)
	}
	progress.Close()

	for _, path := range written {
		ui.Success("Wrote %s", path)
	}
	st := v.Stats()
	ui.Info("%d tiles rendered, %d discarded in %s", st.Scheduler.Completed, st.Scheduler.Discarded, ui.FormatDuration(time.Since(start)))
	return nil
}

// waitPage refreshes the view until every visible tile is ready, moving the
// page's bar along.
func waitPage(ctx context.Context, v *viewer.Viewer, progress *ui.MultiProgress, page int) error {
	_, total := v.Progress()
	bar := progress.PageBar(fmt.Sprintf("page %d", page), int64(total))

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		v.Refresh()
		ready, total := v.Progress()
		bar.SetCurrent(int64(ready))
		if ready == total {
			bar.SetTotal(int64(total), true)
			return nil
		}
		select {
		case <-ctx.Done():
			bar.Abort(false)
			return fmt.Errorf("render page %d: %w", page, ctx.Err())
		case <-ticker.C:
		}
	}
}

// outputPath formats the page number into pattern when it has a verb, or
// numbers the files itself when several pages share a plain name.
func outputPath(pattern string, page int, many bool) string {
	if strings.Contains(pattern, "%") {
		return fmt.Sprintf(pattern, page)
	}
	if !many {
		return pattern
	}
	ext := filepath.Ext(pattern)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(pattern, ext), page, ext)
}

func writePNG(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
