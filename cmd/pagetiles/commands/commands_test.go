package commands

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pagetiles/cmd/pagetiles/ui"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

// executeContext always sets the context: cobra keeps the last one on rootCmd.
func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	ui.SetOutput(&buf)
	t.Cleanup(func() { ui.SetOutput(os.Stdout) })
	t.Setenv("PAGETILES_WORKERS", "2")
	t.Setenv("PAGETILES_TILE_SIZE", "64")
	t.Setenv("PAGETILES_BUFFER", "0")
	t.Setenv("PAGETILES_LOD_LEVELS", "0.5,1,2")

	rootCmd.SetArgs(append(args, "--no-color"))
	rootCmd.SetOut(&buf)
	err := rootCmd.ExecuteContext(ctx)
	return buf.String(), err
}

func TestTilesCommand(t *testing.T) {
	out, err := execute(t, "tiles", "pattern://400x300x2", "--width", "100", "--height", "100", "--page", "1", "--scale", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "VISIBLE TILES")
	assert.Contains(t, out, "Scale: 1")
	assert.Contains(t, out, "LOD 1")
}

func TestTilesCommand_BadPage(t *testing.T) {
	_, err := execute(t, "tiles", "pattern://400x300x2", "--page", "3", "--scale", "0")
	assert.Error(t, err)
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "render", "pattern://200x100x2", "--width", "80", "--height", "60", "--scale", "0",
		"--all", "-o", filepath.Join(dir, "view.png"))
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	for _, name := range []string{"view-1.png", "view-2.png"} {
		f, err := os.Open(filepath.Join(dir, name))
		require.NoError(t, err, name)
		img, err := png.Decode(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, 80, img.Bounds().Dx())
		assert.Equal(t, 60, img.Bounds().Dy())
	}
	renderAll = false
}

func TestZoomCommand(t *testing.T) {
	out, err := execute(t, "zoom", "pattern://400x300", "--width", "100", "--height", "100", "--scale", "1",
		"--kind", "focal-point", "--x", "30", "--y", "40", "--to", "2")
	require.NoError(t, err)
	// the document point under the focal point is unchanged
	assert.Contains(t, out, "Scale 1 → 2")
	assert.Contains(t, out, "FOCAL-POINT")

	_, err = execute(t, "zoom", "pattern://400x300", "--kind", "sideways", "--to", "2")
	assert.Error(t, err)
}

func TestWarmCommand(t *testing.T) {
	out, err := execute(t, "warm", "pattern://128x128x2", "--lod", "0.5,1")
	require.NoError(t, err)
	// 1 tile per page at 0.5, 4 per page at 1
	assert.Contains(t, out, "Rendered 10 tiles")
	warmLODs = nil
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "out.png", outputPath("out.png", 3, false))
	assert.Equal(t, "out-3.png", outputPath("out.png", 3, true))
	assert.Equal(t, "p007.png", outputPath("p%03d.png", 7, true))
	assert.Equal(t, "dir/page-2", outputPath("dir/page", 2, true))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pagetiles "+Version)
	assert.Contains(t, out, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestServeCommand_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := executeContext(t, ctx, "serve", "--addr", "127.0.0.1:0", "--open=")
	require.NoError(t, err)
	assert.Contains(t, out, "Serving on http://127.0.0.1:0")
}

func TestServeCommand_OpensDocument(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	out, err := executeContext(t, ctx, "serve", "--addr", "127.0.0.1:0", "--open", "pattern://200x100x3")
	require.NoError(t, err)
	assert.Contains(t, out, "Opened pattern://200x100x3 (3 pages)")
	assert.Contains(t, out, "Serving on")
}
