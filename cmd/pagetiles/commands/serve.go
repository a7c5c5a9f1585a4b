package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/pagetiles/cmd/pagetiles/ui"
	"github.com/spherical/pagetiles/internal/raster"
	"github.com/spherical/pagetiles/internal/server"
	"github.com/spherical/pagetiles/pkg/viewer"
)

var (
	serveAddr string
	serveOpen string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a viewer over HTTP",
	Long:  "Start the HTTP API that opens documents, drives the view and streams tiles as PNG.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().StringVar(&serveOpen, "open", "", "document to open at startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if strings.HasPrefix(serveOpen, raster.PatternScheme) {
		cfg.Raster.Engine = "pattern"
	}
	v, err := viewer.New(cfg, logger)
	if err != nil {
		return err
	}
	defer v.Close()

	if serveOpen != "" {
		openCtx, cancel := context.WithTimeout(ctx, time.Minute)
		dims, err := v.Open(openCtx, viewer.SourceFor(serveOpen))
		cancel()
		if err != nil {
			return fmt.Errorf("open %s: %w", serveOpen, err)
		}
		ui.Info("Opened %s (%d pages)", serveOpen, dims.NumPages)
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Addr()
	}
	ui.Success("Serving on http://%s", addr)
	return server.New(v, cfg.Server, logger).ListenAndServe(ctx, addr)
}
