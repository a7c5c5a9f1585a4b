package main

import (
	"os"

	"github.com/spherical/pagetiles/cmd/pagetiles/commands"
	"github.com/spherical/pagetiles/cmd/pagetiles/ui"
)

func main() {
	if err := commands.Execute(); err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}
}
