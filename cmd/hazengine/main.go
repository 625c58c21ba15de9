package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "hazengine",
		Short: "Probabilistic seismic hazard calculation engine",
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.AddCommand(runCmd())
	root.AddCommand(workerCmd())
	root.AddCommand(inspectCmd())
	root.AddCommand(exportFixtureCmd())
	root.AddCommand(replayCmd())
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
