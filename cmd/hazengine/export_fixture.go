package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openhazard/engine/internal/calc"
	"github.com/openhazard/engine/internal/config"
	"github.com/openhazard/engine/internal/replay"
)

var (
	exportModelPath string
	exportSourceID  string
	exportRepeats   int
	exportDesc      string
	exportOut       string
)

func exportFixtureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-fixture",
		Short: "Freeze the occurrence draws of one source into a replay fixture",
		RunE:  runExportFixture,
	}
	cmd.Flags().StringVar(&exportModelPath, "model", "model.yaml", "Source model file")
	cmd.Flags().StringVar(&exportSourceID, "source", "", "Source id to export")
	cmd.Flags().IntVar(&exportRepeats, "repeats", 1, "Effective repeats of the investigation window")
	cmd.Flags().StringVar(&exportDesc, "description", "", "Fixture description (defaults to the source id)")
	cmd.Flags().StringVar(&exportOut, "out", "", "Output fixture JSON path")
	return cmd
}

func runExportFixture(cmd *cobra.Command, args []string) error {
	if exportSourceID == "" || exportOut == "" {
		return fmt.Errorf("--source and --out are required")
	}

	doc, err := config.LoadModel(exportModelPath)
	if err != nil {
		return err
	}
	def, ok := findSourceDef(doc, exportSourceID)
	if !ok {
		return fmt.Errorf("source %q not in model %s", exportSourceID, doc.Name)
	}

	// Use the placement a real run would assign, so the fixture freezes the
	// engine's own draw stream rather than an arbitrary one.
	branches, err := calc.BuildBranches(doc)
	if err != nil {
		return err
	}
	pl := calc.AssignPlacements(branches)[exportSourceID]

	desc := exportDesc
	if desc == "" {
		desc = fmt.Sprintf("draws of source %s", exportSourceID)
	}
	f, err := replay.Record(desc, doc.TimeSpan, exportRepeats, def, replay.FixturePlacement{
		GroupID: pl.GroupID,
		Serial:  pl.Serial,
	})
	if err != nil {
		return err
	}
	if err := replay.SaveFixture(exportOut, f); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Wrote %s: %d draws from %d ruptures.\n", exportOut, len(f.Expected), pl.NumRuptures)
	return nil
}

func findSourceDef(doc *config.Model, id string) (config.SourceDef, bool) {
	for _, bd := range doc.Branches {
		for _, sd := range bd.Sources {
			if sd.ID == id {
				return sd, true
			}
		}
		for _, sd := range bd.Background {
			if sd.ID == id {
				return sd, true
			}
		}
	}
	return config.SourceDef{}, false
}
