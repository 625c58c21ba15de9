package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openhazard/engine/internal/replay"
)

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay fixture.json [fixture.json ...]",
		Short: "Re-run frozen fixtures and verify the draws bit for bit",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runReplay,
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	diverged := 0
	for _, path := range args {
		f, err := replay.LoadFixture(path)
		if err != nil {
			return err
		}
		res, err := replay.Run(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if res.OK() {
			fmt.Fprintf(os.Stdout, "OK       %s (%d draws)\n", path, res.Draws)
			continue
		}
		diverged++
		fmt.Fprintf(os.Stdout, "DIVERGE  %s (%d draws, %d mismatches)\n", path, res.Draws, len(res.Mismatches))
		for _, m := range res.Mismatches {
			fmt.Fprintf(os.Stdout, "         draw %d %s: want %s, got %s\n", m.Index, m.Field, m.Want, m.Got)
		}
	}
	fmt.Fprintf(os.Stdout, "\nSummary: %d total, %d match, %d diverge\n", len(args), len(args)-diverged, diverged)
	if diverged > 0 {
		return fmt.Errorf("replay diverged on %d of %d fixtures", diverged, len(args))
	}
	return nil
}
