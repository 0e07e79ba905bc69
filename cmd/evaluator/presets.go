package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/types"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/weights"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List weight presets and their resolved weights",
	RunE:  runPresets,
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}

func runPresets(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	resolver := weights.Default()
	if cfg.WeightsFile != "" {
		if resolver, err = weights.Load(cfg.WeightsFile); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "PRESET")
	for _, d := range types.Dimensions {
		fmt.Fprintf(tw, "\t%s", d)
	}
	fmt.Fprintln(tw)

	names := append([]string{""}, resolver.ListPresets()...)
	for _, name := range names {
		w, err := resolver.Resolve(name)
		if err != nil {
			return err
		}
		label := name
		if label == "" {
			label = "(base)"
		}
		if name == cfg.WeightsPreset {
			label += " *"
		}
		fmt.Fprint(tw, label)
		for _, d := range types.Dimensions {
			fmt.Fprintf(tw, "\t%g", w[d])
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
