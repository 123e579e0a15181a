package cli

import (
	"github.com/spf13/cobra"

	"equity-forecast/internal/app"
)

var (
	analyzeSymbols []string
	watchSymbols   []string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analysis over the stored price history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Analyze(cmd.Context(), app.AnalyzeOptions{Symbols: analyzeSymbols})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Repeat the analysis on the configured schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Watch(cmd.Context(), app.AnalyzeOptions{Symbols: watchSymbols})
	},
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeSymbols, "symbols", nil, "Comma separated symbols to analyze (defaults to config)")
	watchCmd.Flags().StringSliceVar(&watchSymbols, "symbols", nil, "Comma separated symbols to analyze (defaults to config)")
}
