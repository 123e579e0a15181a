package cli

import (
	"github.com/spf13/cobra"

	"equity-forecast/internal/app"
)

var (
	loadSymbols []string
	loadClean   bool
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Download daily bars and store them in Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.LoadOptions{
			Symbols: loadSymbols,
			Clean:   loadClean,
		}
		return getApp().Load(cmd.Context(), opts)
	},
}

func init() {
	loadCmd.Flags().StringSliceVar(&loadSymbols, "symbols", nil, "Comma separated symbols to load (defaults to config)")
	loadCmd.Flags().BoolVar(&loadClean, "clean", false, "Delete previously stored data in the namespace first")
}
