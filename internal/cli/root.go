package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"equity-forecast/internal/app"
	"equity-forecast/internal/config"
	"equity-forecast/internal/logging"
	"equity-forecast/internal/service"
)

const emptyCatalogMessage = `No data found in Redis! Please run "forecast load" first.`

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "forecast",
	Short:         "Rank equities by momentum, volume and copula-weighted alpha",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command and exits with the status exitCode picks.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	code, msg := exitCode(err)
	out := os.Stderr
	if code == 2 {
		out = os.Stdout
	}
	fmt.Fprintln(out, msg)
	os.Exit(code)
}

// exitCode maps a command error to a process status and the line to print:
// 2 with the remediation hint for an empty store, 1 otherwise.
func exitCode(err error) (int, string) {
	switch {
	case err == nil:
		return 0, ""
	case errors.Is(err, service.ErrEmptyCatalog):
		return 2, emptyCatalogMessage
	default:
		return 1, "Error: " + err.Error()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
