package main

import (
	"CarbonLedger/internal/config"
	"CarbonLedger/internal/observability"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        *config.Config
	configFile string
)

var rootCmd = &cobra.Command{
	Use:           "carbonledger",
	Short:         "Carbon credit ledger and offtake commitment tracker",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(viper.New(), configFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// newLogger returns a component logger at the configured level.
func newLogger(component string) zerolog.Logger {
	return observability.NewLoggerWithLevel(component, observability.ParseLogLevel(cfg.Log.Level))
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.AddCommand(serveCmd, provisionCmd, balanceCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
