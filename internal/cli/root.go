// Package cli hosts the creditd command tree: the long-running server,
// integrity verification, manual clearing and version information.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slawa19/GEOv0-sub001/internal/config"
	"github.com/slawa19/GEOv0-sub001/internal/di"
)

var (
	// Global flags
	configFile string
	standalone bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "creditd",
	Short: "creditd - mutual credit ledger daemon",
	Long: `creditd is a mutual credit ledger: participants extend each other
trustlines, payments ripple along them as IOU debt updates under a
two-phase commit, and a clearing engine collapses closed debt cycles
without changing anyone's net position.`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&standalone, "standalone", false, "run with the in-memory store and no external services")
}

// buildProvider loads configuration and wires the service container.
func buildProvider() (*di.Provider, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if standalone {
		cfg.Node.Standalone = true
	}
	provider := di.NewProvider(di.New(), cfg)
	if err := provider.RegisterAll(); err != nil {
		return nil, err
	}
	return provider, nil
}
