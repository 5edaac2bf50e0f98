// Package main implements the stepwise CLI: run plan files, route a state to
// an agent, and inspect execution records.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML config file
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stepwise",
	Short: "Run multi-step agent plans one step at a time",
	Long: `stepwise executes plans whose steps are tagged with the agent that should
run them, for example "[websearch] find this week's Go releases".
Every step runs on a fresh worker and its lifecycle is recorded.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(recordCmd)
}
