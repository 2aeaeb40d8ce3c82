// Package cli implements the edgeorchestrad command-line interface
// using Cobra. Subcommands either start the daemon or query its HTTP
// sidecar for job and device state.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var apiAddr string

var rootCmd = &cobra.Command{
	Use:   "edgeorchestrad",
	Short: "edgeorchestrad — federated-learning orchestrator control plane",
	Long: `edgeorchestrad coordinates federated-learning rounds across a fleet of
intermittently-connected devices: it tracks device liveness, selects
eligible participants, collects weight-delta submissions, and aggregates
them into a new global model.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8080", "Address of the orchestrator's HTTP sidecar")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
