// Package main is the entrypoint for edgeorchestrad, the federated-learning
// orchestrator control-plane daemon.
package main

import "github.com/edgeorchestra/orchestrator/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
