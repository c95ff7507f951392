// Package main provides the CLI entry point for the thalamus turn
// orchestration daemon.
//
// Thalamus drives a fixed graph of LLM-backed reasoning stages
// (router, context assembly, answer, reflection, memory persistence)
// over a durable world state and chat history, streaming structured
// turn events to the caller.
//
// # Basic Usage
//
// Run one turn:
//
//	thalamusd turn "What did I say about the trip?" --config thalamus.yaml
//
// Interactive session:
//
//	thalamusd repl --config thalamus.yaml
//
// Inspect chat history:
//
//	thalamusd tail -n 20
//
// # Environment Variables
//
//   - THALAMUS_CONFIG: Path to configuration file (default: thalamus.yaml)
//   - THALAMUS_API_KEY: API key forwarded to the configured provider
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "thalamusd",
		Short: "Local-first turn orchestration daemon",
		Long: `Thalamus is a local-first cognitive controller: each submitted user
message is driven through a conditional graph of LLM-backed stages with
deterministic tool dispatch, durable world state, and a streamed event
contract.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		buildTurnCmd(),
		buildReplCmd(),
		buildTailCmd(),
		buildVersionCmd(),
	)

	ctx, stop := signal.NotifyContext(rootContext(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("thalamusd %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("THALAMUS_CONFIG"); env != "" {
		return env
	}
	return "thalamus.yaml"
}
