// commands.go contains the cobra command definitions; each command is
// wired to its handler in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

// commonFlags are shared by every command that constructs a controller.
type commonFlags struct {
	configPath string
	provider   string
	jsonOutput bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "",
		"Path to YAML configuration file (default thalamus.yaml or $THALAMUS_CONFIG)")
	cmd.Flags().StringVarP(&f.provider, "provider", "p", "openai",
		"Provider transport: openai (any compatible endpoint), anthropic, google, bedrock")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false,
		"Emit raw turn events as JSON lines instead of rendered output")
}

// buildTurnCmd creates the "turn" command that runs a single turn and
// streams its events.
func buildTurnCmd() *cobra.Command {
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "turn [user text]",
		Short: "Submit one user message and stream the turn's events",
		Example: `  # Run one turn
  thalamusd turn "Set project to 'aurora'."

  # Raw event stream for piping
  thalamusd turn "Say hi." --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTurn(cmd.Context(), resolveConfigPath(flags.configPath), flags, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

// buildReplCmd creates the interactive "repl" command. Prompt
// templates are watched for edits so a change on disk is picked up on
// the next turn and announced in the session.
func buildReplCmd() *cobra.Command {
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive session: read lines from stdin, run a turn per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(cmd.Context(), resolveConfigPath(flags.configPath), flags)
		},
	}
	flags.register(cmd)
	return cmd
}

// buildTailCmd creates the "tail" command over the chat history log.
func buildTailCmd() *cobra.Command {
	var (
		flags commonFlags
		n     int
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent chat turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd.Context(), resolveConfigPath(flags.configPath), n, flags.jsonOutput)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "Number of chat turns to print")
	return cmd
}
