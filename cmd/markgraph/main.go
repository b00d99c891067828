// Package main provides the markgraph CLI: a terminal front end for the
// supervisor / specialist engine over the demo ads and spreadsheet tools.
//
// # Basic Usage
//
// Chat interactively:
//
//	markgraph chat --thread t1
//
// Send one message and exit:
//
//	markgraph chat --thread t1 --message "Fetch last 30 days performance for act_1001"
//
// Answer a pending approval (needs a persistent checkpoint backend):
//
//	markgraph resume --thread t1 --approve
//
// # Environment Variables
//
//   - MARKGRAPH_CONFIG: Path to the configuration file
//   - MARKGRAPH_MODEL_PROVIDER: openai, anthropic or mock
//   - MARKGRAPH_MODEL_API_KEY: Provider API key (OPENAI_API_KEY / ANTHROPIC_API_KEY also work)
//   - MARKGRAPH_CHECKPOINT_BACKEND: memory, file, sqlite, postgres or redis
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "markgraph",
		Short: "markgraph - supervisor and specialist agents for marketing workflows",
		Long: `markgraph routes each request through a supervisor to the ads or sheets
specialist, caches tool results, evicts oversized results to a blob store,
checkpoints every step and pauses for approval before sensitive actions.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (or set MARKGRAPH_CONFIG)")

	resolve := func() string {
		if p := strings.TrimSpace(configPath); p != "" {
			return p
		}
		return strings.TrimSpace(os.Getenv("MARKGRAPH_CONFIG"))
	}

	rootCmd.AddCommand(
		buildChatCmd(resolve),
		buildResumeCmd(resolve),
		buildStateCmd(resolve),
		buildForgetCmd(resolve),
		buildConfigCmd(resolve),
	)

	return rootCmd
}
