// Package main provides the CLI entry point for the CRM conversational agent.
//
// The agent answers natural-language questions about a CRM org's schema and
// data by running a tool-use loop against an LLM provider, with per-org
// metadata caching and durable conversation checkpoints.
//
// # Basic Usage
//
// Run a single turn:
//
//	crmagent chat --connection prod -m "how many accounts do we have?"
//
// Stream a turn as JSON-lines events:
//
//	crmagent stream --connection prod -m "describe the Opportunity object"
//
// Sweep expired cache entries:
//
//	crmagent sweep
//
// Print the config file JSON schema:
//
//	crmagent config schema
//
// # Environment Variables
//
// Runtime options can be provided via environment variables, which win over
// the config file: LLM_PROVIDER, LLM_MODEL_NAME, LLM_API_KEY, LLM_BASE_URL,
// AI_REACT_MAX_STEPS, TASK_TIMEOUT_SECONDS, LLM_TIMEOUT_SECONDS,
// AI_REACT_HIGH_CONFIDENCE_THRESHOLD, SOBJECT_CACHE_TTL_HOURS,
// METADATA_CACHE_TTL_HOURS, and related keys.
package main

import (
	"context"
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
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := buildRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "crmagent",
		Short:        "crmagent - conversational CRM schema and data agent",
		Long:         "crmagent answers natural-language questions about a CRM org by\nrunning an LLM tool-use loop over the org's metadata and data APIs.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildStreamCmd(),
		buildSweepCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
