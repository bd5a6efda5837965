package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaypoint/crmagent/internal/config"
	"github.com/relaypoint/crmagent/internal/metacache"
	"github.com/relaypoint/crmagent/internal/orchestrator"
)

// turnFlags are the flags shared by chat and stream.
type turnFlags struct {
	configPath   string
	message      string
	connectionID string
	conversation string
	newThread    bool
}

func (f *turnFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVarP(&f.message, "message", "m", "", "User message for this turn")
	cmd.Flags().StringVarP(&f.connectionID, "connection", "n", "", "CRM connection id")
	cmd.Flags().StringVar(&f.conversation, "conversation", "", "Conversation id to resume")
	cmd.Flags().BoolVar(&f.newThread, "new-thread", false, "Start a fresh conversation even when --conversation is set")
	_ = cmd.MarkFlagRequired("message")
	_ = cmd.MarkFlagRequired("connection")
}

func (f *turnFlags) request() orchestrator.InvokeRequest {
	return orchestrator.InvokeRequest{
		UserInput:      f.message,
		ConnectionID:   f.connectionID,
		ConversationID: f.conversation,
		NewThread:      f.newThread,
	}
}

// buildChatCmd creates the "chat" command: one turn, final answer on stdout.
func buildChatCmd() *cobra.Command {
	var flags turnFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run one agent turn and print the final answer",
		Example: `  # Ask about data
  crmagent chat --connection prod -m "how many open opportunities?"

  # Continue a conversation
  crmagent chat --connection prod --conversation conv_abc -m "and last quarter?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(flags.configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.orchestrator.Invoke(cmd.Context(), flags.request())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				payload := map[string]any{
					"conversation_id": result.ConversationID,
					"response":        result.FinalText,
				}
				if result.StructuredResponse != nil {
					payload["structured_response"] = result.StructuredResponse
				}
				encoded, err := json.MarshalIndent(payload, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(encoded))
				return nil
			}

			if strings.TrimSpace(result.FinalText) != "" {
				fmt.Fprintln(out, result.FinalText)
			} else if result.StructuredResponse != nil {
				encoded, err := json.MarshalIndent(result.StructuredResponse, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(encoded))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", result.ConversationID)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

// buildStreamCmd creates the "stream" command: one turn, JSON-lines events.
func buildStreamCmd() *cobra.Command {
	var flags turnFlags
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Run one agent turn and stream events as JSON lines",
		Long: `Run one agent turn and print each client-facing event as a JSON line:
thinking updates for tool calls, structured or text updates, error events,
and a terminal stream_complete event.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(flags.configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			events, err := rt.orchestrator.InvokeStream(cmd.Context(), flags.request())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			encoder := json.NewEncoder(out)
			for event := range events {
				if err := encoder.Encode(event); err != nil {
					return err
				}
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// buildSweepCmd creates the "sweep" command for cache maintenance.
func buildSweepCmd() *cobra.Command {
	var configPath string
	var schedule string
	var watch bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired metadata cache entries",
		Long: `Remove expired metadata cache entries.

By default runs a single sweep and exits. With --watch, keeps running on the
configured cron schedule until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !watch {
				lists, metadata, err := rt.cache.SweepExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Swept %d list entries, %d metadata entries.\n", lists, metadata)
				return nil
			}

			if schedule == "" {
				schedule = rt.cfg.Cache.SweepSchedule
			}
			sweeper := metacache.NewSweeper(rt.cache, schedule, rt.logger)
			if err := sweeper.Start(); err != nil {
				return err
			}
			defer sweeper.Stop()
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (YAML or JSON5)")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron schedule for --watch (default from config, hourly)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep sweeping on a schedule until interrupted")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigValidateCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	}
}

func buildConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Config is valid.")
			return nil
		},
	}
}
