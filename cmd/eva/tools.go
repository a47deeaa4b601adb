package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/easeaico/eva-client/internal/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Run the assistant's memory tools directly",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tools the assistant can call",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			agentTools, err := tools.BuildTools(a.memories)
			if err != nil {
				return err
			}
			for _, tl := range agentTools {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", tl.Name(), tl.Description())
			}
			return nil
		})
	},
}

var toolsCallCmd = &cobra.Command{
	Use:   "call <tool> [json args]",
	Short: "Call a tool with JSON arguments and print its result",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw json.RawMessage
		if len(args) == 2 {
			raw = json.RawMessage(args[1])
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			out, err := tools.NewHandler(a.memories).HandleToolCall(ctx, args[0], raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

func init() {
	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsCallCmd)
}
