package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/easeaico/eva-client/internal/store"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant",
}

var chatSendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			reply, err := a.chat.Send(ctx, text)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
			return nil
		})
	},
}

var chatHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the local transcript",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pendingOnly, _ := cmd.Flags().GetBool("pending")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			var (
				msgs []store.ChatMessage
				err  error
			)
			if pendingOnly {
				msgs, err = a.chat.Pending(ctx)
			} else {
				msgs, err = a.chat.History(ctx)
			}
			if err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), msgs)
			return nil
		})
	},
}

var chatClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the local transcript",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return a.chat.Clear(ctx)
		})
	},
}

var chatSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Check the backend credentials and print the transcript",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			msgs, err := a.chat.Sync(ctx)
			if err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), msgs)
			return nil
		})
	},
}

func init() {
	chatHistoryCmd.Flags().Bool("pending", false, "Only show messages the backend has not acknowledged")

	chatCmd.AddCommand(chatSendCmd)
	chatCmd.AddCommand(chatHistoryCmd)
	chatCmd.AddCommand(chatClearCmd)
	chatCmd.AddCommand(chatSyncCmd)
}

func printMessages(w io.Writer, msgs []store.ChatMessage) {
	for _, m := range msgs {
		fmt.Fprintf(w, "[%s] %s: %s\n", formatMillis(m.Timestamp), author(m), m.Text)
	}
}

func author(m store.ChatMessage) string {
	switch {
	case m.IsUser:
		return "you"
	case m.Error:
		return "error"
	default:
		return "eva"
	}
}
