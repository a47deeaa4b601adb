package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/easeaico/eva-client/internal/memory"
	"github.com/easeaico/eva-client/internal/store"
)

var memoryCmd = &cobra.Command{
	Use:     "memory",
	Aliases: []string{"mem"},
	Short:   "Manage memory notes",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Save a new memory locally",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := draftFromFlags(cmd, strings.Join(args, " "))
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			m, err := a.memories.Create(ctx, d)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), m.ID)
			return nil
		})
	},
}

var memoryUpdateCmd = &cobra.Command{
	Use:   "update <id> [text]",
	Short: "Edit a memory; unset flags keep their current value",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			cur, err := a.memories.Get(ctx, id)
			if err != nil {
				return err
			}
			d := memory.Draft{
				Title:      cur.Title,
				Content:    cur.Content,
				Importance: cur.Importance,
				Category:   cur.Category,
				Tags:       cur.Tags,
			}
			if len(args) > 1 {
				d.Content = strings.Join(args[1:], " ")
			}
			flags := cmd.Flags()
			if flags.Changed("title") {
				d.Title, _ = flags.GetString("title")
			}
			if flags.Changed("importance") {
				d.Importance, _ = flags.GetInt("importance")
			}
			if flags.Changed("category") {
				d.Category, _ = flags.GetString("category")
			}
			if flags.Changed("tag") {
				d.Tags, _ = flags.GetStringSlice("tag")
			}
			m, err := a.memories.Update(ctx, id, d)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), memory.Format(*m))
			return nil
		})
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		minImportance, _ := cmd.Flags().GetInt("min-importance")
		important, _ := cmd.Flags().GetBool("important")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			var (
				list []store.Memory
				err  error
			)
			switch {
			case category != "":
				list, err = a.memories.ByCategory(ctx, category)
			case minImportance > 0 || important:
				list, err = a.memories.Important(ctx, minImportance)
			default:
				list, err = a.memories.List(ctx)
			}
			if err != nil {
				return err
			}
			printMemories(cmd.OutOrStdout(), list)
			return nil
		})
	},
}

var memoryShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			m, err := a.memories.Get(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), memory.Format(*m))
			return nil
		})
	},
}

var memoryRmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Delete memories locally and on the backend",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			var errs []error
			for _, id := range args {
				if err := a.memories.Delete(ctx, id); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
				}
			}
			return errors.Join(errs...)
		})
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find memories related to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		query := strings.Join(args, " ")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			found, err := a.memories.Search(ctx, query, limit)
			if err != nil {
				return err
			}
			printMemories(cmd.OutOrStdout(), found)
			return nil
		})
	},
}

var memorySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push local changes and pull the backend's memories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := a.memories.Sync(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %d, failed %d, deleted %d, pulled %d\n",
				res.Pushed, res.Failed, res.Deleted, res.Pulled)
			return err
		})
	},
}

var memoryCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old memories on the backend and locally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if days <= 0 {
				days = cfg.Sync.CleanupDays
			}
			n, err := a.memories.Cleanup(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d local memories older than %d days\n", n, days)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{memoryAddCmd, memoryUpdateCmd} {
		c.Flags().StringP("title", "t", "", "Title")
		c.Flags().IntP("importance", "i", 0, "Importance from 1 to 5")
		c.Flags().String("category", "", "Category")
		c.Flags().StringSlice("tag", nil, "Tag (repeatable)")
	}
	memoryListCmd.Flags().String("category", "", "Only memories in this category")
	memoryListCmd.Flags().Int("min-importance", 0, "Only memories at or above this importance")
	memoryListCmd.Flags().Bool("important", false, "Only important memories (importance 3 and up)")
	memorySearchCmd.Flags().IntP("limit", "n", 10, "Maximum results")
	memoryCleanupCmd.Flags().Int("days", 0, "Age threshold in days (default from config)")

	memoryCmd.AddCommand(memoryAddCmd)
	memoryCmd.AddCommand(memoryUpdateCmd)
	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryRmCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memorySyncCmd)
	memoryCmd.AddCommand(memoryCleanupCmd)
}

func draftFromFlags(cmd *cobra.Command, content string) memory.Draft {
	flags := cmd.Flags()
	title, _ := flags.GetString("title")
	importance, _ := flags.GetInt("importance")
	category, _ := flags.GetString("category")
	tags, _ := flags.GetStringSlice("tag")
	return memory.Draft{
		Title:      title,
		Content:    content,
		Importance: importance,
		Category:   category,
		Tags:       tags,
	}
}

func printMemories(w io.Writer, list []store.Memory) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no memories")
		return
	}
	for _, m := range list {
		mark := " "
		if !m.Synced {
			mark = "*"
		}
		title := m.Title
		if title == "" {
			title = firstLine(m.Content)
		}
		fmt.Fprintf(w, "%s %s  [%d] %s  %s\n", mark, m.ID, m.Importance, title, formatMillis(m.Timestamp))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}
