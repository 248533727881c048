package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newThreadsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Manage conversation threads",
	}
	cmd.AddCommand(newThreadsListCommand())
	cmd.AddCommand(newThreadsNewCommand())
	cmd.AddCommand(newThreadsDeleteCommand())
	return cmd
}

func newThreadsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List threads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			for _, t := range a.memory.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d messages\tlast active %s\n",
					t.ID, t.Title, t.MessageCount, t.LastActive.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newThreadsNewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "new [title]",
		Short: "Create a thread",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			title := "untitled"
			if len(args) > 0 {
				title = args[0]
			}
			id, err := a.memory.NewThread(title)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newThreadsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return a.memory.Delete(args[0])
		},
	}
}
