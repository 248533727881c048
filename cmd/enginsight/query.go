package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
)

func newQueryCommand() *cobra.Command {
	var threadID string
	var showEvents bool

	cmd := &cobra.Command{
		Use:   "query [text...]",
		Short: "Run one query and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			query := strings.Join(args, " ")
			sink := events.NewCollectorSink()
			state, err := a.supervisor.RunTurnWithSink(cmd.Context(), query, threadID, sink)
			if err != nil {
				return err
			}

			if showEvents {
				for _, e := range sink.Events() {
					if werr := events.WriteSSE(cmd.OutOrStdout(), e); werr != nil {
						return werr
					}
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			fmt.Fprintln(cmd.OutOrStdout(), state.Answer)
			return nil
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "thread id to continue (empty for a one-off turn)")
	cmd.Flags().BoolVar(&showEvents, "events", false, "print the turn's event stream before the answer")
	return cmd
}
