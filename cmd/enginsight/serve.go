package main

import (
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/server"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			router, err := events.NewEventRouter(events.WithLogger(events.NewWatermillAdapter(log.Logger)))
			if err != nil {
				return errors.Wrap(err, "create event router")
			}
			defer func() { _ = router.Close() }()

			// process-wide tap: every turn's events mirror onto one topic
			router.AddHandler("event-log", server.TapTopic, func(msg *message.Message) error {
				log.Debug().
					Str("event_type", msg.Metadata.Get("event_type")).
					Str("sequence_number", msg.Metadata.Get("sequence_number")).
					Msg("event")
				return nil
			})

			eg, ctx := errgroup.WithContext(cmd.Context())
			eg.Go(func() error {
				return router.Run(ctx)
			})
			<-router.Running()

			srv := &http.Server{
				Addr:    a.addr,
				Handler: server.New(a.supervisor, a.memory, server.WithEventRouter(router)),
				// no write timeout: SSE responses stay open for the
				// length of a turn
				ReadHeaderTimeout: 10 * time.Second,
			}

			eg.Go(func() error {
				log.Info().Str("addr", a.addr).Msg("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return errors.Wrap(err, "serve")
				}
				return nil
			})
			eg.Go(func() error {
				<-ctx.Done()
				return srv.Close()
			})
			return eg.Wait()
		},
	}
}
