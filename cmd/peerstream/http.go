package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/romashorodok/peerstream/pkg/engine"
	"github.com/romashorodok/peerstream/pkg/httpsignal"
	"github.com/romashorodok/peerstream/pkg/peer"
	"github.com/romashorodok/peerstream/pkg/protocol"
	"github.com/romashorodok/peerstream/pkg/service"
	"github.com/romashorodok/peerstream/pkg/sessionpool"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	httpAddr string
	offerURL string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer HTTP offers and copy every session's data to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := httpAddr
		if addr == "" {
			addr = cfg.HttpAddr
		}

		out := &lockedWriter{w: cmd.OutOrStdout()}
		_, log, stop, err := services(cmd.Context(),
			fx.Supply(service.HttpAddr(addr)),
			fx.Provide(
				answerFactory,
				sessionpool.NewPool,
				func(pool *sessionpool.Pool, log *slog.Logger) httpsignal.AcceptFunc {
					return acceptSession(pool, out, log)
				},
				protocol.AsHttpController(httpsignal.NewController),
			),
			service.HttpModule,
		)
		if err != nil {
			return err
		}
		defer stop()

		<-cmd.Context().Done()
		log.Info("shutting down")
		return nil
	},
}

var offerCmd = &cobra.Command{
	Use:   "offer",
	Short: "Start a session by posting an offer to a peerstream serve endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		if offerURL == "" {
			return fmt.Errorf("--url is required")
		}
		eng, log, stop, err := services(cmd.Context())
		if err != nil {
			return err
		}
		defer stop()

		opts := cfg.sessionOptions(true, eng, log)
		opts.DisableTrickle = true
		session, err := peer.New(opts)
		if err != nil {
			return err
		}

		seen, err := httpsignal.Offer(cmd.Context(), nil, offerURL+protocol.SignalOfferPath, session)
		if err != nil {
			return err
		}
		go drain(session, seen, logEvents(log))
		return pipe(session, cmd.InOrStdin(), cmd.OutOrStdout(), log)
	},
}

type answerFactory_Params struct {
	fx.In

	Engine engine.Engine
	Logger *slog.Logger
}

func answerFactory(params answerFactory_Params) httpsignal.SessionFactory {
	return func() (*peer.Session, error) {
		opts := cfg.sessionOptions(false, params.Engine, params.Logger)
		opts.DisableTrickle = true
		return peer.New(opts)
	}
}

// acceptSession copies an answered session's data to out until it closes.
func acceptSession(pool *sessionpool.Pool, out io.Writer, log *slog.Logger) httpsignal.AcceptFunc {
	return func(session *peer.Session, seen []peer.Event) {
		id := pool.Add(session)
		log := log.With(slog.String("pooled", id))
		log.Info("accepted session", slog.Int("active", pool.Len()))

		go drain(session, seen, logEvents(log))
		go func() {
			if _, err := io.Copy(out, session); err != nil {
				log.Warn("copy session data", slog.String("err", err.Error()))
			}
		}()
	}
}

func init() {
	serveCmd.Flags().StringVar(&httpAddr, "http", "", "listen address, e.g. :8080 (default from HTTP_PORT)")
	offerCmd.Flags().StringVar(&offerURL, "url", "", "base URL of a peerstream serve endpoint")
	rootCmd.AddCommand(serveCmd, offerCmd)
}
