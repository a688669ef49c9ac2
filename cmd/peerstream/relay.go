package main

import (
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/romashorodok/peerstream/pkg/peer"
	"github.com/romashorodok/peerstream/pkg/relay"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var relayURL string

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "Start a session as the initiator, signaling through a websocket relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd, true)
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer",
	Short: "Wait for an initiator on a websocket relay and answer it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd, false)
	},
}

func runRelay(cmd *cobra.Command, initiator bool) error {
	if relayURL == "" {
		return fmt.Errorf("--relay is required")
	}
	ctx := cmd.Context()

	eng, log, stop, err := services(ctx)
	if err != nil {
		return err
	}
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	session, err := peer.New(cfg.sessionOptions(initiator, eng, log))
	if err != nil {
		conn.Close()
		return err
	}
	log.Info("session started", slog.Bool("initiator", initiator), slog.String("relay", relayURL))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(ctx, session, conn, logEvents(log), log)
	})
	g.Go(func() error {
		return pipe(session, cmd.InOrStdin(), cmd.OutOrStdout(), log)
	})
	return g.Wait()
}

func init() {
	for _, cmd := range []*cobra.Command{dialCmd, answerCmd} {
		cmd.Flags().StringVar(&relayURL, "relay", "", "websocket relay URL, e.g. ws://host:port/room")
		rootCmd.AddCommand(cmd)
	}
}
