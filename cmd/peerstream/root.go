package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/romashorodok/peerstream/pkg/engine"
	"github.com/romashorodok/peerstream/pkg/service"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	cfgFile  string
	logLevel string

	cfg   *Config
	level = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "peerstream",
	Short: "Pipe stdin and stdout through a WebRTC data channel",
	Long: `peerstream connects two hosts over a WebRTC data channel and copies
standard input to the remote peer and remote data to standard output.
Signaling runs through a websocket relay or a single HTTP exchange.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		return nil
	},
}

// services starts the logger and engine modules plus any extra options.
// The returned stop function must be called once the command is done.
func services(ctx context.Context, extra ...fx.Option) (engine.Engine, *slog.Logger, func(), error) {
	var (
		eng engine.Engine
		log *slog.Logger
	)

	options := append([]fx.Option{
		fx.NopLogger,
		fx.Supply(level, &cfg.Engine),
		service.LoggerModule,
		service.EngineModule,
		fx.Populate(&eng, &log),
	}, extra...)

	app := fx.New(options...)
	if err := app.Start(ctx); err != nil {
		return nil, nil, nil, err
	}
	stop := func() {
		if err := app.Stop(context.Background()); err != nil {
			log.Warn("stop services", slog.String("err", err.Error()))
		}
	}
	return eng, log, stop, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}
