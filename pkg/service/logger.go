package service

import (
	"io"
	"log/slog"
	"os"

	"github.com/romashorodok/peerstream/pkg/variables"
	"go.uber.org/fx"
)

type logger_Params struct {
	fx.In

	Level *slog.LevelVar `optional:"true"`
}

// Session data may own stdout, so logs go to stderr.
var loggerWriter io.Writer = os.Stderr

func logger(params logger_Params) (*slog.Logger, error) {
	level := params.Level
	if level == nil {
		level = new(slog.LevelVar)
		if err := level.UnmarshalText([]byte(variables.Env(variables.LOG_LEVEL, variables.LOG_LEVEL_DEFAULT))); err != nil {
			return nil, err
		}
	}

	return slog.New(slog.NewJSONHandler(loggerWriter, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})), nil
}

var LoggerModule = fx.Module("logger", fx.Provide(
	logger,
))
