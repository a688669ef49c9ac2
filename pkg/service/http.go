package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/peerstream/pkg/protocol"
	"github.com/romashorodok/peerstream/pkg/variables"
	"go.uber.org/fx"
)

// HttpAddr overrides the listen address taken from HTTP_PORT.
type HttpAddr string

type httpServer_Params struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Controllers protocol.HttpControllers
	Logger      *slog.Logger
	Addr        HttpAddr `optional:"true"`
}

func httpErrorHandler(e *echo.Echo, logger *slog.Logger) func(err error, c echo.Context) {
	return func(err error, c echo.Context) {
		logger.Error(err.Error(),
			slog.String("method", c.Request().Method),
			slog.String("path", c.Request().URL.Path),
		)
		e.DefaultHTTPErrorHandler(err, c)
	}
}

func httpServer(params httpServer_Params) (protocol.HttpRouter, error) {
	router := echo.New()
	router.HideBanner = true
	router.HidePort = true
	router.HTTPErrorHandler = httpErrorHandler(router, params.Logger)

	for _, controller := range params.Controllers.Controllers {
		if err := controller.Resolve(router); err != nil {
			return nil, err
		}
	}

	addr := string(params.Addr)
	if addr == "" {
		addr = fmt.Sprintf(":%s", variables.Env(variables.HTTP_PORT_NAME, variables.HTTP_PORT_DEFAULT))
	}

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			router.Listener = listener
			params.Logger.Info("http listening", slog.String("addr", listener.Addr().String()))

			go func() {
				if err := router.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					params.Logger.Error("http server stopped", slog.String("err", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return router.Shutdown(ctx)
		},
	})
	return router, nil
}

var HttpModule = fx.Module("http",
	fx.Provide(httpServer),
	fx.Invoke(func(protocol.HttpRouter) {}),
)
