package protocol

import (
	echo "github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

const (
	httpControllerTag = `group:"http.controller"`

	// SignalOfferPath accepts a JSON offer and replies with the JSON answer.
	SignalOfferPath = "/signal/offer"
)

type HttpRouter = *echo.Echo

// Help resolve http handler. It's needed for providing router into handler
type HttpResolvable interface {
	Resolve(HttpRouter) error
}

func AsHttpController(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(HttpResolvable)),
		fx.ResultTags(httpControllerTag),
	)
}

// HttpControllers collects every controller provided with AsHttpController.
type HttpControllers struct {
	fx.In

	Controllers []HttpResolvable `group:"http.controller"`
}
