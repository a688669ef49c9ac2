package httpsignal

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/peerstream/pkg/peer"
	"github.com/romashorodok/peerstream/pkg/protocol"
	"go.uber.org/fx"
)

const DefaultAnswerTimeout = 10 * time.Second

// SessionFactory creates the answering session. It must return a
// non-initiator with trickle disabled.
type SessionFactory func() (*peer.Session, error)

// AcceptFunc takes ownership of an answered session. seen holds the events
// consumed while the answer was produced. It must not block.
type AcceptFunc func(session *peer.Session, seen []peer.Event)

type Controller struct {
	factory SessionFactory
	accept  AcceptFunc
	timeout time.Duration
	logger  *slog.Logger
}

// Offer answers a posted offer with the single answer of a new session.
func (ctrl *Controller) Offer(ctx echo.Context) error {
	var offer peer.SignalData
	if err := ctx.Bind(&offer); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed offer").SetInternal(err)
	}
	if offer.Type != "offer" || offer.SDP == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "expected an offer description")
	}

	session, err := ctrl.factory()
	if err != nil {
		return err
	}
	if err := session.Signal(offer); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "offer rejected").SetInternal(err)
	}

	wait, cancel := context.WithTimeout(ctx.Request().Context(), ctrl.timeout)
	defer cancel()

	answer, seen, err := awaitDescription(wait, session)
	if err != nil {
		session.Destroy(err)
		return err
	}

	if err := ctx.JSON(http.StatusOK, answer); err != nil {
		session.Destroy(err)
		return err
	}
	ctrl.logger.Debug("answered offer", slog.String("remote", ctx.RealIP()))

	if ctrl.accept == nil {
		session.Destroy(nil)
		return nil
	}
	ctrl.accept(session, seen)
	return nil
}

func (ctrl *Controller) Resolve(router protocol.HttpRouter) error {
	router.POST(protocol.SignalOfferPath, ctrl.Offer)
	return nil
}

var _ protocol.HttpResolvable = (*Controller)(nil)

type NewController_Params struct {
	fx.In

	Factory SessionFactory
	Accept  AcceptFunc    `optional:"true"`
	Logger  *slog.Logger  `optional:"true"`
	Timeout time.Duration `name:"httpsignal.timeout" optional:"true"`
}

func NewController(params NewController_Params) *Controller {
	ctrl := &Controller{
		factory: params.Factory,
		accept:  params.Accept,
		timeout: params.Timeout,
		logger:  params.Logger,
	}
	if ctrl.timeout <= 0 {
		ctrl.timeout = DefaultAnswerTimeout
	}
	if ctrl.logger == nil {
		ctrl.logger = slog.New(slog.DiscardHandler)
	}
	return ctrl
}
