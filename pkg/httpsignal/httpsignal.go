// Package httpsignal exchanges one offer and one answer over HTTP. Both
// sessions must have trickle disabled, since candidates cannot follow the
// description once the request has completed.
package httpsignal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/romashorodok/peerstream/pkg/peer"
)

var (
	ErrTrickle  = errors.New("trickled candidate on http signaling")
	ErrClosed   = errors.New("session closed before its description")
	ErrResponse = errors.New("unexpected signaling response")
)

// awaitDescription consumes events until the session emits a description
// and returns it with every other event seen on the way.
func awaitDescription(ctx context.Context, s *peer.Session) (peer.SignalData, []peer.Event, error) {
	var seen []peer.Event
	for {
		select {
		case <-ctx.Done():
			return peer.SignalData{}, seen, context.Cause(ctx)
		case e, ok := <-s.Events():
			if !ok {
				if err := s.Err(); err != nil {
					return peer.SignalData{}, seen, fmt.Errorf("%w: %w", ErrClosed, err)
				}
				return peer.SignalData{}, seen, ErrClosed
			}
			sig, isSignal := e.(peer.SignalEvent)
			if !isSignal {
				seen = append(seen, e)
				continue
			}
			switch {
			case sig.Data.Candidate != nil:
				return peer.SignalData{}, seen, ErrTrickle
			case sig.Data.SDP != "":
				return sig.Data, seen, nil
			}
			// Renegotiate requests have nowhere to go before the answer.
		}
	}
}

// Offer runs the initiator half: it posts the session's offer to url and
// applies the answer. The returned events were consumed while waiting and
// precede whatever is still on s.Events(). On failure the session is
// destroyed.
func Offer(ctx context.Context, client *http.Client, url string, s *peer.Session) ([]peer.Event, error) {
	if client == nil {
		client = http.DefaultClient
	}

	offer, seen, err := awaitDescription(ctx, s)
	if err != nil {
		s.Destroy(err)
		return seen, err
	}

	answer, err := post(ctx, client, url, offer)
	if err != nil {
		s.Destroy(err)
		return seen, err
	}
	return seen, s.Signal(answer)
}

func post(ctx context.Context, client *http.Client, url string, offer peer.SignalData) (peer.SignalData, error) {
	body, err := offer.Marshal()
	if err != nil {
		return peer.SignalData{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return peer.SignalData{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return peer.SignalData{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return peer.SignalData{}, fmt.Errorf("%w: %s", ErrResponse, resp.Status)
	}

	var answer peer.SignalData
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return peer.SignalData{}, fmt.Errorf("%w: %w", ErrResponse, err)
	}
	if answer.Type != "answer" || answer.SDP == "" {
		return peer.SignalData{}, fmt.Errorf("%w: type %q", ErrResponse, answer.Type)
	}
	return answer, nil
}
