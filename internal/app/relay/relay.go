package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"webrtc-rendezvous/internal/app/rooms"
)

// Poster records a message against room state.
type Poster interface {
	PostMessage(ctx context.Context, ref rooms.Ref, clientID, payload string) (rooms.MessageResult, error)
}

// Observer is notified about every forwarded message.
type Observer interface {
	ObserveDelivery(ok bool)
}

type Options struct {
	Logger   *zerolog.Logger
	Observer Observer
}

// Relay posts a message and, when the peer is already present, hands it to
// the transport. Delivery happens after the store write has settled.
type Relay struct {
	rooms     Poster
	transport Transport
	logger    zerolog.Logger
	observer  Observer
}

func New(poster Poster, transport Transport, opts Options) *Relay {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Relay{
		rooms:     poster,
		transport: transport,
		logger:    logger.With().Str("component", "relay").Logger(),
		observer:  opts.Observer,
	}
}

// Send returns the coordinator's decision. A forward that fails to reach the
// peer yields rooms.ErrDelivery alongside the decision.
func (r *Relay) Send(ctx context.Context, ref rooms.Ref, from, payload string) (rooms.MessageResult, error) {
	res, err := r.rooms.PostMessage(ctx, ref, from, payload)
	if err != nil || !res.Forward {
		return res, err
	}

	to := res.Peer
	if to == rooms.LoopbackClientID {
		to = from
	}
	err = r.transport.Deliver(ctx, Delivery{
		RoomID:  ref.ID,
		From:    from,
		To:      to,
		Payload: payload,
	})
	if r.observer != nil {
		r.observer.ObserveDelivery(err == nil)
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("room", ref.String()).Str("from", from).Str("to", to).Msg("delivery failed")
		return res, fmt.Errorf("%w: %w", rooms.ErrDelivery, err)
	}
	return res, nil
}
