package relay

import "context"

//go:generate mockgen -source=transport.go -destination=mock_transport_test.go -package=relay

// Delivery is one signaling message addressed to a room participant.
type Delivery struct {
	RoomID  string
	From    string
	To      string
	Payload string
}

// Transport pushes a message to a connected participant.
type Transport interface {
	Deliver(ctx context.Context, d Delivery) error
}

// TransportFunc adapts a plain function to Transport.
type TransportFunc func(ctx context.Context, d Delivery) error

func (f TransportFunc) Deliver(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}
