package session

import (
	"context"

	"github.com/carelinehq/realtime/internal/protocol"
	"github.com/carelinehq/realtime/internal/transport"
)

// Conn is the transport contract the session drives. transport.Socket
// satisfies it; tests substitute fakes.
type Conn interface {
	Send(protocol.Frame) error
	Frames() <-chan protocol.Frame
	CloseNotify() <-chan error
	Close() error
}

// Dialer opens one Conn per connection attempt.
type Dialer interface {
	Dial(ctx context.Context, endpoint, sessionID, token string) (Conn, error)
}

// socketDialer is the production dialer over the websocket transport.
type socketDialer struct{}

func (socketDialer) Dial(ctx context.Context, endpoint, sessionID, token string) (Conn, error) {
	s, err := transport.Dial(ctx, endpoint, sessionID, token)
	if err != nil {
		return nil, err
	}
	return s, nil
}
