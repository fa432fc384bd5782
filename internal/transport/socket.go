// Package transport owns the websocket connection underneath a chat session.
// It only connects, sends, receives and closes; retry policy and protocol
// interpretation live in the session layer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/carelinehq/realtime/internal/protocol"
	"github.com/carelinehq/realtime/pkg/log"
)

// ErrNotConnected is returned by Send after the socket has closed.
var ErrNotConnected = errors.New("transport: not connected")

// ConnectionError wraps a failure to establish the websocket.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Socket is one live websocket connection. Inbound frames are decoded and
// delivered in arrival order on Frames(); an unexpected close is reported
// once on CloseNotify(). A socket is single-use: once closed it is done.
type Socket struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	frames      chan protocol.Frame
	closeNotify chan error

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Dial establishes the websocket. The endpoint may use an http(s) or ws(s)
// scheme; the bearer token and, when resuming, the session identifier are
// carried as query parameters.
func Dial(ctx context.Context, endpoint, sessionID, token string) (*Socket, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	q := u.Query()
	q.Set("token", token)
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("handshake rejected (%s): %w", resp.Status, err)
		}
		return nil, &ConnectionError{Endpoint: redacted(u), Err: err}
	}

	s := &Socket{
		conn:        conn,
		logger:      log.L(),
		frames:      make(chan protocol.Frame, 64),
		closeNotify: make(chan error, 1),
		done:        make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Frames returns the inbound frame channel. It is closed when the
// connection ends. Exactly one consumer must drain it.
func (s *Socket) Frames() <-chan protocol.Frame { return s.frames }

// CloseNotify reports an unexpected close. Nothing is sent when the close
// was requested locally via Close.
func (s *Socket) CloseNotify() <-chan error { return s.closeNotify }

// Send writes one frame to the wire. It does not buffer: after the socket
// closed it fails immediately with ErrNotConnected.
func (s *Socket) Send(f protocol.Frame) error {
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}

	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Close shuts the connection down. Idempotent.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.conn.Close()
	})
	return nil
}

func (s *Socket) readLoop() {
	defer close(s.frames)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Locally requested close, not an error.
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn().Err(err).Msg("websocket read failed")
				}
				s.closeNotify <- err
			}
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			// Malformed frames are logged and skipped; the session survives.
			s.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

// redacted strips the bearer token from a URL before it lands in an error.
func redacted(u *url.URL) string {
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "redacted")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
