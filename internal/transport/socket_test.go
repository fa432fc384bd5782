package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carelinehq/realtime/internal/protocol"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer accepts one connection and hands it to the test.
type wsServer struct {
	srv   *httptest.Server
	mu    sync.Mutex
	conns []*websocket.Conn
	reqs  []*http.Request
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.reqs = append(s.reqs, r)
		s.mu.Unlock()
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) endpoint() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		if len(s.conns) > 0 {
			c := s.conns[len(s.conns)-1]
			s.mu.Unlock()
			return c
		}
		s.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("server never saw a connection")
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *wsServer) lastRequest() *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reqs) == 0 {
		return nil
	}
	return s.reqs[len(s.reqs)-1]
}

func TestDialCarriesTokenAndSessionID(t *testing.T) {
	srv := newWSServer(t)

	sock, err := Dial(context.Background(), srv.endpoint(), "sess-1", "bearer-token")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sock.Close()
	srv.conn(t)

	req := srv.lastRequest()
	if got := req.URL.Query().Get("token"); got != "bearer-token" {
		t.Fatalf("token query = %q", got)
	}
	if got := req.URL.Query().Get("session_id"); got != "sess-1" {
		t.Fatalf("session_id query = %q", got)
	}
}

func TestDialUpgradesHTTPScheme(t *testing.T) {
	srv := newWSServer(t)

	// An http:// endpoint is accepted and upgraded to ws://.
	sock, err := Dial(context.Background(), srv.srv.URL, "", "tok")
	if err != nil {
		t.Fatalf("Dial with http scheme failed: %v", err)
	}
	sock.Close()

	req := srv.lastRequest()
	if req.URL.Query().Get("session_id") != "" {
		t.Fatal("empty session id must not appear in the query")
	}
}

func TestSocketDeliversFramesInOrder(t *testing.T) {
	srv := newWSServer(t)
	sock, err := Dial(context.Background(), srv.endpoint(), "", "tok")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sock.Close()
	server := srv.conn(t)

	payloads := []string{
		`{"type":"session.started","session_id":"sess-1"}`,
		`{"type":"message.delta","session_id":"sess-1","message_id":"m1","role":"assistant","content":"a"}`,
		`{"type":"message.complete","session_id":"sess-1","message_id":"m1"}`,
	}
	for _, p := range payloads {
		if err := server.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
			t.Fatalf("server write failed: %v", err)
		}
	}

	wantKinds := []protocol.Kind{
		protocol.KindSessionStarted,
		protocol.KindMessageDelta,
		protocol.KindMessageComplete,
	}
	for i, want := range wantKinds {
		select {
		case fr := <-sock.Frames():
			if fr.FrameKind() != want {
				t.Fatalf("frame %d kind = %s, want %s", i, fr.FrameKind(), want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestSocketSkipsMalformedFrames(t *testing.T) {
	srv := newWSServer(t)
	sock, err := Dial(context.Background(), srv.endpoint(), "", "tok")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sock.Close()
	server := srv.conn(t)

	server.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus.kind"}`))
	server.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
	server.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))

	select {
	case fr := <-sock.Frames():
		if fr.FrameKind() != protocol.KindPong {
			t.Fatalf("frame kind = %s, want pong after skipping garbage", fr.FrameKind())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("malformed frames must be skipped, not stall the stream")
	}
}

func TestSocketCloseNotifyOnServerDrop(t *testing.T) {
	srv := newWSServer(t)
	sock, err := Dial(context.Background(), srv.endpoint(), "", "tok")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sock.Close()
	server := srv.conn(t)

	// A hard drop, no close handshake.
	server.Close()

	select {
	case err := <-sock.CloseNotify():
		if err == nil {
			t.Fatal("CloseNotify delivered nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CloseNotify never fired on server drop")
	}
}

func TestSocketSendAfterClose(t *testing.T) {
	srv := newWSServer(t)
	sock, err := Dial(context.Background(), srv.endpoint(), "", "tok")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	srv.conn(t)

	if err := sock.Send(protocol.NewPing()); err != nil {
		t.Fatalf("Send on open socket failed: %v", err)
	}

	if err := sock.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sock.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := sock.Send(protocol.NewPing()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send after close error = %v, want ErrNotConnected", err)
	}

	// A locally requested close must not look like a failure.
	select {
	case err := <-sock.CloseNotify():
		t.Fatalf("CloseNotify fired on local close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDialRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), "", "bad-token")
	if err == nil {
		t.Fatal("Dial should fail on a rejected handshake")
	}
	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %T, want *ConnectionError", err)
	}
	if strings.Contains(cerr.Error(), "bad-token") {
		t.Fatalf("error leaks the bearer token: %s", cerr.Error())
	}
}
