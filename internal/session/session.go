// Package session implements the realtime chat session protocol: the state
// machine that interprets inbound frames, the bounded-backoff reconnection
// policy around the transport socket, the heartbeat, and the accumulator
// that merges streamed content fragments into stable messages.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelinehq/realtime/internal/audit"
	"github.com/carelinehq/realtime/internal/credentials"
	"github.com/carelinehq/realtime/internal/domain"
	"github.com/carelinehq/realtime/internal/history"
	"github.com/carelinehq/realtime/internal/protocol"
	"github.com/carelinehq/realtime/internal/transport"
	"github.com/carelinehq/realtime/pkg/log"
)

// State is the session protocol state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingSessionStart
	StateActive
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingSessionStart:
		return "awaiting_session_start"
	case StateActive:
		return "active"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	// ErrReconnectExhausted is surfaced once the automatic retry ceiling is
	// reached. Only an explicit manual reconnect resets the counter.
	ErrReconnectExhausted = errors.New("session: reconnect attempts exhausted")
	// ErrDisconnected is returned for operations on a session after
	// Disconnect.
	ErrDisconnected = errors.New("session: disconnected")
	// ErrAlreadyStarted is returned when Connect is called twice.
	ErrAlreadyStarted = errors.New("session: already started")
	// ErrNotStarted is returned for a manual reconnect before Connect.
	ErrNotStarted = errors.New("session: not started")
)

// Options configures one session. Endpoint and Credentials are required.
type Options struct {
	Endpoint string
	Mode     domain.Mode
	// SessionID proposes an identifier when resuming an earlier session.
	// Empty for a new session; the server assigns one.
	SessionID string
	// ClinicalContext is passed through to the server unmodified.
	ClinicalContext json.RawMessage
	Credentials     credentials.Provider
	// History, when set, primes the message table on resume. The session
	// only appends to what the loader returns.
	History           history.Loader
	Dialer            Dialer
	HeartbeatInterval time.Duration
	Backoff           BackoffConfig
	Logger            *zerolog.Logger
}

type cmdKind int

const (
	cmdReconnect cmdKind = iota
	cmdDisconnect
)

type dialOutcome struct {
	conn Conn
	err  error
}

// Session owns exactly one transport socket and one reconnection policy.
// All inbound frames are processed strictly sequentially by a single run
// loop; independent sessions do not share state.
type Session struct {
	opts   Options
	logger zerolog.Logger
	dialer Dialer
	acc    *Accumulator
	rec    *Reconnector
	hb     *heartbeat

	mu           sync.Mutex
	started      bool
	disconnected bool
	state        State
	sessionID    string
	conn         Conn
	info         domain.SessionInfo
	connAttempt  domain.ConnectionAttempt

	cmds     chan cmdKind
	events   chan Event
	loopDone chan struct{}
	dialc    chan dialOutcome

	// Owned by the run loop.
	frames         <-chan protocol.Frame
	closeNotify    <-chan error
	dialing        bool
	reconnectTimer *time.Timer
	reconnectC     <-chan time.Time
	sustainedTimer *time.Timer
	sustainedC     <-chan time.Time
	streamingID    string
	lastFatal      *protocol.ServerError
	exhausted      bool
	historySeeded  bool
}

// New creates a session in the Idle state. Connect starts it.
func New(opts Options) (*Session, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("session: endpoint is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("session: credential provider is required")
	}
	if opts.Mode == "" {
		opts.Mode = domain.ModeConsult
	}
	if opts.Dialer == nil {
		opts.Dialer = socketDialer{}
	}

	logger := log.L()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Session{
		opts:      opts,
		logger:    logger,
		dialer:    opts.Dialer,
		acc:       NewAccumulator(logger),
		rec:       NewReconnector(opts.Backoff),
		hb:        newHeartbeat(opts.HeartbeatInterval),
		sessionID: opts.SessionID,
		info: domain.SessionInfo{
			ID:              opts.SessionID,
			Mode:            opts.Mode,
			ClinicalContext: opts.ClinicalContext,
			CreatedAt:       time.Now(),
		},
		cmds:     make(chan cmdKind),
		events:   make(chan Event, 128),
		loopDone: make(chan struct{}),
		dialc:    make(chan dialOutcome),
	}, nil
}

// Connect starts the session run loop and the first connection attempt.
// The ctx bounds every dial and history load for the session lifetime.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected {
		return ErrDisconnected
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	go s.run(ctx)
	return nil
}

// Disconnect tears the session down and prevents any further scheduled
// reconnection. Idempotent: calling it on an already-closed session is a
// no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return nil
	}
	s.disconnected = true
	started := s.started
	if !started {
		s.state = StateClosed
		s.mu.Unlock()
		close(s.events)
		close(s.loopDone)
		return nil
	}
	s.mu.Unlock()

	select {
	case s.cmds <- cmdDisconnect:
	case <-s.loopDone:
	}
	<-s.loopDone
	return nil
}

// Reconnect requests a manual, user-triggered reconnection. It resets the
// attempt counter, bypasses backoff, and cancels any scheduled automatic
// retry: the manual attempt wins.
func (s *Session) Reconnect() error {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return ErrDisconnected
	}
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.mu.Unlock()

	select {
	case s.cmds <- cmdReconnect:
		return nil
	case <-s.loopDone:
		return ErrDisconnected
	}
}

// Send emits one user message over the open transport. It does not buffer:
// when the session is not in Active or Streaming it fails immediately with
// transport.ErrNotConnected. The message identifier is client-proposed.
func (s *Session) Send(ctx context.Context, content string, attachments ...domain.Attachment) (domain.Message, error) {
	s.mu.Lock()
	state, conn, sessionID := s.state, s.conn, s.sessionID
	s.mu.Unlock()

	if (state != StateActive && state != StateStreaming) || conn == nil {
		return domain.Message{}, transport.ErrNotConnected
	}

	id := uuid.New().String()
	frame := protocol.NewMessageSend(sessionID, id, content, attachments)
	if err := conn.Send(frame); err != nil {
		return domain.Message{}, err
	}

	m := domain.NewUserMessage(id, content, attachments)
	s.acc.AddLocal(m)
	audit.LogWithDetail(ctx, audit.ActionMessageSend, sessionID, id, "user message sent")
	return *m, nil
}

// Events returns the session notification channel. It is closed when the
// session is disconnected.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current protocol state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the bound session identifier, or the proposed one
// before the server confirms.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Info returns the session descriptor: bound identifier, mode and the
// opaque clinical context it was opened with.
func (s *Session) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.info
	info.ID = s.sessionID
	return info
}

// Connection returns a snapshot of the current transport attempt: its
// status, the consecutive automatic retry count and the last error seen.
func (s *Session) Connection() domain.ConnectionAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connAttempt
}

// Messages returns copies of all accumulated messages in order.
func (s *Session) Messages() []domain.Message { return s.acc.Messages() }

// Message returns a copy of one accumulated message by id.
func (s *Session) Message(id string) (domain.Message, bool) { return s.acc.Get(id) }

func (s *Session) run(ctx context.Context) {
	defer func() {
		close(s.loopDone)
		close(s.events)
	}()

	s.startDial(ctx)

	for {
		select {
		case cmd := <-s.cmds:
			switch cmd {
			case cmdDisconnect:
				if s.State() != StateClosed {
					s.teardown(StateClosed)
				}
				audit.Log(ctx, audit.ActionDisconnect, s.SessionID(), "session disconnected")
				return
			case cmdReconnect:
				s.handleManualReconnect(ctx)
			}

		case out := <-s.dialc:
			s.dialing = false
			s.handleDialOutcome(ctx, out)

		case fr, ok := <-s.frames:
			if !ok {
				s.frames = nil
				continue
			}
			s.handleFrame(ctx, fr)

		case err := <-s.closeNotify:
			s.handleUnexpectedClose(err)

		case <-s.reconnectC:
			s.reconnectTimer = nil
			s.reconnectC = nil
			s.startDial(ctx)

		case <-s.sustainedC:
			// Connection held past one full heartbeat interval; the
			// attempt counter starts over.
			s.sustainedTimer = nil
			s.sustainedC = nil
			s.rec.Reset()
			s.exhausted = false
			s.setConnAttempt(domain.ConnOpen, nil)

		case <-s.hb.tick():
			s.sendHeartbeat()
		}
	}
}

func (s *Session) startDial(ctx context.Context) {
	if s.dialing {
		return
	}
	s.dialing = true
	s.setState(StateConnecting)
	s.setConnAttempt(domain.ConnConnecting, nil)

	endpoint := s.opts.Endpoint
	sessionID := s.SessionID()
	go func() {
		token, err := s.opts.Credentials.Token(ctx)
		if err != nil {
			s.deliverDial(dialOutcome{err: fmt.Errorf("credentials: %w", err)})
			return
		}
		conn, err := s.dialer.Dial(ctx, endpoint, sessionID, token)
		s.deliverDial(dialOutcome{conn: conn, err: err})
	}()
}

func (s *Session) deliverDial(out dialOutcome) {
	select {
	case s.dialc <- out:
	case <-s.loopDone:
		if out.conn != nil {
			out.conn.Close()
		}
	}
}

func (s *Session) handleDialOutcome(ctx context.Context, out dialOutcome) {
	if out.err != nil {
		s.logger.Warn().Err(out.err).Msg("connect failed")
		s.setConnAttempt(domain.ConnClosed, out.err)
		s.scheduleReconnect()
		return
	}

	s.setConnAttempt(domain.ConnOpen, nil)
	s.setConn(out.conn)
	s.frames = out.conn.Frames()
	s.closeNotify = out.conn.CloseNotify()
	s.setState(StateAwaitingSessionStart)

	s.sustainedTimer = time.NewTimer(s.hb.interval)
	s.sustainedC = s.sustainedTimer.C

	start := protocol.NewSessionStart(s.SessionID(), s.opts.Mode, s.opts.ClinicalContext)
	if err := out.conn.Send(start); err != nil {
		s.handleUnexpectedClose(err)
	}
}

func (s *Session) handleManualReconnect(ctx context.Context) {
	s.stopReconnectTimer()
	s.rec.Reset()
	s.exhausted = false
	s.lastFatal = nil
	if s.currentConn() == nil && !s.dialing {
		s.startDial(ctx)
	}
}

func (s *Session) handleFrame(ctx context.Context, fr protocol.Frame) {
	switch f := fr.(type) {
	case *protocol.SessionStartedFrame:
		s.handleSessionStarted(ctx, f)

	case *protocol.MessageDeltaFrame:
		state := s.State()
		if state != StateActive && state != StateStreaming {
			s.logger.Warn().Str(log.FieldState, state.String()).Msg("delta frame outside active session ignored")
			return
		}
		m, ok := s.acc.Append(f.MessageID, f.Role, f.Content)
		if !ok {
			return
		}
		s.streamingID = f.MessageID
		if state == StateActive {
			s.setState(StateStreaming)
		}
		s.emit(Event{Type: EventMessageDelta, Message: m, Fragment: f.Content})

	case *protocol.MessageCompleteFrame:
		m, ok := s.acc.Finalize(f.MessageID)
		if !ok {
			// Already finalized or never started; logged, not fatal.
			return
		}
		if s.streamingID == f.MessageID {
			s.streamingID = ""
		}
		if s.State() == StateStreaming && s.streamingID == "" {
			s.setState(StateActive)
		}
		s.emit(Event{Type: EventMessageComplete, Message: m})

	case *protocol.CitationListFrame:
		// Citations may arrive before or after finalize; streaming state is
		// untouched either way.
		m, ok := s.acc.AttachCitations(f.MessageID, f.Citations)
		if ok {
			s.emit(Event{Type: EventCitations, Message: m})
		}

	case *protocol.ErrorFrame:
		s.handleErrorFrame(ctx, f)

	case *protocol.PingFrame:
		if conn := s.currentConn(); conn != nil {
			conn.Send(protocol.NewPong())
		}

	case *protocol.PongFrame:
		// Acknowledgment is advisory; a missed pong never tears the
		// connection down.
		s.logger.Debug().Msg("heartbeat acknowledged")

	default:
		s.logger.Warn().Str(log.FieldFrameKind, string(fr.FrameKind())).Msg("unexpected frame kind ignored")
	}
}

func (s *Session) handleSessionStarted(ctx context.Context, f *protocol.SessionStartedFrame) {
	if s.State() != StateAwaitingSessionStart {
		s.logger.Warn().Msg("session.started outside handshake ignored")
		return
	}

	resumed := s.SessionID() != ""
	s.setSessionID(f.SessionID)

	if s.opts.History != nil && resumed && !s.historySeeded {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		msgs, err := s.opts.History.Load(hctx, f.SessionID)
		cancel()
		switch {
		case err == nil:
			s.acc.Seed(msgs)
		case errors.Is(err, history.ErrNotFound):
		default:
			s.logger.Warn().Err(err).Msg("history load failed")
		}
		s.historySeeded = true
	}

	s.setState(StateActive)
	s.hb.start()
	s.emit(Event{Type: EventSessionStarted, SessionID: f.SessionID})

	if resumed {
		audit.Log(ctx, audit.ActionSessionResume, f.SessionID, "session resumed")
	} else {
		audit.Log(ctx, audit.ActionSessionStart, f.SessionID, "session started")
	}
}

func (s *Session) handleErrorFrame(ctx context.Context, f *protocol.ErrorFrame) {
	serr := &protocol.ServerError{Code: f.Code, Message: f.Message}
	if serr.Fatal() {
		// Any in-flight message keeps its accumulated state; nothing is
		// finalized on the way down.
		s.lastFatal = serr
		audit.LogWithDetail(ctx, audit.ActionFatal, s.SessionID(), serr.Code, "fatal server error")
		s.emit(Event{Type: EventFatal, Err: serr})
		s.teardown(StateClosed)
		return
	}

	s.logger.Warn().Str("code", f.Code).Str("detail", f.Message).Msg("recoverable server error")
	if s.State() == StateStreaming {
		s.streamingID = ""
		s.setState(StateActive)
	}
}

func (s *Session) handleUnexpectedClose(err error) {
	state := s.State()
	if state == StateClosing || state == StateClosed {
		return
	}
	s.logger.Warn().Err(err).Msg("transport closed unexpectedly")

	s.setState(StateClosing)
	s.hb.stop()
	s.stopSustainedTimer()
	s.closeConn()
	s.streamingID = ""
	s.setConnAttempt(domain.ConnClosed, err)

	if s.lastFatal != nil {
		s.setState(StateClosed)
		return
	}
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	delay, ok := s.rec.Next()
	if !ok {
		if !s.exhausted {
			s.exhausted = true
			s.emit(Event{Type: EventReconnectExhausted, Err: ErrReconnectExhausted})
			audit.Log(context.Background(), audit.ActionReconnectExhausted, s.SessionID(), "reconnect attempts exhausted")
		}
		s.setState(StateClosed)
		return
	}

	s.setState(StateIdle)
	s.emit(Event{Type: EventReconnecting, Attempt: s.rec.Attempt(), Delay: delay})
	s.reconnectTimer = time.NewTimer(delay)
	s.reconnectC = s.reconnectTimer.C
}

func (s *Session) sendHeartbeat() {
	conn := s.currentConn()
	if conn == nil {
		return
	}
	if err := conn.Send(protocol.NewPing()); err != nil {
		s.logger.Debug().Err(err).Msg("heartbeat send failed")
	}
}

// teardown closes the transport and timers and parks the state machine in
// the given terminal state. The run loop stays alive so Disconnect and a
// manual Reconnect still work.
func (s *Session) teardown(final State) {
	s.setState(StateClosing)
	s.hb.stop()
	s.stopReconnectTimer()
	s.stopSustainedTimer()
	s.closeConn()
	s.streamingID = ""
	s.frames = nil
	s.closeNotify = nil
	s.setConnAttempt(domain.ConnClosed, nil)
	s.setState(final)
}

// setConnAttempt updates the connection bookkeeping surfaced through
// Connection. Only the run loop calls it.
func (s *Session) setConnAttempt(status domain.ConnStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connAttempt.Attempt = s.rec.Attempt()
	s.connAttempt.Status = status
	if err != nil {
		s.connAttempt.LastError = err.Error()
	} else if status == domain.ConnOpen {
		s.connAttempt.LastError = ""
	}
}

func (s *Session) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.frames = nil
	s.closeNotify = nil
}

func (s *Session) stopReconnectTimer() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
		s.reconnectC = nil
	}
}

func (s *Session) stopSustainedTimer() {
	if s.sustainedTimer != nil {
		s.sustainedTimer.Stop()
		s.sustainedTimer = nil
		s.sustainedC = nil
	}
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.logger.Debug().
		Str("from", prev.String()).
		Str(log.FieldState, next.String()).
		Msg("session state changed")
	s.emit(Event{Type: EventStateChanged, State: next})
}

func (s *Session) setConn(c Conn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

func (s *Session) currentConn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) setSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

func (s *Session) emit(e Event) {
	if e.State == 0 && e.Type != EventStateChanged {
		e.State = s.State()
	}
	if e.SessionID == "" {
		e.SessionID = s.SessionID()
	}
	select {
	case s.events <- e:
	default:
		s.logger.Warn().Str("event", string(e.Type)).Msg("event dropped, consumer too slow")
	}
}
