// Package soupbintcp implements the SoupBinTCP session protocol.
// It provides the binary message codec (field descriptors, the
// length-prefixed envelope and the message catalog) and a Session that
// drives it over an established byte stream: login, header/body read
// pipelining, message dispatch, serialized writes, heartbeats and
// outbound sequence numbering.
package soupbintcp

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/someonegg/gox/syncx"
	"golang.org/x/sync/errgroup"
)

// Role is the side of the session a Session plays.
type Role int

const (
	// Server accepts logins and publishes sequenced data.
	Server Role = iota
	// Client logs in and consumes sequenced data.
	Client
)

// String returns "server" or "client".
func (r Role) String() string {
	if r == Client {
		return "client"
	}
	return "server"
}

// State is the protocol state of a session.
type State int32

const (
	// Connecting is a client session that has not started yet.
	Connecting State = iota
	// Authenticating is a client session waiting for the login reply.
	Authenticating
	// AwaitingLogin is a server session waiting for a login request.
	AwaitingLogin
	// Active is a logged-in session.
	Active
	// Closing is a session whose transport is being released.
	Closing
	// Closed is terminal.
	Closed
)

// String returns the state name in snake case.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case AwaitingLogin:
		return "awaiting_login"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type credentials struct {
	username string
	password string
}

// outgoing is one frame waiting in the write queue.
// A final frame closes the session once written.
type outgoing struct {
	frame []byte
	final bool
}

// Session is one live SoupBinTCP connection in either role.
// It owns the transport: a single reader decodes frames in arrival order,
// a single writer drains the write queue in call order, and a ticker
// drives heartbeats.
//
// Send methods are safe to call from any goroutine.
type Session struct {
	rawConn net.Conn
	reader  *bufio.Reader
	logger  Logger
	opts    options
	role    Role
	creds   credentials

	state  atomic.Int32
	closed atomic.Bool
	ended  atomic.Bool // logout sent or end of session received

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	nextSeq  uint64
	lastIn   uint64
	sent     map[uint64][]byte
	pending  []outgoing
	draining bool // a final frame is queued
	unknown  [][]byte
	err      error

	wake chan struct{}

	// read state, reused for every inbound frame
	header [HeaderSize]byte
	frame  []byte

	done   syncx.DoneChan
	finish sync.Once
}

// NewClient creates a client session over an established connection.
// The login request built from username and password is sent when Run starts.
func NewClient(conn net.Conn, username, password string, opt ...Option) (*Session, error) {
	s, err := newSession(conn, Client, opt)
	if err != nil {
		return nil, err
	}

	s.creds = credentials{username: username, password: password}
	if _, err = s.loginRequest(); err != nil {
		return nil, err
	}
	s.setState(Connecting)
	return s, nil
}

// NewServer creates a server session for an accepted connection.
// The handler decides on the login with Accept or Reject.
func NewServer(conn net.Conn, opt ...Option) (*Session, error) {
	s, err := newSession(conn, Server, opt)
	if err != nil {
		return nil, err
	}

	s.setState(AwaitingLogin)
	return s, nil
}

func newSession(conn net.Conn, role Role, opt []Option) (*Session, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return &Session{
		rawConn: conn,
		reader:  bufio.NewReaderSize(conn, opts.maxFrameSize),
		logger:  opts.logger,
		opts:    opts,
		role:    role,
		nextSeq: opts.initialSequence,
		sent:    make(map[uint64][]byte),
		wake:    make(chan struct{}, 1),
		done:    syncx.NewDoneChan(),
	}, nil
}

func (s *Session) loginRequest() (LoginRequest, error) {
	m := NewLoginRequest()
	if err := m.SetUsername(s.creds.username); err != nil {
		return m, errors.Wrap(ErrInvalidCredentials, err.Error())
	}
	if err := m.SetPassword(s.creds.password); err != nil {
		return m, errors.Wrap(ErrInvalidCredentials, err.Error())
	}
	if err := m.SetRequestedSession(s.opts.requestedSession); err != nil {
		return m, err
	}
	if err := m.SetSequence(s.opts.requestedSequence); err != nil {
		return m, err
	}
	return m, nil
}

// Run starts the session's read, write and heartbeat loops.
// A client session sends its login request first.
// Run blocks until the session ends and always leaves it Closed; it
// returns nil when the protocol ended the session cleanly.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.closed.Load() {
		s.mu.Unlock()
		return ErrConnectionClosed
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("session started", "addr", s.Addr(), "role", s.role)
	s.logger.Debug("session options", "addr", s.Addr(),
		"heartbeat", s.opts.heartbeat,
		"read_timeout", s.opts.readTimeout,
		"max_frame_size", s.opts.maxFrameSize,
		"initial_sequence", s.opts.initialSequence)
	s.opts.metrics.sessionStarted()
	defer s.opts.metrics.sessionEnded()

	group, child := errgroup.WithContext(ctx)
	stop := context.AfterFunc(child, func() { _ = s.rawConn.Close() })
	defer stop()

	if s.role == Client {
		if err := s.login(); err != nil {
			s.closeConn(err)
			return err
		}
	}

	group.Go(func() error {
		return s.readLoop(child)
	})

	group.Go(func() error {
		return s.writeLoop(child)
	})

	group.Go(func() error {
		return s.heartbeatLoop(child)
	})

	err := group.Wait()
	if errors.Is(err, ErrSessionEnded) {
		err = nil
	}
	s.closeConn(err)

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Info("session closed with error", "addr", s.Addr(), "error", err)
	} else {
		s.logger.Info("session closed", "addr", s.Addr())
	}

	return err
}

func (s *Session) login() error {
	m, err := s.loginRequest()
	if err != nil {
		return err
	}
	if err = s.SendUnsequenced(m.Bytes()); err != nil {
		return err
	}
	s.setState(Authenticating)
	s.logger.Debug("login sent", "addr", s.Addr(), "username", m.Username(),
		"session", m.RequestedSession(), "sequence", s.opts.requestedSequence)
	return nil
}

// Close releases the transport. Queued writes are discarded and no
// handler is called afterwards. Safe to call multiple times.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.setState(Closing)

	s.mu.Lock()
	cancel, running := s.cancel, s.running
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := s.rawConn.Close()
	if !running {
		s.finishWith(ErrConnectionClosed)
	}
	return err
}

// IsClosed returns true if the session has been closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done is signaled once the session is Closed.
func (s *Session) Done() syncx.DoneChanR {
	return s.done.R()
}

// Err returns the error that ended the session, nil for a clean end.
// Only meaningful after Done is signaled.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns the current protocol state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Role returns the session role.
func (s *Session) Role() Role {
	return s.role
}

// Addr returns the remote address of the connection.
func (s *Session) Addr() net.Addr {
	return s.rawConn.RemoteAddr()
}

// SendSequenced assigns the next sequence number to frame, records a copy
// of it and queues it for transmission.
func (s *Session) SendSequenced(frame []byte) (uint64, error) {
	b := cloneBytes(frame)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enqueueLocked(b, false); err != nil {
		return 0, err
	}
	seq := s.nextSeq
	s.nextSeq++
	s.sent[seq] = b
	s.opts.metrics.sequenced()
	return seq, nil
}

// SendSequencedAt queues frame under an explicit sequence number and
// records it. A number already recorded returns ErrSequenceInUse. A number
// at or past the counter moves the counter to seq+1; lower numbers leave
// it alone.
func (s *Session) SendSequencedAt(seq uint64, frame []byte) error {
	b := cloneBytes(frame)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sent[seq]; ok {
		return errors.Wrapf(ErrSequenceInUse, "sequence %d", seq)
	}
	if err := s.enqueueLocked(b, false); err != nil {
		return err
	}
	s.sent[seq] = b
	if seq >= s.nextSeq {
		s.nextSeq = seq + 1
	}
	s.opts.metrics.sequenced()
	return nil
}

// SendUnsequenced queues frame for transmission without a sequence number.
func (s *Session) SendUnsequenced(frame []byte) error {
	b := cloneBytes(frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(b, false)
}

// Write queues a catalog message on the unsequenced path.
func (s *Session) Write(m Message) error {
	return s.SendUnsequenced(m.Bytes())
}

// WriteSequenced wraps payload in a sequenced data message and sends it
// with the next sequence number.
func (s *Session) WriteSequenced(payload []byte) (uint64, error) {
	m := NewSequencedData()
	if err := m.AppendPayload(payload); err != nil {
		return 0, err
	}
	return s.SendSequenced(m.Bytes())
}

// Sent returns the frame recorded for sequence number seq.
func (s *Session) Sent(seq uint64) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.sent[seq]
	if !ok {
		return nil, false
	}
	return cloneBytes(b), true
}

// SentCount returns the number of sequenced frames recorded.
func (s *Session) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// NextSequence returns the sequence number the next SendSequenced will use.
func (s *Session) NextSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// LastReceivedSequence returns the sequence number of the most recent
// sequenced data message received, counted from the login reply.
// Inside OnSequencedData it is the number of the message being handled.
func (s *Session) LastReceivedSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIn
}

// TakeUnknown returns and clears the frames received with tags outside
// the message catalog. At most UnknownQueueOption frames are kept between
// calls; later ones are dropped.
func (s *Session) TakeUnknown() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := s.unknown
	s.unknown = nil
	return frames
}

// Accept answers a login request: it sends a login accepted message and
// makes seq the next outbound sequence number. The counter never moves
// back: a seq below NextSequence returns ErrSequenceInUse.
func (s *Session) Accept(session string, seq uint64) error {
	m := NewLoginAccepted()
	if err := m.SetSession(session); err != nil {
		return err
	}
	if err := m.SetSequence(seq); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < s.nextSeq {
		return errors.Wrapf(ErrSequenceInUse, "sequence %d below next %d", seq, s.nextSeq)
	}
	if err := s.enqueueLocked(m.Bytes(), false); err != nil {
		return err
	}
	s.nextSeq = seq
	s.setState(Active)
	s.logger.Info("login accepted", "addr", s.Addr(), "session", session, "sequence", seq)
	return nil
}

// Reject answers a login request with a rejection and closes the session
// once it has been written.
func (s *Session) Reject(reason RejectReason) error {
	m := NewLoginRejected()
	if err := m.SetReason(reason); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enqueueLocked(m.Bytes(), true); err != nil {
		return err
	}
	s.setState(Closing)
	s.logger.Info("login rejected", "addr", s.Addr(), "reason", reason)
	return nil
}

// EndSession sends an end of session message and closes the session once
// it has been written.
func (s *Session) EndSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enqueueLocked(NewEndOfSession().Bytes(), true); err != nil {
		return err
	}
	s.setState(Closing)
	return nil
}

// Logout sends a logout request. The session ends when the server
// closes the connection.
func (s *Session) Logout() error {
	s.ended.Store(true)
	return s.Write(NewLogoutRequest())
}

// OnTimer is called on every heartbeat tick and sends a heartbeat for the
// session's role, whether or not other traffic was sent since the last tick.
func (s *Session) OnTimer(elapsed time.Duration) {
	var hb Message = NewServerHeartbeat()
	if s.role == Client {
		hb = NewClientHeartbeat()
	}

	if err := s.Write(hb); err != nil {
		s.logger.Debug("heartbeat not sent", "addr", s.Addr(), "error", err)
		return
	}
	s.opts.metrics.heartbeat()
}

// enqueueLocked appends a frame to the write queue and wakes the writer.
// Caller must hold s.mu.
func (s *Session) enqueueLocked(frame []byte, final bool) error {
	if s.closed.Load() || s.draining {
		return ErrConnectionClosed
	}

	s.pending = append(s.pending, outgoing{frame: frame, final: final})
	if final {
		s.draining = true
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// nextWrite pops the front of the write queue.
func (s *Session) nextWrite() (outgoing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return outgoing{}, false
	}
	out := s.pending[0]
	s.pending[0] = outgoing{}
	s.pending = s.pending[1:]
	return out, true
}

// readLoop reads frames one at a time, header then body, and dispatches
// each before reading the next.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := s.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var te *TransportError
			if s.ended.Load() && errors.As(err, &te) {
				return ErrSessionEnded
			}
			s.logger.Debug("read error", "addr", s.Addr(), "error", err)
			return err
		}

		// Close may land while frames are still buffered.
		if s.closed.Load() {
			return context.Canceled
		}
		if err = s.dispatch(frame); err != nil {
			return err
		}
	}
}

// readFrame reads one frame into the reused read buffer. The length
// prefix is validated before the buffer is sized from it.
func (s *Session) readFrame() ([]byte, error) {
	if s.opts.readTimeout > 0 {
		_ = s.rawConn.SetReadDeadline(time.Now().Add(s.opts.readTimeout))
	}

	if _, err := io.ReadFull(s.reader, s.header[:]); err != nil {
		s.opts.metrics.error("transport")
		return nil, &TransportError{Op: "read", Err: err}
	}

	n, err := FrameLength(s.header[:], s.opts.maxFrameSize)
	if err != nil {
		s.opts.metrics.error("framing")
		return nil, err
	}

	if cap(s.frame) < n {
		s.frame = make([]byte, n)
	}
	s.frame = s.frame[:n]
	copy(s.frame, s.header[:])

	if _, err = io.ReadFull(s.reader, s.frame[HeaderSize:]); err != nil {
		s.opts.metrics.error("transport")
		return nil, &TransportError{Op: "read", Err: err}
	}
	return s.frame, nil
}

// dispatch decodes a frame and hands it to the handler for its tag.
// Frames with unknown tags are queued for TakeUnknown until the queue is full.
func (s *Session) dispatch(frame []byte) error {
	s.opts.metrics.frameReceived(frame)

	msg, err := ParseMessage(frame, s.opts.maxFrameSize)
	if errors.Is(err, ErrUnknownMessageTag) {
		s.mu.Lock()
		queued := len(s.unknown) < s.opts.unknownQueue
		if queued {
			s.unknown = append(s.unknown, msg.Bytes())
		}
		s.mu.Unlock()

		if !queued {
			s.opts.metrics.error("unknown_dropped")
			s.logger.Warn("unknown message dropped, queue full", "addr", s.Addr(), "tag", tagName(msg.Tag()))
			return nil
		}
		s.opts.metrics.error("unknown_tag")
		s.logger.Warn("unknown message tag", "addr", s.Addr(), "tag", tagName(msg.Tag()), "length", msg.Length())
		return nil
	}
	if err != nil {
		s.opts.metrics.error("framing")
		return err
	}

	h := s.opts.handler
	switch m := msg.(type) {
	case Debug:
		h.OnDebug(s, m)
	case LoginAccepted:
		s.loginAccepted(m)
		h.OnLoginAccepted(s, m)
	case LoginRejected:
		s.logger.Warn("login rejected", "addr", s.Addr(), "reason", m.Reason())
		h.OnLoginRejected(s, m)
		if s.role == Client {
			return errors.Wrap(ErrLoginRejected, m.Reason().String())
		}
	case SequencedData:
		s.mu.Lock()
		s.lastIn++
		s.mu.Unlock()
		h.OnSequencedData(s, m)
	case ServerHeartbeat:
		h.OnServerHeartbeat(s, m)
	case EndOfSession:
		s.ended.Store(true)
		h.OnEndOfSession(s, m)
	case LoginRequest:
		h.OnLoginRequest(s, m)
	case UnsequencedData:
		h.OnUnsequencedData(s, m)
	case ClientHeartbeat:
		h.OnClientHeartbeat(s, m)
	case LogoutRequest:
		h.OnLogoutRequest(s, m)
		if s.role == Server {
			s.logger.Info("logout requested", "addr", s.Addr())
			return ErrSessionEnded
		}
	}
	return nil
}

func (s *Session) loginAccepted(m LoginAccepted) {
	seq, err := m.Sequence()
	if err != nil {
		s.logger.Warn("login accepted with invalid sequence", "addr", s.Addr(), "error", err)
	} else if seq > 0 {
		s.mu.Lock()
		s.lastIn = seq - 1
		s.mu.Unlock()
	}
	s.setState(Active)
	s.logger.Info("login accepted", "addr", s.Addr(), "session", m.Session(), "sequence", seq)
}

// writeLoop drains the write queue one frame at a time, so exactly one
// write is in flight and frames leave in the order they were queued.
func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}

		for {
			out, ok := s.nextWrite()
			if !ok {
				break
			}
			if err := s.write(ctx, out.frame); err != nil {
				return err
			}
			if out.final {
				return ErrSessionEnded
			}
		}
	}
}

// write sends one frame to the connection with a deadline.
func (s *Session) write(ctx context.Context, frame []byte) error {
	if s.opts.writeTimeout > 0 {
		_ = s.rawConn.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
	}

	if _, err := s.rawConn.Write(frame); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.opts.metrics.error("transport")
		s.logger.Debug("write error", "addr", s.Addr(), "error", err)
		return &TransportError{Op: "write", Err: err}
	}

	s.opts.metrics.frameSent(frame)
	return nil
}

// heartbeatLoop calls OnTimer on every tick until the session ends.
func (s *Session) heartbeatLoop(ctx context.Context) error {
	ticker := s.opts.newTicker(s.opts.heartbeat)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			s.OnTimer(now.Sub(last))
			last = now
		}
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// closeConn marks the session closed and releases the transport.
func (s *Session) closeConn(err error) {
	s.closed.Store(true)
	s.setState(Closing)
	_ = s.rawConn.Close()
	s.finishWith(err)
}

// finishWith moves the session to Closed exactly once.
func (s *Session) finishWith(err error) {
	s.finish.Do(func() {
		s.mu.Lock()
		s.err = err
		s.pending = nil
		s.mu.Unlock()

		s.setState(Closed)
		if s.opts.onClose != nil {
			s.opts.onClose(err)
		}
		s.done.SetDone()
	})
}

func cloneBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
