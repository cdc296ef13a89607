package soupbintcp

import (
	"time"
)

// Default configuration values.
const (
	// DefaultHeartbeat is the interval between heartbeats.
	DefaultHeartbeat = 2000 * time.Millisecond
	// DefaultReadTimeout is how long a peer may stay silent before the session is dropped.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultInitialSequence is the first outbound sequence number.
	DefaultInitialSequence = 1
	// DefaultUnknownQueue is how many unknown-tag frames wait for TakeUnknown.
	DefaultUnknownQueue = 1024
)

// options holds the configuration for a session.
type options struct {
	handler Handler
	logger  Logger
	metrics *Metrics

	// onClose is called once with the error that ended the session.
	onClose func(error)

	newTicker func(time.Duration) Ticker

	heartbeat       time.Duration // interval between heartbeats
	readTimeout     time.Duration // read deadline per frame, zero disables
	writeTimeout    time.Duration // write deadline per frame, zero disables
	maxFrameSize    int           // largest accepted inbound frame
	initialSequence uint64        // first outbound sequence number
	unknownQueue    int           // unknown-tag frames kept for TakeUnknown

	requestedSession  string // client login: blank asks for the current session
	requestedSequence uint64 // client login: next sequence number wanted
}

// Option is a function that configures session options.
type Option func(*options)

// HandlerOption sets the handler receiving decoded messages.
// It is required.
func HandlerOption(h Handler) Option {
	return func(o *options) {
		o.handler = h
	}
}

// LoggerOption sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption records session activity in m.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// OnCloseOption sets a callback invoked once when the session is closed.
// The error is nil when the session ended cleanly.
func OnCloseOption(cb func(error)) Option {
	return func(o *options) {
		o.onClose = cb
	}
}

// HeartbeatOption sets the heartbeat interval.
func HeartbeatOption(interval time.Duration) Option {
	return func(o *options) {
		o.heartbeat = interval
	}
}

// TickerOption replaces the timer that drives heartbeats.
func TickerOption(newTicker func(time.Duration) Ticker) Option {
	return func(o *options) {
		o.newTicker = newTicker
	}
}

// ReadTimeoutOption sets how long to wait for the next frame.
// A negative value disables the deadline.
func ReadTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.readTimeout = timeout
	}
}

// WriteTimeoutOption sets the deadline for writing one frame.
// A negative value disables the deadline.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// MaxFrameSizeOption sets the largest inbound frame accepted, length prefix included.
// Frames claiming more are treated as framing errors before any buffer is sized.
func MaxFrameSizeOption(size int) Option {
	return func(o *options) {
		o.maxFrameSize = size
	}
}

// InitialSequenceOption sets the first sequence number assigned by SendSequenced.
func InitialSequenceOption(seq uint64) Option {
	return func(o *options) {
		o.initialSequence = seq
	}
}

// UnknownQueueOption caps the frames with unknown tags kept for TakeUnknown.
func UnknownQueueOption(n int) Option {
	return func(o *options) {
		o.unknownQueue = n
	}
}

// RequestedSessionOption sets the session a client asks for at login.
func RequestedSessionOption(session string) Option {
	return func(o *options) {
		o.requestedSession = session
	}
}

// RequestedSequenceOption sets the sequence number a client asks to resume from.
func RequestedSequenceOption(seq uint64) Option {
	return func(o *options) {
		o.requestedSequence = seq
	}
}

// checkOptions validates and sets default values for session options.
func checkOptions(opts *options) error {
	if opts.handler == nil {
		return ErrInvalidHandler
	}

	if opts.heartbeat <= 0 {
		opts.heartbeat = DefaultHeartbeat
	}

	if opts.readTimeout == 0 {
		opts.readTimeout = DefaultReadTimeout
	}

	if opts.writeTimeout == 0 {
		opts.writeTimeout = DefaultWriteTimeout
	}

	if opts.maxFrameSize <= 0 || opts.maxFrameSize > MaxFrameSize {
		opts.maxFrameSize = MaxFrameSize
	}

	if opts.initialSequence == 0 {
		opts.initialSequence = DefaultInitialSequence
	}

	if opts.unknownQueue <= 0 {
		opts.unknownQueue = DefaultUnknownQueue
	}

	if opts.newTicker == nil {
		opts.newTicker = newTimeTicker
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

// Ticker delivers the periodic ticks that drive heartbeats.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }
