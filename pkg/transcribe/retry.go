package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Default retry parameters.
const (
	DefaultMaxAttempts = 10
	DefaultRetryDelay  = 100 * time.Millisecond
)

// SessionState is the lifecycle state of one logical transcription session.
type SessionState int32

const (
	// StateIdle is the state before the first connection attempt.
	StateIdle SessionState = iota

	// StateConnecting means a channel open is in progress.
	StateConnecting

	// StateStreaming means the service acknowledged the stream and results
	// may be flowing.
	StateStreaming

	// StateRetryPending means the last attempt failed retriably and the
	// client is waiting out the retry delay.
	StateRetryPending

	// StateCompleted is the terminal success state.
	StateCompleted

	// StateFailed is the terminal failure state.
	StateFailed
)

// String returns the human-readable name of the state.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateRetryPending:
		return "retry-pending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RetryConfig holds tuning knobs for a [RetryClient].
type RetryConfig struct {
	// MaxAttempts bounds the number of reconnects after the first attempt,
	// so a session makes at most MaxAttempts+1 connection attempts in
	// total. Default: 10.
	MaxAttempts int

	// RetryDelay is the fixed pause between attempts. Default: 100ms.
	RetryDelay time.Duration

	// NonRetriable lists failure kinds that end the session immediately.
	// Nil means the default set, {KindMalformedRequest}. Kinds not in the
	// set — including KindUnknown — are retried.
	NonRetriable []FailureKind
}

// RetryClient supervises logical transcription sessions over a [Channel],
// reconnecting on transient failures. It is safe for concurrent use; each
// session gets its own state and attempt counter.
type RetryClient struct {
	channel Channel

	mu           sync.Mutex
	maxAttempts  int
	retryDelay   time.Duration
	nonRetriable map[FailureKind]bool
}

// NewRetryClient creates a [RetryClient] speaking through channel.
// Zero-value config fields are replaced with the package defaults.
func NewRetryClient(channel Channel, cfg RetryConfig) *RetryClient {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	kinds := cfg.NonRetriable
	if kinds == nil {
		kinds = []FailureKind{KindMalformedRequest}
	}
	nonRetriable := make(map[FailureKind]bool, len(kinds))
	for _, k := range kinds {
		nonRetriable[k] = true
	}
	return &RetryClient{
		channel:      channel,
		maxAttempts:  cfg.MaxAttempts,
		retryDelay:   cfg.RetryDelay,
		nonRetriable: nonRetriable,
	}
}

// Configure adjusts the retry bounds for sessions started after the call.
// Sessions already running keep the values they were started with.
func (c *RetryClient) Configure(maxAttempts int, retryDelay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if maxAttempts > 0 {
		c.maxAttempts = maxAttempts
	}
	if retryDelay > 0 {
		c.retryDelay = retryDelay
	}
}

// StartStreamTranscription starts one logical transcription session reading
// audio from source and delivering results to handler. It assigns the
// session a fresh SessionID (any caller-provided value is replaced) and
// returns immediately; the returned [SessionFuture] resolves exactly once,
// when the session reaches Completed or Failed. Intermediate retriable
// failures never resolve the future and never reach handler.OnError.
//
// To stop a session, close the audio source: the publisher observes the
// close as end-of-stream, the open channel sees a clean end of input, and
// the session funnels through the normal completion path.
func (c *RetryClient) StartStreamTranscription(ctx context.Context, req StreamRequest, source io.Reader, handler StreamHandler) (*SessionFuture, error) {
	if source == nil {
		return nil, errors.New("transcribe: source must not be nil")
	}
	if handler == nil {
		return nil, errors.New("transcribe: handler must not be nil")
	}

	req.SessionID = uuid.NewString()
	pub := NewAudioStreamPublisher(source)
	fut := newSessionFuture()

	c.mu.Lock()
	maxAttempts, delay := c.maxAttempts, c.retryDelay
	nonRetriable := c.nonRetriable
	c.mu.Unlock()

	go c.run(ctx, req, pub, handler, fut, maxAttempts, delay, nonRetriable)
	return fut, nil
}

// run drives the retry loop for one logical session. The original recursive
// continuation style is expressed as an explicit loop; one goroutine per
// session means no two attempts ever overlap.
func (c *RetryClient) run(ctx context.Context, req StreamRequest, pub *AudioStreamPublisher,
	handler StreamHandler, fut *SessionFuture,
	maxAttempts int, delay time.Duration, nonRetriable map[FailureKind]bool) {

	log := slog.With("session_id", req.SessionID)

	for attempt := 1; ; attempt++ {
		fut.setState(StateConnecting)
		fut.attempts.Add(1)
		log.Info("opening transcription channel",
			"attempt", attempt,
			"max_attempts", maxAttempts+1,
		)

		adapter := &attemptAdapter{handler: handler, fut: fut}
		done := c.channel.Open(ctx, req, pub, adapter)

		var err error
		select {
		case err = <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		// The attempt is over either way. Shut its adapter so a channel
		// goroutine still winding down cannot deliver callbacks after the
		// terminal one.
		adapter.close()

		if err == nil {
			log.Info("transcription session completed", "attempts", attempt)
			handler.OnComplete()
			fut.resolve(StateCompleted, nil)
			return
		}

		kind := KindOf(err)
		retriable := !nonRetriable[kind] && ctx.Err() == nil
		if !retriable || attempt > maxAttempts {
			log.Error("transcription session failed",
				"attempts", attempt,
				"kind", kind,
				"err", err,
			)
			handler.OnError(err)
			fut.resolve(StateFailed, err)
			return
		}

		// Intermediate retriable failure: diagnostic only, never surfaced.
		fut.setState(StateRetryPending)
		log.Warn("channel attempt failed, retrying",
			"attempt", attempt,
			"kind", kind,
			"retry_delay", delay,
			"err", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err := ctx.Err()
			handler.OnError(err)
			fut.resolve(StateFailed, err)
			return
		}
	}
}

// attemptAdapter forwards one attempt's raw stream to the caller's handler.
// It deliberately does no filtering: the caller sees one OnResponse per
// connection attempt and every result event of every attempt. Once closed,
// late deliveries from the channel are dropped so nothing reaches the
// handler after its terminal callback.
type attemptAdapter struct {
	handler StreamHandler
	fut     *SessionFuture

	mu     sync.Mutex
	closed bool
}

// close stops all further deliveries. The mutex is held across handler
// calls, so a delivery in progress finishes before close returns.
func (a *attemptAdapter) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

func (a *attemptAdapter) OnResponse(resp StreamResponse) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.fut.setState(StateStreaming)
	a.handler.OnResponse(resp)
}

func (a *attemptAdapter) OnEvent(ev TranscriptEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.handler.OnStream(ev)
}

// SessionFuture is the asynchronous handle for one logical session. It
// resolves exactly once, when the session reaches [StateCompleted] or
// [StateFailed]. All methods are safe for concurrent use.
type SessionFuture struct {
	done     chan struct{}
	once     sync.Once
	err      error
	state    atomic.Int32
	attempts atomic.Int64
}

func newSessionFuture() *SessionFuture {
	return &SessionFuture{done: make(chan struct{})}
}

// Done returns a channel that is closed when the session has resolved.
func (f *SessionFuture) Done() <-chan struct{} { return f.done }

// Err returns the terminal failure, or nil if the session completed (or has
// not resolved yet). Only meaningful once Done is closed.
func (f *SessionFuture) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the session resolves or ctx is cancelled. It returns the
// session's terminal error, or ctx.Err() if the wait itself was cut short.
func (f *SessionFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the session's current lifecycle state.
func (f *SessionFuture) State() SessionState {
	return SessionState(f.state.Load())
}

// Attempts returns the number of connection attempts made so far.
func (f *SessionFuture) Attempts() int {
	return int(f.attempts.Load())
}

// setState records a non-terminal state transition. Terminal states are
// sticky and can only be set through resolve.
func (f *SessionFuture) setState(s SessionState) {
	for {
		cur := f.state.Load()
		if SessionState(cur) == StateCompleted || SessionState(cur) == StateFailed {
			return
		}
		if f.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// resolve sets the terminal state and result. Only the first call wins.
func (f *SessionFuture) resolve(s SessionState, err error) {
	f.once.Do(func() {
		f.state.Store(int32(s))
		f.err = err
		close(f.done)
	})
}
