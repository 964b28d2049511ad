// Package mock provides test doubles for the transcribe package interfaces.
//
// Use Channel to script per-attempt outcomes for a RetryClient under test,
// and Handler to record every callback a session delivers.
//
// Example:
//
//	ch := &mock.Channel{Script: []mock.Outcome{
//	    {Err: transcribe.NewFailure(transcribe.KindTransientChannel, errors.New("reset"))},
//	    {}, // second attempt completes cleanly
//	}}
//	client := transcribe.NewRetryClient(ch, transcribe.RetryConfig{})
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/streamscribe/pkg/transcribe"
)

// OpenCall records a single invocation of Channel.Open.
type OpenCall struct {
	// Ctx is the context passed to Open.
	Ctx context.Context
	// Req is the request passed to Open. Retry correctness tests assert the
	// SessionID is identical across all recorded calls.
	Req transcribe.StreamRequest
}

// Outcome scripts the behaviour of one connection attempt.
type Outcome struct {
	// SkipResponse suppresses the initial OnResponse delivery, simulating a
	// connection that dies before the service acknowledges it.
	SkipResponse bool

	// Events are delivered to the consumer in order after the response.
	Events []transcribe.TranscriptEvent

	// DrainAudio makes the attempt subscribe to the publisher and pull
	// audio until the source completes or fails. A source failure becomes
	// the attempt's terminal error; otherwise Err is reported.
	DrainAudio bool

	// ChunkDelay pauses between audio pulls when DrainAudio is set, keeping
	// the attempt in flight long enough for tests to act mid-stream.
	ChunkDelay time.Duration

	// Err is the attempt's terminal result. Nil means a graceful
	// end-of-stream.
	Err error
}

// Channel is a mock implementation of transcribe.Channel. Attempt i follows
// Script[i]; attempts beyond the script repeat the last entry. An empty
// script completes every attempt cleanly.
type Channel struct {
	mu sync.Mutex

	// Script holds the per-attempt outcomes.
	Script []Outcome

	// OpenCalls records every call to Open.
	OpenCalls []OpenCall
}

// Open records the call and plays the scripted outcome on a background
// goroutine.
func (c *Channel) Open(ctx context.Context, req transcribe.StreamRequest, pub *transcribe.AudioStreamPublisher, consumer transcribe.ChannelConsumer) <-chan error {
	c.mu.Lock()
	attempt := len(c.OpenCalls)
	c.OpenCalls = append(c.OpenCalls, OpenCall{Ctx: ctx, Req: req})
	var outcome Outcome
	if len(c.Script) > 0 {
		i := attempt
		if i >= len(c.Script) {
			i = len(c.Script) - 1
		}
		outcome = c.Script[i]
	}
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		if !outcome.SkipResponse {
			consumer.OnResponse(transcribe.StreamResponse{
				RequestID: fmt.Sprintf("req-%d", attempt+1),
				SessionID: req.SessionID,
			})
		}
		for _, ev := range outcome.Events {
			consumer.OnEvent(ev)
		}
		if outcome.DrainAudio {
			if err := drain(pub, outcome.ChunkDelay); err != nil {
				done <- err
				return
			}
		}
		done <- outcome.Err
	}()
	return done
}

// Attempts returns the number of Open calls so far. Thread-safe.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.OpenCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OpenCalls = nil
}

var _ transcribe.Channel = (*Channel)(nil)

// drain subscribes to pub and pulls chunks one at a time until the source
// emits its terminal signal. Returns the source failure, or nil on a clean
// end.
func drain(pub *transcribe.AudioStreamPublisher, delay time.Duration) error {
	d := &drainConsumer{done: make(chan error, 1), delay: delay}
	sub := pub.Subscribe(d)
	d.mu.Lock()
	d.sub = sub
	d.mu.Unlock()
	sub.Request(1)
	return <-d.done
}

type drainConsumer struct {
	mu    sync.Mutex
	sub   *transcribe.Subscription
	done  chan error
	delay time.Duration
}

func (d *drainConsumer) OnNext(transcribe.AudioChunk) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	sub := d.sub
	d.mu.Unlock()
	sub.Request(1)
}

func (d *drainConsumer) OnComplete() { d.done <- nil }

func (d *drainConsumer) OnError(err error) { d.done <- err }

// Handler is a recording implementation of transcribe.StreamHandler.
// Inspect the recorded fields after the session future has resolved.
type Handler struct {
	mu sync.Mutex

	// Responses records every OnResponse delivery.
	Responses []transcribe.StreamResponse

	// Events records every OnStream delivery.
	Events []transcribe.TranscriptEvent

	// Completes counts OnComplete calls.
	Completes int

	// Errors records every OnError delivery.
	Errors []error
}

func (h *Handler) OnResponse(resp transcribe.StreamResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Responses = append(h.Responses, resp)
}

func (h *Handler) OnStream(ev transcribe.TranscriptEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Events = append(h.Events, ev)
}

func (h *Handler) OnComplete() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Completes++
}

func (h *Handler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Errors = append(h.Errors, err)
}

// ResponseCount returns the number of recorded OnResponse calls. Thread-safe.
func (h *Handler) ResponseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Responses)
}

// CompleteCount returns the number of recorded OnComplete calls. Thread-safe.
func (h *Handler) CompleteCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Completes
}

var _ transcribe.StreamHandler = (*Handler)(nil)
