package transcribe

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"sync/atomic"
)

// ChunkConsumer receives the output of one [Subscription]: audio chunks in
// source order, then exactly one terminal signal (OnComplete or OnError).
type ChunkConsumer interface {
	// OnNext delivers one audio chunk. Never called without outstanding
	// demand.
	OnNext(chunk AudioChunk)

	// OnComplete signals end of the audio source. Called at most once; no
	// chunks follow it.
	OnComplete()

	// OnError signals a failed source read or an invalid demand request.
	// A source read failure terminates the subscription; an invalid demand
	// request does not.
	OnError(err error)
}

// AudioStreamPublisher turns a sequential byte source into a demand-driven
// sequence of [AudioChunk] values. The source is read destructively and never
// rewound: a publisher shared across several sequential subscriptions (as the
// [RetryClient] does across reconnect attempts) resumes each new subscription
// from wherever the previous one stopped reading.
//
// Closing the underlying source is the caller's stop primitive: the next read
// observes it as end-of-stream and the active subscription completes cleanly.
type AudioStreamPublisher struct {
	r io.Reader
}

// NewAudioStreamPublisher creates a publisher over r. The publisher does not
// close r; whoever opened the source owns its lifetime.
func NewAudioStreamPublisher(r io.Reader) *AudioStreamPublisher {
	return &AudioStreamPublisher{r: r}
}

// Subscribe registers consumer and returns its demand handle. Reads happen on
// a dedicated goroutine per subscription, never on the caller's stack.
//
// Subscriptions must be sequential: at most one may be active at a time, and
// a new one must not be created until the previous has terminated or been
// cancelled. Concurrent subscriptions would interleave destructive reads of
// the shared source.
func (p *AudioStreamPublisher) Subscribe(consumer ChunkConsumer) *Subscription {
	s := &Subscription{
		consumer:  consumer,
		r:         p.r,
		wake:      make(chan struct{}, 1),
		cancelled: make(chan struct{}),
	}
	go s.run()
	return s
}

// Subscription is the demand handle for one consumer of an
// [AudioStreamPublisher]. All methods are safe for concurrent use.
type Subscription struct {
	consumer ChunkConsumer
	r        io.Reader

	demand     atomic.Int64
	wake       chan struct{}
	cancelled  chan struct{}
	cancelOnce sync.Once
}

// Request grants the publisher permission to emit up to n more chunks.
// n must be positive; a non-positive n reports an [KindInvalidDemand]
// failure to the consumer and leaves the demand counter untouched.
func (s *Subscription) Request(n int64) {
	if n <= 0 {
		s.consumer.OnError(NewFailure(KindInvalidDemand,
			fmt.Errorf("demand must be positive, got %d", n)))
		return
	}
	s.demand.Add(n)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel stops future emission. It never blocks; at most one in-flight read
// may still finish, but nothing is emitted after cancellation and no new
// read begins. Safe to call multiple times.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelled) })
}

// run is the single worker that serializes all reads for this subscription.
// It exits on cancellation or after the one terminal signal.
func (s *Subscription) run() {
	for {
		select {
		case <-s.cancelled:
			return
		case <-s.wake:
		}

		for s.demand.Load() > 0 {
			select {
			case <-s.cancelled:
				return
			default:
			}

			buf := make([]byte, ChunkSize)
			n, err := s.r.Read(buf)
			if n > 0 {
				select {
				case <-s.cancelled:
					return
				default:
				}
				s.consumer.OnNext(AudioChunk{Bytes: buf[:n]})
				s.demand.Add(-1)
			}
			if err != nil {
				// A source closed out from under us is the stop signal,
				// not a fault.
				if errors.Is(err, io.EOF) || errors.Is(err, fs.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
					s.consumer.OnComplete()
				} else {
					s.consumer.OnError(NewFailure(KindSourceIO, err))
				}
				return
			}
		}
	}
}
