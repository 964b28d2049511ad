// Package transcribe implements the client-side streaming layer for a
// remote speech-transcription service: a demand-driven audio publisher that
// feeds byte sources to the wire in fixed-size chunks, and a retrying
// session client that keeps one logical transcription session alive across
// transient connection failures.
//
// The central entry point is [RetryClient.StartStreamTranscription]. It opens
// a [Channel] to the service, streams audio from an [AudioStreamPublisher],
// and relays results to the caller's [StreamHandler]. When the channel fails
// with a retriable error the client reconnects with the same session ID and
// the same half-consumed audio source, so the service can resume the session
// instead of starting over. The caller's terminal callbacks (OnComplete /
// OnError) fire exactly once per logical session no matter how many
// reconnects happened underneath.
//
// Channel implementations live in subpackages; see
// [github.com/MrWong99/streamscribe/pkg/transcribe/wschannel] for the
// WebSocket transport and
// [github.com/MrWong99/streamscribe/pkg/transcribe/mock] for test doubles.
package transcribe

import "context"

// StreamRequest describes one logical transcription session. It is immutable
// once the session starts: every reconnect attempt reuses the exact same
// request, SessionID included, which is what lets the service treat a
// reconnect as a resume rather than a new session.
type StreamRequest struct {
	// LanguageCode is the BCP-47 language tag of the audio (e.g., "en-US").
	LanguageCode string

	// MediaEncoding names the audio encoding on the wire (e.g., "pcm").
	MediaEncoding string

	// SampleRateHz is the audio sample rate in Hertz.
	SampleRateHz int

	// SessionID identifies the logical session. [RetryClient] fills it in
	// with a fresh UUID before the first attempt; callers normally leave it
	// empty.
	SessionID string
}

// StreamHandler is the caller's view of a transcription session. The
// [RetryClient] guarantees:
//
//   - OnResponse fires once per underlying connection attempt, so it may be
//     seen more than once across reconnects.
//   - OnStream fires for every result event of every attempt, unfiltered.
//     De-duplicating partial vs. final results is the caller's concern.
//   - OnComplete and OnError are mutually exclusive and fire at most once
//     per logical session.
//
// Implementations must tolerate repeated OnResponse/OnStream invocations.
type StreamHandler interface {
	// OnResponse is called when a connection to the service has been
	// established and the service acknowledged the stream.
	OnResponse(resp StreamResponse)

	// OnStream is called for each transcription result event.
	OnStream(ev TranscriptEvent)

	// OnComplete is called exactly once when the logical session ends
	// cleanly. Never called after OnError.
	OnComplete()

	// OnError is called exactly once when the logical session ends with a
	// non-retriable failure or after retries are exhausted. Never called
	// after OnComplete.
	OnError(err error)
}

// ChannelConsumer receives the raw stream of a single connection attempt.
// The [RetryClient] supplies an internal adapter that forwards these to the
// caller's [StreamHandler].
type ChannelConsumer interface {
	// OnResponse delivers the service's initial acknowledgement for this
	// connection.
	OnResponse(resp StreamResponse)

	// OnEvent delivers one transcription result event.
	OnEvent(ev TranscriptEvent)
}

// Channel is an opaque bidirectional connection to the transcription
// service. Open starts one connection attempt: it subscribes to pub for
// outbound audio, delivers the initial response and result events to
// consumer, and reports the terminal outcome of the attempt on the returned
// channel — exactly one value, nil for a graceful end-of-stream or an error
// (ideally a [*Failure]) otherwise.
//
// Implementations own the wire protocol entirely; this package never looks
// inside it.
type Channel interface {
	Open(ctx context.Context, req StreamRequest, pub *AudioStreamPublisher, consumer ChannelConsumer) <-chan error
}
