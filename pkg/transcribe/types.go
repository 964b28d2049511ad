package transcribe

import "time"

// ChunkSize is the fixed upper bound, in bytes, on a single audio chunk
// emitted by an [AudioStreamPublisher].
const ChunkSize = 1024

// AudioChunk is one immutable slice of audio read from the source. Bytes is
// at most [ChunkSize] long and is never mutated after creation.
type AudioChunk struct {
	Bytes []byte
}

// StreamResponse is the service's initial acknowledgement of a connection.
// With retries enabled the caller may receive one per reconnect attempt.
type StreamResponse struct {
	// RequestID is the service-assigned identifier of this connection
	// attempt. Changes on every reconnect.
	RequestID string

	// SessionID echoes the logical session identifier from the request.
	// Stable across reconnects.
	SessionID string
}

// TranscriptEvent is one batch of recognition results from the service.
type TranscriptEvent struct {
	Results []Result
}

// Result is a single recognized segment of speech. Partial results for the
// same segment are superseded by later results carrying the same ID.
type Result struct {
	// ID identifies the segment this result belongs to.
	ID string

	// IsPartial reports whether the service may still revise this segment.
	IsPartial bool

	// StartTime and EndTime position the segment within the audio stream.
	// Zero when the service does not report timestamps.
	StartTime time.Duration
	EndTime   time.Duration

	// Alternatives holds candidate transcriptions, best first.
	Alternatives []Alternative
}

// Alternative is one candidate transcription of a segment.
type Alternative struct {
	// Text is the transcribed speech.
	Text string

	// Confidence is the recognition confidence (0.0–1.0). Zero when the
	// service does not report confidence.
	Confidence float64
}
