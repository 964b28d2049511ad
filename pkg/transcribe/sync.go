package transcribe

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultSyncTimeout caps how long [SynchronousClient.Transcribe] waits for
// a session to finish.
const DefaultSyncTimeout = 15 * time.Minute

// SynchronousClient is a blocking convenience wrapper around a
// [RetryClient]: it streams a whole audio source and returns the assembled
// transcript in one call. Useful for batch jobs and tests; interactive
// callers should use [RetryClient.StartStreamTranscription] directly.
type SynchronousClient struct {
	client  *RetryClient
	timeout time.Duration
}

// NewSynchronousClient wraps client. A timeout of zero means
// [DefaultSyncTimeout].
func NewSynchronousClient(client *RetryClient, timeout time.Duration) *SynchronousClient {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	return &SynchronousClient{client: client, timeout: timeout}
}

// Transcribe streams source to the service and blocks until the session
// ends, returning the concatenated text of all final results. Partial
// results are discarded.
func (c *SynchronousClient) Transcribe(ctx context.Context, req StreamRequest, source io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	collector := &transcriptCollector{}
	fut, err := c.client.StartStreamTranscription(ctx, req, source, collector)
	if err != nil {
		return "", err
	}
	if err := fut.Wait(ctx); err != nil {
		return "", err
	}
	return collector.Transcript(), nil
}

// transcriptCollector is a StreamHandler that accumulates final results.
type transcriptCollector struct {
	mu sync.Mutex
	b  strings.Builder
}

func (t *transcriptCollector) OnResponse(StreamResponse) {}

func (t *transcriptCollector) OnStream(ev TranscriptEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, res := range ev.Results {
		if res.IsPartial || len(res.Alternatives) == 0 {
			continue
		}
		if text := res.Alternatives[0].Text; text != "" {
			t.b.WriteString(text)
		}
	}
}

func (t *transcriptCollector) OnComplete() {}

func (t *transcriptCollector) OnError(error) {}

// Transcript returns the text collected so far.
func (t *transcriptCollector) Transcript() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.b.String()
}
