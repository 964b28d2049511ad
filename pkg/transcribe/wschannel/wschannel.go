// Package wschannel implements transcribe.Channel over a WebSocket
// transport. Audio chunks travel to the service as binary frames; the
// service answers with JSON text frames carrying recognition results, an
// error event, or a normal close on graceful end-of-stream.
package wschannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamscribe/pkg/transcribe"
)

// chunkWindow is the number of audio chunks the channel keeps in flight
// towards the socket. It is also the demand window granted to the audio
// publisher, so the source is never read faster than the wire drains.
const chunkWindow = 16

// Option is a functional option for configuring the Channel.
type Option func(*Channel)

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Channel) {
		c.httpClient = client
	}
}

// Channel dials a streaming-transcription WebSocket endpoint. It implements
// transcribe.Channel and is safe for concurrent use; each Open call is an
// independent connection.
type Channel struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New creates a Channel for the given WebSocket endpoint (ws:// or wss://).
// apiKey may be empty for unauthenticated endpoints.
func New(endpoint, apiKey string, opts ...Option) (*Channel, error) {
	if endpoint == "" {
		return nil, errors.New("wschannel: endpoint must not be empty")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("wschannel: invalid endpoint: %w", err)
	}
	c := &Channel{endpoint: endpoint, apiKey: apiKey}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Open starts one connection attempt. See transcribe.Channel for the
// contract.
func (c *Channel) Open(ctx context.Context, req transcribe.StreamRequest, pub *transcribe.AudioStreamPublisher, consumer transcribe.ChannelConsumer) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.attempt(ctx, req, pub, consumer)
	}()
	return done
}

// attempt runs a single connection from dial to terminal outcome.
func (c *Channel) attempt(ctx context.Context, req transcribe.StreamRequest, pub *transcribe.AudioStreamPublisher, consumer transcribe.ChannelConsumer) error {
	wsURL, err := c.buildURL(req)
	if err != nil {
		return transcribe.NewFailure(transcribe.KindMalformedRequest, err)
	}

	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("Authorization", "Token "+c.apiKey)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: headers,
	})
	if err != nil {
		return classifyDialError(resp, err)
	}
	defer conn.CloseNow()

	var requestID string
	if resp != nil {
		requestID = resp.Header.Get("X-Request-Id")
	}
	consumer.OnResponse(transcribe.StreamResponse{
		RequestID: requestID,
		SessionID: req.SessionID,
	})

	w := &wire{
		audio:  make(chan []byte, chunkWindow),
		srcErr: make(chan error, 1),
	}
	sub := pub.Subscribe(w)
	defer sub.Cancel()
	sub.Request(chunkWindow)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx, conn, sub, w) })
	g.Go(func() error { return c.readLoop(gctx, conn, consumer) })
	if err := g.Wait(); err != nil {
		return err
	}

	conn.Close(websocket.StatusNormalClosure, "")
	return nil
}

// buildURL attaches the request parameters as query parameters.
func (c *Channel) buildURL(req transcribe.StreamRequest) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("language_code", req.LanguageCode)
	q.Set("media_encoding", req.MediaEncoding)
	q.Set("sample_rate", strconv.Itoa(req.SampleRateHz))
	q.Set("session_id", req.SessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// writeLoop pushes audio frames onto the socket, granting the publisher one
// unit of demand per frame written so demand tracks wire throughput. A clean
// end of audio is signalled to the service with a CloseStream message.
func (c *Channel) writeLoop(ctx context.Context, conn *websocket.Conn, sub *transcribe.Subscription, w *wire) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-w.audio:
			if !ok {
				select {
				case err := <-w.srcErr:
					return err
				default:
				}
				// Graceful end of audio: ask the service to flush and
				// close. The read loop observes the resulting normal
				// closure.
				if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
					return transcribe.NewFailure(transcribe.KindTransientChannel, err)
				}
				return nil
			}
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return transcribe.NewFailure(transcribe.KindTransientChannel, err)
			}
			sub.Request(1)
		}
	}
}

// readLoop decodes service messages until the connection ends. A normal
// closure is the graceful end of the stream; anything else is a channel
// failure.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, consumer transcribe.ChannelConsumer) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return transcribe.NewFailure(transcribe.KindTransientChannel, err)
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "Results":
			if ev, ok := msg.event(); ok {
				consumer.OnEvent(ev)
			}
		case "Error":
			return transcribe.NewFailure(kindFromWire(msg.Kind), errors.New(msg.Message))
		}
	}
}

// wire adapts the publisher's chunk stream onto the write loop. Emissions
// run on the publisher's worker goroutine; the audio channel capacity equals
// the demand window, so sends never block.
type wire struct {
	audio  chan []byte
	srcErr chan error

	closeOnce sync.Once
}

func (w *wire) OnNext(chunk transcribe.AudioChunk) {
	w.audio <- chunk.Bytes
}

func (w *wire) OnComplete() {
	w.closeOnce.Do(func() { close(w.audio) })
}

func (w *wire) OnError(err error) {
	select {
	case w.srcErr <- err:
	default:
	}
	w.closeOnce.Do(func() { close(w.audio) })
}

// wireMessage is the JSON shape of service text frames.
type wireMessage struct {
	Type string `json:"type"`

	// Results fields.
	ResultID     string  `json:"result_id"`
	IsPartial    bool    `json:"is_partial"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Alternatives []struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
	} `json:"alternatives"`

	// Error fields.
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// event converts a Results message into a TranscriptEvent. Returns false for
// messages without alternatives.
func (m *wireMessage) event() (transcribe.TranscriptEvent, bool) {
	if len(m.Alternatives) == 0 {
		return transcribe.TranscriptEvent{}, false
	}
	alts := make([]transcribe.Alternative, 0, len(m.Alternatives))
	for _, a := range m.Alternatives {
		alts = append(alts, transcribe.Alternative{
			Text:       a.Transcript,
			Confidence: a.Confidence,
		})
	}
	return transcribe.TranscriptEvent{Results: []transcribe.Result{{
		ID:           m.ResultID,
		IsPartial:    m.IsPartial,
		StartTime:    time.Duration(m.Start * float64(time.Second)),
		EndTime:      time.Duration(m.End * float64(time.Second)),
		Alternatives: alts,
	}}}, true
}

// kindFromWire maps service error kinds onto the client taxonomy. Kinds the
// client does not recognise stay unknown, which the retry layer treats as
// retriable.
func kindFromWire(kind string) transcribe.FailureKind {
	switch kind {
	case "malformed-request":
		return transcribe.KindMalformedRequest
	case "throttled", "timeout", "internal":
		return transcribe.KindTransientChannel
	default:
		return transcribe.KindUnknown
	}
}

// classifyDialError distinguishes rejected requests from transient network
// trouble using the handshake HTTP status.
func classifyDialError(resp *http.Response, err error) error {
	if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return transcribe.NewFailure(transcribe.KindMalformedRequest,
			fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err))
	}
	return transcribe.NewFailure(transcribe.KindTransientChannel, err)
}

var _ transcribe.Channel = (*Channel)(nil)
