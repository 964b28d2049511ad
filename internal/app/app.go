// Package app wires the streamscribe subsystems into a running application.
//
// The App struct owns the client lifecycle: New builds the websocket channel
// and retry client from config, StreamFile starts a transcription session for
// an audio file, and TranscribeFile is the blocking convenience variant.
//
// For testing, inject a mock channel via [WithChannel]. When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/streamscribe/internal/config"
	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/internal/wavio"
	"github.com/MrWong99/streamscribe/pkg/transcribe"
	"github.com/MrWong99/streamscribe/pkg/transcribe/wschannel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrStreamOpen is returned by [App.StreamFile] while a previous session is
// still running. The client streams one file at a time.
var ErrStreamOpen = errors.New("app: stream already open")

// App owns the transcription client and its observability wiring.
type App struct {
	cfg     *config.Config
	channel transcribe.Channel
	client  *transcribe.RetryClient
	metrics *observe.Metrics

	mu     sync.Mutex
	active bool
	file   *os.File
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithChannel injects a transport channel instead of dialing the configured
// websocket endpoint.
func WithChannel(ch transcribe.Channel) Option {
	return func(a *App) { a.channel = ch }
}

// WithMetrics injects a metrics instance instead of using the process-wide
// default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App from cfg. Unless overridden by options, the transport is
// a [wschannel.Channel] against the configured service endpoint.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.channel == nil {
		ch, err := wschannel.New(cfg.Service.Endpoint, cfg.Service.APIKey)
		if err != nil {
			return nil, fmt.Errorf("app: create channel: %w", err)
		}
		a.channel = ch
	}

	a.client = transcribe.NewRetryClient(a.channel, transcribe.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		RetryDelay:  cfg.Retry.RetryDelay.Std(),
	})
	return a, nil
}

// Client returns the underlying retry client.
func (a *App) Client() *transcribe.RetryClient { return a.client }

// StreamFile starts a transcription session for the audio file at path and
// returns its future. Transcript events are delivered to handler as they
// arrive. Only one session may run at a time; a second call while the first
// is live returns [ErrStreamOpen].
//
// When the configured media encoding is PCM and no sample rate is set, the
// rate is detected from the file's WAV header and only the PCM payload is
// streamed.
func (a *App) StreamFile(ctx context.Context, path string, handler transcribe.StreamHandler) (*transcribe.SessionFuture, error) {
	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		return nil, ErrStreamOpen
	}
	a.active = true
	a.mu.Unlock()

	future, err := a.startSession(ctx, path, handler)
	if err != nil {
		a.mu.Lock()
		a.active = false
		a.mu.Unlock()
		return nil, err
	}
	return future, nil
}

// startSession opens the file, builds the request, and launches the session
// with observability wiring attached. The caller holds the active flag.
func (a *App) startSession(ctx context.Context, path string, handler transcribe.StreamHandler) (*transcribe.SessionFuture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("app: open audio file: %w", err)
	}

	req, source, err := a.buildRequest(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "transcribe.session",
		trace.WithAttributes(
			observe.Attr("language_code", req.LanguageCode),
			observe.Attr("media_encoding", req.MediaEncoding),
		),
	)

	start := time.Now()
	a.metrics.ActiveSessions.Add(ctx, 1)

	instrumented := &sessionHandler{inner: handler, metrics: a.metrics, ctx: ctx}
	metered := &meteredReader{r: source, metrics: a.metrics, ctx: ctx}
	future, err := a.client.StartStreamTranscription(ctx, req, metered, instrumented)
	if err != nil {
		a.metrics.ActiveSessions.Add(ctx, -1)
		span.End()
		f.Close()
		return nil, err
	}

	a.mu.Lock()
	a.file = f
	a.mu.Unlock()

	go func() {
		<-future.Done()
		f.Close()

		a.metrics.ActiveSessions.Add(ctx, -1)
		a.metrics.SessionDuration.Record(ctx, time.Since(start).Seconds())
		a.metrics.RecordRetries(ctx, int64(future.Attempts()-1))
		if err := future.Err(); err != nil {
			a.metrics.RecordFailure(ctx, transcribe.KindOf(err).String())
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		observe.Logger(ctx).Info("session finished",
			"path", path,
			"state", future.State().String(),
			"attempts", future.Attempts(),
		)

		a.mu.Lock()
		a.active = false
		a.file = nil
		a.mu.Unlock()
	}()

	return future, nil
}

// Stop ends the running session gracefully by closing its audio source. The
// publisher drains what it has already read and signals end of stream, so the
// session completes rather than fails. Stop is a no-op when no session is
// live; it does not wait for the session future to resolve.
func (a *App) Stop() error {
	a.mu.Lock()
	f := a.file
	a.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

// TranscribeFile streams the audio file at path and blocks until the session
// ends, returning the concatenated final transcript.
func (a *App) TranscribeFile(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, transcribe.DefaultSyncTimeout)
	defer cancel()

	collector := &collectingHandler{}
	future, err := a.StreamFile(ctx, path, collector)
	if err != nil {
		return "", err
	}
	if err := future.Wait(ctx); err != nil {
		return "", err
	}
	return collector.transcript(), nil
}

// buildRequest derives the stream request and audio source from the config
// and the opened file.
func (a *App) buildRequest(f *os.File) (transcribe.StreamRequest, io.Reader, error) {
	cfg := a.cfg.Stream

	encoding := cfg.MediaEncoding
	if encoding == "" {
		encoding = config.EncodingPCM
	}

	req := transcribe.StreamRequest{
		LanguageCode:  cfg.LanguageCode,
		MediaEncoding: string(encoding),
		SampleRateHz:  cfg.SampleRateHz,
	}

	var source io.Reader = f
	if encoding == config.EncodingPCM && cfg.SampleRateHz == 0 {
		info, data, err := wavio.ReadHeader(f)
		if err != nil {
			return transcribe.StreamRequest{}, nil, fmt.Errorf("app: detect sample rate: %w", err)
		}
		slog.Debug("detected audio format from WAV header",
			"sample_rate", info.SampleRate,
			"channels", info.Channels,
			"duration", info.Duration(),
		)
		req.SampleRateHz = info.SampleRate
		source = data
	}

	if req.SampleRateHz == 0 {
		return transcribe.StreamRequest{}, nil, errors.New("app: sample rate not configured and not detectable from input")
	}
	return req, source, nil
}

// meteredReader counts the audio handed to the publisher. Every Read maps to
// one published chunk, so the chunk and byte counters track what actually
// goes out on the stream.
type meteredReader struct {
	r       io.Reader
	metrics *observe.Metrics
	ctx     context.Context
}

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		m.metrics.RecordChunk(m.ctx, n)
	}
	return n, err
}

// sessionHandler wraps a user handler to record per-event metrics before
// forwarding.
type sessionHandler struct {
	inner   transcribe.StreamHandler
	metrics *observe.Metrics
	ctx     context.Context
}

func (h *sessionHandler) OnResponse(resp transcribe.StreamResponse) {
	h.metrics.RecordAttempt(h.ctx, "ok")
	h.inner.OnResponse(resp)
}

func (h *sessionHandler) OnStream(ev transcribe.TranscriptEvent) {
	for _, r := range ev.Results {
		h.metrics.RecordTranscriptEvent(h.ctx, r.IsPartial)
	}
	h.inner.OnStream(ev)
}

func (h *sessionHandler) OnComplete() { h.inner.OnComplete() }

func (h *sessionHandler) OnError(err error) { h.inner.OnError(err) }
