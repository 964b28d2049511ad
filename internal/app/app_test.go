package app_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/streamscribe/internal/app"
	"github.com/MrWong99/streamscribe/internal/config"
	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/pkg/transcribe"
	"github.com/MrWong99/streamscribe/pkg/transcribe/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// testConfig returns a minimal config for an app under test. The endpoint is
// never dialed because tests inject a mock channel.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			LogLevel: config.LogInfo,
		},
		Service: config.ServiceConfig{
			Endpoint: "wss://transcribe.invalid/stream",
		},
		Stream: config.StreamConfig{
			LanguageCode:  "en-US",
			MediaEncoding: config.EncodingPCM,
		},
	}
}

// newTestApp builds an App around the given mock channel with isolated metrics.
func newTestApp(t *testing.T, cfg *config.Config, ch *mock.Channel) *app.App {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	a, err := app.New(cfg, app.WithChannel(ch), app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// newMeteredApp is newTestApp plus a ManualReader for asserting recorded
// metric values.
func newMeteredApp(t *testing.T, cfg *config.Config, ch *mock.Channel) (*app.App, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	a, err := app.New(cfg, app.WithChannel(ch), app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, reader
}

// counterValue sums all data points of the named int64 counter.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

// writeWAV writes a canonical 16 kHz mono PCM WAV file into a temp dir.
func writeWAV(t *testing.T, pcm []byte) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	for _, v := range []uint16{1, 1} {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(16000))
	binary.Write(&buf, binary.LittleEndian, uint32(32000))
	for _, v := range []uint16{2, 16} {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func finalEvent(text string) transcribe.TranscriptEvent {
	return transcribe.TranscriptEvent{
		Results: []transcribe.Result{
			{
				IsPartial:    false,
				Alternatives: []transcribe.Alternative{{Text: text}},
			},
		},
	}
}

func TestStreamFile_DetectsSampleRateFromWAV(t *testing.T) {
	ch := &mock.Channel{Script: []mock.Outcome{{DrainAudio: true}}}
	a := newTestApp(t, testConfig(), ch)
	path := writeWAV(t, bytes.Repeat([]byte{7}, 4096))

	handler := &mock.Handler{}
	future, err := a.StreamFile(context.Background(), path, handler)
	if err != nil {
		t.Fatalf("StreamFile: %v", err)
	}
	if err := future.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if got := future.State(); got != transcribe.StateCompleted {
		t.Errorf("state = %s, want %s", got, transcribe.StateCompleted)
	}
	if len(ch.OpenCalls) != 1 {
		t.Fatalf("open calls = %d, want 1", len(ch.OpenCalls))
	}
	req := ch.OpenCalls[0].Req
	if req.SampleRateHz != 16000 {
		t.Errorf("detected sample rate = %d, want 16000", req.SampleRateHz)
	}
	if req.LanguageCode != "en-US" {
		t.Errorf("language code = %q, want en-US", req.LanguageCode)
	}
	if req.SessionID == "" {
		t.Error("session ID was not assigned")
	}
	if got := handler.CompleteCount(); got != 1 {
		t.Errorf("completes = %d, want 1", got)
	}
}

func TestStreamFile_ConfiguredRateSkipsDetection(t *testing.T) {
	cfg := testConfig()
	cfg.Stream.SampleRateHz = 8000
	ch := &mock.Channel{Script: []mock.Outcome{{DrainAudio: true}}}
	a := newTestApp(t, cfg, ch)

	// Not a WAV file; detection must not run when the rate is configured.
	path := filepath.Join(t.TempDir(), "audio.raw")
	if err := os.WriteFile(path, bytes.Repeat([]byte{1}, 2048), 0o644); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	future, err := a.StreamFile(context.Background(), path, &mock.Handler{})
	if err != nil {
		t.Fatalf("StreamFile: %v", err)
	}
	if err := future.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := ch.OpenCalls[0].Req.SampleRateHz; got != 8000 {
		t.Errorf("sample rate = %d, want 8000", got)
	}
}

func TestStreamFile_SecondSessionRejectedWhileActive(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.RetryDelay = config.Duration(time.Minute)
	ch := &mock.Channel{Script: []mock.Outcome{
		{Err: transcribe.NewFailure(transcribe.KindTransientChannel, errors.New("reset"))},
	}}
	a := newTestApp(t, cfg, ch)
	path := writeWAV(t, bytes.Repeat([]byte{7}, 512))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	future, err := a.StreamFile(ctx, path, &mock.Handler{})
	if err != nil {
		t.Fatalf("StreamFile: %v", err)
	}

	// The session is now stuck in its retry backoff, so a second file is
	// refused.
	if _, err := a.StreamFile(ctx, path, &mock.Handler{}); !errors.Is(err, app.ErrStreamOpen) {
		t.Errorf("second StreamFile error = %v, want ErrStreamOpen", err)
	}

	cancel()
	<-future.Done()
}

func TestStreamFile_ActiveFlagResetsAfterSession(t *testing.T) {
	ch := &mock.Channel{Script: []mock.Outcome{{DrainAudio: true}}}
	a := newTestApp(t, testConfig(), ch)
	path := writeWAV(t, bytes.Repeat([]byte{7}, 512))

	future, err := a.StreamFile(context.Background(), path, &mock.Handler{})
	if err != nil {
		t.Fatalf("StreamFile: %v", err)
	}
	if err := future.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// The flag resets shortly after the future resolves.
	deadline := time.Now().Add(2 * time.Second)
	for {
		second, err := a.StreamFile(context.Background(), path, &mock.Handler{})
		if err == nil {
			<-second.Done()
			return
		}
		if !errors.Is(err, app.ErrStreamOpen) {
			t.Fatalf("unexpected error: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("active flag never reset after session end")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStop_CompletesSessionMidStream(t *testing.T) {
	// A paced drain keeps the session in flight long enough to stop it.
	ch := &mock.Channel{Script: []mock.Outcome{{DrainAudio: true, ChunkDelay: 5 * time.Millisecond}}}
	a, reader := newMeteredApp(t, testConfig(), ch)
	path := writeWAV(t, bytes.Repeat([]byte{7}, 256*1024))

	handler := &mock.Handler{}
	future, err := a.StreamFile(context.Background(), path, handler)
	if err != nil {
		t.Fatalf("StreamFile: %v", err)
	}

	// Wait until audio is flowing before stopping.
	deadline := time.Now().Add(2 * time.Second)
	for counterValue(t, reader, "streamscribe.audio.chunks") < 2 {
		if time.Now().After(deadline) {
			t.Fatal("no audio flowed before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := future.Wait(ctx); err != nil {
		t.Fatalf("Wait after Stop: %v", err)
	}
	if got := future.State(); got != transcribe.StateCompleted {
		t.Errorf("state = %s, want %s", got, transcribe.StateCompleted)
	}
	if got := handler.CompleteCount(); got != 1 {
		t.Errorf("completes = %d, want 1", got)
	}
	if n := len(handler.Errors); n != 0 {
		t.Errorf("errors = %d, want 0: %v", n, handler.Errors)
	}
	// Stop must truncate the stream, not drain the whole file.
	if chunks := counterValue(t, reader, "streamscribe.audio.chunks"); chunks >= 256 {
		t.Errorf("published %d chunks, expected the stream to end early", chunks)
	}
}

func TestStop_NoSessionIsNoOp(t *testing.T) {
	ch := &mock.Channel{}
	a := newTestApp(t, testConfig(), ch)
	if err := a.Stop(); err != nil {
		t.Errorf("Stop with no session: %v", err)
	}
}

func TestStreamFile_RecordsAudioVolume(t *testing.T) {
	ch := &mock.Channel{Script: []mock.Outcome{{DrainAudio: true}}}
	a, reader := newMeteredApp(t, testConfig(), ch)
	path := writeWAV(t, bytes.Repeat([]byte{7}, 4096))

	future, err := a.StreamFile(context.Background(), path, &mock.Handler{})
	if err != nil {
		t.Fatalf("StreamFile: %v", err)
	}
	if err := future.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// The WAV header is stripped, so exactly the PCM payload is counted.
	if got := counterValue(t, reader, "streamscribe.audio.bytes"); got != 4096 {
		t.Errorf("audio bytes = %d, want 4096", got)
	}
	if got := counterValue(t, reader, "streamscribe.audio.chunks"); got != 4 {
		t.Errorf("audio chunks = %d, want 4", got)
	}
}

func TestStreamFile_InvalidWAVReleasesGuard(t *testing.T) {
	ch := &mock.Channel{Script: []mock.Outcome{{DrainAudio: true}}}
	a := newTestApp(t, testConfig(), ch)

	bad := filepath.Join(t.TempDir(), "not-audio.wav")
	if err := os.WriteFile(bad, []byte("definitely not riff data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := a.StreamFile(context.Background(), bad, &mock.Handler{}); err == nil {
		t.Fatal("expected error for invalid WAV, got nil")
	}

	// The failed start must not leave the guard held.
	good := writeWAV(t, bytes.Repeat([]byte{7}, 512))
	future, err := a.StreamFile(context.Background(), good, &mock.Handler{})
	if err != nil {
		t.Fatalf("StreamFile after failed start: %v", err)
	}
	<-future.Done()
}

func TestTranscribeFile_CollectsFinalResults(t *testing.T) {
	ch := &mock.Channel{Script: []mock.Outcome{{
		Events: []transcribe.TranscriptEvent{
			finalEvent("hello"),
			{Results: []transcribe.Result{{
				IsPartial:    true,
				Alternatives: []transcribe.Alternative{{Text: "wor"}},
			}}},
			finalEvent("world"),
		},
		DrainAudio: true,
	}}}
	a := newTestApp(t, testConfig(), ch)
	path := writeWAV(t, bytes.Repeat([]byte{7}, 512))

	got, err := a.TranscribeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if got != "hello world" {
		t.Errorf("transcript = %q, want %q", got, "hello world")
	}
}

func TestTranscribeFile_PropagatesFailure(t *testing.T) {
	ch := &mock.Channel{Script: []mock.Outcome{{
		Err: transcribe.NewFailure(transcribe.KindMalformedRequest, errors.New("bad media encoding")),
	}}}
	a := newTestApp(t, testConfig(), ch)
	path := writeWAV(t, bytes.Repeat([]byte{7}, 512))

	_, err := a.TranscribeFile(context.Background(), path)
	if err == nil {
		t.Fatal("expected failure, got nil")
	}
	if transcribe.KindOf(err) != transcribe.KindMalformedRequest {
		t.Errorf("failure kind = %s, want malformed-request", transcribe.KindOf(err))
	}
}

func TestNew_InvalidEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Service.Endpoint = ""
	if _, err := app.New(cfg); err == nil {
		t.Fatal("expected error for missing endpoint, got nil")
	}
}

func TestPrintHandler_FormatsResults(t *testing.T) {
	var buf bytes.Buffer
	h := app.NewPrintHandler(&buf)

	h.OnResponse(transcribe.StreamResponse{RequestID: "req-1", SessionID: "sess-1"})
	h.OnStream(transcribe.TranscriptEvent{Results: []transcribe.Result{
		{IsPartial: true, Alternatives: []transcribe.Alternative{{Text: "hel"}}},
		{IsPartial: false, Alternatives: []transcribe.Alternative{{Text: "hello"}}},
	}})
	h.OnComplete()

	out := buf.String()
	for _, want := range []string{"sess-1", "... hel", "hello\n", "complete"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
