package app

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/streamscribe/pkg/transcribe"
)

// collectingHandler accumulates final transcript segments across the whole
// session, surviving reconnects.
type collectingHandler struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (h *collectingHandler) OnResponse(transcribe.StreamResponse) {}

func (h *collectingHandler) OnStream(ev transcribe.TranscriptEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range ev.Results {
		if r.IsPartial || len(r.Alternatives) == 0 {
			continue
		}
		if h.buf.Len() > 0 {
			h.buf.WriteByte(' ')
		}
		h.buf.WriteString(strings.TrimSpace(r.Alternatives[0].Text))
	}
}

func (h *collectingHandler) OnComplete() {}

func (h *collectingHandler) OnError(error) {}

func (h *collectingHandler) transcript() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.String()
}

// PrintHandler writes transcript results to an [io.Writer] as they arrive.
// Partial results are prefixed so they can be told apart from final ones.
type PrintHandler struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrintHandler creates a PrintHandler writing to w.
func NewPrintHandler(w io.Writer) *PrintHandler {
	return &PrintHandler{w: w}
}

func (h *PrintHandler) OnResponse(resp transcribe.StreamResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.w, "-- session %s (request %s) --\n", resp.SessionID, resp.RequestID)
}

func (h *PrintHandler) OnStream(ev transcribe.TranscriptEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range ev.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		text := r.Alternatives[0].Text
		if r.IsPartial {
			fmt.Fprintf(h.w, "  ... %s\n", text)
		} else {
			fmt.Fprintf(h.w, "%s\n", text)
		}
	}
}

func (h *PrintHandler) OnComplete() {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintln(h.w, "-- transcription complete --")
}

func (h *PrintHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.w, "-- transcription failed: %v --\n", err)
}

var (
	_ transcribe.StreamHandler = (*collectingHandler)(nil)
	_ transcribe.StreamHandler = (*PrintHandler)(nil)
)
