package dagflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LLMEvent is a structured event co-produced alongside the incremental text
// of an LLM-streaming task. TaskName identifies the task that
// produced it; for workflow-level lifecycle events ("run_start",
// "task_start", "task_complete", "task_error", "dynamic_step",
// "run_complete", "run_error") TaskName/Kind carry that meaning directly
// rather than wrapping a task-internal event.
type LLMEvent struct {
	Kind        string
	TaskName    string
	Text        string
	Data        map[string]any
	TimestampMs int64
}

const llmStreamBuffer = 128

// LLMStream is returned by a LLMStreamingEngine's ExecuteStream. It exposes
// the run's LLM-streaming tasks' text and structured output as two
// independent live sequences, plus the usual Result future, and two
// presentation constructors (ToHTTPResponse, ToByteStream) for serving the
// stream directly to an HTTP client.
type LLMStream struct {
	text   chan string
	events chan LLMEvent
	done   chan struct{}
	result WorkflowResult
	err    error
}

// TextStream returns the channel of incremental text tokens, merged across
// every LLM-streaming task in the run, in the order they were produced.
func (s *LLMStream) TextStream() <-chan string { return s.text }

// FullStream returns the channel of structured LLMEvent values: per-token
// text events plus task/run lifecycle events.
func (s *LLMStream) FullStream() <-chan LLMEvent { return s.events }

// Result blocks until the run completes and returns its final
// WorkflowResult.
func (s *LLMStream) Result() (WorkflowResult, error) {
	<-s.done
	return s.result, s.err
}

// ToHTTPResponse returns an http.HandlerFunc that serves FullStream as a
// Server-Sent Events response: standard SSE headers, one `data: <json>\n\n`
// frame per LLMEvent, terminating when the stream closes or the request
// context is canceled.
func (s *LLMStream) ToHTTPResponse() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, _ := w.(http.Flusher)
		for {
			select {
			case ev, ok := <-s.events:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", payload)
				if flusher != nil {
					flusher.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	}
}

// textChanReader adapts a channel of text fragments into an io.Reader.
type textChanReader struct {
	ch  <-chan string
	buf []byte
}

func (r *textChanReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		s, ok := <-r.ch
		if !ok {
			return 0, io.EOF
		}
		r.buf = append(r.buf, s...)
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// ToByteStream returns an io.Reader over TextStream's raw bytes. Reads are
// passed through a UTF-8 decode transform (golang.org/x/text) so that the
// byte stream as a whole is valid UTF-8: any invalid byte sequence is
// replaced rather than corrupting the stream, and a multi-byte sequence
// split across two text fragments is held by the transform until it is
// complete. A caller-supplied buffer smaller than the pending output can
// still receive only part of a multi-byte rune in one Read.
func (s *LLMStream) ToByteStream() io.Reader {
	raw := &textChanReader{ch: s.text}
	return transform.NewReader(raw, unicode.UTF8.NewDecoder())
}

// llmObservedEngine is implemented by staticEngine and strategyEngine.
type llmObservedEngine interface {
	executeObservedLLM(ctx context.Context, input map[string]any, text func(string), event func(LLMEvent)) (WorkflowResult, error)
}

// LLMStreamingEngine adapts an Engine into the LLM-mode streaming contract.
// Built by Builder.BuildLLMStreaming.
type LLMStreamingEngine struct {
	inner llmObservedEngine
}

// ExecuteStream starts a run in the background and returns an LLMStream
// immediately; text and structured events from LLM-streaming tasks are
// pushed live as the run progresses.
func (e *LLMStreamingEngine) ExecuteStream(ctx context.Context, input map[string]any) *LLMStream {
	s := &LLMStream{
		text:   make(chan string, llmStreamBuffer),
		events: make(chan LLMEvent, llmStreamBuffer),
		done:   make(chan struct{}),
	}

	sendText := func(t string) {
		select {
		case s.text <- t:
		case <-ctx.Done():
		}
	}
	sendEvent := func(ev LLMEvent) {
		select {
		case s.events <- ev:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(s.text)
		defer close(s.events)
		defer close(s.done)

		result, err := e.inner.executeObservedLLM(ctx, input, sendText, func(ev LLMEvent) {
			sendEvent(ev)
			if ev.Text != "" {
				sendText(ev.Text)
			}
		})

		s.result = result
		s.err = err
		kind := "run_complete"
		if err != nil {
			kind = "run_error"
		}
		sendEvent(LLMEvent{Kind: kind, TimestampMs: nowMillis()})
	}()

	return s
}
