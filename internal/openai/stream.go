/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	DefaultChunkSize  = 5
	DefaultChunkDelay = 10 * time.Millisecond
)

// DoneFrame terminates every event stream.
var DoneFrame = []byte("data: [DONE]\n\n")

// StreamOptions controls how text is replayed as typing.
type StreamOptions struct {
	ChunkSize int
	Delay     time.Duration
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

// Stream replays finished text as a chat.completion.chunk event sequence.
// Every frame shares the stream's ID and Created timestamp.
type Stream struct {
	ID      string
	Created int64
	Model   string

	text string
	opts StreamOptions
}

// NewStream fixes the stream id and creation time.
func NewStream(model, text string, opts StreamOptions) *Stream {
	return &Stream{
		ID:      NewID(),
		Created: time.Now().Unix(),
		Model:   model,
		text:    text,
		opts:    opts.withDefaults(),
	}
}

// Slices splits the text into ChunkSize-rune pieces.
func (s *Stream) Slices() []string {
	runes := []rune(s.text)
	var out []string
	for i := 0; i < len(runes); i += s.opts.ChunkSize {
		end := i + s.opts.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// Frames starts producing SSE frames: a role announcement, one content delta
// per slice, a stop frame and [DONE]. The channel is closed when production
// ends. Cancelling ctx stops production; the producer never blocks on a
// reader that went away.
func (s *Stream) Frames(ctx context.Context) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)

		emit := func(frame []byte) bool {
			select {
			case out <- frame:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(s.frame(Delta{Role: "assistant"}, nil)) {
			return
		}

		var timer *time.Timer
		for i, piece := range s.Slices() {
			if i > 0 && s.opts.Delay > 0 {
				if timer == nil {
					timer = time.NewTimer(s.opts.Delay)
					defer timer.Stop()
				} else {
					timer.Reset(s.opts.Delay)
				}
				select {
				case <-timer.C:
				case <-ctx.Done():
					return
				}
			}
			if !emit(s.frame(Delta{Content: piece}, nil)) {
				return
			}
		}

		finish := FinishStop
		if !emit(s.frame(Delta{}, &finish)) {
			return
		}
		emit(DoneFrame)
	}()
	return out
}

func (s *Stream) frame(delta Delta, finish *string) []byte {
	return Frame(StreamChunk{
		ID:      s.ID,
		Object:  ObjectChunk,
		Created: s.Created,
		Model:   s.Model,
		Choices: []StreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	})
}

// Frame encodes v as one SSE data event.
func Frame(v any) []byte {
	data, _ := json.Marshal(v)
	return []byte(fmt.Sprintf("data: %s\n\n", data))
}

// ErrorFrame is the generic failure event sent in place of content.
func ErrorFrame(msg, errType string) []byte {
	return Frame(ErrorResponse{Error: ErrorDetail{Message: msg, Type: errType}})
}

// StartSSE writes the event-stream headers and flushes them.
func StartSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// Drain writes frames to w as they arrive, flushing each one. It returns the
// first write error; the caller should then cancel the producer's context.
func Drain(w http.ResponseWriter, flusher http.Flusher, frames <-chan []byte) error {
	for frame := range frames {
		if _, err := w.Write(frame); err != nil {
			return err
		}
		flusher.Flush()
	}
	return nil
}
