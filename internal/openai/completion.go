/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package openai

import (
	"time"

	"github.com/google/uuid"
)

const (
	ObjectCompletion = "chat.completion"
	ObjectChunk      = "chat.completion.chunk"

	FinishStop = "stop"
)

// NewID returns a fresh completion id.
func NewID() string {
	return "chatcmpl-" + uuid.NewString()
}

// NewCompletion wraps text into a single-choice, non-streaming response.
func NewCompletion(model, text string) ChatCompletionResponse {
	finish := FinishStop
	return ChatCompletionResponse{
		ID:      NewID(),
		Object:  ObjectCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      &Message{Role: "assistant", Content: Text(text)},
			FinishReason: &finish,
		}},
	}
}
