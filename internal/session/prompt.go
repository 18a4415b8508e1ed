/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package session

import (
	"strings"

	"github.com/hortator-ai/retool-gateway/internal/openai"
)

const (
	humanPrefix     = "Human: "
	assistantPrefix = "Assistant: "
)

// PromptFormatter renders a chat conversation as a single upstream message.
type PromptFormatter struct {
	// ContinuationMarker appends a bare "Human: " turn after an
	// assistant-final conversation to cue the agent. Off by default: the
	// conversation then ends on the assistant turn as sent.
	ContinuationMarker bool
}

// Format renders the conversation as alternating Human/Assistant turns
// separated by blank lines, in message order. The upstream agent has no
// system role, so system messages become human turns.
func (f PromptFormatter) Format(messages []openai.Message) string {
	turns := make([]string, 0, len(messages)+1)
	for _, m := range messages {
		prefix := humanPrefix
		if m.Role == "assistant" {
			prefix = assistantPrefix
		}
		turns = append(turns, prefix+m.Content.String())
	}
	if n := len(messages); f.ContinuationMarker && n > 0 && messages[n-1].Role == "assistant" {
		turns = append(turns, humanPrefix)
	}
	return strings.Join(turns, "\n\n")
}

// FormatPrompt formats with the default formatter.
func FormatPrompt(messages []openai.Message) string {
	return PromptFormatter{}.Format(messages)
}
