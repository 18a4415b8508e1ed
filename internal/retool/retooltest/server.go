/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

// Package retooltest provides an in-process fake of the Retool agents API.
package retooltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/hortator-ai/retool-gateway/internal/account"
	"github.com/hortator-ai/retool-gateway/internal/retool"
)

// Agent is an agent the fake serves from GET /api/agents.
type Agent struct {
	ID    string
	Name  string
	Model string
}

// Server is a fake Retool instance. Zero-value fields mean "succeed".
type Server struct {
	*httptest.Server

	mu sync.Mutex
	// Agents is returned by the agent listing.
	Agents []Agent
	// FailStatus makes the given operation answer with that HTTP status.
	FailStatus map[retool.Op]int
	// PendingPolls is how many log fetches report RUNNING before COMPLETED.
	PendingPolls int
	// RunStatus overrides the terminal status (e.g. "FAILED").
	RunStatus string
	// Reply is the final trace content.
	Reply string
	// XsrfToken, when set, is required on every request (403 otherwise).
	XsrfToken string

	calls    map[retool.Op]int
	prompts  []string
	polls    int
	threadNo int
}

// NewServer starts a fake that replies with reply.
func NewServer(reply string, agents ...Agent) *Server {
	s := &Server{
		Agents:     agents,
		Reply:      reply,
		FailStatus: map[retool.Op]int{},
		calls:      map[retool.Op]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Domain is the host:port accounts should use (with scheme "http").
func (s *Server) Domain() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// Spec returns an account spec pointing at this fake.
func (s *Server) Spec() account.Spec {
	return account.Spec{Domain: s.Domain(), XsrfToken: s.XsrfToken, AccessToken: "test-access"}
}

// Fail makes op answer with status from now on.
func (s *Server) Fail(op retool.Op, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailStatus[op] = status
}

// Calls returns how many requests hit op.
func (s *Server) Calls(op retool.Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Prompts returns every message text received, in order.
func (s *Server) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	op, ok := route(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++

	if s.XsrfToken != "" && r.Header.Get("X-Xsrf-Token") != s.XsrfToken {
		http.Error(w, "invalid xsrf token", http.StatusForbidden)
		return
	}
	if status := s.FailStatus[op]; status != 0 {
		http.Error(w, fmt.Sprintf("injected %s failure", op), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch op {
	case retool.OpAgentQuery:
		type agentData struct {
			Model string `json:"model"`
		}
		type agent struct {
			ID   string    `json:"id"`
			Name string    `json:"name"`
			Data agentData `json:"data"`
		}
		out := struct {
			Agents []agent `json:"agents"`
		}{Agents: []agent{}}
		for _, a := range s.Agents {
			out.Agents = append(out.Agents, agent{ID: a.ID, Name: a.Name, Data: agentData{Model: a.Model}})
		}
		_ = json.NewEncoder(w).Encode(out)
	case retool.OpThreadCreate:
		s.threadNo++
		_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("thread-%d", s.threadNo)})
	case retool.OpMessageSend:
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.prompts = append(s.prompts, body.Text)
		_ = json.NewEncoder(w).Encode(map[string]any{"content": map[string]string{"runId": fmt.Sprintf("run-%d", s.threadNo)}})
	case retool.OpMessageGet:
		s.polls++
		status := "COMPLETED"
		if s.polls <= s.PendingPolls {
			status = "RUNNING"
		} else if s.RunStatus != "" {
			status = s.RunStatus
		}
		trace := []map[string]any{
			{"spanType": "LLM", "data": map[string]any{"data": map[string]string{"content": "scratch"}}},
		}
		if status == "COMPLETED" {
			trace = append(trace, map[string]any{
				"spanType": "AGENT", "data": map[string]any{"data": map[string]string{"content": s.Reply}},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "trace": trace})
	}
}

func route(r *http.Request) (retool.Op, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "api" && parts[1] == "agents":
		return retool.OpAgentQuery, true
	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "threads":
		return retool.OpThreadCreate, true
	case r.Method == http.MethodPost && len(parts) == 6 && parts[5] == "messages":
		return retool.OpMessageSend, true
	case r.Method == http.MethodGet && len(parts) == 5 && parts[3] == "logs":
		return retool.OpMessageGet, true
	}
	return "", false
}
