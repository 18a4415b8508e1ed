/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hortator-ai/retool-gateway/internal/account"
	"github.com/hortator-ai/retool-gateway/internal/catalog"
	"github.com/hortator-ai/retool-gateway/internal/openai"
	"github.com/hortator-ai/retool-gateway/internal/orchestrator"
	"github.com/hortator-ai/retool-gateway/internal/retool"
	"github.com/hortator-ai/retool-gateway/internal/retool/retooltest"
	"github.com/hortator-ai/retool-gateway/internal/selector"
	"github.com/hortator-ai/retool-gateway/internal/session"
)

const model = "anthropic-claude-3"

// newStack wires the real pipeline against fake Retool instances and serves
// it through the router.
func newStack(t *testing.T, upstreams ...*retooltest.Server) (*httptest.Server, *account.Registry) {
	t.Helper()
	specs := make([]account.Spec, len(upstreams))
	for i, u := range upstreams {
		specs[i] = u.Spec()
	}
	reg := account.NewRegistry(specs)
	client := retool.NewClient(5*time.Second, "http")
	sel := selector.New(reg, catalog.Discover(context.Background(), reg, client))

	driver := session.NewDriver(client)
	driver.PollInterval = time.Millisecond
	driver.PollTimeout = 2 * time.Second

	h := &Handler{
		Completer: orchestrator.New(reg, sel, driver),
		Models:    sel,
		Keys:      &KeySource{Static: map[string]string{"test-key": "tester"}},
		Stream:    openai.StreamOptions{ChunkSize: 5},
	}
	srv := httptest.NewServer(h.Routes(nil))
	t.Cleanup(srv.Close)
	return srv, reg
}

func upstream(t *testing.T, id, reply string) *retooltest.Server {
	t.Helper()
	u := retooltest.NewServer(reply, retooltest.Agent{ID: id, Name: "Claude 3 Opus", Model: "anthropic-claude-3-opus-v2"})
	t.Cleanup(u.Close)
	return u
}

func post(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer test-key")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// sseData returns the payload of every data: line.
func sseData(t *testing.T, r io.Reader) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestStack_Completion(t *testing.T) {
	srv, _ := newStack(t, upstream(t, "ag-a", "Hello world"))

	resp := post(t, srv, `{"model":"anthropic-claude-3","messages":[{"role":"user","content":"Hi"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Object != "chat.completion" || out.Model != model {
		t.Errorf("envelope = %+v", out)
	}
	if !strings.HasPrefix(out.ID, "chatcmpl-") {
		t.Errorf("id = %q", out.ID)
	}
	if len(out.Choices) != 1 || out.Choices[0].Message.Content.String() != "Hello world" {
		t.Fatalf("choices = %+v", out.Choices)
	}
	if fr := out.Choices[0].FinishReason; fr == nil || *fr != "stop" {
		t.Errorf("finish_reason = %v", fr)
	}
	if out.Usage.TotalTokens != 0 {
		t.Errorf("usage = %+v, want zeros", out.Usage)
	}
}

func TestStack_Stream(t *testing.T) {
	srv, _ := newStack(t, upstream(t, "ag-a", "Hello world"))

	resp := post(t, srv, `{"model":"anthropic-claude-3","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	frames := sseData(t, resp.Body)
	if len(frames) != 6 {
		t.Fatalf("frames = %d, want 6: %q", len(frames), frames)
	}
	if frames[5] != "[DONE]" {
		t.Errorf("last frame = %q", frames[5])
	}

	var ids = map[string]bool{}
	var created = map[int64]bool{}
	var deltas []string
	for i, f := range frames[:5] {
		var chunk openai.StreamChunk
		if err := json.Unmarshal([]byte(f), &chunk); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		ids[chunk.ID] = true
		created[chunk.Created] = true
		switch {
		case i == 0:
			if chunk.Choices[0].Delta.Role != "assistant" {
				t.Errorf("first frame must announce the role: %s", f)
			}
		case i == 4:
			if fr := chunk.Choices[0].FinishReason; fr == nil || *fr != "stop" {
				t.Errorf("stop frame = %s", f)
			}
		default:
			deltas = append(deltas, chunk.Choices[0].Delta.Content)
		}
	}
	if want := []string{"Hello", " worl", "d"}; strings.Join(deltas, "|") != strings.Join(want, "|") {
		t.Errorf("deltas = %q, want %q", deltas, want)
	}
	if len(ids) != 1 || len(created) != 1 {
		t.Errorf("frames must share one id and created: ids=%v created=%v", ids, created)
	}
}

func TestStack_Failover(t *testing.T) {
	bad := upstream(t, "ag-a", "unused")
	bad.Fail(retool.OpMessageSend, http.StatusInternalServerError)
	good := upstream(t, "ag-b", "from b")
	srv, reg := newStack(t, bad, good)

	resp := post(t, srv, `{"model":"anthropic-claude-3","messages":[{"role":"user","content":"Hi"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if got := out.Choices[0].Message.Content.String(); got != "from b" {
		t.Errorf("content = %q", got)
	}
	a, _ := reg.ByDomain(bad.Domain())
	if a.Snapshot().ErrorCount != 1 || !a.Valid() {
		t.Errorf("failed account health = %+v", a.Snapshot())
	}
}

func TestStack_Exhausted(t *testing.T) {
	first := upstream(t, "ag-a", "unused")
	first.Fail(retool.OpThreadCreate, http.StatusInternalServerError)
	second := upstream(t, "ag-b", "unused")
	second.Fail(retool.OpThreadCreate, http.StatusUnauthorized)
	srv, reg := newStack(t, first, second)

	resp := post(t, srv, `{"model":"anthropic-claude-3","messages":[{"role":"user","content":"Hi"}]}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	var out UpstreamErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Error.Message != "All Retool accounts failed" || out.Error.Type != "upstream_error" {
		t.Errorf("error = %+v", out.Error)
	}
	if out.Error.Attempts != 2 || len(out.Error.Details) != 2 {
		t.Fatalf("attempts = %d, details = %d", out.Error.Attempts, len(out.Error.Details))
	}
	for i, d := range out.Error.Details {
		if d.Op != retool.OpThreadCreate {
			t.Errorf("details[%d].operation = %q", i, d.Op)
		}
	}
	if out.Error.Details[1].Status != http.StatusUnauthorized {
		t.Errorf("details[1].status_code = %d", out.Error.Details[1].Status)
	}

	b, _ := reg.ByDomain(second.Domain())
	if b.Valid() {
		t.Error("401 must permanently disable the account")
	}
}

func TestStack_ExhaustedStream(t *testing.T) {
	only := upstream(t, "ag-a", "unused")
	only.Fail(retool.OpMessageGet, http.StatusBadGateway)
	srv, _ := newStack(t, only)

	resp := post(t, srv, `{"model":"anthropic-claude-3","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)
	frames := sseData(t, resp.Body)
	if len(frames) != 2 || frames[1] != "[DONE]" {
		t.Fatalf("frames = %q, want error frame then [DONE]", frames)
	}
	var e openai.ErrorResponse
	if err := json.Unmarshal([]byte(frames[0]), &e); err != nil {
		t.Fatal(err)
	}
	if e.Error.Type != "upstream_error" {
		t.Errorf("error frame = %s", frames[0])
	}
	if strings.Contains(frames[0], "attempts") {
		t.Error("attempt detail must not leak into the stream")
	}
}

func TestStack_UnknownModel(t *testing.T) {
	u := upstream(t, "ag-a", "unused")
	srv, _ := newStack(t, u)

	resp := post(t, srv, `{"model":"gpt-4","messages":[{"role":"user","content":"Hi"}]}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if u.Calls(retool.OpThreadCreate) != 0 {
		t.Error("unknown model must not reach the upstream")
	}
}

func TestStack_ListModels(t *testing.T) {
	a := upstream(t, "ag-a", "")
	b := retooltest.NewServer("", retooltest.Agent{ID: "ag-g", Name: "GPT-4o", Model: "gpt-4o-2024-08-06"})
	t.Cleanup(b.Close)
	srv, _ := newStack(t, a, b)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/models", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out openai.ModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Data) != 2 {
		t.Fatalf("models = %+v", out.Data)
	}
	if out.Data[0].ID != model || out.Data[0].OwnedBy != "anthropic" {
		t.Errorf("data[0] = %+v", out.Data[0])
	}
	if out.Data[1].ID != "gpt-4o-2024" || out.Data[1].OwnedBy != "openai" {
		t.Errorf("data[1] = %+v", out.Data[1])
	}
}

func TestStack_RouterSurfaces(t *testing.T) {
	srv, _ := newStack(t, upstream(t, "ag-a", ""))

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "retool_gateway_account_valid") {
		t.Error("metrics endpoint is missing gateway collectors")
	}

	resp, err = http.Get(srv.URL + "/v1/chat/completions")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET completions = %d, want 405", resp.StatusCode)
	}
}
