/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	ctrl "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/hortator-ai/retool-gateway/internal/catalog"
	"github.com/hortator-ai/retool-gateway/internal/metrics"
	"github.com/hortator-ai/retool-gateway/internal/openai"
	"github.com/hortator-ai/retool-gateway/internal/orchestrator"
)

// Completer answers chat requests through the account pool.
type Completer interface {
	Complete(ctx context.Context, model string, messages []openai.Message) (*orchestrator.Result, error)
}

// CatalogSource exposes the current model catalog.
type CatalogSource interface {
	Catalog() *catalog.Catalog
}

// Handler serves the OpenAI-compatible API endpoints.
type Handler struct {
	Completer Completer
	Models    CatalogSource
	Keys      *KeySource
	Stream    openai.StreamOptions
}

// writeError writes an OpenAI-compatible error response.
func writeError(w http.ResponseWriter, status int, msg, errType, code string) {
	writeJSON(w, status, openai.ErrorResponse{
		Error: openai.ErrorDetail{Message: msg, Type: errType, Code: code},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	log := ctrl.Log.WithName("gateway.chat")
	start := time.Now()

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", errTypeInvalidRequest, "method_not_allowed")
		return
	}

	client, err := h.Keys.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error(), errTypeAuthentication, "invalid_api_key")
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), errTypeInvalidRequest, "invalid_body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required", errTypeInvalidRequest, "missing_model")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required", errTypeInvalidRequest, "missing_messages")
		return
	}

	log.Info("audit: chat.completions", "client", client, "model", req.Model, "stream", req.Stream, "messages", len(req.Messages))

	// The whole upstream exchange finishes before the first byte is written,
	// so an unknown model is still a plain 404 in stream mode.
	res, err := h.Completer.Complete(r.Context(), req.Model, req.Messages)

	status, label := http.StatusOK, req.Model
	defer func() { metrics.ObserveRequest(label, req.Stream, status, time.Since(start)) }()

	var exhausted *orchestrator.ExhaustedError
	switch {
	case err == nil:
		log.V(1).Info("completed", "model", req.Model, "account", res.Account, "attempts", res.Attempts)
	case errors.Is(err, orchestrator.ErrUnknownModel):
		// Keep arbitrary client model names out of the metric labels.
		status, label = http.StatusNotFound, "unknown"
		writeError(w, status, "model not found: "+req.Model, errTypeInvalidRequest, "model_not_found")
		return
	case errors.Is(err, orchestrator.ErrNoMessages):
		status = http.StatusBadRequest
		writeError(w, status, err.Error(), errTypeInvalidRequest, "missing_messages")
		return
	case errors.As(err, &exhausted):
		status = http.StatusBadGateway
		if req.Stream {
			h.streamFailure(w)
			return
		}
		writeJSON(w, status, UpstreamErrorResponse{Error: UpstreamErrorDetail{
			Message:  exhausted.Error(),
			Type:     errTypeUpstream,
			Attempts: exhausted.Attempts,
			Details:  exhausted.Details,
		}})
		return
	case r.Context().Err() != nil:
		status = 499
		log.Info("client went away before completion", "model", req.Model, "error", err.Error())
		return
	default:
		status = http.StatusInternalServerError
		log.Error(err, "completion failed", "model", req.Model)
		writeError(w, status, "internal error", errTypeServer, "internal_error")
		return
	}

	if req.Stream {
		h.streamResponse(r.Context(), w, req.Model, res.Text)
		return
	}
	writeJSON(w, http.StatusOK, openai.NewCompletion(req.Model, res.Text))
}

// streamResponse replays text as typing. A write failure means the client
// disconnected; cancelling stops the producer.
func (h *Handler) streamResponse(ctx context.Context, w http.ResponseWriter, model, text string) {
	log := ctrl.Log.WithName("gateway.stream")

	flusher, ok := openai.StartSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", errTypeServer, "no_flusher")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := openai.NewStream(model, text, h.Stream)
	if err := openai.Drain(w, flusher, stream.Frames(ctx)); err != nil {
		log.V(1).Info("stream aborted", "id", stream.ID, "error", err.Error())
	}
}

// streamFailure sends the generic failure event. Attempt details stay in
// the logs.
func (h *Handler) streamFailure(w http.ResponseWriter) {
	flusher, ok := openai.StartSSE(w)
	if !ok {
		writeError(w, http.StatusBadGateway, orchestrator.ExhaustedMessage, errTypeUpstream, "")
		return
	}
	_, _ = w.Write(openai.ErrorFrame(orchestrator.ExhaustedMessage, errTypeUpstream))
	_, _ = w.Write(openai.DoneFrame)
	flusher.Flush()
}

// ListModels handles GET /v1/models.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", errTypeInvalidRequest, "method_not_allowed")
		return
	}

	client, err := h.Keys.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error(), errTypeAuthentication, "invalid_api_key")
		return
	}

	log := ctrl.Log.WithName("gateway.models")

	cat := h.Models.Catalog()
	models := make([]openai.ModelObject, 0)
	for _, rec := range cat.Models() {
		models = append(models, ModelObject(rec, cat.CreatedAt()))
	}

	log.Info("audit: list.models", "client", client, "count", len(models))

	writeJSON(w, http.StatusOK, openai.ModelListResponse{Object: "list", Data: models})
}

// ModelObject renders a catalog record in list form.
func ModelObject(rec catalog.ModelRecord, created time.Time) openai.ModelObject {
	return openai.ModelObject{
		ID:      rec.ID,
		Object:  "model",
		Created: created.Unix(),
		OwnedBy: rec.OwnedBy,
		Name:    rec.Name,
	}
}
