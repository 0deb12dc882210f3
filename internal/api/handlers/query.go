// POST /v1/query: answers one question, optionally inside a conversation.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/matiasleandrokruk/lightspeed/internal/api/ctxkeys"
	"github.com/matiasleandrokruk/lightspeed/internal/domain/assistant"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/llm"
)

// Querier is satisfied by *assistant.Service.
type Querier interface {
	Query(ctx context.Context, req assistant.QueryRequest) (*assistant.QueryResponse, error)
}

// QueryHandler handles question answering HTTP requests.
type QueryHandler struct {
	svc    Querier
	logger *slog.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(svc Querier, logger *slog.Logger) *QueryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryHandler{svc: svc, logger: logger.With(slog.String("component", "query_handler"))}
}

// queryRequest is the JSON request body for POST /v1/query.
type queryRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	Provider       string `json:"provider,omitempty"`
	Model          string `json:"model,omitempty"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	UseHistory     *bool  `json:"use_history,omitempty"`
}

// queryResponse is the JSON response body for POST /v1/query.
type queryResponse struct {
	ConversationID      string                         `json:"conversation_id"`
	Response            string                         `json:"response"`
	ReferencedDocuments []assistant.ReferencedDocument `json:"referenced_documents"`
	Truncated           bool                           `json:"truncated"`
	InputTokens         int                            `json:"input_tokens"`
	OutputTokens        int                            `json:"output_tokens"`
}

// Query handles POST /v1/query.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req queryRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body", err.Error())
		return
	}

	useHistory := true
	if req.UseHistory != nil {
		useHistory = *req.UseHistory
	}

	resp, err := h.svc.Query(ctx, assistant.QueryRequest{
		Query:          req.Query,
		ConversationID: req.ConversationID,
		Provider:       req.Provider,
		Model:          req.Model,
		SystemPrompt:   req.SystemPrompt,
		UseHistory:     useHistory,
		UserID:         ctxkeys.String(ctx, ctxkeys.UserID),
	})
	if err != nil {
		h.writeQueryError(ctx, w, err)
		return
	}

	docs := resp.ReferencedDocuments
	if docs == nil {
		docs = []assistant.ReferencedDocument{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		ConversationID:      resp.ConversationID,
		Response:            resp.Response,
		ReferencedDocuments: docs,
		Truncated:           resp.Truncated,
		InputTokens:         resp.InputTokens,
		OutputTokens:        resp.OutputTokens,
	})
}

// writeQueryError maps pipeline errors onto HTTP statuses: caller mistakes
// are 422, everything else is 500.
func (h *QueryHandler) writeQueryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assistant.ErrInvalidRequest):
		writeError(w, http.StatusUnprocessableEntity, "Invalid request", err.Error())
	case errors.Is(err, llm.ErrUnknownProvider), errors.Is(err, llm.ErrUnknownModel):
		writeError(w, http.StatusUnprocessableEntity, "Unable to process this request", err.Error())
	case errors.Is(err, llm.ErrLLMInvocation):
		h.logger.ErrorContext(ctx, "llm invocation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Unable to process this request because the LLM call failed", err.Error())
	case errors.Is(err, llm.ErrProviderConfiguration), errors.Is(err, llm.ErrCredentialNotFound):
		h.logger.ErrorContext(ctx, "llm configuration error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Unable to process this request because of the LLM configuration", err.Error())
	default:
		h.logger.ErrorContext(ctx, "query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Unable to process this request", err.Error())
	}
}
