// Package assistant answers questions: it validates the topic, retrieves
// reference passages, composes the prompt with conversation history and
// asks the generation model.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matiasleandrokruk/lightspeed/internal/domain/knowledge"
	"github.com/matiasleandrokruk/lightspeed/internal/domain/policy"
	"github.com/matiasleandrokruk/lightspeed/internal/domain/transcripts"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/cache"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/eventbus"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/llm"
	"github.com/matiasleandrokruk/lightspeed/pkg/auth"
)

// ErrInvalidRequest marks a request the caller must fix.
var ErrInvalidRequest = errors.New("assistant: invalid request")

const tracerName = "github.com/matiasleandrokruk/lightspeed/internal/domain/assistant"

// QueryRequest is one question.
type QueryRequest struct {
	Query          string
	ConversationID string
	Provider       string
	Model          string
	SystemPrompt   string
	UseHistory     bool
	UserID         string
}

// ReferencedDocument is a document the answer drew on.
type ReferencedDocument struct {
	Title  string `json:"title"`
	DocURL string `json:"docs_url"`
}

// QueryResponse is the answer. Rejected questions get the same shape with
// the canned refusal as Response.
type QueryResponse struct {
	ConversationID      string
	Response            string
	ReferencedDocuments []ReferencedDocument
	Truncated           bool
	InputTokens         int
	OutputTokens        int
}

// Hooks receives the counters an operator cares about. *metrics.Metrics
// implements it. Classifier calls are reported by the validator itself
// (policy.WithCallReporter); Hooks sees the generation call only.
type Hooks interface {
	LLMCall(ctx context.Context, provider, model string)
	LLMFailure(ctx context.Context, provider, model string)
	ValidationRejected(ctx context.Context, provider, model string)
	Tokens(ctx context.Context, provider, model string, sent, received int)
}

type nopHooks struct{}

func (nopHooks) LLMCall(context.Context, string, string)            {}
func (nopHooks) LLMFailure(context.Context, string, string)         {}
func (nopHooks) ValidationRejected(context.Context, string, string) {}
func (nopHooks) Tokens(context.Context, string, string, int, int)   {}

// ModelLoader is satisfied by *llm.Loader.
type ModelLoader interface {
	Load(provider, model string, params llm.Params) (llm.ChatModel, error)
	Default() (provider, model string)
}

// IndexSource is satisfied by *knowledge.IndexLoader.
type IndexSource interface {
	VectorIndex(ctx context.Context) knowledge.VectorIndex
}

// Deps are the collaborators of a Service. Models, Validator and History
// are required.
type Deps struct {
	Models    ModelLoader
	Validator policy.QuestionValidator
	Index     IndexSource
	History   cache.Store
	Redactor  *policy.Redactor
	Bus       eventbus.EventBus
	Hooks     Hooks
	Logger    *slog.Logger
}

// Service runs the query pipeline. It holds no per-request state and is
// safe for concurrent use.
type Service struct {
	cfg          config.Config
	deps         Deps
	systemPrompt string
	productName  string
	topK         int
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewService wires the pipeline. ols_config.system_prompt_path, when set,
// replaces the built-in system instruction.
func NewService(cfg config.Config, deps Deps) (*Service, error) {
	if deps.Models == nil || deps.Validator == nil || deps.History == nil {
		return nil, errors.New("assistant: models, validator and history are required")
	}
	if deps.Hooks == nil {
		deps.Hooks = nopHooks{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ols := cfg.OLSConfig
	productName := ols.ProductName
	if productName == "" {
		productName = DefaultProductName
	}
	systemPrompt := RenderSystemInstruction(productName)
	if ols.SystemPromptPath != "" {
		raw, err := os.ReadFile(ols.SystemPromptPath)
		if err != nil {
			return nil, fmt.Errorf("assistant: read system prompt: %w", err)
		}
		systemPrompt = string(raw)
	}
	topK := 4
	if ols.ReferenceContent != nil && ols.ReferenceContent.TopK > 0 {
		topK = ols.ReferenceContent.TopK
	}

	return &Service{
		cfg:          cfg,
		deps:         deps,
		systemPrompt: systemPrompt,
		productName:  productName,
		topK:         topK,
		logger:       logger.With(slog.String("component", "assistant")),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
	}, nil
}

// Query answers one question.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.query")
	defer span.End()

	if err := s.checkRequest(&req); err != nil {
		return nil, failSpan(span, err)
	}
	span.SetAttributes(
		attribute.String("llm.provider", req.Provider),
		attribute.String("llm.model", req.Model),
	)

	model, err := s.deps.Models.Load(req.Provider, req.Model, nil)
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("assistant: load model: %w", err))
	}

	query, filters := s.deps.Redactor.Redact(req.Query)
	if len(filters) > 0 {
		s.logger.Debug("query redacted", slog.Any("filters", filters))
	}

	newConversation := req.ConversationID == ""
	if newConversation {
		req.ConversationID = uuid.NewString()
	}
	log := s.logger.With(
		slog.String("conversation_id", req.ConversationID),
		slog.String("user_id", req.UserID),
	)

	decision, err := s.classify(ctx, req, query)
	if err != nil {
		return nil, failSpan(span, err)
	}
	if decision == policy.Rejected {
		log.Info("question rejected by topic policy")
		s.deps.Hooks.ValidationRejected(ctx, req.Provider, req.Model)
		resp := &QueryResponse{
			ConversationID: req.ConversationID,
			Response:       InvalidQueryResponse(s.productName),
		}
		s.publish(req, query, resp, false)
		return resp, nil
	}

	var history []cache.Turn
	if req.UseHistory && !newConversation {
		history, err = s.deps.History.Get(ctx, req.UserID, req.ConversationID)
		if err != nil {
			return nil, failSpan(span, fmt.Errorf("assistant: read history: %w", err))
		}
	}

	passages, err := s.retrieve(ctx, query, log)
	if err != nil {
		return nil, failSpan(span, err)
	}

	system := req.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = s.systemPrompt
	}
	systemBlock := composeSystem(system, passages, false)
	budget := historyBudget(s.cfg, req.Provider, req.Model,
		estimateTokens(systemBlock)+estimateTokens(UseHistoryInstruction)+estimateTokens(query))
	history, truncated := limitHistory(history, budget)
	if truncated {
		log.Warn("conversation history truncated to fit the context window", slog.Int("kept_turns", len(history)))
	}
	messages := composeMessages(system, passages, history, query)

	answer, err := s.generate(ctx, model, req, messages)
	if err != nil {
		return nil, failSpan(span, err)
	}

	resp := &QueryResponse{
		ConversationID:      req.ConversationID,
		Response:            answer.Content,
		ReferencedDocuments: referencedDocuments(passages),
		Truncated:           truncated,
		InputTokens:         answer.InputTokens,
		OutputTokens:        answer.OutputTokens,
	}

	turn := cache.Turn{
		Query:     query,
		Response:  answer.Content,
		Provider:  req.Provider,
		Model:     req.Model,
		CreatedAt: s.now().UTC(),
	}
	if err := s.deps.History.Append(ctx, req.UserID, req.ConversationID, turn); err != nil {
		log.Error("failed to store conversation turn", slog.String("error", err.Error()))
	}
	s.publish(req, query, resp, true)
	return resp, nil
}

// checkRequest validates req and fills the default provider, model and user.
func (s *Service) checkRequest(req *QueryRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	if (req.Provider == "") != (req.Model == "") {
		return fmt.Errorf("%w: provider and model must be specified together", ErrInvalidRequest)
	}
	if req.ConversationID != "" {
		if _, err := uuid.Parse(req.ConversationID); err != nil {
			return fmt.Errorf("%w: conversation_id %q is not a valid UUID", ErrInvalidRequest, req.ConversationID)
		}
	}
	if req.Provider == "" {
		req.Provider, req.Model = s.deps.Models.Default()
	}
	if req.UserID == "" {
		req.UserID = auth.DefaultUserID
	}
	return nil
}

func (s *Service) classify(ctx context.Context, req QueryRequest, query string) (policy.Decision, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.classify")
	defer span.End()

	decision, err := s.deps.Validator.Validate(ctx, policy.Question{
		ConversationID: req.ConversationID,
		Query:          query,
		Provider:       req.Provider,
		Model:          req.Model,
	})
	if err != nil {
		return policy.Rejected, failSpan(span, fmt.Errorf("assistant: validate question: %w", err))
	}
	span.SetAttributes(attribute.String("decision", decision.String()))
	return decision, nil
}

// retrieve degrades to no passages when there is no index or the index
// reports knowledge.ErrRetrieval. Any other error, and a cancelled request,
// is returned.
func (s *Service) retrieve(ctx context.Context, query string, log *slog.Logger) ([]knowledge.Passage, error) {
	if s.deps.Index == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "assistant.retrieve")
	defer span.End()

	index := s.deps.Index.VectorIndex(ctx)
	if index == nil {
		return nil, nil
	}
	passages, err := index.Retrieve(ctx, query, s.topK)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, failSpan(span, fmt.Errorf("assistant: retrieve: %w", ctx.Err()))
	case errors.Is(err, knowledge.ErrRetrieval):
		log.Warn("retrieval failed, answering without reference content", slog.String("error", err.Error()))
		failSpan(span, err)
		return nil, nil
	default:
		return nil, failSpan(span, fmt.Errorf("assistant: retrieve: %w", err))
	}
	span.SetAttributes(attribute.Int("passages", len(passages)))
	return passages, nil
}

func (s *Service) generate(ctx context.Context, model llm.ChatModel, req QueryRequest, messages []llm.Message) (*llm.ChatResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.generate")
	defer span.End()

	s.deps.Hooks.LLMCall(ctx, req.Provider, req.Model)
	resp, err := model.Invoke(ctx, messages)
	if err != nil {
		s.deps.Hooks.LLMFailure(ctx, req.Provider, req.Model)
		if !errors.Is(err, llm.ErrLLMInvocation) {
			err = fmt.Errorf("%w: %w", llm.ErrLLMInvocation, err)
		}
		return nil, failSpan(span, fmt.Errorf("assistant: generate: %w", err))
	}
	s.deps.Hooks.Tokens(ctx, req.Provider, req.Model, resp.InputTokens, resp.OutputTokens)
	span.SetAttributes(
		attribute.Int("llm.input_tokens", resp.InputTokens),
		attribute.Int("llm.output_tokens", resp.OutputTokens),
	)
	return resp, nil
}

func (s *Service) publish(req QueryRequest, query string, resp *QueryResponse, valid bool) {
	if s.deps.Bus == nil {
		return
	}
	refs := make([]transcripts.Reference, 0, len(resp.ReferencedDocuments))
	for _, d := range resp.ReferencedDocuments {
		refs = append(refs, transcripts.Reference{Title: d.Title, DocURL: d.DocURL})
	}
	s.deps.Bus.Publish(transcripts.TopicQueryCompleted, transcripts.QueryCompleted{
		UserID:              req.UserID,
		ConversationID:      resp.ConversationID,
		Provider:            req.Provider,
		Model:               req.Model,
		RedactedQuery:       query,
		QueryIsValid:        valid,
		Response:            resp.Response,
		ReferencedDocuments: refs,
		Truncated:           resp.Truncated,
		Timestamp:           s.now().UTC(),
	})
}

// composeSystem builds the system message. Directives are added only when
// their content is present.
func composeSystem(system string, passages []knowledge.Passage, withHistory bool) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(system))
	if len(passages) > 0 {
		b.WriteString("\n\n")
		b.WriteString(UseContextInstruction)
		for _, p := range passages {
			b.WriteString("\n\n")
			b.WriteString(p.Text)
		}
	}
	if withHistory {
		b.WriteString("\n\n")
		b.WriteString(UseHistoryInstruction)
	}
	return b.String()
}

func composeMessages(system string, passages []knowledge.Passage, history []cache.Turn, query string) []llm.Message {
	messages := make([]llm.Message, 0, 2+2*len(history))
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: composeSystem(system, passages, len(history) > 0),
	})
	for _, t := range history {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: t.Query},
			llm.Message{Role: llm.RoleAssistant, Content: t.Response},
		)
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: query})
}

// referencedDocuments lists each document once, in retrieval order.
func referencedDocuments(passages []knowledge.Passage) []ReferencedDocument {
	docs := make([]ReferencedDocument, 0, len(passages))
	seen := make(map[string]bool, len(passages))
	for _, p := range passages {
		if p.DocURL == "" || seen[p.DocURL] {
			continue
		}
		seen[p.DocURL] = true
		docs = append(docs, ReferencedDocument{Title: p.Title, DocURL: p.DocURL})
	}
	return docs
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
