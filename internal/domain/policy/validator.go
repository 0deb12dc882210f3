// Package policy decides whether a question is in scope before any answer is
// generated, and redacts configured patterns out of incoming questions.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/llm"
)

// Decision is the validator verdict.
type Decision int

const (
	Rejected Decision = iota
	Allowed
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "rejected"
}

// Question is what a validator looks at. Provider and Model name the
// request's generation model, used when no classification model is configured.
type Question struct {
	ConversationID string
	Query          string
	Provider       string
	Model          string
}

// QuestionValidator classifies questions against the topic policy.
type QuestionValidator interface {
	Validate(ctx context.Context, q Question) (Decision, error)
}

// ModelLoader is satisfied by *llm.Loader.
type ModelLoader interface {
	Load(provider, model string, params llm.Params) (llm.ChatModel, error)
}

// classifierMaxTokens caps the one-word verdict. Every backend reads a
// different key; Reconcile keeps only the one the backend understands.
const classifierMaxTokens = 4

// ClassifierParams is the parameter bag sent with every classification call.
func ClassifierParams() llm.Params {
	return llm.Params{
		llm.ParamMaxTokens:    classifierMaxTokens,
		llm.ParamMaxNewTokens: classifierMaxTokens,
		llm.ParamNumPredict:   classifierMaxTokens,
	}
}

// CallReporter counts classifier invocations under the classification
// model's labels. *metrics.Metrics implements it.
type CallReporter interface {
	LLMCall(ctx context.Context, provider, model string)
	LLMFailure(ctx context.Context, provider, model string)
	Tokens(ctx context.Context, provider, model string, sent, received int)
}

type nopReporter struct{}

func (nopReporter) LLMCall(context.Context, string, string)          {}
func (nopReporter) LLMFailure(context.Context, string, string)       {}
func (nopReporter) Tokens(context.Context, string, string, int, int) {}

// ValidatorOption adjusts an LLMValidator.
type ValidatorOption func(*LLMValidator)

// WithCallReporter reports every classifier Invoke to r.
func WithCallReporter(r CallReporter) ValidatorOption {
	return func(v *LLMValidator) {
		if r != nil {
			v.reporter = r
		}
	}
}

// NewValidator builds the validator selected by cfg.Method. opts only apply
// to the llm method.
func NewValidator(cfg config.QueryValidationConfig, loader ModelLoader, logger *slog.Logger, opts ...ValidatorOption) (QuestionValidator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Method {
	case config.ValidationLLM, "":
		if loader == nil {
			return nil, errors.New("policy: llm validation needs a model loader")
		}
		return NewLLMValidator(loader, cfg, logger, opts...), nil
	case config.ValidationKeyword:
		return NewKeywordValidator(cfg.Keywords), nil
	case config.ValidationDisabled:
		return DisabledValidator{}, nil
	default:
		return nil, fmt.Errorf("policy: unknown validation method %q", cfg.Method)
	}
}

// ─── llm ─────────────────────────────────────────────────────────────────────

// LLMValidator asks a classification model for a one-word verdict. Anything
// other than exactly ALLOWED is a rejection.
type LLMValidator struct {
	loader   ModelLoader
	provider string
	model    string
	attempts uint
	interval time.Duration
	reporter CallReporter
	logger   *slog.Logger
}

// NewLLMValidator reads the designated classification model and retry policy from cfg.
func NewLLMValidator(loader ModelLoader, cfg config.QueryValidationConfig, logger *slog.Logger, opts ...ValidatorOption) *LLMValidator {
	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	interval := time.Duration(cfg.RetryIntervalMS) * time.Millisecond
	if interval < 0 {
		interval = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	v := &LLMValidator{
		loader:   loader,
		provider: cfg.Provider,
		model:    cfg.Model,
		attempts: uint(attempts),
		interval: interval,
		reporter: nopReporter{},
		logger:   logger.With(slog.String("component", "question_validator")),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate implements QuestionValidator.
func (v *LLMValidator) Validate(ctx context.Context, q Question) (Decision, error) {
	provider, model := v.provider, v.model
	if provider == "" {
		provider, model = q.Provider, q.Model
	}

	chat, err := v.loader.Load(provider, model, ClassifierParams())
	if err != nil {
		return Rejected, fmt.Errorf("policy: load classifier %s/%s: %w", provider, model, err)
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: RenderValidatorPrompt(q.Query)}}
	op := func() (*llm.ChatResponse, error) {
		v.reporter.LLMCall(ctx, provider, model)
		resp, err := chat.Invoke(ctx, messages)
		if err == nil {
			v.reporter.Tokens(ctx, provider, model, resp.InputTokens, resp.OutputTokens)
			return resp, nil
		}
		v.reporter.LLMFailure(ctx, provider, model)
		if errors.Is(err, llm.ErrProviderConfiguration) {
			return nil, backoff.Permanent(err)
		}
		var inv *llm.InvocationError
		if errors.As(err, &inv) && !inv.Retryable() {
			return nil, backoff.Permanent(err)
		}
		v.logger.WarnContext(ctx, "classifier call failed, retrying",
			slog.String("conversation_id", q.ConversationID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(v.interval)),
		backoff.WithMaxTries(v.attempts),
	)
	if err != nil {
		if !errors.Is(err, llm.ErrLLMInvocation) && !errors.Is(err, llm.ErrProviderConfiguration) {
			err = fmt.Errorf("%w: %w", llm.ErrLLMInvocation, err)
		}
		return Rejected, fmt.Errorf("policy: classify: %w", err)
	}

	verdict := strings.TrimSpace(resp.Content)
	switch verdict {
	case SubjectAllowed:
		return Allowed, nil
	case SubjectRejected:
		v.logger.InfoContext(ctx, "question rejected", slog.String("conversation_id", q.ConversationID))
	default:
		v.logger.WarnContext(ctx, "malformed classifier output, rejecting",
			slog.String("conversation_id", q.ConversationID),
			slog.String("output", verdict),
		)
	}
	return Rejected, nil
}

// ─── keyword ─────────────────────────────────────────────────────────────────

// KeywordValidator allows a question when it mentions any configured keyword.
type KeywordValidator struct {
	keywords []string
}

func NewKeywordValidator(keywords []string) *KeywordValidator {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return &KeywordValidator{keywords: kw}
}

// Validate implements QuestionValidator.
func (v *KeywordValidator) Validate(_ context.Context, q Question) (Decision, error) {
	lower := strings.ToLower(q.Query)
	for _, k := range v.keywords {
		if strings.Contains(lower, k) {
			return Allowed, nil
		}
	}
	return Rejected, nil
}

// ─── disabled ────────────────────────────────────────────────────────────────

// DisabledValidator allows everything.
type DisabledValidator struct{}

// Validate implements QuestionValidator.
func (DisabledValidator) Validate(context.Context, Question) (Decision, error) {
	return Allowed, nil
}
