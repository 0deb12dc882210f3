package policy

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/llm"
)

// ============================================================================
// stubs
// ============================================================================

// scriptedChat returns replies[i] (or errs[i]) on the i-th call.
type scriptedChat struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    int
	messages [][]llm.Message
}

func (s *scriptedChat) Invoke(_ context.Context, messages []llm.Message) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.messages = append(s.messages, messages)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	reply := ""
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	return &llm.ChatResponse{Content: reply, InputTokens: 7}, nil
}

func (s *scriptedChat) ModelInfo() llm.ModelMeta { return llm.ModelMeta{ID: "stub", Provider: "stub"} }

type stubLoader struct {
	chat      llm.ChatModel
	err       error
	providers []string
	models    []string
	params    []llm.Params
}

func (l *stubLoader) Load(provider, model string, params llm.Params) (llm.ChatModel, error) {
	l.providers = append(l.providers, provider)
	l.models = append(l.models, model)
	l.params = append(l.params, params)
	if l.err != nil {
		return nil, l.err
	}
	return l.chat, nil
}

// recordingReporter collects "provider/model" labels per counter.
type recordingReporter struct {
	mu       sync.Mutex
	calls    []string
	failures []string
	sent     int
}

func (r *recordingReporter) LLMCall(_ context.Context, provider, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, provider+"/"+model)
}

func (r *recordingReporter) LLMFailure(_ context.Context, provider, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, provider+"/"+model)
}

func (r *recordingReporter) Tokens(_ context.Context, _, _ string, sent, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent += sent
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)) }

func llmValidator(loader ModelLoader, retries int) *LLMValidator {
	return NewLLMValidator(loader, config.QueryValidationConfig{Method: config.ValidationLLM, Retries: retries}, quietLogger())
}

var question = Question{ConversationID: "c1", Query: "How do I write a playbook?", Provider: "openai", Model: "gpt-4o-mini"}

// ============================================================================
// LLMValidator
// ============================================================================

func TestLLMValidator_Verdicts(t *testing.T) {
	t.Parallel()

	cases := map[string]Decision{
		"ALLOWED":          Allowed,
		"  ALLOWED\n":      Allowed,
		"REJECTED":         Rejected,
		"allowed":          Rejected,
		"ALLOWED, because": Rejected,
		"":                 Rejected,
	}
	for output, want := range cases {
		chat := &scriptedChat{replies: []string{output}}
		got, err := llmValidator(&stubLoader{chat: chat}, 1).Validate(context.Background(), question)
		require.NoError(t, err, "output %q", output)
		assert.Equal(t, want, got, "output %q", output)
	}
}

func TestLLMValidator_PromptAndParams(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{replies: []string{"ALLOWED"}}
	loader := &stubLoader{chat: chat}
	_, err := llmValidator(loader, 1).Validate(context.Background(), question)
	require.NoError(t, err)

	require.Len(t, chat.messages, 1)
	require.Len(t, chat.messages[0], 1)
	prompt := chat.messages[0][0].Content
	assert.True(t, strings.HasSuffix(prompt, "Question:\nHow do I write a playbook?\nResponse:\n"))
	assert.Contains(t, prompt, "Why is the sky blue?")

	assert.Equal(t, []string{"openai"}, loader.providers)
	assert.Equal(t, []string{"gpt-4o-mini"}, loader.models)
	assert.Equal(t, 4, loader.params[0][llm.ParamMaxTokens])
	assert.Equal(t, 4, loader.params[0][llm.ParamMaxNewTokens])
	assert.Equal(t, 4, loader.params[0][llm.ParamNumPredict])
}

func TestLLMValidator_ReportsEveryAttemptUnderClassifierModel(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{errs: []error{errors.New("connection reset")}, replies: []string{"", "ALLOWED"}}
	rep := &recordingReporter{}
	v := NewLLMValidator(&stubLoader{chat: chat},
		config.QueryValidationConfig{Provider: "small", Model: "granite-3b", Retries: 3},
		quietLogger(), WithCallReporter(rep))

	got, err := v.Validate(context.Background(), question)
	require.NoError(t, err)
	assert.Equal(t, Allowed, got)

	assert.Equal(t, []string{"small/granite-3b", "small/granite-3b"}, rep.calls)
	assert.Equal(t, []string{"small/granite-3b"}, rep.failures)
	assert.GreaterOrEqual(t, len(rep.calls), len(rep.failures))
	assert.Equal(t, 7, rep.sent, "tokens of the successful attempt only")
}

func TestLLMValidator_LoadFailureIsNotReportedAsCall(t *testing.T) {
	t.Parallel()

	rep := &recordingReporter{}
	v := NewLLMValidator(&stubLoader{err: llm.ErrUnknownModel},
		config.QueryValidationConfig{Retries: 2}, quietLogger(), WithCallReporter(rep))

	_, err := v.Validate(context.Background(), question)
	require.ErrorIs(t, err, llm.ErrUnknownModel)
	assert.Empty(t, rep.calls)
	assert.Empty(t, rep.failures)
}

func TestLLMValidator_UsesDesignatedModel(t *testing.T) {
	t.Parallel()

	loader := &stubLoader{chat: &scriptedChat{replies: []string{"ALLOWED"}}}
	v := NewLLMValidator(loader, config.QueryValidationConfig{Provider: "small", Model: "granite-3b", Retries: 1}, quietLogger())
	_, err := v.Validate(context.Background(), question)
	require.NoError(t, err)
	assert.Equal(t, []string{"small"}, loader.providers)
	assert.Equal(t, []string{"granite-3b"}, loader.models)
}

func TestLLMValidator_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{
		errs:    []error{&llm.InvocationError{Provider: "openai", StatusCode: 503, Err: errors.New("unavailable")}},
		replies: []string{"", "ALLOWED"},
	}
	got, err := llmValidator(&stubLoader{chat: chat}, 2).Validate(context.Background(), question)
	require.NoError(t, err)
	assert.Equal(t, Allowed, got)
	assert.Equal(t, 2, chat.calls)
}

func TestLLMValidator_ExhaustionSurfacesInvocationError(t *testing.T) {
	t.Parallel()

	transient := &llm.InvocationError{Provider: "openai", StatusCode: 500, Err: errors.New("boom")}
	chat := &scriptedChat{errs: []error{transient, transient, transient}}
	got, err := llmValidator(&stubLoader{chat: chat}, 2).Validate(context.Background(), question)
	require.ErrorIs(t, err, llm.ErrLLMInvocation)
	assert.Equal(t, Rejected, got)
	assert.Equal(t, 2, chat.calls)
}

func TestLLMValidator_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{errs: []error{&llm.InvocationError{Provider: "openai", StatusCode: 401, Err: errors.New("bad key")}}}
	_, err := llmValidator(&stubLoader{chat: chat}, 3).Validate(context.Background(), question)
	require.ErrorIs(t, err, llm.ErrLLMInvocation)
	assert.Equal(t, 1, chat.calls)
}

func TestLLMValidator_PlainErrorWrappedAsInvocation(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{errs: []error{errors.New("eof")}}
	_, err := llmValidator(&stubLoader{chat: chat}, 1).Validate(context.Background(), question)
	require.ErrorIs(t, err, llm.ErrLLMInvocation)
}

func TestLLMValidator_ConfigurationErrorIsPermanent(t *testing.T) {
	t.Parallel()

	loader := &stubLoader{err: llm.ErrUnknownModel}
	_, err := llmValidator(loader, 3).Validate(context.Background(), question)
	require.ErrorIs(t, err, llm.ErrProviderConfiguration)
	assert.NotErrorIs(t, err, llm.ErrLLMInvocation)
	assert.Len(t, loader.providers, 1)
}

// ============================================================================
// Keyword + disabled + factory
// ============================================================================

func TestKeywordValidator(t *testing.T) {
	t.Parallel()

	v := NewKeywordValidator([]string{" Ansible ", "playbook", ""})
	got, err := v.Validate(context.Background(), Question{Query: "What is an ANSIBLE collection?"})
	require.NoError(t, err)
	assert.Equal(t, Allowed, got)

	got, err = v.Validate(context.Background(), Question{Query: "Why is the sky blue?"})
	require.NoError(t, err)
	assert.Equal(t, Rejected, got)
}

func TestDisabledValidator(t *testing.T) {
	t.Parallel()

	got, err := DisabledValidator{}.Validate(context.Background(), Question{Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, Allowed, got)
}

func TestNewValidator(t *testing.T) {
	t.Parallel()

	v, err := NewValidator(config.QueryValidationConfig{Method: config.ValidationKeyword, Keywords: []string{"ansible"}}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &KeywordValidator{}, v)

	v, err = NewValidator(config.QueryValidationConfig{Method: config.ValidationDisabled}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, DisabledValidator{}, v)

	v, err = NewValidator(config.QueryValidationConfig{Method: config.ValidationLLM}, &stubLoader{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LLMValidator{}, v)

	_, err = NewValidator(config.QueryValidationConfig{Method: config.ValidationLLM}, nil, nil)
	assert.Error(t, err)

	_, err = NewValidator(config.QueryValidationConfig{Method: "vibes"}, nil, nil)
	assert.Error(t, err)
}

func TestDecisionString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "allowed", Allowed.String())
	assert.Equal(t, "rejected", Rejected.String())
}
