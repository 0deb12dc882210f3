// Package eval scores generated answers against reference answers with a
// judge model. It backs the `lightspeed score` command.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/llm"
)

const (
	// MaxRetryAttempts bounds the judge calls per score.
	MaxRetryAttempts = 5
	// TimeToBreath is the pause between judge attempts.
	TimeToBreath = 10 * time.Second
)

// AnswerSimilarityPrompt asks the judge for a 0-10 similarity grade.
const AnswerSimilarityPrompt = `You are an impartial evaluator comparing a generated response with a reference answer.

Question:
{question}

Reference answer:
{answer}

Generated response:
{response}

Rate how closely the generated response matches the reference answer in meaning, correctness and completeness.
Reply with a single number from 0 to 10, where 0 means unrelated and 10 means equivalent. Do not add any other text.`

// RenderSimilarityPrompt substitutes the three placeholders.
func RenderSimilarityPrompt(question, answer, response string) string {
	return strings.NewReplacer(
		"{question}", question,
		"{answer}", answer,
		"{response}", response,
	).Replace(AnswerSimilarityPrompt)
}

// AnswerSimilarityScore grades responses with a judge model.
type AnswerSimilarityScore struct {
	judge    llm.ChatModel
	attempts uint
	pause    time.Duration
	logger   *slog.Logger
}

// Option adjusts the retry policy.
type Option func(*AnswerSimilarityScore)

// WithRetry overrides MaxRetryAttempts and TimeToBreath.
func WithRetry(attempts int, pause time.Duration) Option {
	return func(s *AnswerSimilarityScore) {
		if attempts > 0 {
			s.attempts = uint(attempts)
		}
		if pause >= 0 {
			s.pause = pause
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *AnswerSimilarityScore) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewAnswerSimilarityScore(judge llm.ChatModel, opts ...Option) *AnswerSimilarityScore {
	s := &AnswerSimilarityScore{
		judge:    judge,
		attempts: MaxRetryAttempts,
		pause:    TimeToBreath,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(slog.String("component", "eval"))
	return s
}

var errNotANumber = errors.New("eval: judge reply is not a number")

// Score returns the judge grade divided by 10, or nil when every attempt
// failed or produced something that is not a number.
func (s *AnswerSimilarityScore) Score(ctx context.Context, question, answer, response string) *float64 {
	messages := []llm.Message{{Role: llm.RoleUser, Content: RenderSimilarityPrompt(question, answer, response)}}

	op := func() (float64, error) {
		resp, err := s.judge.Invoke(ctx, messages)
		if err != nil {
			s.logger.WarnContext(ctx, "judge call failed", slog.String("error", err.Error()))
			return 0, err
		}
		grade, err := strconv.ParseFloat(strings.TrimSpace(resp.Content), 64)
		if err != nil {
			s.logger.WarnContext(ctx, "judge reply is not a number", slog.String("reply", resp.Content))
			return 0, fmt.Errorf("%w: %q", errNotANumber, resp.Content)
		}
		return grade / 10, nil
	}

	score, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.pause)),
		backoff.WithMaxTries(s.attempts),
	)
	if err != nil {
		return nil
	}
	return &score
}
