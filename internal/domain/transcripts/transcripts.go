// Package transcripts persists every answered question for later review.
// The query pipeline publishes a QueryCompleted event; the Recorder consumes
// it off the request path and hands a Record to each configured sink.
package transcripts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/eventbus"
)

// TopicQueryCompleted is published once per answered (or rejected) question.
const TopicQueryCompleted = "query.completed"

// QueryCompleted is the event payload.
type QueryCompleted struct {
	UserID              string
	ConversationID      string
	Provider            string
	Model               string
	RedactedQuery       string
	QueryIsValid        bool
	Response            string
	ReferencedDocuments []Reference
	Truncated           bool
	Timestamp           time.Time
}

// Reference is a document the answer was grounded on.
type Reference struct {
	Title  string `json:"title"`
	DocURL string `json:"doc_url"`
}

// Metadata identifies a transcript.
type Metadata struct {
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	QueryIsValid   bool      `json:"query_is_valid"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// Record is the JSON document written by sinks.
type Record struct {
	Metadata      Metadata    `json:"metadata"`
	RedactedQuery string      `json:"redacted_query"`
	QueryIsValid  bool        `json:"query_is_valid"`
	LLMResponse   string      `json:"llm_response"`
	RAGChunks     []Reference `json:"rag_chunks"`
	Truncated     bool        `json:"truncated"`
}

// NewRecord converts an event into its stored form.
func NewRecord(e QueryCompleted) Record {
	refs := e.ReferencedDocuments
	if refs == nil {
		refs = []Reference{}
	}
	return Record{
		Metadata: Metadata{
			Provider:       e.Provider,
			Model:          e.Model,
			QueryIsValid:   e.QueryIsValid,
			UserID:         e.UserID,
			ConversationID: e.ConversationID,
			Timestamp:      e.Timestamp.UTC(),
		},
		RedactedQuery: e.RedactedQuery,
		QueryIsValid:  e.QueryIsValid,
		LLMResponse:   e.Response,
		RAGChunks:     refs,
		Truncated:     e.Truncated,
	}
}

// Sink stores one record.
type Sink interface {
	Write(ctx context.Context, r Record) error
}

// Recorder drains QueryCompleted events into sinks.
type Recorder struct {
	events <-chan eventbus.Event
	sinks  []Sink
	logger *slog.Logger
}

// NewRecorder subscribes to bus immediately so no event published after it
// returns is missed.
func NewRecorder(bus eventbus.EventBus, logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		events: bus.Subscribe(TopicQueryCompleted),
		sinks:  sinks,
		logger: logger.With(slog.String("component", "transcripts")),
	}
}

// Run consumes events until ctx is done or the bus is closed. Sink errors
// are logged and do not stop the loop.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-r.events:
			if !ok {
				return
			}
			payload, ok := evt.Payload.(QueryCompleted)
			if !ok {
				r.logger.Warn("unexpected payload", slog.String("topic", evt.Topic))
				continue
			}
			r.record(ctx, NewRecord(payload))
		}
	}
}

func (r *Recorder) record(ctx context.Context, rec Record) {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Error("failed to store transcript",
			slog.String("conversation_id", rec.Metadata.ConversationID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Debug("transcript stored", slog.String("conversation_id", rec.Metadata.ConversationID))
}
