package transcripts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
	"github.com/matiasleandrokruk/lightspeed/internal/infra/eventbus"
)

var completed = QueryCompleted{
	UserID:              "u-1",
	ConversationID:      "c-1",
	Provider:            "openai",
	Model:               "gpt-4o-mini",
	RedactedQuery:       "how do I use <IP>?",
	QueryIsValid:        true,
	Response:            "Use the inventory.",
	ReferencedDocuments: []Reference{{Title: "Inventory", DocURL: "https://docs/inventory"}},
	Timestamp:           time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
}

// ============================================================================
// FileSink
// ============================================================================

func TestFileSink_WritesUnderUserAndConversation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sink, err := NewFileSink(root)
	require.NoError(t, err)
	require.NoError(t, sink.Write(context.Background(), NewRecord(completed)))

	files, err := filepath.Glob(filepath.Join(root, "u-1", "c-1", "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	id := strings.TrimSuffix(filepath.Base(files[0]), ".json")
	parsed, err := ulid.ParseStrict(id)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(completed.Timestamp), parsed.Time())

	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "how do I use <IP>?", doc["redacted_query"])
	assert.Equal(t, "Use the inventory.", doc["llm_response"])
	assert.Equal(t, true, doc["query_is_valid"])
	meta := doc["metadata"].(map[string]any)
	assert.Equal(t, "openai", meta["provider"])
	assert.Equal(t, "c-1", meta["conversation_id"])
}

func TestFileSink_PathTraversalIsNeutralized(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sink, err := NewFileSink(root)
	require.NoError(t, err)

	evt := completed
	evt.UserID = ".."
	evt.ConversationID = "../../etc"
	require.NoError(t, sink.Write(context.Background(), NewRecord(evt)))

	files, err := filepath.Glob(filepath.Join(root, "_", ".._.._etc", "*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestNewFileSink_RequiresRoot(t *testing.T) {
	t.Parallel()
	_, err := NewFileSink("  ")
	assert.Error(t, err)
}

func TestNewRecord_EmptyReferencesEncodeAsArray(t *testing.T) {
	t.Parallel()

	evt := completed
	evt.ReferencedDocuments = nil
	raw, err := json.Marshal(NewRecord(evt))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"rag_chunks":[]`)
}

// ============================================================================
// NATSSink
// ============================================================================

type stubPublisher struct {
	mu       sync.Mutex
	subjects []string
	bodies   [][]byte
	err      error
}

func (p *stubPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.bodies = append(p.bodies, data)
	return p.err
}

func TestNATSSink_PublishesPerUserSubject(t *testing.T) {
	t.Parallel()

	pub := &stubPublisher{}
	sink := NewNATSSink(pub, "ols.transcripts.")
	require.NoError(t, sink.Write(context.Background(), NewRecord(completed)))

	require.Equal(t, []string{"ols.transcripts.u-1"}, pub.subjects)
	var rec Record
	require.NoError(t, json.Unmarshal(pub.bodies[0], &rec))
	assert.Equal(t, "c-1", rec.Metadata.ConversationID)
}

func TestNATSSink_Subject(t *testing.T) {
	t.Parallel()

	sink := NewNATSSink(&stubPublisher{}, "")
	assert.Equal(t, "lightspeed.transcripts.a_b__", sink.Subject("a.b*>"))
	assert.Equal(t, "lightspeed.transcripts._", sink.Subject(""))
}

func TestNATSSink_PublishError(t *testing.T) {
	t.Parallel()

	sink := NewNATSSink(&stubPublisher{err: errors.New("no responders")}, "x")
	assert.ErrorContains(t, sink.Write(context.Background(), NewRecord(completed)), "no responders")
}

func TestConnectNATS_NoServers(t *testing.T) {
	t.Parallel()
	_, err := ConnectNATS(config.NATSConfig{}, nil)
	assert.Error(t, err)
}

// ============================================================================
// Recorder
// ============================================================================

type failingSink struct{}

func (failingSink) Write(context.Context, Record) error { return errors.New("disk full") }

func TestRecorder_DrainsBusIntoSinks(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	pub := &stubPublisher{}
	rec := NewRecorder(bus, nil, failingSink{}, NewNATSSink(pub, "t"))

	done := make(chan struct{})
	go func() {
		rec.Run(context.Background())
		close(done)
	}()

	bus.Publish(TopicQueryCompleted, "not an event")
	bus.Publish(TopicQueryCompleted, completed)
	bus.Publish(TopicQueryCompleted, completed)
	bus.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop after bus close")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Len(t, pub.subjects, 2, "a failing sink must not stop the others")
}

func TestRecorder_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(eventbus.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop on cancel")
	}
}
