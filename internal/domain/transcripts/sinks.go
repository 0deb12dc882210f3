package transcripts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"

	"github.com/matiasleandrokruk/lightspeed/internal/infra/config"
)

// FileSink writes <root>/<user_id>/<conversation_id>/<ulid>.json.
type FileSink struct {
	root string
}

func NewFileSink(root string) (*FileSink, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("transcripts: storage path is required")
	}
	return &FileSink{root: root}, nil
}

// Write implements Sink.
func (f *FileSink) Write(_ context.Context, r Record) error {
	dir := filepath.Join(f.root, safeSegment(r.Metadata.UserID), safeSegment(r.Metadata.ConversationID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("transcripts: mkdir: %w", err)
	}
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("transcripts: encode: %w", err)
	}
	ts := r.Metadata.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	name := ulid.MustNew(ulid.Timestamp(ts), ulid.DefaultEntropy()).String() + ".json"
	if err := os.WriteFile(filepath.Join(dir, name), body, 0o640); err != nil {
		return fmt.Errorf("transcripts: write: %w", err)
	}
	return nil
}

// safeSegment keeps ids from escaping the storage root.
func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each record on <prefix>.<user_id>.
type NATSSink struct {
	pub    Publisher
	prefix string
}

const defaultSubjectPrefix = "lightspeed.transcripts"

func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// Write implements Sink.
func (n *NATSSink) Write(_ context.Context, r Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("transcripts: encode: %w", err)
	}
	if err := n.pub.Publish(n.Subject(r.Metadata.UserID), body); err != nil {
		return fmt.Errorf("transcripts: publish: %w", err)
	}
	return nil
}

// Subject returns the subject for userID. Tokens that NATS treats as
// separators or wildcards are replaced.
func (n *NATSSink) Subject(userID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, userID)
	if token == "" {
		token = "_"
	}
	return n.prefix + "." + token
}

// ConnectNATS dials the configured servers.
func ConnectNATS(cfg config.NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("transcripts: no NATS servers configured")
	}
	timeout := time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = nats.DefaultTimeout
	}
	options := []nats.Option{
		nats.Name("lightspeed"),
		nats.Timeout(timeout),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("transcripts: connect to nats: %w", err)
	}
	if logger != nil {
		logger.Info("connected to NATS", slog.String("servers", url))
	}
	return conn, nil
}
