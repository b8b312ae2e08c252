package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sonowtf/sono/services/identity/internal/storage"
)

type publishCall struct {
	topic string
	key   string
	value []byte
}

type stubPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (s *stubPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, 0, s.err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return 0, 0, err
	}
	s.calls = append(s.calls, publishCall{topic: topic, key: key, value: raw})
	return 0, int64(len(s.calls)), nil
}

func (s *stubPublisher) Close() error { return nil }

func newNotifier(pub *stubPublisher) *KafkaNotifier {
	n := NewKafkaNotifier(pub, "identity.notifications", "identity.account-lifecycle", slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), nil)
	n.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return n
}

func TestKafkaNotifierPasswordReset(t *testing.T) {
	pub := &stubPublisher{}
	n := newNotifier(pub)
	userID := uuid.New()

	err := n.PasswordReset(context.Background(), PasswordReset{
		UserID:    userID,
		Email:     "listener@example.com",
		Link:      "http://localhost:3000/reset-password?token=abc",
		ExpiresAt: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(pub.calls) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.calls))
	}
	call := pub.calls[0]
	if call.topic != "identity.notifications" || call.key != userID.String() {
		t.Fatalf("unexpected routing %s/%s", call.topic, call.key)
	}

	var body map[string]any
	if err := json.Unmarshal(call.value, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["event_type"] != EventPasswordResetRequested {
		t.Fatalf("unexpected event type %v", body["event_type"])
	}
	if body["reset_link"] != "http://localhost:3000/reset-password?token=abc" {
		t.Fatalf("unexpected link %v", body["reset_link"])
	}
	if body["event_id"] == "" {
		t.Fatalf("expected event id")
	}
}

func TestKafkaNotifierPurgeGoesToLifecycleTopic(t *testing.T) {
	pub := &stubPublisher{}
	n := newNotifier(pub)

	if err := n.AccountPurged(context.Background(), AccountPurged{UserID: uuid.New(), Type: storage.DeletionHard}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pub.calls[0].topic != "identity.account-lifecycle" {
		t.Fatalf("expected lifecycle topic, got %s", pub.calls[0].topic)
	}
	if !strings.Contains(string(pub.calls[0].value), `"deletion_type":"hard"`) {
		t.Fatalf("expected deletion type in payload: %s", pub.calls[0].value)
	}
}

func TestKafkaNotifierWrapsPublishError(t *testing.T) {
	boom := errors.New("broker down")
	n := newNotifier(&stubPublisher{err: boom})

	err := n.PasswordChanged(context.Background(), PasswordChanged{UserID: uuid.New()})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestLogNotifierHidesLinksByDefault(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)), false)

	_ = n.PasswordReset(context.Background(), PasswordReset{UserID: uuid.New(), Link: "http://x/reset-password?token=secret"})
	if strings.Contains(buf.String(), "secret") {
		t.Fatalf("reset link leaked into logs: %s", buf.String())
	}

	buf.Reset()
	n.IncludeLinks = true
	_ = n.PasswordReset(context.Background(), PasswordReset{UserID: uuid.New(), Link: "http://x/reset-password?token=secret"})
	if !strings.Contains(buf.String(), "secret") {
		t.Fatalf("expected link in dev logs: %s", buf.String())
	}
}
