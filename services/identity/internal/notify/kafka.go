package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sonowtf/sono/libs/httpmiddleware"
	"github.com/sonowtf/sono/libs/kafka"
	"github.com/sonowtf/sono/services/identity/internal/telemetry"
)

type passwordResetEvent struct {
	kafka.Envelope
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	ResetLink   string    `json:"reset_link"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type passwordChangedEvent struct {
	kafka.Envelope
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	IPAddress string    `json:"ip_address,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

type deletionScheduledEvent struct {
	kafka.Envelope
	UserID           string    `json:"user_id"`
	Email            string    `json:"email"`
	DeletionType     string    `json:"deletion_type"`
	ScheduledPurgeAt time.Time `json:"scheduled_purge_at"`
}

type accountPurgedEvent struct {
	kafka.Envelope
	UserID            string    `json:"user_id"`
	DeletionType      string    `json:"deletion_type"`
	ProfilePictureKey string    `json:"profile_picture_key,omitempty"`
	PurgedAt          time.Time `json:"purged_at"`
}

// KafkaNotifier publishes notifications and lifecycle events as JSON records
// keyed by user id.
type KafkaNotifier struct {
	Publisher          kafka.Publisher
	NotificationsTopic string
	LifecycleTopic     string
	Logger             *slog.Logger
	Metrics            *telemetry.Metrics
	Now                func() time.Time
}

func NewKafkaNotifier(publisher kafka.Publisher, notificationsTopic, lifecycleTopic string, logger *slog.Logger, metrics *telemetry.Metrics) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{
		Publisher:          publisher,
		NotificationsTopic: notificationsTopic,
		LifecycleTopic:     lifecycleTopic,
		Logger:             logger,
		Metrics:            metrics,
		Now:                time.Now,
	}
}

func (n *KafkaNotifier) envelope(ctx context.Context, eventType string) (kafka.Envelope, error) {
	return kafka.NewEnvelope(eventType, 1, httpmiddleware.RequestIDFrom(ctx), n.Now())
}

func (n *KafkaNotifier) publish(ctx context.Context, kind, topic, key string, event any) error {
	partition, offset, err := n.Publisher.PublishJSON(ctx, topic, key, event)
	n.Metrics.Notification(kind, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	n.Logger.Debug("event published", "kind", kind, "topic", topic, "partition", partition, "offset", offset)
	return nil
}

func (n *KafkaNotifier) PasswordReset(ctx context.Context, msg PasswordReset) error {
	env, err := n.envelope(ctx, EventPasswordResetRequested)
	if err != nil {
		return err
	}
	return n.publish(ctx, "password_reset", n.NotificationsTopic, msg.UserID.String(), passwordResetEvent{
		Envelope:    env,
		UserID:      msg.UserID.String(),
		Email:       msg.Email,
		DisplayName: msg.DisplayName,
		ResetLink:   msg.Link,
		ExpiresAt:   msg.ExpiresAt.UTC(),
	})
}

func (n *KafkaNotifier) PasswordChanged(ctx context.Context, msg PasswordChanged) error {
	env, err := n.envelope(ctx, EventPasswordChanged)
	if err != nil {
		return err
	}
	return n.publish(ctx, "password_changed", n.NotificationsTopic, msg.UserID.String(), passwordChangedEvent{
		Envelope:  env,
		UserID:    msg.UserID.String(),
		Email:     msg.Email,
		IPAddress: msg.IP,
		ChangedAt: msg.ChangedAt.UTC(),
	})
}

func (n *KafkaNotifier) DeletionScheduled(ctx context.Context, msg DeletionScheduled) error {
	env, err := n.envelope(ctx, EventAccountDeletion)
	if err != nil {
		return err
	}
	return n.publish(ctx, "deletion_scheduled", n.NotificationsTopic, msg.UserID.String(), deletionScheduledEvent{
		Envelope:         env,
		UserID:           msg.UserID.String(),
		Email:            msg.Email,
		DeletionType:     string(msg.Type),
		ScheduledPurgeAt: msg.ScheduledPurgeAt.UTC(),
	})
}

func (n *KafkaNotifier) AccountPurged(ctx context.Context, msg AccountPurged) error {
	env, err := n.envelope(ctx, EventAccountPurged)
	if err != nil {
		return err
	}
	return n.publish(ctx, "account_purged", n.LifecycleTopic, msg.UserID.String(), accountPurgedEvent{
		Envelope:          env,
		UserID:            msg.UserID.String(),
		DeletionType:      string(msg.Type),
		ProfilePictureKey: msg.ProfilePictureKey,
		PurgedAt:          msg.PurgedAt.UTC(),
	})
}
