package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes notifications to the log instead of a broker. Reset links
// are only logged when IncludeLinks is set, which local environments use in
// place of an inbox.
type LogNotifier struct {
	Logger       *slog.Logger
	IncludeLinks bool
}

func NewLogNotifier(logger *slog.Logger, includeLinks bool) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger, IncludeLinks: includeLinks}
}

func (n *LogNotifier) PasswordReset(ctx context.Context, msg PasswordReset) error {
	attrs := []any{"user_id", msg.UserID.String(), "expires_at", msg.ExpiresAt}
	if n.IncludeLinks {
		attrs = append(attrs, "link", msg.Link)
	}
	n.Logger.InfoContext(ctx, "password reset requested", attrs...)
	return nil
}

func (n *LogNotifier) PasswordChanged(ctx context.Context, msg PasswordChanged) error {
	n.Logger.InfoContext(ctx, "password changed", "user_id", msg.UserID.String(), "ip", msg.IP)
	return nil
}

func (n *LogNotifier) DeletionScheduled(ctx context.Context, msg DeletionScheduled) error {
	n.Logger.InfoContext(ctx, "account deletion scheduled",
		"user_id", msg.UserID.String(), "type", string(msg.Type), "purge_at", msg.ScheduledPurgeAt)
	return nil
}

func (n *LogNotifier) AccountPurged(ctx context.Context, msg AccountPurged) error {
	n.Logger.InfoContext(ctx, "account purged", "user_id", msg.UserID.String(), "type", string(msg.Type))
	return nil
}
