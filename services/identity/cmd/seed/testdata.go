package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sonowtf/sono/services/identity/internal/storage"
)

var leavingUserID = uuid.MustParse("00000000-0000-0000-0000-000000000004")

func testUsers() []seedUser {
	return []seedUser{
		{
			id:       uuid.MustParse("00000000-0000-0000-0000-000000000003"),
			username: "disabled",
			email:    "disabled@example.com",
			password: "Disabled123!",
		},
		{
			id:       leavingUserID,
			username: "leaving",
			email:    "leaving@example.com",
			password: "Leaving123!",
			active:   true,
		},
	}
}

// seedPendingDeletion gives the leaving user a soft deletion that is already due,
// so the next sweep purges it.
func seedPendingDeletion(ctx context.Context, store *storage.Store) error {
	now := time.Now().UTC()
	err := store.CreateDeletionRequest(ctx, storage.DeletionRequest{
		ID:               uuid.New(),
		UserID:           leavingUserID,
		Type:             storage.DeletionSoft,
		RequestedAt:      now.Add(-31 * 24 * time.Hour),
		ScheduledPurgeAt: now.Add(-time.Hour),
	})
	if errors.Is(err, storage.ErrDeletionPending) {
		return nil
	}
	return err
}
