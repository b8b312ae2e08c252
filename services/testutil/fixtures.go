package testutil

import (
	"time"

	"github.com/google/uuid"
)

const StrongPassword = "SecurePass123!"

// Epoch is a fixed instant for fake clocks.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// UniqueName returns a username that will not collide across test runs.
func UniqueName(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}

func UniqueEmail(prefix string) string {
	return UniqueName(prefix) + "@example.com"
}
