package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/sonowtf/sono/services/identity/internal/security"
	"github.com/sonowtf/sono/services/identity/internal/storage"
)

type seedUser struct {
	id        uuid.UUID
	username  string
	email     string
	password  string
	superuser bool
	active    bool
}

func main() {
	env := getEnv("SONO_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: SONO_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "sono"),
		getEnv("POSTGRES_PASSWORD", "sono"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "sono"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := storage.Migrate(ctx, dsn); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	pool, err := storage.Connect(ctx, dsn, 2)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()
	store := storage.New(pool)

	fmt.Println("Seeding database...")

	users := []seedUser{
		{
			id:        uuid.MustParse("00000000-0000-0000-0000-000000000001"),
			username:  "admin",
			email:     getEnv("SEED_ADMIN_EMAIL", "admin@example.com"),
			password:  getEnv("SEED_ADMIN_PASSWORD", "AdminPass123!"),
			superuser: true,
			active:    true,
		},
		{
			id:       uuid.MustParse("00000000-0000-0000-0000-000000000002"),
			username: "demo",
			email:    "demo@example.com",
			password: "DemoPass123!",
			active:   true,
		},
	}
	if os.Getenv("SEED_TESTDATA") == "1" {
		users = append(users, testUsers()...)
	}

	for _, u := range users {
		created, err := seed(ctx, store, u)
		if err != nil {
			log.Fatalf("seed %s: %v", u.username, err)
		}
		if created {
			fmt.Printf("✓ %s created\n", u.username)
		} else {
			fmt.Printf("- %s already present\n", u.username)
		}
	}

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedPendingDeletion(ctx, store); err != nil {
			log.Fatalf("seed pending deletion: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nCredentials:")
	for _, u := range users {
		fmt.Printf("  %s / %s\n", u.email, u.password)
	}
}

func seed(ctx context.Context, store *storage.Store, u seedUser) (bool, error) {
	if err := security.CheckPassword("password", u.password); err != nil {
		return false, err
	}
	hash, err := security.HashPassword(u.password, security.DefaultArgon2Params)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}

	err = store.CreateUser(ctx, &storage.User{
		ID:           u.id,
		Username:     u.username,
		Email:        u.email,
		PasswordHash: hash,
		DisplayName:  u.username,
		IsActive:     u.active,
		IsSuperuser:  u.superuser,
	})
	if errors.Is(err, storage.ErrDuplicateEmail) || errors.Is(err, storage.ErrDuplicateUsername) {
		return false, nil
	}
	return err == nil, err
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
