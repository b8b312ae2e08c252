// Package tokens issues and validates access/refresh token pairs. Refresh
// tokens are single use: each refresh rotates the presented token, and
// presenting a rotated token again revokes its whole family.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sonowtf/sono/libs/auth"
	"github.com/sonowtf/sono/services/identity/internal/revocation"
	"github.com/sonowtf/sono/services/identity/internal/security"
	"github.com/sonowtf/sono/services/identity/internal/storage"
	"github.com/sonowtf/sono/services/identity/internal/telemetry"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrRevokedToken = errors.New("token revoked")
	ErrInactiveUser = errors.New("user inactive")
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Store interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
	CreateRefreshToken(ctx context.Context, t storage.RefreshToken) error
	GetRefreshToken(ctx context.Context, id uuid.UUID) (*storage.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldID uuid.UUID, next storage.RefreshToken) error
	RevokeFamily(ctx context.Context, familyID uuid.UUID, now time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)
}

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

func (c Config) validate() error {
	if len(c.AccessSecret) == 0 || len(c.RefreshSecret) == 0 {
		return errors.New("token secrets are required")
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return errors.New("access and refresh secrets must differ")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token ttls must be positive")
	}
	return nil
}

// ClientMeta is recorded on every refresh token row.
type ClientMeta struct {
	IP        string
	UserAgent string
}

type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type Principal struct {
	UserID   uuid.UUID
	FamilyID uuid.UUID
	Roles    []string
}

type Service struct {
	Store    Store
	Registry revocation.Registry
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	Clock    Clock
	cfg      Config
}

func NewService(store Store, registry revocation.Registry, cfg Config, logger *slog.Logger, metrics *telemetry.Metrics) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Service{
		Store:    store,
		Registry: registry,
		Logger:   logger,
		Metrics:  metrics,
		Clock:    systemClock{},
		cfg:      cfg,
	}, nil
}

func (s *Service) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// Issue starts a new session family for the user.
func (s *Service) Issue(ctx context.Context, userID uuid.UUID, meta ClientMeta) (Pair, error) {
	user, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		return Pair{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return Pair{}, ErrInactiveUser
	}

	now := s.Clock.Now()
	pair, row, err := s.mint(user, uuid.New(), meta, now)
	if err != nil {
		return Pair{}, err
	}
	if err := s.Store.CreateRefreshToken(ctx, row); err != nil {
		return Pair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

// ValidateAccess checks an access token's signature, expiry, family revocation
// and token version.
func (s *Service) ValidateAccess(ctx context.Context, token string) (Principal, error) {
	now := s.Clock.Now()
	claims, err := security.ParseToken(token, s.cfg.AccessSecret, security.AccessToken, now)
	if err != nil {
		return Principal{}, mapParseError(err)
	}
	userID, familyID, err := claimIDs(claims)
	if err != nil {
		return Principal{}, err
	}

	revoked, err := s.Registry.IsRevoked(ctx, familyID.String())
	if err != nil {
		return Principal{}, fmt.Errorf("revocation lookup: %w", err)
	}
	if revoked {
		return Principal{}, ErrRevokedToken
	}

	user, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Principal{}, ErrRevokedToken
		}
		return Principal{}, fmt.Errorf("load user: %w", err)
	}
	if user.TokenVersion != claims.Version {
		return Principal{}, ErrRevokedToken
	}
	if !user.IsActive {
		return Principal{}, ErrInactiveUser
	}

	return Principal{UserID: userID, FamilyID: familyID, Roles: claims.Roles}, nil
}

// Authenticate adapts ValidateAccess to the shared HTTP middleware.
func (s *Service) Authenticate(ctx context.Context, token string) (auth.Principal, error) {
	p, err := s.ValidateAccess(ctx, token)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{UserID: p.UserID.String(), Roles: p.Roles}, nil
}

// Refresh exchanges a refresh token for a new pair in the same family.
func (s *Service) Refresh(ctx context.Context, token string, meta ClientMeta) (Pair, error) {
	now := s.Clock.Now()
	claims, err := security.ParseToken(token, s.cfg.RefreshSecret, security.RefreshToken, now)
	if err != nil {
		return Pair{}, mapParseError(err)
	}
	userID, familyID, err := claimIDs(claims)
	if err != nil {
		return Pair{}, err
	}
	tokenID, err := uuid.Parse(claims.ID)
	if err != nil {
		return Pair{}, ErrInvalidToken
	}

	revoked, err := s.Registry.IsRevoked(ctx, familyID.String())
	if err != nil {
		return Pair{}, fmt.Errorf("revocation lookup: %w", err)
	}
	if revoked {
		return Pair{}, ErrRevokedToken
	}

	row, err := s.Store.GetRefreshToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Pair{}, ErrInvalidToken
		}
		return Pair{}, fmt.Errorf("load refresh token: %w", err)
	}
	if row.UserID != userID || row.FamilyID != familyID {
		return Pair{}, ErrInvalidToken
	}

	if row.RevokedAt != nil {
		if row.ReplacedBy != nil {
			s.Metrics.Reuse()
			s.Logger.Warn("refresh token reuse detected",
				"user_id", userID.String(), "family_id", familyID.String(), "ip", meta.IP)
			if err := s.revokeFamily(ctx, familyID, now); err != nil {
				return Pair{}, err
			}
		}
		return Pair{}, ErrRevokedToken
	}
	if !now.Before(row.ExpiresAt) {
		return Pair{}, ErrExpiredToken
	}

	user, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Pair{}, ErrRevokedToken
		}
		return Pair{}, fmt.Errorf("load user: %w", err)
	}
	if user.TokenVersion != claims.Version {
		return Pair{}, ErrRevokedToken
	}
	if !user.IsActive {
		return Pair{}, ErrInactiveUser
	}

	pair, next, err := s.mint(user, familyID, meta, now)
	if err != nil {
		return Pair{}, err
	}
	if err := s.Store.RotateRefreshToken(ctx, tokenID, next); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return Pair{}, ErrRevokedToken
		}
		return Pair{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	return pair, nil
}

// Revoke ends the session family a refresh token belongs to and returns its owner.
func (s *Service) Revoke(ctx context.Context, token string) (uuid.UUID, error) {
	now := s.Clock.Now()
	claims, err := security.ParseToken(token, s.cfg.RefreshSecret, security.RefreshToken, now)
	if err != nil {
		return uuid.Nil, mapParseError(err)
	}
	userID, familyID, err := claimIDs(claims)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.revokeFamily(ctx, familyID, now); err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

// RevokeAll invalidates every outstanding token of the user by bumping their
// token version and revoking all stored refresh tokens.
func (s *Service) RevokeAll(ctx context.Context, userID uuid.UUID, reason string) error {
	version, err := s.Store.RevokeAllForUser(ctx, userID, s.Clock.Now())
	if err != nil {
		return fmt.Errorf("revoke all sessions: %w", err)
	}
	s.Logger.Info("sessions revoked", "user_id", userID.String(), "reason", reason, "token_version", version)
	return nil
}

func (s *Service) revokeFamily(ctx context.Context, familyID uuid.UUID, now time.Time) error {
	if _, err := s.Store.RevokeFamily(ctx, familyID, now); err != nil {
		return fmt.Errorf("revoke family: %w", err)
	}
	if err := s.Registry.Revoke(ctx, familyID.String(), s.cfg.RefreshTTL); err != nil {
		return fmt.Errorf("record revoked family: %w", err)
	}
	return nil
}

func (s *Service) mint(user *storage.User, familyID uuid.UUID, meta ClientMeta, now time.Time) (Pair, storage.RefreshToken, error) {
	subject := user.ID.String()
	roles := user.Roles()

	access, err := security.SignToken(security.Claims{
		Type:             security.AccessToken,
		FamilyID:         familyID.String(),
		Version:          user.TokenVersion,
		Roles:            roles,
		RegisteredClaims: registered(subject, uuid.NewString(), s.cfg.Issuer, now, s.cfg.AccessTTL),
	}, s.cfg.AccessSecret)
	if err != nil {
		return Pair{}, storage.RefreshToken{}, fmt.Errorf("sign access token: %w", err)
	}

	row := storage.RefreshToken{
		ID:        uuid.New(),
		FamilyID:  familyID,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		CreatedAt: now,
		CreatedIP: meta.IP,
		UserAgent: meta.UserAgent,
	}
	refresh, err := security.SignToken(security.Claims{
		Type:             security.RefreshToken,
		FamilyID:         familyID.String(),
		Version:          user.TokenVersion,
		RegisteredClaims: registered(subject, row.ID.String(), s.cfg.Issuer, now, s.cfg.RefreshTTL),
	}, s.cfg.RefreshSecret)
	if err != nil {
		return Pair{}, storage.RefreshToken{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
	}, row, nil
}

func mapParseError(err error) error {
	if errors.Is(err, security.ErrTokenExpired) {
		return ErrExpiredToken
	}
	return ErrInvalidToken
}

func claimIDs(claims *security.Claims) (uuid.UUID, uuid.UUID, error) {
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrInvalidToken
	}
	familyID, err := uuid.Parse(claims.FamilyID)
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrInvalidToken
	}
	return userID, familyID, nil
}

func registered(subject, id, issuer string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		ID:        id,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}
