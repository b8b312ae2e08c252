package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrDecryption covers every decoding step.
	ErrDecryption         = errors.New("password decryption failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Codec decrypts client-encrypted passwords and checks them against stored hashes.
type Codec struct {
	key       *rsa.PrivateKey
	publicPEM string
	params    Argon2Params
	dummyHash string
}

func NewCodec(key *rsa.PrivateKey, params Argon2Params) (*Codec, error) {
	if key == nil {
		return nil, errors.New("rsa private key required")
	}
	pub, err := encodePublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	dummy, err := HashPassword("sono-timing-equalizer", params)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return &Codec{key: key, publicPEM: string(pub), params: params, dummyHash: dummy}, nil
}

func (c *Codec) PublicKeyPEM() string {
	return c.publicPEM
}

// Decrypt reverses the client's RSA-OAEP(SHA-256) encryption of a base64 payload.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", ErrDecryption
	}
	plain, err := rsa.DecryptOAEP(sha256.New(), nil, c.key, raw, nil)
	if err != nil || !utf8.Valid(plain) {
		return "", ErrDecryption
	}
	return string(plain), nil
}

// Resolve returns the plaintext password for a request field, decrypting it
// when the client flagged it as encrypted.
func (c *Codec) Resolve(value string, encrypted bool) (string, error) {
	if !encrypted {
		return value, nil
	}
	return c.Decrypt(value)
}

func (c *Codec) Verify(plaintext, storedHash string) bool {
	ok, err := VerifyPassword(plaintext, storedHash)
	return err == nil && ok
}

// VerifyNothing burns the same work as Verify for callers that have no user to
// check against, keeping unknown-account responses as slow as wrong-password ones.
func (c *Codec) VerifyNothing(plaintext string) {
	_, _ = VerifyPassword(plaintext, c.dummyHash)
}

func (c *Codec) Hash(plaintext string) (string, error) {
	return HashPassword(plaintext, c.params)
}

// Encrypt is the client half of the scheme. Tooling and tests use it to
// produce payloads the service accepts.
func Encrypt(pub *rsa.PublicKey, plaintext string) (string, error) {
	raw, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte(plaintext), nil)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
