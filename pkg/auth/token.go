package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/ga4access/pkg/users"
)

const (
	// TokenPrefix identifies ga4access tokens
	TokenPrefix = "ga4a_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

var (
	// ErrInvalidToken is returned for malformed, unknown, expired or revoked tokens
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInactiveUser is returned when the token's owner may not act
	ErrInactiveUser = errors.New("user account is not active")
)

// TokenGenerator generates and validates API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token
// Format: ga4a_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken
	return fullToken, tg.HashToken(fullToken), tg.ExtractPrefix(fullToken), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encoded := strings.TrimPrefix(token, TokenPrefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	if len(raw) != TokenLength {
		return fmt.Errorf("token has %d random bytes, want %d", len(raw), TokenLength)
	}
	return nil
}

// ExtractPrefix extracts the prefix from a token for display
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}
	encoded := strings.TrimPrefix(token, TokenPrefix)
	if len(encoded) >= 8 {
		return TokenPrefix + encoded[:8]
	}
	return token
}

// TokenManager issues tokens and resolves them to users
type TokenManager struct {
	generator *TokenGenerator
	store     users.Store
	clock     clockwork.Clock
}

// NewTokenManager creates a token manager backed by store. A nil clock
// uses the real clock.
func NewTokenManager(store users.Store, clock clockwork.Clock) *TokenManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenManager{
		generator: NewTokenGenerator(),
		store:     store,
		clock:     clock,
	}
}

// CreateToken issues a token for userID. A zero ttl never expires. The
// plaintext is returned once and never stored.
func (tm *TokenManager) CreateToken(ctx context.Context, userID int64, ttl time.Duration) (string, *users.Token, error) {
	if ttl < 0 {
		return "", nil, errors.New("token ttl must not be negative")
	}
	plaintext, hash, prefix, err := tm.generator.GenerateToken()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	token := &users.Token{UserID: userID, Hash: hash, Prefix: prefix}
	if ttl > 0 {
		expires := tm.clock.Now().Add(ttl)
		token.ExpiresAt = &expires
	}
	if err := tm.store.SaveToken(ctx, token); err != nil {
		return "", nil, err
	}
	return plaintext, token, nil
}

// Authenticate resolves a plaintext token to its active owner
func (tm *TokenManager) Authenticate(ctx context.Context, plaintext string) (*AuthContext, error) {
	if err := tm.generator.ValidateTokenFormat(plaintext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	u, err := tm.store.GetByTokenHash(ctx, tm.generator.HashToken(plaintext))
	if errors.Is(err, users.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("token lookup failed: %w", err)
	}
	if !u.IsActive() {
		return nil, ErrInactiveUser
	}
	return &AuthContext{User: u, TokenPrefix: tm.generator.ExtractPrefix(plaintext)}, nil
}
