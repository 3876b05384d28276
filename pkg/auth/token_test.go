package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/users"
)

func TestTokenGenerator_GenerateToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, tokenHash, tokenPrefix, err := tg.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	// Check token format
	if !strings.HasPrefix(token, TokenPrefix) {
		t.Errorf("Token should start with %q, got %q", TokenPrefix, token)
	}

	// Check hash length (SHA256 = 64 hex chars)
	if len(tokenHash) != 64 {
		t.Errorf("TokenHash length = %d, want 64", len(tokenHash))
	}

	// Check prefix format
	if !strings.HasPrefix(tokenPrefix, TokenPrefix) {
		t.Errorf("TokenPrefix should start with %q, got %q", TokenPrefix, tokenPrefix)
	}

	// Token should be long enough
	if len(token) < len(TokenPrefix)+8 {
		t.Errorf("Token too short: %d chars", len(token))
	}
}

func TestTokenGenerator_GenerateToken_Uniqueness(t *testing.T) {
	tg := NewTokenGenerator()

	// Generate multiple tokens and ensure they're unique
	tokens := make(map[string]bool)
	hashes := make(map[string]bool)

	for i := 0; i < 100; i++ {
		token, tokenHash, _, err := tg.GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}

		if tokens[token] {
			t.Errorf("Duplicate token generated: %s", token)
		}
		if hashes[tokenHash] {
			t.Errorf("Duplicate token hash generated: %s", tokenHash)
		}

		tokens[token] = true
		hashes[tokenHash] = true
	}
}

func TestTokenGenerator_HashToken(t *testing.T) {
	tg := NewTokenGenerator()

	token := "ga4a_test123456789"
	hash1 := tg.HashToken(token)
	hash2 := tg.HashToken(token)

	// Same token should produce same hash
	if hash1 != hash2 {
		t.Error("Same token should produce same hash")
	}

	// Hash should be 64 chars (SHA256)
	if len(hash1) != 64 {
		t.Errorf("Hash length = %d, want 64", len(hash1))
	}

	// Different tokens should produce different hashes
	hash3 := tg.HashToken("ga4a_different")
	if hash1 == hash3 {
		t.Error("Different tokens should produce different hashes")
	}
}

func TestTokenGenerator_ValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()

	valid, _, _, err := tg.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{
			name:    "generated token",
			token:   valid,
			wantErr: false,
		},
		{
			name:    "missing prefix",
			token:   strings.TrimPrefix(valid, TokenPrefix),
			wantErr: true,
		},
		{
			name:    "wrong prefix",
			token:   "legacy_" + strings.TrimPrefix(valid, TokenPrefix),
			wantErr: true,
		},
		{
			name:    "empty token part",
			token:   "ga4a_",
			wantErr: true,
		},
		{
			name:    "invalid base64",
			token:   "ga4a_!!!invalid!!!",
			wantErr: true,
		},
		{
			name:    "too short",
			token:   "ga4a_abc123def456",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tg.ValidateTokenFormat(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTokenFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenGenerator_ExtractPrefix(t *testing.T) {
	tg := NewTokenGenerator()

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{
			name:  "normal token",
			token: "ga4a_abc123def456",
			want:  "ga4a_abc123de",
		},
		{
			name:  "short token",
			token: "ga4a_abc",
			want:  "ga4a_abc",
		},
		{
			name:  "no prefix",
			token: "invalid",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tg.ExtractPrefix(tt.token)
			if got != tt.want {
				t.Errorf("ExtractPrefix() = %q, want %q", got, tt.want)
			}
		})
	}
}

func newTestUser(t *testing.T, store *users.MemoryStore, email string, role roles.SystemRole) *users.User {
	t.Helper()
	u := &users.User{Email: email, Name: email, SystemRole: role, ClientID: 1, Status: users.StatusActive}
	if err := store.Create(context.Background(), u); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return u
}

func TestTokenManager_CreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	store := users.NewMemoryStore()
	u := newTestUser(t, store, "admin@agency.com", roles.SystemAdmin)
	tm := NewTokenManager(store, nil)

	plaintext, token, err := tm.CreateToken(ctx, u.ID, time.Hour)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if token.Hash == plaintext || token.Hash != NewTokenGenerator().HashToken(plaintext) {
		t.Errorf("stored hash does not match plaintext")
	}
	if token.ExpiresAt == nil {
		t.Errorf("ExpiresAt should be set for a positive ttl")
	}

	ac, err := tm.Authenticate(ctx, plaintext)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if ac.UserID() != u.ID {
		t.Errorf("UserID() = %d, want %d", ac.UserID(), u.ID)
	}
	if ac.TokenPrefix != token.Prefix {
		t.Errorf("TokenPrefix = %q, want %q", ac.TokenPrefix, token.Prefix)
	}
}

func TestTokenManager_CreateToken_NoExpiry(t *testing.T) {
	store := users.NewMemoryStore()
	u := newTestUser(t, store, "a@agency.com", roles.SystemRequester)
	tm := NewTokenManager(store, nil)

	_, token, err := tm.CreateToken(context.Background(), u.ID, 0)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if token.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", token.ExpiresAt)
	}

	if _, _, err := tm.CreateToken(context.Background(), u.ID, -time.Second); err == nil {
		t.Error("negative ttl should fail")
	}
}

func TestTokenManager_CreateToken_UnknownUser(t *testing.T) {
	tm := NewTokenManager(users.NewMemoryStore(), nil)
	if _, _, err := tm.CreateToken(context.Background(), 42, time.Hour); !errors.Is(err, users.ErrNotFound) {
		t.Errorf("CreateToken() error = %v, want ErrNotFound", err)
	}
}

func TestTokenManager_Authenticate_Rejects(t *testing.T) {
	ctx := context.Background()
	store := users.NewMemoryStore()
	u := newTestUser(t, store, "r@agency.com", roles.SystemRequester)

	past := clockwork.NewFakeClockAt(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	expired, _, err := NewTokenManager(store, past).CreateToken(ctx, u.ID, time.Hour)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	unknown, _, _, err := NewTokenGenerator().GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tm := NewTokenManager(store, nil)
	tests := []struct {
		name  string
		token string
	}{
		{name: "malformed", token: "Bearer nonsense"},
		{name: "unknown", token: unknown},
		{name: "expired", token: expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tm.Authenticate(ctx, tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Authenticate() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenManager_Authenticate_InactiveUser(t *testing.T) {
	ctx := context.Background()
	store := users.NewMemoryStore()
	u := newTestUser(t, store, "gone@agency.com", roles.SystemAdmin)
	tm := NewTokenManager(store, nil)

	plaintext, _, err := tm.CreateToken(ctx, u.ID, 0)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if err := store.SetStatus(ctx, u.ID, users.StatusSuspended); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	if _, err := tm.Authenticate(ctx, plaintext); !errors.Is(err, ErrInactiveUser) {
		t.Errorf("Authenticate() error = %v, want ErrInactiveUser", err)
	}
}
