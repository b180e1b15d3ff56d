// Package identity resolves the stable per-account identity handle used to
// scope storage keys. Credential issuance itself happens outside the client;
// this package only reads and interprets the cached credential token.
package identity

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/papersync/papersync/internal/common"
)

// Provider yields the account identity and the signed-in state.
type Provider interface {
	IsAuthenticated() bool

	// CurrentIdentity returns the opaque "region:uuid" identity handle,
	// stable across reinstalls for the same account.
	CurrentIdentity() (string, error)

	// Refresh re-reads the cached credentials.
	Refresh(ctx context.Context) error
}

// IdentityClaim is the token claim carrying the identity handle.
const IdentityClaim = "identity"

type tokenClaims struct {
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}

// TokenFileProvider reads a JWT credential token cached on disk by the sign-in
// flow. The token is parsed without signature verification: the client trusts
// its own credential cache, while the remote store verifies server-side.
type TokenFileProvider struct {
	path string
	now  func() time.Time

	mu     sync.RWMutex
	claims *tokenClaims
}

// NewTokenFileProvider loads the token at path if present. A missing file is
// not an error; the provider just reports unauthenticated.
func NewTokenFileProvider(path string) (*TokenFileProvider, error) {
	p := &TokenFileProvider{path: path, now: time.Now}
	if err := p.Refresh(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *TokenFileProvider) Refresh(ctx context.Context) error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.mu.Lock()
			p.claims = nil
			p.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read credential token: %w", err)
	}

	claims := &tokenClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(string(data), claims); err != nil {
		return fmt.Errorf("failed to parse credential token: %w", err)
	}

	p.mu.Lock()
	p.claims = claims
	p.mu.Unlock()
	return nil
}

func (p *TokenFileProvider) IsAuthenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.claims == nil || p.claims.Identity == "" {
		return false
	}
	if p.claims.ExpiresAt != nil && !p.claims.ExpiresAt.After(p.now()) {
		return false
	}
	return true
}

func (p *TokenFileProvider) CurrentIdentity() (string, error) {
	if !p.IsAuthenticated() {
		return "", common.ErrNotAuthenticated
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.claims.Identity, nil
}

// SaveToken writes a raw credential token to path for later loads.
func SaveToken(path, token string) error {
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("failed to save credential token: %w", err)
	}
	return nil
}

// Static is a fixed-identity Provider for tests and offline tooling.
type Static struct {
	Identity string
	Authed   bool
}

func (s *Static) IsAuthenticated() bool { return s.Authed }

func (s *Static) CurrentIdentity() (string, error) {
	if !s.Authed {
		return "", common.ErrNotAuthenticated
	}
	return s.Identity, nil
}

func (s *Static) Refresh(ctx context.Context) error { return nil }
