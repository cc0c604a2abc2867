package auth

import (
	"context"
	"time"

	"github.com/ruteri/vault-session-broker/interfaces"
)

// Strategy provides the token authenticating Vault requests.
type Strategy interface {
	// Token returns a token valid for one more request, logging in if needed.
	// Fails with ErrAuthExpired when no credential can produce one.
	Token(ctx context.Context) (string, error)

	// CurrentToken returns the token currently held, nil if none.
	CurrentToken() *interfaces.Token

	// IsValid reports whether the strategy can authenticate a request for
	// at least validFor, either with its token or by logging in again.
	IsValid(validFor time.Duration) bool

	// IsRenewable reports whether the current token can be renewed.
	IsRenewable() bool

	// UpdateToken replaces the current token with the auth block of a
	// renewal or login response.
	UpdateToken(ctx context.Context, auth map[string]any) error

	// Used records one use of the current token.
	Used(ctx context.Context) error
}
