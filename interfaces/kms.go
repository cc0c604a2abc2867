package interfaces

import "context"

// Signer produces signatures over the caller identity for the trusted peer protocol.
type Signer interface {
	// ID returns the stable caller identifier the signature is produced over.
	ID() string

	// Sign signs msg with the caller's private key material.
	Sign(msg []byte) ([]byte, error)
}

// UnwrappedSecret is the content of a response-wrapped secret.
type UnwrappedSecret struct {
	Auth map[string]any
	Data map[string]any
}

// VaultClient is the subset of the Vault REST client used for session management.
// Paths are relative to /v1. An empty token means the request is sent unauthenticated.
type VaultClient interface {
	// ServerConfig returns the server identity the client is bound to.
	ServerConfig() ServerConfig

	// Login authenticates against auth/<mount>/login and returns the auth block.
	Login(ctx context.Context, mount string, payload map[string]any) (map[string]any, error)

	// LookupToken returns the token lookup data for token.
	LookupToken(ctx context.Context, token string) (map[string]any, error)

	// RenewSelf renews token by increment seconds (0 for the server default) and returns the auth block.
	RenewSelf(ctx context.Context, token string, increment int) (map[string]any, error)

	// Unwrap resolves a wrapping token. When expectedCreationPath is not empty,
	// the wrapping token's creation path must match it.
	Unwrap(ctx context.Context, wrapToken string, expectedCreationPath string) (*UnwrappedSecret, error)

	// Read issues a GET against path.
	Read(ctx context.Context, token string, path string) (map[string]any, error)

	// Write issues a POST/PUT against path.
	Write(ctx context.Context, token string, path string, data map[string]any) (map[string]any, error)

	// WriteWrapped issues a POST against path asking Vault to wrap the
	// response for wrapTTL. The returned body carries wrap_info.
	WriteWrapped(ctx context.Context, token string, path string, data map[string]any, wrapTTL string) (map[string]any, error)
}

// VaultClientBuilder creates an unauthenticated client bound to server.
type VaultClientBuilder func(server ServerConfig) (VaultClient, error)
