package interfaces

import (
	"context"
	"strings"
)

// ValidatePeerID rejects peer ids that cannot be embedded in a bank path.
// An id containing "/" would serialize into another peer's subtree.
func ValidatePeerID(id string) error {
	if id == "" {
		return ConfigErrorf("peer id is empty")
	}
	if strings.Contains(id, "/") || id == "." || id == ".." {
		return ConfigErrorf("peer id %q is not a valid cache bank segment", id)
	}
	return nil
}

// CacheScope selects the lifetime a cache bank is tied to.
type CacheScope int

const (
	// ScopeRoot holds data independent of any connection.
	ScopeRoot CacheScope = iota
	// ScopeConnection holds connection configuration and secret ids.
	ScopeConnection
	// ScopeSession holds tokens. It nests under the connection scope.
	ScopeSession
)

// String returns scope name.
func (s CacheScope) String() string {
	switch s {
	case ScopeRoot:
		return "root"
	case ScopeConnection:
		return "connection"
	case ScopeSession:
		return "session"
	default:
		return "unknown"
	}
}

// CacheBank is a hierarchical cache namespace. PeerID is empty when the
// process uses its own (local) configuration.
type CacheBank struct {
	PeerID string
	Scope  CacheScope
	Suffix string
}

// String returns the serialized bank path, e.g. "peers/web1/vault/connection/session".
// Only backends should depend on this form.
func (b CacheBank) String() string {
	var sb strings.Builder
	if b.PeerID != "" {
		sb.WriteString("peers/")
		sb.WriteString(b.PeerID)
		sb.WriteString("/")
	}
	sb.WriteString("vault")
	switch b.Scope {
	case ScopeConnection:
		sb.WriteString("/connection")
	case ScopeSession:
		sb.WriteString("/connection/session")
	}
	if b.Suffix != "" {
		sb.WriteString("/")
		sb.WriteString(strings.Trim(b.Suffix, "/"))
	}
	return sb.String()
}

// Contains reports whether other is b itself or nested below b.
func (b CacheBank) Contains(other CacheBank) bool {
	return IsSubBank(b.String(), other.String())
}

// WithScope returns a copy of the bank with a different scope.
func (b CacheBank) WithScope(scope CacheScope) CacheBank {
	b.Scope = scope
	return b
}

// WithSuffix returns a copy of the bank with a suffix appended.
func (b CacheBank) WithSuffix(suffix string) CacheBank {
	b.Suffix = suffix
	return b
}

// IsSubBank reports whether the serialized bank candidate equals parent or is nested below it.
func IsSubBank(parent, candidate string) bool {
	return candidate == parent || strings.HasPrefix(candidate, parent+"/")
}

// CacheBackend provides durable storage for cache records.
// Implementations must be safe to share between processes: losing a race only
// triggers a redundant rebuild.
type CacheBackend interface {
	// Fetch returns the record stored under bank/key, or ErrCacheMiss.
	Fetch(ctx context.Context, bank CacheBank, key string) ([]byte, error)

	// Store saves a record under bank/key.
	Store(ctx context.Context, bank CacheBank, key string, data []byte) error

	// Flush removes bank/key, or the whole bank subtree when key is empty.
	Flush(ctx context.Context, bank CacheBank, key string) error

	// Name returns identifier for logging.
	Name() string
}
