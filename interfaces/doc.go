// Package interfaces defines the core types, sentinel errors and collaborator
// interfaces shared by the session broker packages, separating contracts from
// their implementations.
//
// # Credential Types
//
//   - Lease: identifier, time-to-live, remaining uses, renewable flag and
//     creation time common to every Vault credential
//   - Token: a Vault bearer token
//   - SecretID: an AppRole secret identifier
//   - WrapInfo: pointer to a response-wrapped (single-use) secret
//
// # Cache Types
//
//   - CacheBank: structured cache namespace {peer, scope, suffix}; the string
//     form is only derived at the backend boundary
//   - CacheBackend: durable cache storage (disk, Redis, S3)
//
// # Collaborators
//
//   - VaultClient: the subset of the Vault REST client used to manage sessions
//   - Signer: produces signatures over the caller identity for the trusted
//     peer protocol
//
// # Error Types
//
//   - ErrInvalidConfig: bad static configuration, fatal to the current call
//   - ErrConfigExpired: cached configuration must be purged, retried once
//   - ErrAuthExpired: credentials are exhausted, retried once
//   - ErrPermissionDenied: the backend or controller refused the request
//   - ErrExecution: unexpected transport or backend response shape
//
// Components should depend on these interfaces rather than concrete
// implementations:
//
//	func NewFactory(deps factory.Deps, log *slog.Logger) *factory.Factory
package interfaces
