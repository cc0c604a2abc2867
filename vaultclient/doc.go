// Package vaultclient adapts the official Vault API client to the
// interfaces.VaultClient collaborator and builds the authenticated client
// handed out by the factory.
//
// Client is unauthenticated: every call carries the token it is given, so
// one Client can serve login, unwrapping and lookups for different tokens.
// AuthenticatedClient binds a Client to an auth.Strategy, which supplies a
// valid token per request and tracks token uses.
package vaultclient
