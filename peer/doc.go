// Package peer implements the trusted peer protocol: a restricted peer asks
// the controller to issue Vault credentials on its behalf.
//
// Every request carries an Envelope identifying the caller with a signature
// over its identifier. Responses are validated, compared against the server
// the caller expects, and any response-wrapped secrets are unwrapped before
// they are returned. The controller requests cache invalidation by setting
// expire_cache, which surfaces as interfaces.ErrConfigExpired.
package peer
