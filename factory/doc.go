// Package factory hands out authenticated Vault clients guaranteed to be
// valid for at least one request.
//
// Acquire reuses the client built for the same cache bank while its token
// stays valid, renews tokens falling below the configured minimum TTL, and
// otherwise purges the bank and rebuilds the client from configuration,
// cached credentials or credentials issued by the controller.
package factory
