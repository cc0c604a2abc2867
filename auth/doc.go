// Package auth implements the strategies authenticating a Vault session.
//
// A Strategy hands out a token valid for the next request and records its
// uses. TokenAuth wraps a bearer token. AppRoleAuth logs in with a role id
// and secret id whenever its token is exhausted.
//
// TokenSource and SecretIDSource obtain the credentials a strategy starts
// from: statically configured, response-wrapped, or issued by the
// controller through the trusted peer protocol. Both consult their
// credential cache first and never cache single-use credentials.
package auth
