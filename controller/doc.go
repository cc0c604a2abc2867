// Package controller implements the trusted controller side of the peer
// protocol.
//
// Peers sign their identifier with a secp256k1 key and POST requests to
// /api/vault/{operation}. The controller verifies the signature against its
// peer registry, issues tokens or AppRole credentials for the peer through
// its own Vault session and answers with the configuration peers need to
// authenticate.
//
// Supported operations:
//   - get_config: connection and auth configuration, including a token when
//     tokens are issued
//   - generate_new_token: a token for the peer
//   - generate_secret_id: a secret id for the peer's AppRole
//   - generate_token: the legacy combined operation
//
// Issued credentials are response-wrapped when issue.wrap is set.
package controller
