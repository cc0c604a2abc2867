// Package config resolves the effective Vault session configuration.
//
// Resolution is a pure pipeline over configuration trees (nested
// map[string]any values as read from YAML/JSON files or received from the
// controller):
//
//  1. the raw tree is merged onto the full default tree; mappings merge
//     recursively, scalars replace, lists are replaced wholesale
//  2. an ordered list of idempotent migrations relocates deprecated keys
//  3. local overrides for TLS verification and token lifecycle are applied
//  4. the tree is optionally validated
//  5. the tree is decoded into a typed Config
//
// The resolved tree is kept on the Config so the controller can forward
// connection details to peers.
package config
