package config

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/mohae/deepcopy"
	"github.com/ruteri/vault-session-broker/interfaces"
)

// Resolve merges raw onto the defaults, migrates deprecated keys, applies
// local overrides and decodes the result. With validate set, missing
// required fields fail with interfaces.ErrInvalidConfig.
//
// local is the configuration of the running process. Its TLS verification
// policy, token lifecycle and cache storage settings always win over values
// in raw, which may have been supplied by a remote controller.
func Resolve(raw map[string]any, validate bool, local map[string]any) (*Config, error) {
	tree := ResolveTree(raw, local)
	if validate {
		if err := Validate(tree); err != nil {
			return nil, err
		}
	}
	return decode(tree)
}

// ResolveTree returns the merged and migrated configuration tree without
// validating or decoding it.
func ResolveTree(raw map[string]any, local map[string]any) map[string]any {
	tree := Copy(raw)

	// policies used to be a plain list of policy templates
	switch policies := tree["policies"].(type) {
	case []any, []string:
		tree["policies"] = map[string]any{"assign": policies}
	}

	merged := Merge(Defaults(), tree)
	Migrate(merged)
	applyLocalOverrides(merged, local)
	normalizeVerify(merged)
	flattenRoleID(merged)
	return merged
}

// flattenRoleID unpacks a role id that was delivered as an unwrapped
// {"role_id": ...} data block.
func flattenRoleID(tree map[string]any) {
	auth := section(tree, "auth")
	if m, ok := asMap(auth["role_id"]); ok {
		if id, ok := m["role_id"]; ok {
			auth["role_id"] = id
		}
	}
}

func applyLocalOverrides(tree map[string]any, local map[string]any) {
	if local == nil {
		return
	}

	if verify, ok := local["verify"]; ok {
		section(tree, "server")["verify"] = verify
	} else if verify, ok := Lookup(local, "server", "verify"); ok {
		section(tree, "server")["verify"] = verify
	}

	if lifecycle, ok := Lookup(local, "auth", "token_lifecycle"); ok {
		if m, ok := asMap(lifecycle); ok && len(m) > 0 {
			section(tree, "auth")["token_lifecycle"] = Copy(m)
		}
	}

	if localCache, ok := asMap(local["cache"]); ok {
		cache := section(tree, "cache")
		for _, key := range cacheStorageKeys {
			if v, ok := localCache[key]; ok {
				cache[key] = deepcopy.Copy(v)
			}
		}
	}
}

// cacheStorageKeys are the cache settings describing where records are
// stored. They never come from a controller.
var cacheStorageKeys = []string{"backend", "disk_path", "compress", "encrypt", "redis", "s3"}

// normalizeVerify rewrites server.verify into its canonical form: nil for
// default verification, "false" to disable it, or a CA bundle path.
func normalizeVerify(tree map[string]any) {
	server := section(tree, "server")
	switch v := server["verify"].(type) {
	case bool:
		if v {
			server["verify"] = nil
		} else {
			server["verify"] = "false"
		}
	case string:
		if v == "" || v == "true" {
			server["verify"] = nil
		}
	}
}

// Validate checks that the tree carries what the configured auth method needs.
func Validate(tree map[string]any) error {
	auth := section(tree, "auth")

	method, _ := auth["method"].(string)
	switch AuthMethod(method) {
	case MethodAppRole:
		if isEmpty(auth["role_id"]) {
			return interfaces.ConfigErrorf("auth:role_id is required for approle auth")
		}
	case MethodToken, MethodWrappedToken:
		if isEmpty(auth["token"]) {
			return interfaces.ConfigErrorf("auth:token is required for %s auth", method)
		}
	default:
		return interfaces.ConfigErrorf("`%s` is not a valid auth method", method)
	}

	if isEmpty(section(tree, "server")["url"]) {
		return interfaces.ConfigErrorf("server:url is required")
	}
	return nil
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	}
	if m, ok := asMap(v); ok {
		return len(m) == 0
	}
	return false
}

var (
	ttlPolicyType      = reflect.TypeOf(TTLPolicy{})
	renewIncrementType = reflect.TypeOf(RenewIncrement{})
	wrapTTLType        = reflect.TypeOf(WrapTTL(""))
	secretType         = reflect.TypeOf(Secret{})
)

func decodeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	switch to {
	case ttlPolicyType:
		return parseTTLPolicy(data)
	case renewIncrementType:
		return parseRenewIncrement(data)
	case wrapTTLType:
		return parseWrapTTL(data)
	case secretType:
		return parseSecret(data)
	}
	return data, nil
}

func decode(tree map[string]any) (*Config, error) {
	cfg := &Config{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decodeHook,
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(tree); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidConfig, err)
	}
	cfg.tree = tree
	return cfg, nil
}
