package config

// Defaults returns a fresh copy of the default configuration tree.
// Every recognized key is present, so a resolved configuration never carries
// unset values.
func Defaults() map[string]any {
	return map[string]any{
		"auth": map[string]any{
			"approle_mount": "approle",
			"approle_name":  "vault-broker",
			"method":        string(MethodToken),
			"secret_id":     nil,
			"token_lifecycle": map[string]any{
				"minimum_ttl":     10,
				"renew_increment": nil,
			},
		},
		"cache": map[string]any{
			"backend":     BackendSession,
			"config":      3600,
			"kv_metadata": ttlConnection,
			"secret":      ttlSentinel,
			"disk_path":   "",
			"compress":    false,
			"encrypt":     "",
			"redis": map[string]any{
				"addr":     "localhost:6379",
				"password": "",
				"db":       0,
			},
			"s3": map[string]any{
				"bucket":   "",
				"prefix":   "vault-cache",
				"region":   "us-east-1",
				"endpoint": "",
			},
		},
		"issue": map[string]any{
			"allow_minion_override_params": false,
			"type":                         string(IssueToken),
			"approle": map[string]any{
				"mount": "peers",
				"params": map[string]any{
					"bind_secret_id":         true,
					"secret_id_num_uses":     1,
					"secret_id_ttl":          60,
					"token_explicit_max_ttl": 60,
					"token_num_uses":         10,
				},
			},
			"token": map[string]any{
				"role_name": nil,
				"params": map[string]any{
					"explicit_max_ttl": nil,
					"num_uses":         1,
				},
			},
			"wrap": "30s",
		},
		"issue_params": map[string]any{},
		"metadata": map[string]any{
			"entity": map[string]any{
				"peer-id": "{peer}",
			},
			"secret": map[string]any{
				"broker-peer":    "{peer}",
				"broker-request": "{request}",
			},
		},
		"policies": map[string]any{
			"assign": []any{
				"broker/peers",
				"broker/peer/{peer}",
			},
			"cache_time":     60,
			"refresh_pillar": nil,
		},
		"server": map[string]any{
			"namespace": nil,
			"verify":    nil,
		},
	}
}
