package config

// migration relocates one deprecated key. Migrations must be idempotent:
// applying one to an already migrated tree is a no-op.
type migration struct {
	name  string
	apply func(tree map[string]any)
}

// migrations run in order. Later rules may rely on earlier ones having
// relocated a key.
var migrations = []migration{
	{name: "auth.ttl", apply: func(tree map[string]any) {
		moveTokenParam(tree, "ttl", "explicit_max_ttl")
	}},
	{name: "auth.uses", apply: func(tree map[string]any) {
		moveTokenParam(tree, "uses", "num_uses")
	}},
	{name: "server", apply: func(tree map[string]any) {
		for _, key := range []string{"namespace", "url", "verify"} {
			if v, ok := tree[key]; ok {
				section(tree, "server")[key] = v
				delete(tree, key)
			}
		}
	}},
	{name: "role_name", apply: func(tree map[string]any) {
		if v, ok := tree["role_name"]; ok {
			section(section(tree, "issue"), "token")["role_name"] = v
			delete(tree, "role_name")
		}
	}},
	{name: "auth.token_backend", apply: func(tree map[string]any) {
		auth := section(tree, "auth")
		if v, ok := auth["token_backend"]; ok {
			section(tree, "cache")["backend"] = v
			delete(auth, "token_backend")
		}
	}},
	{name: "auth.allow_minion_override", apply: func(tree map[string]any) {
		auth := section(tree, "auth")
		if v, ok := auth["allow_minion_override"]; ok {
			section(tree, "issue")["allow_minion_override_params"] = v
			delete(auth, "allow_minion_override")
		}
	}},
}

// moveTokenParam moves auth.<old> into both issue.token.params.<new> and
// issue_params.<new>.
func moveTokenParam(tree map[string]any, old, new string) {
	auth := section(tree, "auth")
	v, ok := auth[old]
	if !ok {
		return
	}
	section(section(section(tree, "issue"), "token"), "params")[new] = v
	section(tree, "issue_params")[new] = v
	delete(auth, old)
}

// Migrate applies every migration to tree in place.
func Migrate(tree map[string]any) {
	for _, m := range migrations {
		m.apply(tree)
	}
}
