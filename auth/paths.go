package auth

import (
	"fmt"
	"regexp"
)

// ExpectedTokenCreationPath matches the creation path of wrapped tokens.
const ExpectedTokenCreationPath = `auth/token/create(/[^/]+)?`

// ExpectedSecretIDCreationPath returns the creation path pattern of wrapped
// secret ids issued for role name on mount.
func ExpectedSecretIDCreationPath(mount, name string) string {
	return fmt.Sprintf(`auth/%s/role/%s/secret\-id`, regexp.QuoteMeta(mount), regexp.QuoteMeta(name))
}
