package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ruteri/vault-session-broker/interfaces"
)

// AuthMethod selects how a session authenticates against Vault.
type AuthMethod string

const (
	MethodToken        AuthMethod = "token"
	MethodWrappedToken AuthMethod = "wrapped_token"
	MethodAppRole      AuthMethod = "approle"
)

// IssueType selects what the controller issues to peers.
type IssueType string

const (
	IssueToken   IssueType = "token"
	IssueAppRole IssueType = "approle"
)

// Cache backend names.
const (
	BackendSession = "session"
	BackendDisk    = "disk"
	BackendRedis   = "redis"
	BackendS3      = "s3"
)

const (
	ttlSentinel   = "ttl"
	ttlConnection = "connection"
)

type ttlKind int

const (
	ttlUnset ttlKind = iota
	ttlSeconds
	ttlTiedToConnection
)

// TTLPolicy controls how long a cache category keeps its records.
// The zero value caches until the record's own expiry.
type TTLPolicy struct {
	kind    ttlKind
	seconds int64
}

// TTLUnset returns a policy that never evicts proactively.
func TTLUnset() TTLPolicy { return TTLPolicy{} }

// TTLSeconds returns a policy that evicts records older than n seconds.
func TTLSeconds(n int64) TTLPolicy { return TTLPolicy{kind: ttlSeconds, seconds: n} }

// TTLConnection returns a policy tying records to the connection bank.
func TTLConnection() TTLPolicy { return TTLPolicy{kind: ttlTiedToConnection} }

func (p TTLPolicy) IsUnset() bool      { return p.kind == ttlUnset }
func (p TTLPolicy) IsConnection() bool { return p.kind == ttlTiedToConnection }

// Duration returns the eviction age and whether one applies.
func (p TTLPolicy) Duration() (time.Duration, bool) {
	if p.kind != ttlSeconds {
		return 0, false
	}
	return time.Duration(p.seconds) * time.Second, true
}

func (p TTLPolicy) String() string {
	switch p.kind {
	case ttlSeconds:
		return strconv.FormatInt(p.seconds, 10)
	case ttlTiedToConnection:
		return ttlConnection
	default:
		return ttlSentinel
	}
}

func parseTTLPolicy(v any) (TTLPolicy, error) {
	switch val := v.(type) {
	case nil:
		return TTLUnset(), nil
	case string:
		switch val {
		case "", ttlSentinel:
			return TTLUnset(), nil
		case ttlConnection:
			return TTLConnection(), nil
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return TTLPolicy{}, fmt.Errorf("invalid cache ttl %q", val)
		}
		return TTLSeconds(n), nil
	default:
		n, ok := toInt64(val)
		if !ok {
			return TTLPolicy{}, fmt.Errorf("invalid cache ttl %v", v)
		}
		return TTLSeconds(n), nil
	}
}

// RenewIncrement is the token renewal policy. Renewal is enabled only when
// an increment is configured; true requests the server default increment.
type RenewIncrement struct {
	enabled bool
	seconds int
}

// RenewDisabled returns a policy without renewal.
func RenewDisabled() RenewIncrement { return RenewIncrement{} }

// RenewServerDefault returns a policy renewing by the server default increment.
func RenewServerDefault() RenewIncrement { return RenewIncrement{enabled: true} }

// RenewBy returns a policy renewing by n seconds.
func RenewBy(n int) RenewIncrement { return RenewIncrement{enabled: n > 0, seconds: n} }

// Enabled reports whether tokens may be renewed.
func (r RenewIncrement) Enabled() bool { return r.enabled }

// Seconds returns the requested increment, 0 meaning the server default.
func (r RenewIncrement) Seconds() int { return r.seconds }

func parseRenewIncrement(v any) (RenewIncrement, error) {
	switch val := v.(type) {
	case nil:
		return RenewDisabled(), nil
	case bool:
		if val {
			return RenewServerDefault(), nil
		}
		return RenewDisabled(), nil
	case string:
		if val == "" {
			return RenewDisabled(), nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			n, err := strconv.Atoi(val)
			if err != nil {
				return RenewIncrement{}, fmt.Errorf("invalid renew_increment %q", val)
			}
			return RenewBy(n), nil
		}
		return RenewBy(int(d / time.Second)), nil
	default:
		n, ok := toInt64(val)
		if !ok {
			return RenewIncrement{}, fmt.Errorf("invalid renew_increment %v", v)
		}
		return RenewBy(int(n)), nil
	}
}

// WrapTTL is the response wrapping lifetime in Vault duration syntax.
// Empty disables wrapping.
type WrapTTL string

func parseWrapTTL(v any) (WrapTTL, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case bool:
		if val {
			return "30s", nil
		}
		return "", nil
	case string:
		return WrapTTL(val), nil
	default:
		n, ok := toInt64(val)
		if !ok {
			return "", fmt.Errorf("invalid wrap ttl %v", v)
		}
		return WrapTTL(fmt.Sprintf("%ds", n)), nil
	}
}

// Secret is a credential given in configuration: a plain string or a
// structured record such as an issued token or a wrap_info pointer.
// Configuration received from the controller sets Required instead of a
// value when the credential must be requested separately.
type Secret struct {
	Value    string
	Record   map[string]any
	Required bool
}

// IsZero reports whether no secret was configured.
func (s Secret) IsZero() bool {
	return s.Value == "" && len(s.Record) == 0 && !s.Required
}

// IsWrapped reports whether the record points to a response-wrapped secret.
func (s Secret) IsWrapped() bool {
	_, ok := s.Record["wrap_info"]
	return ok
}

func parseSecret(v any) (Secret, error) {
	switch val := v.(type) {
	case nil:
		return Secret{}, nil
	case string:
		return Secret{Value: val}, nil
	case bool:
		return Secret{Required: val}, nil
	default:
		if m, ok := asMap(val); ok {
			return Secret{Record: m}, nil
		}
		return Secret{}, fmt.Errorf("invalid secret of type %T", v)
	}
}

// TokenLifecycle controls the minimum TTL gate and renewal.
type TokenLifecycle struct {
	MinimumTTL     int            `mapstructure:"minimum_ttl"`
	RenewIncrement RenewIncrement `mapstructure:"renew_increment"`
}

// MinimumTTLDuration returns the minimum TTL gate as a duration.
func (t TokenLifecycle) MinimumTTLDuration() time.Duration {
	return time.Duration(t.MinimumTTL) * time.Second
}

type AuthConfig struct {
	Method         AuthMethod     `mapstructure:"method"`
	AppRoleMount   string         `mapstructure:"approle_mount"`
	AppRoleName    string         `mapstructure:"approle_name"`
	RoleID         string         `mapstructure:"role_id"`
	SecretID       Secret         `mapstructure:"secret_id"`
	Token          Secret         `mapstructure:"token"`
	TokenLifecycle TokenLifecycle `mapstructure:"token_lifecycle"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type CacheConfig struct {
	Backend    string    `mapstructure:"backend"`
	Config     TTLPolicy `mapstructure:"config"`
	Secret     TTLPolicy `mapstructure:"secret"`
	KVMetadata TTLPolicy `mapstructure:"kv_metadata"`
	DiskPath   string    `mapstructure:"disk_path"`
	Compress   bool      `mapstructure:"compress"`
	// Encrypt is a passphrase sealing records at rest. Empty disables sealing.
	Encrypt string      `mapstructure:"encrypt"`
	Redis   RedisConfig `mapstructure:"redis"`
	S3      S3Config    `mapstructure:"s3"`
}

type IssueAppRoleConfig struct {
	Mount  string         `mapstructure:"mount"`
	Params map[string]any `mapstructure:"params"`
}

type IssueTokenConfig struct {
	RoleName string         `mapstructure:"role_name"`
	Params   map[string]any `mapstructure:"params"`
}

type IssueConfig struct {
	AllowPeerOverrideParams bool               `mapstructure:"allow_minion_override_params"`
	Type                    IssueType          `mapstructure:"type"`
	AppRole                 IssueAppRoleConfig `mapstructure:"approle"`
	Token                   IssueTokenConfig   `mapstructure:"token"`
	Wrap                    WrapTTL            `mapstructure:"wrap"`
}

type MetadataConfig struct {
	Entity map[string]string `mapstructure:"entity"`
	Secret map[string]string `mapstructure:"secret"`
}

type PoliciesConfig struct {
	Assign        []string `mapstructure:"assign"`
	CacheTime     int      `mapstructure:"cache_time"`
	RefreshPillar *bool    `mapstructure:"refresh_pillar"`
}

// Config is the resolved, typed Vault session configuration.
type Config struct {
	Auth        AuthConfig              `mapstructure:"auth"`
	Cache       CacheConfig             `mapstructure:"cache"`
	Server      interfaces.ServerConfig `mapstructure:"server"`
	Issue       IssueConfig             `mapstructure:"issue"`
	IssueParams map[string]any          `mapstructure:"issue_params"`
	Metadata    MetadataConfig          `mapstructure:"metadata"`
	Policies    PoliciesConfig          `mapstructure:"policies"`

	tree map[string]any
}

// Tree returns a copy of the resolved configuration tree.
func (c *Config) Tree() map[string]any {
	return Copy(c.tree)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
