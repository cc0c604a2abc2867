package interfaces

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Lease holds the fields shared by every Vault credential.
// NumUses is 0 for unlimited uses and -1 once all uses are consumed.
type Lease struct {
	ID           string `json:"id"`
	Accessor     string `json:"accessor,omitempty"`
	Duration     int64  `json:"lease_duration"`
	NumUses      int    `json:"num_uses"`
	Renewable    bool   `json:"renewable"`
	CreationTime int64  `json:"creation_time"`
}

// ExpireTime returns the absolute expiry. Only meaningful when Duration > 0.
func (l *Lease) ExpireTime() time.Time {
	return time.Unix(l.CreationTime, 0).Add(time.Duration(l.Duration) * time.Second)
}

// RemainingTTL returns the time left until expiry. Non-expiring leases report 0.
func (l *Lease) RemainingTTL() time.Duration {
	if l.Duration == 0 {
		return 0
	}
	return time.Until(l.ExpireTime())
}

// IsValidFor reports whether the lease does not expire within validFor.
func (l *Lease) IsValidFor(validFor time.Duration) bool {
	if l.Duration == 0 {
		return true
	}
	remaining := l.RemainingTTL()
	return remaining > 0 && remaining >= validFor
}

// HasUsesLeft reports whether the lease can be used uses more times.
func (l *Lease) HasUsesLeft(uses int) bool {
	return l.NumUses == 0 || l.NumUses-uses >= 0
}

// IsValid reports whether the lease is usable at least once more for validFor.
func (l *Lease) IsValid(validFor time.Duration) bool {
	return l.IsValidFor(validFor) && l.HasUsesLeft(1)
}

// IsRenewable reports whether Vault allows extending the lease.
func (l *Lease) IsRenewable() bool {
	return l.Renewable
}

// SingleUse reports whether exactly one use remains. Such credentials must
// never be persisted.
func (l *Lease) SingleUse() bool {
	return l.NumUses == 1
}

// Used records one use of the lease.
func (l *Lease) Used() {
	if l.NumUses > 0 {
		l.NumUses--
		if l.NumUses == 0 {
			l.NumUses = -1
		}
	}
}

// LeaseID returns the credential identifier.
func (l *Lease) LeaseID() string {
	return l.ID
}

// Credential is implemented by every cacheable lease type.
type Credential interface {
	LeaseID() string
	IsValid(validFor time.Duration) bool
	SingleUse() bool
}

// Token is a Vault bearer token.
type Token struct {
	Lease
	Policies       []string `json:"policies,omitempty"`
	ExplicitMaxTTL int64    `json:"explicit_max_ttl,omitempty"`
}

// String returns the raw token value.
func (t *Token) String() string {
	return t.ID
}

type tokenFields struct {
	ClientToken    string   `mapstructure:"client_token"`
	ID             string   `mapstructure:"id"`
	Accessor       string   `mapstructure:"accessor"`
	LeaseDuration  *int64   `mapstructure:"lease_duration"`
	TTL            *int64   `mapstructure:"ttl"`
	NumUses        int      `mapstructure:"num_uses"`
	Renewable      bool     `mapstructure:"renewable"`
	CreationTime   int64    `mapstructure:"creation_time"`
	Policies       []string `mapstructure:"policies"`
	ExplicitMaxTTL int64    `mapstructure:"explicit_max_ttl"`
}

// NewTokenFromAuth builds a token from the auth block of a Vault response
// (login, token create, renew or unwrap) or a cached token record.
func NewTokenFromAuth(auth map[string]any) (*Token, error) {
	var f tokenFields
	if err := decodeWeak(auth, &f); err != nil {
		return nil, fmt.Errorf("could not decode token: %w", err)
	}

	id := f.ClientToken
	if id == "" {
		id = f.ID
	}
	if id == "" {
		return nil, fmt.Errorf("%w: token data carries no client_token", ErrExecution)
	}

	var duration int64
	switch {
	case f.LeaseDuration != nil:
		duration = *f.LeaseDuration
	case f.TTL != nil:
		duration = *f.TTL
	}

	creation := f.CreationTime
	if creation == 0 {
		creation = time.Now().Unix()
	}

	return &Token{
		Lease: Lease{
			ID:           id,
			Accessor:     f.Accessor,
			Duration:     duration,
			NumUses:      f.NumUses,
			Renewable:    f.Renewable,
			CreationTime: creation,
		},
		Policies:       f.Policies,
		ExplicitMaxTTL: f.ExplicitMaxTTL,
	}, nil
}

// NewTokenFromLookup builds a token from token lookup data. The reported ttl
// is the remaining lifetime, so the creation time is reset to now.
func NewTokenFromLookup(raw string, data map[string]any) (*Token, error) {
	var f tokenFields
	if err := decodeWeak(data, &f); err != nil {
		return nil, fmt.Errorf("could not decode token lookup: %w", err)
	}

	var ttl int64
	if f.TTL != nil {
		ttl = *f.TTL
	}

	return &Token{
		Lease: Lease{
			ID:           raw,
			Accessor:     f.Accessor,
			Duration:     ttl,
			NumUses:      f.NumUses,
			Renewable:    f.Renewable,
			CreationTime: time.Now().Unix(),
		},
		Policies:       f.Policies,
		ExplicitMaxTTL: f.ExplicitMaxTTL,
	}, nil
}

// SecretID is an AppRole secret identifier.
type SecretID struct {
	Lease
}

// String returns the raw secret id value.
func (s *SecretID) String() string {
	return s.ID
}

type secretIDFields struct {
	SecretID     string `mapstructure:"secret_id"`
	Accessor     string `mapstructure:"secret_id_accessor"`
	TTL          int64  `mapstructure:"secret_id_ttl"`
	NumUses      int    `mapstructure:"secret_id_num_uses"`
	CreationTime int64  `mapstructure:"creation_time"`
}

// NewSecretID builds a secret id from the data block of a secret-id
// generation or unwrap response, or from a cached record.
func NewSecretID(data map[string]any) (*SecretID, error) {
	var f secretIDFields
	if err := decodeWeak(data, &f); err != nil {
		return nil, fmt.Errorf("could not decode secret id: %w", err)
	}

	if f.SecretID == "" {
		return nil, fmt.Errorf("%w: secret id data carries no secret_id", ErrExecution)
	}

	creation := f.CreationTime
	if creation == 0 {
		creation = time.Now().Unix()
	}

	return &SecretID{Lease: Lease{
		ID:           f.SecretID,
		Accessor:     f.Accessor,
		Duration:     f.TTL,
		NumUses:      f.NumUses,
		CreationTime: creation,
	}}, nil
}

// NewLocalSecretID returns a statically configured secret id, assumed not to expire.
func NewLocalSecretID(secretID string) *SecretID {
	return &SecretID{Lease: Lease{ID: secretID, CreationTime: time.Now().Unix()}}
}

// SecretLease is a leased secret, such as dynamic database credentials,
// together with the data Vault returned for it.
type SecretLease struct {
	Lease
	Data map[string]any `json:"data,omitempty"`
}

type secretLeaseFields struct {
	LeaseID       string         `mapstructure:"lease_id"`
	LeaseDuration int64          `mapstructure:"lease_duration"`
	Renewable     bool           `mapstructure:"renewable"`
	Data          map[string]any `mapstructure:"data"`
}

// NewSecretLease builds a lease from a Vault response carrying lease_id.
func NewSecretLease(resp map[string]any) (*SecretLease, error) {
	var f secretLeaseFields
	if err := decodeWeak(resp, &f); err != nil {
		return nil, fmt.Errorf("could not decode lease: %w", err)
	}
	if f.LeaseID == "" {
		return nil, fmt.Errorf("%w: response carries no lease_id", ErrExecution)
	}
	return &SecretLease{
		Lease: Lease{
			ID:           f.LeaseID,
			Duration:     f.LeaseDuration,
			Renewable:    f.Renewable,
			CreationTime: time.Now().Unix(),
		},
		Data: f.Data,
	}, nil
}

// WrapInfo points to a response-wrapped secret.
type WrapInfo struct {
	Token           string `mapstructure:"token" json:"token"`
	Accessor        string `mapstructure:"accessor" json:"accessor,omitempty"`
	TTL             int64  `mapstructure:"ttl" json:"ttl"`
	CreationTime    string `mapstructure:"creation_time" json:"creation_time,omitempty"`
	CreationPath    string `mapstructure:"creation_path" json:"creation_path,omitempty"`
	WrappedAccessor string `mapstructure:"wrapped_accessor" json:"wrapped_accessor,omitempty"`
}

// NewWrapInfo decodes a wrap_info block.
func NewWrapInfo(raw any) (*WrapInfo, error) {
	var w WrapInfo
	if err := decodeWeak(raw, &w); err != nil {
		return nil, fmt.Errorf("could not decode wrap_info: %w", err)
	}
	if w.Token == "" {
		return nil, fmt.Errorf("%w: wrap_info carries no token", ErrExecution)
	}
	return &w, nil
}

// ServerConfig identifies a Vault server. It is comparable, so two
// configurations can be checked for identity with ==.
type ServerConfig struct {
	URL       string `mapstructure:"url" json:"url"`
	Namespace string `mapstructure:"namespace" json:"namespace,omitempty"`
	// Verify is empty for default TLS verification, "false" to disable it,
	// or a path to a CA bundle.
	Verify string `mapstructure:"verify" json:"verify,omitempty"`
}

// Map returns the server block as a configuration tree.
func (s ServerConfig) Map() map[string]any {
	m := map[string]any{"url": s.URL, "namespace": nil, "verify": nil}
	if s.Namespace != "" {
		m["namespace"] = s.Namespace
	}
	if s.Verify != "" {
		m["verify"] = s.Verify
	}
	return m
}

func decodeWeak(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
