package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/metrics"
	"github.com/ruteri/vault-session-broker/peer"
)

var (
	tokenParamKeys   = []string{"explicit_max_ttl", "num_uses"}
	approleParamKeys = []string{"bind_secret_id", "secret_id_num_uses", "secret_id_ttl", "token_explicit_max_ttl", "token_num_uses"}
)

// Controller issues credentials to peers according to its configuration.
type Controller struct {
	cfg     *config.Config
	issuer  Issuer
	metrics *metrics.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	policies map[string]cachedPolicies
	now      func() time.Time
}

type cachedPolicies struct {
	policies []string
	expires  time.Time
}

func New(cfg *config.Config, issuer Issuer, m *metrics.Metrics, log *slog.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		issuer:   issuer,
		metrics:  m,
		log:      log,
		policies: make(map[string]cachedPolicies),
		now:      time.Now,
	}
}

// Handle runs operation for peerID. Results are the response bodies sent to
// the peer. A nil result means the operation is not published.
func (c *Controller) Handle(ctx context.Context, operation, peerID string, params map[string]any) (map[string]any, error) {
	var (
		res map[string]any
		err error
	)
	switch operation {
	case peer.OpGetConfig:
		res, err = c.GetConfig(ctx, peerID, issueParams(params))
	case peer.OpGenerateNewToken:
		res, err = c.GenerateNewToken(ctx, peerID, issueParams(params))
	case peer.OpGenerateSecretID:
		res, err = c.GenerateSecretID(ctx, peerID, issueParams(params))
	case peer.OpGenerateToken:
		res, err = c.GenerateToken(ctx, peerID, params)
	default:
		return nil, nil
	}

	switch {
	case err != nil:
		c.metrics.Issued(operation, "error")
	case res["error"] != nil:
		c.metrics.Issued(operation, "rejected")
	default:
		c.metrics.Issued(operation, "ok")
	}
	return res, err
}

// GetConfig returns the configuration a peer needs to authenticate. When
// tokens are issued, the response carries one.
func (c *Controller) GetConfig(ctx context.Context, peerID string, params map[string]any) (map[string]any, error) {
	authCfg := map[string]any{}
	var nested []string

	switch c.cfg.Issue.Type {
	case config.IssueToken:
		tok, err := c.createToken(ctx, peerID, params, c.cfg.Issue.Wrap)
		if err != nil {
			return nil, err
		}
		authCfg["method"] = string(config.MethodToken)
		if wrapInfo, ok := tok["wrap_info"]; ok {
			authCfg["token"] = map[string]any{"wrap_info": wrapInfo}
			nested = append(nested, "auth:token")
		} else {
			authCfg["token"] = tok["auth"]
		}

	case config.IssueAppRole:
		roleParams, err := c.ensureAppRole(ctx, peerID, params)
		if err != nil {
			return nil, err
		}
		mount := c.cfg.Issue.AppRole.Mount
		roleID, err := c.issuer.RoleID(ctx, mount, peerID)
		if err != nil {
			return nil, err
		}
		if err := c.issuer.ManageEntity(ctx, mount, peerID, roleID, c.templated(c.cfg.Metadata.Entity, peerID, "")); err != nil {
			return nil, err
		}

		authCfg["method"] = string(config.MethodAppRole)
		authCfg["approle_mount"] = mount
		authCfg["approle_name"] = peerID
		authCfg["secret_id"] = truthy(roleParams["bind_secret_id"])
		if c.cfg.Issue.Wrap != "" {
			wrapped, err := c.issuer.Wrap(ctx, map[string]any{"role_id": roleID}, c.cfg.Issue.Wrap)
			if err != nil {
				return nil, err
			}
			authCfg["role_id"] = map[string]any{"wrap_info": wrapped["wrap_info"]}
			nested = append(nested, "auth:role_id")
		} else {
			authCfg["role_id"] = roleID
		}

	default:
		return nil, fmt.Errorf("unsupported issue type %q", c.cfg.Issue.Type)
	}

	resp := map[string]any{
		"auth":   authCfg,
		"cache":  c.cacheConfig(),
		"server": c.cfg.Server.Map(),
	}
	if len(nested) > 0 {
		resp["wrap_info_nested"] = nested
	}
	return resp, nil
}

// GenerateNewToken issues a token for peerID.
func (c *Controller) GenerateNewToken(ctx context.Context, peerID string, params map[string]any) (map[string]any, error) {
	if c.cfg.Issue.Type != config.IssueToken {
		return expireCache("Controller does not issue tokens."), nil
	}

	tok, err := c.createToken(ctx, peerID, params, c.cfg.Issue.Wrap)
	if err != nil {
		return nil, err
	}

	resp := map[string]any{"server": c.cfg.Server.Map()}
	if wrapInfo, ok := tok["wrap_info"]; ok {
		resp["wrap_info"] = wrapInfo
	} else {
		resp["auth"] = tok["auth"]
	}
	return resp, nil
}

// GenerateSecretID issues a secret id for the AppRole of peerID. When the
// AppRole no longer matches the configured parameters it is updated and the
// peer is asked to refresh its configuration.
func (c *Controller) GenerateSecretID(ctx context.Context, peerID string, params map[string]any) (map[string]any, error) {
	if c.cfg.Issue.Type != config.IssueAppRole {
		return expireCache("Controller does not issue AppRoles."), nil
	}

	mount := c.cfg.Issue.AppRole.Mount
	current, err := c.issuer.ReadAppRole(ctx, mount, peerID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return expireCache(fmt.Sprintf("AppRole for %s does not exist.", peerID)), nil
	}

	desired := c.approleParams(peerID, params)
	outdated := !approleMatches(current, desired)
	if outdated {
		c.log.Info("AppRole parameters changed, updating", slog.String("peer", peerID))
		if err := c.issuer.UpsertAppRole(ctx, mount, peerID, desired); err != nil {
			return nil, err
		}
	}
	if !truthy(desired["bind_secret_id"]) {
		return expireCache(fmt.Sprintf("AppRole for %s does not require a secret id.", peerID)), nil
	}

	secret, err := c.issuer.CreateSecretID(ctx, mount, peerID, c.templated(c.cfg.Metadata.Secret, peerID, uuid.NewString()), c.cfg.Issue.Wrap)
	if err != nil {
		return nil, err
	}

	resp := map[string]any{"server": c.cfg.Server.Map()}
	if wrapInfo, ok := secret["wrap_info"]; ok {
		resp["wrap_info"] = wrapInfo
		// wrapped secret id responses do not report the use limit
		resp["misc_data"] = map[string]any{"secret_id_num_uses": desired["secret_id_num_uses"]}
	} else {
		resp["data"] = secret["data"]
	}
	if outdated {
		resp["expire_cache"] = true
	}
	return resp, nil
}

// GenerateToken implements the legacy operation. Peers aware of get_config
// send upgrade_request and receive its response.
func (c *Controller) GenerateToken(ctx context.Context, peerID string, params map[string]any) (map[string]any, error) {
	legacy := map[string]any{}
	if ttl, ok := params["ttl"]; ok && ttl != nil {
		legacy["explicit_max_ttl"] = ttl
	}
	if uses, ok := params["uses"]; ok && uses != nil {
		legacy["num_uses"] = uses
	}

	if truthy(params["upgrade_request"]) {
		return c.GetConfig(ctx, peerID, legacy)
	}
	if c.cfg.Issue.Type != config.IssueToken {
		return expireCache("Controller does not issue tokens."), nil
	}

	tok, err := c.createToken(ctx, peerID, legacy, "")
	if err != nil {
		return nil, err
	}
	authBlock, _ := tok["auth"].(map[string]any)
	resp := c.cfg.Server.Map()
	resp["token"] = authBlock["client_token"]
	resp["lease_duration"] = authBlock["lease_duration"]
	resp["renewable"] = authBlock["renewable"]
	resp["uses"] = authBlock["num_uses"]
	resp["issued"] = c.now().Unix()
	return resp, nil
}

func (c *Controller) createToken(ctx context.Context, peerID string, params map[string]any, wrap config.WrapTTL) (map[string]any, error) {
	request := map[string]any{
		"policies":     c.policiesFor(peerID),
		"meta":         c.templated(c.cfg.Metadata.Secret, peerID, uuid.NewString()),
		"display_name": peerID,
	}
	for key, val := range c.mergeParams(c.cfg.Issue.Token.Params, params, tokenParamKeys) {
		request[key] = val
	}

	tok, err := c.issuer.CreateToken(ctx, c.cfg.Issue.Token.RoleName, request, wrap)
	if err != nil {
		return nil, err
	}
	if tok["auth"] == nil && tok["wrap_info"] == nil {
		return nil, fmt.Errorf("token creation for %s returned no token", peerID)
	}
	return tok, nil
}

func (c *Controller) ensureAppRole(ctx context.Context, peerID string, params map[string]any) (map[string]any, error) {
	desired := c.approleParams(peerID, params)
	if err := c.issuer.UpsertAppRole(ctx, c.cfg.Issue.AppRole.Mount, peerID, desired); err != nil {
		return nil, err
	}
	return desired, nil
}

func (c *Controller) approleParams(peerID string, params map[string]any) map[string]any {
	desired := c.mergeParams(c.cfg.Issue.AppRole.Params, params, approleParamKeys)
	desired["token_policies"] = c.policiesFor(peerID)
	return desired
}

// mergeParams overlays peer supplied params onto the configured defaults
// when peers may override them. Only keys in allowed are considered and
// unset values are dropped.
func (c *Controller) mergeParams(defaults, peerParams map[string]any, allowed []string) map[string]any {
	merged := map[string]any{}
	for _, key := range allowed {
		if v, ok := defaults[key]; ok && v != nil {
			merged[key] = v
		}
		if !c.cfg.Issue.AllowPeerOverrideParams {
			continue
		}
		if v, ok := peerParams[key]; ok && v != nil {
			merged[key] = v
		}
	}
	return merged
}

// policiesFor renders the policy templates for peerID, reusing results for
// policies.cache_time seconds.
func (c *Controller) policiesFor(peerID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if cached, ok := c.policies[peerID]; ok && now.Before(cached.expires) {
		return cached.policies
	}

	r := strings.NewReplacer("{peer}", peerID)
	policies := make([]string, 0, len(c.cfg.Policies.Assign))
	for _, tmpl := range c.cfg.Policies.Assign {
		policies = append(policies, r.Replace(tmpl))
	}

	if c.cfg.Policies.CacheTime > 0 {
		c.policies[peerID] = cachedPolicies{
			policies: policies,
			expires:  now.Add(time.Duration(c.cfg.Policies.CacheTime) * time.Second),
		}
	}
	return policies
}

func (c *Controller) templated(templates map[string]string, peerID, requestID string) map[string]string {
	r := strings.NewReplacer("{peer}", peerID, "{request}", requestID)
	out := make(map[string]string, len(templates))
	for key, tmpl := range templates {
		out[key] = r.Replace(tmpl)
	}
	return out
}

func (c *Controller) cacheConfig() map[string]any {
	return map[string]any{
		"config":      c.cfg.Cache.Config.String(),
		"secret":      c.cfg.Cache.Secret.String(),
		"kv_metadata": c.cfg.Cache.KVMetadata.String(),
	}
}

func approleMatches(current, desired map[string]any) bool {
	for key, want := range desired {
		if key == "token_policies" {
			if !sameStrings(current[key], want.([]string)) {
				return false
			}
			continue
		}
		if normalizeParam(current[key]) != normalizeParam(want) {
			return false
		}
	}
	return true
}

// normalizeParam renders durations as seconds so configured values compare
// equal to what Vault reports.
func normalizeParam(v any) string {
	if s, ok := v.(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return strconv.FormatInt(int64(d/time.Second), 10)
		}
		return s
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}

func sameStrings(current any, want []string) bool {
	var got []string
	switch v := current.(type) {
	case []string:
		got = v
	case []any:
		for _, s := range v {
			got = append(got, fmt.Sprint(s))
		}
	}
	if len(got) != len(want) {
		return false
	}
	seen := make(map[string]int, len(got))
	for _, s := range got {
		seen[s]++
	}
	for _, s := range want {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}

func issueParams(params map[string]any) map[string]any {
	p, _ := config.AsMap(params["issue_params"])
	return p
}

func expireCache(reason string) map[string]any {
	return map[string]any{"error": reason, "expire_cache": true}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false"
	default:
		return true
	}
}
