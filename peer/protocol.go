package peer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/metrics"
)

// Operations published by the controller.
const (
	OpGetConfig        = "get_config"
	OpGenerateNewToken = "generate_new_token"
	OpGenerateSecretID = "generate_secret_id"
	// OpGenerateToken is the legacy operation returning configuration and
	// a token in one response.
	OpGenerateToken = "generate_token"
)

// Requester requests credentials from the controller.
type Requester interface {
	// Request performs operation with params. Wrapped secrets in the response
	// are unwrapped with unwrapClient, or with a client for the server the
	// response reports when unwrapClient is nil. A non-empty
	// expectedCreationPath is enforced on every unwrapped secret.
	// The client used for unwrapping is returned alongside the response.
	Request(ctx context.Context, operation string, params map[string]any, unwrapClient interfaces.VaultClient, expectedCreationPath string) (Response, interfaces.VaultClient, error)
}

type ProtocolConfig struct {
	Transport Transport
	Signer    interfaces.Signer
	// Impersonated is set when the controller runs requests for a peer.
	Impersonated bool
	// Local is the local configuration tree. Its overrides apply to server
	// blocks reported by the controller.
	Local     map[string]any
	NewClient interfaces.VaultClientBuilder
	Metrics   *metrics.Metrics
	Log       *slog.Logger
}

// Protocol implements Requester.
type Protocol struct {
	cfg ProtocolConfig
	log *slog.Logger
}

func NewProtocol(cfg ProtocolConfig) *Protocol {
	return &Protocol{cfg: cfg, log: cfg.Log}
}

func (p *Protocol) Request(ctx context.Context, operation string, params map[string]any, unwrapClient interfaces.VaultClient, expectedCreationPath string) (Response, interfaces.VaultClient, error) {
	envelope, err := NewEnvelope(p.cfg.Signer, p.cfg.Impersonated)
	if err != nil {
		return nil, nil, err
	}

	raw, err := p.cfg.Transport.Call(ctx, operation, envelope, params)
	if err != nil {
		p.cfg.Metrics.PeerRequest(operation, err)
		p.log.Error("Failed to query the controller", slog.String("operation", operation), "err", err)
		return nil, nil, err
	}

	resp, client, err := p.checkResult(ctx, operation, raw, unwrapClient, expectedCreationPath)
	p.cfg.Metrics.PeerRequest(operation, err)
	return resp, client, err
}

func (p *Protocol) checkResult(ctx context.Context, operation string, raw any, unwrapClient interfaces.VaultClient, expectedCreationPath string) (Response, interfaces.VaultClient, error) {
	if !truthy(raw) {
		p.log.Error("No result returned by the controller, is the operation published?", slog.String("operation", operation))
		return nil, nil, fmt.Errorf("%w: %w: make sure %s is published by the controller", interfaces.ErrConfigExpired, interfaces.ErrEmptyResponse, operation)
	}

	result, ok := raw.(map[string]any)
	if !ok {
		p.log.Error("Controller response is not a mapping", slog.String("operation", operation))
		return nil, nil, interfaces.ExecutionErrorf("controller response to %s is not a mapping: %v", operation, raw)
	}

	if reason, ok := result["error"]; ok {
		p.log.Error("Controller returned an error", slog.String("operation", operation), slog.Any("error", reason))
		if truthy(result["expire_cache"]) {
			p.log.Warn("Controller returned an error and requested cache expiration")
			return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrConfigExpired, reason)
		}
		return nil, nil, interfaces.ExecutionErrorf("controller returned an error for %s: %v", operation, reason)
	}

	expired := false
	if truthy(result["expire_cache"]) {
		p.log.Info("Controller requested configuration expiration")
		expired = true
	}

	var reported *interfaces.ServerConfig
	if rawServer, ok := config.AsMap(result["server"]); ok {
		// local verify settings must not invalidate the cache on every request
		resolved, err := config.Resolve(map[string]any{"server": rawServer}, false, p.cfg.Local)
		if err != nil {
			return nil, nil, err
		}
		reported = &resolved.Server
		result["server"] = reported.Map()
	}

	if unwrapClient != nil {
		expected := unwrapClient.ServerConfig()
		if reported == nil || *reported != expected {
			p.log.Info("Mismatch of cached and reported server data detected, invalidating cache")
			// wrapped data is still consumed below
			expired = true
			unwrapClient = nil
			expectedCreationPath = ""
		}
	}

	miscData, _ := result["misc_data"].(map[string]any)

	nested := nestedWrapPaths(result["wrap_info_nested"])
	if truthy(result["wrap_info"]) || len(nested) > 0 {
		if unwrapClient == nil {
			if reported == nil {
				return nil, nil, interfaces.ExecutionErrorf("controller response to %s carries wrapped data but no server", operation)
			}
			client, err := p.cfg.NewClient(*reported)
			if err != nil {
				return nil, nil, err
			}
			unwrapClient = client
		}

		if err := unwrapAll(ctx, result, nested, unwrapClient, expectedCreationPath); err != nil {
			return nil, nil, err
		}
	}

	if expired {
		return nil, nil, fmt.Errorf("%w: controller requested cache expiration", interfaces.ErrConfigExpired)
	}

	for key, val := range miscData {
		target := "auth"
		if result["data"] != nil {
			target = "data"
		}
		if _, set := traverse(result, target+":"+key); !set {
			setPath(result, target+":"+key, val)
		}
	}

	delete(result, "wrap_info")
	delete(result, "wrap_info_nested")
	delete(result, "misc_data")
	return Response(result), unwrapClient, nil
}

func nestedWrapPaths(v any) []string {
	var paths []string
	switch val := v.(type) {
	case []any:
		for _, p := range val {
			if s, ok := p.(string); ok && s != "" {
				paths = append(paths, s)
			}
		}
	case []string:
		paths = append(paths, val...)
	}
	return paths
}

// unwrapAll replaces every wrap_info pointer in result with the secret it wraps.
func unwrapAll(ctx context.Context, result map[string]any, nested []string, client interfaces.VaultClient, expectedCreationPath string) error {
	for _, key := range append([]string{""}, nested...) {
		var wrapped map[string]any
		if key == "" {
			wrapped = result
		} else {
			node, _ := traverse(result, key)
			wrapped, _ = node.(map[string]any)
		}
		if wrapped == nil {
			continue
		}
		rawInfo, ok := wrapped["wrap_info"]
		if !ok || rawInfo == nil {
			continue
		}

		info, err := interfaces.NewWrapInfo(rawInfo)
		if err != nil {
			return err
		}
		secret, err := client.Unwrap(ctx, info.Token, expectedCreationPath)
		if err != nil {
			return err
		}

		if key != "" {
			if len(secret.Auth) > 0 {
				setPath(result, key, secret.Auth)
			} else {
				setPath(result, key, secret.Data)
			}
			continue
		}
		if len(secret.Auth) > 0 {
			result["auth"] = secret.Auth
		}
		if len(secret.Data) > 0 {
			result["data"] = secret.Data
		}
	}
	return nil
}
