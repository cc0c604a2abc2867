package factory

import (
	"context"
	"errors"

	"github.com/ruteri/vault-session-broker/auth"
	"github.com/ruteri/vault-session-broker/cache"
	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/peer"
)

// connectionConfig returns the configuration a client is built from, the
// token delivered with it and an unauthenticated client for its server.
// Configuration received from the controller is cached without the token.
func (f *Factory) connectionConfig(ctx context.Context, bank interfaces.CacheBank, forceLocal bool) (*config.Config, config.Secret, interfaces.VaultClient, error) {
	if !f.isRemote(forceLocal) {
		f.log.Debug("Using Vault connection details from local config")
		cfg, err := config.Resolve(f.opts.Local, true, nil)
		if err != nil {
			return nil, config.Secret{}, nil, err
		}
		client, err := f.opts.NewClient(cfg.Server)
		if err != nil {
			return nil, config.Secret{}, nil, err
		}
		return cfg, cfg.Auth.Token, client, nil
	}

	// the configuration cache follows the local cache settings
	localCache, err := f.cacheFor(ctx, f.localCfg.Cache)
	if err != nil {
		return nil, config.Secret{}, nil, err
	}
	configCache := cache.NewConfigCache(localCache, bank, f.localCfg.Cache.Config, f.log)

	tree, err := configCache.Get(ctx)
	if err != nil {
		return nil, config.Secret{}, nil, err
	}
	if tree != nil {
		f.log.Debug("Using cached Vault server connection configuration")
		cfg, err := config.Resolve(tree, false, f.opts.Local)
		if err != nil {
			return nil, config.Secret{}, nil, err
		}
		client, err := f.opts.NewClient(cfg.Server)
		if err != nil {
			return nil, config.Secret{}, nil, err
		}
		return cfg, config.Secret{}, client, nil
	}

	f.log.Debug("Requesting Vault server connection configuration from controller")
	issueParams := f.localCfg.IssueParams
	resp, client, err := f.opts.Peer.Request(ctx, peer.OpGetConfig, auth.IssueRequestParams(issueParams), nil, "")
	if errors.Is(err, interfaces.ErrEmptyResponse) {
		f.log.Warn("Got empty response to Vault config request, falling back to generate_token. Please update the controller configuration.")
		legacy := map[string]any{
			"ttl":             issueParams["explicit_max_ttl"],
			"uses":            issueParams["num_uses"],
			"upgrade_request": true,
		}
		resp, client, err = f.opts.Peer.Request(ctx, peer.OpGenerateToken, legacy, nil, "")
	}
	if err != nil {
		return nil, config.Secret{}, nil, err
	}

	cfg, err := config.Resolve(resp, true, f.opts.Local)
	if err != nil {
		return nil, config.Secret{}, nil, err
	}

	// the token cache is not coupled to the configuration cache
	tree = cfg.Tree()
	if authSection, ok := config.AsMap(tree["auth"]); ok {
		delete(authSection, "token")
		tree["auth"] = authSection
	}
	if err := configCache.Store(ctx, map[string]any{
		"auth":   tree["auth"],
		"cache":  tree["cache"],
		"server": tree["server"],
	}); err != nil {
		return nil, config.Secret{}, nil, err
	}

	if client == nil {
		if client, err = f.opts.NewClient(cfg.Server); err != nil {
			return nil, config.Secret{}, nil, err
		}
	}
	return cfg, cfg.Auth.Token, client, nil
}
