package factory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/vault-session-broker/auth"
	"github.com/ruteri/vault-session-broker/cache"
	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/metrics"
	"github.com/ruteri/vault-session-broker/peer"
	"github.com/ruteri/vault-session-broker/vaultclient"
)

// cachedTokenValidity is how long a cached token has to remain valid for an
// AppRole session to skip fetching a secret id.
const cachedTokenValidity = 10 * time.Second

// RunType describes where the connection configuration comes from.
type RunType int

const (
	// RunLocal uses the local configuration, as the controller or a
	// standalone peer does.
	RunLocal RunType = iota
	// RunRemote requests configuration and credentials from the controller.
	RunRemote
	// RunImpersonating is the controller requesting credentials on behalf
	// of a peer. Its caches live in the peer's banks.
	RunImpersonating
)

type Options struct {
	// Local is the raw local configuration tree.
	Local   map[string]any
	RunType RunType
	// PeerID is the impersonated peer.
	PeerID string
	// Peer performs trusted peer requests, required unless RunType is RunLocal.
	Peer      peer.Requester
	NewClient interfaces.VaultClientBuilder
	Metrics   *metrics.Metrics
	Log       *slog.Logger
}

// Factory builds and caches authenticated clients. It is safe for
// concurrent use.
type Factory struct {
	opts     Options
	localCfg *config.Config
	handles  *HandleCache
	log      *slog.Logger

	mu     sync.Mutex
	caches map[string]*cache.Cache
}

// New creates a factory. The local configuration is resolved without
// validation, since peers may receive everything but the controller address
// from the controller.
func New(opts Options) (*Factory, error) {
	if opts.RunType != RunLocal && opts.Peer == nil {
		return nil, fmt.Errorf("%w: remote run types require a trusted peer requester", interfaces.ErrInvalidConfig)
	}
	if opts.RunType == RunImpersonating {
		if err := interfaces.ValidatePeerID(opts.PeerID); err != nil {
			return nil, fmt.Errorf("impersonation requires a valid peer id: %w", err)
		}
	}

	localCfg, err := config.Resolve(opts.Local, false, nil)
	if err != nil {
		return nil, err
	}

	return &Factory{
		opts:     opts,
		localCfg: localCfg,
		handles:  NewHandleCache(),
		log:      opts.Log,
		caches:   make(map[string]*cache.Cache),
	}, nil
}

// Bank returns the connection bank clients are cached under.
func (f *Factory) Bank(forceLocal bool) interfaces.CacheBank {
	bank := interfaces.CacheBank{Scope: interfaces.ScopeConnection}
	if f.opts.RunType == RunImpersonating && !forceLocal {
		bank.PeerID = f.opts.PeerID
	}
	return bank
}

func (f *Factory) isRemote(forceLocal bool) bool {
	return f.opts.RunType != RunLocal && !forceLocal
}

func (f *Factory) requester(forceLocal bool) peer.Requester {
	if f.isRemote(forceLocal) {
		return f.opts.Peer
	}
	return nil
}

// cacheFor returns the cache for the backend selected by cfg, creating it on first use.
func (f *Factory) cacheFor(ctx context.Context, cfg config.CacheConfig) (*cache.Cache, error) {
	key := fmt.Sprintf("%s|%s|%t|%s|%v|%v", cfg.Backend, cfg.DiskPath, cfg.Compress, cfg.Encrypt, cfg.Redis, cfg.S3)

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.caches[key]; ok {
		return c, nil
	}
	c, err := cache.NewFromConfig(ctx, cfg, f.opts.Metrics, f.log)
	if err != nil {
		return nil, err
	}
	f.caches[key] = c
	return c, nil
}

// Acquire returns a client valid for at least one request together with
// its configuration.
func (f *Factory) Acquire(ctx context.Context, forceLocal bool) (*vaultclient.AuthenticatedClient, *config.Config, error) {
	bank := f.Bank(forceLocal)
	key := bank.String()
	outcome := "cached"
	retry := false

	handle := f.handles.Get(key)
	if handle != nil && !handle.Client.TokenValid(ctx, 0, false) {
		f.log.Debug("Cached client instance was invalid", slog.String("bank", key))
		f.handles.Delete(key)
		handle = nil
	}

	if handle == nil {
		outcome = "built"
		var err error
		handle, err = f.build(ctx, bank, forceLocal)
		if err != nil {
			if !interfaces.IsRecoverable(err) {
				f.opts.Metrics.Acquisition("failed")
				return nil, nil, err
			}
			f.log.Debug("Cached credentials are not usable, purging caches", "err", err)
			retry = true
		}
	}

	if !retry {
		renewed, err := f.renewIfNeeded(ctx, handle)
		if err != nil {
			f.opts.Metrics.Acquisition("failed")
			return nil, nil, err
		}
		if renewed {
			outcome = "renewed"
		}
	}

	if retry || !handle.Client.TokenValid(ctx, handle.Config.Auth.TokenLifecycle.MinimumTTLDuration(), false) {
		f.log.Debug("Deleting cache and requesting new authentication credentials", slog.String("bank", key))
		f.opts.Metrics.Rebuild()
		outcome = "rebuilt"

		if err := f.ClearCache(ctx, forceLocal); err != nil {
			f.opts.Metrics.Acquisition("failed")
			return nil, nil, err
		}
		var err error
		if handle, err = f.build(ctx, bank, forceLocal); err != nil {
			f.opts.Metrics.Acquisition("failed")
			return nil, nil, err
		}

		lifecycle := handle.Config.Auth.TokenLifecycle
		if !handle.Client.TokenValid(ctx, lifecycle.MinimumTTLDuration(), false) {
			if lifecycle.MinimumTTL <= 0 {
				f.opts.Metrics.Acquisition("failed")
				return nil, nil, interfaces.ExecutionErrorf("could not build valid client, this is most likely a bug")
			}
			f.log.Warn("Configuration error: auth:token_lifecycle:minimum_ttl cannot be honored because fresh tokens are issued with less ttl, continuing anyways",
				slog.Int("minimum_ttl", lifecycle.MinimumTTL))
		}
	}

	f.handles.Put(key, handle)
	f.opts.Metrics.Acquisition(outcome)
	return handle.Client, handle.Config, nil
}

// renewIfNeeded renews a renewable token whose remaining ttl is below the
// minimum. Renewal eligibility is decided on the token alone, secret ids do
// not matter. Recoverable renewal failures are left to the validity gate.
func (f *Factory) renewIfNeeded(ctx context.Context, handle *Handle) (bool, error) {
	lifecycle := handle.Config.Auth.TokenLifecycle
	if !lifecycle.RenewIncrement.Enabled() {
		return false, nil
	}

	strategy := handle.Client.Auth()
	token := strategy.CurrentToken()
	if token == nil || !strategy.IsRenewable() || token.IsValid(lifecycle.MinimumTTLDuration()) {
		return false, nil
	}

	f.log.Debug("Renewing token", slog.Int("increment", lifecycle.RenewIncrement.Seconds()))
	err := handle.Client.TokenRenew(ctx, lifecycle.RenewIncrement)
	f.opts.Metrics.Renewal(err)
	if err != nil {
		if interfaces.IsRecoverable(err) {
			f.log.Warn("Token renewal failed", "err", err)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// build creates a client from the connection configuration and possibly
// cached credentials.
func (f *Factory) build(ctx context.Context, bank interfaces.CacheBank, forceLocal bool) (*Handle, error) {
	cfg, embedded, unauthd, err := f.connectionConfig(ctx, bank, forceLocal)
	if err != nil {
		return nil, err
	}

	c, err := f.cacheFor(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	// tokens live in a distinct scope, so sessions can be purged separately
	tokens := cache.NewTokenCache(c, bank.WithScope(interfaces.ScopeSession), cfg.Cache.Secret, f.log)
	requester := f.requester(forceLocal)
	issueParams := f.localCfg.IssueParams

	var strategy auth.Strategy
	switch cfg.Auth.Method {
	case config.MethodAppRole:
		cachedToken, err := tokens.Get(ctx, cachedTokenValidity)
		if err != nil {
			return nil, err
		}

		approle := &auth.AppRole{RoleID: cfg.Auth.RoleID}
		var secretIDs *cache.SecretIDCache
		if !cfg.Auth.SecretID.IsZero() {
			var secretID *interfaces.SecretID
			// secret ids from local configuration are never cached
			if requester != nil {
				secretIDs = cache.NewSecretIDCache(c, bank, cfg.Cache.Secret, f.log)
				if secretID, err = secretIDs.Get(ctx, 0); err != nil {
					return nil, err
				}
			}
			if cachedToken == nil && secretID == nil {
				src := &auth.SecretIDSource{
					Config:      cfg,
					Cache:       secretIDs,
					Client:      unauthd,
					Peer:        requester,
					IssueParams: issueParams,
					Log:         f.log,
				}
				if secretID, err = src.Fetch(ctx); err != nil {
					return nil, err
				}
			}
			if secretID == nil {
				secretID = auth.InvalidSecretID()
			}
			approle.SecretID = secretID
		}

		tokenAuth := auth.NewTokenAuth(cachedToken, tokens, f.log)
		strategy = auth.NewAppRoleAuth(approle, cfg.Auth.AppRoleMount, unauthd, tokenAuth, secretIDs, f.log)

	case config.MethodToken, config.MethodWrappedToken:
		src := &auth.TokenSource{
			Config:      cfg,
			Cache:       tokens,
			Client:      unauthd,
			Peer:        requester,
			Embedded:    embedded,
			IssueParams: issueParams,
			Log:         f.log,
		}
		token, err := src.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		strategy = auth.NewTokenAuth(token, tokens, f.log)

	default:
		return nil, interfaces.ConfigErrorf("connection configuration is invalid, unknown auth method %q", cfg.Auth.Method)
	}

	return &Handle{
		Client: vaultclient.NewAuthenticated(unauthd, strategy, f.log),
		Config: cfg,
	}, nil
}

// ClearCache drops the client cached for the bank and purges the connection
// bank, including its session bank, from every cache in use.
func (f *Factory) ClearCache(ctx context.Context, forceLocal bool) error {
	bank := f.Bank(forceLocal)
	f.handles.Delete(bank.String())

	f.mu.Lock()
	caches := make([]*cache.Cache, 0, len(f.caches))
	for _, c := range f.caches {
		caches = append(caches, c)
	}
	f.mu.Unlock()

	for _, c := range caches {
		if err := c.ClearBank(ctx, bank); err != nil {
			return err
		}
	}
	return nil
}

// MetadataCache returns the KV metadata cache for the session's configuration.
func (f *Factory) MetadataCache(ctx context.Context, forceLocal bool) (*cache.MetadataCache, error) {
	_, cfg, err := f.Acquire(ctx, forceLocal)
	if err != nil {
		return nil, err
	}
	c, err := f.cacheFor(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	return cache.NewMetadataCache(c, f.Bank(forceLocal), cfg.Cache.KVMetadata), nil
}
