package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/vault-session-broker/cache"
	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/peer"
)

// remoteMinimumValidity is how long a token or secret id issued by the
// controller has to remain valid to be reused.
const remoteMinimumValidity = 10 * time.Second

// IssueRequestParams returns the parameters sent with issuance requests.
func IssueRequestParams(issueParams map[string]any) map[string]any {
	if len(issueParams) == 0 {
		return nil
	}
	return map[string]any{"issue_params": issueParams}
}

// TokenSource obtains the token a session starts from.
type TokenSource struct {
	Config *config.Config
	Cache  *cache.TokenCache
	// Client unwraps and looks up tokens.
	Client interfaces.VaultClient
	// Peer is nil when the token comes from local configuration.
	Peer peer.Requester
	// Embedded is the token delivered with the connection configuration.
	Embedded config.Secret
	// IssueParams are forwarded to the controller with token requests.
	IssueParams map[string]any
	Log         *slog.Logger
}

// Fetch returns a usable token.
func (s *TokenSource) Fetch(ctx context.Context) (*interfaces.Token, error) {
	if s.Peer != nil {
		return s.fetchRemote(ctx)
	}
	return s.fetchLocal(ctx)
}

func (s *TokenSource) fetchLocal(ctx context.Context) (*interfaces.Token, error) {
	secret := s.Embedded

	switch {
	case len(secret.Record) > 0:
		if cached, err := s.Cache.Get(ctx, 0); err != nil || cached != nil {
			return cached, err
		}
		auth := secret.Record
		if secret.IsWrapped() {
			info, err := interfaces.NewWrapInfo(secret.Record["wrap_info"])
			if err != nil {
				return nil, err
			}
			if auth, err = s.unwrap(ctx, info.Token); err != nil {
				return nil, err
			}
		}
		return s.store(ctx, auth)

	case secret.Value != "" && s.Config.Auth.Method == config.MethodWrappedToken:
		// a wrapping token can be unwrapped once, reuse what it yielded
		if cached, err := s.Cache.Get(ctx, 0); err != nil || cached != nil {
			return cached, err
		}
		auth, err := s.unwrap(ctx, secret.Value)
		if err != nil {
			return nil, err
		}
		return s.store(ctx, auth)

	case secret.Value != "":
		cached, err := s.Cache.Get(ctx, 0)
		if err != nil {
			return nil, err
		}
		if cached != nil && cached.ID == secret.Value {
			return cached, nil
		}

		s.Log.Debug("Looking up configured token")
		data, err := s.Client.LookupToken(ctx, secret.Value)
		if err != nil {
			return nil, fmt.Errorf("configured token cannot be verified, it is most likely expired or invalid: %w", err)
		}
		token, err := interfaces.NewTokenFromLookup(secret.Value, data)
		if err != nil {
			return nil, err
		}
		if err := s.Cache.Store(ctx, token); err != nil {
			return nil, err
		}
		return token, nil
	}

	return nil, interfaces.ConfigErrorf("missing token")
}

func (s *TokenSource) unwrap(ctx context.Context, wrapToken string) (map[string]any, error) {
	secret, err := s.Client.Unwrap(ctx, wrapToken, ExpectedTokenCreationPath)
	if err != nil {
		return nil, err
	}
	if len(secret.Auth) == 0 {
		return nil, interfaces.ExecutionErrorf("wrapped token response carries no auth data")
	}
	return secret.Auth, nil
}

func (s *TokenSource) store(ctx context.Context, auth map[string]any) (*interfaces.Token, error) {
	token, err := interfaces.NewTokenFromAuth(auth)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Store(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (s *TokenSource) fetchRemote(ctx context.Context) (*interfaces.Token, error) {
	cached, err := s.Cache.Get(ctx, remoteMinimumValidity)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		s.Log.Debug("Using cached token")
		return cached, nil
	}

	var token *interfaces.Token
	if len(s.Embedded.Record) > 0 && !s.Embedded.IsWrapped() {
		if token, err = interfaces.NewTokenFromAuth(s.Embedded.Record); err != nil {
			s.Log.Warn("Ignoring undecodable token delivered with configuration", "err", err)
			token = nil
		}
	}

	if token == nil || !token.IsValid(remoteMinimumValidity) {
		s.Log.Debug("Requesting new token from controller")
		resp, _, err := s.Peer.Request(ctx, peer.OpGenerateNewToken, IssueRequestParams(s.IssueParams), s.Client, ExpectedTokenCreationPath)
		if err != nil {
			return nil, err
		}
		if token, err = interfaces.NewTokenFromAuth(resp.Auth()); err != nil {
			return nil, err
		}
	}

	if err := s.Cache.Store(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// SecretIDSource obtains the secret id of an AppRole login.
type SecretIDSource struct {
	Config *config.Config
	Cache  *cache.SecretIDCache
	// Client unwraps secret ids.
	Client interfaces.VaultClient
	// Peer is nil when the secret id comes from local configuration.
	Peer        peer.Requester
	IssueParams map[string]any
	Log         *slog.Logger
}

func (s *SecretIDSource) expectedCreationPath() string {
	return ExpectedSecretIDCreationPath(s.Config.Auth.AppRoleMount, s.Config.Auth.AppRoleName)
}

// Fetch returns a secret id. Locally configured secret ids are never cached.
func (s *SecretIDSource) Fetch(ctx context.Context) (*interfaces.SecretID, error) {
	if s.Peer != nil {
		return s.fetchRemote(ctx)
	}

	secret := s.Config.Auth.SecretID
	switch {
	case len(secret.Record) > 0:
		data := secret.Record
		if secret.IsWrapped() {
			info, err := interfaces.NewWrapInfo(secret.Record["wrap_info"])
			if err != nil {
				return nil, err
			}
			unwrapped, err := s.Client.Unwrap(ctx, info.Token, s.expectedCreationPath())
			if err != nil {
				return nil, err
			}
			data = unwrapped.Data
		}
		return interfaces.NewSecretID(data)
	case secret.Value != "":
		return interfaces.NewLocalSecretID(secret.Value), nil
	}
	return nil, interfaces.ConfigErrorf("auth:secret_id is required by the approle but not configured")
}

func (s *SecretIDSource) fetchRemote(ctx context.Context) (*interfaces.SecretID, error) {
	cached, err := s.Cache.Get(ctx, 0)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	s.Log.Debug("Requesting new AppRole secret id from controller")
	resp, _, err := s.Peer.Request(ctx, peer.OpGenerateSecretID, IssueRequestParams(s.IssueParams), s.Client, s.expectedCreationPath())
	if err != nil {
		return nil, err
	}
	secretID, err := interfaces.NewSecretID(resp.Data())
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Store(ctx, secretID); err != nil {
		return nil, err
	}
	return secretID, nil
}
