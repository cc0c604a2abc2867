package factory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFactory(t *testing.T, local map[string]any, runType RunType, requester peer.Requester) (*Factory, *mockVaultClient) {
	t.Helper()
	vault := &mockVaultClient{}
	opts := Options{
		Local:   local,
		RunType: runType,
		PeerID:  "web1",
		NewClient: func(server interfaces.ServerConfig) (interfaces.VaultClient, error) {
			vault.server = server
			return vault, nil
		},
		Log: testLogger(),
	}
	if requester != nil {
		opts.Peer = requester
	}
	f, err := New(opts)
	require.NoError(t, err)
	return f, vault
}

func localTokenConfig(minimumTTL int, renewIncrement any) map[string]any {
	return map[string]any{
		"server": map[string]any{"url": "https://vault:8200"},
		"auth": map[string]any{
			"method": "token",
			"token":  "s.static",
			"token_lifecycle": map[string]any{
				"minimum_ttl":     minimumTTL,
				"renew_increment": renewIncrement,
			},
		},
	}
}

func TestAcquireReusesHandle(t *testing.T) {
	f, vault := newFactory(t, localTokenConfig(10, nil), RunLocal, nil)
	vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": 3600}, nil).Once()

	ctx := context.Background()
	first, cfg, err := f.Acquire(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "https://vault:8200", cfg.Server.URL)

	second, _, err := f.Acquire(ctx, false)
	require.NoError(t, err)
	assert.Same(t, first, second)
	vault.AssertExpectations(t)
}

func TestAcquireRebuildsTokenBelowMinimumWithoutIncrement(t *testing.T) {
	f, vault := newFactory(t, localTokenConfig(10, nil), RunLocal, nil)
	vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": 5, "renewable": true}, nil).Once()
	vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": 3600, "renewable": true}, nil).Once()

	client, _, err := f.Acquire(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, int64(3600), client.Auth().CurrentToken().Duration)
	vault.AssertExpectations(t)
	vault.AssertNotCalled(t, "RenewSelf", mock.Anything, mock.Anything)
}

func TestAcquireRenewsTokenBelowMinimum(t *testing.T) {
	f, vault := newFactory(t, localTokenConfig(10, 60), RunLocal, nil)
	vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": 5, "renewable": true}, nil).Once()
	vault.On("RenewSelf", "s.static", 60).Return(map[string]any{
		"client_token":   "s.static",
		"lease_duration": 600,
		"renewable":      true,
	}, nil).Once()

	client, _, err := f.Acquire(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, int64(600), client.Auth().CurrentToken().Duration)
	vault.AssertExpectations(t)
}

func TestAcquireUnrenewableTokenIsRebuilt(t *testing.T) {
	f, vault := newFactory(t, localTokenConfig(10, 60), RunLocal, nil)
	vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": 5, "renewable": false}, nil).Once()
	vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": 3600, "renewable": false}, nil).Once()

	client, _, err := f.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(3600), client.Auth().CurrentToken().Duration)
	vault.AssertNotCalled(t, "RenewSelf", mock.Anything, mock.Anything)
}

func TestAcquireMinimumTTLCannotBeHonored(t *testing.T) {
	f, vault := newFactory(t, localTokenConfig(10, nil), RunLocal, nil)
	vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": 5}, nil).Twice()

	client, _, err := f.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), client.Auth().CurrentToken().Duration)
	vault.AssertExpectations(t)
}

func TestAcquireFailsWithoutMinimumTTL(t *testing.T) {
	f, vault := newFactory(t, localTokenConfig(0, nil), RunLocal, nil)
	vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": -1}, nil).Twice()

	_, _, err := f.Acquire(context.Background(), false)
	assert.ErrorIs(t, err, interfaces.ErrExecution)
	vault.AssertExpectations(t)
}

func TestAcquireReplacesExhaustedHandle(t *testing.T) {
	f, vault := newFactory(t, localTokenConfig(10, nil), RunLocal, nil)
	vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": 3600, "num_uses": 1}, nil).Twice()
	vault.On("Read", "s.static", "secret/data/app").Return(map[string]any{"data": map[string]any{}}, nil).Once()

	ctx := context.Background()
	first, _, err := f.Acquire(ctx, false)
	require.NoError(t, err)

	_, err = first.Read(ctx, "secret/data/app")
	require.NoError(t, err)
	assert.False(t, first.TokenValid(ctx, 0, false))

	second, _, err := f.Acquire(ctx, false)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, second.TokenValid(ctx, 0, false))
	vault.AssertExpectations(t)
}

func TestAcquireInvalidLocalConfig(t *testing.T) {
	f, _ := newFactory(t, map[string]any{
		"server": map[string]any{"url": "https://vault:8200"},
		"auth":   map[string]any{"method": "approle"},
	}, RunLocal, nil)

	_, _, err := f.Acquire(context.Background(), false)
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)
}

func TestAcquireRemoteAppRole(t *testing.T) {
	requester := &mockRequester{}
	requester.On("Request", peer.OpGetConfig, map[string]any(nil)).Return(peer.Response{
		"auth": map[string]any{
			"method":        "approle",
			"approle_mount": "approle",
			"approle_name":  "web1",
			"role_id":       "rid",
			"secret_id":     true,
		},
		"server": map[string]any{"url": "https://vault:8200"},
	}, nil).Once()
	requester.On("Request", peer.OpGenerateSecretID, map[string]any(nil)).Return(peer.Response{
		"data": map[string]any{"secret_id": "sid", "secret_id_num_uses": 5, "secret_id_ttl": 0},
	}, nil).Once()

	f, vault := newFactory(t, map[string]any{}, RunRemote, requester)
	vault.On("Login", "approle", map[string]any{"role_id": "rid", "secret_id": "sid"}).
		Return(map[string]any{"client_token": "s.login", "lease_duration": 3600}, nil).Once()

	ctx := context.Background()
	client, cfg, err := f.Acquire(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "rid", cfg.Auth.RoleID)
	assert.True(t, cfg.Auth.SecretID.Required)

	token, err := client.Auth().Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s.login", token)

	again, _, err := f.Acquire(ctx, false)
	require.NoError(t, err)
	assert.Same(t, client, again)

	requester.AssertExpectations(t)
	vault.AssertExpectations(t)
}

func TestAcquireRemoteUsesCachedConfig(t *testing.T) {
	requester := &mockRequester{}
	requester.On("Request", peer.OpGetConfig, map[string]any{"issue_params": map[string]any{"num_uses": 10}}).Return(peer.Response{
		"auth": map[string]any{
			"method": "token",
			"token":  map[string]any{"client_token": "s.embedded", "lease_duration": 3600, "num_uses": 10},
		},
		"server": map[string]any{"url": "https://vault:8200"},
	}, nil).Once()

	f, _ := newFactory(t, map[string]any{"issue_params": map[string]any{"num_uses": 10}}, RunRemote, requester)

	ctx := context.Background()
	client, _, err := f.Acquire(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "s.embedded", client.Auth().CurrentToken().ID)

	// a new handle is built from the cached configuration and token
	f.handles.Delete(f.Bank(false).String())
	client, cfg, err := f.Acquire(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "s.embedded", client.Auth().CurrentToken().ID)
	assert.True(t, cfg.Auth.Token.IsZero())
	requester.AssertExpectations(t)
}

func TestAcquireLegacyFallback(t *testing.T) {
	requester := &mockRequester{}
	requester.On("Request", peer.OpGetConfig, map[string]any(nil)).
		Return(nil, fmt.Errorf("%w: %w", interfaces.ErrConfigExpired, interfaces.ErrEmptyResponse)).Once()
	requester.On("Request", peer.OpGenerateToken, map[string]any{"ttl": nil, "uses": nil, "upgrade_request": true}).Return(peer.Response{
		"auth": map[string]any{
			"method": "token",
			"token":  map[string]any{"client_token": "s.legacy", "lease_duration": 3600},
		},
		"server": map[string]any{"url": "https://vault:8200"},
	}, nil).Once()

	f, _ := newFactory(t, map[string]any{}, RunRemote, requester)
	client, _, err := f.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "s.legacy", client.Auth().CurrentToken().ID)
	requester.AssertExpectations(t)
}

func TestAcquireRetriesAfterRecoverableError(t *testing.T) {
	requester := &mockRequester{}
	requester.On("Request", peer.OpGetConfig, mock.Anything).Return(nil, interfaces.ErrPermissionDenied).Once()
	requester.On("Request", peer.OpGetConfig, mock.Anything).Return(peer.Response{
		"auth":   map[string]any{"method": "token", "token": map[string]any{"client_token": "s.fresh", "lease_duration": 3600}},
		"server": map[string]any{"url": "https://vault:8200"},
	}, nil).Once()

	f, _ := newFactory(t, map[string]any{}, RunRemote, requester)
	client, _, err := f.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "s.fresh", client.Auth().CurrentToken().ID)
	requester.AssertExpectations(t)
}

func TestAcquireFailsOnSecondRecoverableError(t *testing.T) {
	requester := &mockRequester{}
	requester.On("Request", peer.OpGetConfig, mock.Anything).Return(nil, interfaces.ErrConfigExpired).Twice()

	f, _ := newFactory(t, map[string]any{}, RunRemote, requester)
	_, _, err := f.Acquire(context.Background(), false)
	assert.ErrorIs(t, err, interfaces.ErrConfigExpired)
	requester.AssertExpectations(t)
}

func TestBanks(t *testing.T) {
	requester := &mockRequester{}
	f, _ := newFactory(t, map[string]any{}, RunImpersonating, requester)
	assert.Equal(t, "peers/web1/vault/connection", f.Bank(false).String())
	assert.Equal(t, "vault/connection", f.Bank(true).String())

	local, _ := newFactory(t, map[string]any{}, RunLocal, nil)
	assert.Equal(t, "vault/connection", local.Bank(false).String())

	_, err := New(Options{RunType: RunRemote, Log: testLogger()})
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)

	_, err = New(Options{RunType: RunImpersonating, Peer: requester, Log: testLogger()})
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)
}

func TestForceLocalSkipsController(t *testing.T) {
	requester := &mockRequester{}
	f, vault := newFactory(t, localTokenConfig(10, nil), RunImpersonating, requester)
	vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": 3600}, nil).Once()

	client, _, err := f.Acquire(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "s.static", client.Auth().CurrentToken().ID)
	requester.AssertNotCalled(t, "Request", mock.Anything, mock.Anything)
}

func TestMetadataCache(t *testing.T) {
	tests := []struct {
		name          string
		kvMetadata    any
		survivesPurge bool
	}{
		{name: "tied to connection", kvMetadata: "connection", survivesPurge: false},
		{name: "own ttl", kvMetadata: 300, survivesPurge: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := localTokenConfig(10, nil)
			local["cache"] = map[string]any{"kv_metadata": tt.kvMetadata}
			f, vault := newFactory(t, local, RunLocal, nil)
			vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": 3600}, nil)

			ctx := context.Background()
			meta, err := f.MetadataCache(ctx, false)
			require.NoError(t, err)
			require.NoError(t, meta.Store(ctx, "secret/app", map[string]any{"v2": true}))

			require.NoError(t, f.ClearCache(ctx, false))

			meta, err = f.MetadataCache(ctx, false)
			require.NoError(t, err)
			cached, err := meta.Get(ctx, "secret/app")
			require.NoError(t, err)
			if tt.survivesPurge {
				assert.Equal(t, map[string]any{"v2": true}, cached)
			} else {
				assert.Nil(t, cached)
			}
		})
	}
}

func TestLeaseStore(t *testing.T) {
	f, vault := newFactory(t, localTokenConfig(10, nil), RunLocal, nil)
	vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": 3600}, nil)

	ctx := context.Background()
	store, err := f.LeaseStore(ctx, false)
	require.NoError(t, err)

	lease, err := interfaces.NewSecretLease(map[string]any{
		"lease_id":       "database/creds/app/abc",
		"lease_duration": 5,
		"renewable":      true,
		"data":           map[string]any{"username": "app", "password": "secret"},
	})
	require.NoError(t, err)
	require.NoError(t, store.Store(ctx, "db", lease))

	cached, err := store.Get(ctx, "db", 0, false, 0, false)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "secret", cached.Data["password"])

	vault.On("Write", "s.static", "sys/leases/renew", map[string]any{"lease_id": "database/creds/app/abc", "increment": 300}).
		Return(map[string]any{"lease_id": "database/creds/app/abc", "lease_duration": 300, "renewable": true}, nil).Once()

	renewed, err := store.Get(ctx, "db", time.Minute, true, 300, false)
	require.NoError(t, err)
	require.NotNil(t, renewed)
	assert.Equal(t, int64(300), renewed.Duration)
	assert.Equal(t, "app", renewed.Data["username"])

	vault.On("Write", "s.static", "sys/leases/revoke", map[string]any{"lease_id": "database/creds/app/abc"}).
		Return(map[string]any{}, nil).Once()

	gone, err := store.Get(ctx, "db", time.Hour, false, 0, true)
	require.NoError(t, err)
	assert.Nil(t, gone)

	gone, err = store.Get(ctx, "db", 0, false, 0, false)
	require.NoError(t, err)
	assert.Nil(t, gone)
	vault.AssertExpectations(t)
}

func TestLeasesArePurgedWithSession(t *testing.T) {
	f, vault := newFactory(t, localTokenConfig(10, nil), RunLocal, nil)
	vault.On("LookupToken", "s.static").Return(map[string]any{"ttl": 3600}, nil)

	ctx := context.Background()
	store, err := f.LeaseStore(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "vault/connection/session/leases", store.cache.Bank().String())

	lease, err := interfaces.NewSecretLease(map[string]any{"lease_id": "aws/creds/app/xyz", "lease_duration": 3600})
	require.NoError(t, err)
	require.NoError(t, store.Store(ctx, "aws", lease))

	require.NoError(t, f.ClearCache(ctx, false))

	store, err = f.LeaseStore(ctx, false)
	require.NoError(t, err)
	cached, err := store.Get(ctx, "aws", 0, false, 0, false)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestImpersonationRejectsNestingPeerID(t *testing.T) {
	requester := &mockRequester{}
	for _, id := range []string{"web1/vault/connection", "..", ""} {
		_, err := New(Options{RunType: RunImpersonating, PeerID: id, Peer: requester, Log: testLogger()})
		assert.ErrorIs(t, err, interfaces.ErrInvalidConfig, id)
	}
}
