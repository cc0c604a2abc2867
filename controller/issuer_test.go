package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ruteri/vault-session-broker/auth"
	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/vaultclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method  string
	path    string
	wrapTTL string
	body    map[string]any
}

// fakeVault answers with canned bodies per path and records every request.
type fakeVault struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string]map[string]any
}

func (v *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{method: r.Method, path: r.URL.Path, wrapTTL: r.Header.Get("X-Vault-Wrap-TTL")}
	// GET requests carry no body
	_ = json.NewDecoder(r.Body).Decode(&rec.body)

	v.mu.Lock()
	v.requests = append(v.requests, rec)
	resp, ok := v.responses[r.Method+" "+r.URL.Path]
	v.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (v *fakeVault) find(method, path string) *recordedRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.requests {
		if v.requests[i].method == method && v.requests[i].path == path {
			return &v.requests[i]
		}
	}
	return nil
}

func newTestIssuer(t *testing.T, vault *fakeVault) *VaultIssuer {
	t.Helper()
	server := httptest.NewServer(vault)
	t.Cleanup(server.Close)

	base, err := vaultclient.New(interfaces.ServerConfig{URL: server.URL}, testLogger())
	require.NoError(t, err)
	token, err := interfaces.NewTokenFromAuth(map[string]any{"client_token": "s.controller", "lease_duration": 3600})
	require.NoError(t, err)
	client := vaultclient.NewAuthenticated(base, auth.NewTokenAuth(token, nil, testLogger()), testLogger())

	return NewVaultIssuer(func(context.Context) (*vaultclient.AuthenticatedClient, error) {
		return client, nil
	}, testLogger())
}

func TestVaultIssuerCreateToken(t *testing.T) {
	vault := &fakeVault{responses: map[string]map[string]any{
		"POST /v1/auth/token/create/peers": {
			"wrap_info": map[string]any{"token": "s.wrap", "creation_path": "auth/token/create/peers"},
		},
	}}
	issuer := newTestIssuer(t, vault)

	resp, err := issuer.CreateToken(context.Background(), "peers", map[string]any{"num_uses": 1}, "30s")
	require.NoError(t, err)
	assert.Equal(t, "s.wrap", resp["wrap_info"].(map[string]any)["token"])

	req := vault.find(http.MethodPost, "/v1/auth/token/create/peers")
	require.NotNil(t, req)
	assert.Equal(t, "30s", req.wrapTTL)
	assert.Equal(t, float64(1), req.body["num_uses"])
}

func TestVaultIssuerSecretID(t *testing.T) {
	vault := &fakeVault{responses: map[string]map[string]any{
		"POST /v1/auth/peers/role/web01/secret-id": {
			"data": map[string]any{"secret_id": "sid", "secret_id_num_uses": 1},
		},
		"GET /v1/auth/peers/role/web01/role-id": {
			"data": map[string]any{"role_id": "role-1"},
		},
	}}
	issuer := newTestIssuer(t, vault)

	resp, err := issuer.CreateSecretID(context.Background(), "peers", "web01", map[string]string{"broker-peer": "web01"}, "")
	require.NoError(t, err)
	assert.Equal(t, "sid", resp["data"].(map[string]any)["secret_id"])

	req := vault.find(http.MethodPost, "/v1/auth/peers/role/web01/secret-id")
	require.NotNil(t, req)
	assert.Empty(t, req.wrapTTL)
	assert.JSONEq(t, `{"broker-peer":"web01"}`, req.body["metadata"].(string))

	roleID, err := issuer.RoleID(context.Background(), "peers", "web01")
	require.NoError(t, err)
	assert.Equal(t, "role-1", roleID)

	current, err := issuer.ReadAppRole(context.Background(), "peers", "missing")
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestVaultIssuerManageEntity(t *testing.T) {
	vault := &fakeVault{responses: map[string]map[string]any{
		"GET /v1/identity/entity/name/web01": {
			"data": map[string]any{"id": "entity-1"},
		},
		"GET /v1/sys/auth": {
			"data": map[string]any{"peers/": map[string]any{"accessor": "auth_approle_1"}},
		},
	}}
	issuer := newTestIssuer(t, vault)

	err := issuer.ManageEntity(context.Background(), "peers", "web01", "role-1", map[string]string{"peer-id": "web01"})
	require.NoError(t, err)

	entity := vault.find(http.MethodPost, "/v1/identity/entity/name/web01")
	require.NotNil(t, entity)
	assert.Equal(t, map[string]any{"peer-id": "web01"}, entity.body["metadata"])

	alias := vault.find(http.MethodPost, "/v1/identity/entity-alias")
	require.NotNil(t, alias)
	assert.Equal(t, map[string]any{
		"name":           "role-1",
		"canonical_id":   "entity-1",
		"mount_accessor": "auth_approle_1",
	}, alias.body)
}
