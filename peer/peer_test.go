package peer

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/ruteri/vault-session-broker/cryptoutils"
	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTransport struct {
	result   any
	err      error
	envelope Envelope
	params   map[string]any
}

func (f *fakeTransport) Call(_ context.Context, _ string, envelope Envelope, params map[string]any) (any, error) {
	f.envelope = envelope
	f.params = params
	return f.result, f.err
}

type mockUnwrapper struct {
	mock.Mock
	server interfaces.ServerConfig
}

func (m *mockUnwrapper) ServerConfig() interfaces.ServerConfig { return m.server }

func (m *mockUnwrapper) Login(context.Context, string, map[string]any) (map[string]any, error) {
	panic("not implemented")
}

func (m *mockUnwrapper) LookupToken(context.Context, string) (map[string]any, error) {
	panic("not implemented")
}

func (m *mockUnwrapper) RenewSelf(context.Context, string, int) (map[string]any, error) {
	panic("not implemented")
}

func (m *mockUnwrapper) Unwrap(ctx context.Context, wrapToken string, expectedCreationPath string) (*interfaces.UnwrappedSecret, error) {
	args := m.Called(wrapToken, expectedCreationPath)
	if v := args.Get(0); v != nil {
		return v.(*interfaces.UnwrappedSecret), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUnwrapper) Read(context.Context, string, string) (map[string]any, error) {
	panic("not implemented")
}

func (m *mockUnwrapper) Write(context.Context, string, string, map[string]any) (map[string]any, error) {
	panic("not implemented")
}

func (m *mockUnwrapper) WriteWrapped(context.Context, string, string, map[string]any, string) (map[string]any, error) {
	panic("not implemented")
}

type protocolFixture struct {
	transport *fakeTransport
	built     []interfaces.ServerConfig
	client    *mockUnwrapper
	protocol  *Protocol
	signer    *cryptoutils.Signer
}

func newFixture(t *testing.T, result any, local map[string]any) *protocolFixture {
	t.Helper()
	signer, err := cryptoutils.GenerateSigner("peer-1")
	require.NoError(t, err)

	f := &protocolFixture{
		transport: &fakeTransport{result: result},
		client:    &mockUnwrapper{},
		signer:    signer,
	}
	f.protocol = NewProtocol(ProtocolConfig{
		Transport: f.transport,
		Signer:    signer,
		Local:     local,
		NewClient: func(server interfaces.ServerConfig) (interfaces.VaultClient, error) {
			f.built = append(f.built, server)
			f.client.server = server
			return f.client, nil
		},
		Log: testLogger(),
	})
	return f
}

func TestEnvelopeSignature(t *testing.T) {
	f := newFixture(t, map[string]any{"data": map[string]any{"a": 1}}, nil)

	_, _, err := f.protocol.Request(context.Background(), OpGetConfig, map[string]any{"x": 1}, nil, "")
	require.NoError(t, err)

	env := f.transport.envelope
	assert.Equal(t, "peer-1", env.PeerID)
	assert.False(t, env.Impersonated)
	assert.Equal(t, map[string]any{"x": 1}, f.transport.params)

	sig, err := env.DecodeSignature()
	require.NoError(t, err)
	require.NoError(t, cryptoutils.VerifySignature([]byte(env.PeerID), sig, f.signer.Address()))
}

func TestCheckResultErrors(t *testing.T) {
	tests := []struct {
		name     string
		result   any
		expected []error
	}{
		{name: "nil", result: nil, expected: []error{interfaces.ErrConfigExpired, interfaces.ErrEmptyResponse}},
		{name: "empty mapping", result: map[string]any{}, expected: []error{interfaces.ErrConfigExpired, interfaces.ErrEmptyResponse}},
		{name: "not a mapping", result: []any{"a"}, expected: []error{interfaces.ErrExecution}},
		{name: "error", result: map[string]any{"error": "nope"}, expected: []error{interfaces.ErrExecution}},
		{name: "error with expiry", result: map[string]any{"error": "wrong issue type", "expire_cache": true}, expected: []error{interfaces.ErrConfigExpired}},
		{name: "expiry without error", result: map[string]any{"data": map[string]any{}, "expire_cache": true}, expected: []error{interfaces.ErrConfigExpired}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.result, nil)
			_, _, err := f.protocol.Request(context.Background(), OpGenerateNewToken, nil, nil, "")
			require.Error(t, err)
			for _, expected := range tt.expected {
				assert.ErrorIs(t, err, expected)
			}
		})
	}
}

func TestTransportErrorPropagates(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.transport.err = interfaces.ErrPermissionDenied

	_, _, err := f.protocol.Request(context.Background(), OpGenerateNewToken, nil, nil, "")
	assert.ErrorIs(t, err, interfaces.ErrPermissionDenied)
}

func TestUnwrapTopLevelAndNested(t *testing.T) {
	result := map[string]any{
		"server":    map[string]any{"url": "https://vault:8200"},
		"wrap_info": map[string]any{"token": "s.top"},
		"auth": map[string]any{
			"method": "token",
			"token":  map[string]any{"wrap_info": map[string]any{"token": "s.nested"}},
		},
		"wrap_info_nested": []any{"auth:token"},
		"misc_data":        map[string]any{"secret_id_num_uses": 3, "secret_id": "ignored"},
	}
	f := newFixture(t, result, nil)
	f.client.On("Unwrap", "s.top", "expected").Return(&interfaces.UnwrappedSecret{Data: map[string]any{"secret_id": "sid"}}, nil).Once()
	f.client.On("Unwrap", "s.nested", "expected").Return(&interfaces.UnwrappedSecret{Auth: map[string]any{"client_token": "s.inner"}}, nil).Once()

	resp, client, err := f.protocol.Request(context.Background(), OpGetConfig, nil, nil, "expected")
	require.NoError(t, err)
	f.client.AssertExpectations(t)

	require.Len(t, f.built, 1)
	assert.Equal(t, interfaces.ServerConfig{URL: "https://vault:8200"}, f.built[0])
	assert.Same(t, f.client, client)

	assert.Equal(t, map[string]any{"client_token": "s.inner"}, resp.Auth()["token"])
	// misc data only fills unset keys of data
	assert.Equal(t, "sid", resp.Data()["secret_id"])
	assert.Equal(t, 3, resp.Data()["secret_id_num_uses"])

	assert.NotContains(t, resp, "wrap_info")
	assert.NotContains(t, resp, "wrap_info_nested")
	assert.NotContains(t, resp, "misc_data")
}

func TestMiscDataMergesIntoAuth(t *testing.T) {
	f := newFixture(t, map[string]any{
		"auth":      map[string]any{"client_token": "s.tok"},
		"misc_data": map[string]any{"num_uses": 5},
	}, nil)

	resp, _, err := f.protocol.Request(context.Background(), OpGenerateNewToken, nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Auth()["num_uses"])
}

func TestServerMismatchExpiresAfterUnwrapping(t *testing.T) {
	result := map[string]any{
		"server":    map[string]any{"url": "https://new-vault:8200"},
		"wrap_info": map[string]any{"token": "s.top"},
	}
	f := newFixture(t, result, nil)
	f.client.On("Unwrap", "s.top", "").Return(&interfaces.UnwrappedSecret{Auth: map[string]any{"client_token": "s.x"}}, nil).Once()

	cached := &mockUnwrapper{server: interfaces.ServerConfig{URL: "https://old-vault:8200"}}
	_, _, err := f.protocol.Request(context.Background(), OpGenerateNewToken, nil, cached, "auth/token/create")
	assert.ErrorIs(t, err, interfaces.ErrConfigExpired)

	// the wrapped secret is consumed with a client for the reported server
	f.client.AssertExpectations(t)
	cached.AssertNotCalled(t, "Unwrap", mock.Anything, mock.Anything)
	require.Len(t, f.built, 1)
	assert.Equal(t, "https://new-vault:8200", f.built[0].URL)
}

func TestExpiredResponseUnwrapsEveryNestedPath(t *testing.T) {
	result := map[string]any{
		"server":       map[string]any{"url": "https://vault:8200"},
		"expire_cache": true,
		"auth": map[string]any{
			"method":  "approle",
			"token":   map[string]any{"wrap_info": map[string]any{"token": "s.colon"}},
			"role_id": map[string]any{"wrap_info": map[string]any{"token": "s.dot"}},
		},
		"wrap_info_nested": []any{"auth:token", "auth.role_id"},
	}
	f := newFixture(t, result, nil)
	f.client.On("Unwrap", "s.colon", "").Return(&interfaces.UnwrappedSecret{Auth: map[string]any{"client_token": "s.inner"}}, nil).Once()
	f.client.On("Unwrap", "s.dot", "").Return(&interfaces.UnwrappedSecret{Data: map[string]any{"role_id": "rid"}}, nil).Once()

	resp, _, err := f.protocol.Request(context.Background(), OpGetConfig, nil, nil, "")
	assert.ErrorIs(t, err, interfaces.ErrConfigExpired)
	assert.Nil(t, resp)

	// wrapping tokens are single use, so they are consumed before expiring
	f.client.AssertExpectations(t)
	f.client.AssertNumberOfCalls(t, "Unwrap", 2)
}

func TestLocalVerifyOverrideAvoidsMismatch(t *testing.T) {
	result := map[string]any{
		"server":    map[string]any{"url": "https://vault:8200", "verify": true},
		"wrap_info": map[string]any{"token": "s.top"},
	}
	f := newFixture(t, result, map[string]any{"server": map[string]any{"verify": "/etc/ca.pem"}})

	cached := &mockUnwrapper{server: interfaces.ServerConfig{URL: "https://vault:8200", Verify: "/etc/ca.pem"}}
	cached.On("Unwrap", "s.top", "auth/token/create").Return(&interfaces.UnwrappedSecret{Auth: map[string]any{"client_token": "s.x"}}, nil).Once()

	resp, client, err := f.protocol.Request(context.Background(), OpGenerateNewToken, nil, cached, "auth/token/create")
	require.NoError(t, err)
	assert.Same(t, cached, client)
	assert.Empty(t, f.built)
	assert.Equal(t, "s.x", resp.Auth()["client_token"])
	assert.Equal(t, "/etc/ca.pem", resp["server"].(map[string]any)["verify"])
}

func TestWrappedWithoutServer(t *testing.T) {
	f := newFixture(t, map[string]any{"wrap_info": map[string]any{"token": "s.top"}}, nil)
	_, _, err := f.protocol.Request(context.Background(), OpGenerateNewToken, nil, nil, "")
	assert.ErrorIs(t, err, interfaces.ErrExecution)
}

func TestPaths(t *testing.T) {
	m := map[string]any{}
	setPath(m, "auth:token", "a")
	setPath(m, "cache.config", 5)
	v, ok := traverse(m, "auth.token")
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	v, ok = traverse(m, "cache:config")
	assert.True(t, ok)
	assert.Equal(t, 5, v)
	_, ok = traverse(m, "auth:token:deeper")
	assert.False(t, ok)
}

func TestHTTPTransport(t *testing.T) {
	signer, err := cryptoutils.GenerateSigner("peer-1")
	require.NoError(t, err)
	env, err := NewEnvelope(signer, true)
	require.NoError(t, err)

	failures := atomic.NewInt32(1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case OperationPath("get_config"):
			var payload Payload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, env, payload.Envelope)
			assert.Equal(t, "b", payload.Params["a"])
			_, _ = w.Write([]byte(`{"server":{"url":"https://vault"}}`))
		case OperationPath("flaky"):
			if failures.Dec() >= 0 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"ok":true}`))
		case OperationPath("forbidden"):
			w.WriteHeader(http.StatusForbidden)
		case OperationPath("empty"):
			w.WriteHeader(http.StatusOK)
		case OperationPath("bad"):
			w.WriteHeader(http.StatusBadRequest)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL+"/", 5*time.Second, testLogger())
	transport.maxElapsed = 5 * time.Second
	ctx := context.Background()

	result, err := transport.Call(ctx, "get_config", env, map[string]any{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"server": map[string]any{"url": "https://vault"}}, result)

	result, err = transport.Call(ctx, "flaky", env, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)

	_, err = transport.Call(ctx, "forbidden", env, nil)
	assert.ErrorIs(t, err, interfaces.ErrPermissionDenied)

	_, err = transport.Call(ctx, "bad", env, nil)
	assert.ErrorIs(t, err, interfaces.ErrExecution)

	result, err = transport.Call(ctx, "empty", env, nil)
	require.NoError(t, err)
	assert.Nil(t, result)

	result, err = transport.Call(ctx, "unpublished", env, nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}
