package factory

import (
	"context"

	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/peer"
	"github.com/stretchr/testify/mock"
)

type mockVaultClient struct {
	mock.Mock
	server interfaces.ServerConfig
}

func mapResult(args mock.Arguments) (map[string]any, error) {
	if v := args.Get(0); v != nil {
		return v.(map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVaultClient) ServerConfig() interfaces.ServerConfig {
	return m.server
}

func (m *mockVaultClient) Login(ctx context.Context, mount string, payload map[string]any) (map[string]any, error) {
	return mapResult(m.Called(mount, payload))
}

func (m *mockVaultClient) LookupToken(ctx context.Context, token string) (map[string]any, error) {
	return mapResult(m.Called(token))
}

func (m *mockVaultClient) RenewSelf(ctx context.Context, token string, increment int) (map[string]any, error) {
	return mapResult(m.Called(token, increment))
}

func (m *mockVaultClient) Unwrap(ctx context.Context, wrapToken string, expectedCreationPath string) (*interfaces.UnwrappedSecret, error) {
	args := m.Called(wrapToken, expectedCreationPath)
	if v := args.Get(0); v != nil {
		return v.(*interfaces.UnwrappedSecret), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVaultClient) Read(ctx context.Context, token string, path string) (map[string]any, error) {
	return mapResult(m.Called(token, path))
}

func (m *mockVaultClient) Write(ctx context.Context, token string, path string, data map[string]any) (map[string]any, error) {
	return mapResult(m.Called(token, path, data))
}

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) Request(ctx context.Context, operation string, params map[string]any, unwrapClient interfaces.VaultClient, expectedCreationPath string) (peer.Response, interfaces.VaultClient, error) {
	args := m.Called(operation, params)
	var resp peer.Response
	if v := args.Get(0); v != nil {
		resp = v.(peer.Response)
	}
	return resp, unwrapClient, args.Error(1)
}

func (m *mockVaultClient) WriteWrapped(ctx context.Context, token string, path string, data map[string]any, wrapTTL string) (map[string]any, error) {
	return mapResult(m.Called(token, path, data, wrapTTL))
}
