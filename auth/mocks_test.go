package auth

import (
	"context"

	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/peer"
	"github.com/stretchr/testify/mock"
)

type mockVaultClient struct {
	mock.Mock
}

func mapResult(args mock.Arguments) (map[string]any, error) {
	if v := args.Get(0); v != nil {
		return v.(map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVaultClient) ServerConfig() interfaces.ServerConfig {
	return m.Called().Get(0).(interfaces.ServerConfig)
}

func (m *mockVaultClient) Login(ctx context.Context, mount string, payload map[string]any) (map[string]any, error) {
	return mapResult(m.Called(ctx, mount, payload))
}

func (m *mockVaultClient) LookupToken(ctx context.Context, token string) (map[string]any, error) {
	return mapResult(m.Called(ctx, token))
}

func (m *mockVaultClient) RenewSelf(ctx context.Context, token string, increment int) (map[string]any, error) {
	return mapResult(m.Called(ctx, token, increment))
}

func (m *mockVaultClient) Unwrap(ctx context.Context, wrapToken string, expectedCreationPath string) (*interfaces.UnwrappedSecret, error) {
	args := m.Called(ctx, wrapToken, expectedCreationPath)
	if v := args.Get(0); v != nil {
		return v.(*interfaces.UnwrappedSecret), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVaultClient) Read(ctx context.Context, token string, path string) (map[string]any, error) {
	return mapResult(m.Called(ctx, token, path))
}

func (m *mockVaultClient) Write(ctx context.Context, token string, path string, data map[string]any) (map[string]any, error) {
	return mapResult(m.Called(ctx, token, path, data))
}

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) Request(ctx context.Context, operation string, params map[string]any, unwrapClient interfaces.VaultClient, expectedCreationPath string) (peer.Response, interfaces.VaultClient, error) {
	args := m.Called(ctx, operation, params, unwrapClient, expectedCreationPath)
	var resp peer.Response
	if v := args.Get(0); v != nil {
		resp = v.(peer.Response)
	}
	var client interfaces.VaultClient
	if v := args.Get(1); v != nil {
		client = v.(interfaces.VaultClient)
	}
	return resp, client, args.Error(2)
}

func (m *mockVaultClient) WriteWrapped(ctx context.Context, token string, path string, data map[string]any, wrapTTL string) (map[string]any, error) {
	return mapResult(m.Called(ctx, token, path, data, wrapTTL))
}
