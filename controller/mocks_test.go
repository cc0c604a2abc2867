package controller

import (
	"context"

	"github.com/ruteri/vault-session-broker/config"
	"github.com/stretchr/testify/mock"
)

type mockIssuer struct {
	mock.Mock
}

func mapResult(args mock.Arguments) (map[string]any, error) {
	if v := args.Get(0); v != nil {
		return v.(map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockIssuer) CreateToken(ctx context.Context, role string, request map[string]any, wrap config.WrapTTL) (map[string]any, error) {
	return mapResult(m.Called(ctx, role, request, wrap))
}

func (m *mockIssuer) ReadAppRole(ctx context.Context, mount, name string) (map[string]any, error) {
	return mapResult(m.Called(ctx, mount, name))
}

func (m *mockIssuer) UpsertAppRole(ctx context.Context, mount, name string, params map[string]any) error {
	return m.Called(ctx, mount, name, params).Error(0)
}

func (m *mockIssuer) RoleID(ctx context.Context, mount, name string) (string, error) {
	args := m.Called(ctx, mount, name)
	return args.String(0), args.Error(1)
}

func (m *mockIssuer) CreateSecretID(ctx context.Context, mount, name string, metadata map[string]string, wrap config.WrapTTL) (map[string]any, error) {
	return mapResult(m.Called(ctx, mount, name, metadata, wrap))
}

func (m *mockIssuer) ManageEntity(ctx context.Context, mount, name, roleID string, metadata map[string]string) error {
	return m.Called(ctx, mount, name, roleID, metadata).Error(0)
}

func (m *mockIssuer) Wrap(ctx context.Context, data map[string]any, wrap config.WrapTTL) (map[string]any, error) {
	return mapResult(m.Called(ctx, data, wrap))
}
