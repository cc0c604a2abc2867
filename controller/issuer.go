package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/vaultclient"
)

// Issuer performs the Vault operations backing credential issuance.
// Responses are raw Vault response bodies: wrapped responses carry
// wrap_info instead of auth or data.
type Issuer interface {
	// CreateToken creates a child token, through the token role when role
	// is not empty.
	CreateToken(ctx context.Context, role string, request map[string]any, wrap config.WrapTTL) (map[string]any, error)

	// ReadAppRole returns the settings of an AppRole, or nil if it does not exist.
	ReadAppRole(ctx context.Context, mount, name string) (map[string]any, error)

	// UpsertAppRole creates or updates an AppRole.
	UpsertAppRole(ctx context.Context, mount, name string, params map[string]any) error

	// RoleID returns the role id of an AppRole.
	RoleID(ctx context.Context, mount, name string) (string, error)

	// CreateSecretID generates a secret id for an AppRole.
	CreateSecretID(ctx context.Context, mount, name string, metadata map[string]string, wrap config.WrapTTL) (map[string]any, error)

	// ManageEntity writes entity metadata for name and aliases the entity
	// to the AppRole identified by roleID.
	ManageEntity(ctx context.Context, mount, name, roleID string, metadata map[string]string) error

	// Wrap wraps data in a response-wrapping token.
	Wrap(ctx context.Context, data map[string]any, wrap config.WrapTTL) (map[string]any, error)
}

// ClientSource returns the controller's own authenticated Vault client.
type ClientSource func(ctx context.Context) (*vaultclient.AuthenticatedClient, error)

// VaultIssuer implements Issuer on the controller's Vault session.
type VaultIssuer struct {
	client ClientSource
	log    *slog.Logger
}

func NewVaultIssuer(client ClientSource, log *slog.Logger) *VaultIssuer {
	return &VaultIssuer{client: client, log: log}
}

func (i *VaultIssuer) write(ctx context.Context, path string, data map[string]any, wrap config.WrapTTL) (map[string]any, error) {
	client, err := i.client(ctx)
	if err != nil {
		return nil, err
	}
	if wrap != "" {
		return client.WriteWrapped(ctx, path, data, string(wrap))
	}
	return client.Write(ctx, path, data)
}

func (i *VaultIssuer) read(ctx context.Context, path string) (map[string]any, error) {
	client, err := i.client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Read(ctx, path)
}

func (i *VaultIssuer) CreateToken(ctx context.Context, role string, request map[string]any, wrap config.WrapTTL) (map[string]any, error) {
	path := "auth/token/create"
	if role != "" {
		path += "/" + role
	}
	resp, err := i.write(ctx, path, request, wrap)
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}
	return resp, nil
}

func (i *VaultIssuer) ReadAppRole(ctx context.Context, mount, name string) (map[string]any, error) {
	resp, err := i.read(ctx, rolePath(mount, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read approle %s: %w", name, err)
	}
	if resp == nil {
		return nil, nil
	}
	data, _ := resp["data"].(map[string]any)
	return data, nil
}

func (i *VaultIssuer) UpsertAppRole(ctx context.Context, mount, name string, params map[string]any) error {
	if _, err := i.write(ctx, rolePath(mount, name), params, ""); err != nil {
		return fmt.Errorf("failed to write approle %s: %w", name, err)
	}
	return nil
}

func (i *VaultIssuer) RoleID(ctx context.Context, mount, name string) (string, error) {
	resp, err := i.read(ctx, rolePath(mount, name)+"/role-id")
	if err != nil {
		return "", fmt.Errorf("failed to read role id of %s: %w", name, err)
	}
	data, _ := resp["data"].(map[string]any)
	roleID, _ := data["role_id"].(string)
	if roleID == "" {
		return "", interfaces.ExecutionErrorf("approle %s has no role id", name)
	}
	return roleID, nil
}

func (i *VaultIssuer) CreateSecretID(ctx context.Context, mount, name string, metadata map[string]string, wrap config.WrapTTL) (map[string]any, error) {
	request := map[string]any{}
	if len(metadata) > 0 {
		// Vault expects secret id metadata as a JSON encoded string
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode secret id metadata: %w", err)
		}
		request["metadata"] = string(encoded)
	}

	resp, err := i.write(ctx, rolePath(mount, name)+"/secret-id", request, wrap)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret id for %s: %w", name, err)
	}
	return resp, nil
}

func (i *VaultIssuer) ManageEntity(ctx context.Context, mount, name, roleID string, metadata map[string]string) error {
	if _, err := i.write(ctx, "identity/entity/name/"+name, map[string]any{"metadata": metadata}, ""); err != nil {
		return fmt.Errorf("failed to write entity %s: %w", name, err)
	}

	entity, err := i.read(ctx, "identity/entity/name/"+name)
	if err != nil {
		return fmt.Errorf("failed to read entity %s: %w", name, err)
	}
	entityData, _ := entity["data"].(map[string]any)
	entityID, _ := entityData["id"].(string)
	if entityID == "" {
		return interfaces.ExecutionErrorf("entity %s has no id", name)
	}

	mounts, err := i.read(ctx, "sys/auth")
	if err != nil {
		return fmt.Errorf("failed to list auth mounts: %w", err)
	}
	mounts, _ = mounts["data"].(map[string]any)
	mountInfo, _ := mounts[mount+"/"].(map[string]any)
	accessor, _ := mountInfo["accessor"].(string)
	if accessor == "" {
		return interfaces.ExecutionErrorf("auth mount %s not found", mount)
	}

	existing, err := i.write(ctx, "identity/lookup/entity-alias", map[string]any{"name": roleID, "mount_accessor": accessor}, "")
	if err != nil {
		return fmt.Errorf("failed to look up entity alias: %w", err)
	}
	alias, _ := existing["data"].(map[string]any)
	if alias == nil {
		_, err = i.write(ctx, "identity/entity-alias", map[string]any{
			"name":           roleID,
			"canonical_id":   entityID,
			"mount_accessor": accessor,
		}, "")
	} else if alias["canonical_id"] != entityID {
		aliasID, _ := alias["id"].(string)
		i.log.Info("Moving entity alias", slog.String("peer", name), slog.String("alias", aliasID))
		_, err = i.write(ctx, "identity/entity-alias/id/"+aliasID, map[string]any{
			"canonical_id":   entityID,
			"mount_accessor": accessor,
		}, "")
	}
	if err != nil {
		return fmt.Errorf("failed to write entity alias: %w", err)
	}
	return nil
}

func (i *VaultIssuer) Wrap(ctx context.Context, data map[string]any, wrap config.WrapTTL) (map[string]any, error) {
	resp, err := i.write(ctx, "sys/wrapping/wrap", data, wrap)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap response: %w", err)
	}
	return resp, nil
}

func rolePath(mount, name string) string {
	return fmt.Sprintf("auth/%s/role/%s", mount, name)
}
