package controller

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-yaml"
	"github.com/ruteri/vault-session-broker/cryptoutils"
	"github.com/ruteri/vault-session-broker/interfaces"
	"github.com/ruteri/vault-session-broker/peer"
)

var (
	ErrUnknownPeer      = errors.New("unknown peer")
	ErrInvalidSignature = errors.New("invalid peer signature")
)

// PeerRegistry maps peer ids to the addresses of their signing keys.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]common.Address
}

func NewPeerRegistry(peers map[string]common.Address) *PeerRegistry {
	r := &PeerRegistry{peers: make(map[string]common.Address, len(peers))}
	for id, addr := range peers {
		r.peers[id] = addr
	}
	return r
}

// LoadPeerRegistry reads a YAML file mapping peer ids to hex addresses:
//
//	peers:
//	  web01: "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"
func LoadPeerRegistry(path string) (*PeerRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read peer registry: %w", err)
	}

	var file struct {
		Peers map[string]string `yaml:"peers"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("could not parse peer registry: %w", err)
	}

	peers := make(map[string]common.Address, len(file.Peers))
	for id, hexAddr := range file.Peers {
		if err := interfaces.ValidatePeerID(id); err != nil {
			return nil, err
		}
		if !common.IsHexAddress(hexAddr) {
			return nil, fmt.Errorf("invalid address %q for peer %s", hexAddr, id)
		}
		peers[id] = common.HexToAddress(hexAddr)
	}
	return NewPeerRegistry(peers), nil
}

// Address returns the registered address of id.
func (r *PeerRegistry) Address(id string) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.peers[id]
	return addr, ok
}

// Register adds or replaces a peer.
func (r *PeerRegistry) Register(id string, addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[id] = addr
}

// Verifier authenticates request envelopes. Impersonated requests must be
// signed by the controller itself.
type Verifier struct {
	Registry   *PeerRegistry
	Controller common.Address
}

func (v *Verifier) Verify(env peer.Envelope) error {
	if env.PeerID == "" {
		return fmt.Errorf("%w: missing peer id", ErrInvalidSignature)
	}

	expected := v.Controller
	if !env.Impersonated {
		addr, ok := v.Registry.Address(env.PeerID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, env.PeerID)
		}
		expected = addr
	}

	sig, err := env.DecodeSignature()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if err := cryptoutils.VerifySignature([]byte(env.PeerID), sig, expected); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}
