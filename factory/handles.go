package factory

import (
	"sync"

	"github.com/ruteri/vault-session-broker/config"
	"github.com/ruteri/vault-session-broker/vaultclient"
)

// Handle pairs an authenticated client with the configuration it was built from.
type Handle struct {
	Client *vaultclient.AuthenticatedClient
	Config *config.Config
}

// HandleCache keeps the clients built in this process, keyed by cache bank.
type HandleCache struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

func NewHandleCache() *HandleCache {
	return &HandleCache{handles: make(map[string]*Handle)}
}

func (c *HandleCache) Get(bank string) *Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handles[bank]
}

func (c *HandleCache) Put(bank string, h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles[bank] = h
}

func (c *HandleCache) Delete(bank string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, bank)
}
