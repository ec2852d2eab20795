// Package registry implements the Capability Registry: the in-memory
// mapping from a capability name to its owning server, and from a server
// name to its descriptor.
package registry

import (
	"log/slog"
	"sync"

	"github.com/mcprouter/mcprouter/internal/types"
)

// Registry holds the current ownership snapshot. Writes happen only from
// the indexer; reads may be concurrent.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	owners   map[string]string
	servers  map[string]types.ServerDescriptor
}

// New builds an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		owners:  make(map[string]string),
		servers: make(map[string]types.ServerDescriptor),
	}
}

// RegisterServer records a server descriptor under its name.
func (r *Registry) RegisterServer(desc types.ServerDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[desc.Name] = desc
}

// RegisterToolOwner binds tool to server, overwriting any existing binding
// and warning on collision (last-writer-wins, by design).
func (r *Registry) RegisterToolOwner(tool, server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.owners[tool]; ok && prev != server {
		r.logger.Warn("capability name collision, last writer wins",
			"tool", tool, "previous_owner", prev, "new_owner", server)
	}
	r.owners[tool] = server
}

// ResolveServer returns the descriptor owning tool, if any.
func (r *Registry) ResolveServer(tool string) (types.ServerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	server, ok := r.owners[tool]
	if !ok {
		return types.ServerDescriptor{}, false
	}
	desc, ok := r.servers[server]
	return desc, ok
}

// DeleteServer removes a server descriptor and every tool it owns.
func (r *Registry) DeleteServer(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, server)
	for tool, owner := range r.owners {
		if owner == server {
			delete(r.owners, tool)
		}
	}
}

// ToolCount returns the number of registered tool bindings.
func (r *Registry) ToolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
