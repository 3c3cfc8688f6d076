package venue

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the connectors enabled for a run, keyed by exchange name.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector, rejecting duplicate names.
func (r *Registry) Register(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[c.Name()]; exists {
		return fmt.Errorf("connector %s already registered", c.Name())
	}
	r.connectors[c.Name()] = c
	return nil
}

// Get returns the connector for an exchange.
func (r *Registry) Get(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[name]
	return c, ok
}

// Names returns registered exchange names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered connectors ordered by name.
func (r *Registry) All() []Connector {
	names := r.Names()
	out := make([]Connector, 0, len(names))
	for _, n := range names {
		c, _ := r.Get(n)
		out = append(out, c)
	}
	return out
}
