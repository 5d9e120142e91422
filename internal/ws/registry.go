package ws

import "sync"

// Registry is the process-wide map from charge point identity to its
// live connections. It is injected, not a package singleton, so tests
// can run isolated instances. A charge point may hold more than one
// socket during a reconnect overlap.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: map[string]map[*Conn]struct{}{}}
}

func (r *Registry) Add(cpId string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[cpId]
	if !ok {
		set = map[*Conn]struct{}{}
		r.conns[cpId] = set
	}
	set[c] = struct{}{}
}

// Remove drops the connection and reports how many remain for the
// charge point.
func (r *Registry) Remove(cpId string, c *Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[cpId]
	if !ok {
		return 0
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, cpId)
		return 0
	}
	return len(set)
}

func (r *Registry) Lookup(cpId string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[cpId]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Count(cpId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[cpId])
}
