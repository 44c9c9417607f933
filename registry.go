package meterd

import (
	"sort"
	"sync"
	"time"
)

// HandlerInfo describes a live handler.
type HandlerInfo struct {
	ID         uint64
	RemoteAddr string
	Started    time.Time
}

// handlerRegistry tracks the handlers that have been spawned and not yet
// reaped. The accept loop adds; only the reaper removes.
type handlerRegistry struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]*handler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		handlers: make(map[uint64]*handler),
	}
}

// add assigns h its ID and records it.
func (r *handlerRegistry) add(h *handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	h.id = r.nextID
	r.handlers[h.id] = h
}

// remove drops h and reports whether it was present. A second remove of
// the same handler returns false.
func (r *handlerRegistry) remove(h *handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[h.id]; !ok {
		return false
	}
	delete(r.handlers, h.id)
	return true
}

func (r *handlerRegistry) has(h *handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[h.id]
	return ok
}

func (r *handlerRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// snapshot returns the live handlers ordered by ID.
func (r *handlerRegistry) snapshot() []HandlerInfo {
	r.mu.Lock()
	infos := make([]HandlerInfo, 0, len(r.handlers))
	for _, h := range r.handlers {
		infos = append(infos, h.info())
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// closeConns closes the connection of every live handler so blocked reads
// and writes return. The handlers still complete and get reaped normally.
func (r *handlerRegistry) closeConns() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.handlers {
		_ = h.conn.Close()
	}
	return len(r.handlers)
}
