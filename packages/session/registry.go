package session

import (
	"sync"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

// registry maps live task ids to the Request that owns them. Each operation
// holds the lock only for its own duration.
type registry struct {
	mu       sync.Mutex
	requests map[engine.TaskID]*Request
}

func newRegistry() *registry {
	return &registry{requests: make(map[engine.TaskID]*Request)}
}

func (r *registry) Register(id engine.TaskID, req *Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[id] = req
}

func (r *registry) Lookup(id engine.TaskID) (*Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	return req, ok
}

func (r *registry) Unregister(id engine.TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, id)
}

// Replace moves req from oldID to newID in one step, so a concurrent lookup
// sees either the old mapping or the new one.
func (r *registry) Replace(oldID, newID engine.TaskID, req *Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, oldID)
	r.requests[newID] = req
}

func (r *registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}
