package genai

import "sync"

// Rotator hands out endpoints in round-robin order.
type Rotator struct {
	mu        sync.Mutex
	endpoints []string
	next      int
}

// NewRotator returns a rotator over endpoints. It fails when the list is empty.
func NewRotator(endpoints []string) (*Rotator, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return &Rotator{endpoints: append([]string(nil), endpoints...)}, nil
}

// Next returns the current endpoint and advances the index.
func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep := r.endpoints[r.next]
	r.next = (r.next + 1) % len(r.endpoints)
	return ep
}

// Len returns the number of endpoints.
func (r *Rotator) Len() int {
	return len(r.endpoints)
}
