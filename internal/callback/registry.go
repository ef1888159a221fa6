package callback

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/click-to-call-bridge/internal/signaling"
	"github.com/acme/click-to-call-bridge/pkg/logger"
)

// Pending is a registered matcher waiting for its inbound call.
type Pending struct {
	ID    uuid.UUID
	Owner string

	match  Predicate
	result chan signaling.InboundCall
	// done is guarded by the owner bucket's lock.
	done bool
}

// Claimed delivers the claimed call. It receives at most one value.
func (p *Pending) Claimed() <-chan signaling.InboundCall {
	return p.result
}

// bucket holds one owner's matchers in registration order.
type bucket struct {
	mu      sync.Mutex
	pending []*Pending
}

// Registry holds the pending matchers of every attempt in the process and
// is consulted by the inbound dispatcher for each new call.
//
// Matchers are bucketed by owner and each bucket has its own lock. Offer
// evaluates and claims under the bucket lock, and Deregister removes under
// the same lock, so a deregistered matcher is never evaluated and a call
// offered before deregistration is never missed. Offers for one owner never
// block registrations or offers for another. Within a bucket registration
// order decides which matcher wins.
//
// Lock order is bucket.mu before mu; mu is never held while waiting for a
// bucket. Empty buckets are kept since owners are a small, stable set.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	byID    map[uuid.UUID]*Pending
	logger  *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(lg *logger.Logger) *Registry {
	return &Registry{
		buckets: make(map[string]*bucket),
		byID:    make(map[uuid.UUID]*Pending),
		logger:  lg.Named("callback"),
	}
}

// Register adds a matcher for calls delivered to owner.
func (r *Registry) Register(owner string, match Predicate) *Pending {
	p := &Pending{
		ID:     uuid.New(),
		Owner:  owner,
		match:  match,
		result: make(chan signaling.InboundCall, 1),
	}

	b := r.bucketFor(owner, true)
	b.mu.Lock()
	b.pending = append(b.pending, p)
	r.mu.Lock()
	r.byID[p.ID] = p
	r.mu.Unlock()
	b.mu.Unlock()
	return p
}

// Deregister removes a matcher. It reports false when the matcher is no
// longer present, which means it has already claimed a call.
func (r *Registry) Deregister(id uuid.UUID) bool {
	r.mu.Lock()
	p, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return false
	}

	b := r.bucketFor(p.Owner, false)
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.done {
		return false
	}
	r.removeLocked(b, p)
	return true
}

// Offer hands an inbound call to the first matcher that accepts it. The
// winning matcher is removed and signalled; the call is not offered to any
// other matcher.
func (r *Registry) Offer(call signaling.InboundCall) (uuid.UUID, bool) {
	owner, ok := r.ownerOf(call)
	if !ok {
		return uuid.Nil, false
	}
	b := r.bucketFor(owner, false)
	if b == nil {
		return uuid.Nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.pending {
		if !r.evaluate(p, call) {
			continue
		}
		r.removeLocked(b, p)
		p.result <- call
		return p.ID, true
	}
	return uuid.Nil, false
}

// Len returns the number of pending matchers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Contains reports whether id is still pending.
func (r *Registry) Contains(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[id]
	return ok
}

// bucketFor returns the owner's bucket, creating it when create is set.
func (r *Registry) bucketFor(owner string, create bool) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[owner]
	if !ok && create {
		b = &bucket{}
		r.buckets[owner] = b
	}
	return b
}

// removeLocked marks p done and drops it. The caller holds b.mu.
func (r *Registry) removeLocked(b *bucket, p *Pending) {
	p.done = true
	for i, candidate := range b.pending {
		if candidate == p {
			b.pending = append(b.pending[:i:i], b.pending[i+1:]...)
			break
		}
	}

	r.mu.Lock()
	delete(r.byID, p.ID)
	r.mu.Unlock()
}

// evaluate runs a predicate; a panic counts as a non-match.
func (r *Registry) evaluate(p *Pending, call signaling.InboundCall) (matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("predicate panicked; treating as no match",
				zap.String("attempt_id", p.ID.String()),
				zap.Any("panic", rec),
			)
			matched = false
		}
	}()
	return p.match(call)
}

func (r *Registry) ownerOf(call signaling.InboundCall) (owner string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("inbound call owner lookup panicked", zap.Any("panic", rec))
			owner, ok = "", false
		}
	}()
	return call.Owner(), true
}
