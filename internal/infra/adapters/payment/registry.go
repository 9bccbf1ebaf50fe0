package payment

import (
	"sync"

	"shop-fulfillment/internal/domain"
	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/adapter"
)

var _ adapter.MethodRegistry = (*Registry)(nil)

// Registry maps payment method ids to factories. Registration order is kept
// for listing; re-registering an id replaces the factory in place.
// Safe for concurrent use, so plugins may register after startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]adapter.MethodFactory
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]adapter.MethodFactory)}
}

func (r *Registry) Register(id string, factory adapter.MethodFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; !ok {
		r.order = append(r.order, id)
	}
	r.factories[id] = factory
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// Resolve builds a fresh method instance. Unknown ids give nil, nil.
func (r *Registry) Resolve(id string, gw *model.Gateway) (adapter.PaymentMethod, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return f(gw)
}

func (r *Registry) ResolveOrFail(id string, gw *model.Gateway) (adapter.PaymentMethod, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &domain.UnsupportedMethodError{MethodID: id}
	}
	return f(gw)
}

func (r *Registry) List() []adapter.MethodRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]adapter.MethodRegistration, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, adapter.MethodRegistration{ID: id, Factory: r.factories[id]})
	}
	return out
}
