package router

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/sidecarproxy/internal/core/domain"
	"github.com/thushan/sidecarproxy/internal/dataplane/bind"
)

// Router memoizes Bound Services by Destination Key. Eviction policy is
// LRU-bounded and treated as external; this registry never evicts on its
// own, callers that need bounded memory wrap Evict around their own
// policy.
type Router struct {
	services *xsync.Map[domain.DestinationKey, *bind.Service]
	factory  *bind.Factory
}

// New builds a Router backed by factory for lazy Bound Service creation.
func New(factory *bind.Factory) *Router {
	return &Router{
		services: xsync.NewMap[domain.DestinationKey, *bind.Service](),
		factory:  factory,
	}
}

// BindService returns the existing Bound Service for key, creating one via
// the Router's Factory if this is the first request for that key. Every
// Bound Service corresponds to exactly one Destination Key.
func (rt *Router) BindService(key domain.DestinationKey) *bind.Service {
	svc, _ := rt.services.LoadOrCompute(key, func() (*bind.Service, bool) {
		return rt.factory.BindService(key), false
	})
	return svc
}

// Evict removes a Bound Service from the registry, e.g. when its discovery
// Watch reports the destination is gone.
func (rt *Router) Evict(key domain.DestinationKey) {
	rt.services.Delete(key)
}

// Len reports how many Destination Keys currently have a Bound Service,
// used by the control listener's status/dashboard views.
func (rt *Router) Len() int {
	return rt.services.Size()
}
