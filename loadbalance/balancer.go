// Package loadbalance picks which registered instance a new connection goes
// to.
//
//   - RoundRobin:      instances of equal capacity
//   - WeightedRandom:  instances of different capacity
//   - ConsistentHash:  a fixed affinity key should land on the same instance
package loadbalance

import (
	"errors"

	"async-rpc/registry"
)

var ErrNoInstances = registry.ErrNoInstances

// Balancer selects one instance from the current list. Implementations are
// safe for concurrent use.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)
	Name() string
}

// New returns the balancer registered under name: "round_robin",
// "weighted_random" or "consistent_hash". The consistent hash balancer uses
// key as its affinity key.
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(key), nil
	default:
		return nil, errors.New("loadbalance: unknown balancer " + name)
	}
}
