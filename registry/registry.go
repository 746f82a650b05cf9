// Package registry locates the servers a client can connect to.
package registry

import (
	"context"
	"errors"
)

// ErrNoInstances is returned when a service has no registered instance.
var ErrNoInstances = errors.New("registry: no instances available")

// Transports an instance can be reached over.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// ServiceInstance is one server of a service.
type ServiceInstance struct {
	Addr      string `json:"addr"`                // host:port, or a ws:// URL
	Transport string `json:"transport,omitempty"` // TransportTCP when empty
	Weight    int    `json:"weight"`              // for weighted balancing
	Version   string `json:"version,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list on every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
