package client

import (
	"context"
	"time"

	"async-rpc/loadbalance"
	"async-rpc/registry"
	"async-rpc/transport"

	"go.uber.org/zap"
)

// DialService looks up the instances of svc in reg, lets bal pick one and
// dials it. The connection is not re-balanced later; dial again for that.
func DialService(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, svc *Service, cfg Config) (*Client, error) {
	instances, err := reg.Discover(ctx, svc.Name)
	if err != nil {
		return nil, err
	}

	instance, err := bal.Pick(instances)
	if err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.Debug("picked instance",
			zap.String("service", svc.Name),
			zap.String("addr", instance.Addr),
			zap.String("balancer", bal.Name()),
			zap.Int("candidates", len(instances)))
	}
	return Dial(ctx, InstanceDialer(instance), svc, cfg)
}

// InstanceDialer returns the dialer for the instance's transport.
func InstanceDialer(instance *registry.ServiceInstance) transport.Dialer {
	if instance.Transport == registry.TransportWebSocket {
		return &transport.WebSocketDialer{URL: instance.Addr, HandshakeTimeout: 10 * time.Second}
	}
	return &transport.TCPDialer{Address: instance.Addr, NoDelay: true}
}
