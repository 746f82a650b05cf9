package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"async-rpc/registry"
)

const defaultReplicas = 100

// ConsistentHashBalancer maps a key to an instance on a hash ring, so the
// same key keeps landing on the same instance while the ring is unchanged.
// Each instance owns many virtual nodes to spread the ring evenly.
//
//	        0
//	      ╱   ╲
//	 B ●         ● A
//	   │  key ◆──►│    clockwise to the nearest node → A
//	 C ●         ● A'  (virtual node of A)
//	      ╲   ╱
type ConsistentHashBalancer struct {
	key      string
	replicas int

	mu    sync.Mutex
	addrs []string // instance addresses the ring was built from
	ring  []uint32
	nodes map[uint32]string
}

// NewConsistentHashBalancer returns a balancer whose Pick routes by key.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		key:      key,
		replicas: defaultReplicas,
		nodes:    make(map[uint32]string),
	}
}

// Pick returns the instance owning the balancer's key. The ring is rebuilt
// whenever the instance list changes.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	return b.PickKey(instances, b.key)
}

// PickKey returns the instance owning key.
func (b *ConsistentHashBalancer) PickKey(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	b.rebuild(instances)
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	addr := b.nodes[b.ring[idx]]
	b.mu.Unlock()

	for i := range instances {
		if instances[i].Addr == addr {
			return &instances[i], nil
		}
	}
	return nil, fmt.Errorf("loadbalance: ring node %s not in instance list", addr)
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

// rebuild resets the ring if instances differ from the last list. Called with
// mu held.
func (b *ConsistentHashBalancer) rebuild(instances []registry.ServiceInstance) {
	addrs := make([]string, len(instances))
	for i := range instances {
		addrs[i] = instances[i].Addr
	}
	sort.Strings(addrs)
	if equalStrings(addrs, b.addrs) {
		return
	}

	b.addrs = addrs
	b.ring = b.ring[:0]
	clear(b.nodes)
	for _, addr := range addrs {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", addr, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = addr
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
