package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EndpointsEnv lists etcd endpoints, comma-separated.
const EndpointsEnv = "GAUNTLET_REGISTRY_ENDPOINTS"

// Client implements Registry on etcd. Leases are renewed every TTL/3 by a
// background goroutine per registered instance.
//
// Thread-safety: all methods are safe for concurrent use.
type Client struct {
	client    *clientv3.Client
	namespace string
	ttl       int

	mu         sync.Mutex
	leases     map[string]clientv3.LeaseID
	cancelFns  map[string]context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	closedChan chan struct{}
}

var _ Registry = (*Client)(nil)

// NewClient connects to etcd and verifies connectivity.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("registry endpoints cannot be empty")
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "gauntlet"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: 5 * time.Second,
	}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsConfig, err := clientTLS(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		clientCfg.TLS = tlsConfig
	}

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := cli.Get(ctx, "health-check"); err != nil {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return &Client{
		client:     cli,
		namespace:  namespace,
		ttl:        ttl,
		leases:     make(map[string]clientv3.LeaseID),
		cancelFns:  make(map[string]context.CancelFunc),
		closedChan: make(chan struct{}),
	}, nil
}

// ParseEndpoints splits a comma-separated endpoint list.
func ParseEndpoints(s string) []string {
	var out []string
	for _, ep := range strings.Split(s, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			out = append(out, ep)
		}
	}
	return out
}

// Register puts info under a fresh lease and starts renewing it. A second
// registration of the same instance replaces the first.
func (c *Client) Register(ctx context.Context, info ServiceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if cancelFn, ok := c.cancelFns[info.InstanceID]; ok {
		cancelFn()
		delete(c.cancelFns, info.InstanceID)
	}
	if old, ok := c.leases[info.InstanceID]; ok {
		// The previous entry (with stale run metadata) goes with its lease.
		_, _ = c.client.Revoke(ctx, old)
		delete(c.leases, info.InstanceID)
	}

	lease, err := c.client.Grant(ctx, int64(c.ttl))
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal service info: %w", err)
	}
	key := buildKey(c.namespace, info.Kind, info.Name, info.InstanceID)
	if _, err := c.client.Put(ctx, key, string(data), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	c.leases[info.InstanceID] = lease.ID

	keepaliveCtx, cancel := context.WithCancel(context.Background())
	c.cancelFns[info.InstanceID] = cancel
	c.wg.Add(1)
	go c.keepalive(keepaliveCtx, lease.ID, info.InstanceID)
	return nil
}

// Deregister revokes the instance's lease, deleting its entry.
func (c *Client) Deregister(ctx context.Context, info ServiceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if cancelFn, ok := c.cancelFns[info.InstanceID]; ok {
		cancelFn()
		delete(c.cancelFns, info.InstanceID)
	}
	lease, ok := c.leases[info.InstanceID]
	if !ok {
		return nil
	}
	if _, err := c.client.Revoke(ctx, lease); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	delete(c.leases, info.InstanceID)
	return nil
}

// DiscoverAll lists every instance of kind. Undecodable entries are skipped.
func (c *Client) DiscoverAll(ctx context.Context, kind string) ([]ServiceInfo, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	resp, err := c.client.Get(ctx, fmt.Sprintf("/%s/%s/", c.namespace, kind), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}
	out := make([]ServiceInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info ServiceInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Close stops keepalives and closes the etcd connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, cancel := range c.cancelFns {
		cancel()
	}
	c.cancelFns = make(map[string]context.CancelFunc)
	close(c.closedChan)
	c.mu.Unlock()

	c.wg.Wait()
	return c.client.Close()
}

func (c *Client) keepalive(ctx context.Context, lease clientv3.LeaseID, instanceID string) {
	defer c.wg.Done()

	ticker := time.NewTicker(time.Duration(c.ttl) * time.Second / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closedChan:
			return
		case <-ticker.C:
			if _, err := c.client.KeepAliveOnce(ctx, lease); err != nil {
				c.mu.Lock()
				if c.leases[instanceID] == lease {
					delete(c.leases, instanceID)
					delete(c.cancelFns, instanceID)
				}
				c.mu.Unlock()
				return
			}
		}
	}
}

// buildKey returns /namespace/kind/name/instance-id.
func buildKey(namespace, kind, name, instanceID string) string {
	return fmt.Sprintf("/%s/%s/%s/%s", namespace, kind, name, instanceID)
}
