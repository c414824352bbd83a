// Package registry announces running gauntlet instances and their active
// run so a monitor can list them.
//
// Entries live under /{namespace}/{kind}/{name}/{instance-id} and are bound
// to a lease: an instance that crashes disappears once its lease expires.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// KindGauntlet is the kind every gauntlet instance registers under.
const KindGauntlet = "gauntlet"

// Metadata keys set on run announcements.
const (
	MetaRunID      = "run_id"
	MetaHypothesis = "hypothesis"
	MetaAgentID    = "agent_id"
)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("registry: client is closed")

// ServiceInfo describes one registered instance.
type ServiceInfo struct {
	// Kind is KindGauntlet for gauntlet instances.
	Kind string `json:"kind"`

	// Name groups instances, e.g. the agent under test.
	Name string `json:"name"`

	// InstanceID is unique per process.
	InstanceID string `json:"instance_id"`

	// Endpoint is where the instance's monitor can be reached, if any.
	Endpoint string `json:"endpoint,omitempty"`

	// Metadata carries the run id, hypothesis and agent id.
	Metadata map[string]string `json:"metadata"`

	StartedAt time.Time `json:"started_at"`
}

// Registry stores service announcements.
type Registry interface {
	// Register adds or replaces the entry for info.InstanceID.
	Register(ctx context.Context, info ServiceInfo) error

	// Deregister removes the entry. Unknown instances are a no-op.
	Deregister(ctx context.Context, info ServiceInfo) error

	// DiscoverAll lists every instance of kind.
	DiscoverAll(ctx context.Context, kind string) ([]ServiceInfo, error)

	// Close releases resources. Later calls fail with ErrClosed.
	Close() error
}

// Config configures an etcd-backed Client.
type Config struct {
	// Endpoints is the list of etcd endpoints, e.g. ["localhost:2379"].
	Endpoints []string `json:"endpoints"`

	// Namespace prefixes every key. Default: "gauntlet".
	Namespace string `json:"namespace"`

	// TTL is the lease time-to-live in seconds. Default: 30.
	TTL int `json:"ttl"`

	// TLS configures client certificates. Nil disables TLS.
	TLS *TLSConfig `json:"tls,omitempty"`
}

// TLSConfig holds client certificate paths.
type TLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	CAFile   string `json:"ca_file"`
}

// Memory is an in-process Registry for tests and single-process use.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]ServiceInfo
	closed  bool
}

// NewMemory returns an empty in-process registry.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]ServiceInfo)}
}

func (m *Memory) Register(ctx context.Context, info ServiceInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if info.InstanceID == "" {
		return fmt.Errorf("registry: instance id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entries[info.InstanceID] = info
	return nil
}

func (m *Memory) Deregister(ctx context.Context, info ServiceInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.entries, info.InstanceID)
	return nil
}

func (m *Memory) DiscoverAll(ctx context.Context, kind string) ([]ServiceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]ServiceInfo, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
