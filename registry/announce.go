package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Announcer publishes this process's active run to a Registry. Errors are
// logged, never returned: a registry outage must not stop a run.
type Announcer struct {
	reg      Registry
	name     string
	endpoint string
	logger   *slog.Logger

	mu   sync.Mutex
	info ServiceInfo
	live bool
}

// NewAnnouncer returns an Announcer registering under name. A nil reg yields
// an Announcer whose methods do nothing.
func NewAnnouncer(reg Registry, name, endpoint string, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		reg:      reg,
		name:     name,
		endpoint: endpoint,
		logger:   logger,
		info: ServiceInfo{
			Kind:       KindGauntlet,
			Name:       name,
			InstanceID: uuid.NewString(),
			Endpoint:   endpoint,
		},
	}
}

// InstanceID identifies this process in the registry.
func (a *Announcer) InstanceID() string { return a.info.InstanceID }

// Announce registers (or re-registers) the run with its current hypothesis.
func (a *Announcer) Announce(ctx context.Context, runID, agentID, hypothesis string) {
	if a == nil || a.reg == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	info := a.info
	info.Metadata = map[string]string{
		MetaRunID:      runID,
		MetaAgentID:    agentID,
		MetaHypothesis: hypothesis,
	}
	if !a.live || a.info.Metadata[MetaRunID] != runID {
		info.StartedAt = time.Now().UTC()
	}
	if err := a.reg.Register(ctx, info); err != nil {
		a.logger.Warn("run announcement failed", "run_id", runID, "error", err)
		return
	}
	a.info = info
	a.live = true
}

// Withdraw removes the announcement.
func (a *Announcer) Withdraw(ctx context.Context) {
	if a == nil || a.reg == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.live {
		return
	}
	if err := a.reg.Deregister(ctx, a.info); err != nil {
		a.logger.Warn("run withdrawal failed", "error", err)
	}
	a.live = false
}
