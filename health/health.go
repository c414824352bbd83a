// Package health provides the checks behind gauntlet's health endpoints.
//
// A Check reports a Status; Combine folds several into one, unhealthy beating
// degraded beating healthy. The monitor's /healthz and the gRPC health
// service both serve the combined result.
package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/zero-day-ai/gauntlet/memory"
)

// Health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the result of a check.
type Status struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.Status == StatusHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StatusDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StatusUnhealthy }

func Healthy(message string) Status {
	return Status{Status: StatusHealthy, Message: message}
}

func Degraded(message string, details map[string]any) Status {
	return Status{Status: StatusDegraded, Message: message, Details: details}
}

func Unhealthy(message string, details map[string]any) Status {
	return Status{Status: StatusUnhealthy, Message: message, Details: details}
}

// Check computes a Status.
type Check func(ctx context.Context) Status

// DefaultTimeout bounds a single check.
const DefaultTimeout = 3 * time.Second

// StoreCheck pings the memory store. A failed ping is unhealthy: nothing can
// be recorded without memory.
func StoreCheck(store memory.Store) Check {
	return func(ctx context.Context) Status {
		if store == nil {
			return Unhealthy("memory store not configured", nil)
		}
		ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			return Unhealthy("memory store unreachable", map[string]any{"error": err.Error()})
		}
		return Healthy("memory store reachable")
	}
}

// EndpointCheck dials the host of rawURL. An unreachable oracle only
// degrades gauntlet: interception fails open without it.
func EndpointCheck(name, rawURL string) Check {
	return func(ctx context.Context) Status {
		u, err := url.Parse(rawURL)
		if err != nil || u.Host == "" {
			return Degraded(fmt.Sprintf("%s: invalid url", name), map[string]any{"url": rawURL})
		}
		host := u.Host
		if u.Port() == "" {
			port := "80"
			if u.Scheme == "https" {
				port = "443"
			}
			host = net.JoinHostPort(u.Hostname(), port)
		}

		ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return Degraded(fmt.Sprintf("%s unreachable", name), map[string]any{
				"address": host,
				"error":   err.Error(),
			})
		}
		conn.Close()
		return Healthy(fmt.Sprintf("%s reachable", name))
	}
}

// Run executes every check and combines the results.
func Run(ctx context.Context, checks ...Check) Status {
	statuses := make([]Status, 0, len(checks))
	for _, c := range checks {
		statuses = append(statuses, c(ctx))
	}
	return Combine(statuses...)
}

// Combine aggregates statuses: any unhealthy makes the result unhealthy,
// otherwise any degraded makes it degraded.
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	var healthy int
	for _, c := range checks {
		msg := c.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch c.Status {
		case StatusUnhealthy:
			unhealthy = append(unhealthy, msg)
		case StatusDegraded:
			degraded = append(degraded, msg)
		case StatusHealthy:
			healthy++
		}
	}

	switch {
	case len(unhealthy) > 0:
		return Unhealthy(fmt.Sprintf("%d check(s) failed", len(unhealthy)), map[string]any{
			"total":         len(checks),
			"unhealthy":     len(unhealthy),
			"degraded":      len(degraded),
			"healthy":       healthy,
			"failed_checks": unhealthy,
		})
	case len(degraded) > 0:
		return Degraded(fmt.Sprintf("%d check(s) degraded", len(degraded)), map[string]any{
			"total":           len(checks),
			"degraded":        len(degraded),
			"healthy":         healthy,
			"degraded_checks": degraded,
		})
	}
	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}
