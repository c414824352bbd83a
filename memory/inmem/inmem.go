// Package inmem provides a process-local memory.Store. It is the default
// backend for tests and single-process demos.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zero-day-ai/gauntlet/memory"
)

// Store keeps every record in process memory behind one RWMutex.
type Store struct {
	mu     sync.RWMutex
	closed bool

	mutations map[string][]memory.MutationRecord
	queries   map[string][]memory.QueryRecord
	bugs      []memory.BugRecord
	bugIDs    map[string]struct{}
	tools     map[string]memory.ToolDescriptor
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		mutations: make(map[string][]memory.MutationRecord),
		queries:   make(map[string][]memory.QueryRecord),
		bugIDs:    make(map[string]struct{}),
		tools:     make(map[string]memory.ToolDescriptor),
	}
}

var _ memory.Store = (*Store)(nil)

// ShortTerm returns the store itself.
func (s *Store) ShortTerm() memory.ShortTermMemory { return s }

// LongTerm returns the store itself.
func (s *Store) LongTerm() memory.LongTermMemory { return s }

// Ping reports ErrClosed after Close.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

// Close drops every record.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.mutations = nil
	s.queries = nil
	s.bugs = nil
	s.bugIDs = nil
	s.tools = nil
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed {
		return memory.ErrClosed
	}
	return ctx.Err()
}

func (s *Store) AppendMutation(ctx context.Context, rec memory.MutationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mutations[rec.RunID] = append(s.mutations[rec.RunID], rec)
	return nil
}

func (s *Store) Mutations(ctx context.Context, runID string, limit int) ([]memory.MutationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	out := append([]memory.MutationRecord(nil), s.mutations[runID]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return truncate(out, memory.Limit(limit, memory.DefaultMutationLimit)), nil
}

func (s *Store) AppendQuery(ctx context.Context, rec memory.QueryRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.queries[rec.ToolName] = append(s.queries[rec.ToolName], rec)
	return nil
}

func (s *Store) Queries(ctx context.Context, toolName string, limit int) ([]memory.QueryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	src := s.queries[toolName]
	out := make([]memory.QueryRecord, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return truncate(out, memory.Limit(limit, memory.DefaultQueryLimit)), nil
}

func (s *Store) AppendBug(ctx context.Context, rec memory.BugRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.bugIDs[rec.BugID]; ok {
		return fmt.Errorf("%w: bug %s", memory.ErrDuplicate, rec.BugID)
	}
	rec.ToolsInvolved = append([]string(nil), rec.ToolsInvolved...)
	rec.Embedding = append([]float32(nil), rec.Embedding...)
	s.bugIDs[rec.BugID] = struct{}{}
	s.bugs = append(s.bugs, rec)
	return nil
}

func (s *Store) SampleBugs(ctx context.Context, n int, sampler memory.Sampler) ([]memory.BugRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return memory.SampleSlice(s.bugs, n, sampler), nil
}

func (s *Store) Bugs(ctx context.Context, limit int) ([]memory.BugRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	out := make([]memory.BugRecord, 0, len(s.bugs))
	for i := len(s.bugs) - 1; i >= 0; i-- {
		out = append(out, s.bugs[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return truncate(out, memory.Limit(limit, len(out))), nil
}

func (s *Store) PutTool(ctx context.Context, d memory.ToolDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.tools[d.ToolName] = d
	return nil
}

func (s *Store) Tools(ctx context.Context, limit int) ([]memory.ToolDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	out := make([]memory.ToolDescriptor, 0, len(s.tools))
	for _, d := range s.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolName < out[j].ToolName })
	return truncate(out, memory.Limit(limit, memory.DefaultToolLimit)), nil
}

func truncate[T any](in []T, n int) []T {
	if len(in) > n {
		return in[:n]
	}
	return in
}
