package tool

import (
	"sort"
	"sync"
)

// Descriptor is the exported, execution-free view of a registered tool.
// It is what gets indexed into long-term memory at startup.
type Descriptor struct {
	Name        string `json:"tool_name"`
	Kind        Kind   `json:"tool_type"`
	Description string `json:"docstring"`
	Source      string `json:"source_code"`
}

// Entry pairs a tool with the function implementing it.
type Entry struct {
	Tool Tool
	Func Func
}

// Registry holds the instrumented tools of one agent harness.
//
// Registration is idempotent per name: registering the same name twice keeps
// the last registration. Registration cannot fail; a tool with an invalid
// kind is stored as a query tool.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool, fn Func) {
	if !t.Kind.IsValid() {
		t.Kind = KindQuery
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[t.Name] = Entry{Tool: t, Func: fn}
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Entries returns all registered entries sorted by tool name.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool.Name < out[j].Tool.Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Export produces the descriptors of every registered tool, sorted by name.
func (r *Registry) Export() []Descriptor {
	entries := r.Entries()
	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, Descriptor{
			Name:        e.Tool.Name,
			Kind:        e.Tool.Kind,
			Description: e.Tool.Description,
			Source:      e.Tool.Source,
		})
	}
	return out
}
