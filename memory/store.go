package memory

import (
	"context"
	"errors"
)

// Common errors returned by memory operations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("memory: record not found")

	// ErrDuplicate is returned when appending a record whose key already exists.
	ErrDuplicate = errors.New("memory: record already exists")

	// ErrInvalidRecord is returned when a record is missing required fields.
	ErrInvalidRecord = errors.New("memory: invalid record")

	// ErrStorageFailed is returned when the underlying storage backend fails.
	ErrStorageFailed = errors.New("memory: storage operation failed")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("memory: store closed")
)

// Default read bounds. The engine only needs recent history, never an
// unbounded replay.
const (
	// DefaultMutationLimit bounds STM reads for one run.
	DefaultMutationLimit = 100

	// DefaultQueryLimit bounds LTM query reads for one tool.
	DefaultQueryLimit = 20

	// DefaultToolLimit bounds tool descriptor dumps.
	DefaultToolLimit = 50

	// DefaultBugSample is the size of the random bug sample used for
	// hypothesis grounding and novelty.
	DefaultBugSample = 16
)

// Store provides access to both memory tiers.
//
// Implementations must be safe for concurrent use: runs are partitioned by
// run id and may write concurrently, while reads within one run must observe
// every earlier append of that run.
type Store interface {
	// ShortTerm returns the per-run mutation memory.
	ShortTerm() ShortTermMemory

	// LongTerm returns the cross-run memory.
	LongTerm() LongTermMemory

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// ShortTermMemory stores the mutations committed during a run.
type ShortTermMemory interface {
	// AppendMutation appends a mutation record. Returns ErrInvalidRecord
	// for records without run id, tool name or timestamp.
	AppendMutation(ctx context.Context, rec MutationRecord) error

	// Mutations returns up to limit records for runID ordered by timestamp
	// ascending, ties in append order. limit <= 0 means DefaultMutationLimit.
	Mutations(ctx context.Context, runID string, limit int) ([]MutationRecord, error)
}

// LongTermMemory stores query history, confirmed bugs and tool descriptors.
type LongTermMemory interface {
	// AppendQuery appends a query record.
	AppendQuery(ctx context.Context, rec QueryRecord) error

	// Queries returns up to limit records for toolName ordered by timestamp
	// descending (most recent first). limit <= 0 means DefaultQueryLimit.
	Queries(ctx context.Context, toolName string, limit int) ([]QueryRecord, error)

	// AppendBug appends a bug record. Returns ErrDuplicate if the bug id
	// is already stored.
	AppendBug(ctx context.Context, rec BugRecord) error

	// SampleBugs returns an unordered random sample of at most n bugs.
	// A nil sampler uses NewRandomSampler.
	SampleBugs(ctx context.Context, n int, s Sampler) ([]BugRecord, error)

	// Bugs returns up to limit bugs, most recent first. It backs reporting,
	// not hypothesis grounding.
	Bugs(ctx context.Context, limit int) ([]BugRecord, error)

	// PutTool writes a tool descriptor, replacing any descriptor with the
	// same tool name.
	PutTool(ctx context.Context, d ToolDescriptor) error

	// Tools returns up to limit descriptors in no particular order.
	// limit <= 0 means DefaultToolLimit.
	Tools(ctx context.Context, limit int) ([]ToolDescriptor, error)
}

// Limit returns limit, or def when limit is not positive.
func Limit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
