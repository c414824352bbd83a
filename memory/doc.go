// Package memory provides the two-timescale memory model of the
// interposition layer.
//
// Memory is organized into two tiers:
//
//   - Short-Term Memory (STM): mutation records scoped to a single run. The
//     decision oracle reads them before every decision so that each new
//     mutation stays consistent with everything already shown to the agent
//     under test in that run.
//
//   - Long-Term Memory (LTM): records that persist across runs. Query records
//     capture every intercepted call (mutated or not) so that later mutations
//     stay grounded in realistic tool behavior; bug records are the confirmed
//     findings used for novelty; tool descriptors describe the instrumented
//     tools.
//
// # Store Access
//
// The Store interface provides unified access to both tiers:
//
//	type Store interface {
//	    ShortTerm() ShortTermMemory
//	    LongTerm() LongTermMemory
//	    Close() error
//	}
//
// Backends live in sub-packages: inmem (process memory), redisstore (Redis),
// badgerstore (embedded BadgerDB) and sqlitestore (SQLite). Every backend
// passes the conformance suite in memorytest.
//
// # Ordering and Bounds
//
// Reads are always bounded. Mutations for a run come back oldest first,
// query records for a tool come back newest first, and both break timestamp
// ties by insertion order. Bug sampling is intentionally random; pass a
// seeded Sampler for reproducible runs:
//
//	bugs, err := store.LongTerm().SampleBugs(ctx, memory.DefaultBugSample,
//	    memory.NewSeededSampler(42))
//
// # Append-Only
//
// Records are never changed after creation. Appends are synchronous and fail
// loudly: backend errors are wrapped with ErrStorageFailed, and appending a
// bug whose id already exists fails with ErrDuplicate. Tool descriptors are
// the one exception: re-indexing a tool at startup replaces its descriptor.
package memory
