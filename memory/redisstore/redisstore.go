// Package redisstore implements memory.Store on Redis.
//
// Key layout, with the default "gauntlet" prefix:
//
//	gauntlet:stm:<run_id>             sorted set of mutation records by timestamp
//	gauntlet:ltm:queries:<tool_name>  sorted set of query records by timestamp
//	gauntlet:seq                      append counter prefixed to sorted set members
//	gauntlet:ltm:bugs                 hash bug_id -> bug record
//	gauntlet:ltm:bugs:order           list of bug ids (append order)
//	gauntlet:ltm:func                 hash tool_name -> tool descriptor
package redisstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/gauntlet/memory"
)

// Options configures the Redis connection.
type Options struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// Prefix namespaces every key. Defaults to "gauntlet".
	Prefix string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// Store implements memory.Store using go-redis/v9.
type Store struct {
	client *redis.Client
	prefix string
	closed atomic.Bool
}

var _ memory.Store = (*Store)(nil)

// New connects to Redis and returns a Store.
func New(opts Options) (*Store, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = "gauntlet"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: connect to Redis: %v", memory.ErrStorageFailed, err)
	}

	return &Store{client: client, prefix: opts.Prefix}, nil
}

// NewFromClient wraps an existing client. The Store owns it afterwards.
func NewFromClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "gauntlet"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) ShortTerm() memory.ShortTermMemory { return s }
func (s *Store) LongTerm() memory.LongTermMemory   { return s }

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return memory.ErrClosed
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

// appendScript adds ARGV[2] to the sorted set KEYS[1] scored by ARGV[1]
// (microseconds since the epoch). Members carry a zero-padded sequence from
// KEYS[2] so equal timestamps keep append order and equal payloads stay
// distinct.
var appendScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[2])
redis.call('ZADD', KEYS[1], ARGV[1], string.format('%020d', seq) .. ':' .. ARGV[2])
return seq
`)

// bugScript writes a bug and its order entry together, or neither. Both keys
// are type-checked before anything is written.
var bugScript = redis.NewScript(`
local t = redis.call('TYPE', KEYS[2])
if type(t) == 'table' then t = t.ok end
if t ~= 'none' and t ~= 'list' then
  return redis.error_reply('WRONGTYPE ' .. KEYS[2] .. ' is not a list')
end
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
  return 0
end
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// seqPrefixLen is the width of the "<seq>:" member prefix.
const seqPrefixLen = 21

func (s *Store) AppendMutation(ctx context.Context, rec memory.MutationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return memory.ErrClosed
	}
	return s.add(ctx, s.key("stm", rec.RunID), rec.Timestamp, rec)
}

func (s *Store) Mutations(ctx context.Context, runID string, limit int) ([]memory.MutationRecord, error) {
	if s.closed.Load() {
		return nil, memory.ErrClosed
	}
	n := memory.Limit(limit, memory.DefaultMutationLimit)
	vals, err := s.client.ZRange(ctx, s.key("stm", runID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, wrap("read mutations", err)
	}
	return decodeMembers[memory.MutationRecord](vals)
}

func (s *Store) AppendQuery(ctx context.Context, rec memory.QueryRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return memory.ErrClosed
	}
	return s.add(ctx, s.key("ltm", "queries", rec.ToolName), rec.Timestamp, rec)
}

func (s *Store) Queries(ctx context.Context, toolName string, limit int) ([]memory.QueryRecord, error) {
	if s.closed.Load() {
		return nil, memory.ErrClosed
	}
	n := memory.Limit(limit, memory.DefaultQueryLimit)
	vals, err := s.client.ZRevRange(ctx, s.key("ltm", "queries", toolName), 0, int64(n-1)).Result()
	if err != nil {
		return nil, wrap("read queries", err)
	}
	return decodeMembers[memory.QueryRecord](vals)
}

func (s *Store) AppendBug(ctx context.Context, rec memory.BugRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return memory.ErrClosed
	}
	data, err := memory.Encode(rec)
	if err != nil {
		return err
	}

	keys := []string{s.key("ltm", "bugs"), s.key("ltm", "bugs", "order")}
	added, err := bugScript.Run(ctx, s.client, keys, rec.BugID, data).Int()
	if err != nil {
		return wrap("append bug", err)
	}
	if added == 0 {
		return fmt.Errorf("%w: bug %s", memory.ErrDuplicate, rec.BugID)
	}
	return nil
}

func (s *Store) SampleBugs(ctx context.Context, n int, sampler memory.Sampler) ([]memory.BugRecord, error) {
	all, err := s.allBugs(ctx)
	if err != nil {
		return nil, err
	}
	return memory.SampleSlice(all, n, sampler), nil
}

func (s *Store) Bugs(ctx context.Context, limit int) ([]memory.BugRecord, error) {
	all, err := s.allBugs(ctx)
	if err != nil {
		return nil, err
	}
	reverse(all)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	return head(all, memory.Limit(limit, len(all))), nil
}

// allBugs returns every bug in append order.
func (s *Store) allBugs(ctx context.Context) ([]memory.BugRecord, error) {
	if s.closed.Load() {
		return nil, memory.ErrClosed
	}
	ids, err := s.client.LRange(ctx, s.key("ltm", "bugs", "order"), 0, -1).Result()
	if err != nil {
		return nil, wrap("list bugs", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	vals, err := s.client.HMGet(ctx, s.key("ltm", "bugs"), ids...).Result()
	if err != nil {
		return nil, wrap("read bugs", err)
	}

	out := make([]memory.BugRecord, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec memory.BugRecord
		if err := memory.Decode([]byte(str), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) PutTool(ctx context.Context, d memory.ToolDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return memory.ErrClosed
	}
	data, err := memory.Encode(d)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key("ltm", "func"), d.ToolName, data).Err(); err != nil {
		return wrap("put tool", err)
	}
	return nil
}

func (s *Store) Tools(ctx context.Context, limit int) ([]memory.ToolDescriptor, error) {
	if s.closed.Load() {
		return nil, memory.ErrClosed
	}
	vals, err := s.client.HGetAll(ctx, s.key("ltm", "func")).Result()
	if err != nil {
		return nil, wrap("list tools", err)
	}

	out := make([]memory.ToolDescriptor, 0, len(vals))
	for _, v := range vals {
		var d memory.ToolDescriptor
		if err := memory.Decode([]byte(v), &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolName < out[j].ToolName })
	return head(out, memory.Limit(limit, memory.DefaultToolLimit)), nil
}

func (s *Store) add(ctx context.Context, key string, ts time.Time, v any) error {
	data, err := memory.Encode(v)
	if err != nil {
		return err
	}
	keys := []string{key, s.key("seq")}
	score := strconv.FormatInt(ts.UnixMicro(), 10)
	if err := appendScript.Run(ctx, s.client, keys, score, data).Err(); err != nil {
		return wrap("append "+key, err)
	}
	return nil
}

func decodeMembers[T any](vals []string) ([]T, error) {
	out := make([]T, 0, len(vals))
	for _, v := range vals {
		if len(v) < seqPrefixLen {
			return nil, fmt.Errorf("%w: malformed member %q", memory.ErrStorageFailed, v)
		}
		var rec T
		if err := memory.Decode([]byte(v[seqPrefixLen:]), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", memory.ErrStorageFailed, op, err)
}

func head[T any](in []T, n int) []T {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func reverse[T any](in []T) {
	for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
		in[i], in[j] = in[j], in[i]
	}
}
