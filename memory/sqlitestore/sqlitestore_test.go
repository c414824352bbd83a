package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/memory/memorytest"
)

func TestConformance(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		memorytest.Run(t, func(t *testing.T) memory.Store {
			s, err := Open(MemoryPath)
			require.NoError(t, err)
			return s
		})
	})

	t.Run("file", func(t *testing.T) {
		memorytest.Run(t, func(t *testing.T) memory.Store {
			s, err := Open(filepath.Join(t.TempDir(), "gauntlet.db"))
			require.NoError(t, err)
			return s
		})
	})
}

func TestOpenFailure(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(driver, dsn string) (*sql.DB, error) {
		return nil, errors.New("driver unavailable")
	}

	_, err := Open(MemoryPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrStorageFailed)
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gauntlet.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.AppendMutation(ctx, memory.MutationRecord{RunID: "run-1", ToolName: "t", Timestamp: time.Now()}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Mutations(ctx, "run-1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
