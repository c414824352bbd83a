package inmem

import (
	"testing"

	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/memory/memorytest"
)

func TestConformance(t *testing.T) {
	memorytest.Run(t, func(t *testing.T) memory.Store { return New() })
}
