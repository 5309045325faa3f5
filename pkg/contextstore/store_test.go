package contextstore

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordExchange(t *testing.T) {
	t.Run("bounded per-agent history evicts oldest", func(t *testing.T) {
		store := New(Config{AgentLimit: 3})

		for i := 0; i < 5; i++ {
			store.RecordExchange("front", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		}

		history := store.History("front")
		require.Len(t, history, 3)
		assert.Equal(t, "q2", history[0].Request)
		assert.Equal(t, "q4", history[2].Request)
	})

	t.Run("shared ring spans agents", func(t *testing.T) {
		store := New(Config{SharedLimit: 2})

		store.RecordExchange("front", "q1", "a1")
		store.RecordExchange("back", "q2", "a2")
		store.RecordExchange("front", "q3", "a3")

		rendered := store.SharedContext(0)
		assert.NotContains(t, rendered, "q1")
		assert.Contains(t, rendered, "[back] q2 -> a2")
		assert.Contains(t, rendered, "[front] q3 -> a3")
	})

	t.Run("entries get unique ids", func(t *testing.T) {
		store := New(Config{})
		store.RecordExchange("front", "q", "a")
		store.RecordExchange("front", "q", "a")

		history := store.History("front")
		require.Len(t, history, 2)
		assert.NotEqual(t, history[0].ID, history[1].ID)
		assert.NotEmpty(t, history[0].ID)
	})

	t.Run("excerpts collapse whitespace and truncate", func(t *testing.T) {
		store := New(Config{ExcerptLen: 10})
		store.RecordExchange("front", "one\n  two\tthree", strings.Repeat("x", 50))

		history := store.History("front")
		require.Len(t, history, 1)
		assert.Equal(t, "one two th...", history[0].Request)
		assert.Equal(t, strings.Repeat("x", 10)+"...", history[0].Response)
	})
}

func TestSharedContext(t *testing.T) {
	store := New(Config{})

	assert.Empty(t, store.SharedContext(5))

	store.RecordExchange("front", "q1", "a1")
	store.RecordExchange("back", "q2", "a2")
	store.RecordExchange("front", "q3", "a3")

	t.Run("limit keeps the most recent", func(t *testing.T) {
		rendered := store.SharedContext(2)
		lines := strings.Split(rendered, "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, "[back] q2 -> a2", lines[0])
		assert.Equal(t, "[front] q3 -> a3", lines[1])
	})

	t.Run("oversized limit returns everything", func(t *testing.T) {
		rendered := store.SharedContext(100)
		assert.Len(t, strings.Split(rendered, "\n"), 3)
	})
}

func TestSnapshot(t *testing.T) {
	store := New(Config{})

	store.RecordCall("front", 100*time.Millisecond, false)
	store.RecordCall("front", 300*time.Millisecond, true)
	store.RecordCall("back", 50*time.Millisecond, false)
	store.RecordFailover()
	store.RecordWarmup()
	store.RecordWarmup()
	store.RecordQueued()

	snap := store.Snapshot()

	front := snap.Agents["front"]
	assert.Equal(t, 2, front.Calls)
	assert.Equal(t, 1, front.Errors)
	assert.Equal(t, 200*time.Millisecond, front.AvgLatency)

	back := snap.Agents["back"]
	assert.Equal(t, 1, back.Calls)
	assert.Equal(t, 0, back.Errors)
	assert.Equal(t, 50*time.Millisecond, back.AvgLatency)

	assert.Equal(t, 1, snap.Failovers)
	assert.Equal(t, 2, snap.Warmups)
	assert.Equal(t, 1, snap.Queued)
}

func TestSnapshotIsACopy(t *testing.T) {
	store := New(Config{})
	store.RecordCall("front", time.Millisecond, false)

	snap := store.Snapshot()
	snap.Agents["front"] = AgentStats{Calls: 99}

	assert.Equal(t, 1, store.Snapshot().Agents["front"].Calls)
}

func TestConcurrentAccess(t *testing.T) {
	store := New(Config{AgentLimit: 5, SharedLimit: 5})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			agent := "front"
			if n%2 == 0 {
				agent = "back"
			}
			for j := 0; j < 50; j++ {
				store.RecordExchange(agent, "q", "a")
				store.RecordCall(agent, time.Millisecond, j%10 == 0)
				store.RecordQueued()
				_ = store.SharedContext(3)
				_ = store.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.History("front"), 5)
	assert.Len(t, store.History("back"), 5)

	snap := store.Snapshot()
	assert.Equal(t, 400, snap.Queued)
	assert.Equal(t, 200, snap.Agents["front"].Calls)
	assert.Equal(t, 200, snap.Agents["back"].Calls)
}
