package tokenbatch

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu      sync.Mutex
	batches []string
}

func (c *captureSink) sink(batch string) {
	c.mu.Lock()
	c.batches = append(c.batches, batch)
	c.mu.Unlock()
}

func (c *captureSink) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.batches))
	copy(out, c.batches)
	return out
}

func TestAddCoalescesWithinInterval(t *testing.T) {
	rec := &captureSink{}
	b := New(Config{Agent: "front", Interval: 30 * time.Millisecond, Sink: rec.sink})
	defer b.Close()

	b.Add("hel")
	b.Add("lo ")
	b.Add("world")

	assert.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"hello world"}, rec.all())
}

func TestFlushReschedulesOnNextAdd(t *testing.T) {
	rec := &captureSink{}
	b := New(Config{Interval: 20 * time.Millisecond, Sink: rec.sink})
	defer b.Close()

	b.Add("first")
	assert.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 5*time.Millisecond)

	// Quiet period with no Add produces no flushes
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, rec.all(), 1)

	b.Add("second")
	assert.Eventually(t, func() bool {
		return len(rec.all()) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"first", "second"}, rec.all())
}

func TestNoLossNoReorder(t *testing.T) {
	rec := &captureSink{}
	b := New(Config{Interval: 5 * time.Millisecond, Sink: rec.sink})

	var want strings.Builder
	for i := 0; i < 200; i++ {
		tok := fmt.Sprintf("t%d,", i)
		want.WriteString(tok)
		b.Add(tok)
		if i%17 == 0 {
			time.Sleep(2 * time.Millisecond)
		}
	}
	b.Close()

	assert.Equal(t, want.String(), strings.Join(rec.all(), ""))
}

func TestSlowSinkPreservesOrder(t *testing.T) {
	rec := &captureSink{}
	started := make(chan struct{})

	b := New(Config{Interval: 5 * time.Millisecond, Sink: func(batch string) {
		if batch == "one" {
			close(started)
			time.Sleep(50 * time.Millisecond)
		}
		rec.sink(batch)
	}})

	b.Add("one")
	<-started

	// The first delivery is still inside the sink; the remainder flushed
	// by Close must land after it
	b.Add("two")
	b.Close()

	assert.Equal(t, []string{"one", "two"}, rec.all())
}

func TestEmptyTokenIgnored(t *testing.T) {
	rec := &captureSink{}
	b := New(Config{Interval: 10 * time.Millisecond, Sink: rec.sink})
	defer b.Close()

	b.Add("")
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, rec.all())
}

func TestClose(t *testing.T) {
	t.Run("flushes the remainder synchronously", func(t *testing.T) {
		rec := &captureSink{}
		b := New(Config{Interval: time.Hour, Sink: rec.sink})

		b.Add("tail")
		b.Close()

		assert.Equal(t, []string{"tail"}, rec.all())
	})

	t.Run("drops tokens after close", func(t *testing.T) {
		rec := &captureSink{}
		b := New(Config{Interval: time.Millisecond, Sink: rec.sink})

		b.Close()
		b.Add("late")
		time.Sleep(20 * time.Millisecond)

		assert.Empty(t, rec.all())
	})

	t.Run("idempotent", func(t *testing.T) {
		rec := &captureSink{}
		b := New(Config{Sink: rec.sink})

		b.Add("once")
		b.Close()
		b.Close()

		assert.Equal(t, []string{"once"}, rec.all())
	})
}

func TestNilSinkDiscards(t *testing.T) {
	b := New(Config{Interval: time.Millisecond})
	require.NotNil(t, b)

	b.Add("into the void")
	b.Close()
}

func TestConcurrentAdds(t *testing.T) {
	rec := &captureSink{}
	b := New(Config{Interval: 2 * time.Millisecond, Sink: rec.sink})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Add("x")
			}
		}()
	}
	wg.Wait()
	b.Close()

	total := 0
	for _, batch := range rec.all() {
		total += len(batch)
	}
	assert.Equal(t, 400, total)
}
