package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeen_FirstTimeIsNew(t *testing.T) {
	c := New(5*time.Minute, 100)

	assert.False(t, c.Seen("wamid.abc"))
	assert.True(t, c.Seen("wamid.abc"))
	assert.True(t, c.Seen("wamid.abc"))
}

func TestSeen_DistinctIDs(t *testing.T) {
	c := New(5*time.Minute, 100)

	assert.False(t, c.Seen("wamid.one"))
	assert.False(t, c.Seen("wamid.two"))
	assert.True(t, c.Seen("wamid.one"))
}

func TestSeen_ExpiresAfterTTL(t *testing.T) {
	c := New(5*time.Minute, 100)
	base := time.Now()
	c.now = func() time.Time { return base }

	assert.False(t, c.Seen("wamid.abc"))

	c.now = func() time.Time { return base.Add(5*time.Minute + time.Second) }
	assert.False(t, c.Seen("wamid.abc"), "expired ID counts as new again")
}

func TestSeen_ExpiredEntriesArePruned(t *testing.T) {
	c := New(time.Minute, 100)
	base := time.Now()
	c.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		c.Seen(fmt.Sprintf("wamid.%d", i))
	}
	assert.Equal(t, 10, c.Len())

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.Seen("wamid.fresh")
	assert.Equal(t, 1, c.Len())
}

func TestSeen_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Hour, 3)

	c.Seen("a")
	c.Seen("b")
	c.Seen("c")
	c.Seen("d") // evicts a

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a"), "oldest entry was evicted")
	assert.True(t, c.Seen("d"))
}

func TestForget(t *testing.T) {
	c := New(time.Minute, 100)

	assert.False(t, c.Seen("wamid.abc"))
	c.Forget("wamid.abc")
	assert.False(t, c.Seen("wamid.abc"), "forgotten ID is new again")
}

func TestSeen_ConcurrentSameID(t *testing.T) {
	c := New(time.Minute, 100)

	var news atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("wamid.race") {
				news.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), news.Load(), "exactly one delivery may be treated as new")
}
