package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, maxFailures int, window, block time.Duration) (*FailureLimiter, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewFailureLimiter(maxFailures, window, block)
	l.now = clock.Now
	t.Cleanup(l.Close)
	return l, clock
}

func TestFailureLimiter_UnknownClientIsNotBlocked(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute, 5*time.Minute)

	blocked, remaining := l.Blocked("client1")

	assert.False(t, blocked)
	assert.Zero(t, remaining)
}

func TestFailureLimiter_BlocksOnMaxFailures(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute, 5*time.Minute)

	count, block := l.Fail("client1")
	assert.Equal(t, 1, count)
	assert.Zero(t, block)

	l.Fail("client1")
	count, block = l.Fail("client1")
	assert.Equal(t, 3, count)
	assert.Equal(t, 5*time.Minute, block)

	blocked, remaining := l.Blocked("client1")
	assert.True(t, blocked)
	assert.Equal(t, 5*time.Minute, remaining)
}

func TestFailureLimiter_RemainingShrinks(t *testing.T) {
	l, clock := newTestLimiter(t, 2, time.Minute, 10*time.Minute)

	l.Fail("client1")
	l.Fail("client1")
	clock.Advance(4 * time.Minute)

	blocked, remaining := l.Blocked("client1")
	assert.True(t, blocked)
	assert.Equal(t, 6*time.Minute, remaining)

	count, block := l.Fail("client1")
	assert.Equal(t, 2, count, "failures while blocked are not counted")
	assert.Equal(t, 6*time.Minute, block)
}

func TestFailureLimiter_BlockExpires(t *testing.T) {
	l, clock := newTestLimiter(t, 2, time.Minute, 10*time.Minute)

	l.Fail("client1")
	l.Fail("client1")
	clock.Advance(10*time.Minute + time.Second)

	blocked, _ := l.Blocked("client1")
	assert.False(t, blocked)

	count, block := l.Fail("client1")
	assert.Equal(t, 1, count, "window elapsed so the count restarts")
	assert.Zero(t, block)
}

func TestFailureLimiter_WindowResetsCount(t *testing.T) {
	l, clock := newTestLimiter(t, 3, time.Minute, 5*time.Minute)

	l.Fail("client1")
	l.Fail("client1")
	clock.Advance(2 * time.Minute)

	count, block := l.Fail("client1")
	assert.Equal(t, 1, count)
	assert.Zero(t, block)
}

func TestFailureLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(t, 2, time.Minute, 5*time.Minute)

	l.Fail("client1")
	l.Fail("client1")
	l.Reset("client1")

	blocked, _ := l.Blocked("client1")
	assert.False(t, blocked)
	assert.Zero(t, l.tracked())
}

func TestFailureLimiter_ClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 2, time.Minute, 5*time.Minute)

	l.Fail("client1")
	l.Fail("client1")

	blocked, _ := l.Blocked("client2")
	assert.False(t, blocked)
	count, _ := l.Fail("client2")
	assert.Equal(t, 1, count)
}

func TestFailureLimiter_SweepDropsStaleRecords(t *testing.T) {
	l, clock := newTestLimiter(t, 2, time.Minute, 5*time.Minute)

	l.Fail("stale")
	l.Fail("blocked")
	l.Fail("blocked")
	require.Equal(t, 2, l.tracked())

	clock.Advance(3 * time.Minute)
	l.sweep()
	assert.Equal(t, 1, l.tracked(), "blocked client survives the sweep")

	clock.Advance(3 * time.Minute)
	l.sweep()
	assert.Zero(t, l.tracked())
}

func TestFailureLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t, 1000, time.Minute, 5*time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Fail("client1")
			l.Blocked("client1")
		}()
	}
	wg.Wait()

	count, _ := l.Fail("client1")
	assert.Equal(t, 51, count)
}

func TestFailureLimiter_CloseIsIdempotent(t *testing.T) {
	l := NewFailureLimiter(1, time.Minute, time.Minute)
	l.Close()
	assert.NotPanics(t, l.Close)
}
