package ratelimit

import (
	"sync"
	"time"
)

type failureRecord struct {
	count        int
	lastFailure  time.Time
	blockedUntil time.Time
}

// FailureLimiter counts failed authentication attempts per client and blocks
// a client once maxFailures land inside one window.
type FailureLimiter struct {
	mu          sync.Mutex
	records     map[string]*failureRecord
	maxFailures int
	window      time.Duration
	block       time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewFailureLimiter(maxFailures int, window, block time.Duration) *FailureLimiter {
	l := &FailureLimiter{
		records:     make(map[string]*failureRecord),
		maxFailures: maxFailures,
		window:      window,
		block:       block,
		now:         time.Now,
		stop:        make(chan struct{}),
	}

	go l.sweepLoop(time.Minute)

	return l
}

// Blocked reports whether clientID is currently blocked and for how long.
func (l *FailureLimiter) Blocked(clientID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[clientID]
	if !ok {
		return false, 0
	}
	now := l.now()
	if now.Before(record.blockedUntil) {
		return true, record.blockedUntil.Sub(now)
	}
	return false, 0
}

// Fail records one failure. It returns the failure count inside the current
// window and, when this failure tripped the block, its duration.
func (l *FailureLimiter) Fail(clientID string) (int, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	record, ok := l.records[clientID]
	if !ok {
		record = &failureRecord{}
		l.records[clientID] = record
	}

	if now.Before(record.blockedUntil) {
		return record.count, record.blockedUntil.Sub(now)
	}
	if now.Sub(record.lastFailure) > l.window {
		record.count = 0
	}

	record.count++
	record.lastFailure = now

	if record.count >= l.maxFailures {
		record.blockedUntil = now.Add(l.block)
		return record.count, l.block
	}
	return record.count, 0
}

func (l *FailureLimiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.records, clientID)
}

// Close stops the background sweep.
func (l *FailureLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *FailureLimiter) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *FailureLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for clientID, record := range l.records {
		if now.Sub(record.lastFailure) > l.window*2 && now.After(record.blockedUntil) {
			delete(l.records, clientID)
		}
	}
}

func (l *FailureLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
