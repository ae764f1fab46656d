package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/tikrec/internal/domain"
	"github.com/bnema/tikrec/internal/port"
)

const (
	testURL     = "https://www.tiktok.com/@someone/live"
	waitTimeout = 2 * time.Second
	quietPeriod = 50 * time.Millisecond
)

type fakeResult struct {
	artifact *domain.Artifact
	err      error
	panicked any
}

// fakeCall is one Capture invocation that the test drives by hand.
type fakeCall struct {
	req      port.CaptureRequest
	progress port.ProgressFunc
	result   chan fakeResult
	gate     chan struct{}
	gateOnce sync.Once
}

func (c *fakeCall) succeed(size int64) {
	c.result <- fakeResult{artifact: &domain.Artifact{
		Filename:  "tiktok_" + c.req.JobID + ".mp4",
		SizeBytes: size,
	}}
}

func (c *fakeCall) fail(err error) {
	c.result <- fakeResult{err: err}
}

func (c *fakeCall) crash(v any) {
	c.result <- fakeResult{panicked: v}
}

// ack releases a capture that is holding its abort acknowledgment.
func (c *fakeCall) ack() {
	c.gateOnce.Do(func() { close(c.gate) })
}

// fakeCapturer hands every Capture call to the test through calls. When
// holdAborts is set, a cancelled capture waits for ack before returning.
type fakeCapturer struct {
	calls      chan *fakeCall
	holdAborts bool

	mu         sync.Mutex
	all        []*fakeCall
	running    int
	maxRunning int
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{calls: make(chan *fakeCall, 32)}
}

func (f *fakeCapturer) Capture(ctx context.Context, req port.CaptureRequest, onProgress port.ProgressFunc) (*domain.Artifact, error) {
	call := &fakeCall{
		req:      req,
		progress: onProgress,
		result:   make(chan fakeResult, 1),
		gate:     make(chan struct{}),
	}

	f.mu.Lock()
	f.all = append(f.all, call)
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	hold := f.holdAborts
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	f.calls <- call

	select {
	case r := <-call.result:
		if r.panicked != nil {
			panic(r.panicked)
		}
		return r.artifact, r.err
	case <-ctx.Done():
		if hold {
			<-call.gate
		}
		return nil, domain.ErrAborted
	}
}

func (f *fakeCapturer) next(t *testing.T) *fakeCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a capture to start")
		return nil
	}
}

// nextN collects n captures keyed by job id; concurrent starts arrive in any order.
func (f *fakeCapturer) nextN(t *testing.T, n int) map[string]*fakeCall {
	t.Helper()
	out := make(map[string]*fakeCall, n)
	for range n {
		call := f.next(t)
		out[call.req.JobID] = call
	}
	return out
}

func (f *fakeCapturer) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case call := <-f.calls:
		t.Fatalf("unexpected capture started for job %s", call.req.JobID)
	case <-time.After(quietPeriod):
	}
}

func (f *fakeCapturer) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

func (f *fakeCapturer) releaseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, call := range f.all {
		call.ack()
	}
}

// memArtifacts is an in-memory ArtifactStore. Filenames listed in failRemove
// cannot be removed; only files registered with setSize exist.
type memArtifacts struct {
	mu         sync.Mutex
	removed    []string
	failRemove map[string]bool
	sizes      map[string]int64
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{failRemove: make(map[string]bool), sizes: make(map[string]int64)}
}

func (m *memArtifacts) Size(_ context.Context, filename string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	size, ok := m.sizes[filename]
	if !ok {
		return 0, &domain.StorageIOError{Op: "stat", Path: filename, Err: os.ErrNotExist}
	}
	return size, nil
}

func (m *memArtifacts) setSize(filename string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes[filename] = size
}

func (m *memArtifacts) Remove(_ context.Context, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRemove[filename] {
		return fmt.Errorf("remove %s: permission denied", filename)
	}
	m.removed = append(m.removed, filename)
	return nil
}

func (m *memArtifacts) setFailRemove(filename string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRemove[filename] = true
}

func (m *memArtifacts) removedFiles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

type mockArtifactStore struct {
	mock.Mock
}

func (m *mockArtifactStore) Size(ctx context.Context, filename string) (int64, error) {
	args := m.Called(ctx, filename)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockArtifactStore) Remove(ctx context.Context, filename string) error {
	args := m.Called(ctx, filename)
	return args.Error(0)
}

type mockCheckpoint struct {
	mock.Mock
}

func (m *mockCheckpoint) SaveJobs(ctx context.Context, jobs []domain.Job) error {
	args := m.Called(ctx, jobs)
	return args.Error(0)
}

func (m *mockCheckpoint) LoadJobs(ctx context.Context) ([]domain.Job, error) {
	args := m.Called(ctx)
	jobs, _ := args.Get(0).([]domain.Job)
	return jobs, args.Error(1)
}

func (m *mockCheckpoint) Close() error {
	return m.Called().Error(0)
}

// fakeClock advances one second per reading so completion times are distinct.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type testRig struct {
	engine    *Engine
	capturer  *fakeCapturer
	artifacts *memArtifacts
	sub       *Subscription
}

func testConfig(parallel int) domain.EngineConfig {
	return domain.EngineConfig{
		DownloadPath:      "/recordings",
		MaxConcurrentJobs: parallel,
		StorageLimitBytes: 1 << 40,
		AutoCleanup:       true,
	}
}

func newTestRig(t *testing.T, cfg domain.EngineConfig, checkpoint port.JobCheckpoint) *testRig {
	t.Helper()

	capturer := newFakeCapturer()
	artifacts := newMemArtifacts()
	engine, err := NewEngine(cfg, capturer, artifacts, checkpoint, NewEventBus(512))
	require.NoError(t, err)
	engine.now = newFakeClock().Now

	rig := &testRig{
		engine:    engine,
		capturer:  capturer,
		artifacts: artifacts,
		sub:       engine.Subscribe(),
	}

	t.Cleanup(func() {
		capturer.releaseAll()
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = engine.Shutdown(ctx)
		rig.sub.Close()
	})
	return rig
}

func (r *testRig) submit(t *testing.T) string {
	t.Helper()
	id, err := r.engine.Submit(testURL, 30, domain.Quality1080p)
	require.NoError(t, err)
	return id
}

// waitEvent reads events until one for jobID of the given kind arrives. An
// empty jobID matches engine-level events.
func (r *testRig) waitEvent(t *testing.T, jobID string, kind domain.EventKind) domain.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.sub.C:
			if ev.JobID == jobID && ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event of job %q", kind, jobID)
			return domain.Event{}
		}
	}
}

// eventsUntil returns every event for jobID up to and including the first of kind.
func (r *testRig) eventsUntil(t *testing.T, jobID string, kind domain.EventKind) []domain.Event {
	t.Helper()
	var out []domain.Event
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.sub.C:
			if ev.JobID != jobID {
				continue
			}
			out = append(out, ev)
			if ev.Kind == kind {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event of job %q", kind, jobID)
			return nil
		}
	}
}

func (r *testRig) assertNoEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.sub.C:
		t.Fatalf("unexpected %s event for job %q", ev.Kind, ev.JobID)
	case <-time.After(quietPeriod):
	}
}

func (r *testRig) state(t *testing.T, id string) domain.JobState {
	t.Helper()
	job, err := r.engine.Get(id)
	require.NoError(t, err)
	return job.State
}
