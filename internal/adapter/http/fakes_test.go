package http

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/tikrec/internal/domain"
	"github.com/bnema/tikrec/internal/service"
)

type submitCall struct {
	url      string
	duration int
	quality  domain.Quality
}

// fakeEngine keeps jobs in a map and publishes nothing on its own; tests
// push events through bus.
type fakeEngine struct {
	mu        sync.Mutex
	jobs      map[string]domain.Job
	order     []string
	bus       *service.EventBus
	submits   []submitCall
	configs   []domain.EngineConfig
	usage     domain.Usage
	recording bool

	submitErr    error
	deleteErr    error
	setConfigErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		jobs: make(map[string]domain.Job),
		bus:  service.NewEventBus(16),
	}
}

func (f *fakeEngine) put(job domain.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[job.ID]; !ok {
		f.order = append(f.order, job.ID)
	}
	f.jobs[job.ID] = job
}

func (f *fakeEngine) Submit(sourceURL string, duration int, quality domain.Quality) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	job, err := domain.NewJob(sourceURL, duration, quality, time.Now())
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.submits = append(f.submits, submitCall{url: sourceURL, duration: duration, quality: quality})
	job.ID = fmt.Sprintf("job-%d", len(f.submits))
	f.mu.Unlock()

	f.put(*job)
	return job.ID, nil
}

func (f *fakeEngine) transition(id string, allowed func(domain.JobState) bool, to domain.JobState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	if !allowed(job.State) {
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidState, id, job.State)
	}
	job.State = to
	f.jobs[id] = job
	return nil
}

func (f *fakeEngine) Cancel(id string) error {
	return f.transition(id, func(s domain.JobState) bool { return !s.IsTerminal() }, domain.JobStateCancelled)
}

func (f *fakeEngine) Retry(id string) error {
	return f.transition(id, func(s domain.JobState) bool { return s == domain.JobStateFailed }, domain.JobStateQueued)
}

func (f *fakeEngine) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	if job.State.IsActive() {
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidState, id, job.State)
	}
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.jobs, id)
	return nil
}

func (f *fakeEngine) Get(id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return job, nil
}

func (f *fakeEngine) ListJobs() []domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobs := make([]domain.Job, 0, len(f.jobs))
	for _, id := range f.order {
		if job, ok := f.jobs[id]; ok {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func (f *fakeEngine) Subscribe() *service.Subscription {
	return f.bus.Subscribe()
}

func (f *fakeEngine) SetConfig(cfg domain.EngineConfig) error {
	if f.setConfigErr != nil {
		return f.setConfigErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	return nil
}

func (f *fakeEngine) Usage() domain.Usage {
	return f.usage
}

func (f *fakeEngine) IsRecording() bool {
	return f.recording
}

func (f *fakeEngine) submitCalls() []submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitCall(nil), f.submits...)
}
