package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryBacklog keeps jobs in process. Terminal jobs are dropped once they
// are older than the retention window.
type MemoryBacklog struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	order     []string
	retention time.Duration
	lease     time.Duration
	clock     func() time.Time
}

// NewMemoryBacklog builds an empty backlog. A non-positive retention keeps
// terminal jobs forever.
func NewMemoryBacklog(retention time.Duration) *MemoryBacklog {
	return &MemoryBacklog{jobs: make(map[string]*Job), retention: retention, lease: DefaultLease, clock: time.Now}
}

// WithLease sets how long a reserved job may go without progress.
func (m *MemoryBacklog) WithLease(lease time.Duration) *MemoryBacklog {
	if lease > 0 {
		m.lease = lease
	}
	return m
}

// WithClock replaces the time source, for tests.
func (m *MemoryBacklog) WithClock(clock func() time.Time) *MemoryBacklog {
	m.clock = clock
	return m
}

func (m *MemoryBacklog) Submit(_ context.Context, kind Kind, payload json.RawMessage, opts Options) (string, error) {
	if opts.ID == "" {
		return "", errJobIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	m.pruneLocked(now)
	if _, exists := m.jobs[opts.ID]; exists {
		return opts.ID, nil
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	m.jobs[opts.ID] = &Job{
		ID:          opts.ID,
		Kind:        kind,
		Payload:     append(json.RawMessage(nil), payload...),
		State:       StateWaiting,
		MaxAttempts: maxAttempts,
		Backoff:     opts.Backoff.Delay,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.order = append(m.order, opts.ID)
	return opts.ID, nil
}

func (m *MemoryBacklog) Reserve(_ context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	m.pruneLocked(now)
	m.recoverStalledLocked(now)
	for _, id := range m.order {
		job := m.jobs[id]
		ready := job.State == StateWaiting || (job.State == StateDelayed && !now.Before(job.RunAt))
		if !ready {
			continue
		}
		job.State = StateActive
		job.AttemptsMade++
		job.RunAt = time.Time{}
		job.LeaseUntil = now.Add(m.lease)
		job.UpdatedAt = now
		snapshot := *job
		return &snapshot, nil
	}
	return nil, nil
}

func (m *MemoryBacklog) Progress(_ context.Context, id string, pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := m.clock()
	job.Progress = pct
	job.UpdatedAt = now
	if job.State == StateActive {
		job.LeaseUntil = now.Add(m.lease)
	}
	return nil
}

func (m *MemoryBacklog) Complete(_ context.Context, id string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.State = StateCompleted
	job.LeaseUntil = time.Time{}
	job.Result = append(json.RawMessage(nil), result...)
	job.Error = ""
	job.UpdatedAt = m.clock()
	return nil
}

func (m *MemoryBacklog) Fail(_ context.Context, id string, cause error, retry bool) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	now := m.clock()
	job.State, job.RunAt = failedState(*job, retry, now)
	job.LeaseUntil = time.Time{}
	if cause != nil {
		job.Error = cause.Error()
	}
	job.UpdatedAt = now
	return *job, nil
}

func (m *MemoryBacklog) Get(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// recoverStalledLocked takes back active jobs whose lease has run out.
func (m *MemoryBacklog) recoverStalledLocked(now time.Time) {
	for _, id := range m.order {
		job := m.jobs[id]
		if job.State != StateActive || job.LeaseUntil.IsZero() || now.Before(job.LeaseUntil) {
			continue
		}
		job.State = stalledState(*job)
		job.Error = errLeaseExpired.Error()
		job.LeaseUntil = time.Time{}
		job.UpdatedAt = now
	}
}

func (m *MemoryBacklog) pruneLocked(now time.Time) {
	if m.retention <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		job := m.jobs[id]
		if job.State.Terminal() && now.Sub(job.UpdatedAt) > m.retention {
			delete(m.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}
