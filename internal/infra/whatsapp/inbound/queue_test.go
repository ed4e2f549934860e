package inbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapgate/internal/domain/gateway"
	"zapgate/internal/domain/message"
	"zapgate/pkg/logger"
)

// memRepo é uma implementação em memória de message.InboundRepository
type memRepo struct {
	mu      sync.Mutex
	nextID  int64
	jobs    map[int64]*message.InboundJob
	deleted []int64
	failed  []int64
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[int64]*message.InboundJob)}
}

func (r *memRepo) Insert(ctx context.Context, job *message.InboundJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	job.ID = r.nextID
	job.Status = message.JobQueued
	if job.AvailableAt.IsZero() {
		job.AvailableAt = time.Now()
	}
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *memRepo) ClaimNext(ctx context.Context, now time.Time) (*message.InboundJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.Status == message.JobQueued && !job.AvailableAt.After(now) {
			job.Status = message.JobActive
			clone := *job
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memRepo) Release(ctx context.Context, id int64, attempts int, availableAt time.Time, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = message.JobQueued
	job.Attempts = attempts
	job.AvailableAt = availableAt
	job.LastError = lastError
	return nil
}

func (r *memRepo) MarkFailed(ctx context.Context, id int64, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.Status = message.JobFailed
		job.LastError = lastError
	}
	r.failed = append(r.failed, id)
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *memRepo) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, job := range r.jobs {
		if job.Status == message.JobActive {
			job.Status = message.JobQueued
			n++
		}
	}
	return n, nil
}

func (r *memRepo) PurgeOld(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, job := range r.jobs {
		if job.Status == message.JobFailed && job.ReceivedAt.Before(olderThan) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) Counts(ctx context.Context) (queued, active, failed int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		switch job.Status {
		case message.JobQueued:
			queued++
		case message.JobActive:
			active++
		case message.JobFailed:
			failed++
		}
	}
	return queued, active, failed, nil
}

func (r *memRepo) deletedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deleted)
}

func (r *memRepo) failedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failed)
}

func testQueueOptions() QueueOptions {
	return QueueOptions{
		Concurrency: 2,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		JobTimeout:  time.Second,
	}
}

func TestQueueProcessesEnqueuedMessages(t *testing.T) {
	repo := newMemRepo()

	var mu sync.Mutex
	var processed []string
	process := func(ctx context.Context, sessionID string, msg gateway.InboundMessage) error {
		mu.Lock()
		processed = append(processed, msg.WamID)
		mu.Unlock()
		return nil
	}

	q := NewQueue(repo, testQueueOptions(), process, logger.Nop())
	require.NoError(t, q.Start(context.Background()))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), "s1", gateway.InboundMessage{WamID: "m1", Timestamp: time.Now()}))
	require.NoError(t, q.Enqueue(context.Background(), "s1", gateway.InboundMessage{WamID: "m2", Timestamp: time.Now()}))

	assert.Eventually(t, func() bool {
		return repo.deletedCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"m1", "m2"}, processed)
}

func TestQueueRetriesUntilExhausted(t *testing.T) {
	repo := newMemRepo()

	var attempts int32
	var mu sync.Mutex
	process := func(ctx context.Context, sessionID string, msg gateway.InboundMessage) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("webhook down")
	}

	q := NewQueue(repo, testQueueOptions(), process, logger.Nop())
	require.NoError(t, q.Start(context.Background()))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), "s1", gateway.InboundMessage{WamID: "m1", Timestamp: time.Now()}))

	assert.Eventually(t, func() bool {
		return repo.failedCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(3), attempts, "MaxAttempts bounds the retries")
	assert.Equal(t, 0, repo.deletedCount())
}

func TestQueueStartRequeuesOrphanedJobs(t *testing.T) {
	repo := newMemRepo()

	// Job ativo de um processo anterior
	job := &message.InboundJob{SessionID: "s1", Payload: []byte(`{"WamID":"orphan"}`), ReceivedAt: time.Now()}
	require.NoError(t, repo.Insert(context.Background(), job))
	_, err := repo.ClaimNext(context.Background(), time.Now())
	require.NoError(t, err)

	done := make(chan struct{})
	process := func(ctx context.Context, sessionID string, msg gateway.InboundMessage) error {
		close(done)
		return nil
	}

	q := NewQueue(repo, testQueueOptions(), process, logger.Nop())
	require.NoError(t, q.Start(context.Background()))
	defer q.Shutdown(context.Background())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("orphaned job was not reprocessed")
	}
}

func TestQueueDiscardsMalformedPayload(t *testing.T) {
	repo := newMemRepo()

	job := &message.InboundJob{SessionID: "s1", Payload: []byte("not json"), ReceivedAt: time.Now()}
	require.NoError(t, repo.Insert(context.Background(), job))

	var called bool
	var mu sync.Mutex
	process := func(ctx context.Context, sessionID string, msg gateway.InboundMessage) error {
		mu.Lock()
		called = true
		mu.Unlock()
		return nil
	}

	q := NewQueue(repo, testQueueOptions(), process, logger.Nop())
	require.NoError(t, q.Start(context.Background()))
	defer q.Shutdown(context.Background())

	assert.Eventually(t, func() bool {
		return repo.failedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, called, "malformed payload never reaches the processor")
}

func TestQueuePurgeOld(t *testing.T) {
	repo := newMemRepo()
	q := NewQueue(repo, testQueueOptions(), nil, logger.Nop())

	old := &message.InboundJob{SessionID: "s1", Payload: []byte("{}"), ReceivedAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, repo.Insert(context.Background(), old))
	require.NoError(t, repo.MarkFailed(context.Background(), old.ID, "gave up"))

	n, err := q.PurgeOld(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
