package taskqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/docflow/pkg/api"
)

type memRecord struct {
	seq int64
	job *api.Job
}

// InMemoryQueue is a Queue kept entirely in process memory.
// It is safe for concurrent use.
type InMemoryQueue struct {
	opts options

	mu   sync.Mutex
	seq  int64
	jobs map[string]*memRecord
	wake chan struct{}
}

// NewInMemoryQueue creates an empty queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &InMemoryQueue{
		opts: o,
		jobs: make(map[string]*memRecord),
		wake: make(chan struct{}, 1),
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, job *api.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j := job.Clone()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := q.opts.clock()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.RunAt.IsZero() {
		j.RunAt = j.CreatedAt
	}
	if j.RunAt.After(now) {
		j.State = api.JobDelayed
	} else {
		j.State = api.JobWaiting
	}

	q.mu.Lock()
	q.seq++
	q.jobs[j.ID] = &memRecord{seq: q.seq, job: j}
	q.mu.Unlock()

	job.ID = j.ID
	job.State = j.State
	job.CreatedAt = j.CreatedAt
	job.RunAt = j.RunAt

	q.signal()
	return nil
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*api.Job, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if j := q.claim(); j != nil {
			return j, nil
		}

		// Nothing due: wait for an enqueue or re-check after the poll interval.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		case <-time.After(q.opts.pollInterval):
		}
	}
}

func (q *InMemoryQueue) claim() *api.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.clock()
	var best *memRecord
	for _, r := range q.jobs {
		if r.job.State != api.JobWaiting && r.job.State != api.JobDelayed {
			continue
		}
		if r.job.RunAt.After(now) {
			continue
		}
		if best == nil || before(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil
	}

	best.job.State = api.JobActive
	best.job.AttemptsMade++
	t := now
	best.job.ProcessedAt = &t
	return best.job.Clone()
}

func before(a, b *memRecord) bool {
	if a.job.Options.Priority != b.job.Options.Priority {
		return a.job.Options.Priority > b.job.Options.Priority
	}
	if !a.job.RunAt.Equal(b.job.RunAt) {
		return a.job.RunAt.Before(b.job.RunAt)
	}
	return a.seq < b.seq
}

func (q *InMemoryQueue) active(id string) (*api.Job, error) {
	r, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if r.job.State != api.JobActive {
		return nil, ErrInvalidState
	}
	return r.job, nil
}

func (q *InMemoryQueue) Complete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.active(id)
	if err != nil {
		return err
	}
	t := q.opts.clock()
	j.State = api.JobCompleted
	j.FinishedAt = &t
	return nil
}

func (q *InMemoryQueue) Retry(ctx context.Context, id, reason string, runAt time.Time) error {
	q.mu.Lock()
	j, err := q.active(id)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	j.State = api.JobDelayed
	j.FailedReason = reason
	j.RunAt = runAt
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *InMemoryQueue) Fail(ctx context.Context, id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.active(id)
	if err != nil {
		return err
	}
	t := q.opts.clock()
	j.State = api.JobFailed
	j.FailedReason = reason
	j.FinishedAt = &t
	return nil
}

func (q *InMemoryQueue) Get(ctx context.Context, id string) (*api.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return r.job.Clone(), nil
}

// sorted returns matching records in enqueue order.
func (q *InMemoryQueue) sorted(match func(*api.Job) bool) []*memRecord {
	out := make([]*memRecord, 0)
	for _, r := range q.jobs {
		if match(r.job) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (q *InMemoryQueue) ListByState(ctx context.Context, state api.JobState, limit int) ([]*api.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	recs := q.sorted(func(j *api.Job) bool { return j.State == state })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]*api.Job, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.job.Clone())
	}
	return out, nil
}

func (q *InMemoryQueue) ListByCorrelation(ctx context.Context, field, value string) ([]*api.Job, error) {
	if err := ValidateField(field); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	recs := q.sorted(func(j *api.Job) bool {
		v, ok := j.Correlation(field)
		return ok && v == value
	})
	out := make([]*api.Job, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.job.Clone())
	}
	return out, nil
}

func (q *InMemoryQueue) Stats(ctx context.Context) (api.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s api.QueueStats
	for _, r := range q.jobs {
		s.Add(r.job.State, 1)
	}
	return s, nil
}

func (q *InMemoryQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(q.jobs, id)
	return nil
}

func (q *InMemoryQueue) RemoveByCorrelation(ctx context.Context, field, value string, states ...api.JobState) (int, error) {
	if err := ValidateField(field); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, r := range q.jobs {
		if !stateIn(r.job.State, states) {
			continue
		}
		if v, ok := r.job.Correlation(field); ok && v == value {
			delete(q.jobs, id)
			n++
		}
	}
	return n, nil
}

func (q *InMemoryQueue) Clean(ctx context.Context, state api.JobState, olderThan time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, r := range q.jobs {
		if r.job.State != state {
			continue
		}
		if !olderThan.IsZero() && !stateTime(r.job).Before(olderThan) {
			continue
		}
		delete(q.jobs, id)
		n++
	}
	return n, nil
}

func (q *InMemoryQueue) Trim(ctx context.Context, state api.JobState, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	recs := q.sorted(func(j *api.Job) bool { return j.State == state })
	if len(recs) <= keep {
		return 0, nil
	}
	// Most recent first.
	sort.SliceStable(recs, func(i, j int) bool {
		ti, tj := stateTime(recs[i].job), stateTime(recs[j].job)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return recs[i].seq > recs[j].seq
	})
	for _, r := range recs[keep:] {
		delete(q.jobs, r.job.ID)
	}
	return len(recs) - keep, nil
}

func (q *InMemoryQueue) Requeue(ctx context.Context, id string) error {
	q.mu.Lock()
	r, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if r.job.State != api.JobFailed {
		q.mu.Unlock()
		return ErrInvalidState
	}
	r.job.State = api.JobWaiting
	r.job.AttemptsMade = 0
	r.job.FailedReason = ""
	r.job.FinishedAt = nil
	r.job.ProcessedAt = nil
	r.job.RunAt = q.opts.clock()
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, r := range q.jobs {
		if r.job.State == api.JobWaiting || r.job.State == api.JobDelayed {
			n++
		}
	}
	return n
}
