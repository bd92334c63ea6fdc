package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/resilience"
)

// Memory is an in-process Dispatcher, Server and Inspector. It runs each
// pool on its own goroutines and honours the same priority bands, retry
// limit and ID deduplication as the Redis backend. Used for single-node
// runs and tests.
type Memory struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pools    map[Pool]*memPool
	handlers map[string]Handler
	seen     map[string]bool
	stats    map[string]*Stats
	pending  int
	seq      int64
	closed   bool
	retry    resilience.Policy
	log      *zap.Logger
}

type memPool struct {
	concurrency int
	items       jobHeap
}

// NewMemory creates a memory queue running the given pools with the given
// concurrency.
func NewMemory(pools map[Pool]int) *Memory {
	m := &Memory{
		pools:    make(map[Pool]*memPool, len(pools)),
		handlers: make(map[string]Handler),
		seen:     make(map[string]bool),
		stats:    make(map[string]*Stats),
		retry: resilience.Policy{
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2,
			JitterFraction: 0.1,
		},
		log: zap.L().With(zap.String("component", "queue_memory")),
	}
	m.cond = sync.NewCond(&m.mu)
	for pool, n := range pools {
		if n <= 0 {
			n = 1
		}
		m.pools[pool] = &memPool{concurrency: n}
	}
	return m
}

// SetRetryBackoff changes the delay before redeliveries.
func (m *Memory) SetRetryBackoff(initial, max time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retry.InitialBackoff = initial
	m.retry.MaxBackoff = max
}

// Handle registers h for a task type.
func (m *Memory) Handle(taskType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[taskType] = h
}

// Enqueue adds a job. Jobs for pools this queue does not run are rejected.
func (m *Memory) Enqueue(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}
	p, ok := m.pools[job.Pool()]
	if !ok {
		return errUnknownPool(job.Pool())
	}
	if job.ID != "" {
		if m.seen[job.ID] {
			return nil
		}
		m.seen[job.ID] = true
	}

	m.push(p, job, 0)
	m.stat(job.Queue()).Pending++
	return nil
}

func (m *Memory) push(p *memPool, job Job, retry int) {
	m.seq++
	heap.Push(&p.items, &memItem{job: job, retry: retry, seq: m.seq})
	m.pending++
	m.cond.Broadcast()
}

func (m *Memory) stat(queue string) *Stats {
	s, ok := m.stats[queue]
	if !ok {
		s = &Stats{Queue: queue}
		m.stats[queue] = s
	}
	return s
}

// Run starts the pool workers and blocks until ctx is cancelled and every
// running job has returned.
func (m *Memory) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	m.mu.Lock()
	for pool, p := range m.pools {
		for i := 0; i < p.concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.work(ctx, pool, p)
			}()
		}
	}
	m.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.closed = true
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	wg.Wait()
	return ctx.Err()
}

func (m *Memory) work(ctx context.Context, pool Pool, p *memPool) {
	for {
		m.mu.Lock()
		for p.items.Len() == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		item := heap.Pop(&p.items).(*memItem)
		h := m.handlers[item.job.Type]
		s := m.stat(item.job.Queue())
		if item.retry == 0 {
			s.Pending--
		} else {
			s.Retry--
		}
		s.Active++
		m.mu.Unlock()

		err := m.execute(ctx, pool, h, item)

		m.mu.Lock()
		s.Active--
		s.Processed++
		switch {
		case err == nil:
			s.Completed++
			m.done()
		case item.retry < MaxRetry && !errors.Is(err, ErrSkipRetry) && !m.closed:
			s.Retry++
			s.Failed++
			delay := resilience.Backoff(item.retry, m.retry)
			next := item.retry + 1
			time.AfterFunc(delay, func() {
				m.mu.Lock()
				defer m.mu.Unlock()
				if m.closed {
					m.done()
					return
				}
				heap.Push(&p.items, &memItem{job: item.job, retry: next, seq: item.seq})
				m.cond.Broadcast()
			})
		default:
			s.Failed++
			s.Archived++
			m.done()
		}
		m.mu.Unlock()

		if err != nil {
			m.log.Warn("job failed",
				zap.String("pool", string(pool)),
				zap.String("type", item.job.Type),
				zap.Int("retry", item.retry),
				zap.Error(err),
			)
		}
	}
}

func (m *Memory) execute(ctx context.Context, pool Pool, h Handler, item *memItem) (err error) {
	if h == nil {
		return errNoHandler(item.job.Type)
	}

	ctx, cancel := context.WithTimeout(withAttempt(ctx, item.retry, MaxRetry), Timeout(pool))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = errPanic(r)
		}
	}()
	return h(ctx, item.job)
}

// done must be called with mu held.
func (m *Memory) done() {
	m.pending--
	if m.pending == 0 {
		m.cond.Broadcast()
	}
}

// WaitIdle blocks until no job is queued, running or waiting for a retry,
// or until ctx is done.
func (m *Memory) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.pending > 0 && !m.closed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.cond.Wait()
	}
	return nil
}

// Stats returns a snapshot per sub-queue that has seen traffic.
func (m *Memory) Stats(_ context.Context) ([]Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Stats, 0, len(m.stats))
	for _, p := range Pools {
		for _, band := range Bands {
			if s, ok := m.stats[string(p)+":"+band]; ok {
				out = append(out, *s)
			}
		}
	}
	return out, nil
}

type memItem struct {
	job   Job
	retry int
	seq   int64
}

// jobHeap orders by priority, highest first, then by enqueue order.
type jobHeap []*memItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	bi, bj := bandRank(h[i].job.Payload.Priority), bandRank(h[j].job.Payload.Priority)
	if bi != bj {
		return bi < bj
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*memItem)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func bandRank(priority int) int {
	band := BandOf(priority)
	for i, b := range Bands {
		if b == band {
			return i
		}
	}
	return len(Bands)
}

var errClosed = eris.New("queue: memory queue closed")

func errUnknownPool(p Pool) error {
	return eris.Errorf("queue: pool %s is not run by this queue", p)
}

func errNoHandler(taskType string) error {
	return eris.Wrapf(ErrSkipRetry, "queue: no handler for %s", taskType)
}

func errPanic(r any) error {
	return eris.Errorf("queue: handler panic: %v", r)
}
