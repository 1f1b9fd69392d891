package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Memory schedules jobs on in-process timers. Pending jobs are lost on
// restart.
type Memory struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	handler Handler
	base    context.Context
	parked  []Job
	closed  bool
	running sync.WaitGroup
}

// NewMemory creates an idle Memory scheduler. Jobs that come due before Run
// has installed a handler are parked and dispatched by Run.
func NewMemory() *Memory {
	return &Memory{timers: make(map[string]*time.Timer)}
}

// Schedule fires job after delay.
func (m *Memory) Schedule(_ context.Context, job Job, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	id := job.ID()
	if _, ok := m.timers[id]; ok {
		return nil
	}
	m.timers[id] = time.AfterFunc(delay, func() { m.fire(id, job) })
	return nil
}

func (m *Memory) fire(id string, job Job) {
	m.mu.Lock()
	delete(m.timers, id)
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.handler == nil {
		m.parked = append(m.parked, job)
		m.mu.Unlock()
		return
	}
	h, ctx := m.handler, m.base
	m.running.Add(1)
	m.mu.Unlock()

	defer m.running.Done()
	h(ctx, job)
}

// Run installs h and blocks until ctx is done. Pending timers are then
// stopped and in-flight jobs awaited.
func (m *Memory) Run(ctx context.Context, h Handler) error {
	m.mu.Lock()
	m.handler = h
	m.base = context.WithoutCancel(ctx)
	parked := m.parked
	m.parked = nil
	m.running.Add(len(parked))
	m.mu.Unlock()

	for _, job := range parked {
		go func() {
			defer m.running.Done()
			h(m.base, job)
		}()
	}

	<-ctx.Done()
	m.Stop()
	return nil
}

// Stop discards pending jobs and waits for running ones.
func (m *Memory) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	dropped := len(m.timers)
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	ctx := m.base
	m.mu.Unlock()

	if dropped > 0 && ctx != nil {
		zctx.From(ctx).Warn("Dropped pending jobs on shutdown", zap.Int("count", dropped))
	}
	m.running.Wait()
}

// Pending returns the number of jobs waiting to fire.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
