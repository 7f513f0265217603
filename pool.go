package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/damage-inspection-service/detections"
)

const (
	DefaultPoolSize   = 4
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second

	maxRecentErrors = 10
)

var errPoolClosed = errors.New("session pool is closed")

// sessionFactory builds one ready-to-run model session.
type sessionFactory func() (*detections.ModelSession, error)

// ModelSessionPool leases model sessions to inference calls. Sessions that
// are discarded after a runtime failure are rebuilt by a periodic health
// check.
type ModelSessionPool struct {
	name    string
	size    int
	factory sessionFactory
	idle    chan *detections.ModelSession
	stop    chan struct{}

	mu     sync.Mutex
	closed bool
	// live counts sessions owned by the pool, idle or leased, plus any being
	// rebuilt. It never exceeds size, so idle always has room.
	live   int
	recent []error

	inUse     atomic.Int64
	acquired  atomic.Int64
	released  atomic.Int64
	timeouts  atomic.Int64
	waitNanos atomic.Int64
}

// PoolSnapshot is the view served on /metrics.
type PoolSnapshot struct {
	Size            int    `json:"pool_size"`
	InUse           int    `json:"sessions_in_use"`
	TotalAcquired   int64  `json:"total_acquired"`
	TotalReleased   int64  `json:"total_released"`
	AcquireFailures int64  `json:"acquire_failures"`
	WaitTime        string `json:"wait_time"`
	LastError       string `json:"last_error,omitempty"`
}

func NewModelSessionPool(name string, factory sessionFactory, size int) (*ModelSessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	p := &ModelSessionPool{
		name:    name,
		size:    size,
		factory: factory,
		idle:    make(chan *detections.ModelSession, size),
		stop:    make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			p.Destroy()
			return nil, fmt.Errorf("failed to initialize %s session %d: %w", name, i, err)
		}
		p.idle <- session
		p.live++
	}

	go p.healthCheck()
	return p, nil
}

func (p *ModelSessionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Acquire waits up to AcquireTimeout for an idle session.
func (p *ModelSessionPool) Acquire(ctx context.Context) (*detections.ModelSession, error) {
	if p.isClosed() {
		return nil, errPoolClosed
	}

	start := time.Now()
	defer func() { p.waitNanos.Add(int64(time.Since(start))) }()

	timer := time.NewTimer(AcquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.idle:
		if !ok {
			return nil, errPoolClosed
		}
		p.inUse.Add(1)
		p.acquired.Add(1)
		return session, nil
	case <-timer.C:
		p.timeouts.Add(1)
		return nil, fmt.Errorf("timeout waiting for available %s session", p.name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release hands a session back. Sessions returned after Destroy are freed.
func (p *ModelSessionPool) Release(session *detections.ModelSession) {
	p.inUse.Add(-1)
	p.released.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		session.Destroy()
		return
	}
	p.put(session)
}

// Discard destroys a leased session instead of returning it. The health
// check builds a replacement.
func (p *ModelSessionPool) Discard(session *detections.ModelSession) {
	p.inUse.Add(-1)
	p.released.Add(1)
	session.Destroy()

	p.mu.Lock()
	p.live--
	p.mu.Unlock()
}

// put must be called with p.mu held.
func (p *ModelSessionPool) put(session *detections.ModelSession) {
	select {
	case p.idle <- session:
	default:
		session.Destroy()
		p.live--
	}
}

func (p *ModelSessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.closed = true
	close(p.stop)
	close(p.idle)
	for session := range p.idle {
		session.Destroy()
	}
}

func (p *ModelSessionPool) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

// replenish rebuilds discarded sessions so the pool stays at size. Slots are
// reserved before the factory runs so concurrent calls never overshoot.
func (p *ModelSessionPool) replenish() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	missing := p.size - p.live
	p.live += missing
	p.mu.Unlock()

	for ; missing > 0; missing-- {
		session, err := p.factory()

		p.mu.Lock()
		switch {
		case err != nil:
			p.live--
			p.recent = appendError(p.recent, err)
		case p.closed:
			p.live--
			session.Destroy()
		default:
			p.put(session)
		}
		p.mu.Unlock()
	}
}

func appendError(recent []error, err error) []error {
	recent = append(recent, err)
	if len(recent) > maxRecentErrors {
		recent = recent[1:]
	}
	return recent
}

func (p *ModelSessionPool) GetMetrics() PoolSnapshot {
	snap := PoolSnapshot{
		Size:            p.size,
		InUse:           int(p.inUse.Load()),
		TotalAcquired:   p.acquired.Load(),
		TotalReleased:   p.released.Load(),
		AcquireFailures: p.timeouts.Load(),
		WaitTime:        time.Duration(p.waitNanos.Load()).String(),
	}

	p.mu.Lock()
	if n := len(p.recent); n > 0 {
		snap.LastError = p.recent[n-1].Error()
	}
	p.mu.Unlock()
	return snap
}
