// Package process defines the live execution handle for one query and the
// process-wide registry that tracks them.
package process

import (
	"context"
	"sync"
	"time"

	"github.com/oktant/oktant/pkg/events"
	"github.com/oktant/oktant/pkg/plan"
)

// Status represents the lifecycle state of a process.
type Status string

// Process statuses. completed, error, and cancelled are terminal.
const (
	StatusInitializing Status = "initializing"
	StatusPlanning     Status = "planning"
	StatusExecuting    Status = "executing"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusCancelled    Status = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Process is one end-to-end query execution. It exclusively owns its event
// bus and cancel signal. Mutable fields are mutex-guarded; the bus has its
// own synchronization.
type Process struct {
	ID        string
	Query     string
	Owner     string
	CreatedAt time.Time

	mu        sync.RWMutex
	status    Status
	plan      *plan.Plan
	endedAt   time.Time
	cancelled bool
	started   bool

	ctx        context.Context
	cancelFunc context.CancelFunc

	bus *events.Bus
}

// New creates a process in the initializing state with its own bus and
// cancellable context. The context exists from creation so Cancel works at
// any lifecycle point, including before execution starts.
func New(id, query, owner string, busCapacity int) *Process {
	p := &Process{
		ID:        id,
		Query:     query,
		Owner:     owner,
		CreatedAt: time.Now(),
		status:    StatusInitializing,
		bus:       events.NewBus(busCapacity),
	}
	p.ctx, p.cancelFunc = context.WithCancel(context.Background())
	return p
}

// Context returns the process lifetime context, cancelled by Cancel.
func (p *Process) Context() context.Context { return p.ctx }

// Bus returns the process event bus.
func (p *Process) Bus() *events.Bus { return p.bus }

// Status returns the current lifecycle state.
func (p *Process) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// SetStatus updates the lifecycle state. Terminal states also record the
// end time used by the registry reaper.
func (p *Process) SetStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
	if s.IsTerminal() && p.endedAt.IsZero() {
		p.endedAt = time.Now()
	}
}

// EndedAt returns when the process reached a terminal state (zero if live).
func (p *Process) EndedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.endedAt
}

// SetPlan records the generated plan.
func (p *Process) SetPlan(pl plan.Plan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plan = &pl
}

// Plan returns the generated plan, or nil before planning completes.
func (p *Process) Plan() *plan.Plan {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.plan
}

// Cancel fires the process context. Idempotent; returns true only on the
// first call.
func (p *Process) Cancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return false
	}
	p.cancelled = true
	p.cancelFunc()
	return true
}

// MarkStarted flips the execution-started flag exactly once. Subscribe uses
// it to kick off execution on first attach without racing a concurrent
// subscriber.
func (p *Process) MarkStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return false
	}
	p.started = true
	return true
}

// Snapshot is a copy of the observable process state, safe to serialize.
type Snapshot struct {
	ID        string     `json:"process_id"`
	Query     string     `json:"query"`
	Owner     string     `json:"owner"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	Plan      *plan.Plan `json:"plan,omitempty"`
}

// Snapshot returns a consistent copy for read-only use.
func (p *Process) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		ID:        p.ID,
		Query:     p.Query,
		Owner:     p.Owner,
		Status:    p.status,
		CreatedAt: p.CreatedAt,
		Plan:      p.plan,
	}
}
