package process

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry errors.
var (
	// ErrNotFound is returned when no process exists for the given id.
	ErrNotFound = errors.New("process not found")

	// ErrQuotaExceeded is returned when an owner has too many active processes.
	ErrQuotaExceeded = errors.New("owner process quota exceeded")
)

// reapInterval is how often the background reaper scans for expired
// terminal processes.
const reapInterval = 30 * time.Second

// Registry is the process-wide map of live and recently finished processes.
// Terminal processes are retained for a grace window so late subscribers can
// still drain their event buffers, then evicted by the background reaper.
type Registry struct {
	mu        sync.RWMutex
	processes map[string]*Process

	ownerQuota  int
	busCapacity int
	grace       time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry creates a registry. Call Start to run the reaper and
// Shutdown to tear everything down.
func NewRegistry(ownerQuota, busCapacity int, grace time.Duration) *Registry {
	return &Registry{
		processes:   make(map[string]*Process),
		ownerQuota:  ownerQuota,
		busCapacity: busCapacity,
		grace:       grace,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the background reaper.
func (r *Registry) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.reap(time.Now())
			}
		}
	}()
}

// Create registers a new process for the owner, enforcing the per-owner
// quota on non-terminal processes.
func (r *Registry) Create(query, owner string) (*Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, p := range r.processes {
		if p.Owner == owner && !p.Status().IsTerminal() {
			active++
		}
	}
	if active >= r.ownerQuota {
		return nil, fmt.Errorf("%w: %d active processes for %s", ErrQuotaExceeded, active, owner)
	}

	p := New(uuid.New().String(), query, owner, r.busCapacity)
	r.processes[p.ID] = p
	return p, nil
}

// Get returns the process for the given id.
func (r *Registry) Get(id string) (*Process, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Evict removes a process and closes its bus. Explicit cleanup path; the
// reaper uses it for expired terminal processes.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	p, ok := r.processes[id]
	delete(r.processes, id)
	r.mu.Unlock()
	if ok {
		p.Bus().Close()
	}
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.processes)
}

// reap evicts terminal processes whose grace window has expired.
func (r *Registry) reap(now time.Time) {
	r.mu.RLock()
	expired := make([]string, 0)
	for id, p := range r.processes {
		if p.Status().IsTerminal() {
			if ended := p.EndedAt(); !ended.IsZero() && now.Sub(ended) > r.grace {
				expired = append(expired, id)
			}
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		slog.Debug("Reaping expired process", "process_id", id)
		r.Evict(id)
	}
}

// Shutdown stops the reaper, cancels every live process, and closes all
// buses. Called once during server shutdown.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()

	r.mu.Lock()
	remaining := make([]*Process, 0, len(r.processes))
	for _, p := range r.processes {
		remaining = append(remaining, p)
	}
	r.processes = make(map[string]*Process)
	r.mu.Unlock()

	for _, p := range remaining {
		p.Cancel()
		p.Bus().Close()
	}
	slog.Info("Process registry shut down", "cancelled", len(remaining))
}
