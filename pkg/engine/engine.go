// Package engine is the query execution orchestrator: it owns the process
// registry, drives planning and step execution, and streams results over
// per-process event buses.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/oktant/oktant/pkg/codecheck"
	"github.com/oktant/oktant/pkg/config"
	"github.com/oktant/oktant/pkg/events"
	"github.com/oktant/oktant/pkg/plan"
	"github.com/oktant/oktant/pkg/process"
	"github.com/oktant/oktant/pkg/script"
	"github.com/oktant/oktant/pkg/step"
)

// Engine errors, mapped to HTTP statuses by the API layer.
var (
	ErrInvalidQuery     = errors.New("invalid query")
	ErrTooManyProcesses = errors.New("too many active processes for owner")
	ErrNotFound         = process.ErrNotFound
	ErrForbidden        = errors.New("process belongs to another owner")
)

// History persists finished executions for later retrieval. Optional
// collaborator; the engine skips a nil history.
type History interface {
	SaveResult(ctx context.Context, snap process.Snapshot, artifact *plan.Artifact) error
}

// Notifier announces terminal process states out of band. Optional
// collaborator; the engine skips a nil notifier.
type Notifier interface {
	NotifyTerminal(snap process.Snapshot, errMessage string)
}

// Deps are the engine's collaborators. Planner and Steps are required;
// Validator and Supervisor only for script executions; History and Notifier
// are optional.
type Deps struct {
	Planner    Planner
	Steps      *step.Registry
	Validator  *codecheck.Validator
	Supervisor *script.Supervisor
	History    History
	Notifier   Notifier
}

// Engine is the orchestrator facade used by the API layer.
type Engine struct {
	cfg   *config.EngineConfig
	procs *process.Registry
	deps  Deps
}

// New creates an engine and starts the process registry reaper.
func New(cfg *config.EngineConfig, deps Deps) *Engine {
	procs := process.NewRegistry(cfg.OwnerQuota, cfg.EventBusCapacity, cfg.ProcessGrace)
	procs.Start()
	return &Engine{cfg: cfg, procs: procs, deps: deps}
}

// StartProcess validates the query and registers a new process for the
// owner. Execution does not begin until the first Subscribe.
func (e *Engine) StartProcess(query, owner string) (process.Snapshot, error) {
	clean, err := sanitizeQuery(query, e.cfg.MaxQueryLength)
	if err != nil {
		return process.Snapshot{}, err
	}

	p, err := e.procs.Create(clean, owner)
	if err != nil {
		if errors.Is(err, process.ErrQuotaExceeded) {
			return process.Snapshot{}, fmt.Errorf("%w: %s", ErrTooManyProcesses, owner)
		}
		return process.Snapshot{}, err
	}

	slog.Info("Process created", "process_id", p.ID, "owner", owner)
	return p.Snapshot(), nil
}

// Subscribe attaches the caller as the sole consumer of the process event
// stream and kicks off execution on the first attach. A subsequent Subscribe
// detaches the previous consumer and resumes from the earliest buffered
// event.
func (e *Engine) Subscribe(id, owner string) (<-chan events.Envelope, func(), error) {
	p, err := e.lookup(id, owner)
	if err != nil {
		return nil, nil, err
	}

	if p.MarkStarted() {
		go e.execute(p)
	}
	ch, detach := p.Bus().Attach()
	return ch, detach, nil
}

// Cancel requests cooperative cancellation. Safe to call at any lifecycle
// point; cancelling a terminal process is a no-op.
func (e *Engine) Cancel(id, owner string) error {
	p, err := e.lookup(id, owner)
	if err != nil {
		return err
	}
	if p.Status().IsTerminal() {
		return nil
	}
	p.Cancel()

	// If execution never started there is no executor to emit the terminal
	// events; close out the stream here so a later subscriber still sees a
	// finished process.
	if p.MarkStarted() {
		p.SetStatus(process.StatusCancelled)
		bus := p.Bus()
		bus.Emit(events.TypeError, events.ErrorPayload{
			ProcessID:     p.ID,
			Error:         string(plan.ErrCancelled),
			Message:       "cancelled before execution started",
			FormattedTime: events.FormatTime(time.Now()),
		})
		bus.Emit(events.TypeDone, events.DonePayload{
			ProcessID:     p.ID,
			FormattedTime: events.FormatTime(time.Now()),
		})
		slog.Info("Process cancelled before start", "process_id", p.ID)
	}
	return nil
}

// Get returns the current process snapshot.
func (e *Engine) Get(id, owner string) (process.Snapshot, error) {
	p, err := e.lookup(id, owner)
	if err != nil {
		return process.Snapshot{}, err
	}
	return p.Snapshot(), nil
}

// Len returns the number of registered processes, live and in-grace.
func (e *Engine) Len() int { return e.procs.Len() }

// Shutdown cancels all live processes and stops the registry.
func (e *Engine) Shutdown() { e.procs.Shutdown() }

func (e *Engine) lookup(id, owner string) (*process.Process, error) {
	p, err := e.procs.Get(id)
	if err != nil {
		return nil, err
	}
	if p.Owner != owner {
		return nil, ErrForbidden
	}
	return p, nil
}

// sanitizeQuery trims, collapses control characters, and bounds length.
func sanitizeQuery(q string, maxLen int) (string, error) {
	var b strings.Builder
	for _, r := range q {
		if unicode.IsControl(r) {
			if r == '\n' || r == '\t' {
				b.WriteRune(' ')
			}
			continue
		}
		b.WriteRune(r)
	}
	clean := strings.TrimSpace(b.String())
	if clean == "" {
		return "", fmt.Errorf("%w: empty after sanitation", ErrInvalidQuery)
	}
	if utf8.RuneCountInString(clean) > maxLen {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidQuery, maxLen)
	}
	return clean, nil
}
