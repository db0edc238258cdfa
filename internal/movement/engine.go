package movement

import (
	"errors"
	"sync"
	"time"

	"resitrack.org/internal/location"
)

// DefaultSettleDelay is how long origin and destination must stay unchanged
// before inference runs.
const DefaultSettleDelay = 300 * time.Millisecond

// Scheduler runs f once after d and returns a function cancelling it.
// It matches time.AfterFunc so tests can substitute a manual clock.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

// AfterFunc is the real-time Scheduler.
func AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// SideName selects one end of a movement.
type SideName string

const (
	SideDepart  SideName = "depart"
	SideArrivee SideName = "arrivee"
)

var (
	ErrNoRoom         = errors.New("movement: side is not a room")
	ErrSectionInvalid = errors.New("movement: invalid section")
)

// Engine holds the origin and destination typed into a movement form and
// infers the movement type once both have settled.
type Engine struct {
	mu       sync.Mutex
	dir      *location.Directory
	state    State
	delay    time.Duration
	schedule Scheduler
	cancel   func() bool
	onChange func(State)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSettleDelay overrides DefaultSettleDelay. Zero settles synchronously.
func WithSettleDelay(d time.Duration) EngineOption {
	return func(e *Engine) { e.delay = d }
}

// WithScheduler replaces the timer implementation.
func WithScheduler(s Scheduler) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.schedule = s
		}
	}
}

// OnChange registers a callback invoked after every inference pass.
func OnChange(fn func(State)) EngineOption {
	return func(e *Engine) { e.onChange = fn }
}

// NewEngine creates an engine classifying against dir.
func NewEngine(dir *location.Directory, opts ...EngineOption) *Engine {
	e := &Engine{
		dir:      dir,
		delay:    DefaultSettleDelay,
		schedule: AfterFunc,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetOrigin records the origin value and re-arms the settle timer.
func (e *Engine) SetOrigin(v string) {
	e.mu.Lock()
	e.state.Origin = v
	e.armLocked()
	e.mu.Unlock()
}

// SetDestination records the destination value and re-arms the settle timer.
func (e *Engine) SetDestination(v string) {
	e.mu.Lock()
	e.state.Destination = v
	e.armLocked()
	e.mu.Unlock()
}

// SetDirectory swaps the location directory (after a refetch) and re-arms
// the settle timer so classification is re-evaluated.
func (e *Engine) SetDirectory(dir *location.Directory) {
	e.mu.Lock()
	e.dir = dir
	e.armLocked()
	e.mu.Unlock()
}

// Settle cancels any pending timer and runs inference immediately.
func (e *Engine) Settle() State {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	st := e.evaluateLocked()
	cb := e.onChange
	e.mu.Unlock()
	if cb != nil {
		cb(st)
	}
	return st
}

// State returns the last evaluated state with the current raw values.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ChooseSection records the section picked for a Médecine room lacking one.
func (e *Engine) ChooseSection(side SideName, section string) error {
	if section != location.SectionMedecine && section != location.SectionUSLD {
		return ErrSectionInvalid
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	target := &e.state.Depart
	if side == SideArrivee {
		target = &e.state.Arrivee
	}
	if !target.IsRoom() {
		return ErrNoRoom
	}
	target.Section = section
	return nil
}

func (e *Engine) armLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.delay <= 0 {
		e.evaluateLocked()
		return
	}
	e.cancel = e.schedule(e.delay, func() {
		e.Settle()
	})
}

func (e *Engine) evaluateLocked() State {
	e.state = Evaluate(e.dir, e.state, e.state.Origin, e.state.Destination)
	return e.state
}
