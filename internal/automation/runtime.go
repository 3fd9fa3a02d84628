package automation

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// run is one pending execution of an automation.
type run struct {
	vars          map[string]any
	source        string
	parent        core.Context
	skipCondition bool
}

// automation is the runtime of one Config: its enabled flag, its run queue
// and the worker goroutine that executes runs one at a time.
type automation struct {
	engine          *Engine
	cfg             *Config
	entityID        string
	hasClockTrigger bool

	mu            sync.Mutex
	enabled       bool
	stopped       bool
	running       bool
	pending       []*run
	cancelRun     context.CancelFunc
	lastTriggered *time.Time
	templateState map[int]bool

	wake    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	started bool
}

func newAutomation(e *Engine, cfg *Config, entityID string, enabled bool) *automation {
	a := &automation{
		engine:        e,
		cfg:           cfg,
		entityID:      entityID,
		enabled:       enabled,
		templateState: make(map[int]bool),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, t := range cfg.Triggers {
		switch t.Platform {
		case PlatformTime, PlatformTimePattern, PlatformSun:
			a.hasClockTrigger = true
		}
	}
	return a
}

func (a *automation) start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.started = true
	a.mu.Unlock()
	go a.loop(ctx)
}

// stop cancels the worker and waits for it. The automation never writes
// its entity again afterwards.
func (a *automation) stop() {
	if a.halt() {
		<-a.done
	}
}

// halt cancels the worker without waiting for it to exit. It reports
// whether there is a worker to wait for. A worker may halt itself.
func (a *automation) halt() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.stopped = true
	a.pending = nil
	if a.cancelRun != nil {
		a.cancelRun()
	}
	if a.started {
		a.cancel()
	}
	return a.started
}

type workerKey struct{}

// runningOn returns the automation whose worker is executing ctx, if any.
func runningOn(ctx context.Context) *automation {
	a, _ := ctx.Value(workerKey{}).(*automation)
	return a
}

func (a *automation) loop(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.wake:
		}

		for {
			a.mu.Lock()
			if len(a.pending) == 0 || ctx.Err() != nil {
				a.mu.Unlock()
				break
			}
			r := a.pending[0]
			a.pending = a.pending[1:]
			runCtx, cancel := context.WithCancel(context.WithValue(ctx, workerKey{}, a))
			a.running = true
			a.cancelRun = cancel
			a.publishLocked()
			a.mu.Unlock()

			a.engine.execute(runCtx, a, r)
			cancel()

			a.mu.Lock()
			a.running = false
			a.cancelRun = nil
			a.publishLocked()
			a.mu.Unlock()
		}
	}
}

// enqueue checks conditions against the current state, then applies the
// automation's mode to the run. It reports whether the run was accepted.
// A run whose conditions fail never occupies a slot.
func (a *automation) enqueue(r *run) bool {
	if !r.skipCondition && !a.engine.checkConditions(a.entityID, a.cfg.Conditions, r.vars) {
		a.engine.logger.Debug("conditions not met", "automation", a.entityID, "source", r.source)
		return false
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return false
	}

	switch a.cfg.Mode {
	case ModeSingle:
		if a.running || len(a.pending) > 0 {
			a.mu.Unlock()
			a.engine.logger.Warn("automation already running", "automation", a.entityID, "source", r.source)
			return false
		}
	case ModeRestart:
		a.pending = a.pending[:0]
		if a.cancelRun != nil {
			a.cancelRun()
		}
	default:
		if a.currentLocked() >= a.cfg.Max {
			a.mu.Unlock()
			a.engine.logger.Warn("automation queue full", "automation", a.entityID, "max", a.cfg.Max)
			return false
		}
	}

	a.pending = append(a.pending, r)
	a.publishLocked()
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

func (a *automation) currentLocked() int {
	n := len(a.pending)
	if a.running {
		n++
	}
	return n
}

func (a *automation) isEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *automation) setEnabled(ctx context.Context, on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = on
	if !on {
		a.pending = nil
		if a.cancelRun != nil {
			a.cancelRun()
		}
	}
	a.publishWith(ctx)
	a.engine.logger.Info("automation state changed", "automation", a.entityID, "enabled", on)
}

func (a *automation) markTriggered(ctx context.Context, start time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastTriggered = &start
	a.publishWith(ctx)
}

// primeTemplates records the current value of template triggers so they
// only fire on a later false → true change.
func (a *automation) primeTemplates() {
	for i, t := range a.cfg.Triggers {
		if t.Platform != PlatformTemplate {
			continue
		}
		ok, err := a.engine.renderer.RenderBool(t.ValueTemplate, nil)
		a.mu.Lock()
		a.templateState[i] = err == nil && ok
		a.mu.Unlock()
	}
}

func (a *automation) publish(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.publishWith(ctx)
}

func (a *automation) publishLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	a.publishWith(ctx)
}

// publishWith writes the automation entity. Callers hold a.mu.
func (a *automation) publishWith(ctx context.Context) {
	if a.stopped {
		return
	}

	state := core.StateOff
	if a.enabled {
		state = core.StateOn
	}
	var last any
	if a.lastTriggered != nil {
		last = core.FormatTime(*a.lastTriggered)
	}
	attrs := map[string]any{
		"id":             a.cfg.ID,
		"friendly_name":  a.cfg.Name(),
		"mode":           string(a.cfg.Mode),
		"current":        a.currentLocked(),
		"last_triggered": last,
	}
	if a.cfg.Mode == ModeQueued || a.cfg.Mode == ModeParallel {
		attrs["max"] = a.cfg.Max
	}

	if _, _, err := a.engine.states.Set(ctx, a.entityID, state, attrs); err != nil {
		a.engine.logger.Warn("publishing automation entity failed", "automation", a.entityID, "error", err)
	}
}

func (a *automation) info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	info := Info{
		EntityID: a.entityID,
		ID:       a.cfg.ID,
		Name:     a.cfg.Name(),
		Mode:     a.cfg.Mode,
		Enabled:  a.enabled,
		Current:  a.currentLocked(),
	}
	if a.lastTriggered != nil {
		t := *a.lastTriggered
		info.LastTriggered = &t
	}
	return info
}
