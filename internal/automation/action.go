package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/template"
)

// sceneDomain is where scene actions are sent.
const sceneDomain = "scene"

// runSequence executes actions strictly in order. It returns nil when the
// sequence completes, errStop when a stop or false condition ends it
// cleanly, the context error when the run is cancelled, and an
// ErrActionFailed error when a step fails.
func (e *Engine) runSequence(ctx context.Context, a *automation, actions []Action, vars map[string]any) error {
	for i := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}

		act := &actions[i]
		err := e.runAction(ctx, a, act, vars)
		switch {
		case err == nil:
			continue
		case errors.Is(err, errStop), ctx.Err() != nil, errors.Is(err, ErrActionFailed):
			return err
		case act.ContinueOnError:
			e.logger.Warn("action failed, continuing",
				"automation", a.entityID, "step", i, "action", act.Kind, "error", err)
			continue
		}
		return fmt.Errorf("%w: step %d (%s): %w", ErrActionFailed, i, act.Kind, err)
	}
	return nil
}

func (e *Engine) runAction(ctx context.Context, a *automation, act *Action, vars map[string]any) error {
	switch act.Kind {
	case ActionService:
		return e.callService(ctx, act, vars)

	case ActionEvent:
		data, err := e.renderMap(act.EventData, vars)
		if err != nil {
			return err
		}
		e.bus.Fire(ctx, act.EventType, data, core.OriginLocal)
		return nil

	case ActionDelay:
		return e.delay(ctx, act.Delay, vars)

	case ActionScene:
		id, err := e.renderString(act.Scene, vars)
		if err != nil {
			return err
		}
		res, err := e.services.Call(ctx, sceneDomain, service.ServiceTurnOn, []string{id}, nil)
		if err != nil {
			return err
		}
		if len(res.Missing) > 0 {
			return fmt.Errorf("%w: %s", ErrTargetMissing, id)
		}
		return nil

	case ActionCondition:
		ok, err := e.check(act.Condition, vars)
		if err != nil {
			return err
		}
		if !ok {
			return errStop
		}
		return nil

	case ActionStop:
		e.logger.Info("automation stopped", "automation", a.entityID, "reason", act.StopReason)
		if act.StopError {
			return fmt.Errorf("stopped: %s", act.StopReason)
		}
		return errStop

	case ActionChoose:
		for _, opt := range act.Choose {
			if e.checkConditions(a.entityID, opt.Conditions, vars) {
				return e.runSequence(ctx, a, opt.Sequence, vars)
			}
		}
		return e.runSequence(ctx, a, act.Default, vars)

	case ActionParallel:
		var g errgroup.Group
		for _, branch := range act.Branches {
			g.Go(func() error {
				if err := e.runSequence(ctx, a, branch, vars); !errors.Is(err, errStop) {
					return err
				}
				return nil
			})
		}
		return g.Wait()
	}
	return fmt.Errorf("unknown action kind %q", act.Kind)
}

// callService runs a service action. Targets that name only missing
// entities fail the step.
func (e *Engine) callService(ctx context.Context, act *Action, vars map[string]any) error {
	name, err := e.renderString(act.Service, vars)
	if err != nil {
		return err
	}
	domain, svc, ok := splitService(name)
	if !ok {
		return fmt.Errorf("service %q is not domain.service", name)
	}

	target, err := e.renderer.RenderValue(act.Target, vars)
	if err != nil {
		return err
	}
	entityIDs, err := e.renderer.RenderValue(act.EntityID, vars)
	if err != nil {
		return err
	}
	targets := append(service.Targets(target), core.ToStringList(entityIDs)...)

	data, err := e.renderMap(act.Data, vars)
	if err != nil {
		return err
	}

	res, err := e.services.Call(ctx, domain, svc, targets, data)
	if err != nil {
		return err
	}

	valid := validTargets(targets)
	if len(valid) > 0 && len(res.Missing) >= len(valid) {
		return fmt.Errorf("%w: %v", ErrTargetMissing, res.Missing)
	}
	return nil
}

func (e *Engine) delay(ctx context.Context, raw any, vars map[string]any) error {
	if s, ok := raw.(string); ok && template.IsTemplate(s) {
		rendered, err := e.renderer.Render(s, vars)
		if err != nil {
			return err
		}
		raw = rendered
	}
	d, err := parseDuration(raw)
	if err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) renderString(s string, vars map[string]any) (string, error) {
	if !template.IsTemplate(s) {
		return s, nil
	}
	return e.renderer.Render(s, vars)
}

func (e *Engine) renderMap(m map[string]any, vars map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return map[string]any{}, nil
	}
	v, err := e.renderer.RenderValue(m, vars)
	if err != nil {
		return nil, err
	}
	out, _ := v.(map[string]any)
	return out, nil
}

func validTargets(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if _, dup := seen[id]; dup || !core.ValidEntityID(id) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
