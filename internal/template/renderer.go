package template

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// StateReader is the subset of the state store templates can see.
type StateReader interface {
	Get(entityID string) (core.EntityState, error)
}

// Renderer compiles and executes templates. Compiled templates are cached.
// Safe for concurrent use.
type Renderer struct {
	states StateReader
	now    func() time.Time
	loc    *time.Location

	mu    sync.RWMutex
	cache map[string]*pongo2.Template
}

// New creates a renderer reading entity state from states.
func New(states StateReader) *Renderer {
	return &Renderer{
		states: states,
		now:    time.Now,
		loc:    time.Local,
		cache:  make(map[string]*pongo2.Template),
	}
}

// SetLocation sets the zone now() reports in.
func (r *Renderer) SetLocation(loc *time.Location) {
	if loc != nil {
		r.loc = loc
	}
}

// SetClock overrides the time source. Intended for tests.
func (r *Renderer) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// IsTemplate reports whether s contains template markup.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

// Render executes expr with vars and returns the trimmed output.
func (r *Renderer) Render(expr string, vars map[string]any) (string, error) {
	tpl, err := r.compile(expr)
	if err != nil {
		return "", err
	}

	ctx := r.helpers()
	for k, v := range vars {
		ctx[k] = v
	}

	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	return strings.TrimSpace(out), nil
}

// RenderBool renders expr and interprets the result as a truth value.
// "true", "on", "yes", "1" and non-zero numbers are true.
func (r *Renderer) RenderBool(expr string, vars map[string]any) (bool, error) {
	out, err := r.Render(expr, vars)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(out) {
	case "true", "on", "yes", "1", "enable":
		return true, nil
	case "", "false", "off", "no", "0", "none", "disable":
		return false, nil
	}
	if f, ok := core.ToFloat(out); ok {
		return f != 0, nil
	}
	return false, nil
}

// RenderValue renders every template string inside v (maps and lists are
// walked) and returns a new value. Non-template values are copied as is.
func (r *Renderer) RenderValue(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		if !IsTemplate(val) {
			return val, nil
		}
		return r.Render(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			rendered, err := r.RenderValue(item, vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rendered, err := r.RenderValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return core.CloneValue(v), nil
	}
}

func (r *Renderer) compile(expr string) (*pongo2.Template, error) {
	r.mu.RLock()
	tpl, ok := r.cache[expr]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	tpl, err := pongo2.FromString(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	r.mu.Lock()
	r.cache[expr] = tpl
	r.mu.Unlock()
	return tpl, nil
}

func (r *Renderer) helpers() pongo2.Context {
	get := func(id string) (core.EntityState, bool) {
		if r.states == nil {
			return core.EntityState{}, false
		}
		st, err := r.states.Get(id)
		return st, err == nil
	}

	return pongo2.Context{
		"states": func(id string) string {
			if st, ok := get(id); ok {
				return st.State
			}
			return core.StateUnknown
		},
		"is_state": func(id, want string) bool {
			st, ok := get(id)
			return ok && st.State == want
		},
		"state_attr": func(id, name string) *pongo2.Value {
			st, ok := get(id)
			if !ok {
				return pongo2.AsValue(nil)
			}
			v, _ := st.Attr(name)
			return pongo2.AsValue(v)
		},
		"is_state_attr": func(id, name string, want any) bool {
			st, ok := get(id)
			if !ok {
				return false
			}
			v, _ := st.Attr(name)
			return fmt.Sprint(v) == fmt.Sprint(want)
		},
		"now": func() time.Time {
			return r.now().In(r.loc)
		},
	}
}

// StateVars converts a record into the map shape templates expect.
// A nil record yields nil.
func StateVars(st *core.EntityState) map[string]any {
	if st == nil {
		return nil
	}
	attrs := core.CloneMap(st.Attributes)
	if attrs == nil {
		attrs = map[string]any{}
	}
	name, _ := attrs["friendly_name"].(string)
	if name == "" {
		name = st.ObjectID()
	}
	return map[string]any{
		"entity_id":    st.EntityID,
		"domain":       st.Domain(),
		"object_id":    st.ObjectID(),
		"name":         name,
		"state":        st.State,
		"attributes":   attrs,
		"last_changed": core.FormatTime(st.LastChanged),
		"last_updated": core.FormatTime(st.LastUpdated),
		"context":      map[string]any{"id": st.Context.ID, "parent_id": st.Context.ParentID},
	}
}

func init() {
	// Output is plain text, not HTML.
	pongo2.SetAutoescape(false)

	// Jinja spellings not built into pongo2.
	_ = pongo2.RegisterFilter("int", func(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
		if f, ok := core.ToFloat(in.Interface()); ok {
			return pongo2.AsValue(int(f)), nil
		}
		return pongo2.AsValue(0), nil
	})
	_ = pongo2.RegisterFilter("round", func(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
		f, ok := core.ToFloat(in.Interface())
		if !ok {
			return in, nil
		}
		digits := 0
		if param != nil && !param.IsNil() {
			digits = param.Integer()
		}
		p := math.Pow(10, float64(digits))
		return pongo2.AsValue(math.Round(f*p) / p), nil
	})
}
