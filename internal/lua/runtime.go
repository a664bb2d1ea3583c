package lua

import (
	"fmt"
	"sort"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"

	"github.com/logitow/blebridge/internal/bridge"
)

// Runtime adapts a LuaEngine to bridge.Runtime.
//
// A Lua state admits one thread at a time, so attaching a thread means taking
// exclusive ownership of the state until the matching detach. The bridge pins
// the attaching goroutine to its OS thread, which keeps lock and unlock on the
// same goroutine.
type Runtime struct {
	engine *LuaEngine
	logger *logrus.Logger
}

var _ bridge.Runtime = (*Runtime)(nil)

// NewRuntime wraps engine as a host runtime for the callback bridge.
func NewRuntime(engine *LuaEngine) *Runtime {
	return &Runtime{engine: engine, logger: engine.logger}
}

// AttachCurrentThread takes ownership of the Lua state.
func (r *Runtime) AttachCurrentThread() (bridge.Env, error) {
	r.engine.stateMutex.Lock()
	if r.engine.state == nil {
		r.engine.stateMutex.Unlock()
		return nil, fmt.Errorf("lua state is closed")
	}
	return &env{engine: r.engine, L: r.engine.state}, nil
}

// DetachCurrentThread releases the Lua state.
func (r *Runtime) DetachCurrentThread() error {
	r.engine.stateMutex.Unlock()
	return nil
}

type env struct {
	engine *LuaEngine
	L      *lua.State
}

// Invoke calls target.method(args...) where target is a global table.
func (e *env) Invoke(target string, ev bridge.Event) error {
	L := e.L
	base := L.GetTop()
	defer L.SetTop(base)

	L.GetGlobal(target)
	if !L.IsTable(-1) {
		return fmt.Errorf("callback target %q is not a table: %w", target, bridge.ErrNoSuchMethod)
	}

	L.GetField(-1, ev.Method)
	if !L.IsFunction(-1) {
		return fmt.Errorf("%s.%s: %w", target, ev.Method, bridge.ErrNoSuchMethod)
	}

	for i, arg := range ev.Args {
		if err := pushValue(L, arg); err != nil {
			return fmt.Errorf("%s.%s argument %d: %w", target, ev.Method, i+1, err)
		}
	}

	if err := L.Call(len(ev.Args), 0); err != nil {
		e.engine.emit("stderr", fmt.Sprintf("Callback error: %v\n", err))
		return fmt.Errorf("%s.%s: %w", target, ev.Method, err)
	}
	return nil
}

// pushValue pushes a Go value onto the Lua stack.
// []byte is pushed as a Lua string so scripts can use string.byte on it.
func pushValue(L *lua.State, v any) error {
	switch val := v.(type) {
	case nil:
		L.PushNil()
	case bool:
		L.PushBoolean(val)
	case string:
		L.PushString(val)
	case []byte:
		L.PushString(string(val))
	case int:
		L.PushInteger(int64(val))
	case int64:
		L.PushInteger(val)
	case uint32:
		L.PushInteger(int64(val))
	case uint64:
		L.PushInteger(int64(val))
	case float64:
		L.PushNumber(val)
	case []string:
		L.NewTable()
		for i, s := range val {
			L.PushInteger(int64(i + 1))
			L.PushString(s)
			L.SetTable(-3)
		}
	case []any:
		L.NewTable()
		for i, item := range val {
			L.PushInteger(int64(i + 1))
			if err := pushValue(L, item); err != nil {
				L.Pop(2)
				return fmt.Errorf("item %d: %w", i+1, err)
			}
			L.SetTable(-3)
		}
	case map[string]any:
		L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := pushValue(L, val[k]); err != nil {
				L.Pop(1)
				return fmt.Errorf("field %s: %w", k, err)
			}
			L.SetField(-2, k)
		}
	default:
		return fmt.Errorf("unsupported type %T", v)
	}
	return nil
}
