package lua

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
)

// LuaOutputRecord represents a single output record from Lua script execution
type LuaOutputRecord struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "stdout" or "stderr"
}

// LuaError represents detailed Lua execution errors
type LuaError struct {
	Type       string // "syntax", "runtime", "api"
	Message    string
	Line       int
	Source     string
	Underlying error
}

func (e *LuaError) Error() string {
	parts := []string{}
	if e.Source != "" {
		parts = append(parts, fmt.Sprintf("in %s", e.Source))
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Line))
	}

	prefix := "Lua error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("Lua %s error (%s)", e.Type, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *LuaError) Unwrap() error {
	return e.Underlying
}

func (e *LuaError) Is(target error) bool {
	var luaErr *LuaError
	if errors.As(target, &luaErr) {
		return e.Type == luaErr.Type
	}
	return false
}

// LuaEngine owns a single Lua state. The state is not thread-safe, so every
// access goes through stateMutex.
type LuaEngine struct {
	state      *lua.State
	stateMutex sync.Mutex
	logger     *logrus.Logger
	scriptCode string
	scriptName string
	outputChan *RingChannel[LuaOutputRecord]

	// registered after every Reset
	initializers []func(L *lua.State)
}

// NewLuaEngine creates a new Lua engine with print output capture
func NewLuaEngine(logger *logrus.Logger) *LuaEngine {
	if logger == nil {
		logger = logrus.New()
	}
	engine := &LuaEngine{
		logger:     logger,
		outputChan: NewRingChannel[LuaOutputRecord](256),
	}

	engine.Reset()

	logger.Debug("LuaEngine initialized with Lua output capture")
	return engine
}

// DoWithState runs callback with exclusive access to the Lua state.
func (e *LuaEngine) DoWithState(callback func(*lua.State) interface{}) interface{} {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.state == nil {
		return nil
	}
	return callback(e.state)
}

// AddInitializer registers fn to run against every fresh state, now and after each Reset.
func (e *LuaEngine) AddInitializer(fn func(L *lua.State)) {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	e.initializers = append(e.initializers, fn)
	if e.state != nil {
		fn(e.state)
	}
}

// SafeWrapGoFunction wraps fn so a Go panic surfaces as a Lua error instead of crashing the process.
func (e *LuaEngine) SafeWrapGoFunction(name string, fn func(*lua.State) int) lua.LuaGoFunction {
	return func(L *lua.State) (ret int) {
		defer func() {
			if r := recover(); r != nil {
				if luaErr, ok := r.(*lua.LuaError); ok {
					// RaiseError from inside fn; let golua propagate it
					panic(luaErr)
				}
				e.logger.WithFields(logrus.Fields{
					"function": name,
					"panic":    r,
				}).Errorf("Go function panicked\n%s", debug.Stack())
				L.RaiseError(fmt.Sprintf("%s: internal error: %v", name, r))
			}
		}()
		return fn(L)
	}
}

func (e *LuaEngine) registerPrintCapture(L *lua.State) {
	L.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)

		for i := 1; i <= top; i++ {
			switch {
			case L.IsNil(i):
				parts = append(parts, "nil")
			case L.IsBoolean(i):
				parts = append(parts, fmt.Sprintf("%t", L.ToBoolean(i)))
			case L.IsNumber(i):
				parts = append(parts, fmt.Sprintf("%v", L.ToNumber(i)))
			case L.IsString(i):
				parts = append(parts, L.ToString(i))
			default:
				// tables, functions, userdata: defer to Lua's tostring()
				L.GetGlobal("tostring")
				L.PushValue(i)
				L.Call(1, 1)
				parts = append(parts, L.ToString(-1))
				L.Pop(1)
			}
		}

		e.emit("stdout", strings.Join(parts, "\t")+"\n")
		return 0
	})
	L.SetGlobal("print")
}

func (e *LuaEngine) emit(source, content string) {
	e.outputChan.ForceSend(LuaOutputRecord{
		Content:   content,
		Timestamp: time.Now(),
		Source:    source,
	})
}

// OutputChannel returns the output channel
func (e *LuaEngine) OutputChannel() <-chan LuaOutputRecord {
	return e.outputChan.C()
}

// parseLuaError extracts line information from a Lua error message such as
// `[string "..."]:3: attempt to call a nil value`.
func parseLuaError(errType, source, errMsg string, underlying error) *LuaError {
	line := 0
	message := errMsg
	parts := strings.SplitN(errMsg, ":", 3)
	if len(parts) == 3 {
		if n, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &line); err == nil && n == 1 {
			message = strings.TrimSpace(parts[2])
		}
	}

	return &LuaError{
		Type:       errType,
		Message:    message,
		Line:       line,
		Source:     source,
		Underlying: underlying,
	}
}

// LoadScriptFile loads a Lua script from a file
func (e *LuaEngine) LoadScriptFile(filename string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", filename, err)
	}
	return e.LoadScript(string(content), filename)
}

// LoadScript loads a Lua script string and validates its syntax
func (e *LuaEngine) LoadScript(script, name string) error {
	if strings.TrimSpace(script) == "" {
		return &LuaError{Type: "api", Message: "empty script", Source: name}
	}

	var loadErr error
	e.DoWithState(func(L *lua.State) interface{} {
		if status := L.LoadString(script); status != 0 {
			msg := "unknown Lua error"
			if L.IsString(-1) {
				msg = L.ToString(-1)
			}
			L.Pop(1)
			luaErr := parseLuaError("syntax", name, msg, nil)
			e.emit("stderr", fmt.Sprintf("Lua syntax error: %s\n", luaErr.Message))
			loadErr = luaErr
			return nil
		}
		L.Pop(1)
		return nil
	})
	if loadErr != nil {
		return loadErr
	}

	e.scriptCode = script
	e.scriptName = name
	return nil
}

// ExecuteScript runs script, or the previously loaded script when script is empty.
func (e *LuaEngine) ExecuteScript(ctx context.Context, script string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if script != "" {
		if err := e.LoadScript(script, "ad-hoc script"); err != nil {
			return err
		}
	}
	if e.scriptCode == "" {
		return &LuaError{Type: "api", Message: "no script loaded"}
	}

	var execErr error
	e.DoWithState(func(L *lua.State) interface{} {
		if err := L.DoString(e.scriptCode); err != nil {
			luaErr := parseLuaError("runtime", e.scriptName, err.Error(), err)
			e.emit("stderr", fmt.Sprintf("Lua runtime error: %s\n", luaErr.Message))
			L.SetTop(0)
			execErr = luaErr
		}
		return nil
	})
	return execErr
}

func (e *LuaEngine) resetInternal() {
	if e.state != nil {
		e.state.Close()
	}

	e.state = lua.NewState()
	e.state.OpenLibs()
	e.registerPrintCapture(e.state)

	for _, fn := range e.initializers {
		fn(e.state)
	}
}

// Reset recreates the Lua state
func (e *LuaEngine) Reset() {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	e.resetInternal()
}

// Close cleans up the engine
func (e *LuaEngine) Close() {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}

// SetGlobal sets a global variable in the Lua state
func (e *LuaEngine) SetGlobal(name string, value interface{}) error {
	res := e.DoWithState(func(state *lua.State) any {
		if err := pushValue(state, value); err != nil {
			return fmt.Errorf("global %s: %w", name, err)
		}
		state.SetGlobal(name)
		return nil
	})

	if err, ok := res.(error); ok {
		return err
	}
	return nil
}

// GetGlobal gets a scalar global variable from the Lua state
func (e *LuaEngine) GetGlobal(name string) interface{} {
	return e.DoWithState(func(state *lua.State) any {
		state.GetGlobal(name)
		defer state.Pop(1)

		switch {
		case state.IsNumber(-1):
			return state.ToNumber(-1)
		case state.IsString(-1):
			return state.ToString(-1)
		case state.IsBoolean(-1):
			return state.ToBoolean(-1)
		default:
			return nil
		}
	})
}
