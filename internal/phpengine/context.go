package phpengine

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"unsafe"
)

var (
	// ErrClosed is returned by operations on a closed Context.
	ErrClosed = errors.New("phpengine: context is closed")
	// ErrInvalidName is returned for names PHP cannot register or resolve.
	ErrInvalidName = errors.New("phpengine: invalid name")
	// ErrStartup is returned when the engine module fails to start.
	ErrStartup = errors.New("phpengine: engine startup failed")
	// ErrRequestStartup is the panic value, wrapped, when the engine fails
	// to start a request after its module came up. The process cannot
	// start another engine safely afterwards.
	ErrRequestStartup = errors.New("phpengine: request startup failed")
)

// evalName is the file name PHP reports for code run through ResultOf.
const evalName = "eval'd code"

// openEngine is swapped out by tests.
var openEngine = newEngineABI

var defaultINI = map[string]string{
	"html_errors":        "0",
	"register_argc_argv": "1",
	"implicit_flush":     "1",
	"output_buffering":   "0",
	"max_execution_time": "0",
	"max_input_time":     "-1",
}

type state uint8

const (
	stateUninitialized state = iota
	stateInitialized
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateInitialized:
		return "initialized"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Context owns one run of the engine: module startup, a single request,
// and shutdown. It is created uninitialized; the first operation that
// needs the engine starts it. Close shuts it down and is safe to call more
// than once. Always defer Close.
//
// A Context is not safe for concurrent use and must stay on one OS thread
// (see runtime.LockOSThread). Only one Context can be initialized per
// process at a time.
type Context[E any] struct {
	sapi   SAPI[E]
	env    *E
	state  state
	onInit func(*Context[E])
	argv   []string
	ini    map[string]string
	extINI []string
	logger *slog.Logger

	abi       engineABI
	heap      *heap
	bridge    *bridge[E]
	handle    uintptr
	bindings  []*Value
	functions map[string]Function
}

// NewContext returns an uninitialized Context running strategy s. env is
// the server context handed back to s; nil allocates a zero E.
func NewContext[E any](s SAPI[E], env *E) *Context[E] {
	if env == nil {
		env = new(E)
	}
	return &Context[E]{
		sapi:      s,
		env:       env,
		ini:       make(map[string]string),
		functions: make(map[string]Function),
	}
}

// OnInit registers fn to run once, right after the request starts.
func (c *Context[E]) OnInit(fn func(*Context[E])) { c.onInit = fn }

// Argv sets $argv. It has no effect once the engine is running.
func (c *Context[E]) Argv(args ...string) { c.argv = slices.Clone(args) }

// SetLogger sets the logger for boundary diagnostics.
func (c *Context[E]) SetLogger(logger *slog.Logger) { c.logger = logger }

// SetINI overrides an INI entry. It has no effect once the engine is
// running.
func (c *Context[E]) SetINI(key, value string) { c.ini[key] = value }

// LoadExtensions resolves the extensions em is configured with and adds
// them to the INI the engine starts with.
func (c *Context[E]) LoadExtensions(em *ExtensionManager) error {
	lines, err := em.INILines()
	if err != nil {
		return err
	}
	c.extINI = append(c.extINI, lines...)
	return nil
}

// Env returns the server context handed to the strategy.
func (c *Context[E]) Env() *E { return c.env }

// Initialized reports whether the engine is running for this Context.
func (c *Context[E]) Initialized() bool { return c.state == stateInitialized }

// Closed reports whether Close has run.
func (c *Context[E]) Closed() bool { return c.state == stateClosed }

func (c *Context[E]) iniString() string {
	entries := maps.Clone(defaultINI)
	maps.Copy(entries, c.ini)

	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(entries)) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(entries[k])
		b.WriteByte('\n')
	}
	for _, line := range c.extINI {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Init starts the engine if it is not running yet. Operations call it
// implicitly.
func (c *Context[E]) Init() error {
	switch c.state {
	case stateInitialized:
		return nil
	case stateClosed:
		return ErrClosed
	}

	abi, err := openEngine()
	if err != nil {
		return err
	}
	// A strategy without its own logger logs through the Context's.
	if s, ok := any(c.sapi).(interface{ inheritLogger(*slog.Logger) }); ok && c.logger != nil {
		s.inheritLogger(c.logger)
	}

	b := &bridge[E]{sapi: c.sapi, env: c.env, abi: abi, logger: c.logger}
	handle, err := registerSession(&session{sapi: b, call: c.dispatch})
	if err != nil {
		return err
	}
	b.handle = handle
	c.abi, c.bridge, c.handle = abi, b, handle
	c.heap = &heap{abi: abi, live: true}

	spec := moduleSpec{
		Name:       c.sapi.Name(),
		PrettyName: c.sapi.PrettyName(),
		INI:        c.iniString(),
		Argv:       c.argv,
	}
	if rc := abi.Init(spec, handle); rc != resultSuccess {
		abi.SAPIShutdown()
		c.teardown()
		return fmt.Errorf("%w: module startup returned %d", ErrStartup, rc)
	}
	c.state = stateInitialized

	if hook, ok := c.sapi.(RequestInitializer); ok {
		hook.BeforeRequest(b.moduleFor(nil))
	}

	if rc := abi.RequestStartup(); rc != resultSuccess {
		// The engine is half started and cannot be recovered.
		abi.ModuleShutdown()
		abi.SAPIShutdown()
		c.teardown()
		panic(fmt.Errorf("%w: returned %d", ErrRequestStartup, rc))
	}

	if fn := c.onInit; fn != nil {
		c.onInit = nil
		// A panicking hook must not leave the engine owned by this Context.
		defer func() {
			if r := recover(); r != nil {
				c.Close()
				panic(r)
			}
		}()
		fn(c)
	}
	return nil
}

// Close shuts the engine down if it is running and releases the Context's
// bindings and buffers. Calls after the first do nothing.
func (c *Context[E]) Close() error {
	if c.state == stateClosed {
		return nil
	}
	if c.state == stateInitialized {
		c.releaseBindings()
		c.bridge.shutdown()
		c.abi.ClearServerContext()
		c.teardown()
	}
	c.state = stateClosed
	c.onInit = nil
	c.env = nil
	return nil
}

// teardown forgets the engine after it has been shut down.
func (c *Context[E]) teardown() {
	c.state = stateClosed
	c.heap.live = false
	c.bridge.release()
	unregisterSession(c.handle)
	c.handle = 0
}

func (c *Context[E]) releaseBindings() {
	for _, v := range c.bindings {
		v.Release()
	}
	c.bindings = nil
}

// validName reports whether name is a PHP identifier.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch == '_', ch >= 0x80:
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// retained converts x for registration and returns a Value the Context
// may keep: a caller-owned *Value is cloned, never adopted.
func (c *Context[E]) retained(x any) (*Value, error) {
	v, temp, err := c.heap.valueOf(x)
	if err != nil {
		return nil, err
	}
	if !temp {
		v = v.Clone()
	}
	return v, nil
}

// Bind sets the global variable $name to x. x may be a *Value, which the
// caller keeps owning, or any Go value ValueOf accepts. The Context holds
// the bound value until the next ResultOf or Close.
func (c *Context[E]) Bind(name string, x any) error {
	if !validName(name) {
		return fmt.Errorf("%w: variable %q", ErrInvalidName, name)
	}
	if err := c.Init(); err != nil {
		return err
	}
	v, err := c.retained(x)
	if err != nil {
		return err
	}
	c.abi.RegisterVariable(name, v.zv)
	c.bindings = append(c.bindings, v)
	return nil
}

// Define registers the constant name with value x, retained like Bind.
func (c *Context[E]) Define(name string, x any) error {
	if !validName(name) {
		return fmt.Errorf("%w: constant %q", ErrInvalidName, name)
	}
	if err := c.Init(); err != nil {
		return err
	}
	v, err := c.retained(x)
	if err != nil {
		return err
	}
	c.abi.RegisterConstant(name, v.zv)
	c.bindings = append(c.bindings, v)
	return nil
}

// ExecuteFile runs the script at path and returns its return value. With
// resetGlobals the global scope is cleared first.
func (c *Context[E]) ExecuteFile(path string, resetGlobals bool) (*Value, error) {
	if path == "" || strings.IndexByte(path, 0) >= 0 {
		return nil, fmt.Errorf("%w: script path %q", ErrInvalidName, path)
	}
	if err := c.Init(); err != nil {
		return nil, err
	}
	ret := c.heap.slot()
	c.abi.ExecuteFile(path, ret.zv, resetGlobals)
	return c.result(ret), nil
}

// ResultOf evaluates a PHP expression and returns its value. With
// clearGlobals the global scope is cleared first. The Context's bindings
// are released afterwards.
//
// Script errors are not Go errors: an uncaught exception, including a
// ParseError, comes back as the object Value.
func (c *Context[E]) ResultOf(expr string, clearGlobals bool) (*Value, error) {
	if err := c.Init(); err != nil {
		return nil, err
	}
	ret := c.heap.slot()
	c.abi.EvalString(expr, evalName, ret.zv, clearGlobals)
	c.releaseBindings()
	return c.result(ret), nil
}

// Call calls the PHP function name without arguments.
func (c *Context[E]) Call(name string) (*Value, error) {
	return c.CallWith(name)
}

// CallWith calls the PHP function name. Arguments are converted as by
// ValueOf; *Value arguments stay owned by the caller.
func (c *Context[E]) CallWith(name string, args ...any) (*Value, error) {
	if name == "" || strings.IndexByte(name, 0) >= 0 {
		return nil, fmt.Errorf("%w: function %q", ErrInvalidName, name)
	}
	if err := c.Init(); err != nil {
		return nil, err
	}

	ptrs := make([]unsafe.Pointer, 0, len(args))
	var temps []*Value
	defer func() {
		for _, v := range temps {
			v.Release()
		}
	}()
	for i, arg := range args {
		v, temp, err := c.heap.valueOf(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d of %s: %w", i, name, err)
		}
		if temp {
			temps = append(temps, v)
		}
		ptrs = append(ptrs, v.zv)
	}

	ret := c.heap.slot()
	c.abi.CallFunction(name, ptrs, ret.zv)
	return c.result(ret), nil
}

// result swaps ret for the pending exception, if the engine has one.
func (c *Context[E]) result(ret *Value) *Value {
	exc := c.heap.slot()
	if c.abi.TakeException(exc.zv) {
		ret.Release()
		exc.thrown = true
		return exc
	}
	exc.Release()
	return ret
}

// ValueOf converts a Go value: nil, bool, integers, floats, string,
// []byte, []any, []string, []int64, map[string]any and map[string]string.
// A *Value is cloned.
func (c *Context[E]) ValueOf(x any) (*Value, error) {
	if err := c.Init(); err != nil {
		return nil, err
	}
	return c.retained(x)
}

func (c *Context[E]) NewInt(n int64) (*Value, error)     { return c.ValueOf(n) }
func (c *Context[E]) NewFloat(f float64) (*Value, error) { return c.ValueOf(f) }
func (c *Context[E]) NewBool(b bool) (*Value, error)     { return c.ValueOf(b) }
func (c *Context[E]) NewNull() (*Value, error)           { return c.ValueOf(nil) }
func (c *Context[E]) NewString(s string) (*Value, error) { return c.ValueOf(s) }

// NewArray returns an empty array.
func (c *Context[E]) NewArray() (*Value, error) {
	if err := c.Init(); err != nil {
		return nil, err
	}
	v := c.heap.slot()
	c.abi.InitArray(v.zv, 0)
	return v, nil
}
