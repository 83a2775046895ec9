package phpengine

import (
	"fmt"
	"strings"
	"unsafe"
)

// Function is host code callable from PHP by name.
type Function func(call *Call)

// Call is one invocation of a Function. Argument Values are released when
// the Function returns; Clone any that must outlive the call.
type Call struct {
	h    *heap
	ex   unsafe.Pointer
	ret  unsafe.Pointer
	args []*Value
}

// NumArgs is the number of arguments the script passed.
func (c *Call) NumArgs() int {
	return c.h.abi.CallNumArgs(c.ex)
}

// Arg returns argument i, or nil when the script passed fewer.
func (c *Call) Arg(i int) *Value {
	if i < 0 || i >= c.NumArgs() {
		return nil
	}
	v := c.h.attachMaybeShared(c.h.abi.CallArg(c.ex, i))
	c.args = append(c.args, v)
	return v
}

// Return sets the value the script receives, converted as by ValueOf.
// Without a Return the script receives null.
func (c *Call) Return(x any) error {
	v, temp, err := c.h.valueOf(x)
	if err != nil {
		return err
	}
	c.h.abi.PtrDtor(c.ret)
	c.h.abi.Copy(c.ret, v.zv)
	if temp {
		v.Release()
	}
	return nil
}

func (c *Call) release() {
	for _, v := range c.args {
		v.Release()
	}
	c.args = nil
}

// functionTable builds a function-entry table for names, terminated by
// the empty sentinel entry the engine scans for.
func functionTable(names ...string) []functionEntry {
	table := make([]functionEntry, 0, len(names)+1)
	for _, name := range names {
		table = append(table, functionEntry{Name: name})
	}
	return append(table, functionEntry{})
}

// DefineFunction registers fn as the global PHP function name. PHP
// function names are case-insensitive; redefining a name fails.
func (c *Context[E]) DefineFunction(name string, fn Function) error {
	if !validName(name) {
		return fmt.Errorf("%w: function %q", ErrInvalidName, name)
	}
	if fn == nil {
		return fmt.Errorf("phpengine: function %q: nil implementation", name)
	}
	if err := c.Init(); err != nil {
		return err
	}

	key := strings.ToLower(name)
	if _, exists := c.functions[key]; exists {
		return fmt.Errorf("phpengine: function %q already defined", name)
	}
	if rc := c.abi.RegisterFunctions(functionTable(name)); rc != resultSuccess {
		return fmt.Errorf("phpengine: registering function %q failed with %d", name, rc)
	}
	c.functions[key] = fn
	return nil
}

// dispatch runs the Function registered under name for one PHP call.
func (c *Context[E]) dispatch(name string, ex, ret unsafe.Pointer) {
	fn := c.functions[strings.ToLower(name)]
	if fn == nil {
		c.bridge.log().Warn("php called an unregistered host function", "function", name)
		return
	}

	call := &Call{h: c.heap, ex: ex, ret: ret}
	defer call.release()
	defer func() {
		// A panic must not unwind through the engine's C frames.
		if r := recover(); r != nil {
			c.bridge.log().Error("host function panicked", "function", name, "panic", r)
		}
	}()
	fn(call)
}
