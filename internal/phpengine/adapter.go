package phpengine

import (
	"errors"
	"log/slog"
	"unicode/utf8"
	"unsafe"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// bridge adapts a SAPI[E] to the raw callback shape. It is the only code
// that sees both: raw pointers and lengths come in, checked Go values go
// out to the strategy, and strings going back to the engine are copied
// into C buffers the session owns until release.
type bridge[E any] struct {
	sapi   SAPI[E]
	env    *E
	abi    engineABI
	handle uintptr
	logger *slog.Logger

	module  *Module
	stat    unsafe.Pointer
	buffers []unsafe.Pointer
}

var _ rawSAPI = (*bridge[struct{}])(nil)

func (b *bridge[E]) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	if l := getLogger(); l != nil {
		return l
	}
	return slog.Default()
}

// moduleFor returns the Module for raw, reusing the one seen at startup.
func (b *bridge[E]) moduleFor(raw unsafe.Pointer) *Module {
	if b.module == nil || (raw != nil && b.module.raw != raw) {
		b.module = &Module{abi: b.abi, raw: raw}
	}
	return b.module
}

// envFor recovers the environment from a server-context handle.
func (b *bridge[E]) envFor(handle uintptr) *E {
	if handle == 0 {
		return nil
	}
	if handle != b.handle {
		b.log().Warn("php callback carries a foreign server context", "handle", handle, "session", b.handle)
		return nil
	}
	return b.env
}

// keep records a buffer to free when the session is released.
func (b *bridge[E]) keep(p unsafe.Pointer) unsafe.Pointer {
	if p != nil {
		b.buffers = append(b.buffers, p)
	}
	return p
}

func (b *bridge[E]) startup(module unsafe.Pointer) int {
	return b.sapi.Startup(b.moduleFor(module))
}

func (b *bridge[E]) shutdown() int {
	return b.sapi.Shutdown(b.moduleFor(nil))
}

func (b *bridge[E]) activate() int {
	b.abi.SetServerContext()
	return b.sapi.Activate()
}

func (b *bridge[E]) deactivate() int {
	return b.sapi.Deactivate()
}

func (b *bridge[E]) ubWrite(str unsafe.Pointer, n int) int {
	if str == nil || n <= 0 {
		return 0
	}
	p := unsafe.Slice((*byte)(str), n)
	if utf8.Valid(p) {
		return b.sapi.UnbufferedWrite(p)
	}

	fixed, _, err := transform.Bytes(runes.ReplaceIllFormed(), p)
	if err != nil {
		b.log().Warn("dropping php output that is not valid UTF-8", "bytes", n, "error", err)
		return n
	}
	b.log().Debug("php output is not valid UTF-8, substituted U+FFFD", "bytes", n)
	b.sapi.UnbufferedWrite(fixed)
	return n
}

func (b *bridge[E]) flush(server uintptr) {
	env := b.envFor(server)
	if env == nil {
		b.log().Debug("php flush without server context")
		return
	}
	b.sapi.Flush(env)
}

func (b *bridge[E]) getStat() unsafe.Pointer {
	st, err := b.sapi.Stat()
	if err != nil {
		if !errors.Is(err, ErrNotImplemented) {
			b.log().Warn("sapi stat failed", "error", err)
		}
		return nil
	}
	if st == nil {
		return nil
	}
	// The engine reads the result right away, so one buffer is enough.
	if b.stat != nil {
		b.abi.FreeBuffer(b.stat)
	}
	b.stat = b.abi.StatBuffer(st)
	return b.stat
}

func (b *bridge[E]) getenv(name unsafe.Pointer, n int) unsafe.Pointer {
	if name == nil || n <= 0 {
		return nil
	}
	key := string(unsafe.Slice((*byte)(name), n))
	if !utf8.ValidString(key) {
		b.log().Warn("php getenv with a name that is not valid UTF-8", "bytes", n)
		return nil
	}
	val, ok := b.sapi.Getenv(key)
	if !ok {
		return nil
	}
	// getenv() copies the result and efrees it, so it must come from the
	// engine allocator and is never tracked here.
	return b.abi.EngineString(val)
}

func (b *bridge[E]) sendHeader(header unsafe.Pointer, n int, server uintptr) {
	env := b.envFor(server)
	if header == nil {
		// end of the header block
		return
	}
	line := string(unsafe.Slice((*byte)(header), n))
	if !utf8.ValidString(line) {
		b.log().Warn("dropping php header that is not valid UTF-8", "bytes", n)
		return
	}
	b.sapi.SendHeader(line, env)
}

func (b *bridge[E]) readPost(buf unsafe.Pointer, n int) int {
	if buf == nil || n <= 0 {
		return 0
	}
	read := b.sapi.ReadPost(unsafe.Slice((*byte)(buf), n))
	return min(max(read, 0), n)
}

func (b *bridge[E]) readCookies() unsafe.Pointer {
	cookies := b.sapi.ReadCookies()
	if cookies == "" {
		return nil
	}
	return b.keep(b.abi.CString(cookies))
}

func (b *bridge[E]) registerServerVariables(track unsafe.Pointer) {
	if track == nil {
		return
	}
	b.sapi.RegisterServerVariables(&TrackVars{abi: b.abi, zv: track})
}

func (b *bridge[E]) requestTime() float64 {
	return b.sapi.RequestTime()
}

func (b *bridge[E]) terminateProcess() {
	if err := b.sapi.TerminateProcess(); err != nil {
		b.log().Error("php requested process termination", "error", err)
	}
}

func (b *bridge[E]) logMessage(msg unsafe.Pointer, n int, syslogType int) {
	if msg == nil {
		return
	}
	text := string(unsafe.Slice((*byte)(msg), n))
	if !utf8.ValidString(text) {
		b.log().Warn("dropping php log message that is not valid UTF-8", "bytes", n)
		return
	}
	b.sapi.LogMessage(text, syslogType)
}

// release frees every buffer handed to the engine. Call it only after the
// engine has shut down.
func (b *bridge[E]) release() {
	for _, p := range b.buffers {
		b.abi.FreeBuffer(p)
	}
	b.buffers = nil
	if b.stat != nil {
		b.abi.FreeBuffer(b.stat)
		b.stat = nil
	}
}
