package phpengine

import (
	"errors"
	"sync"
	"unsafe"
)

// ErrEngineBusy is returned when a second Context tries to start while
// another one still owns the engine. libphp has a single SAPI slot per
// process.
var ErrEngineBusy = errors.New("phpengine: another context owns the engine")

// rawSAPI is the pointer-and-length shape of the SAPI dispatch table, as
// the C trampolines see it. bridge[E] is its only implementation.
type rawSAPI interface {
	startup(module unsafe.Pointer) int
	shutdown() int
	activate() int
	deactivate() int
	ubWrite(str unsafe.Pointer, n int) int
	flush(server uintptr)
	getStat() unsafe.Pointer
	getenv(name unsafe.Pointer, n int) unsafe.Pointer
	sendHeader(header unsafe.Pointer, n int, server uintptr)
	readPost(buf unsafe.Pointer, n int) int
	readCookies() unsafe.Pointer
	registerServerVariables(track unsafe.Pointer)
	requestTime() float64
	terminateProcess()
	logMessage(msg unsafe.Pointer, n int, syslogType int)
}

// session is what the engine reaches through its opaque server context.
type session struct {
	sapi rawSAPI
	call func(name string, ex, ret unsafe.Pointer)
}

var (
	sessions    = make(map[uintptr]*session)
	sessionsMu  sync.RWMutex
	nextSession uintptr
	active      uintptr
)

// registerSession stores s and makes it the active session. The returned
// handle is what C keeps in SG(server_context).
func registerSession(s *session) (uintptr, error) {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()

	if active != 0 {
		return 0, ErrEngineBusy
	}
	nextSession++
	handle := nextSession
	sessions[handle] = s
	active = handle
	return handle, nil
}

// lookupSession resolves a handle handed back by the engine. Zero and
// unknown handles resolve to nil.
func lookupSession(handle uintptr) *session {
	if handle == 0 {
		return nil
	}
	sessionsMu.RLock()
	defer sessionsMu.RUnlock()
	return sessions[handle]
}

// activeSession returns the session that owns the engine, if any.
func activeSession() *session {
	sessionsMu.RLock()
	defer sessionsMu.RUnlock()
	if active == 0 {
		return nil
	}
	return sessions[active]
}

// unregisterSession drops a session and frees the engine slot.
func unregisterSession(handle uintptr) {
	sessionsMu.Lock()
	delete(sessions, handle)
	if active == handle {
		active = 0
	}
	sessionsMu.Unlock()
}
