//go:build php_embed

package phpengine

/*
#include <stddef.h>
#include <stdint.h>
*/
import "C"
import (
	"unsafe"
)

// C trampolines in bridge.c land here and forward to the active session.
// With no live session every callback returns the engine's failure value.

//export phpembedGoStartup
func phpembedGoStartup(module unsafe.Pointer) C.int {
	s := activeSession()
	if s == nil {
		return C.int(resultFailure)
	}
	return C.int(s.sapi.startup(module))
}

//export phpembedGoShutdown
func phpembedGoShutdown() C.int {
	s := activeSession()
	if s == nil {
		return C.int(resultFailure)
	}
	return C.int(s.sapi.shutdown())
}

//export phpembedGoActivate
func phpembedGoActivate() C.int {
	s := activeSession()
	if s == nil {
		return C.int(resultFailure)
	}
	return C.int(s.sapi.activate())
}

//export phpembedGoDeactivate
func phpembedGoDeactivate() C.int {
	s := activeSession()
	if s == nil {
		return C.int(resultFailure)
	}
	return C.int(s.sapi.deactivate())
}

//export phpembedGoUbWrite
func phpembedGoUbWrite(str unsafe.Pointer, n C.size_t) C.size_t {
	s := activeSession()
	if s == nil {
		return 0
	}
	return C.size_t(s.sapi.ubWrite(str, int(n)))
}

//export phpembedGoFlush
func phpembedGoFlush(server C.uintptr_t) {
	if s := activeSession(); s != nil {
		s.sapi.flush(uintptr(server))
	}
}

//export phpembedGoGetStat
func phpembedGoGetStat() unsafe.Pointer {
	s := activeSession()
	if s == nil {
		return nil
	}
	return s.sapi.getStat()
}

//export phpembedGoGetenv
func phpembedGoGetenv(name unsafe.Pointer, n C.size_t) unsafe.Pointer {
	s := activeSession()
	if s == nil {
		return nil
	}
	return s.sapi.getenv(name, int(n))
}

//export phpembedGoSendHeader
func phpembedGoSendHeader(header unsafe.Pointer, n C.size_t, server C.uintptr_t) {
	if s := activeSession(); s != nil {
		s.sapi.sendHeader(header, int(n), uintptr(server))
	}
}

//export phpembedGoReadPost
func phpembedGoReadPost(buf unsafe.Pointer, n C.size_t) C.size_t {
	s := activeSession()
	if s == nil {
		return 0
	}
	return C.size_t(s.sapi.readPost(buf, int(n)))
}

//export phpembedGoReadCookies
func phpembedGoReadCookies() unsafe.Pointer {
	s := activeSession()
	if s == nil {
		return nil
	}
	return s.sapi.readCookies()
}

//export phpembedGoRegisterServerVariables
func phpembedGoRegisterServerVariables(track unsafe.Pointer) {
	if s := activeSession(); s != nil {
		s.sapi.registerServerVariables(track)
	}
}

//export phpembedGoRequestTime
func phpembedGoRequestTime() C.double {
	s := activeSession()
	if s == nil {
		return 0
	}
	return C.double(s.sapi.requestTime())
}

//export phpembedGoTerminateProcess
func phpembedGoTerminateProcess() {
	if s := activeSession(); s != nil {
		s.sapi.terminateProcess()
	}
}

//export phpembedGoLogMessage
func phpembedGoLogMessage(msg unsafe.Pointer, n C.size_t, syslogType C.int) {
	if s := activeSession(); s != nil {
		s.sapi.logMessage(msg, int(n), int(syslogType))
	}
}

//export phpembedGoCallFunction
func phpembedGoCallFunction(name unsafe.Pointer, n C.size_t, ex, ret unsafe.Pointer) {
	s := activeSession()
	if s == nil || s.call == nil {
		return
	}
	s.call(C.GoStringN((*C.char)(name), C.int(n)), ex, ret)
}
