package phpengine

import (
	"errors"
	"time"
	"unsafe"
)

// ErrNotImplemented is returned by strategies that leave an optional SAPI
// capability to someone else.
var ErrNotImplemented = errors.New("phpengine: not implemented")

// SAPI is the runtime environment strategy: the callbacks libphp makes
// into its host, in Go form. E is the per-session environment the engine
// hands back to Flush and SendHeader.
//
// Methods run on the thread that drives the engine, one at a time.
type SAPI[E any] interface {
	// Name and PrettyName identify the SAPI (php_sapi_name()).
	Name() string
	PrettyName() string

	// Startup brings the engine module up, typically via m.Startup.
	// Shutdown tears down the request, module and SAPI, typically via
	// m.Shutdown. Both return 0 on success.
	Startup(m *Module) int
	Shutdown(m *Module) int

	Activate() int
	Deactivate() int

	// UnbufferedWrite receives script output and returns the bytes consumed.
	UnbufferedWrite(p []byte) int
	Flush(env *E)

	Stat() (*Stat, error)
	Getenv(name string) (string, bool)

	// SendHeader receives one header line. env is nil when the engine has
	// no server context.
	SendHeader(header string, env *E)

	ReadPost(buf []byte) int
	// ReadCookies returns the raw Cookie header, or "" for none.
	ReadCookies() string
	RegisterServerVariables(vars *TrackVars)

	RequestTime() float64
	TerminateProcess() error
	LogMessage(msg string, syslogType int)
}

// RequestInitializer is implemented by strategies that need to prepare
// request state after module startup and before the request starts.
type RequestInitializer interface {
	BeforeRequest(m *Module)
}

// Module exposes the engine's module lifecycle to a strategy.
type Module struct {
	abi engineABI
	raw unsafe.Pointer
}

// Startup runs php_module_startup for this SAPI module.
func (m *Module) Startup() int {
	return m.abi.ModuleStartup(m.raw)
}

// Shutdown ends the request, then shuts down the module and the SAPI.
func (m *Module) Shutdown() int {
	m.abi.RequestShutdown()
	m.abi.ModuleShutdown()
	m.abi.SAPIShutdown()
	return resultSuccess
}

// SetRequestInfo fills SG(request_info) for the coming request.
func (m *Module) SetRequestInfo(info RequestInfo) {
	m.abi.SetRequestInfo(info)
}

// RequestInfo is the subset of SG(request_info) a strategy can set.
type RequestInfo struct {
	Method         string
	URI            string
	Query          string
	ContentType    string
	ContentLength  int64
	PathTranslated string
}

// Stat mirrors the fields of struct stat the engine reads.
type Stat struct {
	Dev   uint64
	Ino   uint64
	Mode  uint32
	Nlink uint64
	UID   uint32
	GID   uint32
	Size  int64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// TrackVars is the $_SERVER array being populated during request startup.
type TrackVars struct {
	abi engineABI
	zv  unsafe.Pointer
}

// Insert registers a string entry.
func (t *TrackVars) Insert(key, val string) {
	t.abi.RegisterServerVariable(t.zv, key, val)
}

// InsertValue registers an arbitrary value. The caller still releases v.
func (t *TrackVars) InsertValue(key string, v *Value) {
	t.abi.RegisterServerValue(t.zv, key, v.ptr())
}
