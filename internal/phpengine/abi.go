package phpengine

import (
	"errors"
	"unsafe"
)

// ErrEngineUnavailable is returned when the binary was built without libphp.
var ErrEngineUnavailable = errors.New("phpengine: built without the php_embed tag, libphp is not linked")

// Engine result codes (zend_result / SAPI int returns).
const (
	resultSuccess = 0
	resultFailure = -1
)

// Hash key kinds reported while walking a HashTable.
const (
	hashKeyString      = 1
	hashKeyInt         = 2
	hashKeyNonExistent = 3
)

// moduleSpec describes the SAPI module handed to the engine on construction.
type moduleSpec struct {
	Name       string
	PrettyName string
	INI        string
	Argv       []string
}

// functionEntry is one row of a function-entry table. The zero value is the
// terminating sentinel.
type functionEntry struct {
	Name string
}

// engineABI is the contract with libphp. Every unsafe.Pointer named zv is a
// zval*, ht is a HashTable*, ex is a zend_execute_data*.
type engineABI interface {
	// Lifecycle. Init constructs the SAPI module and runs its startup hook.
	Init(spec moduleSpec, session uintptr) int
	ModuleStartup(module unsafe.Pointer) int
	RequestStartup() int
	RequestShutdown()
	ModuleShutdown()
	SAPIShutdown()
	SetServerContext()
	ClearServerContext()
	SetRequestInfo(info RequestInfo)

	// zval slots owned by the host.
	NewSlot() unsafe.Pointer
	FreeSlot(zv unsafe.Pointer)
	Copy(dst, src unsafe.Pointer)
	CopyValue(dst, src unsafe.Pointer)
	PtrDtor(zv unsafe.Pointer)
	AddRef(zv unsafe.Pointer) uint32
	DelRef(zv unsafe.Pointer) uint32
	Counted(zv unsafe.Pointer) uintptr
	IsRefcounted(zv unsafe.Pointer) bool

	// Inspection and construction.
	TypeOf(zv unsafe.Pointer) uint8
	Long(zv unsafe.Pointer) int64
	Double(zv unsafe.Pointer) float64
	StrBytes(zv unsafe.Pointer) []byte
	ToString(zv unsafe.Pointer) string
	Export(zv unsafe.Pointer) string
	SetNull(zv unsafe.Pointer)
	SetBool(zv unsafe.Pointer, b bool)
	SetLong(zv unsafe.Pointer, n int64)
	SetDouble(zv unsafe.Pointer, f float64)
	SetString(zv unsafe.Pointer, s string)
	InitArray(zv unsafe.Pointer, size uint32)

	// Hash tables.
	ArrayOf(zv unsafe.Pointer) unsafe.Pointer
	ArrayCount(ht unsafe.Pointer) int
	ArrayUpdate(zv unsafe.Pointer, key string, val unsafe.Pointer)
	ArrayPush(zv unsafe.Pointer, val unsafe.Pointer)
	IterReset(ht unsafe.Pointer, pos *uint32)
	IterKeyType(ht unsafe.Pointer, pos *uint32) int
	IterKey(ht unsafe.Pointer, pos *uint32, dst unsafe.Pointer)
	IterData(ht unsafe.Pointer, pos *uint32) unsafe.Pointer
	IterNext(ht unsafe.Pointer, pos *uint32)

	// Global state and execution.
	RegisterVariable(name string, zv unsafe.Pointer)
	RegisterConstant(name string, zv unsafe.Pointer)
	RegisterServerVariable(track unsafe.Pointer, key, val string)
	RegisterServerValue(track unsafe.Pointer, key string, zv unsafe.Pointer)
	RegisterFunctions(entries []functionEntry) int
	EvalString(code, name string, ret unsafe.Pointer, clearGlobals bool) int
	ExecuteFile(path string, ret unsafe.Pointer, resetGlobals bool) int
	CallFunction(name string, args []unsafe.Pointer, ret unsafe.Pointer) int
	TakeException(dst unsafe.Pointer) bool
	CallNumArgs(ex unsafe.Pointer) int
	CallArg(ex unsafe.Pointer, i int) unsafe.Pointer

	// EngineString copies s into the engine's request allocator. The
	// engine owns the result and releases it with efree.
	EngineString(s string) unsafe.Pointer

	// Buffers the engine reads after a callback returns; the host frees them.
	CString(s string) unsafe.Pointer
	StatBuffer(st *Stat) unsafe.Pointer
	FreeBuffer(p unsafe.Pointer)
}
