//go:build php_embed

package phpengine

/*
#cgo CFLAGS: -I/usr/local/include/php -I/usr/local/include/php/main -I/usr/local/include/php/Zend -I/usr/local/include/php/TSRM -I/usr/local/include/php/ext
#cgo LDFLAGS: -L/usr/local/lib -lphp -lm -ldl

#include <stdlib.h>
#include "bridge.h"
*/
import "C"
import (
	"unsafe"
)

// cgoABI is the libphp-backed engineABI. It holds no state: the engine's
// globals live in C.
type cgoABI struct{}

func newEngineABI() (engineABI, error) {
	return cgoABI{}, nil
}

func zval(p unsafe.Pointer) *C.zval { return (*C.zval)(p) }

func hashTable(p unsafe.Pointer) *C.HashTable { return (*C.HashTable)(p) }

func hashPos(pos *uint32) *C.HashPosition { return (*C.HashPosition)(unsafe.Pointer(pos)) }

func cbool(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

func (cgoABI) Init(spec moduleSpec, session uintptr) int {
	name := C.CString(spec.Name)
	defer C.free(unsafe.Pointer(name))
	pretty := C.CString(spec.PrettyName)
	defer C.free(unsafe.Pointer(pretty))
	ini := C.CString(spec.INI)
	defer C.free(unsafe.Pointer(ini))

	var argv **C.char
	if n := len(spec.Argv); n > 0 {
		argv = (**C.char)(C.calloc(C.size_t(n+1), C.size_t(unsafe.Sizeof(uintptr(0)))))
		defer C.free(unsafe.Pointer(argv))
		slots := unsafe.Slice(argv, n+1)
		for i, arg := range spec.Argv {
			slots[i] = C.CString(arg)
			defer C.free(unsafe.Pointer(slots[i]))
		}
	}

	return int(C.phpembed_init(name, pretty, ini, C.int(len(spec.Argv)), argv, C.uintptr_t(session)))
}

func (cgoABI) ModuleStartup(module unsafe.Pointer) int {
	return int(C.phpembed_module_startup(module))
}

func (cgoABI) RequestStartup() int { return int(C.phpembed_request_startup()) }
func (cgoABI) RequestShutdown()    { C.phpembed_request_shutdown() }
func (cgoABI) ModuleShutdown()     { C.phpembed_module_shutdown() }
func (cgoABI) SAPIShutdown()       { C.phpembed_sapi_shutdown() }
func (cgoABI) SetServerContext()   { C.phpembed_set_server_context() }
func (cgoABI) ClearServerContext() { C.phpembed_clear_server_context() }

func (cgoABI) SetRequestInfo(info RequestInfo) {
	method := C.CString(info.Method)
	defer C.free(unsafe.Pointer(method))
	uri := C.CString(info.URI)
	defer C.free(unsafe.Pointer(uri))
	query := C.CString(info.Query)
	defer C.free(unsafe.Pointer(query))
	contentType := C.CString(info.ContentType)
	defer C.free(unsafe.Pointer(contentType))
	path := C.CString(info.PathTranslated)
	defer C.free(unsafe.Pointer(path))

	C.phpembed_set_request_info(method, uri, query, contentType, C.int64_t(info.ContentLength), path)
}

func (cgoABI) NewSlot() unsafe.Pointer           { return unsafe.Pointer(C.phpembed_zval_new()) }
func (cgoABI) FreeSlot(zv unsafe.Pointer)        { C.phpembed_zval_free(zval(zv)) }
func (cgoABI) Copy(dst, src unsafe.Pointer)      { C.phpembed_zval_copy(zval(dst), zval(src)) }
func (cgoABI) CopyValue(dst, src unsafe.Pointer) { C.phpembed_zval_copy_value(zval(dst), zval(src)) }
func (cgoABI) PtrDtor(zv unsafe.Pointer)         { C.phpembed_zval_ptr_dtor(zval(zv)) }

func (cgoABI) AddRef(zv unsafe.Pointer) uint32 { return uint32(C.phpembed_zval_addref(zval(zv))) }
func (cgoABI) DelRef(zv unsafe.Pointer) uint32 { return uint32(C.phpembed_zval_delref(zval(zv))) }

func (cgoABI) Counted(zv unsafe.Pointer) uintptr {
	return uintptr(C.phpembed_zval_counted(zval(zv)))
}

func (cgoABI) IsRefcounted(zv unsafe.Pointer) bool {
	return C.phpembed_zval_refcounted(zval(zv)) != 0
}

func (cgoABI) TypeOf(zv unsafe.Pointer) uint8   { return uint8(C.phpembed_zval_type(zval(zv))) }
func (cgoABI) Long(zv unsafe.Pointer) int64     { return int64(C.phpembed_zval_long(zval(zv))) }
func (cgoABI) Double(zv unsafe.Pointer) float64 { return float64(C.phpembed_zval_double(zval(zv))) }

func (cgoABI) StrBytes(zv unsafe.Pointer) []byte {
	var n C.size_t
	p := C.phpembed_zval_strval(zval(zv), &n)
	return C.GoBytes(unsafe.Pointer(p), C.int(n))
}

func zendString(s *C.zend_string) string {
	defer C.phpembed_string_release(s)
	var n C.size_t
	p := C.phpembed_string_val(s, &n)
	return C.GoStringN(p, C.int(n))
}

func (cgoABI) ToString(zv unsafe.Pointer) string {
	return zendString(C.phpembed_zval_to_string(zval(zv)))
}

func (cgoABI) Export(zv unsafe.Pointer) string {
	return zendString(C.phpembed_var_export(zval(zv)))
}

func (cgoABI) SetNull(zv unsafe.Pointer)          { C.phpembed_zval_set_null(zval(zv)) }
func (cgoABI) SetBool(zv unsafe.Pointer, b bool)  { C.phpembed_zval_set_bool(zval(zv), cbool(b)) }
func (cgoABI) SetLong(zv unsafe.Pointer, n int64) { C.phpembed_zval_set_long(zval(zv), C.int64_t(n)) }
func (cgoABI) SetDouble(zv unsafe.Pointer, f float64) {
	C.phpembed_zval_set_double(zval(zv), C.double(f))
}

func (cgoABI) SetString(zv unsafe.Pointer, s string) {
	cs := C.CString(s)
	defer C.free(unsafe.Pointer(cs))
	C.phpembed_zval_set_string(zval(zv), cs, C.size_t(len(s)))
}

func (cgoABI) InitArray(zv unsafe.Pointer, size uint32) {
	C.phpembed_zval_init_array(zval(zv), C.uint32_t(size))
}

func (cgoABI) ArrayOf(zv unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(C.phpembed_zval_array(zval(zv)))
}

func (cgoABI) ArrayCount(ht unsafe.Pointer) int {
	return int(C.phpembed_array_count(hashTable(ht)))
}

func (cgoABI) ArrayUpdate(zv unsafe.Pointer, key string, val unsafe.Pointer) {
	ck := C.CString(key)
	defer C.free(unsafe.Pointer(ck))
	C.phpembed_array_update(zval(zv), ck, C.size_t(len(key)), zval(val))
}

func (cgoABI) ArrayPush(zv unsafe.Pointer, val unsafe.Pointer) {
	C.phpembed_array_push(zval(zv), zval(val))
}

func (cgoABI) IterReset(ht unsafe.Pointer, pos *uint32) {
	C.phpembed_iter_reset(hashTable(ht), hashPos(pos))
}

func (cgoABI) IterKeyType(ht unsafe.Pointer, pos *uint32) int {
	return int(C.phpembed_iter_key_type(hashTable(ht), hashPos(pos)))
}

func (cgoABI) IterKey(ht unsafe.Pointer, pos *uint32, dst unsafe.Pointer) {
	C.phpembed_iter_key(hashTable(ht), hashPos(pos), zval(dst))
}

func (cgoABI) IterData(ht unsafe.Pointer, pos *uint32) unsafe.Pointer {
	return unsafe.Pointer(C.phpembed_iter_data(hashTable(ht), hashPos(pos)))
}

func (cgoABI) IterNext(ht unsafe.Pointer, pos *uint32) {
	C.phpembed_iter_next(hashTable(ht), hashPos(pos))
}

func (cgoABI) RegisterVariable(name string, zv unsafe.Pointer) {
	cn := C.CString(name)
	defer C.free(unsafe.Pointer(cn))
	C.phpembed_register_variable(cn, C.size_t(len(name)), zval(zv))
}

func (cgoABI) RegisterConstant(name string, zv unsafe.Pointer) {
	cn := C.CString(name)
	defer C.free(unsafe.Pointer(cn))
	C.phpembed_register_constant(cn, C.size_t(len(name)), zval(zv))
}

func (cgoABI) RegisterServerVariable(track unsafe.Pointer, key, val string) {
	ck := C.CString(key)
	defer C.free(unsafe.Pointer(ck))
	cv := C.CString(val)
	defer C.free(unsafe.Pointer(cv))
	C.phpembed_register_server_variable(zval(track), ck, cv, C.size_t(len(val)))
}

func (cgoABI) RegisterServerValue(track unsafe.Pointer, key string, zv unsafe.Pointer) {
	ck := C.CString(key)
	defer C.free(unsafe.Pointer(ck))
	C.phpembed_register_server_value(zval(track), ck, zval(zv))
}

func (cgoABI) RegisterFunctions(entries []functionEntry) int {
	n := 0
	for n < len(entries) && entries[n].Name != "" {
		n++
	}

	// NULL-terminated, mirroring the sentinel entry of the Go table.
	names := (**C.char)(C.calloc(C.size_t(n+1), C.size_t(unsafe.Sizeof(uintptr(0)))))
	defer C.free(unsafe.Pointer(names))
	slots := unsafe.Slice(names, n+1)
	for i := 0; i < n; i++ {
		slots[i] = C.CString(entries[i].Name)
		defer C.free(unsafe.Pointer(slots[i]))
	}

	return int(C.phpembed_register_functions(names))
}

func (cgoABI) EvalString(code, name string, ret unsafe.Pointer, clearGlobals bool) int {
	cc := C.CString(code)
	defer C.free(unsafe.Pointer(cc))
	cn := C.CString(name)
	defer C.free(unsafe.Pointer(cn))
	return int(C.phpembed_eval(cc, C.size_t(len(code)), cn, zval(ret), cbool(clearGlobals)))
}

func (cgoABI) ExecuteFile(path string, ret unsafe.Pointer, resetGlobals bool) int {
	cp := C.CString(path)
	defer C.free(unsafe.Pointer(cp))
	return int(C.phpembed_execute_file(cp, zval(ret), cbool(resetGlobals)))
}

func (cgoABI) CallFunction(name string, args []unsafe.Pointer, ret unsafe.Pointer) int {
	cn := C.CString(name)
	defer C.free(unsafe.Pointer(cn))

	// args holds C-allocated slots only, so the slice may be handed to C as is.
	var argv **C.zval
	if len(args) > 0 {
		argv = (**C.zval)(unsafe.Pointer(&args[0]))
	}
	return int(C.phpembed_call(cn, C.size_t(len(name)), argv, C.uint32_t(len(args)), zval(ret)))
}

func (cgoABI) TakeException(dst unsafe.Pointer) bool {
	return C.phpembed_take_exception(zval(dst)) != 0
}

func (cgoABI) CallNumArgs(ex unsafe.Pointer) int {
	return int(C.phpembed_call_num_args((*C.zend_execute_data)(ex)))
}

func (cgoABI) CallArg(ex unsafe.Pointer, i int) unsafe.Pointer {
	return unsafe.Pointer(C.phpembed_call_arg((*C.zend_execute_data)(ex), C.uint32_t(i)))
}

func (cgoABI) EngineString(s string) unsafe.Pointer {
	cs := C.CString(s)
	defer C.free(unsafe.Pointer(cs))
	return unsafe.Pointer(C.phpembed_estrndup(cs, C.size_t(len(s))))
}

func (cgoABI) CString(s string) unsafe.Pointer {
	return unsafe.Pointer(C.CString(s))
}

func (cgoABI) StatBuffer(st *Stat) unsafe.Pointer {
	return unsafe.Pointer(C.phpembed_stat_new(
		C.uint64_t(st.Dev), C.uint64_t(st.Ino), C.uint32_t(st.Mode), C.uint64_t(st.Nlink),
		C.uint32_t(st.UID), C.uint32_t(st.GID), C.int64_t(st.Size),
		C.int64_t(st.Atime.Unix()), C.int64_t(st.Mtime.Unix()), C.int64_t(st.Ctime.Unix()),
	))
}

func (cgoABI) FreeBuffer(p unsafe.Pointer) {
	C.free(p)
}
