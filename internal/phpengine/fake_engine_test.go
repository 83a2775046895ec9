package phpengine

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"testing"
	"unsafe"
)

// fakeEngine is an in-memory engineABI. It models refcounted cells, hash
// tables and the request lifecycle closely enough to check ownership: a
// double free or a free of an unknown slot panics.
type fakeEngine struct {
	calls []string

	slots   map[*fakeZval]bool
	cells   []*fakeCell
	buffers map[unsafe.Pointer][]byte
	estrs   map[unsafe.Pointer][]byte
	stats   map[unsafe.Pointer]*Stat
	freed   int

	handle           uintptr
	spec             moduleSpec
	module           byte
	track            byte
	moduleStartupRC  int
	requestStartupRC int
	requestInfo      RequestInfo
	cookies          string

	server    map[string]string
	globals   map[string]*fakeZval
	constants map[string]*fakeZval
	functions map[string]bool
	tables    [][]functionEntry
	exception *fakeZval
	evalNames []string

	eval    func(code string, ret *fakeZval)
	files   map[string]func(ret *fakeZval)
	scripts map[string]func(args []*fakeZval, ret *fakeZval)
}

type fakeCell struct {
	rc        uint32
	str       string
	arr       *fakeArray
	class     string
	destroyed bool
}

type fakeZval struct {
	typ  uint8
	lval int64
	dval float64
	cell *fakeCell
}

type fakeKey struct {
	num      int64
	str      string
	isString bool
}

type fakeBucket struct {
	key fakeKey
	val *fakeZval
}

type fakeArray struct {
	buckets []*fakeBucket
	next    int64
}

type fakeFrame struct {
	args []*fakeZval
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		slots:     make(map[*fakeZval]bool),
		buffers:   make(map[unsafe.Pointer][]byte),
		estrs:     make(map[unsafe.Pointer][]byte),
		stats:     make(map[unsafe.Pointer]*Stat),
		server:    make(map[string]string),
		globals:   make(map[string]*fakeZval),
		constants: make(map[string]*fakeZval),
		functions: make(map[string]bool),
		files:     make(map[string]func(ret *fakeZval)),
		scripts:   make(map[string]func(args []*fakeZval, ret *fakeZval)),
	}
}

// useFakeEngine routes every Context started during t to f.
func useFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	f := newFakeEngine()
	prev := openEngine
	openEngine = func() (engineABI, error) { return f, nil }
	t.Cleanup(func() {
		openEngine = prev
		sessionsMu.Lock()
		if active != 0 {
			delete(sessions, active)
			active = 0
		}
		sessionsMu.Unlock()
	})
	return f
}

func fz(p unsafe.Pointer) *fakeZval { return (*fakeZval)(p) }

func unsafePointer(zv *fakeZval) unsafe.Pointer { return unsafe.Pointer(zv) }

func (f *fakeEngine) record(call string) { f.calls = append(f.calls, call) }

func (f *fakeEngine) newCell() *fakeCell {
	c := &fakeCell{rc: 1}
	f.cells = append(f.cells, c)
	return c
}

// live counts cells that have not been destroyed.
func (f *fakeEngine) live() int {
	n := 0
	for _, c := range f.cells {
		if !c.destroyed {
			n++
		}
	}
	return n
}

func (f *fakeEngine) cstr(p unsafe.Pointer) string {
	b, ok := f.buffers[p]
	if !ok {
		b, ok = f.estrs[p]
	}
	if !ok {
		panic("fake: unknown buffer")
	}
	return string(b[:len(b)-1])
}

// efree releases an engine-allocated string the way the engine does after
// copying a getenv result.
func (f *fakeEngine) efree(p unsafe.Pointer) {
	if _, ok := f.estrs[p]; !ok {
		panic("fake: efree of unknown string")
	}
	delete(f.estrs, p)
}

func refcounted(zv *fakeZval) bool {
	if zv.cell == nil {
		return false
	}
	switch Type(zv.typ) {
	case TypeString, TypeArray, TypeObject:
		return true
	}
	return false
}

func (f *fakeEngine) destroy(c *fakeCell) {
	if c.destroyed {
		panic("fake: cell destroyed twice")
	}
	c.destroyed = true
	if c.arr != nil {
		for _, b := range c.arr.buckets {
			f.dtor(b.val)
		}
	}
}

func (f *fakeEngine) dtor(zv *fakeZval) {
	if refcounted(zv) {
		if zv.cell.destroyed {
			panic("fake: release of destroyed cell")
		}
		zv.cell.rc--
		if zv.cell.rc == 0 {
			f.destroy(zv.cell)
		}
	}
	*zv = fakeZval{}
}

func (f *fakeEngine) copyInto(dst, src *fakeZval) {
	*dst = *src
	if refcounted(dst) {
		dst.cell.rc++
	}
}

func (f *fakeEngine) throw(class, msg string) {
	c := f.newCell()
	c.class = class
	c.str = msg
	f.exception = &fakeZval{typ: uint8(TypeObject), cell: c}
}

// echo writes script output through the active session.
func (f *fakeEngine) echo(s string) {
	if s == "" {
		return
	}
	b := []byte(s)
	lookupSession(f.handle).sapi.ubWrite(unsafe.Pointer(&b[0]), len(b))
}

func (f *fakeEngine) clearGlobals() {
	for name, zv := range f.globals {
		f.dtor(zv)
		delete(f.globals, name)
	}
}

// lifecycle

func (f *fakeEngine) Init(spec moduleSpec, session uintptr) int {
	f.record("init")
	f.spec = spec
	f.handle = session
	s := lookupSession(session)
	if s == nil {
		return resultFailure
	}
	return s.sapi.startup(unsafe.Pointer(&f.module))
}

func (f *fakeEngine) ModuleStartup(module unsafe.Pointer) int {
	f.record("module_startup")
	if module != unsafe.Pointer(&f.module) {
		panic("fake: module startup with a foreign module")
	}
	return f.moduleStartupRC
}

func (f *fakeEngine) RequestStartup() int {
	f.record("request_startup")
	if f.requestStartupRC != resultSuccess {
		return f.requestStartupRC
	}
	s := lookupSession(f.handle)
	s.sapi.activate()
	if p := s.sapi.readCookies(); p != nil {
		f.cookies = f.cstr(p)
	}
	s.sapi.registerServerVariables(unsafe.Pointer(&f.track))
	return resultSuccess
}

func (f *fakeEngine) RequestShutdown() {
	f.record("request_shutdown")
	if s := lookupSession(f.handle); s != nil {
		s.sapi.deactivate()
	}
	f.clearGlobals()
	for name, zv := range f.constants {
		f.dtor(zv)
		delete(f.constants, name)
	}
}

func (f *fakeEngine) ModuleShutdown()     { f.record("module_shutdown") }
func (f *fakeEngine) SAPIShutdown()       { f.record("sapi_shutdown") }
func (f *fakeEngine) SetServerContext()   { f.record("server_context") }
func (f *fakeEngine) ClearServerContext() { f.record("clear_server_context") }

func (f *fakeEngine) SetRequestInfo(info RequestInfo) {
	f.record("request_info")
	f.requestInfo = info
}

// slots

func (f *fakeEngine) NewSlot() unsafe.Pointer {
	zv := &fakeZval{}
	f.slots[zv] = true
	return unsafe.Pointer(zv)
}

func (f *fakeEngine) FreeSlot(p unsafe.Pointer) {
	if !f.slots[fz(p)] {
		panic("fake: free of unknown slot")
	}
	delete(f.slots, fz(p))
}

func (f *fakeEngine) Copy(dst, src unsafe.Pointer)      { f.copyInto(fz(dst), fz(src)) }
func (f *fakeEngine) CopyValue(dst, src unsafe.Pointer) { *fz(dst) = *fz(src) }
func (f *fakeEngine) PtrDtor(zv unsafe.Pointer)         { f.dtor(fz(zv)) }

func (f *fakeEngine) AddRef(p unsafe.Pointer) uint32 {
	zv := fz(p)
	if !refcounted(zv) {
		return 0
	}
	zv.cell.rc++
	return zv.cell.rc
}

func (f *fakeEngine) DelRef(p unsafe.Pointer) uint32 {
	zv := fz(p)
	if !refcounted(zv) {
		return 0
	}
	if zv.cell.destroyed {
		panic("fake: delref of destroyed cell")
	}
	zv.cell.rc--
	rc := zv.cell.rc
	if rc == 0 {
		f.destroy(zv.cell)
		*zv = fakeZval{}
	}
	return rc
}

// Counted mimics the zval union: scalars expose their payload bits in the
// field that holds the counted pointer for heap values.
func (f *fakeEngine) Counted(p unsafe.Pointer) uintptr {
	zv := fz(p)
	switch {
	case zv.cell != nil:
		return uintptr(unsafe.Pointer(zv.cell))
	case Type(zv.typ) == TypeDouble:
		return uintptr(math.Float64bits(zv.dval))
	}
	return uintptr(zv.lval)
}

func (f *fakeEngine) IsRefcounted(p unsafe.Pointer) bool { return refcounted(fz(p)) }

// inspection and construction

func (f *fakeEngine) TypeOf(p unsafe.Pointer) uint8    { return fz(p).typ }
func (f *fakeEngine) Long(p unsafe.Pointer) int64      { return fz(p).lval }
func (f *fakeEngine) Double(p unsafe.Pointer) float64  { return fz(p).dval }
func (f *fakeEngine) StrBytes(p unsafe.Pointer) []byte { return []byte(fz(p).cell.str) }
func (f *fakeEngine) ToString(p unsafe.Pointer) string { return fakeString(fz(p)) }
func (f *fakeEngine) Export(p unsafe.Pointer) string   { return fakeExport(fz(p)) }
func (f *fakeEngine) SetNull(p unsafe.Pointer)         { *fz(p) = fakeZval{typ: uint8(TypeNull)} }
func (f *fakeEngine) SetLong(p unsafe.Pointer, n int64) {
	*fz(p) = fakeZval{typ: uint8(TypeLong), lval: n}
}

func (f *fakeEngine) SetBool(p unsafe.Pointer, b bool) {
	if b {
		*fz(p) = fakeZval{typ: uint8(TypeTrue)}
		return
	}
	*fz(p) = fakeZval{typ: uint8(TypeFalse)}
}

func (f *fakeEngine) SetDouble(p unsafe.Pointer, d float64) {
	*fz(p) = fakeZval{typ: uint8(TypeDouble), dval: d}
}

func (f *fakeEngine) SetString(p unsafe.Pointer, s string) {
	c := f.newCell()
	c.str = s
	*fz(p) = fakeZval{typ: uint8(TypeString), cell: c}
}

func (f *fakeEngine) InitArray(p unsafe.Pointer, size uint32) {
	c := f.newCell()
	c.arr = &fakeArray{buckets: make([]*fakeBucket, 0, size)}
	*fz(p) = fakeZval{typ: uint8(TypeArray), cell: c}
}

func fakeString(zv *fakeZval) string {
	switch Type(zv.typ) {
	case TypeTrue:
		return "1"
	case TypeLong:
		return strconv.FormatInt(zv.lval, 10)
	case TypeDouble:
		return strconv.FormatFloat(zv.dval, 'G', 14, 64)
	case TypeString:
		return zv.cell.str
	case TypeArray:
		return "Array"
	case TypeObject:
		return zv.cell.class
	}
	return ""
}

func fakeExport(zv *fakeZval) string {
	switch Type(zv.typ) {
	case TypeNull, TypeUndef:
		return "NULL"
	case TypeFalse:
		return "false"
	case TypeTrue:
		return "true"
	case TypeString:
		return "'" + zv.cell.str + "'"
	case TypeArray:
		var b strings.Builder
		b.WriteString("array (\n")
		for _, bk := range zv.cell.arr.buckets {
			key := strconv.FormatInt(bk.key.num, 10)
			if bk.key.isString {
				key = "'" + bk.key.str + "'"
			}
			fmt.Fprintf(&b, "  %s => %s,\n", key, fakeExport(bk.val))
		}
		b.WriteString(")")
		return b.String()
	case TypeObject:
		return "\\" + zv.cell.class + "::__set_state(array(\n))"
	}
	return fakeString(zv)
}

// hash tables

func (f *fakeEngine) separate(zv *fakeZval) {
	if zv.cell.rc <= 1 {
		return
	}
	old := zv.cell
	dup := f.newCell()
	dup.arr = &fakeArray{next: old.arr.next}
	for _, b := range old.arr.buckets {
		val := &fakeZval{}
		f.copyInto(val, b.val)
		dup.arr.buckets = append(dup.arr.buckets, &fakeBucket{key: b.key, val: val})
	}
	old.rc--
	zv.cell = dup
}

// symtableKey turns canonical decimal strings into integer keys.
func symtableKey(key string) fakeKey {
	if n, err := strconv.ParseInt(key, 10, 64); err == nil && strconv.FormatInt(n, 10) == key {
		return fakeKey{num: n}
	}
	return fakeKey{str: key, isString: true}
}

func (f *fakeEngine) ArrayOf(p unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(fz(p).cell.arr)
}

func (f *fakeEngine) ArrayCount(ht unsafe.Pointer) int {
	return len((*fakeArray)(ht).buckets)
}

func (f *fakeEngine) ArrayUpdate(p unsafe.Pointer, key string, val unsafe.Pointer) {
	zv := fz(p)
	f.separate(zv)
	arr := zv.cell.arr
	k := symtableKey(key)

	stored := &fakeZval{}
	f.copyInto(stored, fz(val))
	for _, b := range arr.buckets {
		if b.key == k {
			f.dtor(b.val)
			b.val = stored
			return
		}
	}
	arr.buckets = append(arr.buckets, &fakeBucket{key: k, val: stored})
	if !k.isString && k.num >= arr.next {
		arr.next = k.num + 1
	}
}

func (f *fakeEngine) ArrayPush(p unsafe.Pointer, val unsafe.Pointer) {
	zv := fz(p)
	f.separate(zv)
	arr := zv.cell.arr
	stored := &fakeZval{}
	f.copyInto(stored, fz(val))
	arr.buckets = append(arr.buckets, &fakeBucket{key: fakeKey{num: arr.next}, val: stored})
	arr.next++
}

func (f *fakeEngine) IterReset(ht unsafe.Pointer, pos *uint32) { *pos = 0 }

func (f *fakeEngine) IterKeyType(ht unsafe.Pointer, pos *uint32) int {
	arr := (*fakeArray)(ht)
	if int(*pos) >= len(arr.buckets) {
		return hashKeyNonExistent
	}
	if arr.buckets[*pos].key.isString {
		return hashKeyString
	}
	return hashKeyInt
}

func (f *fakeEngine) IterKey(ht unsafe.Pointer, pos *uint32, dst unsafe.Pointer) {
	k := (*fakeArray)(ht).buckets[*pos].key
	if k.isString {
		f.SetString(dst, k.str)
		return
	}
	f.SetLong(dst, k.num)
}

func (f *fakeEngine) IterData(ht unsafe.Pointer, pos *uint32) unsafe.Pointer {
	arr := (*fakeArray)(ht)
	if int(*pos) >= len(arr.buckets) {
		return nil
	}
	return unsafe.Pointer(arr.buckets[*pos].val)
}

func (f *fakeEngine) IterNext(ht unsafe.Pointer, pos *uint32) { *pos++ }

// global state and execution

func (f *fakeEngine) RegisterVariable(name string, p unsafe.Pointer) {
	stored := &fakeZval{}
	f.copyInto(stored, fz(p))
	if old, ok := f.globals[name]; ok {
		f.dtor(old)
	}
	f.globals[name] = stored
}

func (f *fakeEngine) RegisterConstant(name string, p unsafe.Pointer) {
	if _, ok := f.constants[name]; ok {
		return
	}
	stored := &fakeZval{}
	f.copyInto(stored, fz(p))
	f.constants[name] = stored
}

func (f *fakeEngine) RegisterServerVariable(track unsafe.Pointer, key, val string) {
	if track != unsafe.Pointer(&f.track) {
		panic("fake: foreign track array")
	}
	f.server[key] = val
}

func (f *fakeEngine) RegisterServerValue(track unsafe.Pointer, key string, p unsafe.Pointer) {
	f.RegisterServerVariable(track, key, fakeString(fz(p)))
}

func (f *fakeEngine) RegisterFunctions(entries []functionEntry) int {
	f.tables = append(f.tables, slices.Clone(entries))
	if len(entries) == 0 || entries[len(entries)-1] != (functionEntry{}) {
		return resultFailure
	}
	for _, e := range entries[:len(entries)-1] {
		if f.functions[strings.ToLower(e.Name)] {
			return resultFailure
		}
	}
	for _, e := range entries[:len(entries)-1] {
		f.functions[strings.ToLower(e.Name)] = true
	}
	return resultSuccess
}

func (f *fakeEngine) EvalString(code, name string, ret unsafe.Pointer, clearGlobals bool) int {
	f.record("eval")
	f.evalNames = append(f.evalNames, name)
	if clearGlobals {
		f.clearGlobals()
	}
	if f.eval != nil {
		f.eval(code, fz(ret))
	}
	return resultSuccess
}

func (f *fakeEngine) ExecuteFile(path string, ret unsafe.Pointer, resetGlobals bool) int {
	f.record("execute_file")
	if resetGlobals {
		f.clearGlobals()
	}
	run, ok := f.files[path]
	if !ok {
		f.throw("Error", "Failed opening required '"+path+"'")
		return resultFailure
	}
	run(fz(ret))
	return resultSuccess
}

func (f *fakeEngine) CallFunction(name string, args []unsafe.Pointer, ret unsafe.Pointer) int {
	frame := &fakeFrame{}
	for _, a := range args {
		if !f.slots[fz(a)] {
			panic("fake: call argument is not a live slot")
		}
		frame.args = append(frame.args, fz(a))
	}

	if f.functions[strings.ToLower(name)] {
		f.SetNull(ret)
		s := lookupSession(f.handle)
		s.call(name, unsafe.Pointer(frame), ret)
		return resultSuccess
	}
	if run, ok := f.scripts[name]; ok {
		run(frame.args, fz(ret))
		return resultSuccess
	}
	f.throw("Error", "Call to undefined function "+name+"()")
	return resultSuccess
}

func (f *fakeEngine) TakeException(dst unsafe.Pointer) bool {
	if f.exception == nil {
		return false
	}
	*fz(dst) = *f.exception
	f.exception = nil
	return true
}

func (f *fakeEngine) CallNumArgs(ex unsafe.Pointer) int {
	return len((*fakeFrame)(ex).args)
}

func (f *fakeEngine) CallArg(ex unsafe.Pointer, i int) unsafe.Pointer {
	return unsafe.Pointer((*fakeFrame)(ex).args[i])
}

// buffers

func (f *fakeEngine) EngineString(s string) unsafe.Pointer {
	b := append([]byte(s), 0)
	p := unsafe.Pointer(&b[0])
	f.estrs[p] = b
	return p
}

func (f *fakeEngine) CString(s string) unsafe.Pointer {
	b := append([]byte(s), 0)
	p := unsafe.Pointer(&b[0])
	f.buffers[p] = b
	return p
}

func (f *fakeEngine) StatBuffer(st *Stat) unsafe.Pointer {
	cp := *st
	p := unsafe.Pointer(&cp)
	f.stats[p] = &cp
	return p
}

func (f *fakeEngine) FreeBuffer(p unsafe.Pointer) {
	switch {
	case f.buffers[p] != nil:
		delete(f.buffers, p)
	case f.stats[p] != nil:
		delete(f.stats, p)
	default:
		panic("fake: free of unknown buffer")
	}
	f.freed++
}

var _ engineABI = (*fakeEngine)(nil)
