package phpengine

import (
	"unsafe"
)

// Type is the engine's type tag of a value (IS_* in zend_types.h).
type Type uint8

const (
	TypeUndef Type = iota
	TypeNull
	TypeFalse
	TypeTrue
	TypeLong
	TypeDouble
	TypeString
	TypeArray
	TypeObject
	TypeResource
	TypeReference
)

func (t Type) String() string {
	switch t {
	case TypeUndef:
		return "undef"
	case TypeNull:
		return "null"
	case TypeFalse:
		return "false"
	case TypeTrue:
		return "true"
	case TypeLong:
		return "long"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	case TypeResource:
		return "resource"
	case TypeReference:
		return "reference"
	}
	return "unknown"
}

type ownership uint8

const (
	// owned values live in a host slot and were never handed to the
	// engine's refcount graph. Release runs the generic destructor.
	owned ownership = iota
	// shared values hold one reference on a refcounted engine cell.
	// Release drops that reference.
	shared
)

// heap ties Values to the engine that allocated them. live is cleared when
// the owning Context shuts the engine down; after that, releasing a Value
// only frees its host slot.
type heap struct {
	abi  engineABI
	live bool
}

func (h *heap) slot() *Value {
	return &Value{h: h, zv: h.abi.NewSlot(), mode: owned}
}

// copyOwned makes an independent owned copy of zv.
func (h *heap) copyOwned(zv unsafe.Pointer) *Value {
	v := h.slot()
	h.abi.Copy(v.zv, zv)
	return v
}

// attach takes a new reference on the refcounted cell behind zv.
func (h *heap) attach(zv unsafe.Pointer) *Value {
	v := h.slot()
	h.abi.CopyValue(v.zv, zv)
	h.abi.AddRef(v.zv)
	v.mode = shared
	return v
}

// attachMaybeShared wraps a zval of unknown origin. A null counted pointer
// or a payload the engine does not flag as refcounted (scalars whose bits
// alias the counted field) is copied; anything else is attached.
func (h *heap) attachMaybeShared(zv unsafe.Pointer) *Value {
	if h.abi.Counted(zv) == 0 || !h.abi.IsRefcounted(zv) {
		return h.copyOwned(zv)
	}
	return h.attach(zv)
}

// Value is a handle on an engine value. Every Value must be released
// exactly once; Release is safe to call again and does nothing the
// second time.
//
// The conversion methods (Int, Float, Str, Bytes, Array) assume the caller
// checked the type first. They do not coerce.
type Value struct {
	h        *heap
	zv       unsafe.Pointer
	mode     ownership
	released bool
	thrown   bool
}

func (v *Value) ptr() unsafe.Pointer {
	switch {
	case v.released:
		panic("phpengine: use of released Value")
	case !v.h.live:
		panic("phpengine: use of Value after its Context was closed")
	}
	return v.zv
}

// Shared reports whether v holds a reference on a refcounted engine cell.
func (v *Value) Shared() bool { return v.mode == shared }

// Release drops v's hold on the engine value.
func (v *Value) Release() {
	if v == nil || v.released {
		return
	}
	v.released = true

	if v.h.live {
		switch v.mode {
		case owned:
			v.h.abi.PtrDtor(v.zv)
		case shared:
			v.h.abi.DelRef(v.zv)
		}
	}
	v.h.abi.FreeSlot(v.zv)
	v.zv = nil
}

// Clone returns a second handle on the same value. A shared Value gains
// one more reference; an owned Value is copied.
func (v *Value) Clone() *Value {
	zv := v.ptr()
	if v.mode == shared {
		return v.h.attach(zv)
	}
	return v.h.copyOwned(zv)
}

func (v *Value) Type() Type {
	return Type(v.h.abi.TypeOf(v.ptr()))
}

func (v *Value) IsInt() bool    { return v.Type() == TypeLong }
func (v *Value) IsFloat() bool  { return v.Type() == TypeDouble }
func (v *Value) IsNull() bool   { return v.Type() == TypeNull }
func (v *Value) IsString() bool { return v.Type() == TypeString }
func (v *Value) IsTrue() bool   { return v.Type() == TypeTrue }
func (v *Value) IsFalse() bool  { return v.Type() == TypeFalse }
func (v *Value) IsArray() bool  { return v.Type() == TypeArray }
func (v *Value) IsObject() bool { return v.Type() == TypeObject }

// Thrown reports whether v is an exception the engine left uncaught,
// returned in place of the script's result.
func (v *Value) Thrown() bool { return v.thrown }

func (v *Value) IsBool() bool {
	t := v.Type()
	return t == TypeTrue || t == TypeFalse
}

// TypeName is the PHP-facing name of the value's type.
func (v *Value) TypeName() string {
	switch v.Type() {
	case TypeLong:
		return "int"
	case TypeDouble:
		return "float"
	case TypeNull:
		return "null"
	case TypeString:
		return "string"
	case TypeTrue, TypeFalse:
		return "bool"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	}
	return "unknown"
}

// Int returns the integer payload. v must be an int.
func (v *Value) Int() int64 { return v.h.abi.Long(v.ptr()) }

// Float returns the float payload. v must be a float.
func (v *Value) Float() float64 { return v.h.abi.Double(v.ptr()) }

// Bytes returns a copy of the string payload. v must be a string.
func (v *Value) Bytes() []byte { return v.h.abi.StrBytes(v.ptr()) }

// Str returns the string payload unchanged. v must be a string; PHP
// strings are byte strings, so check utf8.ValidString where it matters.
func (v *Value) Str() string { return string(v.h.abi.StrBytes(v.ptr())) }

// Array returns a view of the array payload. v must be an array. The view
// is valid as long as v is.
func (v *Value) Array() *Array { return &Array{v: v} }

// String converts v the way PHP's (string) cast does, without touching v.
func (v *Value) String() string {
	if s, dead := v.placeholder(); dead {
		return s
	}
	return v.h.abi.ToString(v.ptr())
}

// placeholder is what fmt prints for a Value that can no longer be read.
func (v *Value) placeholder() (string, bool) {
	switch {
	case v == nil || v.released:
		return "<released>", true
	case !v.h.live:
		return "<closed>", true
	}
	return "", false
}

// Dump renders v with var_export.
func (v *Value) Dump() string { return v.h.abi.Export(v.ptr()) }

func (v *Value) GoString() string {
	if s, dead := v.placeholder(); dead {
		return s
	}
	return v.Dump()
}
