package phpengine

import (
	"strconv"
	"unsafe"
)

// Array is a view over an array Value's hash table.
type Array struct {
	v *Value
}

// Len is the number of elements.
func (a *Array) Len() int {
	abi := a.v.h.abi
	return abi.ArrayCount(abi.ArrayOf(a.v.ptr()))
}

// Insert stores val under key, replacing any existing element. Numeric
// string keys such as "7" become integer keys, as they do in PHP. The
// array takes its own reference; the caller still releases val.
func (a *Array) Insert(key string, val *Value) {
	a.v.h.abi.ArrayUpdate(a.v.ptr(), key, val.ptr())
}

// Push appends val under the next integer index. The caller still
// releases val.
func (a *Array) Push(val *Value) {
	a.v.h.abi.ArrayPush(a.v.ptr(), val.ptr())
}

// Iter returns a forward-only iterator positioned at the first element.
// An iterator cannot be rewound; call Iter again for a fresh one.
func (a *Array) Iter() *ArrayIter {
	zv := a.v.ptr()
	it := &ArrayIter{arr: a.v, ht: a.v.h.abi.ArrayOf(zv)}
	a.v.h.abi.IterReset(it.ht, &it.pos)
	return it
}

// ArrayKey is an integer or string array key.
type ArrayKey struct {
	num      int64
	str      string
	isString bool
}

func IntKey(n int64) ArrayKey     { return ArrayKey{num: n} }
func StringKey(s string) ArrayKey { return ArrayKey{str: s, isString: true} }

func (k ArrayKey) IsString() bool { return k.isString }

// Int returns the integer key. It is zero for string keys.
func (k ArrayKey) Int() int64 { return k.num }

func (k ArrayKey) String() string {
	if k.isString {
		return k.str
	}
	return strconv.FormatInt(k.num, 10)
}

// Entry is one element produced by an ArrayIter. Index counts entries
// from zero in iteration order. The caller releases Value.
type Entry struct {
	Index uint64
	Key   ArrayKey
	Value *Value
}

// ArrayIter walks an array in insertion order.
type ArrayIter struct {
	arr   *Value
	ht    unsafe.Pointer
	pos   uint32
	index uint64
	done  bool
}

// Next returns the entry at the cursor and advances it. ok is false once
// the array is exhausted; every later call returns false too.
func (it *ArrayIter) Next() (e Entry, ok bool) {
	if it.done {
		return Entry{}, false
	}
	h := it.arr.h
	it.arr.ptr()

	kind := h.abi.IterKeyType(it.ht, &it.pos)
	data := h.abi.IterData(it.ht, &it.pos)
	if kind == hashKeyNonExistent || data == nil {
		it.done = true
		return Entry{}, false
	}

	key := h.slot()
	h.abi.IterKey(it.ht, &it.pos, key.zv)
	if kind == hashKeyInt {
		e.Key = IntKey(h.abi.Long(key.zv))
	} else {
		e.Key = StringKey(string(h.abi.StrBytes(key.zv)))
	}
	key.Release()

	e.Index = it.index
	e.Value = h.attachMaybeShared(data)

	it.index++
	h.abi.IterNext(it.ht, &it.pos)
	return e, true
}
