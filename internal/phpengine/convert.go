package phpengine

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
)

// ErrUnsupportedType is returned when a Go value has no PHP counterpart.
var ErrUnsupportedType = errors.New("phpengine: unsupported Go type")

// valueOf converts x into an engine value. temp reports whether the
// returned Value was created here, in which case the caller releases it.
// A *Value passes through untouched.
func (h *heap) valueOf(x any) (v *Value, temp bool, err error) {
	if existing, ok := x.(*Value); ok {
		existing.ptr()
		return existing, false, nil
	}

	switch t := x.(type) {
	case nil:
		v = h.slot()
		h.abi.SetNull(v.zv)
	case bool:
		v = h.slot()
		h.abi.SetBool(v.zv, t)
	case int:
		v = h.long(int64(t))
	case int8:
		v = h.long(int64(t))
	case int16:
		v = h.long(int64(t))
	case int32:
		v = h.long(int64(t))
	case int64:
		v = h.long(t)
	case uint:
		return h.unsigned(uint64(t))
	case uint8:
		v = h.long(int64(t))
	case uint16:
		v = h.long(int64(t))
	case uint32:
		v = h.long(int64(t))
	case uint64:
		return h.unsigned(t)
	case float32:
		v = h.slot()
		h.abi.SetDouble(v.zv, float64(t))
	case float64:
		v = h.slot()
		h.abi.SetDouble(v.zv, t)
	case string:
		v = h.slot()
		h.abi.SetString(v.zv, t)
	case []byte:
		v = h.slot()
		h.abi.SetString(v.zv, string(t))
	case []any:
		return h.list(len(t), func(i int) any { return t[i] })
	case []string:
		return h.list(len(t), func(i int) any { return t[i] })
	case []int64:
		return h.list(len(t), func(i int) any { return t[i] })
	case map[string]any:
		return h.hash(slices.Sorted(maps.Keys(t)), func(k string) any { return t[k] })
	case map[string]string:
		return h.hash(slices.Sorted(maps.Keys(t)), func(k string) any { return t[k] })
	default:
		return nil, false, fmt.Errorf("%w: %T", ErrUnsupportedType, x)
	}
	return v, true, nil
}

func (h *heap) long(n int64) *Value {
	v := h.slot()
	h.abi.SetLong(v.zv, n)
	return v
}

func (h *heap) unsigned(n uint64) (*Value, bool, error) {
	if n > math.MaxInt64 {
		return nil, false, fmt.Errorf("%w: %d overflows a PHP int", ErrUnsupportedType, n)
	}
	return h.long(int64(n)), true, nil
}

func (h *heap) list(n int, at func(int) any) (*Value, bool, error) {
	arr := h.slot()
	h.abi.InitArray(arr.zv, uint32(n))
	for i := 0; i < n; i++ {
		elem, temp, err := h.valueOf(at(i))
		if err != nil {
			arr.Release()
			return nil, false, err
		}
		h.abi.ArrayPush(arr.zv, elem.zv)
		if temp {
			elem.Release()
		}
	}
	return arr, true, nil
}

func (h *heap) hash(keys []string, at func(string) any) (*Value, bool, error) {
	arr := h.slot()
	h.abi.InitArray(arr.zv, uint32(len(keys)))
	for _, k := range keys {
		elem, temp, err := h.valueOf(at(k))
		if err != nil {
			arr.Release()
			return nil, false, err
		}
		h.abi.ArrayUpdate(arr.zv, k, elem.zv)
		if temp {
			elem.Release()
		}
	}
	return arr, true, nil
}
