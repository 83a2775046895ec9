package phpengine

// Export converts v into plain Go values: nil, bool, int64, float64,
// string, []any for lists and map[string]any for other arrays. Objects and
// resources are rendered with var_export.
func (v *Value) Export() any {
	switch v.Type() {
	case TypeUndef, TypeNull:
		return nil
	case TypeTrue:
		return true
	case TypeFalse:
		return false
	case TypeLong:
		return v.Int()
	case TypeDouble:
		return v.Float()
	case TypeString:
		return v.Str()
	case TypeArray:
		return exportArray(v.Array())
	}
	return v.Dump()
}

func exportArray(a *Array) any {
	var (
		keys   []ArrayKey
		values []any
		isList = true
	)
	it := a.Iter()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		if e.Key.IsString() || e.Key.Int() != int64(e.Index) {
			isList = false
		}
		keys = append(keys, e.Key)
		values = append(values, e.Value.Export())
		e.Value.Release()
	}

	if isList {
		if values == nil {
			return []any{}
		}
		return values
	}
	m := make(map[string]any, len(keys))
	for i, k := range keys {
		m[k.String()] = values[i]
	}
	return m
}
