package wire

import (
	"fmt"
	"reflect"
)

// structInfo describes the exported, D-Bus-relevant fields of a
// struct type, in wire order. Embedded struct fields are flattened as
// if their exported fields were declared directly in the outer
// struct, matching Go's usual embedding visibility rules.
type structInfo struct {
	Fields []reflect.StructField
}

var structInfoCache cache[reflect.Type, structInfo]

func getStructInfo(t reflect.Type) (structInfo, error) {
	if ret, err := structInfoCache.Get(t); err == nil {
		return ret, nil
	}
	ret, err := computeStructInfo(t)
	if err != nil {
		structInfoCache.SetErr(t, err)
		return structInfo{}, err
	}
	structInfoCache.Set(t, ret)
	return ret, nil
}

func computeStructInfo(t reflect.Type) (structInfo, error) {
	var ret structInfo
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Anonymous {
			ft := f.Type
			for ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && !implementsMarshalUnmarshal(f.Type) {
				inner, err := getStructInfo(ft)
				if err != nil {
					return structInfo{}, fmt.Errorf("embedded field %s: %w", f.Name, err)
				}
				ret.Fields = append(ret.Fields, inner.Fields...)
				continue
			}
		}
		ret.Fields = append(ret.Fields, f)
	}
	return ret, nil
}

func implementsMarshalUnmarshal(t reflect.Type) bool {
	pt := reflect.PointerTo(t)
	return t.Implements(marshalerType) || t.Implements(unmarshalerType) ||
		pt.Implements(marshalerType) || pt.Implements(unmarshalerType)
}
