package postgres

import (
	"reflect"
	"sync"
)

// columnIndex maps db tags of a struct type to field index paths.
type columnIndex struct {
	columns []string
	paths   map[string][]int
}

var columnCache sync.Map // map[reflect.Type]*columnIndex

// Columns returns the db column names of T in field order. Embedded
// structs are flattened; fields tagged "-" or untagged are skipped.
func Columns[T any]() []string {
	var zero T
	idx := indexOf(reflect.TypeOf(zero))
	return append([]string(nil), idx.columns...)
}

// Values returns the field values of v for columns, in that order.
// Unknown columns yield nil.
func Values(v any, columns []string) []any {
	rv := indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Struct {
		return nil
	}
	idx := indexOf(rv.Type())

	out := make([]any, len(columns))
	for i, col := range columns {
		if path, ok := idx.paths[col]; ok {
			out[i] = rv.FieldByIndex(path).Interface()
		}
	}
	return out
}

// StructToMap converts a struct to a column -> value map using db tags.
func StructToMap(v any) map[string]any {
	rv := indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Struct {
		return nil
	}
	idx := indexOf(rv.Type())

	res := make(map[string]any, len(idx.columns))
	for _, col := range idx.columns {
		res[col] = rv.FieldByIndex(idx.paths[col]).Interface()
	}
	return res
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	return rv
}

func indexOf(t reflect.Type) *columnIndex {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := columnCache.Load(t); ok {
		return cached.(*columnIndex)
	}

	idx := &columnIndex{paths: make(map[string][]int)}
	if t != nil && t.Kind() == reflect.Struct {
		collect(t, nil, idx)
	}
	columnCache.Store(t, idx)
	return idx
}

func collect(t reflect.Type, prefix []int, idx *columnIndex) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		path := append(append([]int(nil), prefix...), i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			collect(field.Type, path, idx)
			continue
		}

		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		if _, dup := idx.paths[tag]; dup {
			continue
		}
		idx.columns = append(idx.columns, tag)
		idx.paths[tag] = path
	}
}
