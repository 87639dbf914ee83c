package utils

import (
	"reflect"
)

var ColumnTag = "db"

// StructTagValues returns the column names of a struct, descending into
// embedded structs that carry no tag of their own (types.Location).
func StructTagValues(input any) []string {
	targetValue := indirectStruct(input)
	result := make([]string, 0, targetValue.NumField())
	walkColumns(targetValue, func(column string, _ reflect.Value) {
		result = append(result, column)
	})
	return result
}

// StructToMap maps column name to field value, with the same embedding rules
// as StructTagValues.
func StructToMap(input any) map[string]any {
	result := make(map[string]any)
	walkColumns(indirectStruct(input), func(column string, v reflect.Value) {
		result[column] = v.Interface()
	})
	return result
}

func indirectStruct(input any) reflect.Value {
	v := reflect.ValueOf(input)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		panic("input must be a pointer to a struct or a struct")
	}

	return v
}

func walkColumns(v reflect.Value, fn func(column string, field reflect.Value)) {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}

		tagValue := field.Tag.Get(ColumnTag)
		if tagValue == "-" {
			continue
		}

		if tagValue == "" {
			if field.Anonymous && field.Type.Kind() == reflect.Struct {
				walkColumns(v.Field(i), fn)
			}
			continue
		}

		fn(tagValue, v.Field(i))
	}
}
