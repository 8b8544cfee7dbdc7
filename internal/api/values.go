package api

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// jsonRows converts result rows into values encoding/json accepts. Non-finite
// floats become "inf", "-inf" and "nan", and maps with non-string keys are
// re-keyed by their printed form.
func jsonRows(rows [][]any) [][]any {
	converted := make([][]any, len(rows))
	for i, row := range rows {
		values := make([]any, len(row))
		for j, value := range row {
			values[j] = jsonValue(value)
		}
		converted[i] = values
	}
	return converted
}

func jsonValue(value any) any {
	if value == nil {
		return nil
	}
	if _, ok := value.(json.Marshaler); ok {
		return value
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return jsonFloat(value, v.Float())
	case reflect.Map:
		converted := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			converted[fmt.Sprint(iter.Key().Interface())] = jsonValue(iter.Value().Interface())
		}
		return converted
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return value
		}
		converted := make([]any, v.Len())
		for i := range converted {
			converted[i] = jsonValue(v.Index(i).Interface())
		}
		return converted
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return value
	default:
		return value
	}
}

func jsonFloat(value any, f float64) any {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return value
	}
}
