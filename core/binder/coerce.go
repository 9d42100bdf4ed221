package binder

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// coerceScalar converts a raw string into a value of the given kind.
// On failure it returns the machine-readable error type used in
// validation entries ("int_parsing", "bool_parsing", ...).
func coerceScalar(raw string, kind reflect.Kind) (reflect.Value, string, error) {
	switch kind {
	case reflect.String:
		return reflect.ValueOf(raw), "", nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, bitSize(kind))
		if err != nil {
			return reflect.Value{}, "int_parsing",
				fmt.Errorf("input should be a valid integer, unable to parse %q", raw)
		}
		v := reflect.New(kindType(kind)).Elem()
		v.SetInt(n)
		return v, "", nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, bitSize(kind))
		if err != nil {
			return reflect.Value{}, "int_parsing",
				fmt.Errorf("input should be a valid non-negative integer, unable to parse %q", raw)
		}
		v := reflect.New(kindType(kind)).Elem()
		v.SetUint(n)
		return v, "", nil

	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(raw, bitSize(kind))
		if err != nil {
			return reflect.Value{}, "float_parsing",
				fmt.Errorf("input should be a valid number, unable to parse %q", raw)
		}
		v := reflect.New(kindType(kind)).Elem()
		v.SetFloat(n)
		return v, "", nil

	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			// Accept the usual form-value spellings as well.
			switch strings.ToLower(raw) {
			case "on", "yes":
				b = true
			case "off", "no", "":
				b = false
			default:
				return reflect.Value{}, "bool_parsing",
					fmt.Errorf("input should be a valid boolean, unable to parse %q", raw)
			}
		}
		return reflect.ValueOf(b), "", nil
	}

	return reflect.Value{}, "value_error", fmt.Errorf("unsupported kind %s", kind)
}

func bitSize(kind reflect.Kind) int {
	switch kind {
	case reflect.Int8, reflect.Uint8:
		return 8
	case reflect.Int16, reflect.Uint16:
		return 16
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 32
	case reflect.Int64, reflect.Uint64, reflect.Float64:
		return 64
	default:
		return strconv.IntSize
	}
}

func kindType(kind reflect.Kind) reflect.Type {
	switch kind {
	case reflect.Int:
		return reflect.TypeOf(int(0))
	case reflect.Int8:
		return reflect.TypeOf(int8(0))
	case reflect.Int16:
		return reflect.TypeOf(int16(0))
	case reflect.Int32:
		return reflect.TypeOf(int32(0))
	case reflect.Int64:
		return reflect.TypeOf(int64(0))
	case reflect.Uint:
		return reflect.TypeOf(uint(0))
	case reflect.Uint8:
		return reflect.TypeOf(uint8(0))
	case reflect.Uint16:
		return reflect.TypeOf(uint16(0))
	case reflect.Uint32:
		return reflect.TypeOf(uint32(0))
	case reflect.Uint64:
		return reflect.TypeOf(uint64(0))
	case reflect.Float32:
		return reflect.TypeOf(float32(0))
	case reflect.Float64:
		return reflect.TypeOf(float64(0))
	case reflect.Bool:
		return reflect.TypeOf(false)
	default:
		return reflect.TypeOf("")
	}
}

// jsonTypeName maps a field kind to the error type reported for a body
// field that decoded to the wrong JSON type.
func jsonTypeName(kind reflect.Kind) string {
	switch kind {
	case reflect.String:
		return "string_type"
	case reflect.Bool:
		return "bool_type"
	case reflect.Float32, reflect.Float64:
		return "float_type"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "int_type"
	case reflect.Slice, reflect.Array:
		return "list_type"
	case reflect.Map, reflect.Struct:
		return "dict_type"
	default:
		return "value_error"
	}
}
