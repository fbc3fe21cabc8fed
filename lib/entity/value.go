package entity

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrUnsupportedType is returned for property values outside the supported set.
var ErrUnsupportedType = errors.New("entity: unsupported property type")

// Supported property value types (after normalization):
//
//	nil, bool, int64, float64, string, []byte, time.Time, *Key
//
// Values of other integer and float types are converted by NormalizeValue.

// type ranks used for ordering values of different types
const (
	rankNull = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankBytes
	rankKey
)

// NormalizeValue converts v into one of the canonical property types.
func NormalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, int64, float64, string, []byte, *Key:
		return t, nil
	case time.Time:
		return t.UTC(), nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedType, t)
		}
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedType, t)
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func rankOf(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case int64, float64:
		return rankNumber
	case time.Time:
		return rankTime
	case string:
		return rankString
	case []byte:
		return rankBytes
	case *Key:
		return rankKey
	default:
		return rankNull
	}
}

// CompareValues defines a total order over normalized property values.
// Values of different types are ordered by type (null < bool < number < time
// < string < bytes < key). int64 and float64 compare exactly, NaN sorts
// below all other numbers.
func CompareValues(a, b any) int {
	ra, rb := rankOf(a), rankOf(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case rankNumber:
		return compareNumbers(a, b)
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankBytes:
		return bytes.Compare(a.([]byte), b.([]byte))
	case rankKey:
		return Compare(a.(*Key), b.(*Key))
	}
	return 0
}

// compareNumbers orders NaN below every other number (NaNs are equal to each
// other). int64 and float64 values compare exactly, without rounding the int.
func compareNumbers(a, b any) int {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	switch {
	case aInt && bInt:
		return cmpInt(ai, bi)
	case aInt:
		return compareIntFloat(ai, b.(float64))
	case bInt:
		return -compareIntFloat(bi, a.(float64))
	}
	return compareFloats(a.(float64), b.(float64))
}

func compareFloats(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareIntFloat compares i and f exactly.
func compareIntFloat(i int64, f float64) int {
	switch {
	case math.IsNaN(f):
		return 1
	case f >= math.Ldexp(1, 63):
		return -1
	case f < -math.Ldexp(1, 63):
		return 1
	}
	t := math.Trunc(f)
	if c := cmpInt(i, int64(t)); c != 0 {
		return c
	}
	switch {
	case f > t:
		return -1
	case f < t:
		return 1
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
