package formula

import (
	"cmp"
	"math"
	"strconv"
	"strings"
)

// Value is a formula value: float64, string (everything read from a
// cell), bool, or nil for no value.
type Value any

// UndefinedResult is what a formula produces when there is no answer, e.g.
// an out of range lookup or a non-numeric operand.
const UndefinedResult = ""

// ErrorPrefix marks cell text that is an error rather than a value.
const ErrorPrefix = "❌ "

// ErrorText formats a message the way errors are shown in place of a value.
func ErrorText(message string) string {
	return ErrorPrefix + message
}

// IsErrorText reports whether stored cell text is a formula error.
func IsErrorText(s string) bool {
	return strings.HasPrefix(s, ErrorPrefix)
}

// FormatValue converts an evaluated value into the text written into a
// cell. NaN becomes the undefined result.
func FormatValue(value Value) string {
	switch v := value.(type) {
	case nil:
		return UndefinedResult
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return formatNumber(v)
	case int:
		return strconv.Itoa(v)
	default:
		return UndefinedResult
	}
}

func formatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return UndefinedResult
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	// 15 significant digits hides float noise like 0.1+0.2
	return strconv.FormatFloat(v, 'g', 15, 64)
}

// toNumber converts value to number, returning ok=false if conversion
// fails. empty text is not a number.
func toNumber(value Value) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v)
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return num, true
	default:
		return 0, false
	}
}

// toNumberOrNaN is toNumber for arithmetic, where failures degrade to NaN
func toNumberOrNaN(value Value) float64 {
	if num, ok := toNumber(value); ok {
		return num
	}
	return math.NaN()
}

func toString(value Value) string {
	return FormatValue(value)
}

// isTruthy is the boolean reading of a value. "false", "0" and empty text are false.
func isTruthy(value Value) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case int:
		return v != 0
	case string:
		switch strings.ToLower(v) {
		case "", "false", "0":
			return false
		}
		return true
	case nil:
		return false
	default:
		return true
	}
}

// isEmpty reports whether a value carries nothing
func isEmpty(value Value) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case float64:
		return math.IsNaN(v)
	}
	return false
}

// compareValues orders two values: numerically when both look numeric
// (and neither or both are booleans), as text otherwise. two empty values
// are equal.
func compareValues(left, right Value) int {
	if isEmpty(left) && isEmpty(right) {
		return 0
	}
	ln, lok := toNumber(left)
	rn, rok := toNumber(right)
	_, lbool := left.(bool)
	_, rbool := right.(bool)
	if lok && rok && lbool == rbool {
		return cmp.Compare(ln, rn)
	}
	return strings.Compare(toString(left), toString(right))
}

// valuesEqual is the generic, numeric-aware equality used by comparison
// operators and lookupByKey. "1" equals 1, "true" equals true.
func valuesEqual(left, right Value) bool {
	lb, leftIsBool := left.(bool)
	rb, rightIsBool := right.(bool)
	if leftIsBool && !rightIsBool {
		return strings.EqualFold(toString(right), FormatValue(lb))
	}
	if rightIsBool && !leftIsBool {
		return strings.EqualFold(toString(left), FormatValue(rb))
	}
	return compareValues(left, right) == 0
}
