package condition

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

// toFloat64 coerces a numeric value, or a string holding a number, to float64.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// compare applies op to a resolved left value and the condition's literal.
func compare(op rule.Operator, left, right interface{}) (bool, error) {
	switch op {
	case rule.OpEquals:
		return equal(left, right), nil
	case rule.OpNotEquals:
		return !equal(left, right), nil
	case rule.OpGreaterThan, rule.OpLessThan:
		return numericCompare(op, left, right), nil
	case rule.OpContains:
		return containsOp(left, right), nil
	default:
		return false, fmt.Errorf("unknown operator: %s", op)
	}
}

// equal compares numbers numerically (a numeric string counts as a number
// when the other side is one), bools as bools and strings as strings.
// Values of mismatched kinds are not equal.
func equal(left, right interface{}) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if isNumber(left) || isNumber(right) {
		lf, lok := toFloat64(left)
		rf, rok := toFloat64(right)
		return lok && rok && math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return ls == rs
	}
	return false
}

func numericCompare(op rule.Operator, left, right interface{}) bool {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return false
	}
	if op == rule.OpGreaterThan {
		return lf > rf
	}
	return lf < rf
}

// containsOp is a case-sensitive substring test for string values and a
// membership test for lists.
func containsOp(left, right interface{}) bool {
	switch l := left.(type) {
	case string:
		rs, ok := right.(string)
		if !ok {
			if !isNumber(right) {
				return false
			}
			rs = fmt.Sprintf("%v", right)
		}
		return strings.Contains(l, rs)
	case []string:
		for _, item := range l {
			if equal(item, right) {
				return true
			}
		}
	case []interface{}:
		for _, item := range l {
			if equal(item, right) {
				return true
			}
		}
	}
	return false
}
