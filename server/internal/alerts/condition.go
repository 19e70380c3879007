package alerts

import (
	"strconv"
	"strings"
)

// evalCondition evaluates a rule condition string against a Snapshot.
//
// Supported expressions (field operator value):
//
//	current_mg > 300
//	peak_mg >= 400
//	mean_mg > 150
//	doses_24h > 5
//	status == overloaded
//
// It reports whether the rule fires and the value that triggered it. Status
// comparisons report the current level. Malformed expressions and unknown
// fields never fire.
func evalCondition(cond string, snap Snapshot) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "status" {
		switch op {
		case "==":
			return snap.Status.Name == rhs, snap.Report.Current()
		case "!=":
			return snap.Status.Name != rhs, snap.Report.Current()
		}
		return false, 0
	}

	v, ok := numericField(field, snap)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// numericField maps a field name to its value in the snapshot.
func numericField(field string, snap Snapshot) (float64, bool) {
	switch field {
	case "current_mg":
		return snap.Report.Current(), true
	case "peak_mg":
		return snap.Report.Peak(), true
	case "mean_mg":
		return snap.Report.Mean(), true
	case "doses_24h":
		return float64(snap.Doses24h), true
	default:
		return 0, false
	}
}

var comparators = map[string]func(a, b float64) bool{
	">":  func(a, b float64) bool { return a > b },
	">=": func(a, b float64) bool { return a >= b },
	"<":  func(a, b float64) bool { return a < b },
	"<=": func(a, b float64) bool { return a <= b },
	"==": func(a, b float64) bool { return a == b },
	"!=": func(a, b float64) bool { return a != b },
}

// compareFloat applies op to v and threshold. Unknown operators never match.
func compareFloat(v float64, op string, threshold float64) bool {
	cmp, ok := comparators[op]
	return ok && cmp(v, threshold)
}
