package search

import (
	"fmt"
	"slices"
)

// Op is a metadata comparison.
type Op int

const (
	// OpEq matches a scalar field equal to the single value.
	OpEq Op = iota
	// OpIn matches a scalar field equal to any of the values.
	OpIn
	// OpContainsAll matches a list field holding every value.
	OpContainsAll
	// OpContainsAny matches a list field holding at least one value.
	OpContainsAny
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpIn:
		return "in"
	case OpContainsAll:
		return "contains_all"
	case OpContainsAny:
		return "contains_any"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Condition is one metadata predicate. A condition without values is
// ignored.
type Condition struct {
	Field  string
	Op     Op
	Values []string
}

// Eq builds an equality condition.
func Eq(field, value string) Condition {
	return Condition{Field: field, Op: OpEq, Values: []string{value}}
}

// In builds a set-membership condition.
func In(field string, values ...string) Condition {
	return Condition{Field: field, Op: OpIn, Values: values}
}

// ContainsAll builds a condition requiring every value in a list field.
func ContainsAll(field string, values ...string) Condition {
	return Condition{Field: field, Op: OpContainsAll, Values: values}
}

// ContainsAny builds a condition requiring one of values in a list field.
func ContainsAny(field string, values ...string) Condition {
	return Condition{Field: field, Op: OpContainsAny, Values: values}
}

// Filter is a conjunction of conditions. The zero Filter matches everything.
type Filter struct {
	Conditions []Condition
}

// Where returns a filter of the given conditions.
func Where(conds ...Condition) Filter {
	return Filter{}.And(conds...)
}

// And returns a copy of f with conds appended. Conditions without values are
// dropped.
func (f Filter) And(conds ...Condition) Filter {
	out := Filter{Conditions: slices.Clone(f.Conditions)}
	for _, c := range conds {
		if len(c.Values) > 0 {
			out.Conditions = append(out.Conditions, c)
		}
	}
	return out
}

// Empty reports whether f has no effective conditions.
func (f Filter) Empty() bool {
	for _, c := range f.Conditions {
		if len(c.Values) > 0 {
			return false
		}
	}
	return true
}

// Match reports whether metadata satisfies every condition.
func (f Filter) Match(meta map[string]any) bool {
	for _, c := range f.Conditions {
		if len(c.Values) == 0 {
			continue
		}
		got, ok := meta[c.Field]
		if !ok {
			return false
		}
		vals := stringValues(got)
		switch c.Op {
		case OpEq:
			if len(vals) != 1 || vals[0] != c.Values[0] {
				return false
			}
		case OpIn:
			if len(vals) != 1 || !slices.Contains(c.Values, vals[0]) {
				return false
			}
		case OpContainsAll:
			for _, want := range c.Values {
				if !slices.Contains(vals, want) {
					return false
				}
			}
		case OpContainsAny:
			if !slices.ContainsFunc(c.Values, func(want string) bool { return slices.Contains(vals, want) }) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// stringValues flattens a metadata value into its string members. Values
// decoded from JSON arrive as []any.
func stringValues(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}
