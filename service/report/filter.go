package report

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// Filter is a compiled jq expression applied to JSON output. An event is
// printed only if every filter yields a truthy first result.
type Filter struct {
	expr string
	code *gojq.Code
}

// ParseFilters compiles jq expressions in order.
func ParseFilters(exprs []string) ([]*Filter, error) {
	filters := make([]*Filter, 0, len(exprs))
	for _, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
		filters = append(filters, &Filter{expr: expr, code: code})
	}
	return filters, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// Match runs the filter against a generic JSON value (maps, slices,
// float64, string, bool, nil). Runtime errors count as no match.
func (f *Filter) Match(v interface{}) bool {
	iter := f.code.Run(v)
	out, ok := iter.Next()
	if !ok {
		return false
	}
	if _, isErr := out.(error); isErr {
		return false
	}
	return isTruthy(out)
}

// matchAll converts event to its generic JSON form and checks every filter.
func matchAll(filters []*Filter, event interface{}) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return false, err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return false, err
	}
	for _, f := range filters {
		if !f.Match(generic) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
