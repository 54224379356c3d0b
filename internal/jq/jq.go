// Package jq evaluates jq queries on JSON documents.
package jq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
)

// Query is a parsed jq query that returns a single scalar value.
type Query struct {
	q *gojq.Query
}

func Parse(query string) (*Query, error) {
	q, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parsing jq query %q failed: %w", query, err)
	}

	return &Query{q: q}, nil
}

// MustParse is like Parse but panics on errors.
func MustParse(query string) *Query {
	q, err := Parse(query)
	if err != nil {
		panic(err)
	}

	return q
}

func (q *Query) String() string {
	return q.q.String()
}

func iterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errs []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errs
		}

		if err, isErr := res.(error); isErr {
			errs = append(errs, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}

// Unmarshal converts a JSON document to the generic representation that
// queries are run on.
func Unmarshal(data []byte) (any, error) {
	var v any

	if len(data) == 0 {
		return nil, errors.New("json document is empty")
	}

	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshaling json failed: %w", err)
	}

	return v, nil
}

// Scalar runs the query on doc and returns the result as string.
// The query must return exactly one result. Numbers and bools are
// converted to their string representation, null results in an empty string.
func (q *Query) Scalar(ctx context.Context, doc any) (string, error) {
	result, errs := iterToSlice(q.q.RunWithContext(ctx, doc))
	if len(errs) != 0 {
		return "", fmt.Errorf("json query returned errors, query: %q, errors: %s", q.q.String(), errString(errs))
	}

	if len(result) != 1 {
		return "", fmt.Errorf("json query returned %d results, expected 1, query: %q", len(result), q.q.String())
	}

	switch val := result[0].(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf(
			"json query returned non-scalar result: %+v (%T), query: %q",
			val, val, q.q.String(),
		)
	}
}
