package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/namegraph/internal/entity"
	"github.com/roach88/namegraph/internal/ident"
	"github.com/roach88/namegraph/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %d/%d %s %s %s\n", i+1, ev.Block, ev.LogIndex, ev.Contract, ev.Event, ev.Outcome)
		}
	}

	return buf.String()
}

func traceMatches(ev TraceEvent, a Assertion) bool {
	return ev.Event == a.Event && (a.Outcome == "" || ev.Outcome == a.Outcome)
}

func describeTraceMatch(a Assertion) string {
	if a.Outcome == "" {
		return a.Event
	}
	return a.Event + " " + a.Outcome
}

// assertTraceContains checks that some event matches by name and, when
// given, outcome.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if traceMatches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeTraceMatch(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks that exactly Count events match.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if traceMatches(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describeTraceMatch(a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// rowID resolves the row an assertion selects.
func rowID(a Assertion) string {
	if a.Name != "" {
		return ident.HashID(ident.NameHash(a.Name))
	}
	parts := strings.Split(a.ID, "-")
	for i, p := range parts {
		if name, ok := strings.CutPrefix(p, "namehash:"); ok {
			parts[i] = ident.HashID(ident.NameHash(name))
		} else if label, ok := strings.CutPrefix(p, "labelhash:"); ok {
			parts[i] = ident.HashID(ident.LabelHash(label))
		}
	}
	return strings.Join(parts, "-")
}

// assertEntity checks the selected row exists and carries the expected
// values (subset semantics).
func assertEntity(ctx context.Context, st *store.DB, a Assertion) error {
	id := rowID(a)
	row, err := st.Find(ctx, entity.Kind(a.Entity), id)
	if err != nil {
		return err
	}
	if row == nil {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s %s", a.Entity, id),
			Actual:   "row not found",
		}
	}

	actual, err := rowFields(row)
	if err != nil {
		return err
	}

	// Sort keys for deterministic failure messages
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		actualValue, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertEntity,
				Expected: fmt.Sprintf("field %q to exist on %s", key, a.Entity),
				Actual:   fmt.Sprintf("fields: %v", fieldNames(actual)),
			}
		}
		expected, err := normalize(a.Expect[key])
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(expected, actualValue) {
			return &AssertionError{
				Type:     AssertEntity,
				Expected: fmt.Sprintf("%s %s: %s = %v", a.Entity, id, key, expected),
				Actual:   fmt.Sprintf("%s = %v", key, actualValue),
			}
		}
	}
	return nil
}

// assertAbsent checks the selected row does not exist.
func assertAbsent(ctx context.Context, st *store.DB, a Assertion) error {
	id := rowID(a)
	row, err := st.Find(ctx, entity.Kind(a.Entity), id)
	if err != nil {
		return err
	}
	if row != nil {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("no %s %s", a.Entity, id),
			Actual:   "row exists",
		}
	}
	return nil
}

// assertCount checks the number of rows of a kind.
func assertCount(ctx context.Context, st *store.DB, a Assertion) error {
	counts, err := st.Counts(ctx)
	if err != nil {
		return err
	}
	if n := counts[entity.Kind(a.Entity)]; n != int64(a.Count) {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d %s rows", a.Count, a.Entity),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

// rowFields renders a row as its JSON fields, so expectations are written
// with the same names and shapes as the inspect command prints.
func rowFields(row entity.Row) (map[string]any, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalize brings a YAML value to the shape encoding/json decodes into.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("expected value %v: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fieldNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.DB
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertEntity, AssertAbsent, AssertCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, a.Type)
				break
			}
			switch a.Type {
			case AssertEntity:
				err = assertEntity(actx.Ctx, actx.Store, a)
			case AssertAbsent:
				err = assertAbsent(actx.Ctx, actx.Store, a)
			default:
				err = assertCount(actx.Ctx, actx.Store, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
