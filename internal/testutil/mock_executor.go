// Package testutil provides testing utilities for the request middleware.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/causewayhq/requestcore/pkg/query"
)

// MockExecutor is a configurable in-memory query.Executor for tests. It
// honors filters, ordering, keyset conditions and limits, tracks per-call
// counters, and supports delay and error injection.
type MockExecutor struct {
	mu     sync.Mutex
	tables map[string][]query.Row
	calls  map[string]int
	errs   map[string]error
	delay  time.Duration
}

// NewMockExecutor creates an empty executor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		tables: make(map[string][]query.Row),
		calls:  make(map[string]int),
		errs:   make(map[string]error),
	}
}

// Seed replaces the rows of resource.
func (m *MockExecutor) Seed(resource string, rows []query.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]query.Row, len(rows))
	for i, row := range rows {
		copied[i] = cloneRow(row)
	}
	m.tables[resource] = copied
}

// Rows returns a copy of the current rows of resource.
func (m *MockExecutor) Rows(resource string) []query.Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.tables[resource]
	copied := make([]query.Row, len(rows))
	for i, row := range rows {
		copied[i] = cloneRow(row)
	}
	return copied
}

// FailWith makes every op on resource fail with err until cleared with a
// nil err.
func (m *MockExecutor) FailWith(op query.Op, resource string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(op) + ":" + resource
	if err == nil {
		delete(m.errs, key)
		return
	}
	m.errs[key] = err
}

// SetDelay makes every op sleep before answering, for timeout tests.
func (m *MockExecutor) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns how many times op has run against resource.
func (m *MockExecutor) Calls(op query.Op, resource string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[string(op)+":"+resource]
}

// Select implements query.Executor.
func (m *MockExecutor) Select(ctx context.Context, q query.Query) ([]query.Row, error) {
	if err := m.begin(ctx, query.OpSelect, q.Resource); err != nil {
		return nil, err
	}

	m.mu.Lock()
	rows := make([]query.Row, 0, len(m.tables[q.Resource]))
	for _, row := range m.tables[q.Resource] {
		if matchesFilters(row, q.Filters) && matchesKeyset(row, q.Keyset) {
			rows = append(rows, cloneRow(row))
		}
	}
	m.mu.Unlock()

	sortRows(rows, q.Ordering)
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// Insert implements query.Executor, assigning an id when absent.
func (m *MockExecutor) Insert(ctx context.Context, q query.Query) ([]query.Row, error) {
	if err := m.begin(ctx, query.OpInsert, q.Resource); err != nil {
		return nil, err
	}

	row := cloneRow(query.Row(q.Values))
	if _, ok := row["id"]; !ok {
		row["id"] = uuid.NewString()
	}

	m.mu.Lock()
	m.tables[q.Resource] = append(m.tables[q.Resource], row)
	m.mu.Unlock()

	return []query.Row{cloneRow(row)}, nil
}

// Update implements query.Executor.
func (m *MockExecutor) Update(ctx context.Context, q query.Query) ([]query.Row, error) {
	if err := m.begin(ctx, query.OpUpdate, q.Resource); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var updated []query.Row
	for _, row := range m.tables[q.Resource] {
		if matchesFilters(row, q.Filters) {
			for field, value := range q.Values {
				row[field] = value
			}
			updated = append(updated, cloneRow(row))
		}
	}
	return updated, nil
}

// Delete implements query.Executor.
func (m *MockExecutor) Delete(ctx context.Context, q query.Query) ([]query.Row, error) {
	if err := m.begin(ctx, query.OpDelete, q.Resource); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var kept, removed []query.Row
	for _, row := range m.tables[q.Resource] {
		if matchesFilters(row, q.Filters) {
			removed = append(removed, cloneRow(row))
		} else {
			kept = append(kept, row)
		}
	}
	m.tables[q.Resource] = kept
	return removed, nil
}

func (m *MockExecutor) begin(ctx context.Context, op query.Op, resource string) error {
	m.mu.Lock()
	key := string(op) + ":" + resource
	m.calls[key]++
	delay := m.delay
	err := m.errs[key]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func cloneRow(row query.Row) query.Row {
	copied := make(query.Row, len(row))
	for field, value := range row {
		copied[field] = value
	}
	return copied
}

func matchesFilters(row query.Row, filters []query.Filter) bool {
	for _, f := range filters {
		if !matchesFilter(row, f) {
			return false
		}
	}
	return true
}

func matchesFilter(row query.Row, f query.Filter) bool {
	value, ok := row[f.Field]
	if !ok {
		return false
	}

	switch f.Op {
	case query.FilterEq:
		return compareValues(value, f.Value) == 0
	case query.FilterNeq:
		return compareValues(value, f.Value) != 0
	case query.FilterGt:
		return compareValues(value, f.Value) > 0
	case query.FilterGte:
		return compareValues(value, f.Value) >= 0
	case query.FilterLt:
		return compareValues(value, f.Value) < 0
	case query.FilterLte:
		return compareValues(value, f.Value) <= 0
	case query.FilterLike:
		pattern := strings.ToLower(fmt.Sprintf("%v", f.Value))
		text := strings.ToLower(fmt.Sprintf("%v", value))
		return strings.Contains(text, strings.Trim(pattern, "%"))
	case query.FilterSearch:
		return strings.Contains(
			strings.ToLower(fmt.Sprintf("%v", value)),
			strings.ToLower(fmt.Sprintf("%v", f.Value)),
		)
	case query.FilterIn:
		if values, ok := f.Value.([]any); ok {
			for _, candidate := range values {
				if compareValues(value, candidate) == 0 {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

// matchesKeyset applies the (sort field, id) tuple comparison that keyset
// pagination relies on. Desc flips the tuple order; Before selects the
// other side of the tuple.
func matchesKeyset(row query.Row, ks *query.Keyset) bool {
	if ks == nil {
		return true
	}

	cmp := compareValues(row[ks.Field], ks.Value)
	if cmp == 0 {
		cmp = compareValues(row[ks.IDField], ks.ID)
	}
	if ks.Desc {
		cmp = -cmp
	}
	if ks.Before {
		return cmp < 0
	}
	return cmp > 0
}

func sortRows(rows []query.Row, ordering []query.OrderBy) {
	if len(ordering) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, ob := range ordering {
			cmp := compareValues(rows[i][ob.Field], rows[j][ob.Field])
			if cmp == 0 {
				continue
			}
			if ob.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// compareValues orders two row values, coercing numbers to float64 so int
// and float representations of the same column compare correctly.
func compareValues(a, b any) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}

	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
