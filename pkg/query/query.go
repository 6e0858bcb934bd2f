// Package query defines the backend executor contract: a composable query
// descriptor plus a narrow Executor interface with select/insert/update/
// delete capabilities. The orchestration layer depends only on this
// contract, never on a concrete database client.
package query

import "context"

// Op distinguishes the executor intents.
type Op string

const (
	OpSelect Op = "select"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// FilterOp is a filter comparison operator.
type FilterOp string

const (
	FilterEq     FilterOp = "eq"
	FilterNeq    FilterOp = "neq"
	FilterGt     FilterOp = "gt"
	FilterGte    FilterOp = "gte"
	FilterLt     FilterOp = "lt"
	FilterLte    FilterOp = "lte"
	FilterLike   FilterOp = "like"   // pattern match, % wildcard
	FilterSearch FilterOp = "search" // full-text search
	FilterIn     FilterOp = "in"     // value is a slice
)

// Filter is one WHERE-style condition.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// OrderBy is one ordering clause.
type OrderBy struct {
	Field string
	Desc  bool
}

// Keyset restricts rows to those after (or before) a (sort field, id) tuple
// in the query's ordering. It is how cursor pagination expresses "the next
// page" without numeric offsets; the id component breaks ties between rows
// sharing a sort field value.
type Keyset struct {
	Field   string
	Value   any
	IDField string
	ID      any

	// Before selects rows before the tuple instead of after it.
	Before bool

	// Desc mirrors the sort direction of Field so executors compare tuples
	// in the right order.
	Desc bool
}

// Row is one result row.
type Row map[string]any

// Query is the descriptor consumed by an Executor.
type Query struct {
	// Resource is the table/collection name; also used as the endpoint
	// label for rate limiting and metrics.
	Resource string

	Op       Op
	Filters  []Filter
	Ordering []OrderBy
	Limit    int
	Keyset   *Keyset

	// Values carries the payload for insert/update.
	Values map[string]any
}

// Select starts a select descriptor for resource.
func Select(resource string) Query {
	return Query{Resource: resource, Op: OpSelect}
}

// Insert starts an insert descriptor for resource.
func Insert(resource string, values map[string]any) Query {
	return Query{Resource: resource, Op: OpInsert, Values: values}
}

// Update starts an update descriptor for resource.
func Update(resource string, values map[string]any) Query {
	return Query{Resource: resource, Op: OpUpdate, Values: values}
}

// Delete starts a delete descriptor for resource.
func Delete(resource string) Query {
	return Query{Resource: resource, Op: OpDelete}
}

// Where appends a filter, returning the extended descriptor.
func (q Query) Where(field string, op FilterOp, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

// Order appends an ordering clause, returning the extended descriptor.
func (q Query) Order(field string, desc bool) Query {
	q.Ordering = append(append([]OrderBy(nil), q.Ordering...), OrderBy{Field: field, Desc: desc})
	return q
}

// WithLimit sets the row limit, returning the modified descriptor.
func (q Query) WithLimit(limit int) Query {
	q.Limit = limit
	return q
}

// Executor is the opaque backend: execute a descriptor, return rows or an
// error. Implementations must honor Filters, Ordering, Limit and Keyset for
// selects, and return affected rows for mutations.
type Executor interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	Insert(ctx context.Context, q Query) ([]Row, error)
	Update(ctx context.Context, q Query) ([]Row, error)
	Delete(ctx context.Context, q Query) ([]Row, error)
}
