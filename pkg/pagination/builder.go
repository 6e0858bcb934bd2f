package pagination

import (
	"fmt"
	"strconv"
	"time"

	"github.com/causewayhq/requestcore/pkg/query"
)

// Order is the primary sort direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Direction is the paging direction relative to the cursor.
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
)

const (
	// DefaultLimit applies when the caller gives no page size.
	DefaultLimit = 20

	// MaxLimit caps the page size regardless of what the caller asks for.
	MaxLimit = 100

	// IDField is the unique row id column used as the tiebreaker.
	IDField = "id"
)

// Params are the pagination inputs for one page request.
type Params struct {
	Cursor    string
	Limit     int
	SortField string
	SortOrder Order
	Direction Direction
}

func (p Params) limit() int {
	if p.Limit <= 0 {
		return DefaultLimit
	}
	if p.Limit > MaxLimit {
		return MaxLimit
	}
	return p.Limit
}

func (p Params) sortField() string {
	if p.SortField == "" {
		return IDField
	}
	return p.SortField
}

// BuildQuery applies pagination to a select descriptor: it validates the
// sort field against the allow-list, derives a keyset condition from the
// cursor, orders by the sort field with the row id as tiebreaker, and
// requests one row beyond the limit so ProcessResults can detect a next
// page without a count query.
//
// The id tiebreaker is mandatory whenever the sort field is not the id
// itself: sort fields may hold duplicate values, and without a total order
// pages could skip or repeat rows.
func BuildQuery(q query.Query, p Params, allowedSortFields []string) (query.Query, error) {
	sortField := p.sortField()
	if !sortFieldAllowed(sortField, allowedSortFields) {
		return query.Query{}, fmt.Errorf("%w: %q", ErrInvalidSortField, sortField)
	}

	desc := p.SortOrder == OrderDesc
	backward := p.Direction == DirectionBackward

	// Backward pages are fetched in flipped order; ProcessResults restores
	// the presentation order.
	fetchDesc := desc != backward

	q = q.Order(sortField, fetchDesc)
	if sortField != IDField {
		q = q.Order(IDField, fetchDesc)
	}

	if p.Cursor != "" {
		cursor, err := DecodeCursor(p.Cursor)
		if err != nil {
			return query.Query{}, err
		}
		q.Keyset = &query.Keyset{
			Field:   sortField,
			Value:   cursor.SortValue,
			IDField: IDField,
			ID:      cursor.ID,
			Before:  backward,
			Desc:    desc,
		}
	}

	return q.WithLimit(p.limit() + 1), nil
}

// ProcessResults inspects a limit+1 row set, trims the sentinel row, and
// encodes boundary cursors for the next and previous pages.
func ProcessResults(rows []query.Row, p Params) Page {
	limit := p.limit()
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	backward := p.Direction == DirectionBackward
	if backward {
		// The input slice may alias a cache entry shared with other
		// readers, so the flip must never happen in place.
		rows = reversedRows(rows)
	}

	page := Page{Items: rows}
	if backward {
		page.HasPrev = hasMore
		page.HasNext = p.Cursor != ""
	} else {
		page.HasNext = hasMore
		page.HasPrev = p.Cursor != ""
	}

	if len(rows) > 0 {
		sortField := p.sortField()
		now := time.Now()

		last := rows[len(rows)-1]
		page.NextCursor = Cursor{SortValue: last[sortField], ID: rowID(last), EncodedAt: now}.Encode()

		first := rows[0]
		page.PrevCursor = Cursor{SortValue: first[sortField], ID: rowID(first), EncodedAt: now}.Encode()
	}

	return page
}

// Page is one page of results with its navigation cursors.
type Page struct {
	Items      []query.Row
	HasNext    bool
	HasPrev    bool
	NextCursor string
	PrevCursor string
}

func sortFieldAllowed(field string, allowed []string) bool {
	if field == IDField {
		return true
	}
	for _, a := range allowed {
		if a == field {
			return true
		}
	}
	return false
}

func reversedRows(rows []query.Row) []query.Row {
	out := make([]query.Row, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row
	}
	return out
}

// rowID renders a row's id column as a string for the cursor. Ids are
// normally strings (uuids); numeric ids are formatted without an exponent.
func rowID(row query.Row) string {
	switch id := row[IDField].(type) {
	case string:
		return id
	case int64:
		return strconv.FormatInt(id, 10)
	case int:
		return strconv.Itoa(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", id)
	}
}
