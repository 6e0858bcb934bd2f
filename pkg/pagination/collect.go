package pagination

import (
	"context"
	"fmt"

	"github.com/causewayhq/requestcore/pkg/query"
)

// maxCollectPages bounds Collect against a fetcher that never reports the
// end of the listing.
const maxCollectPages = 1000

// FetchPage fetches one page given the cursor from the previous page; an
// empty cursor fetches the first page.
type FetchPage func(ctx context.Context, cursor string) (Page, error)

// Collect walks a cursor-paginated listing to completion and returns every
// row in order. Use it for exports and admin tooling, not interactive lists.
func Collect(ctx context.Context, fetch FetchPage) ([]query.Row, error) {
	var all []query.Row
	cursor := ""

	for pages := 0; ; pages++ {
		if pages >= maxCollectPages {
			return all, fmt.Errorf("pagination did not terminate after %d pages", maxCollectPages)
		}
		if err := ctx.Err(); err != nil {
			return all, err
		}

		page, err := fetch(ctx, cursor)
		if err != nil {
			return all, fmt.Errorf("fetch page %d: %w", pages+1, err)
		}

		all = append(all, page.Items...)

		if !page.HasNext || page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}
