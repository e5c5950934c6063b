package postgres

import (
	"fmt"
	"strings"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// listQuery appends the time window, ordering and paging of opts to base.
// base must already contain a WHERE clause; args holds its parameters.
func listQuery(base, timeCol string, args []any, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= %s", timeCol, next(*opts.Since))
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= %s", timeCol, next(*opts.Until))
	}
	fmt.Fprintf(&b, " ORDER BY %s DESC", timeCol)
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %s", next(opts.Limit))
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %s", next(opts.Offset))
	}
	return b.String(), args
}
