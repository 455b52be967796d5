package postgres

import (
	"fmt"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
)

// appendListOpts adds created_at bounds, ordering and pagination from opts to
// a query whose WHERE clause already binds len(args) parameters.
func appendListOpts(query string, args []any, opts domain.ListOpts, orderBy string) (string, []any) {
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		query += " AND created_at >= " + next(*opts.Since)
	}
	if opts.Until != nil {
		query += " AND created_at <= " + next(*opts.Until)
	}
	query += " ORDER BY " + orderBy
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}
