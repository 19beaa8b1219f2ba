package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/tandemlabs/tandem/internal/op"
)

// Filter narrows a history query. The zero value matches every
// operation.
type Filter struct {
	// FilePath restricts to operations touching one file. The value is
	// normalized the same way submitted paths are, so platform
	// spellings match the stored form.
	FilePath string

	// Kind restricts to one operation kind. Zero matches all kinds.
	Kind op.Kind

	// Origin restricts to operations recorded from one instance.
	Origin string

	// SinceNanos restricts to operations stamped at or after this
	// time. Zero matches from the beginning.
	SinceNanos int64

	// ActiveOnly drops entries flagged undone.
	ActiveOnly bool
}

// compile renders the filter as a parameterized WHERE fragment plus its
// arguments. Values are never interpolated. The fragment is empty when
// the filter matches everything.
func (f Filter) compile() (string, []any) {
	var (
		conds  []string
		params []any
	)

	if f.FilePath != "" {
		conds = append(conds, "file_path = ?")
		params = append(params, op.NormalizePath(f.FilePath))
	}
	if f.Kind != 0 {
		conds = append(conds, "kind = ?")
		params = append(params, f.Kind.String())
	}
	if f.Origin != "" {
		conds = append(conds, "origin_instance = ?")
		params = append(params, f.Origin)
	}
	if f.SinceNanos > 0 {
		conds = append(conds, "timestamp_ns >= ?")
		params = append(params, f.SinceNanos)
	}
	if f.ActiveOnly {
		conds = append(conds, "undone = 0")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), params
}

// Query returns up to limit operations matching f, newest first. A
// limit of zero or less falls back to the configured history bound.
// The id ordering keeps repeated queries stable.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Query(ctx context.Context, f Filter, limit int) ([]op.Operation, error) {
	if limit <= 0 {
		limit = s.maxHistory
	}

	where, params := f.compile()
	query := `
		SELECT ` + operationColumns + `
		FROM operations` + where + `
		ORDER BY id DESC
		LIMIT ?
	`
	params = append(params, limit)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query filtered history: %w", err)
	}
	defer rows.Close()

	var ops []op.Operation
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan filtered row: %w", err)
		}
		ops = append(ops, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate filtered history: %w", err)
	}

	if ops == nil {
		ops = []op.Operation{}
	}

	return ops, nil
}
