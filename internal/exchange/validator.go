package exchange

import (
	"context"
	"sort"
)

// RowValidator runs every attribute's backward resolver over mapped rows
// and aggregates the failures. Validation never short-circuits: every row
// and every attribute is checked so the caller gets the complete picture in
// one pass.
type RowValidator struct {
	// Resolvers is keyed by attribute name, matching the values side of the
	// column mapping.
	Resolvers map[string]AttributeResolver
	// Duplicates, when set, runs after attribute validation, and only when
	// attribute validation produced no errors at all. Rows it flags are
	// removed from the valid set.
	Duplicates DuplicateChecker
}

// Validate checks every mapped attribute of every row.
//
// It returns the aggregated errors sorted by row number and the rows that
// passed, keyed by source row number. A row lands in exactly one of the two:
// any attribute failure excludes the whole row from the valid set.
func (v *RowValidator) Validate(ctx context.Context, rc ResolveContext, rows []RawRow) ([]RowError, map[int]ValidatedRow) {
	var errs []RowError
	valid := make(map[int]ValidatedRow, len(rows))

	for _, row := range rows {
		resolved := make(ValidatedRow, len(row.Values))
		rowOK := true
		for attribute, raw := range row.Values {
			resolver, ok := v.Resolvers[attribute]
			if !ok || resolver.Backward == nil {
				// Unmapped attributes are caught earlier by the registry;
				// pass the raw value through untouched here.
				resolved[attribute] = raw
				continue
			}
			attrErrs, value := resolver.Backward(rc, raw, row.Number)
			if len(attrErrs) > 0 {
				errs = append(errs, attrErrs...)
				rowOK = false
				continue
			}
			resolved[attribute] = value
		}
		if rowOK {
			valid[row.Number] = resolved
		}
	}

	// Batch-level checks only run against a batch that passed attribute
	// validation cleanly; a partially broken file is reported on its
	// attribute errors first.
	if v.Duplicates != nil && len(errs) == 0 && len(valid) > 0 {
		dupErrs := v.Duplicates.Check(ctx, valid)
		for _, e := range dupErrs {
			delete(valid, e.RowNumber)
		}
		errs = append(errs, dupErrs...)
	}

	sort.SliceStable(errs, func(i, j int) bool { return errs[i].RowNumber < errs[j].RowNumber })
	return errs, valid
}
