// Package validate holds the read-only checks run around a migration: the
// integrity gate on one store, the cross-store consistency comparison, and
// the binary spot-check.
package validate

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"mssql2pg/internal/model"
	"mssql2pg/internal/storage"
)

// IntegrityResult is the outcome of one integrity pass. IsValid holds iff no
// Product points at a missing Category and no ProductDetail at a missing
// Product (and, for a gate that requires rows, the store is not empty).
// Warnings never affect IsValid.
type IntegrityResult struct {
	Counts            model.Counts
	OrphanProducts    int64
	OrphanDetails     int64
	OrphanProductTags int64
	IsValid           bool
	Errors            []string
	Warnings          []string
}

// Integrity counts every kind and its orphans on store. The counts run
// concurrently; they are read-only and nothing else touches the store during
// a validation stage. requireRows makes an empty store invalid, which is what
// the source gate wants.
//
// The returned error is a store fault; findings go into the result.
func Integrity(ctx context.Context, store storage.Inspector, requireRows bool) (IntegrityResult, error) {
	kinds := model.DependencyOrder()
	counts := make([]int64, len(kinds))
	var orphanProducts, orphanDetails, orphanTags int64
	var names []string

	g, gctx := errgroup.WithContext(ctx)
	for i, k := range kinds {
		i, k := i, k
		g.Go(func() error {
			n, err := store.Count(gctx, k)
			counts[i] = n
			return err
		})
	}
	orphans := []struct {
		kind model.Kind
		dst  *int64
	}{
		{model.KindProduct, &orphanProducts},
		{model.KindProductDetail, &orphanDetails},
		{model.KindProductTag, &orphanTags},
	}
	for _, o := range orphans {
		o := o
		g.Go(func() error {
			n, err := store.CountOrphans(gctx, o.kind)
			*o.dst = n
			return err
		})
	}
	g.Go(func() error {
		var err error
		names, err = store.TagNames(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return IntegrityResult{}, err
	}

	res := IntegrityResult{
		Counts:            model.Counts{},
		OrphanProducts:    orphanProducts,
		OrphanDetails:     orphanDetails,
		OrphanProductTags: orphanTags,
	}
	for i, k := range kinds {
		res.Counts[k] = counts[i]
	}

	if orphanProducts > 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("%d Products reference a missing Category", orphanProducts))
	}
	if orphanDetails > 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("%d ProductDetails reference a missing Product", orphanDetails))
	}
	if requireRows && res.Counts.Total() == 0 {
		res.Errors = append(res.Errors, "store has no rows")
	}
	if orphanTags > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d ProductTags reference a missing Product or Tag", orphanTags))
	}
	res.Warnings = append(res.Warnings, tagCollisions(names)...)
	res.IsValid = len(res.Errors) == 0
	return res, nil
}

// FoldKey is the key under which two tag names collide in SQL Server's
// default case-insensitive collation: NFC-normalized, then case-folded.
func FoldKey(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// tagCollisions reports tag names that are distinct byte-wise but equal under
// FoldKey. Such names are unique in PostgreSQL but not in the source.
func tagCollisions(names []string) []string {
	groups := map[string][]string{}
	for _, n := range names {
		k := FoldKey(n)
		groups[k] = append(groups[k], n)
	}
	keys := make([]string, 0, len(groups))
	for k, g := range groups {
		if len(g) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("tag names %q collide case-insensitively", groups[k]))
	}
	return out
}
