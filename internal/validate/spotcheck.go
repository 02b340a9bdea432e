package validate

import (
	"bytes"
	"context"

	"golang.org/x/sync/errgroup"

	"mssql2pg/internal/model"
	"mssql2pg/internal/storage"
)

// BinaryCheck is one compared binary column of one Product.
type BinaryCheck struct {
	ProductID int32
	Column    string
	Source    string // Digest of the source bytes
	Target    string
	Match     bool
}

// SpotCheckResult holds every compared column and the number of mismatches.
type SpotCheckResult struct {
	Checks     []BinaryCheck
	Mismatches int
}

// BinarySpotCheck compares the checksum and image bytes of the first n
// Products in both stores. A product missing from the target counts as a
// mismatch on both columns.
func BinarySpotCheck(ctx context.Context, source, target storage.Inspector, n int) (SpotCheckResult, error) {
	var src, dst []model.ProductSample
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { src, err = source.ProductSamples(gctx, n); return })
	g.Go(func() (err error) { dst, err = target.ProductSamples(gctx, n); return })
	if err := g.Wait(); err != nil {
		return SpotCheckResult{}, err
	}

	byID := make(map[int32]model.ProductSample, len(dst))
	for _, d := range dst {
		byID[d.ID] = d
	}

	var res SpotCheckResult
	add := func(id int32, col string, s, t []byte, found bool) {
		c := BinaryCheck{ProductID: id, Column: col, Source: Digest(s), Target: "missing"}
		if found {
			c.Target = Digest(t)
			c.Match = (s == nil) == (t == nil) && bytes.Equal(s, t)
		}
		if !c.Match {
			res.Mismatches++
		}
		res.Checks = append(res.Checks, c)
	}
	for _, s := range src {
		d, ok := byID[s.ID]
		add(s.ID, "checksum", s.Checksum, d.Checksum, ok)
		add(s.ID, "image", s.Image, d.Image, ok)
	}
	return res, nil
}
