package validate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mssql2pg/internal/model"
	"mssql2pg/internal/normalize"
	"mssql2pg/internal/seed"
	"mssql2pg/internal/storage/memstore"
)

// sourceOf returns a store holding cat in source representation.
func sourceOf(cat seed.Catalog) *memstore.Store {
	s := memstore.New()
	for k, recs := range cat.Records() {
		s.Seed(k, recs...)
	}
	return s
}

// targetOf returns a store holding cat normalized for the target.
func targetOf(t *testing.T, cat seed.Catalog) *memstore.Store {
	t.Helper()
	s := memstore.New()
	for k, recs := range cat.Records() {
		out, err := normalize.Compile(k).ApplyAll(recs)
		require.NoError(t, err)
		s.Seed(k, out...)
	}
	return s
}

func smallCatalog() seed.Catalog {
	return seed.Generate(seed.Options{Products: 30, Categories: 4, Tags: 6, Seed: 42})
}

func TestIntegrity_CleanStore(t *testing.T) {
	t.Parallel()

	cat := smallCatalog()
	res, err := Integrity(context.Background(), sourceOf(cat), true)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, cat.Counts(), res.Counts)
}

func TestIntegrity_Findings(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		build       func(s *memstore.Store)
		requireRows bool
		valid       bool
		errs        []string
		warns       []string
	}{
		{
			name:        "empty_source_gate",
			build:       func(*memstore.Store) {},
			requireRows: true,
			valid:       false,
			errs:        []string{"store has no rows"},
		},
		{
			name:  "empty_target_is_fine",
			build: func(*memstore.Store) {},
			valid: true,
		},
		{
			name: "orphan_product",
			build: func(s *memstore.Store) {
				p := smallCatalog().Products[0]
				p.CategoryID = 99
				s.Seed(model.KindProduct, p.Values())
			},
			valid: false,
			errs:  []string{"1 Products reference a missing Category"},
		},
		{
			name: "orphan_detail",
			build: func(s *memstore.Store) {
				s.Seed(model.KindProductDetail, model.ProductDetail{ID: 1, ProductID: 7, CreatedAt: now}.Values())
			},
			valid: false,
			errs:  []string{"1 ProductDetails reference a missing Product"},
		},
		{
			name: "orphan_product_tag_is_a_warning",
			build: func(s *memstore.Store) {
				s.Seed(model.KindProductTag, model.ProductTag{ProductID: 1, TagID: 1, AssignedAt: now}.Values())
			},
			valid: true,
			warns: []string{"1 ProductTags reference a missing Product or Tag"},
		},
		{
			name: "tag_collision_is_a_warning",
			build: func(s *memstore.Store) {
				s.Seed(model.KindTag,
					model.Tag{ID: 1, Name: "Eco", CreatedAt: now}.Values(),
					model.Tag{ID: 2, Name: "ECO", CreatedAt: now}.Values(),
					model.Tag{ID: 3, Name: "sale", CreatedAt: now}.Values(),
				)
			},
			valid: true,
			warns: []string{`tag names ["Eco" "ECO"] collide case-insensitively`},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := memstore.New()
			tt.build(s)
			res, err := Integrity(context.Background(), s, tt.requireRows)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.IsValid)
			assert.Equal(t, tt.errs, res.Errors)
			assert.Equal(t, tt.warns, res.Warnings)
		})
	}
}

func TestIntegrity_StoreFault(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Integrity(ctx, memstore.New(), true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFoldKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		same bool
	}{
		{"eco", "ECO", true},
		{"Straße", "STRASSE", true},
		{"caf\u00e9", "cafe\u0301", true},
		{"eco", "eco-1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.same, FoldKey(tt.a) == FoldKey(tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestCompare_Consistent(t *testing.T) {
	t.Parallel()

	cat := smallCatalog()
	res, err := Checker{SampleSize: DefaultSampleSize}.Compare(context.Background(), sourceOf(cat), targetOf(t, cat))
	require.NoError(t, err)
	assert.True(t, res.IsConsistent, "%v", res.Errors)
	assert.Equal(t, len(cat.Products), res.Sampled)
	assert.Equal(t, res.SourceCounts, res.TargetCounts)
}

func TestCompare_CollectsEveryMismatch(t *testing.T) {
	t.Parallel()

	cat := smallCatalog()
	src := sourceOf(cat)

	broken := cat
	broken.Products = append([]model.Product(nil), cat.Products...)
	broken.Products[0].Price = broken.Products[0].Price.Add(broken.Products[0].Price)
	broken.Products[1].CategoryID = broken.Products[1].CategoryID%4 + 1
	broken.Products[2].Checksum = []byte{1, 2, 3}
	broken.Products[3].CreatedAt = broken.Products[3].CreatedAt.Add(time.Second)
	broken.Tags = broken.Tags[:len(broken.Tags)-1]
	broken.ProductTags = nil
	dst := targetOf(t, broken)

	res, err := Checker{SampleSize: 5}.Compare(context.Background(), src, dst)
	require.NoError(t, err)
	assert.False(t, res.IsConsistent)
	assert.Equal(t, 5, res.Sampled)

	want := []string{"Tag count mismatch", "price mismatch", "category mismatch", "checksum mismatch", "created_at mismatch"}
	if len(cat.ProductTags) > 0 {
		want = append(want, "ProductTag count mismatch")
	}
	for _, w := range want {
		found := false
		for _, e := range res.Errors {
			if strings.Contains(e, w) {
				found = true
			}
		}
		assert.True(t, found, "missing %q in %v", w, res.Errors)
	}
}

func TestCompare_MissingTargetRow(t *testing.T) {
	t.Parallel()

	cat := smallCatalog()
	trimmed := cat
	trimmed.Products = cat.Products[1:]
	trimmed.Details = nil
	trimmed.ProductTags = nil

	res, err := Checker{SampleSize: 2}.Compare(context.Background(), sourceOf(cat), targetOf(t, trimmed))
	require.NoError(t, err)
	assert.Contains(t, res.Errors, "Product 1 missing in target")
}

func TestCompare_SamplingDisabled(t *testing.T) {
	t.Parallel()
	cat := smallCatalog()
	res, err := Checker{}.Compare(context.Background(), sourceOf(cat), targetOf(t, cat))
	require.NoError(t, err)
	assert.Zero(t, res.Sampled)
	assert.True(t, res.IsConsistent)
}

func TestCompare_StoreFault(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Checker{SampleSize: 1}.Compare(ctx, memstore.New(), memstore.New())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDigest(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "null", Digest(nil))
	assert.NotEqual(t, Digest(nil), Digest([]byte{}))
	assert.Equal(t, Digest([]byte{1, 2}), Digest([]byte{1, 2}))
	assert.NotEqual(t, Digest([]byte{1, 2}), Digest([]byte{2, 1}))
}

func TestBinarySpotCheck(t *testing.T) {
	t.Parallel()

	cat := smallCatalog()
	res, err := BinarySpotCheck(context.Background(), sourceOf(cat), targetOf(t, cat), 10)
	require.NoError(t, err)
	assert.Len(t, res.Checks, 20)
	assert.Zero(t, res.Mismatches)

	broken := cat
	broken.Products = append([]model.Product(nil), cat.Products...)
	broken.Products[0].Image = []byte{0xff}
	broken.Products = broken.Products[:5]
	broken.Details = nil
	broken.ProductTags = nil

	res, err = BinarySpotCheck(context.Background(), sourceOf(cat), targetOf(t, broken), 10)
	require.NoError(t, err)
	// Product 1 image differs; products 6..10 are missing on both columns.
	assert.Equal(t, 1+5*2, res.Mismatches)
	assert.Equal(t, "missing", res.Checks[len(res.Checks)-1].Target)
}
