package migrate

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mssql2pg/internal/model"
	"mssql2pg/internal/seed"
	"mssql2pg/internal/storage/memstore"
	"mssql2pg/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Initialize(logger.Config{Level: "error", Output: io.Discard})
	os.Exit(m.Run())
}

func catalog() seed.Catalog {
	return seed.Generate(seed.Options{Products: 30, Categories: 4, Tags: 6, Seed: 7})
}

func sourceOf(cat seed.Catalog) *memstore.Store {
	s := memstore.New()
	for k, recs := range cat.Records() {
		s.Seed(k, recs...)
	}
	return s
}

// ids returns the first column of every row of k.
func ids(s *memstore.Store, k model.Kind) []any {
	var out []any
	for _, r := range s.Rows(k) {
		out = append(out, r[0])
	}
	return out
}

func TestPipeline_MigratesCatalog(t *testing.T) {
	t.Parallel()

	cat := catalog()
	dst := memstore.New()
	res := NewPipeline(sourceOf(cat), dst, Options{BatchSize: 7, JoinBatchSize: 5}).Run(context.Background())

	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.Error)
	assert.Equal(t, cat.Counts(), res.Counts)
	assert.Equal(t, 5, res.Batches[model.KindProduct])
	assert.Equal(t, 1, res.Batches[model.KindCategory])
	assert.Equal(t, (len(cat.ProductTags)+4)/5, res.Batches[model.KindProductTag])
	for _, k := range model.DependencyOrder() {
		assert.Contains(t, res.Durations, k)
	}
	assert.Positive(t, res.Total)

	// Identity continues after the highest copied id.
	assert.EqualValues(t, len(cat.Products)+1, dst.Identity(model.KindProduct))
	assert.Zero(t, dst.Identity(model.KindProductTag))

	for _, k := range []model.Kind{model.KindProduct, model.KindProductDetail, model.KindProductTag} {
		n, err := dst.CountOrphans(context.Background(), k)
		require.NoError(t, err)
		assert.Zero(t, n, k)
	}
}

func TestPipeline_IdempotentRerun(t *testing.T) {
	t.Parallel()

	cat := catalog()
	src, dst := sourceOf(cat), memstore.New()
	p := NewPipeline(src, dst, Options{BatchSize: 8})

	first := p.Run(context.Background())
	require.True(t, first.Success, first.Error)
	before := map[model.Kind][]any{}
	for _, k := range model.DependencyOrder() {
		before[k] = ids(dst, k)
	}

	second := p.Run(context.Background())
	require.True(t, second.Success, second.Error)
	assert.Equal(t, first.Counts, second.Counts)
	for _, k := range model.DependencyOrder() {
		assert.Equal(t, before[k], ids(dst, k), k)
	}
}

func TestPipeline_ProductsNeedCategories(t *testing.T) {
	t.Parallel()

	cat := catalog()
	dst := memstore.New()
	_, err := dst.WriteBatch(context.Background(), model.KindProduct, []model.Record{cat.Products[0].Values()})
	assert.ErrorIs(t, err, memstore.ErrConstraint)
}

func TestPipeline_StopsAtFirstFailedKind(t *testing.T) {
	t.Parallel()

	cat := catalog()
	dst := memstore.New()
	dst.FailWrite(model.KindTag, errors.New("connection reset"))

	res := NewPipeline(sourceOf(cat), dst, Options{BatchSize: 10}).Run(context.Background())
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "connection reset")
	assert.True(t, IsKind(res.Err, StoreFailure))

	var me *Error
	require.ErrorAs(t, res.Err, &me)
	assert.Equal(t, model.KindTag, me.Entity)

	assert.EqualValues(t, len(cat.Categories), res.Counts[model.KindCategory])
	assert.Zero(t, res.Counts[model.KindTag])
	assert.NotContains(t, res.Counts, model.KindProduct)
	assert.Empty(t, dst.Rows(model.KindProduct))
}

func TestPipeline_UnsupportedConversion(t *testing.T) {
	t.Parallel()

	cat := catalog()
	bad := `{"broken":`
	cat.Products[3].Metadata = &bad

	res := NewPipeline(sourceOf(cat), memstore.New(), Options{BatchSize: 10}).Run(context.Background())
	require.False(t, res.Success)
	assert.True(t, IsKind(res.Err, UnsupportedConversion), res.Error)
	assert.Contains(t, res.Error, "page at offset 0")
	assert.Contains(t, res.Error, "row 3")
	assert.Zero(t, res.Counts[model.KindProduct])
}

func TestPipeline_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := NewPipeline(sourceOf(catalog()), memstore.New(), Options{}).Run(ctx)
	require.False(t, res.Success)
	assert.True(t, IsKind(res.Err, StoreFailure))
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestPipeline_ByteExactBinary(t *testing.T) {
	t.Parallel()

	cat := seed.Generate(seed.Options{Products: 1, Categories: 1, Tags: 1, Seed: 3})
	checksum := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 0xff}
	image := make([]byte, 37)
	for i := range image {
		image[i] = byte(i * 7)
	}
	cat.Products[0].Checksum = checksum
	cat.Products[0].Image = image

	dst := memstore.New()
	res := NewPipeline(sourceOf(cat), dst, Options{}).Run(context.Background())
	require.True(t, res.Success, res.Error)

	sch := model.Schema(model.KindProduct)
	row := dst.Rows(model.KindProduct)[0]
	assert.Equal(t, checksum, row[sch.Index("checksum")])
	assert.Equal(t, image, row[sch.Index("image")])
	assert.Len(t, row[sch.Index("image")], 37)
	assert.Equal(t, cat.Products[0].RowVersion, row[sch.Index("source_row_version")])
}

func TestPipeline_TemporalNormalization(t *testing.T) {
	t.Parallel()

	cat := seed.Generate(seed.Options{Products: 1, Categories: 1, Tags: 1, Seed: 3})
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("", 5*3600))
	restocked := time.Date(2024, 5, 6, 12, 0, 0, 0, time.FixedZone("", 5*3600))
	cat.Products[0].CreatedAt = created
	cat.Products[0].LastRestockedAt = &restocked

	dst := memstore.New()
	res := NewPipeline(sourceOf(cat), dst, Options{}).Run(context.Background())
	require.True(t, res.Success, res.Error)

	sch := model.Schema(model.KindProduct)
	row := dst.Rows(model.KindProduct)[0]
	naive := row[sch.Index("created_at")].(time.Time)
	assert.Equal(t, time.UTC, naive.Location())
	assert.Equal(t, 7, naive.Hour())
	instant := row[sch.Index("last_restocked_at")].(time.Time)
	assert.True(t, instant.Equal(restocked))
	assert.Equal(t, 7, instant.Hour())
}
