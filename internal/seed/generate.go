// Package seed builds a deterministic pseudo-random catalog and writes it to
// the source database. The same generator feeds the in-memory store in tests.
package seed

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeebo/xxh3"

	"mssql2pg/internal/model"
)

// Options controls catalog size and randomness.
type Options struct {
	Products   int
	Categories int
	Tags       int
	Seed       uint64
	// Now anchors every generated timestamp.
	Now time.Time
}

func (o Options) withDefaults() Options {
	if o.Categories <= 0 {
		o.Categories = 20
	}
	if o.Tags <= 0 {
		o.Tags = 50
	}
	if o.Now.IsZero() {
		o.Now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	}
	return o
}

// Catalog is a full entity graph in dependency order.
type Catalog struct {
	Categories  []model.Category
	Tags        []model.Tag
	Products    []model.Product
	Details     []model.ProductDetail
	ProductTags []model.ProductTag
}

// Records returns the catalog as records keyed by kind.
func (c Catalog) Records() map[model.Kind][]model.Record {
	out := map[model.Kind][]model.Record{}
	for _, v := range c.Categories {
		out[model.KindCategory] = append(out[model.KindCategory], v.Values())
	}
	for _, v := range c.Tags {
		out[model.KindTag] = append(out[model.KindTag], v.Values())
	}
	for _, v := range c.Products {
		out[model.KindProduct] = append(out[model.KindProduct], v.Values())
	}
	for _, v := range c.Details {
		out[model.KindProductDetail] = append(out[model.KindProductDetail], v.Values())
	}
	for _, v := range c.ProductTags {
		out[model.KindProductTag] = append(out[model.KindProductTag], v.Values())
	}
	return out
}

// Counts returns the number of entities per kind.
func (c Catalog) Counts() model.Counts {
	return model.Counts{
		model.KindCategory:      int64(len(c.Categories)),
		model.KindTag:           int64(len(c.Tags)),
		model.KindProduct:       int64(len(c.Products)),
		model.KindProductDetail: int64(len(c.Details)),
		model.KindProductTag:    int64(len(c.ProductTags)),
	}
}

var tagWords = []string{
	"eco", "premium", "sale", "new", "limited", "bestseller", "handmade",
	"imported", "organic", "refurbished", "bundle", "gift", "outdoor", "kids",
}

// Generate builds a catalog. Equal options always yield an equal catalog.
func Generate(opts Options) Catalog {
	opts = opts.withDefaults()
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:], opts.Seed)
	src := rand.NewChaCha8(key)
	rng := rand.New(src)
	g := gen{rng: rng, src: src, now: opts.Now}

	var c Catalog
	for i := 1; i <= opts.Categories; i++ {
		c.Categories = append(c.Categories, model.Category{
			ID:          int32(i),
			Name:        fmt.Sprintf("Category %02d", i),
			Description: g.maybe(0.7, fmt.Sprintf("Products of group %d", i)),
			CreatedAt:   g.past(900),
			IsActive:    rng.IntN(10) > 0,
		})
	}
	for i := 1; i <= opts.Tags; i++ {
		c.Tags = append(c.Tags, model.Tag{
			ID:          int32(i),
			Name:        fmt.Sprintf("%s-%03d", tagWords[(i-1)%len(tagWords)], i),
			Description: g.maybe(0.5, "tag "+tagWords[(i-1)%len(tagWords)]),
			CreatedAt:   g.past(900),
		})
	}

	detailID := int32(0)
	for i := 1; i <= opts.Products; i++ {
		p := g.product(int32(i), int32(1+rng.IntN(opts.Categories)))
		c.Products = append(c.Products, p)

		if rng.Float64() < 0.8 {
			detailID++
			c.Details = append(c.Details, model.ProductDetail{
				ID:             detailID,
				ProductID:      p.ID,
				Specifications: g.maybe(0.9, fmt.Sprintf("Spec sheet for %s: %d components", p.SKU, 1+rng.IntN(40))),
				Features:       g.maybe(0.7, "durable; lightweight; easy to clean"),
				Warranty:       g.maybe(0.6, fmt.Sprintf("%d months", 6*(1+rng.IntN(8)))),
				CreatedAt:      p.CreatedAt,
				UpdatedAt:      g.maybeTime(0.3, p.CreatedAt.Add(48*time.Hour)),
			})
		}

		for _, tagID := range g.pick(opts.Tags, rng.IntN(5)) {
			c.ProductTags = append(c.ProductTags, model.ProductTag{
				ProductID:  p.ID,
				TagID:      int32(tagID),
				AssignedAt: p.CreatedAt.Add(time.Duration(rng.IntN(3600)) * time.Second),
			})
		}
	}
	return c
}

type gen struct {
	rng     *rand.Rand
	src     *rand.ChaCha8
	now     time.Time
	version uint64
}

func (g *gen) product(id, categoryID int32) model.Product {
	sku := fmt.Sprintf("SKU-%06d", id)
	sum := xxh3.HashString128(sku).Bytes()
	created := g.past(720)

	guid, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		// ChaCha8 reads never fail.
		panic(err)
	}

	g.version++
	rv := make([]byte, 8)
	binary.BigEndian.PutUint64(rv, 2000+g.version)

	p := model.Product{
		ID:               id,
		Name:             fmt.Sprintf("Product %05d", id),
		SKU:              sku,
		Description:      g.maybe(0.8, fmt.Sprintf("Description of product %d.", id)),
		Price:            decimal.New(99+g.rng.Int64N(500000), -2),
		Weight:           float32(g.rng.IntN(100000)) / 100,
		StockQuantity:    int32(g.rng.IntN(10000)),
		ReorderLevel:     int16(g.rng.IntN(500)),
		TotalSold:        g.rng.Int64N(1 << 36),
		MinOrderQuantity: uint8(1 + g.rng.IntN(255)),
		IsAvailable:      g.rng.IntN(10) > 1,
		IsFeatured:       g.rng.IntN(10) == 0,
		CreatedAt:        created,
		UpdatedAt:        g.maybeTime(0.5, created.Add(time.Duration(g.rng.IntN(30*24))*time.Hour)),
		ProductGUID:      guid,
		Checksum:         sum[:],
		RowVersion:       rv,
		CategoryID:       categoryID,
	}
	if g.rng.Float64() < 0.7 {
		p.CostPrice = decimal.NewNullDecimal(decimal.New(g.rng.Int64N(4000000), -4))
	}
	if g.rng.Float64() < 0.8 {
		r := float64(10+g.rng.IntN(41)) / 10
		p.Rating = &r
	}
	if g.rng.Float64() < 0.6 {
		// datetimeoffset values carry a non-UTC offset on purpose.
		t := created.Add(time.Duration(g.rng.IntN(1000)) * time.Hour).In(time.FixedZone("", 2*3600))
		p.LastRestockedAt = &t
	}
	if g.rng.Float64() < 0.1 {
		d := time.Date(created.Year()+1, created.Month(), 1, 0, 0, 0, 0, time.UTC)
		p.DiscontinuedOn = &d
	}
	switch x := g.rng.Float64(); {
	case x < 0.05:
		p.Image = []byte{}
	case x < 0.35:
		p.Image = make([]byte, 32+g.rng.IntN(2016))
		_, _ = g.src.Read(p.Image)
	}
	p.Metadata = g.maybe(0.5, fmt.Sprintf(`{"origin":"%s","batch":%d}`, []string{"CZ", "DE", "PL", "AT"}[g.rng.IntN(4)], g.rng.IntN(100)))
	p.ColorCode = g.maybe(0.7, fmt.Sprintf("#%06X", g.rng.IntN(0x1000000)))
	p.CategoryPath = g.maybe(0.8, fmt.Sprintf("/%d/%d/", categoryID, 1+g.rng.IntN(9)))
	p.WarehouseLocation = g.maybe(0.5, fmt.Sprintf("POINT (%.4f %.4f)", 12+g.rng.Float64()*6, 48.5+g.rng.Float64()*2.5))
	p.ShapeOutline = g.maybe(0.2, "POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0))")
	return p
}

// past returns a millisecond-precision timestamp up to days before now.
func (g *gen) past(days int) time.Time {
	back := time.Duration(g.rng.Int64N(int64(days) * int64(24*time.Hour)))
	return g.now.Add(-back).Truncate(time.Millisecond)
}

func (g *gen) maybe(p float64, s string) *string {
	if g.rng.Float64() >= p {
		return nil
	}
	return &s
}

func (g *gen) maybeTime(p float64, t time.Time) *time.Time {
	if g.rng.Float64() >= p {
		return nil
	}
	return &t
}

// pick returns n distinct ids from 1..max.
func (g *gen) pick(max, n int) []int {
	if n > max {
		n = max
	}
	seen := map[int]bool{}
	out := make([]int, 0, n)
	for len(out) < n {
		id := 1 + g.rng.IntN(max)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
