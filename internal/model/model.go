// Package model defines the fixed catalog entity graph moved by the migrator:
// Category, Tag, Product, ProductDetail and ProductTag.
//
// Entities travel through the pipeline as Records: column-ordered value slices
// whose layout is described by Schema(kind). The typed structs below are the
// convenient way to build and inspect those records; Values() on each struct
// returns a Record in Schema order.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind names one of the five entity kinds.
type Kind string

const (
	KindCategory      Kind = "Category"
	KindTag           Kind = "Tag"
	KindProduct       Kind = "Product"
	KindProductDetail Kind = "ProductDetail"
	KindProductTag    Kind = "ProductTag"
)

// dependencyOrder lists kinds so that every kind comes after the kinds it
// references by foreign key.
var dependencyOrder = []Kind{
	KindCategory,
	KindTag,
	KindProduct,
	KindProductDetail,
	KindProductTag,
}

// DependencyOrder returns the insert order. The slice is a copy.
func DependencyOrder() []Kind {
	return append([]Kind(nil), dependencyOrder...)
}

// ReverseDependencyOrder returns the order used when clearing a store.
func ReverseDependencyOrder() []Kind {
	out := make([]Kind, len(dependencyOrder))
	for i, k := range dependencyOrder {
		out[len(dependencyOrder)-1-i] = k
	}
	return out
}

// Valid reports whether k is one of the five known kinds.
func (k Kind) Valid() bool {
	for _, d := range dependencyOrder {
		if d == k {
			return true
		}
	}
	return false
}

// Record is one row in Schema(kind) column order.
type Record []any

// Counts holds a row count per entity kind.
type Counts map[Kind]int64

// Total sums all per-kind counts.
func (c Counts) Total() int64 {
	var n int64
	for _, v := range c {
		n += v
	}
	return n
}

// Category is the root of the product tree.
type Category struct {
	ID          int32
	Name        string
	Description *string
	CreatedAt   time.Time
	IsActive    bool
}

// Values returns the Category as a Record.
func (c Category) Values() Record {
	return Record{c.ID, c.Name, c.Description, c.CreatedAt, c.IsActive}
}

// Tag is a free-standing label attached to products through ProductTag.
type Tag struct {
	ID          int32
	Name        string
	Description *string
	CreatedAt   time.Time
}

// Values returns the Tag as a Record.
func (t Tag) Values() Record {
	return Record{t.ID, t.Name, t.Description, t.CreatedAt}
}

// Product carries every scalar category the migrator normalizes. Field types
// follow what the source driver surfaces; the three extension-typed fields
// (CategoryPath, WarehouseLocation, ShapeOutline) are already text.
type Product struct {
	ID                int32
	Name              string
	SKU               string
	Description       *string
	Price             decimal.Decimal
	CostPrice         decimal.NullDecimal
	Weight            float32
	Rating            *float64
	StockQuantity     int32
	ReorderLevel      int16
	TotalSold         int64
	MinOrderQuantity  uint8
	IsAvailable       bool
	IsFeatured        bool
	CreatedAt         time.Time
	UpdatedAt         *time.Time
	LastRestockedAt   *time.Time
	DiscontinuedOn    *time.Time
	ProductGUID       uuid.UUID
	Checksum          []byte
	Image             []byte
	RowVersion        []byte
	Metadata          *string
	ColorCode         *string
	CategoryPath      *string
	WarehouseLocation *string
	ShapeOutline      *string
	CategoryID        int32
}

// Values returns the Product as a Record.
func (p Product) Values() Record {
	return Record{
		p.ID, p.Name, p.SKU, p.Description,
		p.Price, p.CostPrice, p.Weight, p.Rating,
		p.StockQuantity, p.ReorderLevel, p.TotalSold, p.MinOrderQuantity,
		p.IsAvailable, p.IsFeatured,
		p.CreatedAt, p.UpdatedAt, p.LastRestockedAt, p.DiscontinuedOn,
		p.ProductGUID, p.Checksum, p.Image, p.RowVersion,
		p.Metadata, p.ColorCode,
		p.CategoryPath, p.WarehouseLocation, p.ShapeOutline,
		p.CategoryID,
	}
}

// ProductDetail holds the long-text side of a Product (at most one each).
type ProductDetail struct {
	ID             int32
	ProductID      int32
	Specifications *string
	Features       *string
	Warranty       *string
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}

// Values returns the ProductDetail as a Record.
func (d ProductDetail) Values() Record {
	return Record{d.ID, d.ProductID, d.Specifications, d.Features, d.Warranty, d.CreatedAt, d.UpdatedAt}
}

// ProductTag is the many-to-many join keyed by (ProductID, TagID).
type ProductTag struct {
	ProductID  int32
	TagID      int32
	AssignedAt time.Time
}

// Values returns the ProductTag as a Record.
func (pt ProductTag) Values() Record {
	return Record{pt.ProductID, pt.TagID, pt.AssignedAt}
}

// ProductSample is the subset of Product fields compared across stores.
type ProductSample struct {
	ID         int32
	Price      decimal.Decimal
	CategoryID int32
	CreatedAt  time.Time
	Checksum   []byte
	Image      []byte
}
