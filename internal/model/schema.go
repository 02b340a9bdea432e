package model

import "fmt"

// FieldCategory selects the normalization rule applied to a column.
type FieldCategory int

const (
	FieldInt16 FieldCategory = iota + 1
	FieldInt32
	FieldInt64
	FieldDecimal
	FieldFloat32
	FieldFloat64
	FieldBool
	FieldFixedText
	FieldVarText
	FieldIdentifier
	FieldBinary
	FieldVersionStamp
	FieldTemporalNaive
	FieldTemporalInstant
	FieldDate
	FieldSemiStructured
	FieldHierarchyPath
	FieldGeometryText
)

var fieldCategoryNames = map[FieldCategory]string{
	FieldInt16:           "int16",
	FieldInt32:           "int32",
	FieldInt64:           "int64",
	FieldDecimal:         "decimal",
	FieldFloat32:         "float32",
	FieldFloat64:         "float64",
	FieldBool:            "bool",
	FieldFixedText:       "fixed-text",
	FieldVarText:         "text",
	FieldIdentifier:      "identifier",
	FieldBinary:          "binary",
	FieldVersionStamp:    "version-stamp",
	FieldTemporalNaive:   "temporal-naive",
	FieldTemporalInstant: "temporal-instant",
	FieldDate:            "date",
	FieldSemiStructured:  "json",
	FieldHierarchyPath:   "hierarchy-path",
	FieldGeometryText:    "geometry-wkt",
}

func (c FieldCategory) String() string {
	if s, ok := fieldCategoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("FieldCategory(%d)", int(c))
}

// Column describes one column on both sides of the migration.
type Column struct {
	Source     string // SQL Server column name
	Target     string // PostgreSQL column name
	Category   FieldCategory
	SourceType string
	TargetType string
	Nullable   bool
}

// TableSchema describes one entity kind on both sides.
type TableSchema struct {
	Kind        Kind
	SourceTable string
	TargetTable string
	Columns     []Column
	// KeyColumns are the Target names of the primary key, in ORDER BY order.
	KeyColumns []string
	// Identity is true when the target key is an identity column whose
	// sequence must follow explicitly inserted ids.
	Identity bool
}

// SourceColumns returns the SQL Server column names in record order.
func (t TableSchema) SourceColumns() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Source
	}
	return out
}

// TargetColumns returns the PostgreSQL column names in record order.
func (t TableSchema) TargetColumns() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Target
	}
	return out
}

// Index returns the position of the column with the given target name, or -1.
func (t TableSchema) Index(target string) int {
	for i, c := range t.Columns {
		if c.Target == target {
			return i
		}
	}
	return -1
}

func col(src, dst string, cat FieldCategory, srcType, dstType string, nullable bool) Column {
	return Column{Source: src, Target: dst, Category: cat, SourceType: srcType, TargetType: dstType, Nullable: nullable}
}

var schemas = map[Kind]TableSchema{
	KindCategory: {
		Kind:        KindCategory,
		SourceTable: "dbo.Categories",
		TargetTable: "categories",
		KeyColumns:  []string{"id"},
		Identity:    true,
		Columns: []Column{
			col("Id", "id", FieldInt32, "int", "integer", false),
			col("Name", "name", FieldVarText, "nvarchar(100)", "varchar(100)", false),
			col("Description", "description", FieldVarText, "nvarchar(500)", "varchar(500)", true),
			col("CreatedAt", "created_at", FieldTemporalNaive, "datetime2", "timestamp", false),
			col("IsActive", "is_active", FieldBool, "bit", "boolean", false),
		},
	},
	KindTag: {
		Kind:        KindTag,
		SourceTable: "dbo.Tags",
		TargetTable: "tags",
		KeyColumns:  []string{"id"},
		Identity:    true,
		Columns: []Column{
			col("Id", "id", FieldInt32, "int", "integer", false),
			col("Name", "name", FieldVarText, "nvarchar(50)", "varchar(50)", false),
			col("Description", "description", FieldVarText, "nvarchar(200)", "varchar(200)", true),
			col("CreatedAt", "created_at", FieldTemporalNaive, "datetime2", "timestamp", false),
		},
	},
	KindProduct: {
		Kind:        KindProduct,
		SourceTable: "dbo.Products",
		TargetTable: "products",
		KeyColumns:  []string{"id"},
		Identity:    true,
		Columns: []Column{
			col("Id", "id", FieldInt32, "int", "integer", false),
			col("Name", "name", FieldVarText, "nvarchar(200)", "varchar(200)", false),
			col("Sku", "sku", FieldVarText, "varchar(50)", "varchar(50)", false),
			col("Description", "description", FieldVarText, "nvarchar(max)", "text", true),
			col("Price", "price", FieldDecimal, "decimal(18,2)", "numeric(18,2)", false),
			col("CostPrice", "cost_price", FieldDecimal, "decimal(18,4)", "numeric(18,4)", true),
			col("Weight", "weight", FieldFloat32, "real", "real", false),
			col("Rating", "rating", FieldFloat64, "float", "double precision", true),
			col("StockQuantity", "stock_quantity", FieldInt32, "int", "integer", false),
			col("ReorderLevel", "reorder_level", FieldInt16, "smallint", "smallint", false),
			col("TotalSold", "total_sold", FieldInt64, "bigint", "bigint", false),
			col("MinOrderQuantity", "min_order_quantity", FieldInt16, "tinyint", "smallint", false),
			col("IsAvailable", "is_available", FieldBool, "bit", "boolean", false),
			col("IsFeatured", "is_featured", FieldBool, "bit", "boolean", false),
			col("CreatedAt", "created_at", FieldTemporalNaive, "datetime2", "timestamp", false),
			col("UpdatedAt", "updated_at", FieldTemporalNaive, "datetime2", "timestamp", true),
			col("LastRestockedAt", "last_restocked_at", FieldTemporalInstant, "datetimeoffset", "timestamptz", true),
			col("DiscontinuedOn", "discontinued_on", FieldDate, "date", "date", true),
			col("ProductGuid", "product_guid", FieldIdentifier, "uniqueidentifier", "uuid", false),
			col("Checksum", "checksum", FieldBinary, "binary(16)", "bytea", false),
			col("Image", "image", FieldBinary, "varbinary(max)", "bytea", true),
			col("RowVersion", "source_row_version", FieldVersionStamp, "rowversion", "bytea", false),
			col("Metadata", "metadata", FieldSemiStructured, "nvarchar(max)", "jsonb", true),
			col("ColorCode", "color_code", FieldFixedText, "nchar(7)", "char(7)", true),
			col("CategoryPath", "category_path", FieldHierarchyPath, "hierarchyid", "text (ltree)", true),
			col("WarehouseLocation", "warehouse_location", FieldGeometryText, "geography", "text (WKT)", true),
			col("ShapeOutline", "shape_outline", FieldGeometryText, "geometry", "text (WKT)", true),
			col("CategoryId", "category_id", FieldInt32, "int", "integer", false),
		},
	},
	KindProductDetail: {
		Kind:        KindProductDetail,
		SourceTable: "dbo.ProductDetails",
		TargetTable: "product_details",
		KeyColumns:  []string{"id"},
		Identity:    true,
		Columns: []Column{
			col("Id", "id", FieldInt32, "int", "integer", false),
			col("ProductId", "product_id", FieldInt32, "int", "integer", false),
			col("Specifications", "specifications", FieldVarText, "nvarchar(max)", "text", true),
			col("Features", "features", FieldVarText, "nvarchar(max)", "text", true),
			col("Warranty", "warranty", FieldVarText, "nvarchar(max)", "text", true),
			col("CreatedAt", "created_at", FieldTemporalNaive, "datetime2", "timestamp", false),
			col("UpdatedAt", "updated_at", FieldTemporalNaive, "datetime2", "timestamp", true),
		},
	},
	KindProductTag: {
		Kind:        KindProductTag,
		SourceTable: "dbo.ProductTags",
		TargetTable: "product_tags",
		KeyColumns:  []string{"product_id", "tag_id"},
		Columns: []Column{
			col("ProductId", "product_id", FieldInt32, "int", "integer", false),
			col("TagId", "tag_id", FieldInt32, "int", "integer", false),
			col("AssignedAt", "assigned_at", FieldTemporalNaive, "datetime2", "timestamp", false),
		},
	},
}

// Schema returns the table layout for k. It panics on an unknown kind, which
// is always a programming error.
func Schema(k Kind) TableSchema {
	s, ok := schemas[k]
	if !ok {
		panic(fmt.Sprintf("model: no schema for kind %q", k))
	}
	return s
}

// TypeMapping is one row of the source→target type summary.
type TypeMapping struct {
	SourceType string
	TargetType string
	Category   FieldCategory
}

// TypeMappings returns the distinct source→target type pairs in dependency
// order, first occurrence wins.
func TypeMappings() []TypeMapping {
	seen := map[string]bool{}
	var out []TypeMapping
	for _, k := range dependencyOrder {
		for _, c := range schemas[k].Columns {
			key := c.SourceType + "→" + c.TargetType
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, TypeMapping{SourceType: c.SourceType, TargetType: c.TargetType, Category: c.Category})
		}
	}
	return out
}
