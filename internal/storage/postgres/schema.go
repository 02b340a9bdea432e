package postgres

import (
	"fmt"
	"strings"

	"mssql2pg/internal/model"
)

// tableConstraints are the clauses appended after the column list, keyed by
// kind. Primary keys come from the model schema.
var tableConstraints = map[model.Kind][]string{
	model.KindTag: {
		`CONSTRAINT "uq_tags_name" UNIQUE ("name")`,
	},
	model.KindProduct: {
		`CONSTRAINT "uq_products_sku" UNIQUE ("sku")`,
		`CONSTRAINT "fk_products_category" FOREIGN KEY ("category_id") REFERENCES "categories" ("id") ON DELETE CASCADE`,
	},
	model.KindProductDetail: {
		`CONSTRAINT "uq_product_details_product" UNIQUE ("product_id")`,
		`CONSTRAINT "fk_product_details_product" FOREIGN KEY ("product_id") REFERENCES "products" ("id") ON DELETE CASCADE`,
	},
	model.KindProductTag: {
		`CONSTRAINT "fk_product_tags_product" FOREIGN KEY ("product_id") REFERENCES "products" ("id") ON DELETE CASCADE`,
		`CONSTRAINT "fk_product_tags_tag" FOREIGN KEY ("tag_id") REFERENCES "tags" ("id") ON DELETE CASCADE`,
	},
}

var tableIndexes = map[model.Kind][]string{
	model.KindProduct: {
		`CREATE INDEX IF NOT EXISTS "ix_products_category_id" ON "products" ("category_id")`,
		`CREATE INDEX IF NOT EXISTS "ix_products_product_guid" ON "products" ("product_guid")`,
	},
	model.KindProductTag: {
		`CREATE INDEX IF NOT EXISTS "ix_product_tags_tag_id" ON "product_tags" ("tag_id")`,
	},
}

// columnType strips the annotation some target types carry in the model,
// e.g. "text (ltree)" becomes "text".
func columnType(c model.Column) string {
	t := c.TargetType
	if i := strings.Index(t, " ("); i >= 0 {
		t = t[:i]
	}
	return t
}

// BuildCreateTableSQL renders CREATE TABLE IF NOT EXISTS for k. Identity
// kinds get an "id" column GENERATED BY DEFAULT AS IDENTITY so explicit
// source ids can be inserted.
func BuildCreateTableSQL(k model.Kind) string {
	sch := model.Schema(k)
	defs := make([]string, 0, len(sch.Columns)+4)
	for _, c := range sch.Columns {
		var sb strings.Builder
		sb.WriteString(pgIdent(c.Target))
		sb.WriteByte(' ')
		sb.WriteString(columnType(c))
		if sch.Identity && c.Target == "id" {
			sb.WriteString(" GENERATED BY DEFAULT AS IDENTITY")
		}
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		defs = append(defs, sb.String())
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(mapIdent(sch.KeyColumns), ", ")))
	defs = append(defs, tableConstraints[k]...)

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		pgIdent(sch.TargetTable), strings.Join(defs, ",\n  "))
}

// schemaStatements returns every DDL statement in dependency order.
func schemaStatements() []string {
	var out []string
	for _, k := range model.DependencyOrder() {
		out = append(out, BuildCreateTableSQL(k))
		out = append(out, tableIndexes[k]...)
	}
	return out
}
