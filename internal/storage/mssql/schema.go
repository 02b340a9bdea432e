package mssql

import (
	"context"
	"fmt"
	"strings"

	"mssql2pg/internal/model"
)

var tableConstraints = map[model.Kind][]string{
	model.KindTag: {
		"CONSTRAINT [UQ_Tags_Name] UNIQUE ([Name])",
	},
	model.KindProduct: {
		"CONSTRAINT [UQ_Products_Sku] UNIQUE ([Sku])",
		"CONSTRAINT [FK_Products_Categories] FOREIGN KEY ([CategoryId]) REFERENCES [dbo].[Categories] ([Id]) ON DELETE CASCADE",
	},
	model.KindProductDetail: {
		"CONSTRAINT [UQ_ProductDetails_ProductId] UNIQUE ([ProductId])",
		"CONSTRAINT [FK_ProductDetails_Products] FOREIGN KEY ([ProductId]) REFERENCES [dbo].[Products] ([Id]) ON DELETE CASCADE",
	},
	model.KindProductTag: {
		"CONSTRAINT [FK_ProductTags_Products] FOREIGN KEY ([ProductId]) REFERENCES [dbo].[Products] ([Id]) ON DELETE CASCADE",
		"CONSTRAINT [FK_ProductTags_Tags] FOREIGN KEY ([TagId]) REFERENCES [dbo].[Tags] ([Id]) ON DELETE CASCADE",
	},
}

// BuildCreateTableSQL returns a T-SQL script creating the source table of k
// when it does not exist yet. T-SQL has no CREATE TABLE IF NOT EXISTS, so the
// statement is guarded by OBJECT_ID.
func BuildCreateTableSQL(k model.Kind) string {
	sch := model.Schema(k)
	defs := make([]string, 0, len(sch.Columns)+4)
	for _, c := range sch.Columns {
		var sb strings.Builder
		sb.WriteString(msIdent(c.Source))
		sb.WriteByte(' ')
		sb.WriteString(c.SourceType)
		if sch.Identity && c.Target == "id" {
			sb.WriteString(" IDENTITY(1,1)")
		}
		if c.Nullable {
			sb.WriteString(" NULL")
		} else {
			sb.WriteString(" NOT NULL")
		}
		defs = append(defs, sb.String())
	}
	keys := make([]string, len(sch.KeyColumns))
	for i, kc := range sch.KeyColumns {
		keys[i] = sch.Columns[sch.Index(kc)].Source
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(mapIdent(keys), ", ")))
	defs = append(defs, tableConstraints[k]...)

	fqn := msFQN(sch.SourceTable)
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  CREATE TABLE %s (\n    %s\n  );\nEND",
		fqn, fqn, strings.Join(defs, ",\n    "))
}

// EnsureSchema creates the catalog tables in dependency order.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, k := range model.DependencyOrder() {
		if _, err := s.db.ExecContext(ctx, BuildCreateTableSQL(k)); err != nil {
			return fmt.Errorf("ensure %s: %w", model.Schema(k).SourceTable, err)
		}
	}
	return nil
}
