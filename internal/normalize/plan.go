package normalize

import (
	"fmt"

	"mssql2pg/internal/model"
)

// Plan is a per-column conversion plan for one entity kind, compiled once and
// applied to every record of that kind.
type Plan struct {
	kind model.Kind
	cols []model.Column
}

// Compile builds the plan for k from its schema.
func Compile(k model.Kind) Plan {
	return Plan{kind: k, cols: model.Schema(k).Columns}
}

// Apply converts one source record into a new target record. The input is not
// modified. Errors name the offending column and wrap ErrUnsupportedConversion.
func (p Plan) Apply(in model.Record) (model.Record, error) {
	if len(in) != len(p.cols) {
		return nil, fmt.Errorf("%s: record has %d values, want %d", p.kind, len(in), len(p.cols))
	}
	out := make(model.Record, len(in))
	for i, c := range p.cols {
		v, err := Value(c.Category, in[i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", p.kind, c.Source, err)
		}
		if v == nil && !c.Nullable {
			return nil, fmt.Errorf("%s.%s: %w: null in non-null column", p.kind, c.Source, ErrUnsupportedConversion)
		}
		out[i] = v
	}
	return out, nil
}

// ApplyAll converts a page of records. It stops at the first failure.
func (p Plan) ApplyAll(in []model.Record) ([]model.Record, error) {
	out := make([]model.Record, 0, len(in))
	for i, r := range in {
		n, err := p.Apply(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}
