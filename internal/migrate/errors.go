package migrate

import (
	"errors"
	"fmt"

	"mssql2pg/internal/model"
	"mssql2pg/internal/normalize"
)

// ErrorKind classifies a run-ending failure.
type ErrorKind string

const (
	// SourceValidationFailure: the source has orphans or no rows; nothing was migrated.
	SourceValidationFailure ErrorKind = "SourceValidationFailure"
	// StoreFailure: a read, write or connection fault against either store.
	StoreFailure ErrorKind = "StoreFailure"
	// UnsupportedConversion: a value has no target representation.
	UnsupportedConversion ErrorKind = "UnsupportedConversion"
)

// Error is a classified failure. Entity is empty for faults outside a kind.
type Error struct {
	Kind   ErrorKind
	Entity model.Kind
	Err    error
}

func (e *Error) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Entity, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify wraps err for entity, picking UnsupportedConversion when the
// normalizer rejected a value and StoreFailure otherwise. An already
// classified error is returned unchanged.
func classify(entity model.Kind, err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	kind := StoreFailure
	if errors.Is(err, normalize.ErrUnsupportedConversion) {
		kind = UnsupportedConversion
	}
	return &Error{Kind: kind, Entity: entity, Err: err}
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == kind
}
