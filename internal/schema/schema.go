// Package schema implements the optional per-session metadata schema:
// required-field and type-tag validation run before every add and
// updateMetadata call touches the record table (spec §4.2).
package schema

import (
	"fmt"

	dberrors "github.com/fabstir/vectordb/internal/errors"
	"github.com/fabstir/vectordb/internal/value"
)

// TypeTag is a declared field's expected shape. Numeric tags accept any
// of value's numeric subtypes (int/uint/float) interchangeably.
type TypeTag int

const (
	TypeString TypeTag = iota
	TypeNumber
	TypeBool
	TypeArray
	TypeObject
)

// Field declares one schema field.
type Field struct {
	Name     string
	Type     TypeTag
	Required bool

	// Elem is the element type for Type == TypeArray.
	Elem *TypeTag

	// Fields declares the sub-fields checked for Type == TypeObject.
	// Only the listed sub-fields are checked; unlisted nested keys are
	// allowed through, matching the engine-wide "unknown fields allowed"
	// rule.
	Fields []Field
}

// Schema is an ordered set of declared fields.
type Schema struct {
	Fields []Field
}

// New builds a Schema from field declarations.
func New(fields ...Field) *Schema {
	return &Schema{Fields: fields}
}

// Validate checks metadata against s, collecting every violation rather
// than failing on the first. A nil/empty violation list means metadata
// is valid. Unknown (undeclared) fields are always allowed.
func Validate(s *Schema, metadata value.Value) error {
	if s == nil {
		return nil
	}

	var violations []string
	for _, f := range s.Fields {
		validateField(f, metadata, &violations)
	}

	if len(violations) > 0 {
		return dberrors.SchemaValidationError(violations)
	}
	return nil
}

func validateField(f Field, container value.Value, violations *[]string) {
	fieldVal, ok := container.Field(f.Name)
	present := ok && !fieldVal.IsNull()

	if f.Required && !present {
		*violations = append(*violations, fmt.Sprintf("field %q is required", f.Name))
		return
	}
	if !present {
		return
	}

	if !matchesType(f, fieldVal, violations) {
		*violations = append(*violations, fmt.Sprintf("field %q: expected %s, got %s", f.Name, f.Type.String(), kindName(fieldVal.Kind())))
	}
}

// matchesType reports whether fieldVal matches f's declared type,
// recording any nested violations (array element / object sub-field
// mismatches) directly into violations. The top-level mismatch message
// is added by the caller when this returns false.
func matchesType(f Field, fieldVal value.Value, violations *[]string) bool {
	switch f.Type {
	case TypeString:
		_, ok := fieldVal.AsString()
		return ok
	case TypeNumber:
		return fieldVal.IsNumeric()
	case TypeBool:
		_, ok := fieldVal.AsBool()
		return ok
	case TypeArray:
		items, ok := fieldVal.AsSeq()
		if !ok {
			return false
		}
		if f.Elem == nil {
			return true
		}
		elemField := Field{Name: f.Name, Type: *f.Elem}
		for i, item := range items {
			var elemViolations []string
			if !matchesType(elemField, item, &elemViolations) {
				*violations = append(*violations, fmt.Sprintf("field %q[%d]: expected %s, got %s", f.Name, i, f.Elem.String(), kindName(item.Kind())))
			}
		}
		return true
	case TypeObject:
		if fieldVal.Kind() != value.KindMap {
			return false
		}
		for _, sub := range f.Fields {
			validateField(sub, fieldVal, violations)
		}
		return true
	default:
		return false
	}
}

func (t TypeTag) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBool:
		return "bool"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	default:
		return "unknown"
	}
}

func kindName(k value.Kind) string {
	switch k {
	case value.KindNull:
		return "null"
	case value.KindBool:
		return "bool"
	case value.KindInt, value.KindUint, value.KindFloat:
		return "number"
	case value.KindString:
		return "string"
	case value.KindSeq:
		return "array"
	case value.KindMap:
		return "object"
	default:
		return "unknown"
	}
}
