package persist

import (
	"fmt"

	"github.com/fabstir/vectordb/internal/schema"
	"github.com/fabstir/vectordb/internal/value"
)

// schemaToValue converts a schema.Schema into a value.Value so it can
// ride the same self-describing codec as every other persisted blob,
// rather than inventing a parallel binary format for one optional field.
func schemaToValue(s *schema.Schema) value.Value {
	fields := make([]value.Value, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = fieldToValue(f)
	}
	m := value.NewMap()
	m.Set("fields", value.Seq(fields))
	return m
}

func fieldToValue(f schema.Field) value.Value {
	m := value.NewMap()
	m.Set("name", value.String(f.Name))
	m.Set("type", value.Int(int64(f.Type)))
	m.Set("required", value.Bool(f.Required))
	if f.Elem != nil {
		m.Set("elem", value.Int(int64(*f.Elem)))
	}
	if len(f.Fields) > 0 {
		sub := make([]value.Value, len(f.Fields))
		for i, sf := range f.Fields {
			sub[i] = fieldToValue(sf)
		}
		m.Set("fields", value.Seq(sub))
	}
	return m
}

// valueToSchema reverses schemaToValue.
func valueToSchema(v value.Value) (*schema.Schema, error) {
	fieldsVal, ok := v.Field("fields")
	if !ok {
		return schema.New(), nil
	}
	items, _ := fieldsVal.AsSeq()
	fields := make([]schema.Field, len(items))
	for i, item := range items {
		f, err := valueToField(item)
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}
	return schema.New(fields...), nil
}

func valueToField(v value.Value) (schema.Field, error) {
	var f schema.Field

	nameVal, ok := v.Field("name")
	if !ok {
		return f, fmt.Errorf("persist: schema field missing name")
	}
	f.Name, _ = nameVal.AsString()

	typeVal, ok := v.Field("type")
	if !ok {
		return f, fmt.Errorf("persist: schema field %q missing type", f.Name)
	}
	tInt, _ := typeVal.AsFloat64()
	f.Type = schema.TypeTag(int(tInt))

	if reqVal, ok := v.Field("required"); ok {
		f.Required, _ = reqVal.AsBool()
	}

	if elemVal, ok := v.Field("elem"); ok {
		eInt, _ := elemVal.AsFloat64()
		tag := schema.TypeTag(int(eInt))
		f.Elem = &tag
	}

	if subVal, ok := v.Field("fields"); ok && !subVal.IsNull() {
		items, _ := subVal.AsSeq()
		if len(items) > 0 {
			sub := make([]schema.Field, len(items))
			for i, item := range items {
				sf, err := valueToField(item)
				if err != nil {
					return f, err
				}
				sub[i] = sf
			}
			f.Fields = sub
		}
	}

	return f, nil
}
