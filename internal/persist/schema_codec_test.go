package persist

import (
	"testing"

	"github.com/fabstir/vectordb/internal/schema"
)

func TestSchemaValueRoundTrip(t *testing.T) {
	arrayElem := schema.TypeNumber
	s := schema.New(
		schema.Field{Name: "title", Type: schema.TypeString, Required: true},
		schema.Field{Name: "scores", Type: schema.TypeArray, Elem: &arrayElem},
		schema.Field{
			Name: "author",
			Type: schema.TypeObject,
			Fields: []schema.Field{
				{Name: "name", Type: schema.TypeString, Required: true},
				{Name: "verified", Type: schema.TypeBool},
			},
		},
	)

	v := schemaToValue(s)
	got, err := valueToSchema(v)
	if err != nil {
		t.Fatalf("valueToSchema: %v", err)
	}

	if len(got.Fields) != len(s.Fields) {
		t.Fatalf("field count = %d, want %d", len(got.Fields), len(s.Fields))
	}

	title := got.Fields[0]
	if title.Name != "title" || title.Type != schema.TypeString || !title.Required {
		t.Fatalf("title field mismatch: %+v", title)
	}

	scores := got.Fields[1]
	if scores.Name != "scores" || scores.Type != schema.TypeArray {
		t.Fatalf("scores field mismatch: %+v", scores)
	}
	if scores.Elem == nil || *scores.Elem != schema.TypeNumber {
		t.Fatalf("scores elem mismatch: %+v", scores.Elem)
	}

	author := got.Fields[2]
	if author.Name != "author" || author.Type != schema.TypeObject {
		t.Fatalf("author field mismatch: %+v", author)
	}
	if len(author.Fields) != 2 {
		t.Fatalf("author sub-fields = %d, want 2", len(author.Fields))
	}
	if author.Fields[0].Name != "name" || !author.Fields[0].Required {
		t.Fatalf("author.name mismatch: %+v", author.Fields[0])
	}
	if author.Fields[1].Name != "verified" || author.Fields[1].Type != schema.TypeBool {
		t.Fatalf("author.verified mismatch: %+v", author.Fields[1])
	}
}

func TestEmptySchemaRoundTrip(t *testing.T) {
	s := schema.New()
	v := schemaToValue(s)
	got, err := valueToSchema(v)
	if err != nil {
		t.Fatalf("valueToSchema: %v", err)
	}
	if len(got.Fields) != 0 {
		t.Fatalf("expected zero fields, got %d", len(got.Fields))
	}
}
