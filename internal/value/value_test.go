package value

import "testing"

func TestEqualNumericCoercion(t *testing.T) {
	if !Equal(Int(1), Float(1.0)) {
		t.Fatal("expected int 1 == float 1.0")
	}
	if !Equal(Uint(7), Int(7)) {
		t.Fatal("expected uint 7 == int 7")
	}
	if Equal(Int(1), Int(2)) {
		t.Fatal("expected int 1 != int 2")
	}
}

func TestPathMissingSegmentIsFalseNotError(t *testing.T) {
	m := NewMap()
	m.Set("user", func() Value {
		inner := NewMap()
		inner.Set("id", String("u1"))
		return inner
	}())

	if _, ok := m.Path([]string{"user", "id"}); !ok {
		t.Fatal("expected user.id to resolve")
	}
	if _, ok := m.Path([]string{"user", "missing"}); ok {
		t.Fatal("expected user.missing to be absent, not error")
	}
	if _, ok := m.Path([]string{"absent", "id"}); ok {
		t.Fatal("expected absent.id to be absent")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	m := NewMap()
	m.Set("name", String("doc-0"))
	m.Set("score", Int(42))
	m.Set("active", Bool(true))
	m.Set("tags", Seq([]Value{String("a"), String("b")}))
	m.Set("nil", Null())
	nested := NewMap()
	nested.Set("x", Float(3.5))
	m.Set("nested", nested)

	b, err := EncodeBytes(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(m, got) {
		t.Fatalf("round-trip mismatch: got %v want %v", got, m)
	}
}

func TestFromAnyToAnyRoundTrip(t *testing.T) {
	in := map[string]any{
		"a": float64(1),
		"b": "s",
		"c": []any{true, nil},
	}
	v := FromAny(in)
	out := ToAny(v).(map[string]any)
	if out["b"] != "s" {
		t.Fatalf("expected b=s, got %v", out["b"])
	}
}
