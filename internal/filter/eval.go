package filter

import "github.com/fabstir/vectordb/internal/value"

// Evaluate reports whether metadata satisfies the compiled filter AST.
// It is a single-pass walk with no allocation beyond what the And/Or
// recursion itself requires; it never returns an error — every absent
// path or type mismatch simply evaluates false.
func Evaluate(node *Node, metadata value.Value) bool {
	if node == nil {
		return true
	}

	switch node.Kind {
	case NodeAlways:
		return true
	case NodeAnd:
		for _, child := range node.Children {
			if !Evaluate(child, metadata) {
				return false
			}
		}
		return true
	case NodeOr:
		for _, child := range node.Children {
			if Evaluate(child, metadata) {
				return true
			}
		}
		return false
	case NodeCond:
		return evalCond(node.Cond, metadata)
	default:
		return false
	}
}

func evalCond(c *Cond, metadata value.Value) bool {
	fieldVal, ok := metadata.Path(c.Path)
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return evalEq(fieldVal, c.Operand)
	case OpIn:
		return evalIn(fieldVal, c.InSet)
	case OpGt, OpGte, OpLt, OpLte:
		return evalRange(c.Op, fieldVal, c.Operand)
	default:
		return false
	}
}

// evalEq implements bare-scalar and {"$eq": v} equality. When the field
// holds a sequence and the comparand is a scalar, equality degrades to
// "contains" per spec §4.1; a sequence comparand against a sequence
// field still compares the whole sequence.
func evalEq(fieldVal, operand value.Value) bool {
	if fieldVal.Kind() == value.KindSeq && operand.Kind() != value.KindSeq {
		items, _ := fieldVal.AsSeq()
		for _, item := range items {
			if value.Equal(item, operand) {
				return true
			}
		}
		return false
	}
	return value.Equal(fieldVal, operand)
}

func evalIn(fieldVal value.Value, set []value.Value) bool {
	if fieldVal.Kind() == value.KindSeq {
		items, _ := fieldVal.AsSeq()
		for _, item := range items {
			for _, candidate := range set {
				if value.Equal(item, candidate) {
					return true
				}
			}
		}
		return false
	}
	for _, candidate := range set {
		if value.Equal(fieldVal, candidate) {
			return true
		}
	}
	return false
}

// evalRange implements $gt/$gte/$lt/$lte. Range operators against a
// sequence field, or against any non-numeric comparison, evaluate false
// per spec §4.1 rather than erroring.
func evalRange(op Op, fieldVal, operand value.Value) bool {
	if fieldVal.Kind() == value.KindSeq {
		return false
	}

	fv, ok1 := fieldVal.AsFloat64()
	ov, ok2 := operand.AsFloat64()
	if !ok1 || !ok2 {
		return false
	}

	switch op {
	case OpGt:
		return fv > ov
	case OpGte:
		return fv >= ov
	case OpLt:
		return fv < ov
	case OpLte:
		return fv <= ov
	default:
		return false
	}
}
