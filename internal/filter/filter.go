// Package filter implements the MongoDB-subset metadata filter document
// used by the search pipeline: parsing a filter document into an AST and
// evaluating that AST against a record's metadata.
package filter

import (
	"fmt"
	"strings"

	dberrors "github.com/fabstir/vectordb/internal/errors"
	"github.com/fabstir/vectordb/internal/value"
)

// Op is a comparison operator usable on a field path.
type Op int

const (
	OpEq Op = iota
	OpIn
	OpGt
	OpGte
	OpLt
	OpLte
)

// Cond is a single field predicate: field path `Path` compared against
// `Operand` via `Op`. A bare equality (`{"field": v}`) and a `$in` both
// carry their comparand(s) pre-resolved into Value form.
type Cond struct {
	Path    []string
	Op      Op
	Operand value.Value // used by Eq, Gt, Gte, Lt, Lte
	InSet   []value.Value // used by In
}

// NodeKind distinguishes AST node shapes.
type NodeKind int

const (
	NodeAnd NodeKind = iota
	NodeOr
	NodeCond
	NodeAlways // empty filter document: matches everything
)

// Node is one node of the filter AST. Combinator nodes (And/Or) hold
// Children; leaf nodes hold a single Cond.
type Node struct {
	Kind     NodeKind
	Children []*Node
	Cond     *Cond
}

// Parse compiles a filter document (already decoded to a value.Value,
// typically via value.FromAny on a map[string]any) into an AST. It
// returns a FilterParse VectorDBError on any malformed input.
func Parse(doc value.Value) (*Node, error) {
	if doc.Kind() == value.KindNull {
		return &Node{Kind: NodeAlways}, nil
	}
	if doc.Kind() != value.KindMap {
		return nil, dberrors.FilterParseError("filter document must be an object")
	}
	if len(doc.Keys()) == 0 {
		return &Node{Kind: NodeAlways}, nil
	}
	return parseDocument(doc)
}

func parseDocument(doc value.Value) (*Node, error) {
	children := make([]*Node, 0, len(doc.Keys()))

	for _, key := range doc.Keys() {
		fieldVal, _ := doc.Field(key)

		if strings.HasPrefix(key, "$") {
			node, err := parseCombinator(key, fieldVal)
			if err != nil {
				return nil, err
			}
			children = append(children, node)
			continue
		}

		node, err := parseFieldPredicate(key, fieldVal)
		if err != nil {
			return nil, err
		}
		children = append(children, node)
	}

	if len(children) == 1 {
		return children[0], nil
	}
	return &Node{Kind: NodeAnd, Children: children}, nil
}

func parseCombinator(key string, val value.Value) (*Node, error) {
	var kind NodeKind
	switch key {
	case "$and":
		kind = NodeAnd
	case "$or":
		kind = NodeOr
	default:
		return nil, dberrors.FilterParseError(fmt.Sprintf("unknown top-level operator %q", key))
	}

	if val.Kind() != value.KindSeq {
		return nil, dberrors.FilterParseError(fmt.Sprintf("%s requires an array of sub-filters", key))
	}
	items, _ := val.AsSeq()
	if len(items) == 0 {
		return nil, dberrors.FilterParseError(fmt.Sprintf("%s must be a non-empty array", key))
	}

	children := make([]*Node, 0, len(items))
	for _, item := range items {
		sub, err := Parse(item)
		if err != nil {
			return nil, err
		}
		children = append(children, sub)
	}

	return &Node{Kind: kind, Children: children}, nil
}

func parseFieldPredicate(key string, val value.Value) (*Node, error) {
	path := strings.Split(key, ".")

	if val.Kind() != value.KindMap {
		// Bare scalar or sequence: equality match.
		return &Node{Kind: NodeCond, Cond: &Cond{Path: path, Op: OpEq, Operand: val}}, nil
	}

	var hasGt, hasGte, hasLt, hasLte bool
	var conds []*Cond

	for _, opKey := range val.Keys() {
		opVal, _ := val.Field(opKey)

		switch opKey {
		case "$eq":
			conds = append(conds, &Cond{Path: path, Op: OpEq, Operand: opVal})
		case "$in":
			if opVal.Kind() != value.KindSeq {
				return nil, dberrors.FilterParseError(fmt.Sprintf("%s.$in requires an array", key))
			}
			inSet, _ := opVal.AsSeq()
			conds = append(conds, &Cond{Path: path, Op: OpIn, InSet: inSet})
		case "$gt":
			hasGt = true
			conds = append(conds, &Cond{Path: path, Op: OpGt, Operand: opVal})
		case "$gte":
			hasGte = true
			conds = append(conds, &Cond{Path: path, Op: OpGte, Operand: opVal})
		case "$lt":
			hasLt = true
			conds = append(conds, &Cond{Path: path, Op: OpLt, Operand: opVal})
		case "$lte":
			hasLte = true
			conds = append(conds, &Cond{Path: path, Op: OpLte, Operand: opVal})
		default:
			return nil, dberrors.FilterParseError(fmt.Sprintf("unknown operator %q on field %q", opKey, key))
		}
	}

	if hasGt && hasGte {
		return nil, dberrors.FilterParseError(fmt.Sprintf("field %q cannot combine $gt and $gte", key))
	}
	if hasLt && hasLte {
		return nil, dberrors.FilterParseError(fmt.Sprintf("field %q cannot combine $lt and $lte", key))
	}
	if len(conds) == 0 {
		return nil, dberrors.FilterParseError(fmt.Sprintf("field %q has no recognized operators", key))
	}

	if len(conds) == 1 {
		return &Node{Kind: NodeCond, Cond: conds[0]}, nil
	}

	children := make([]*Node, len(conds))
	for i, c := range conds {
		children[i] = &Node{Kind: NodeCond, Cond: c}
	}
	return &Node{Kind: NodeAnd, Children: children}, nil
}
