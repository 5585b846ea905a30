package tsast

// TypeExpr is a type annotation.
type TypeExpr interface{ typeNode() }

// TypeRef is a named (possibly qualified, possibly generic) type.
type TypeRef struct {
	Pos  Pos
	Name string
	Args []TypeExpr
}

// KeywordType is a built-in such as string, number or void.
type KeywordType struct {
	Name string
}

// LiteralType is a string, number, boolean or template literal type.
type LiteralType struct {
	Raw string
}

type UnionType struct {
	Types []TypeExpr
}

type IntersectionType struct {
	Types []TypeExpr
}

type ArrayType struct {
	Elem TypeExpr
}

// TupleType elements may be *OptionalType or *RestType.
type TupleType struct {
	Elems []TypeExpr
}

type OptionalType struct {
	Elem TypeExpr
}

type RestType struct {
	Elem TypeExpr
}

// ObjectType is an inline object literal type.
type ObjectType struct {
	Members []TypeMember
}

// TypeMember is one member of an object type. Exactly one of Type, Index
// key or Method describes its shape.
type TypeMember struct {
	Name     string
	Optional bool
	Readonly bool
	Type     TypeExpr
	// IndexKey is set for index signatures `[key: K]: V`.
	IndexKey   *Param
	Method     *FunctionType
	IsCallSign bool
}

type FunctionType struct {
	Ctor       bool
	TypeParams []TypeParam
	Params     []Param
	Return     TypeExpr
}

type ParenType struct {
	Inner TypeExpr
}

// TypeOperator covers keyof, unique, readonly and infer.
type TypeOperator struct {
	Op   string
	Type TypeExpr
}

type IndexedAccessType struct {
	Object TypeExpr
	Index  TypeExpr
}

// TypeQuery is `typeof name`.
type TypeQuery struct {
	Name string
}

type ConditionalType struct {
	Check   TypeExpr
	Extends TypeExpr
	True    TypeExpr
	False   TypeExpr
}

// MappedType is `{ readonly [K in C]?: V }`. Modifier fields keep their
// source spelling: Readonly is "", "readonly", "+readonly" or "-readonly",
// Optional is "", "?", "+?" or "-?".
type MappedType struct {
	Readonly   string
	Key        string
	Constraint TypeExpr
	Optional   string
	Type       TypeExpr
}

func (*TypeRef) typeNode()           {}
func (*KeywordType) typeNode()       {}
func (*LiteralType) typeNode()       {}
func (*UnionType) typeNode()         {}
func (*IntersectionType) typeNode()  {}
func (*ArrayType) typeNode()         {}
func (*TupleType) typeNode()         {}
func (*OptionalType) typeNode()      {}
func (*RestType) typeNode()          {}
func (*ObjectType) typeNode()        {}
func (*FunctionType) typeNode()      {}
func (*ParenType) typeNode()         {}
func (*TypeOperator) typeNode()      {}
func (*IndexedAccessType) typeNode() {}
func (*TypeQuery) typeNode()         {}
func (*ConditionalType) typeNode()   {}
func (*MappedType) typeNode()        {}

// Keywords lists the identifiers parsed as KeywordType.
var Keywords = map[string]bool{
	"string":    true,
	"number":    true,
	"boolean":   true,
	"any":       true,
	"unknown":   true,
	"void":      true,
	"never":     true,
	"null":      true,
	"undefined": true,
	"object":    true,
	"bigint":    true,
	"symbol":    true,
	"this":      true,
}

// Inspect walks t depth-first, calling fn for every node. Returning false
// from fn skips that node's children.
func Inspect(t TypeExpr, fn func(TypeExpr) bool) {
	if t == nil || !fn(t) {
		return
	}
	switch n := t.(type) {
	case *TypeRef:
		for _, a := range n.Args {
			Inspect(a, fn)
		}
	case *UnionType:
		for _, m := range n.Types {
			Inspect(m, fn)
		}
	case *IntersectionType:
		for _, m := range n.Types {
			Inspect(m, fn)
		}
	case *ArrayType:
		Inspect(n.Elem, fn)
	case *TupleType:
		for _, e := range n.Elems {
			Inspect(e, fn)
		}
	case *OptionalType:
		Inspect(n.Elem, fn)
	case *RestType:
		Inspect(n.Elem, fn)
	case *ObjectType:
		for _, m := range n.Members {
			if m.IndexKey != nil {
				Inspect(m.IndexKey.Type, fn)
			}
			if m.Method != nil {
				Inspect(m.Method, fn)
			}
			Inspect(m.Type, fn)
		}
	case *FunctionType:
		inspectTypeParams(n.TypeParams, fn)
		for _, p := range n.Params {
			Inspect(p.Type, fn)
		}
		Inspect(n.Return, fn)
	case *ParenType:
		Inspect(n.Inner, fn)
	case *TypeOperator:
		Inspect(n.Type, fn)
	case *IndexedAccessType:
		Inspect(n.Object, fn)
		Inspect(n.Index, fn)
	case *ConditionalType:
		Inspect(n.Check, fn)
		Inspect(n.Extends, fn)
		Inspect(n.True, fn)
		Inspect(n.False, fn)
	case *MappedType:
		Inspect(n.Constraint, fn)
		Inspect(n.Type, fn)
	}
}

func inspectTypeParams(params []TypeParam, fn func(TypeExpr) bool) {
	for _, p := range params {
		Inspect(p.Constraint, fn)
		Inspect(p.Default, fn)
	}
}

// WalkDecls calls fn for every declaration in decls, descending into
// namespaces before visiting their siblings.
func WalkDecls(decls []Decl, fn func(Decl)) {
	for _, d := range decls {
		fn(d)
		if ns, ok := d.(*NamespaceDecl); ok {
			WalkDecls(ns.Decls, fn)
		}
	}
}
