// Package tsast models the subset of TypeScript source the task compiler
// understands: type aliases, classes with decorators, namespaces, and the
// type expressions that appear in their signatures.
package tsast

// Pos is a 1-based source position.
type Pos struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// Module is one parsed source file.
type Module struct {
	Path  string
	Decls []Decl
}

// Decl is a top-level or namespace-level declaration.
type Decl interface {
	declNode()
	Position() Pos
}

// TypeParam is one entry of a generic parameter list.
type TypeParam struct {
	Name       string
	Constraint TypeExpr
	Default    TypeExpr
}

// TypeAliasDecl is `type Name<T> = ...`.
type TypeAliasDecl struct {
	Pos        Pos
	Name       string
	TypeParams []TypeParam
	Type       TypeExpr
	Exported   bool
	Declare    bool
}

// ClassDecl is a class declaration with its decorators and members.
type ClassDecl struct {
	Pos        Pos
	Name       string
	Exported   bool
	Default    bool
	Abstract   bool
	Decorators []Decorator
	TypeParams []TypeParam
	// Extends is the heritage type when it is a plain (possibly generic)
	// reference; nil otherwise.
	Extends *TypeRef
	Members []ClassMember
}

// NamespaceDecl is `namespace Name { ... }`.
type NamespaceDecl struct {
	Pos      Pos
	Name     string
	Exported bool
	Decls    []Decl
}

// FuncDecl is a body-less function signature. The parser never produces it;
// the compiler synthesises it for capability stubs.
type FuncDecl struct {
	Name     string
	Params   []Param
	Return   TypeExpr
	Declare  bool
	Comments []string
}

func (*TypeAliasDecl) declNode() {}
func (*ClassDecl) declNode()     {}
func (*NamespaceDecl) declNode() {}
func (*FuncDecl) declNode()      {}

func (d *TypeAliasDecl) Position() Pos { return d.Pos }
func (d *ClassDecl) Position() Pos     { return d.Pos }
func (d *NamespaceDecl) Position() Pos { return d.Pos }
func (d *FuncDecl) Position() Pos      { return Pos{} }

// Decorator is `@callee` or `@callee(args...)`.
type Decorator struct {
	Pos    Pos
	Callee string
	Call   bool
	Args   []Expr
}

// Expr is a decorator argument.
type Expr interface{ exprNode() }

// StringLit is a single- or double-quoted string literal.
type StringLit struct {
	Pos   Pos
	Value string
	Raw   string
}

// RawExpr is any other expression, kept as source text.
type RawExpr struct {
	Text string
}

func (*StringLit) exprNode() {}
func (*RawExpr) exprNode()   {}

// MethodKind distinguishes plain methods from accessors and constructors.
type MethodKind int

const (
	KindMethod MethodKind = iota
	KindGetter
	KindSetter
	KindConstructor
)

// ClassMember is a method or property inside a class body.
type ClassMember interface{ memberNode() }

// Method is a class method. Body holds the raw source of the block,
// braces included, or is empty for overload and abstract signatures.
type Method struct {
	Pos        Pos
	Name       string
	Computed   bool
	Kind       MethodKind
	Decorators []Decorator
	Modifiers  []string
	TypeParams []TypeParam
	Params     []Param
	Return     TypeExpr
	Body       string
}

// Property is a class field.
type Property struct {
	Pos        Pos
	Name       string
	Computed   bool
	Decorators []Decorator
	Modifiers  []string
	Optional   bool
	Type       TypeExpr
	Init       string
}

func (*Method) memberNode()   {}
func (*Property) memberNode() {}

// Param is a function or method parameter. Type is nil when unannotated.
type Param struct {
	Pos       Pos
	Name      string
	Modifiers []string
	Optional  bool
	Rest      bool
	Type      TypeExpr
	Default   string
}

// Decorated is implemented by every node that can carry decorators.
type Decorated interface {
	DecoratorList() []Decorator
}

func (d *ClassDecl) DecoratorList() []Decorator { return d.Decorators }
func (m *Method) DecoratorList() []Decorator    { return m.Decorators }
func (p *Property) DecoratorList() []Decorator  { return p.Decorators }
