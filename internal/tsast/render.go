package tsast

import (
	"fmt"
	"strings"
)

const indentUnit = "    "

// Render prints a declaration or type expression as TypeScript source.
// Classes are printed as shapes: decorators, initialisers and method bodies
// are dropped.
func Render(node any) string {
	var p printer
	switch n := node.(type) {
	case *TypeAliasDecl:
		p.typeAlias(n)
	case *FuncDecl:
		p.funcDecl(n)
	case *ClassDecl:
		p.class(n)
	case TypeExpr:
		p.typ(n)
	default:
		panic(fmt.Sprintf("tsast: cannot render %T", node))
	}
	return p.b.String()
}

type printer struct {
	b     strings.Builder
	level int
}

func (p *printer) write(s string) { p.b.WriteString(s) }

func (p *printer) newline() {
	p.b.WriteByte('\n')
	p.write(strings.Repeat(indentUnit, p.level))
}

func (p *printer) typeAlias(d *TypeAliasDecl) {
	p.write("type ")
	p.write(d.Name)
	p.typeParams(d.TypeParams)
	p.write(" = ")
	p.typ(d.Type)
	p.write(";")
}

func (p *printer) funcDecl(d *FuncDecl) {
	for _, c := range d.Comments {
		if c == "" {
			p.write("//")
		} else {
			p.write("// " + c)
		}
		p.newline()
	}
	if d.Declare {
		p.write("declare ")
	}
	p.write("function ")
	p.write(d.Name)
	p.params(d.Params)
	if d.Return != nil {
		p.write(": ")
		p.typ(d.Return)
	}
	p.write(";")
}

func (p *printer) class(d *ClassDecl) {
	if d.Abstract {
		p.write("abstract ")
	}
	p.write("class")
	if d.Name != "" {
		p.write(" " + d.Name)
	}
	p.typeParams(d.TypeParams)
	if d.Extends != nil {
		p.write(" extends ")
		p.typ(d.Extends)
	}
	p.write(" {")
	p.level++
	for _, m := range d.Members {
		switch m := m.(type) {
		case *Method:
			p.newline()
			p.method(m)
		case *Property:
			p.newline()
			p.property(m)
		}
	}
	p.level--
	if len(d.Members) > 0 {
		p.newline()
	}
	p.write("}")
}

func (p *printer) method(m *Method) {
	for _, mod := range m.Modifiers {
		p.write(mod + " ")
	}
	switch m.Kind {
	case KindGetter:
		p.write("get ")
	case KindSetter:
		p.write("set ")
	}
	p.memberName(m.Name, m.Computed)
	p.typeParams(m.TypeParams)
	p.params(m.Params)
	if m.Return != nil {
		p.write(": ")
		p.typ(m.Return)
	}
	p.write(";")
}

func (p *printer) property(m *Property) {
	for _, mod := range m.Modifiers {
		p.write(mod + " ")
	}
	p.memberName(m.Name, m.Computed)
	if m.Optional {
		p.write("?")
	}
	if m.Type != nil {
		p.write(": ")
		p.typ(m.Type)
	}
	p.write(";")
}

func (p *printer) memberName(name string, computed bool) {
	if computed {
		p.write("[" + name + "]")
		return
	}
	p.write(name)
}

func (p *printer) typeParams(params []TypeParam) {
	if len(params) == 0 {
		return
	}
	p.write("<")
	for i, tp := range params {
		if i > 0 {
			p.write(", ")
		}
		p.write(tp.Name)
		if tp.Constraint != nil {
			p.write(" extends ")
			p.typ(tp.Constraint)
		}
		if tp.Default != nil {
			p.write(" = ")
			p.typ(tp.Default)
		}
	}
	p.write(">")
}

func (p *printer) params(params []Param) {
	p.write("(")
	for i, prm := range params {
		if i > 0 {
			p.write(", ")
		}
		p.param(prm)
	}
	p.write(")")
}

func (p *printer) param(prm Param) {
	if prm.Rest {
		p.write("...")
	}
	p.write(prm.Name)
	if prm.Optional {
		p.write("?")
	}
	if prm.Type != nil {
		p.write(": ")
		p.typ(prm.Type)
	}
}

func (p *printer) typ(t TypeExpr) {
	switch n := t.(type) {
	case nil:
		p.write("any")
	case *TypeRef:
		p.write(n.Name)
		if len(n.Args) > 0 {
			p.write("<")
			p.typeList(n.Args, ", ")
			p.write(">")
		}
	case *KeywordType:
		p.write(n.Name)
	case *LiteralType:
		p.write(n.Raw)
	case *UnionType:
		p.joined(n.Types, " | ")
	case *IntersectionType:
		p.joined(n.Types, " & ")
	case *ArrayType:
		p.wrapped(n.Elem)
		p.write("[]")
	case *TupleType:
		p.write("[")
		p.typeList(n.Elems, ", ")
		p.write("]")
	case *OptionalType:
		p.wrapped(n.Elem)
		p.write("?")
	case *RestType:
		p.write("...")
		p.typ(n.Elem)
	case *ObjectType:
		p.object(n)
	case *FunctionType:
		if n.Ctor {
			p.write("new ")
		}
		p.typeParams(n.TypeParams)
		p.params(n.Params)
		p.write(" => ")
		p.typ(n.Return)
	case *ParenType:
		p.write("(")
		p.typ(n.Inner)
		p.write(")")
	case *TypeOperator:
		p.write(n.Op + " ")
		p.typ(n.Type)
	case *IndexedAccessType:
		p.wrapped(n.Object)
		p.write("[")
		p.typ(n.Index)
		p.write("]")
	case *TypeQuery:
		p.write("typeof " + n.Name)
	case *ConditionalType:
		p.typ(n.Check)
		p.write(" extends ")
		p.typ(n.Extends)
		p.write(" ? ")
		p.typ(n.True)
		p.write(" : ")
		p.typ(n.False)
	case *MappedType:
		p.mapped(n)
	default:
		panic(fmt.Sprintf("tsast: unknown type node %T", t))
	}
}

func (p *printer) typeList(types []TypeExpr, sep string) {
	for i, t := range types {
		if i > 0 {
			p.write(sep)
		}
		p.typ(t)
	}
}

func (p *printer) joined(types []TypeExpr, sep string) {
	for i, t := range types {
		if i > 0 {
			p.write(sep)
		}
		switch t.(type) {
		case *FunctionType, *ConditionalType:
			p.write("(")
			p.typ(t)
			p.write(")")
		default:
			p.typ(t)
		}
	}
}

// wrapped prints t, parenthesised when a postfix operator would otherwise
// bind to only part of it.
func (p *printer) wrapped(t TypeExpr) {
	switch t.(type) {
	case *UnionType, *IntersectionType, *FunctionType, *ConditionalType, *TypeOperator:
		p.write("(")
		p.typ(t)
		p.write(")")
	default:
		p.typ(t)
	}
}

func (p *printer) object(o *ObjectType) {
	if len(o.Members) == 0 {
		p.write("{}")
		return
	}
	p.write("{")
	p.level++
	for _, m := range o.Members {
		p.newline()
		p.typeMember(m)
	}
	p.level--
	p.newline()
	p.write("}")
}

func (p *printer) typeMember(m TypeMember) {
	if m.Readonly {
		p.write("readonly ")
	}
	switch {
	case m.IndexKey != nil:
		p.write("[")
		p.param(*m.IndexKey)
		p.write("]: ")
		p.typ(m.Type)
	case m.Method != nil:
		if !m.IsCallSign {
			p.write(m.Name)
			if m.Optional {
				p.write("?")
			}
		}
		p.typeParams(m.Method.TypeParams)
		p.params(m.Method.Params)
		if m.Method.Return != nil {
			p.write(": ")
			p.typ(m.Method.Return)
		}
	default:
		p.write(m.Name)
		if m.Optional {
			p.write("?")
		}
		p.write(": ")
		p.typ(m.Type)
	}
	p.write(";")
}

func (p *printer) mapped(m *MappedType) {
	p.write("{")
	p.level++
	p.newline()
	if m.Readonly != "" {
		p.write(strings.TrimSuffix(m.Readonly, "readonly") + "readonly ")
	}
	p.write("[" + m.Key + " in ")
	p.typ(m.Constraint)
	p.write("]")
	p.write(m.Optional)
	p.write(": ")
	p.typ(m.Type)
	p.write(";")
	p.level--
	p.newline()
	p.write("}")
}
