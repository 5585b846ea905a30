// Package tsparse parses TypeScript task modules into tsast declarations.
//
// Only the declarations the task compiler reads are modelled: type aliases,
// classes and namespaces. Every other statement is skipped by balancing
// brackets, so arbitrary code between declarations is tolerated.
package tsparse

import (
	"errors"
	"fmt"

	"trackway/internal/tsast"
)

// SyntaxError reports malformed input at a source position.
type SyntaxError struct {
	Path string
	Pos  tsast.Pos
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Col, e.Msg)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Pos.Line, e.Pos.Col, e.Msg)
}

// Parse parses src. path is only used in error messages and Module.Path.
func Parse(path, src string) (mod *tsast.Module, err error) {
	toks, err := lex(src)
	if err != nil {
		var se *SyntaxError
		if errors.As(err, &se) {
			se.Path = path
		}
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	defer func() {
		if r := recover(); r != nil {
			se, ok := r.(*SyntaxError)
			if !ok {
				panic(r)
			}
			se.Path = path
			mod, err = nil, se
		}
	}()
	decls := p.statements(false)
	return &tsast.Module{Path: path, Decls: decls}, nil
}

// ParseType parses a standalone type expression.
func ParseType(src string) (typ tsast.TypeExpr, err error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	defer func() {
		if r := recover(); r != nil {
			se, ok := r.(*SyntaxError)
			if !ok {
				panic(r)
			}
			typ, err = nil, se
		}
	}()
	typ = p.typ()
	if p.tok().kind != tokEOF {
		p.failf("unexpected %q after type", p.tok().text)
	}
	return typ, nil
}

type parser struct {
	src  string
	toks []token
	i    int
}

func (p *parser) tok() token { return p.toks[p.i] }

func (p *parser) peek(k int) token {
	if p.i+k < len(p.toks) {
		return p.toks[p.i+k]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) advance() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) failf(format string, args ...any) {
	panic(&SyntaxError{Pos: p.tok().pos, Msg: fmt.Sprintf(format, args...)})
}

// is reports whether the current token is the punctuation or identifier s.
func (p *parser) is(s string) bool {
	t := p.tok()
	return (t.kind == tokPunct || t.kind == tokIdent) && t.text == s
}

func (p *parser) isAt(k int, s string) bool {
	t := p.peek(k)
	return (t.kind == tokPunct || t.kind == tokIdent) && t.text == s
}

func (p *parser) accept(s string) bool {
	if p.is(s) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(s string) token {
	if !p.is(s) {
		p.failf("expected %q, found %s", s, describe(p.tok()))
	}
	return p.advance()
}

func (p *parser) ident() token {
	if p.tok().kind != tokIdent {
		p.failf("expected identifier, found %s", describe(p.tok()))
	}
	return p.advance()
}

func describe(t token) string {
	if t.kind == tokEOF {
		return "end of file"
	}
	return fmt.Sprintf("%q", t.text)
}

// textFrom returns the source between token index from and the current token.
func (p *parser) textFrom(from int) string {
	if from >= p.i {
		return ""
	}
	return p.src[p.toks[from].start:p.toks[p.i-1].end]
}

// statements parses declarations until EOF, or until the closing brace when
// nested is set. The brace itself is not consumed.
func (p *parser) statements(nested bool) []tsast.Decl {
	var decls []tsast.Decl
	for {
		t := p.tok()
		if t.kind == tokEOF {
			if nested {
				p.failf("expected \"}\", found end of file")
			}
			return decls
		}
		if nested && p.is("}") {
			return decls
		}
		if p.accept(";") {
			continue
		}
		if d := p.statement(); d != nil {
			decls = append(decls, d)
		}
	}
}

func (p *parser) statement() tsast.Decl {
	start := p.tok().pos
	decorators := p.decorators()

	var exported, isDefault, declare, abstract bool
modifiers:
	for {
		switch {
		case p.is("export") && !p.isAt(1, "{") && !p.isAt(1, "*") && !p.isAt(1, "="):
			exported = true
		case p.is("default") && exported:
			isDefault = true
		case p.is("declare") && p.peek(1).kind == tokIdent && !p.peek(1).nl:
			declare = true
		case p.is("abstract") && p.isAt(1, "class"):
			abstract = true
		default:
			break modifiers
		}
		p.advance()
	}
	decorators = append(decorators, p.decorators()...)

	switch {
	case p.is("type") && p.peek(1).kind == tokIdent && !p.peek(1).nl:
		return p.typeAlias(start, exported, declare)
	case p.is("class"):
		cls := p.class(start, decorators)
		cls.Exported, cls.Default, cls.Abstract = exported, isDefault, abstract
		return cls
	case (p.is("namespace") || p.is("module")) && (p.peek(1).kind == tokIdent || p.peek(1).kind == tokString) && !p.peek(1).nl:
		return p.namespace(start, exported)
	case p.is("global") && declare && p.isAt(1, "{"):
		p.advance()
		return p.namespaceBody(start, "global", exported)
	}
	p.skipStatement()
	return nil
}

func (p *parser) decorators() []tsast.Decorator {
	var out []tsast.Decorator
	for p.is("@") {
		at := p.advance()
		d := tsast.Decorator{Pos: at.pos, Callee: p.dottedName()}
		if p.is("(") && !p.tok().nl {
			d.Call = true
			d.Args = p.arguments()
		}
		out = append(out, d)
	}
	return out
}

func (p *parser) dottedName() string {
	name := p.ident().text
	for p.is(".") && p.peek(1).kind == tokIdent {
		p.advance()
		name += "." + p.advance().text
	}
	return name
}

// arguments parses a call argument list. String literals standing alone
// become StringLit; anything else is kept as source text.
func (p *parser) arguments() []tsast.Expr {
	p.expect("(")
	var args []tsast.Expr
	for !p.is(")") {
		if p.tok().kind == tokEOF {
			p.failf("unterminated argument list")
		}
		t := p.tok()
		if t.kind == tokString && (p.isAt(1, ",") || p.isAt(1, ")")) {
			p.advance()
			args = append(args, &tsast.StringLit{Pos: t.pos, Value: t.value, Raw: t.text})
		} else {
			from := p.i
			p.skipUntil(",", ")")
			args = append(args, &tsast.RawExpr{Text: p.textFrom(from)})
		}
		if !p.accept(",") {
			break
		}
	}
	p.expect(")")
	return args
}

// skipUntil consumes tokens up to, not including, one of stops at bracket
// depth zero.
func (p *parser) skipUntil(stops ...string) {
	depth := 0
	for {
		t := p.tok()
		if t.kind == tokEOF {
			return
		}
		if depth == 0 && (t.kind == tokPunct || t.kind == tokIdent) {
			for _, s := range stops {
				if t.text == s {
					return
				}
			}
		}
		if t.kind == tokPunct {
			switch t.text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				if depth == 0 {
					return
				}
				depth--
			}
		}
		p.advance()
	}
}

// balanced consumes a bracketed group starting at the current opening token.
func (p *parser) balanced() {
	depth := 0
	for {
		t := p.advance()
		if t.kind == tokEOF {
			p.failf("unbalanced %q", p.toks[p.i].text)
		}
		if t.kind != tokPunct {
			continue
		}
		switch t.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

var continuations = map[string]bool{
	".": true, "?.": true, "=>": true, "=": true, ",": true, "?": true, ":": true,
	"+": true, "-": true, "*": true, "/": true, "%": true, "**": true,
	"&&": true, "||": true, "??": true, "|": true, "&": true, "^": true,
	"==": true, "===": true, "!=": true, "!==": true, "<": true, ">": true,
	"(": true, "[": true,
}

// skipStatement consumes one statement this parser does not model.
func (p *parser) skipStatement() {
	depth := 0
	first := true
	for {
		t := p.tok()
		if t.kind == tokEOF {
			return
		}
		if depth == 0 && !first {
			if t.kind == tokPunct && t.text == "}" {
				return
			}
			if t.nl && endsExpression(p.toks[p.i-1]) && !(t.kind == tokPunct && continuations[t.text]) {
				return
			}
		}
		first = false
		p.advance()
		if t.kind != tokPunct {
			continue
		}
		switch t.text {
		case ";":
			if depth == 0 {
				return
			}
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			if depth > 0 {
				depth--
			}
		}
	}
}

func endsExpression(t token) bool {
	switch t.kind {
	case tokIdent, tokString, tokNumber, tokTemplate, tokRegexp:
		return true
	case tokPunct:
		return t.text == ")" || t.text == "]" || t.text == "}" || t.text == "++" || t.text == "--"
	}
	return false
}

func (p *parser) endStatement() {
	if p.accept(";") {
		return
	}
	if p.tok().nl || p.is("}") || p.tok().kind == tokEOF {
		return
	}
	p.failf("expected \";\", found %s", describe(p.tok()))
}

func (p *parser) typeAlias(start tsast.Pos, exported, declare bool) *tsast.TypeAliasDecl {
	p.expect("type")
	decl := &tsast.TypeAliasDecl{Pos: start, Exported: exported, Declare: declare}
	decl.Name = p.ident().text
	decl.TypeParams = p.typeParams()
	p.expect("=")
	decl.Type = p.typ()
	p.endStatement()
	return decl
}

func (p *parser) namespace(start tsast.Pos, exported bool) *tsast.NamespaceDecl {
	p.advance()
	var name string
	if p.tok().kind == tokString {
		name = p.advance().value
	} else {
		name = p.dottedName()
	}
	if !p.is("{") {
		// `declare module "x";` shorthand
		p.endStatement()
		return &tsast.NamespaceDecl{Pos: start, Name: name, Exported: exported}
	}
	return p.namespaceBody(start, name, exported)
}

func (p *parser) namespaceBody(start tsast.Pos, name string, exported bool) *tsast.NamespaceDecl {
	p.expect("{")
	decls := p.statements(true)
	p.expect("}")
	return &tsast.NamespaceDecl{Pos: start, Name: name, Exported: exported, Decls: decls}
}

func (p *parser) class(start tsast.Pos, decorators []tsast.Decorator) *tsast.ClassDecl {
	p.expect("class")
	cls := &tsast.ClassDecl{Pos: start, Decorators: decorators}
	if p.tok().kind == tokIdent && !p.is("extends") && !p.is("implements") {
		cls.Name = p.advance().text
	}
	cls.TypeParams = p.typeParams()
	if p.accept("extends") {
		cls.Extends = p.heritage()
	}
	if p.accept("implements") {
		for {
			p.typ()
			if !p.accept(",") {
				break
			}
		}
	}
	p.expect("{")
	for !p.is("}") {
		if p.tok().kind == tokEOF {
			p.failf("unterminated class body")
		}
		if p.accept(";") {
			continue
		}
		cls.Members = append(cls.Members, p.member())
	}
	p.expect("}")
	return cls
}

// heritage parses the extends clause. Anything other than a plain reference,
// such as a mixin call, is skipped and yields nil.
func (p *parser) heritage() *tsast.TypeRef {
	if p.tok().kind == tokIdent {
		save := p.i
		ref := &tsast.TypeRef{Pos: p.tok().pos, Name: p.dottedName()}
		if p.is("<") {
			ref.Args = p.typeArgs()
		}
		if p.is("{") || p.is("implements") {
			return ref
		}
		p.i = save
	}
	p.skipUntil("{", "implements")
	return nil
}

var memberModifiers = map[string]bool{
	"public": true, "private": true, "protected": true, "static": true, "readonly": true,
	"abstract": true, "override": true, "declare": true, "async": true, "accessor": true,
}

// isModifier reports whether the current identifier acts as a modifier
// rather than as a member name.
func (p *parser) isModifier(set map[string]bool) bool {
	t := p.tok()
	if t.kind != tokIdent || !set[t.text] {
		return false
	}
	next := p.peek(1)
	if next.nl && t.text != "static" {
		return false
	}
	switch next.kind {
	case tokIdent, tokString, tokNumber:
		return true
	case tokPunct:
		return next.text == "[" || next.text == "*" || next.text == "{" && t.text == "static"
	}
	return false
}

func (p *parser) member() tsast.ClassMember {
	start := p.tok().pos
	decorators := p.decorators()
	var mods []string
	for p.isModifier(memberModifiers) {
		mods = append(mods, p.advance().text)
	}
	if len(mods) == 1 && mods[0] == "static" && p.is("{") {
		// static initialisation block
		body := p.i
		p.balanced()
		return &tsast.Method{Pos: start, Name: "static", Modifiers: mods, Body: p.textFrom(body)}
	}
	p.accept("*")

	kind := tsast.KindMethod
	if (p.is("get") || p.is("set")) && p.isAccessorName(1) {
		if p.advance().text == "get" {
			kind = tsast.KindGetter
		} else {
			kind = tsast.KindSetter
		}
	}

	name, computed := p.memberName()
	if name == "constructor" && !computed && kind == tsast.KindMethod {
		kind = tsast.KindConstructor
	}
	optional := false
	if p.is("?") || p.is("!") {
		optional = p.advance().text == "?"
	}

	if p.is("(") || p.is("<") {
		m := &tsast.Method{Pos: start, Name: name, Computed: computed, Kind: kind, Decorators: decorators, Modifiers: mods}
		m.TypeParams = p.typeParams()
		m.Params = p.params()
		if p.accept(":") {
			m.Return = p.returnType()
		}
		if p.is("{") {
			body := p.i
			p.balanced()
			m.Body = p.textFrom(body)
		} else {
			p.endStatement()
		}
		return m
	}

	prop := &tsast.Property{Pos: start, Name: name, Computed: computed, Decorators: decorators, Modifiers: mods, Optional: optional}
	if p.accept(":") {
		prop.Type = p.typ()
	}
	if p.accept("=") {
		from := p.i
		p.skipInitializer()
		prop.Init = p.textFrom(from)
	}
	p.endStatement()
	return prop
}

func (p *parser) isAccessorName(k int) bool {
	t := p.peek(k)
	if t.nl {
		return false
	}
	switch t.kind {
	case tokIdent, tokString, tokNumber:
		return true
	case tokPunct:
		return t.text == "["
	}
	return false
}

func (p *parser) memberName() (string, bool) {
	t := p.tok()
	switch t.kind {
	case tokIdent, tokNumber:
		p.advance()
		return t.text, false
	case tokString:
		p.advance()
		return t.text, false
	}
	if p.is("[") {
		p.advance()
		from := p.i
		p.skipUntil("]")
		text := p.textFrom(from)
		p.expect("]")
		return text, true
	}
	p.failf("expected class member, found %s", describe(t))
	return "", false
}

// skipInitializer consumes a property initialiser expression.
func (p *parser) skipInitializer() {
	depth := 0
	first := true
	for {
		t := p.tok()
		if t.kind == tokEOF {
			return
		}
		if depth == 0 && !first {
			if t.kind == tokPunct && (t.text == ";" || t.text == "}") {
				return
			}
			if t.nl && endsExpression(p.toks[p.i-1]) && !(t.kind == tokPunct && continuations[t.text]) {
				return
			}
		}
		first = false
		p.advance()
		if t.kind != tokPunct {
			continue
		}
		switch t.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
		}
	}
}

var paramModifiers = map[string]bool{
	"public": true, "private": true, "protected": true, "readonly": true, "override": true,
}

func (p *parser) params() []tsast.Param {
	p.expect("(")
	var out []tsast.Param
	for !p.is(")") {
		out = append(out, p.param())
		if !p.accept(",") {
			break
		}
	}
	p.expect(")")
	return out
}

func (p *parser) param() tsast.Param {
	p.decorators()
	prm := tsast.Param{Pos: p.tok().pos}
	for p.isModifier(paramModifiers) {
		prm.Modifiers = append(prm.Modifiers, p.advance().text)
	}
	if p.accept("...") {
		prm.Rest = true
	}
	switch {
	case p.is("{") || p.is("["):
		from := p.i
		p.balanced()
		prm.Name = p.textFrom(from)
	case p.tok().kind == tokIdent:
		prm.Name = p.advance().text
	default:
		p.failf("expected parameter, found %s", describe(p.tok()))
	}
	if p.accept("?") {
		prm.Optional = true
	}
	if p.accept(":") {
		prm.Type = p.typ()
	}
	if p.accept("=") {
		from := p.i
		p.skipUntil(",", ")")
		prm.Default = p.textFrom(from)
	}
	return prm
}

func (p *parser) typeParams() []tsast.TypeParam {
	if !p.accept("<") {
		return nil
	}
	var out []tsast.TypeParam
	for !p.is(">") {
		for (p.is("const") || p.is("in") || p.is("out")) && p.peek(1).kind == tokIdent {
			p.advance()
		}
		tp := tsast.TypeParam{Name: p.ident().text}
		if p.accept("extends") {
			tp.Constraint = p.typ()
		}
		if p.accept("=") {
			tp.Default = p.typ()
		}
		out = append(out, tp)
		if !p.accept(",") {
			break
		}
	}
	p.expect(">")
	return out
}

func (p *parser) typeArgs() []tsast.TypeExpr {
	p.expect("<")
	var out []tsast.TypeExpr
	for !p.is(">") {
		out = append(out, p.typ())
		if !p.accept(",") {
			break
		}
	}
	p.expect(">")
	return out
}

// returnType parses a return annotation, including type predicates which
// are kept as literal text.
func (p *parser) returnType() tsast.TypeExpr {
	from := p.i
	if p.is("asserts") && p.peek(1).kind == tokIdent && !p.peek(1).nl {
		p.advance()
		p.advance()
		if p.accept("is") {
			p.typ()
		}
		return &tsast.LiteralType{Raw: p.textFrom(from)}
	}
	if p.tok().kind == tokIdent && p.isAt(1, "is") && !p.peek(1).nl {
		p.advance()
		p.advance()
		p.typ()
		return &tsast.LiteralType{Raw: p.textFrom(from)}
	}
	return p.typ()
}

func (p *parser) typ() tsast.TypeExpr {
	if p.startsFunctionType() {
		return p.functionType(false)
	}
	if p.is("new") || p.is("abstract") && p.isAt(1, "new") {
		p.accept("abstract")
		p.advance()
		return p.functionType(true)
	}
	check := p.unionType()
	if p.is("extends") && !p.tok().nl {
		p.advance()
		ext := p.unionType()
		p.expect("?")
		t := p.typ()
		p.expect(":")
		f := p.typ()
		return &tsast.ConditionalType{Check: check, Extends: ext, True: t, False: f}
	}
	return check
}

// startsFunctionType looks past a parenthesised group for `=>`.
func (p *parser) startsFunctionType() bool {
	if p.is("<") {
		return true
	}
	if !p.is("(") {
		return false
	}
	depth := 0
	for k := 0; ; k++ {
		t := p.peek(k)
		if t.kind == tokEOF {
			return false
		}
		if t.kind != tokPunct {
			continue
		}
		switch t.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				return p.isAt(k+1, "=>")
			}
		}
	}
}

func (p *parser) functionType(ctor bool) *tsast.FunctionType {
	fn := &tsast.FunctionType{Ctor: ctor}
	fn.TypeParams = p.typeParams()
	fn.Params = p.params()
	p.expect("=>")
	fn.Return = p.returnType()
	return fn
}

func (p *parser) unionType() tsast.TypeExpr {
	p.accept("|")
	first := p.intersectionType()
	if !p.is("|") {
		return first
	}
	u := &tsast.UnionType{Types: []tsast.TypeExpr{first}}
	for p.accept("|") {
		u.Types = append(u.Types, p.intersectionType())
	}
	return u
}

func (p *parser) intersectionType() tsast.TypeExpr {
	p.accept("&")
	first := p.operatorType()
	if !p.is("&") {
		return first
	}
	it := &tsast.IntersectionType{Types: []tsast.TypeExpr{first}}
	for p.accept("&") {
		it.Types = append(it.Types, p.operatorType())
	}
	return it
}

func (p *parser) operatorType() tsast.TypeExpr {
	t := p.tok()
	if t.kind == tokIdent && !p.peek(1).nl {
		switch t.text {
		case "keyof", "unique", "readonly":
			if startsType(p.peek(1)) {
				p.advance()
				return &tsast.TypeOperator{Op: t.text, Type: p.operatorType()}
			}
		case "infer":
			if p.peek(1).kind == tokIdent {
				p.advance()
				ref := &tsast.TypeRef{Pos: p.tok().pos, Name: p.advance().text}
				return &tsast.TypeOperator{Op: "infer", Type: ref}
			}
		}
	}
	return p.postfixType()
}

func startsType(t token) bool {
	switch t.kind {
	case tokIdent, tokString, tokNumber, tokTemplate:
		return true
	case tokPunct:
		switch t.text {
		case "(", "[", "{", "<", "-":
			return true
		}
	}
	return false
}

func (p *parser) postfixType() tsast.TypeExpr {
	t := p.primaryType()
	for p.is("[") && !p.tok().nl {
		p.advance()
		if p.accept("]") {
			t = &tsast.ArrayType{Elem: t}
			continue
		}
		idx := p.typ()
		p.expect("]")
		t = &tsast.IndexedAccessType{Object: t, Index: idx}
	}
	return t
}

func (p *parser) primaryType() tsast.TypeExpr {
	t := p.tok()
	switch t.kind {
	case tokString, tokNumber, tokTemplate:
		p.advance()
		return &tsast.LiteralType{Raw: t.text}
	case tokPunct:
		switch t.text {
		case "(":
			p.advance()
			inner := p.typ()
			p.expect(")")
			return &tsast.ParenType{Inner: inner}
		case "{":
			return p.objectOrMapped()
		case "[":
			return p.tuple()
		case "-":
			if p.peek(1).kind == tokNumber {
				p.advance()
				n := p.advance()
				return &tsast.LiteralType{Raw: "-" + n.text}
			}
		}
		p.failf("expected type, found %s", describe(t))
	case tokIdent:
		switch t.text {
		case "true", "false":
			p.advance()
			return &tsast.LiteralType{Raw: t.text}
		case "typeof":
			p.advance()
			q := &tsast.TypeQuery{Name: p.dottedName()}
			if p.is("<") && !p.tok().nl {
				p.typeArgs()
			}
			return q
		}
		if tsast.Keywords[t.text] && !p.isAt(1, ".") {
			p.advance()
			return &tsast.KeywordType{Name: t.text}
		}
		ref := &tsast.TypeRef{Pos: t.pos, Name: p.dottedName()}
		if p.is("<") && !p.tok().nl {
			ref.Args = p.typeArgs()
		}
		return ref
	}
	p.failf("expected type, found %s", describe(t))
	return nil
}

func (p *parser) tuple() *tsast.TupleType {
	p.expect("[")
	tt := &tsast.TupleType{}
	for !p.is("]") {
		rest := p.accept("...")
		// Named members `label: T` or `label?: T` keep only their type.
		if p.tok().kind == tokIdent && (p.isAt(1, ":") || p.isAt(1, "?") && p.isAt(2, ":")) {
			p.advance()
			optional := p.accept("?")
			p.expect(":")
			elem := p.typ()
			if optional {
				elem = &tsast.OptionalType{Elem: elem}
			}
			if rest {
				elem = &tsast.RestType{Elem: elem}
			}
			tt.Elems = append(tt.Elems, elem)
		} else {
			elem := p.typ()
			if p.accept("?") {
				elem = &tsast.OptionalType{Elem: elem}
			}
			if rest {
				elem = &tsast.RestType{Elem: elem}
			}
			tt.Elems = append(tt.Elems, elem)
		}
		if !p.accept(",") {
			break
		}
	}
	p.expect("]")
	return tt
}

func (p *parser) objectOrMapped() tsast.TypeExpr {
	// { [K in C]: V } with optional readonly modifiers
	k := 1
	if p.isAt(k, "+") || p.isAt(k, "-") {
		k++
	}
	if p.isAt(k, "readonly") {
		k++
	}
	if p.isAt(k, "[") && p.peek(k+1).kind == tokIdent && p.isAt(k+2, "in") {
		return p.mapped()
	}
	return p.object()
}

func (p *parser) mapped() *tsast.MappedType {
	p.expect("{")
	m := &tsast.MappedType{}
	from := p.i
	if p.is("+") || p.is("-") {
		p.advance()
	}
	if p.accept("readonly") {
		m.Readonly = p.textFrom(from)
	}
	p.expect("[")
	m.Key = p.ident().text
	p.expect("in")
	m.Constraint = p.typ()
	if p.accept("as") {
		p.typ()
	}
	p.expect("]")
	from = p.i
	if p.is("+") || p.is("-") {
		p.advance()
		p.expect("?")
		m.Optional = p.textFrom(from)
	} else if p.accept("?") {
		m.Optional = "?"
	}
	if p.accept(":") {
		m.Type = p.typ()
	} else {
		m.Type = &tsast.KeywordType{Name: "any"}
	}
	p.accept(";")
	p.accept(",")
	p.expect("}")
	return m
}

func (p *parser) object() *tsast.ObjectType {
	p.expect("{")
	obj := &tsast.ObjectType{}
	for !p.is("}") {
		if p.tok().kind == tokEOF {
			p.failf("unterminated object type")
		}
		obj.Members = append(obj.Members, p.typeMember())
		if !p.accept(";") && !p.accept(",") && !p.tok().nl && !p.is("}") {
			p.failf("expected \";\" in object type, found %s", describe(p.tok()))
		}
	}
	p.expect("}")
	return obj
}

func (p *parser) typeMember() tsast.TypeMember {
	var m tsast.TypeMember
	if p.is("readonly") && !p.isAt(1, ":") && !p.isAt(1, "?") && !p.isAt(1, "(") {
		p.advance()
		m.Readonly = true
	}
	switch {
	case p.is("(") || p.is("<"):
		m.IsCallSign = true
		m.Method = p.signature(false)
		return m
	case p.is("new") && (p.isAt(1, "(") || p.isAt(1, "<")):
		p.advance()
		m.IsCallSign = true
		m.Method = p.signature(true)
		return m
	case p.is("[") && p.peek(1).kind == tokIdent && p.isAt(2, ":"):
		p.advance()
		key := tsast.Param{Pos: p.tok().pos, Name: p.advance().text}
		p.expect(":")
		key.Type = p.typ()
		p.expect("]")
		p.expect(":")
		m.IndexKey = &key
		m.Type = p.typ()
		return m
	}

	if (p.is("get") || p.is("set")) && p.isAccessorName(1) {
		p.advance()
	}
	switch t := p.tok(); {
	case t.kind == tokIdent || t.kind == tokString || t.kind == tokNumber:
		m.Name = p.advance().text
	case p.is("["):
		from := p.i
		p.balanced()
		m.Name = p.textFrom(from)
	default:
		p.failf("expected object type member, found %s", describe(t))
	}
	m.Optional = p.accept("?")
	if p.is("(") || p.is("<") {
		m.Method = p.signature(false)
		return m
	}
	if p.accept(":") {
		m.Type = p.typ()
	} else {
		m.Type = &tsast.KeywordType{Name: "any"}
	}
	return m
}

func (p *parser) signature(ctor bool) *tsast.FunctionType {
	fn := &tsast.FunctionType{Ctor: ctor}
	fn.TypeParams = p.typeParams()
	fn.Params = p.params()
	if p.accept(":") {
		fn.Return = p.returnType()
	}
	return fn
}
