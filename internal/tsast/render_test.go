package tsast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTypeAliasObject(t *testing.T) {
	decl := &TypeAliasDecl{
		Name:     "Point",
		Exported: true,
		Type: &ObjectType{Members: []TypeMember{
			{Name: "x", Type: &KeywordType{Name: "number"}},
			{Name: "label", Optional: true, Type: &UnionType{Types: []TypeExpr{
				&KeywordType{Name: "string"},
				&KeywordType{Name: "null"},
			}}},
		}},
	}
	want := "type Point = {\n    x: number;\n    label?: string | null;\n};"
	assert.Equal(t, want, Render(decl))
}

func TestRenderGenericAlias(t *testing.T) {
	decl := &TypeAliasDecl{
		Name:       "Box",
		TypeParams: []TypeParam{{Name: "T", Constraint: &KeywordType{Name: "object"}}},
		Type: &ArrayType{Elem: &UnionType{Types: []TypeExpr{
			&TypeRef{Name: "T"},
			&TypeRef{Name: "Map", Args: []TypeExpr{&KeywordType{Name: "string"}, &TypeRef{Name: "T"}}},
		}}},
	}
	assert.Equal(t, "type Box<T extends object> = (T | Map<string, T>)[];", Render(decl))
}

func TestRenderFuncDeclStub(t *testing.T) {
	fn := &FuncDecl{
		Name:     "search",
		Declare:  true,
		Comments: []string{"Search the catalogue by keyword and return matches."},
		Params: []Param{
			{Name: "arg0", Type: &KeywordType{Name: "string"}},
			{Name: "arg1", Type: &TypeRef{Name: "Filter"}},
		},
		Return: &TypeRef{Name: "Promise", Args: []TypeExpr{&TypeRef{Name: "Result"}}},
	}
	want := "// Search the catalogue by keyword and return matches.\n" +
		"declare function search(arg0: string, arg1: Filter): Promise<Result>;"
	assert.Equal(t, want, Render(fn))
}

func TestRenderClassShapeDropsBodies(t *testing.T) {
	cls := &ClassDecl{
		Name:       "Shop",
		Decorators: []Decorator{{Callee: "task", Call: true}},
		Extends:    &TypeRef{Name: "Task", Args: []TypeExpr{&TypeRef{Name: "Order"}}},
		Members: []ClassMember{
			&Property{Name: "count", Type: &KeywordType{Name: "number"}, Init: "0"},
			&Method{Name: "buy", Params: []Param{{Name: "id", Type: &KeywordType{Name: "string"}}}, Body: "{ return 1 }"},
		},
	}
	out := Render(cls)
	assert.Equal(t, "class Shop extends Task<Order> {\n    count: number;\n    buy(id: string);\n}", out)
	assert.NotContains(t, out, "@")
	assert.NotContains(t, out, "return")
}

func TestRenderFunctionTypeInUnion(t *testing.T) {
	typ := &UnionType{Types: []TypeExpr{
		&FunctionType{Params: []Param{{Name: "a", Type: &KeywordType{Name: "number"}}}, Return: &KeywordType{Name: "void"}},
		&LiteralType{Raw: `"none"`},
	}}
	assert.Equal(t, `((a: number) => void) | "none"`, Render(typ))
}
