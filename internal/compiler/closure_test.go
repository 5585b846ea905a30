package compiler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"trackway/internal/tsast"
	"trackway/internal/tsparse"
)

func catalogFrom(t *testing.T, src string) *Catalog {
	t.Helper()
	mod, err := tsparse.Parse("catalog.ts", src)
	require.NoError(t, err)
	return BuildCatalog(mod)
}

func TestResolveChain(t *testing.T) {
	cat := catalogFrom(t, `
type A = B;
type B = { x: C };
type C = number;
`)
	got := Resolve(cat, "A")
	assert.Equal(t, []string{"A", "B", "C"}, got.Sorted())
}

func TestResolveCycle(t *testing.T) {
	cat := catalogFrom(t, "type A = B;\ntype B = A;")
	assert.Equal(t, []string{"A", "B"}, Resolve(cat, "A").Sorted())
}

func TestResolveKeepsUnknownRoots(t *testing.T) {
	cat := catalogFrom(t, "type A = Date | External<A>;")
	got := Resolve(cat, "A", "Missing")
	assert.Equal(t, []string{"A", "Date", "External", "Missing"}, got.Sorted())
}

func TestResolveSkipsTypeParameters(t *testing.T) {
	cat := catalogFrom(t, `
type Page<T> = { items: T[]; next?: Cursor };
type Cursor = string;
type Keys<O> = { [K in keyof O]: O[K] };
type Unwrap<P> = P extends Promise<infer U> ? U : P;
`)
	assert.Equal(t, []string{"Cursor", "Page"}, Resolve(cat, "Page").Sorted())
	assert.Equal(t, []string{"Keys"}, Resolve(cat, "Keys").Sorted())
	assert.Equal(t, []string{"Promise", "Unwrap"}, Resolve(cat, "Unwrap").Sorted())
}

func TestCatalogKeepsNamespacesApart(t *testing.T) {
	cat := catalogFrom(t, `
type A = string;
type A = boolean;
namespace N { export type A = number; }
`)
	decl, ok := cat.Lookup("A")
	require.True(t, ok)
	assert.Equal(t, &tsast.KeywordType{Name: "boolean"}, decl.Type)
	decl, ok = cat.Lookup("N.A")
	require.True(t, ok)
	assert.Equal(t, &tsast.KeywordType{Name: "number"}, decl.Type)
	_, ok = cat.Lookup("Nope")
	assert.False(t, ok)
}

func TestResolveQualifiesNamespaceMembers(t *testing.T) {
	cat := catalogFrom(t, `
type Id = number;
type Tag = string;
namespace Outer {
    export type Id = string;
    export namespace Inner {
        export type Row = { id: Id; tag: Tag; peer: Inner.Row };
    }
}
`)
	assert.Equal(t, "Outer.Id", cat.Qualify("Outer.Inner", "Id"))
	assert.Equal(t, "Tag", cat.Qualify("Outer.Inner", "Tag"))
	assert.Equal(t, "Id", cat.Qualify("", "Id"))
	assert.Equal(t, []string{"Outer.Id", "Outer.Inner.Row", "Tag"}, Resolve(cat, "Outer.Inner.Row").Sorted())
}

// randomCatalog builds aliases T0..Tn-1, each referring to a random subset
// of the others and to an occasional external name.
func randomCatalog(rt *rapid.T) (*Catalog, []string) {
	n := rapid.IntRange(1, 12).Draw(rt, "n")
	cat := NewCatalog()
	for i := 0; i < n; i++ {
		targets := rapid.SliceOfN(rapid.IntRange(0, n+2), 0, 4).Draw(rt, fmt.Sprintf("refs%d", i))
		var members []tsast.TypeExpr
		for _, j := range targets {
			name := fmt.Sprintf("T%d", j)
			if j >= n {
				name = fmt.Sprintf("Ext%d", j)
			}
			members = append(members, &tsast.TypeRef{Name: name})
		}
		var typ tsast.TypeExpr = &tsast.KeywordType{Name: "string"}
		if len(members) == 1 {
			typ = members[0]
		} else if len(members) > 1 {
			typ = &tsast.ObjectType{Members: []tsast.TypeMember{
				{Name: "value", Type: &tsast.UnionType{Types: members}},
			}}
		}
		name := fmt.Sprintf("T%d", i)
		cat.Record(name, &tsast.TypeAliasDecl{Name: name, Type: typ})
	}
	rootIdx := rapid.SliceOfN(rapid.IntRange(0, n+2), 1, 3).Draw(rt, "roots")
	var roots []string
	for _, j := range rootIdx {
		roots = append(roots, fmt.Sprintf("T%d", j))
	}
	return cat, roots
}

func TestResolveProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cat, roots := randomCatalog(rt)
		first := Resolve(cat, roots...)
		second := Resolve(cat, roots...)
		if fmt.Sprint(first.Sorted()) != fmt.Sprint(second.Sorted()) {
			rt.Fatalf("not idempotent: %v vs %v", first.Sorted(), second.Sorted())
		}
		for _, r := range roots {
			if !first.Has(r) {
				rt.Fatalf("root %s missing from %v", r, first.Sorted())
			}
		}
		// closed under expansion
		for id := range first {
			decl, ok := cat.Lookup(id)
			if !ok {
				continue
			}
			for _, ref := range References(decl.Type, nil) {
				if !first.Has(ref) {
					rt.Fatalf("%s refers to %s outside the closure", id, ref)
				}
			}
		}
		// resolving the closure itself adds nothing
		again := Resolve(cat, first.Sorted()...)
		if len(again) != len(first) {
			rt.Fatalf("closure grew from %d to %d", len(first), len(again))
		}
	})
}
