package compiler

import (
	"sort"

	"trackway/internal/tsast"
)

// TypeClosure is a set of type identifiers.
type TypeClosure map[string]struct{}

func (c TypeClosure) Has(id string) bool {
	_, ok := c[id]
	return ok
}

// Sorted returns the identifiers in lexical order.
func (c TypeClosure) Sorted() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve computes the identifiers reachable from roots through cat. Every
// root is part of the result whether or not cat declares it; identifiers
// missing from cat are kept but not expanded. References inside a
// namespaced alias are qualified against its namespace first.
func Resolve(cat *Catalog, roots ...string) TypeClosure {
	out := TypeClosure{}
	work := append([]string(nil), roots...)
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		if out.Has(id) {
			continue
		}
		out[id] = struct{}{}
		decl, ok := cat.Lookup(id)
		if !ok {
			continue
		}
		bound := map[string]bool{}
		for _, tp := range decl.TypeParams {
			bound[tp.Name] = true
		}
		ns := Namespace(id)
		for _, ref := range References(decl.Type, bound) {
			ref = cat.Qualify(ns, ref)
			if !out.Has(ref) {
				work = append(work, ref)
			}
		}
	}
	return out
}

// References lists the named type references inside t in source order,
// without duplicates. Names in bound, and names introduced by mapped type
// keys, infer clauses or generic function types within t, are left out.
func References(t tsast.TypeExpr, bound map[string]bool) []string {
	local := map[string]bool{}
	for name := range bound {
		local[name] = true
	}
	tsast.Inspect(t, func(n tsast.TypeExpr) bool {
		switch n := n.(type) {
		case *tsast.MappedType:
			local[n.Key] = true
		case *tsast.TypeOperator:
			if ref, ok := n.Type.(*tsast.TypeRef); ok && n.Op == "infer" {
				local[ref.Name] = true
			}
		case *tsast.FunctionType:
			for _, tp := range n.TypeParams {
				local[tp.Name] = true
			}
		}
		return true
	})

	var refs []string
	seen := map[string]bool{}
	tsast.Inspect(t, func(n tsast.TypeExpr) bool {
		ref, ok := n.(*tsast.TypeRef)
		if !ok || local[ref.Name] || seen[ref.Name] {
			return true
		}
		seen[ref.Name] = true
		refs = append(refs, ref.Name)
		return true
	})
	return refs
}
