// Package compiler extracts task declarations from a parsed module and
// renders the context document a remote peer is briefed with.
package compiler

import (
	"strings"

	"trackway/internal/tsast"
)

// Catalog maps type identifiers to their alias declarations. Top-level
// aliases are keyed by name; aliases declared inside namespaces are keyed by
// their qualified path only, so they never shadow a top-level alias.
type Catalog struct {
	decls map[string]*tsast.TypeAliasDecl
}

func NewCatalog() *Catalog {
	return &Catalog{decls: map[string]*tsast.TypeAliasDecl{}}
}

// BuildCatalog records every type alias in mod. Later declarations of the
// same identifier replace earlier ones.
func BuildCatalog(mod *tsast.Module) *Catalog {
	c := NewCatalog()
	c.collect(mod.Decls, "")
	return c
}

func (c *Catalog) collect(decls []tsast.Decl, prefix string) {
	for _, d := range decls {
		switch d := d.(type) {
		case *tsast.TypeAliasDecl:
			c.Record(prefix+d.Name, d)
		case *tsast.NamespaceDecl:
			if d.Name == "global" {
				c.collect(d.Decls, "")
				continue
			}
			c.collect(d.Decls, prefix+d.Name+".")
		}
	}
}

// Record inserts or overwrites the declaration for id.
func (c *Catalog) Record(id string, decl *tsast.TypeAliasDecl) {
	c.decls[id] = decl
}

func (c *Catalog) Lookup(id string) (*tsast.TypeAliasDecl, bool) {
	d, ok := c.decls[id]
	return d, ok
}

// Namespace returns the dotted namespace path id is declared in, or "" at
// the top level.
func Namespace(id string) string {
	if i := strings.LastIndexByte(id, '.'); i >= 0 {
		return id[:i]
	}
	return ""
}

// Qualify resolves the reference name written inside namespace ns, searching
// from ns outwards to the top level. Unknown names are returned unchanged.
func (c *Catalog) Qualify(ns, name string) string {
	for ns != "" {
		if _, ok := c.decls[ns+"."+name]; ok {
			return ns + "." + name
		}
		ns = Namespace(ns)
	}
	return name
}
