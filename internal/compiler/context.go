package compiler

import (
	"fmt"
	"strings"

	"trackway/internal/tsast"
)

// Closure returns the type identifiers task's interface depends on: its
// output type and every capability's parameter and return types, closed
// over the module catalog. Task names are never part of the result.
func (m *Module) Closure(task *Task) TypeClosure {
	var roots []string
	add := func(t tsast.TypeExpr) {
		if t != nil {
			roots = append(roots, References(t, nil)...)
		}
	}
	add(task.Output)
	for _, name := range task.MethodNames() {
		method := task.Methods[name]
		for _, p := range method.Params {
			add(p)
		}
		add(method.Return)
	}
	closure := Resolve(m.Catalog, roots...)
	for name := range m.taskNames {
		delete(closure, name)
	}
	return closure
}

// Render produces the context document for task: the declarations of every
// catalogued type in its closure, in lexical order by identifier, followed by
// one body-less function stub per capability, in lexical order by name, each
// preceded by its hint as a comment. Aliases from a namespace are grouped in
// a declare namespace block placed at its first member.
func (m *Module) Render(task *Task) string {
	var ids []string
	groups := map[string][]string{}
	for _, id := range m.Closure(task).Sorted() {
		if _, ok := m.Catalog.Lookup(id); !ok {
			continue
		}
		ids = append(ids, id)
		if ns := Namespace(id); ns != "" {
			groups[ns] = append(groups[ns], id)
		}
	}

	var blocks []string
	for _, id := range ids {
		ns := Namespace(id)
		if ns == "" {
			decl, _ := m.Catalog.Lookup(id)
			blocks = append(blocks, tsast.Render(decl))
			continue
		}
		members, pending := groups[ns]
		if !pending {
			continue
		}
		delete(groups, ns)
		blocks = append(blocks, m.renderNamespace(ns, members))
	}
	for _, name := range task.MethodNames() {
		blocks = append(blocks, tsast.Render(stub(task.Methods[name])))
	}
	if len(blocks) == 0 {
		return ""
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

func (m *Module) renderNamespace(ns string, ids []string) string {
	var b strings.Builder
	b.WriteString("declare namespace " + ns + " {")
	for _, id := range ids {
		decl, _ := m.Catalog.Lookup(id)
		b.WriteString("\n" + indent + strings.ReplaceAll(tsast.Render(decl), "\n", "\n"+indent))
	}
	b.WriteString("\n}")
	return b.String()
}

const indent = "    "

// Description returns the task's decorator-supplied description verbatim.
func (m *Module) Description(task *Task) string {
	return task.Description
}

func stub(method *Method) *tsast.FuncDecl {
	fn := &tsast.FuncDecl{
		Name:     method.Name,
		Declare:  true,
		Return:   method.Return,
		Comments: strings.Split(method.Hint, "\n"),
	}
	for i, t := range method.Params {
		fn.Params = append(fn.Params, tsast.Param{Name: fmt.Sprintf("arg%d", i), Type: t})
	}
	return fn
}

// Export describes one capability for exports inquiries.
type Export struct {
	Name      string `json:"name"`
	Hint      string `json:"hint"`
	Signature string `json:"signature"`
}

// Exports lists task's capabilities in lexical order.
func (m *Module) Exports(task *Task) []Export {
	out := make([]Export, 0, len(task.Methods))
	for _, name := range task.MethodNames() {
		method := task.Methods[name]
		fn := stub(method)
		fn.Comments = nil
		fn.Declare = false
		sig := strings.TrimSuffix(strings.TrimPrefix(tsast.Render(fn), "function "), ";")
		out = append(out, Export{Name: name, Hint: method.Hint, Signature: sig})
	}
	return out
}
