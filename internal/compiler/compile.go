package compiler

import (
	"sort"

	"trackway/internal/tsast"
	"trackway/internal/tsparse"
)

// Options tunes diagnostics.
type Options struct {
	MinDescriptionWords int
	MinHintWords        int
}

func DefaultOptions() Options {
	return Options{MinDescriptionWords: 12, MinHintWords: 12}
}

// Module is one compiled source file.
type Module struct {
	Path    string
	AST     *tsast.Module
	Catalog *Catalog
	Tasks   map[string]*Task
	// Errors holds one SignatureError per rejected task.
	Errors      []error
	Diagnostics []Diagnostic

	taskNames map[string]bool
}

// Compile parses source and compiles it. Only syntax errors are returned;
// per-task problems land in Module.Errors.
func Compile(path, source string, opts Options) (*Module, error) {
	ast, err := tsparse.Parse(path, source)
	if err != nil {
		return nil, err
	}
	return CompileAST(ast, opts), nil
}

// CompileAST compiles an already parsed module.
func CompileAST(ast *tsast.Module, opts Options) *Module {
	cat := BuildCatalog(ast)
	res := extract(ast)
	m := &Module{
		Path:        ast.Path,
		AST:         ast,
		Catalog:     cat,
		Tasks:       res.tasks,
		Errors:      res.errs,
		Diagnostics: res.notes,
		taskNames:   res.ignore,
	}
	for _, name := range m.TaskNames() {
		m.Diagnostics = append(m.Diagnostics, lint(ast.Path, m.Tasks[name], cat, opts)...)
	}
	sort.SliceStable(m.Diagnostics, func(i, j int) bool {
		a, b := m.Diagnostics[i].Pos, m.Diagnostics[j].Pos
		return a.Line < b.Line || a.Line == b.Line && a.Col < b.Col
	})
	return m
}

// TaskNames returns the names of the successfully extracted tasks in lexical
// order.
func (m *Module) TaskNames() []string {
	names := make([]string, 0, len(m.Tasks))
	for name := range m.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Module) Task(name string) (*Task, bool) {
	t, ok := m.Tasks[name]
	return t, ok
}
