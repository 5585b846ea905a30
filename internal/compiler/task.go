package compiler

import (
	"errors"
	"fmt"
	"sort"

	"trackway/internal/tsast"
)

// Task is one `@task` class.
type Task struct {
	Name        string
	Description string
	// Output is the single type argument of the extended base class.
	Output  tsast.TypeExpr
	Methods map[string]*Method
	Pos     tsast.Pos
	// DescriptionPos and OutputPos locate diagnostics.
	DescriptionPos tsast.Pos
	OutputPos      tsast.Pos
}

// Method is one `@hint` capability of a task.
type Method struct {
	Name    string
	Params  []tsast.TypeExpr
	Return  tsast.TypeExpr
	Hint    string
	HintPos tsast.Pos
}

// MethodNames returns the capability names in lexical order.
func (t *Task) MethodNames() []string {
	names := make([]string, 0, len(t.Methods))
	for name := range t.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrMalformedSignature is wrapped by every SignatureError.
var ErrMalformedSignature = errors.New("malformed capability signature")

// SignatureError rejects a task whose capability cannot be described to a
// peer. Param is the zero-based parameter index, or -1 for the return type.
type SignatureError struct {
	Path   string
	Task   string
	Method string
	Param  int
	Pos    tsast.Pos
	Reason string
}

func (e *SignatureError) Error() string {
	where := "return type"
	if e.Param >= 0 {
		where = fmt.Sprintf("parameter %d", e.Param)
	}
	return fmt.Sprintf("%s:%d:%d: task %s: method %s: %s: %s: %s",
		e.Path, e.Pos.Line, e.Pos.Col, e.Task, e.Method, where, ErrMalformedSignature, e.Reason)
}

func (e *SignatureError) Unwrap() error { return ErrMalformedSignature }

// extractResult carries what one pass over a module found.
type extractResult struct {
	tasks  map[string]*Task
	errs   []error
	notes  []Diagnostic
	ignore map[string]bool
}

// Extract finds every task class in mod, including classes nested in
// namespaces. A class that does not match the task pattern is skipped; a
// task with a malformed capability is reported in the returned errors and
// left out of the map, without affecting the other tasks.
func Extract(mod *tsast.Module) (map[string]*Task, []error) {
	res := extract(mod)
	return res.tasks, res.errs
}

func extract(mod *tsast.Module) extractResult {
	res := extractResult{tasks: map[string]*Task{}, ignore: map[string]bool{}}
	tsast.WalkDecls(mod.Decls, func(d tsast.Decl) {
		cls, ok := d.(*tsast.ClassDecl)
		if !ok {
			return
		}
		desc, ok := MatchStringDecorator(cls, TaskDecorator)
		if !ok {
			return
		}
		// Every class carrying the decorator names a task, even one that
		// later fails; closures must never treat it as a type.
		res.ignore[cls.Name] = true
		if cls.Extends == nil || len(cls.Extends.Args) != 1 {
			res.notes = append(res.notes, Diagnostic{
				Path:     mod.Path,
				Pos:      cls.Pos,
				Severity: SeverityWarning,
				Task:     cls.Name,
				Message:  "`@task` classes must extend a base class with exactly one type argument: class skipped",
			})
			return
		}
		task, err := matchTask(mod.Path, cls, desc)
		if err != nil {
			res.errs = append(res.errs, err)
			return
		}
		res.tasks[task.Name] = task
	})
	return res
}

func matchTask(path string, cls *tsast.ClassDecl, desc DecoratorMatch) (*Task, error) {
	task := &Task{
		Name:           cls.Name,
		Description:    desc.Value,
		Output:         cls.Extends.Args[0],
		Methods:        map[string]*Method{},
		Pos:            cls.Pos,
		DescriptionPos: desc.Pos,
		OutputPos:      cls.Extends.Pos,
	}
	if ref, ok := task.Output.(*tsast.TypeRef); ok {
		task.OutputPos = ref.Pos
	}
	for _, member := range cls.Members {
		m, ok := member.(*tsast.Method)
		if !ok || m.Kind != tsast.KindMethod || m.Computed {
			continue
		}
		hint, ok := MatchStringDecorator(m, HintDecorator)
		if !ok {
			continue
		}
		method, err := matchMethod(m, hint)
		if err != nil {
			err.Path, err.Task = path, cls.Name
			return nil, err
		}
		task.Methods[method.Name] = method
	}
	return task, nil
}

func matchMethod(m *tsast.Method, hint DecoratorMatch) (*Method, *SignatureError) {
	method := &Method{Name: m.Name, Hint: hint.Value, HintPos: hint.Pos}
	for i, prm := range m.Params {
		fail := func(reason string) *SignatureError {
			return &SignatureError{Method: m.Name, Param: i, Pos: prm.Pos, Reason: reason}
		}
		switch {
		case prm.Type == nil:
			return nil, fail(fmt.Sprintf("parameter %q has no type annotation", prm.Name))
		case !isSimpleType(prm.Type):
			return nil, fail(fmt.Sprintf("parameter %q type %s is not a simple type reference", prm.Name, tsast.Render(prm.Type)))
		}
		method.Params = append(method.Params, prm.Type)
	}
	if m.Return != nil {
		if !isSimpleType(m.Return) {
			return nil, &SignatureError{
				Method: m.Name,
				Param:  -1,
				Pos:    m.Pos,
				Reason: fmt.Sprintf("return type %s is not a simple type reference", tsast.Render(m.Return)),
			}
		}
		method.Return = m.Return
	}
	return method, nil
}

// isSimpleType accepts keywords and named references whose type arguments
// are themselves simple.
func isSimpleType(t tsast.TypeExpr) bool {
	switch t := t.(type) {
	case *tsast.KeywordType:
		return true
	case *tsast.TypeRef:
		for _, a := range t.Args {
			if !isSimpleType(a) {
				return false
			}
		}
		return true
	}
	return false
}
