package compiler

import (
	"strings"

	"trackway/internal/tsast"
)

const (
	TaskDecorator = "task"
	HintDecorator = "hint"
)

// DecoratorMatch is the payload of a decorator called with a single string
// literal, such as `@task("...")`.
type DecoratorMatch struct {
	Callee string
	Value  string
	Pos    tsast.Pos
}

// MatchStringDecorator returns the first decorator on node whose callee is
// name, or a qualified path ending in name, called with exactly one string
// literal argument.
func MatchStringDecorator(node tsast.Decorated, name string) (DecoratorMatch, bool) {
	for _, d := range node.DecoratorList() {
		if !d.Call || len(d.Args) != 1 {
			continue
		}
		if d.Callee != name && !strings.HasSuffix(d.Callee, "."+name) {
			continue
		}
		lit, ok := d.Args[0].(*tsast.StringLit)
		if !ok {
			continue
		}
		return DecoratorMatch{Callee: d.Callee, Value: lit.Value, Pos: lit.Pos}, true
	}
	return DecoratorMatch{}, false
}
