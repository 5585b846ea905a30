package compiler

import (
	"fmt"
	"strings"

	"trackway/internal/tsast"
)

type Severity string

const SeverityWarning Severity = "warning"

// Diagnostic is a non-fatal finding about a module.
type Diagnostic struct {
	Path     string    `json:"path"`
	Pos      tsast.Pos `json:"pos"`
	Severity Severity  `json:"severity"`
	Task     string    `json:"task,omitempty"`
	Message  string    `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.Path, d.Pos.Line, d.Pos.Col, d.Severity, d.Message)
}

const (
	msgShortDescription = "the `@task` description is short: try expanding on what the task does"
	msgShortHint        = "the `@hint` description is short: try expanding on how the method is used"
	msgUnresolvedOutput = "unable to resolve the output type of this task: try simplifying the type hints"
)

func wordCount(s string) int { return len(strings.Fields(s)) }

func lint(path string, task *Task, cat *Catalog, opts Options) []Diagnostic {
	var out []Diagnostic
	warn := func(pos tsast.Pos, msg string) {
		out = append(out, Diagnostic{Path: path, Pos: pos, Severity: SeverityWarning, Task: task.Name, Message: msg})
	}
	if wordCount(task.Description) < opts.MinDescriptionWords {
		warn(task.DescriptionPos, msgShortDescription)
	}
	for _, name := range task.MethodNames() {
		m := task.Methods[name]
		if wordCount(m.Hint) < opts.MinHintWords {
			warn(m.HintPos, msgShortHint)
		}
	}
	ref, ok := task.Output.(*tsast.TypeRef)
	if !ok {
		warn(task.OutputPos, msgUnresolvedOutput)
	} else if _, found := cat.Lookup(ref.Name); !found {
		warn(task.OutputPos, msgUnresolvedOutput)
	}
	return out
}
