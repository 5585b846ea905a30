package compiler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// CollisionPolicy decides what happens when two modules declare a task with
// the same name.
type CollisionPolicy string

const (
	CollisionError   CollisionPolicy = "error"
	CollisionReplace CollisionPolicy = "replace"
)

func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch CollisionPolicy(s) {
	case "", CollisionError:
		return CollisionError, nil
	case CollisionReplace:
		return CollisionReplace, nil
	}
	return "", fmt.Errorf("unknown collision policy %q (want error or replace)", s)
}

var ErrDuplicateTask = errors.New("duplicate task")

// DuplicateTaskError names the task and both modules declaring it.
type DuplicateTaskError struct {
	Name     string
	Existing string
	Incoming string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("%s: %s declared in %s and %s", ErrDuplicateTask, e.Name, e.Existing, e.Incoming)
}

func (e *DuplicateTaskError) Unwrap() error { return ErrDuplicateTask }

// Entry is a registered task together with the module it came from.
type Entry struct {
	Module *Module
	Task   *Task
}

// Registry owns the task names of one compilation unit. Registering tasks
// again from the same module path always replaces them.
type Registry struct {
	mu     sync.RWMutex
	policy CollisionPolicy
	tasks  map[string]Entry
}

func NewRegistry(policy CollisionPolicy) *Registry {
	if policy == "" {
		policy = CollisionError
	}
	return &Registry{policy: policy, tasks: map[string]Entry{}}
}

// Add registers every task of m. Under CollisionError nothing is registered
// when any name is already held by another module.
func (r *Registry) Add(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.policy == CollisionError {
		for _, name := range m.TaskNames() {
			if prev, ok := r.tasks[name]; ok && prev.Module.Path != m.Path {
				return &DuplicateTaskError{Name: name, Existing: prev.Module.Path, Incoming: m.Path}
			}
		}
	}
	for name, entry := range r.tasks {
		if entry.Module.Path == m.Path {
			delete(r.tasks, name)
		}
	}
	for _, name := range m.TaskNames() {
		r.tasks[name] = Entry{Module: m, Task: m.Tasks[name]}
	}
	return nil
}

func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[name]
	return e, ok
}

// Remove drops every task registered from path and reports how many.
func (r *Registry) Remove(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, entry := range r.tasks {
		if entry.Module.Path == path {
			delete(r.tasks, name)
			n++
		}
	}
	return n
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
