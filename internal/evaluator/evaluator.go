// Package evaluator runs remote code fragments in a JavaScript runtime.
// Each call gets a fresh runtime, so no state survives between fragments.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var (
	ErrOutputTooLarge = errors.New("result exceeds output limit")
	ErrPending        = errors.New("promise still pending")
)

// ScriptError is an exception thrown by the fragment.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string { return e.Message }

type Options struct {
	// Timeout bounds one evaluation. Zero means only the caller's context.
	Timeout time.Duration
	// MaxOutputBytes caps the encoded result. Zero means unlimited.
	MaxOutputBytes int
	// Globals are installed in every runtime before the fragment runs.
	Globals map[string]any
	Logger  *zap.Logger
}

// JS evaluates fragments with goja.
type JS struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options) *JS {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &JS{opts: opts, log: opts.Logger.With(zap.String("component", "evaluator"))}
}

// Evaluate runs source and returns its completion value as JSON. A promise
// result is unwrapped once the job queue has drained. undefined encodes as
// null.
func (e *JS) Evaluate(ctx context.Context, source string) (json.RawMessage, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vm := goja.New()
	if err := e.install(vm); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	v, err := vm.RunString(source)
	if err != nil {
		return nil, e.wrap(ctx, err)
	}
	v, err = settle(v)
	if err != nil {
		return nil, err
	}

	var exported any
	if v != nil && !goja.IsUndefined(v) {
		exported = v.Export()
	}
	out, err := json.Marshal(exported)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if max := e.opts.MaxOutputBytes; max > 0 && len(out) > max {
		return nil, fmt.Errorf("%d bytes, limit %d: %w", len(out), max, ErrOutputTooLarge)
	}
	return out, nil
}

func (e *JS) install(vm *goja.Runtime) error {
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		e.log.Info("console", zap.String("text", strings.Join(parts, " ")))
		return goja.Undefined()
	}
	for _, name := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(name, logFn); err != nil {
			return fmt.Errorf("install console.%s: %w", name, err)
		}
	}
	if err := vm.Set("console", console); err != nil {
		return fmt.Errorf("install console: %w", err)
	}
	for name, value := range e.opts.Globals {
		if err := vm.Set(name, value); err != nil {
			return fmt.Errorf("install global %s: %w", name, err)
		}
	}
	return nil
}

func (e *JS) wrap(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause := ctx.Err(); cause != nil {
			return fmt.Errorf("evaluation interrupted: %w", cause)
		}
		return fmt.Errorf("evaluation interrupted: %v", interrupted.Value())
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return &ScriptError{Message: exc.Error()}
	}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return &ScriptError{Message: syntax.Error()}
	}
	return fmt.Errorf("evaluate: %w", err)
}

func settle(v goja.Value) (goja.Value, error) {
	if v == nil {
		return nil, nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, &ScriptError{Message: "promise rejected: " + p.Result().String()}
	default:
		return nil, ErrPending
	}
}
