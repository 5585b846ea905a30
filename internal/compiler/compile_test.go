package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackway/internal/tsast"
)

const weatherSource = `
import { Task, task, hint } from "trackway";

type Forecast = { days: Day[]; unit: Unit };
type Day = { date: string; high: number; low: number };
type Unit = "C" | "F";
type City = string;
type Unused = { never: boolean };

@task("Look up weather forecasts for cities around the world and summarise them for the user")
export class Weather extends Task<Forecast> {
    @hint("Fetch the multi day forecast for the given city using the preferred temperature unit")
    forecast(city: City, unit: Unit): Forecast {
        return fetchForecast(city, unit);
    }

    @hint("Convert")
    convert(value: number): number {
        return value * 1.8 + 32;
    }

    private cache(key: string) {}
}

export class NotATask extends Task<Forecast> {}
`

func compileSource(t *testing.T, src string) *Module {
	t.Helper()
	m, err := Compile("weather.ts", src, DefaultOptions())
	require.NoError(t, err)
	return m
}

func TestExtractTask(t *testing.T) {
	m := compileSource(t, weatherSource)
	require.Empty(t, m.Errors)
	require.Equal(t, []string{"Weather"}, m.TaskNames())

	task, ok := m.Task("Weather")
	require.True(t, ok)
	assert.Equal(t, "Look up weather forecasts for cities around the world and summarise them for the user", task.Description)
	assert.Equal(t, "Forecast", task.Output.(*tsast.TypeRef).Name)
	assert.Equal(t, []string{"convert", "forecast"}, task.MethodNames())

	fc := task.Methods["forecast"]
	require.Len(t, fc.Params, 2)
	assert.Equal(t, "City", fc.Params[0].(*tsast.TypeRef).Name)
	assert.Equal(t, "Forecast", fc.Return.(*tsast.TypeRef).Name)
	assert.NotContains(t, task.Methods, "cache")
}

func TestExtractSingleHintedMethod(t *testing.T) {
	m := compileSource(t, `
@task("d")
class T extends Base<Out> {
    @hint("h")
    run(a: In): Out { return a }
    other(b: In) {}
}`)
	require.Len(t, m.Tasks, 1)
	require.Len(t, m.Tasks["T"].Methods, 1)
	assert.Contains(t, m.Tasks["T"].Methods, "run")
}

func TestExtractRejectsMalformedSignatures(t *testing.T) {
	cases := map[string]string{
		"untyped":     `run(a): Out {}`,
		"union":       `run(a: In | Out) {}`,
		"array":       `run(a: In[]) {}`,
		"object":      `run(a: { x: In }) {}`,
		"return":      `run(a: In): In | Out {}`,
		"generic arg": `run(a: Box<{ x: In }>) {}`,
	}
	for name, method := range cases {
		t.Run(name, func(t *testing.T) {
			m := compileSource(t, `
@task("broken")
class Broken extends Task<Out> {
    @hint("h")
    `+method+`
}

@task("fine")
class Fine extends Task<Out> {
    @hint("h")
    run(a: In): Out {}
}`)
			require.Len(t, m.Errors, 1)
			assert.True(t, errors.Is(m.Errors[0], ErrMalformedSignature))
			var se *SignatureError
			require.True(t, errors.As(m.Errors[0], &se))
			assert.Equal(t, "Broken", se.Task)
			assert.Equal(t, "run", se.Method)
			assert.NotContains(t, m.Tasks, "Broken")
			assert.Contains(t, m.Tasks, "Fine")
		})
	}
}

func TestExtractSkipsClassesOutsideThePattern(t *testing.T) {
	m := compileSource(t, `
@task(123)
class NumberArg extends Task<Out> {}

@task("two", "args")
class TwoArgs extends Task<Out> {}

@task("no base")
class NoBase {}

@task("two type args")
class Pair extends Task<A, B> {}

@other("x")
class Other extends Task<Out> {}

namespace ns {
    @lib.task("nested task")
    export class Nested extends Task<Out> {}
}
`)
	assert.Empty(t, m.Errors)
	assert.Equal(t, []string{"Nested"}, m.TaskNames())
}

func TestRenderContextDocument(t *testing.T) {
	m := compileSource(t, weatherSource)
	task := m.Tasks["Weather"]

	closure := m.Closure(task)
	assert.Equal(t, []string{"City", "Day", "Forecast", "Unit"}, closure.Sorted())
	assert.False(t, closure.Has("Weather"))

	want := `type City = string;

type Day = {
    date: string;
    high: number;
    low: number;
};

type Forecast = {
    days: Day[];
    unit: Unit;
};

type Unit = "C" | "F";

// Convert
declare function convert(arg0: number): number;

// Fetch the multi day forecast for the given city using the preferred temperature unit
declare function forecast(arg0: City, arg1: Unit): Forecast;
`
	doc := m.Render(task)
	assert.Equal(t, want, doc)
	assert.NotContains(t, doc, "@")
	assert.NotContains(t, doc, "return")
	assert.Equal(t, m.Render(task), doc)
	assert.Equal(t, task.Description, m.Description(task))
}

func TestRenderNamespacedAliases(t *testing.T) {
	m := compileSource(t, `
type Item = { sku: string };
namespace Legacy {
    export type Item = number;
    export type Batch = { items: Item[] };
}
declare global {
    type Sku = string;
}

@task("Move stock between the legacy and current inventory systems when asked")
class Stock extends Task<Item> {
    @hint("Convert a current inventory item into its legacy numeric identifier")
    add(item: Item, sku: Sku): Legacy.Batch {}
}`)
	task := m.Tasks["Stock"]
	assert.Equal(t, []string{"Item", "Legacy.Batch", "Legacy.Item", "Sku"}, m.Closure(task).Sorted())

	want := `type Item = {
    sku: string;
};

declare namespace Legacy {
    type Batch = {
        items: Item[];
    };
    type Item = number;
}

type Sku = string;

// Convert a current inventory item into its legacy numeric identifier
declare function add(arg0: Item, arg1: Sku): Legacy.Batch;
`
	assert.Equal(t, want, m.Render(task))
}

func TestClosureExcludesTaskNames(t *testing.T) {
	m := compileSource(t, `
type Out = { other: Helper };
@task("first")
class Helper extends Task<Out> {}
@task("second")
class Main extends Task<Main> {
    @hint("h")
    go(h: Helper): Out {}
}`)
	closure := m.Closure(m.Tasks["Main"])
	assert.Equal(t, []string{"Out"}, closure.Sorted())
}

func TestDiagnostics(t *testing.T) {
	m := compileSource(t, weatherSource)
	require.Len(t, m.Diagnostics, 1)
	assert.Equal(t, msgShortHint, m.Diagnostics[0].Message)
	assert.Equal(t, "Weather", m.Diagnostics[0].Task)
	assert.Equal(t, SeverityWarning, m.Diagnostics[0].Severity)
	assert.Equal(t, "weather.ts", m.Diagnostics[0].Path)

	m = compileSource(t, `
@task("short")
class T extends Task<Missing> {}

@task("misses a base")
class U {}
`)
	var msgs []string
	for _, d := range m.Diagnostics {
		msgs = append(msgs, d.Message)
	}
	assert.Contains(t, msgs, msgShortDescription)
	assert.Contains(t, msgs, msgUnresolvedOutput)
	assert.Len(t, msgs, 3)
}

func TestExports(t *testing.T) {
	m := compileSource(t, weatherSource)
	exports := m.Exports(m.Tasks["Weather"])
	require.Len(t, exports, 2)
	assert.Equal(t, "convert", exports[0].Name)
	assert.Equal(t, "convert(arg0: number): number", exports[0].Signature)
	assert.Equal(t, "forecast(arg0: City, arg1: Unit): Forecast", exports[1].Signature)
}

func TestCompileSyntaxError(t *testing.T) {
	_, err := Compile("bad.ts", "type = ;\ntype X = ", DefaultOptions())
	require.Error(t, err)
}

func TestMatchStringDecorator(t *testing.T) {
	cls := &tsast.ClassDecl{Decorators: []tsast.Decorator{
		{Callee: "task"},
		{Callee: "task", Call: true, Args: []tsast.Expr{&tsast.RawExpr{Text: "x"}}},
		{Callee: "mytask", Call: true, Args: []tsast.Expr{&tsast.StringLit{Value: "wrong"}}},
		{Callee: "sdk.task", Call: true, Args: []tsast.Expr{&tsast.StringLit{Value: "right"}}},
		{Callee: "task", Call: true, Args: []tsast.Expr{&tsast.StringLit{Value: "later"}}},
	}}
	match, ok := MatchStringDecorator(cls, TaskDecorator)
	require.True(t, ok)
	assert.Equal(t, "right", match.Value)
	assert.Equal(t, "sdk.task", match.Callee)

	_, ok = MatchStringDecorator(&tsast.Method{}, HintDecorator)
	assert.False(t, ok)
}
