package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"trackway/internal/compiler"
	"trackway/internal/config"
	"trackway/internal/db"
	"trackway/internal/engine"
	"trackway/internal/migrate"
	"trackway/internal/repo"
)

const thermoSource = `
type Reading = { celsius: number; station: Station };
type Station = string;

@task("Read temperatures from weather stations and convert them between units on request")
export class Thermo extends Task<Reading> {
    @hint("Convert a temperature in degrees celsius into degrees fahrenheit and return it")
    convert(celsius: number): number {
        return celsius * 1.8 + 32;
    }
}
`

const gaugeSource = `
type Level = number;

@task("Watch a river gauge and report water levels for the stations the user asks about")
export class Thermo extends Task<Level> {
    @hint("Return the current water level in metres reported by the named gauge station")
    level(station: string): Level {
        return 0;
    }
}
`

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng, err := engine.New(conn, cfg, nil, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: ctx}
}

func TestCompileUsesCache(t *testing.T) {
	env := newTestEnv(t, nil)
	a, err := env.Engine.Compile("thermo.ts", thermoSource)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	b, err := env.Engine.Compile("thermo.ts", thermoSource)
	if err != nil {
		t.Fatalf("compile again: %v", err)
	}
	if a != b {
		t.Fatalf("expected cached module for identical source")
	}
	c, err := env.Engine.Compile("thermo.ts", thermoSource+"\ntype Extra = string;\n")
	if err != nil {
		t.Fatalf("compile changed: %v", err)
	}
	if c == a {
		t.Fatalf("changed source must recompile")
	}
	if _, err := env.Engine.Compile("broken.ts", "type A = {\n  x: ;\n}"); err == nil {
		t.Fatalf("expected syntax error")
	}
}

func TestInstallAndFindTask(t *testing.T) {
	env := newTestEnv(t, nil)
	res, err := env.Engine.InstallModule(env.Ctx, engine.InstallOptions{Source: "mods/thermo.ts", Content: thermoSource})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if res.Module.Name != "thermo" || res.Module.Version != 1 {
		t.Fatalf("unexpected module %+v", res.Module)
	}
	if len(res.Module.Tasks) != 1 || res.Module.Tasks[0] != "Thermo" {
		t.Fatalf("tasks = %v", res.Module.Tasks)
	}
	if res.Module.Digest != engine.Digest(thermoSource) {
		t.Fatalf("digest mismatch")
	}

	mod, task, err := env.Engine.FindTask(env.Ctx, "Thermo")
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	tc := engine.Describe(mod, task)
	if !strings.Contains(tc.Context, "type Reading") || !strings.Contains(tc.Context, "type Station") {
		t.Fatalf("context missing aliases:\n%s", tc.Context)
	}
	if len(tc.Exports) != 1 || tc.Exports[0].Name != "convert" {
		t.Fatalf("exports = %+v", tc.Exports)
	}

	if _, _, err := env.Engine.FindTask(env.Ctx, "Missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInstallRejectsDuplicatesUnlessReplacing(t *testing.T) {
	env := newTestEnv(t, nil)
	opts := engine.InstallOptions{Source: "thermo.ts", Content: thermoSource}
	if _, err := env.Engine.InstallModule(env.Ctx, opts); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := env.Engine.InstallModule(env.Ctx, opts); !errors.Is(err, repo.ErrExists) {
		t.Fatalf("expected exists error, got %v", err)
	}
	opts.Replace = true
	opts.Content = thermoSource + "\ntype Extra = string;\n"
	res, err := env.Engine.InstallModule(env.Ctx, opts)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if res.Module.Version != 2 {
		t.Fatalf("version = %d, want 2", res.Module.Version)
	}
}

func TestInstallTaskCollision(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.Engine.InstallModule(env.Ctx, engine.InstallOptions{Source: "thermo.ts", Content: thermoSource}); err != nil {
		t.Fatalf("install: %v", err)
	}
	_, err := env.Engine.InstallModule(env.Ctx, engine.InstallOptions{Source: "gauge.ts", Content: gaugeSource})
	if !errors.Is(err, compiler.ErrDuplicateTask) {
		t.Fatalf("expected duplicate task, got %v", err)
	}
	if _, err := env.Engine.Repo.GetModule(env.Ctx, "gauge"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("rejected module must not be stored: %v", err)
	}
	mod, _, err := env.Engine.FindTask(env.Ctx, "Thermo")
	if err != nil || mod.Path != "thermo.ts" {
		t.Fatalf("original task lost: %v", err)
	}
}

func TestInstallTaskCollisionReplace(t *testing.T) {
	cfg := config.Default()
	cfg.Compiler.Collision = "replace"
	env := newTestEnv(t, cfg)
	if _, err := env.Engine.InstallModule(env.Ctx, engine.InstallOptions{Source: "thermo.ts", Content: thermoSource}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := env.Engine.InstallModule(env.Ctx, engine.InstallOptions{Source: "gauge.ts", Content: gaugeSource}); err != nil {
		t.Fatalf("install gauge: %v", err)
	}
	mod, _, err := env.Engine.FindTask(env.Ctx, "Thermo")
	if err != nil || mod.Path != "gauge.ts" {
		t.Fatalf("expected gauge to own Thermo: %v", err)
	}
}

func TestInstallRequiresTasks(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.Engine.InstallModule(env.Ctx, engine.InstallOptions{Source: "types.ts", Content: "type A = string;"})
	if !errors.Is(err, engine.ErrNoTasks) {
		t.Fatalf("expected no tasks error, got %v", err)
	}
}

func TestRegistryReloadsFromDatabase(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.Engine.InstallModule(env.Ctx, engine.InstallOptions{Source: "thermo.ts", Content: thermoSource}); err != nil {
		t.Fatalf("install: %v", err)
	}
	fresh, err := engine.New(env.Engine.DB, env.Engine.Config, nil, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	names, err := fresh.TaskNames(env.Ctx)
	if err != nil {
		t.Fatalf("task names: %v", err)
	}
	if len(names) != 1 || names[0] != "Thermo" {
		t.Fatalf("names = %v", names)
	}
}

func TestRemoveModule(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.Engine.InstallModule(env.Ctx, engine.InstallOptions{Source: "thermo.ts", Content: thermoSource}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := env.Engine.RemoveModule(env.Ctx, "thermo"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, _, err := env.Engine.FindTask(env.Ctx, "Thermo"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("task still registered: %v", err)
	}
	if err := env.Engine.RemoveModule(env.Ctx, "thermo"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := env.Engine.LoadModule(env.Ctx, "thermo"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on load, got %v", err)
	}
}

func TestModuleName(t *testing.T) {
	cases := map[string]string{
		"thermo.ts":                          "thermo",
		"/abs/path/gauge.tsx":                "gauge",
		"https://example.com/m/types.d.ts?x": "types",
		"plain":                              "plain",
	}
	for in, want := range cases {
		if got := engine.ModuleName(in); got != want {
			t.Errorf("ModuleName(%q) = %q, want %q", in, got, want)
		}
	}
}
