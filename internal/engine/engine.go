package engine

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"trackway/internal/compiler"
	"trackway/internal/config"
	"trackway/internal/domain"
	"trackway/internal/events"
	"trackway/internal/metrics"
	"trackway/internal/repo"
)

const defaultCacheSize = 128

var ErrNoTasks = errors.New("module declares no tasks")

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Collector

	cache    *lru.Cache[string, *compiler.Module]
	registry *compiler.Registry
	// loadMu guards the first fill of the registry from the database.
	loadMu *sync.Mutex
	loaded *bool
}

func New(db *sql.DB, cfg *config.Config, logger *zap.Logger, m *metrics.Collector) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.Compiler.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, *compiler.Module](size)
	if err != nil {
		return Engine{}, fmt.Errorf("compile cache: %w", err)
	}
	policy, err := compiler.ParseCollisionPolicy(cfg.Compiler.Collision)
	if err != nil {
		return Engine{}, err
	}
	r := repo.Repo{DB: db}
	logger = logger.With(zap.String("component", "engine"))
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{Repo: r, Logger: logger},
		Config:   cfg,
		Now:      time.Now,
		Logger:   logger,
		Metrics:  m,
		cache:    cache,
		registry: compiler.NewRegistry(policy),
		loadMu:   &sync.Mutex{},
		loaded:   new(bool),
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Digest identifies module source text.
func Digest(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func (e Engine) compilerOptions() compiler.Options {
	opts := compiler.DefaultOptions()
	if e.Config.Compiler.MinDescriptionWords > 0 {
		opts.MinDescriptionWords = e.Config.Compiler.MinDescriptionWords
	}
	if e.Config.Compiler.MinHintWords > 0 {
		opts.MinHintWords = e.Config.Compiler.MinHintWords
	}
	return opts
}

// Compile compiles source, reusing an earlier result for identical input.
func (e Engine) Compile(path, source string) (*compiler.Module, error) {
	key := path + "\x00" + Digest(source)
	if m, ok := e.cache.Get(key); ok {
		e.Metrics.RecordCacheLookup(true)
		return m, nil
	}
	e.Metrics.RecordCacheLookup(false)
	m, err := compiler.Compile(path, source, e.compilerOptions())
	e.Metrics.RecordCompile(err)
	if err != nil {
		return nil, err
	}
	for _, d := range m.Diagnostics {
		e.Logger.Warn(d.Message, zap.String("path", d.Path), zap.Int("line", d.Pos.Line), zap.Int("column", d.Pos.Col), zap.String("task", d.Task))
	}
	for _, err := range m.Errors {
		e.Logger.Warn("task skipped", zap.Error(err))
	}
	e.cache.Add(key, m)
	return m, nil
}

type InstallOptions struct {
	// Name defaults to the source file name without extension.
	Name    string
	Source  string
	Content string
	// Replace updates an existing module of the same name.
	Replace bool
}

type InstallResult struct {
	Module      domain.Module
	Diagnostics []compiler.Diagnostic
	Skipped     []error
}

// InstallModule compiles and stores a module and registers its tasks.
func (e Engine) InstallModule(ctx context.Context, opts InstallOptions) (InstallResult, error) {
	name := opts.Name
	if name == "" {
		name = ModuleName(opts.Source)
	}
	if name == "" {
		return InstallResult{}, errors.New("module name is required")
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return InstallResult{}, err
	}
	mod, err := e.Compile(opts.Source, opts.Content)
	if err != nil {
		return InstallResult{}, err
	}
	tasks := mod.TaskNames()
	if len(tasks) == 0 {
		return InstallResult{}, fmt.Errorf("%s: %w", opts.Source, ErrNoTasks)
	}

	now := e.now().UTC().Format(time.RFC3339)
	src := domain.ModuleSource{
		Module: domain.Module{
			ID:          uuid.NewString(),
			Name:        name,
			Source:      opts.Source,
			Version:     1,
			Digest:      Digest(opts.Content),
			Tasks:       tasks,
			InstalledAt: now,
			UpdatedAt:   now,
		},
		Content: opts.Content,
	}

	existing, err := e.Repo.GetModule(ctx, name)
	switch {
	case err == nil && !opts.Replace:
		return InstallResult{}, fmt.Errorf("module %s: %w", name, repo.ErrExists)
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return InstallResult{}, err
	}
	if err == nil {
		e.registry.Remove(existing.Source)
	}
	if err := e.registry.Add(mod); err != nil {
		if existing.ID != "" {
			if prev, lerr := e.compileStored(ctx, name); lerr == nil {
				_ = e.registry.Add(prev)
			}
		}
		return InstallResult{}, err
	}

	if existing.ID != "" {
		err = e.Repo.UpdateModule(ctx, src)
	} else {
		err = e.Repo.InsertModule(ctx, src)
	}
	if err != nil {
		e.registry.Remove(mod.Path)
		return InstallResult{}, err
	}
	stored, err := e.Repo.GetModule(ctx, name)
	if err != nil {
		return InstallResult{}, err
	}
	e.Logger.Info("module installed", zap.String("module", name), zap.Strings("tasks", tasks), zap.Int("version", stored.Version))
	return InstallResult{Module: stored, Diagnostics: mod.Diagnostics, Skipped: mod.Errors}, nil
}

// ModuleName derives a module name from a path or URL.
func ModuleName(source string) string {
	base := filepath.Base(strings.TrimRight(source, "/"))
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	for _, ext := range []string{".d.ts", ".tsx", ".ts"} {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func (e Engine) compileStored(ctx context.Context, name string) (*compiler.Module, error) {
	src, err := e.Repo.GetModuleSource(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.Compile(src.Source, src.Content)
}

// LoadModule compiles an installed module.
func (e Engine) LoadModule(ctx context.Context, name string) (*compiler.Module, domain.Module, error) {
	src, err := e.Repo.GetModuleSource(ctx, name)
	if err != nil {
		return nil, domain.Module{}, fmt.Errorf("module %s: %w", name, err)
	}
	m, err := e.Compile(src.Source, src.Content)
	if err != nil {
		return nil, domain.Module{}, err
	}
	return m, src.Module, nil
}

func (e Engine) RemoveModule(ctx context.Context, name string) error {
	m, err := e.Repo.GetModule(ctx, name)
	if err != nil {
		return fmt.Errorf("module %s: %w", name, err)
	}
	if err := e.Repo.DeleteModule(ctx, name); err != nil {
		return err
	}
	e.registry.Remove(m.Source)
	e.Logger.Info("module removed", zap.String("module", name))
	return nil
}

// ensureLoaded registers the tasks of every installed module once.
func (e Engine) ensureLoaded(ctx context.Context) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if *e.loaded {
		return nil
	}
	mods, err := e.Repo.ListModules(ctx)
	if err != nil {
		return err
	}
	for _, m := range mods {
		compiled, err := e.compileStored(ctx, m.Name)
		if err != nil {
			e.Logger.Warn("installed module no longer compiles", zap.String("module", m.Name), zap.Error(err))
			continue
		}
		if err := e.registry.Add(compiled); err != nil {
			e.Logger.Warn("installed module not registered", zap.String("module", m.Name), zap.Error(err))
		}
	}
	*e.loaded = true
	return nil
}

// FindTask locates a task across installed modules.
func (e Engine) FindTask(ctx context.Context, name string) (*compiler.Module, *compiler.Task, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, nil, err
	}
	entry, ok := e.registry.Lookup(name)
	if !ok {
		return nil, nil, fmt.Errorf("task %s: %w", name, repo.ErrNotFound)
	}
	return entry.Module, entry.Task, nil
}

// TaskNames lists every registered task.
func (e Engine) TaskNames(ctx context.Context) ([]string, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return e.registry.Names(), nil
}

// TaskContext is everything a peer is told about a task.
type TaskContext struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Context     string            `json:"context"`
	Exports     []compiler.Export `json:"exports"`
}

func Describe(m *compiler.Module, task *compiler.Task) TaskContext {
	return TaskContext{
		Name:        task.Name,
		Description: m.Description(task),
		Context:     m.Render(task),
		Exports:     m.Exports(task),
	}
}
