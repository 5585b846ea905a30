package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"trackway/internal/compiler"
	"trackway/internal/engine"
	"trackway/internal/repo"
)

// MaxSourceBytes bounds module sources fetched over http.
const MaxSourceBytes = 4 << 20

// Source is module text together with where it came from.
type Source struct {
	Path    string
	Content string
}

// IsURL reports whether ref names an http(s) location.
func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// ReadSource loads module text from a file path or an http(s) URL.
func ReadSource(ctx context.Context, ref string) (Source, error) {
	if !IsURL(ref) {
		data, err := os.ReadFile(ref)
		if err != nil {
			return Source{}, err
		}
		return Source{Path: ref, Content: string(data)}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return Source{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Source{}, fmt.Errorf("fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Source{}, fmt.Errorf("fetch %s: %s", ref, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxSourceBytes+1))
	if err != nil {
		return Source{}, fmt.Errorf("fetch %s: %w", ref, err)
	}
	if len(data) > MaxSourceBytes {
		return Source{}, fmt.Errorf("fetch %s: module larger than %d bytes", ref, MaxSourceBytes)
	}
	return Source{Path: ref, Content: string(data)}, nil
}

// ResolveModule finds the module behind ref. An installed module name wins
// over a file of the same name; anything else is read and compiled in place.
func ResolveModule(ctx context.Context, eng engine.Engine, ref string) (*compiler.Module, error) {
	if !IsURL(ref) && !strings.ContainsAny(ref, `/\`) && !strings.HasSuffix(ref, ".ts") {
		m, _, err := eng.LoadModule(ctx, ref)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	src, err := ReadSource(ctx, ref)
	if err != nil {
		return nil, err
	}
	return eng.Compile(src.Path, src.Content)
}

// ResolveTask picks a task from ref. With no ref the installed registry is
// searched; a module holding a single task needs no task name.
func ResolveTask(ctx context.Context, eng engine.Engine, ref, task string) (*compiler.Module, string, error) {
	if ref == "" {
		if task == "" {
			return nil, "", errors.New("task name is required")
		}
		m, _, err := eng.FindTask(ctx, task)
		if err != nil {
			return nil, "", err
		}
		return m, task, nil
	}
	m, err := ResolveModule(ctx, eng, ref)
	if err != nil {
		return nil, "", err
	}
	if task == "" {
		names := m.TaskNames()
		if len(names) != 1 {
			return nil, "", fmt.Errorf("%s declares %d tasks; name one of %v", ref, len(names), names)
		}
		task = names[0]
	}
	return m, task, nil
}
