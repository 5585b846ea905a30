package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"trackway/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

const moduleColumns = `id,name,source,version,digest,tasks_json,installed_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanModule(row scanner, extra ...any) (domain.Module, error) {
	var m domain.Module
	var tasks string
	dest := append([]any{&m.ID, &m.Name, &m.Source, &m.Version, &m.Digest, &tasks, &m.InstalledAt, &m.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, ErrNotFound
		}
		return m, err
	}
	if err := json.Unmarshal([]byte(tasks), &m.Tasks); err != nil {
		return m, fmt.Errorf("decode tasks of module %s: %w", m.Name, err)
	}
	return m, nil
}

func (r Repo) InsertModule(ctx context.Context, m domain.ModuleSource) error {
	tasks, err := json.Marshal(nonNil(m.Tasks))
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO modules(id,name,source,version,digest,content,tasks_json,installed_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Name, m.Source, m.Version, m.Digest, m.Content, string(tasks), m.InstalledAt, m.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("module %s: %w", m.Name, ErrExists)
	}
	return err
}

// UpdateModule replaces the source of an existing module and bumps its version.
func (r Repo) UpdateModule(ctx context.Context, m domain.ModuleSource) error {
	tasks, err := json.Marshal(nonNil(m.Tasks))
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE modules SET source=?, version=version+1, digest=?, content=?, tasks_json=?, updated_at=? WHERE name=?`,
		m.Source, m.Digest, m.Content, string(tasks), m.UpdatedAt, m.Name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetModule(ctx context.Context, name string) (domain.Module, error) {
	return scanModule(r.DB.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules WHERE name=?`, name))
}

func (r Repo) GetModuleSource(ctx context.Context, name string) (domain.ModuleSource, error) {
	var src domain.ModuleSource
	m, err := scanModule(r.DB.QueryRowContext(ctx, `SELECT `+moduleColumns+`,content FROM modules WHERE name=?`, name), &src.Content)
	if err != nil {
		return src, err
	}
	src.Module = m
	return src, nil
}

func (r Repo) ListModules(ctx context.Context) ([]domain.Module, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+moduleColumns+` FROM modules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) DeleteModule(ctx context.Context, name string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM modules WHERE name=?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
