package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"codemap/internal/codemapping"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// PathConfig is one stored code mapping for a project
type PathConfig struct {
	ID                     int64
	Organization           string
	Project                string
	StackRoot              string
	SourceRoot             string
	Repository             string
	Branch                 string
	IntegrationID          *string
	AutomaticallyGenerated bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// PrecedenceKey lets stored rows go through codemapping.SortConfigs.
func (p PathConfig) PrecedenceKey() (string, bool) {
	return p.StackRoot, p.AutomaticallyGenerated
}

// MappingConfig converts the row to the form used by codemapping.Apply.
func (p PathConfig) MappingConfig() codemapping.MappingConfig {
	return codemapping.MappingConfig{
		ID:                     p.ID,
		StackRoot:              p.StackRoot,
		SourceRoot:             p.SourceRoot,
		Repo:                   codemapping.RepoAndBranch{Name: p.Repository, Branch: p.Branch},
		AutomaticallyGenerated: p.AutomaticallyGenerated,
	}
}

// UpsertResult reports what UpsertPathConfig did
type UpsertResult struct {
	Config  *PathConfig
	Created bool
	Updated bool
}

// PathConfigRepository provides CRUD operations for the path_configs table
type PathConfigRepository struct {
	db  *DB
	now func() time.Time
}

// NewPathConfigRepository creates a new path config repository
func NewPathConfigRepository(db *DB) *PathConfigRepository {
	return &PathConfigRepository{db: db, now: time.Now}
}

const pathConfigColumns = `id, organization, project, stack_root, source_root, repository, branch,
	integration_id, automatically_generated, created_at, updated_at`

// Create inserts a user-authored path config
func (r *PathConfigRepository) Create(cfg *PathConfig) error {
	now := r.now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	id, err := insertPathConfig(r.db.conn, cfg)
	if err != nil {
		return err
	}
	cfg.ID = id
	return nil
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func insertPathConfig(e execer, cfg *PathConfig) (int64, error) {
	res, err := e.Exec(`
		INSERT INTO path_configs (
			organization, project, stack_root, source_root, repository, branch,
			integration_id, automatically_generated, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cfg.Organization,
		cfg.Project,
		cfg.StackRoot,
		cfg.SourceRoot,
		cfg.Repository,
		cfg.Branch,
		cfg.IntegrationID,
		cfg.AutomaticallyGenerated,
		cfg.CreatedAt.Format(time.RFC3339),
		cfg.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create path config: %w", err)
	}
	return res.LastInsertId()
}

// Get retrieves a path config by id
func (r *PathConfigRepository) Get(id int64) (*PathConfig, error) {
	row := r.db.QueryRow("SELECT "+pathConfigColumns+" FROM path_configs WHERE id = ?", id)
	cfg, err := scanPathConfig(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get path config: %w", err)
	}
	return cfg, nil
}

// ListForProject returns a project's path configs ordered by id
func (r *PathConfigRepository) ListForProject(project string) ([]*PathConfig, error) {
	rows, err := r.db.Query("SELECT "+pathConfigColumns+" FROM path_configs WHERE project = ? ORDER BY id ASC", project)
	if err != nil {
		return nil, fmt.Errorf("failed to list path configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var configs []*PathConfig
	for rows.Next() {
		cfg, err := scanPathConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan path config: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// Delete removes a path config
func (r *PathConfigRepository) Delete(id int64) error {
	res, err := r.db.Exec("DELETE FROM path_configs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete path config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertPathConfig stores a derived mapping for a project. A missing row is
// created as automatically generated; a generated row is updated in place;
// a user-authored row is returned untouched.
func (r *PathConfigRepository) UpsertPathConfig(org, project string, mapping codemapping.CodeMapping) (*UpsertResult, error) {
	var result *UpsertResult
	err := r.db.WithTx(func(tx *sql.Tx) error {
		row := tx.QueryRow("SELECT "+pathConfigColumns+" FROM path_configs WHERE project = ? AND stack_root = ?",
			project, mapping.StacktraceRoot)
		existing, err := scanPathConfig(row)
		now := r.now().UTC()

		switch {
		case err == sql.ErrNoRows:
			cfg := &PathConfig{
				Organization:           org,
				Project:                project,
				StackRoot:              mapping.StacktraceRoot,
				SourceRoot:             mapping.SourcePath,
				Repository:             mapping.Repo.Name,
				Branch:                 mapping.Repo.Branch,
				AutomaticallyGenerated: true,
				CreatedAt:              now,
				UpdatedAt:              now,
			}
			id, err := insertPathConfig(tx, cfg)
			if err != nil {
				return err
			}
			cfg.ID = id
			result = &UpsertResult{Config: cfg, Created: true}
			return nil
		case err != nil:
			return fmt.Errorf("failed to look up path config: %w", err)
		}

		if !existing.AutomaticallyGenerated {
			result = &UpsertResult{Config: existing}
			return nil
		}
		if existing.SourceRoot == mapping.SourcePath &&
			existing.Repository == mapping.Repo.Name &&
			existing.Branch == mapping.Repo.Branch {
			result = &UpsertResult{Config: existing}
			return nil
		}

		if _, err := tx.Exec(`
			UPDATE path_configs
			SET source_root = ?, repository = ?, branch = ?, updated_at = ?
			WHERE id = ?
		`, mapping.SourcePath, mapping.Repo.Name, mapping.Repo.Branch, now.Format(time.RFC3339), existing.ID); err != nil {
			return fmt.Errorf("failed to update path config: %w", err)
		}
		existing.SourceRoot = mapping.SourcePath
		existing.Repository = mapping.Repo.Name
		existing.Branch = mapping.Repo.Branch
		existing.UpdatedAt = now
		result = &UpsertResult{Config: existing, Updated: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPathConfig(s rowScanner) (*PathConfig, error) {
	var cfg PathConfig
	var integrationID sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(
		&cfg.ID,
		&cfg.Organization,
		&cfg.Project,
		&cfg.StackRoot,
		&cfg.SourceRoot,
		&cfg.Repository,
		&cfg.Branch,
		&integrationID,
		&cfg.AutomaticallyGenerated,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if integrationID.Valid {
		cfg.IntegrationID = &integrationID.String
	}
	if cfg.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at format: %w", err)
	}
	if cfg.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at format: %w", err)
	}
	return &cfg, nil
}
