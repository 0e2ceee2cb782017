package rule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hexleaf/equity-screener/internal/market"
)

// ErrTemplateNotFound is returned when no template matches the id+version.
var ErrTemplateNotFound = errors.New("template not found")

// Store persists strategy templates in Postgres. The rule tree is stored as
// JSONB so new strategies are plain data inserts.
type Store struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewStore creates a template store backed by the given pool.
func NewStore(db *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "template_store").Logger(),
	}
}

// SeedBuiltins upserts the built-in templates. Existing rows with the same
// id+version are overwritten so a new release updates its own records
// without touching user-defined templates.
func (s *Store) SeedBuiltins(ctx context.Context) error {
	templates, err := Builtins()
	if err != nil {
		return err
	}
	for i := range templates {
		if err := s.Save(ctx, &templates[i]); err != nil {
			return fmt.Errorf("seed builtin %s: %w", templates[i].ID, err)
		}
	}
	s.logger.Info().Int("count", len(templates)).Msg("Seeded builtin strategy templates")
	return nil
}

// Save validates and upserts one template.
func (s *Store) Save(ctx context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	tree, err := json.Marshal(t.Tree)
	if err != nil {
		return fmt.Errorf("marshal template tree: %w", err)
	}
	periods := make([]string, len(t.Periods))
	for i, p := range t.Periods {
		periods[i] = string(p)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO strategy_templates (id, version, name, category, description, periods, tree, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id, version) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			description = EXCLUDED.description,
			periods = EXCLUDED.periods,
			tree = EXCLUDED.tree,
			updated_at = NOW()
	`, t.ID, t.Version, t.Name, string(t.Category), t.Description, periods, tree)
	if err != nil {
		return fmt.Errorf("save template %s v%d: %w", t.ID, t.Version, err)
	}
	return nil
}

// Get loads one template by id and version. version 0 means latest.
func (s *Store) Get(ctx context.Context, id string, version int) (*Template, error) {
	query := `
		SELECT id, version, name, category, description, periods, tree
		FROM strategy_templates
		WHERE id = $1 AND version = $2
	`
	args := []any{id, version}
	if version == 0 {
		query = `
			SELECT id, version, name, category, description, periods, tree
			FROM strategy_templates
			WHERE id = $1
			ORDER BY version DESC
			LIMIT 1
		`
		args = []any{id}
	}

	row := s.db.QueryRow(ctx, query, args...)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s v%d", ErrTemplateNotFound, id, version)
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	return t, nil
}

// ListByCategory returns the latest version of every template in a category;
// an empty category lists everything.
func (s *Store) ListByCategory(ctx context.Context, category Category) ([]Template, error) {
	query := `
		SELECT DISTINCT ON (id) id, version, name, category, description, periods, tree
		FROM strategy_templates
		WHERE ($1 = '' OR category = $1)
		ORDER BY id, version DESC
	`
	rows, err := s.db.Query(ctx, query, string(category))
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var (
		t        Template
		category string
		periods  []string
		tree     []byte
	)
	if err := row.Scan(&t.ID, &t.Version, &t.Name, &category, &t.Description, &periods, &tree); err != nil {
		return nil, err
	}
	t.Category = Category(category)
	t.Periods = make([]market.Period, len(periods))
	for i, p := range periods {
		t.Periods[i] = market.Period(p)
	}
	if err := json.Unmarshal(tree, &t.Tree); err != nil {
		return nil, fmt.Errorf("decode template tree: %w", err)
	}
	return &t, nil
}
