package repository

import (
	"context"
	"time"

	"github.com/clinicflow/clinic-inventory/pkg/database"
	"github.com/google/uuid"
)

// Category groups catalog items for filtering and valuation.
type Category struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CategoryRepository handles category persistence
type CategoryRepository struct {
	db *database.DB
}

// NewCategoryRepository creates a new category repository
func NewCategoryRepository(db *database.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// Create inserts a category
func (r *CategoryRepository) Create(ctx context.Context, c *Category) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	query := `
		INSERT INTO inventory_categories (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`

	return r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		err := q.QueryRowxContext(ctx, query, c.ID, c.Name, c.Description).Scan(&c.CreatedAt, &c.UpdatedAt)
		return database.Translate(err, "category")
	})
}

// GetByID gets a category by ID
func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*Category, error) {
	var c Category
	query := `SELECT id, name, description, created_at, updated_at FROM inventory_categories WHERE id = $1`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return database.Translate(q.GetContext(ctx, &c, query, id), "category")
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List lists all categories by name
func (r *CategoryRepository) List(ctx context.Context) ([]*Category, error) {
	categories := []*Category{}
	query := `SELECT id, name, description, created_at, updated_at FROM inventory_categories ORDER BY name`

	err := r.db.RunInTenant(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.SelectContext(ctx, &categories, query)
	})
	if err != nil {
		return nil, err
	}
	return categories, nil
}
