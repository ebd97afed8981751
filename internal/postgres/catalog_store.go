package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ catalog.Reader        = (*CatalogStore)(nil)
	_ catalog.CategoryStore = (*CatalogStore)(nil)
)

type CatalogStore struct{ DB *pgxpool.Pool }

const selectProduct = `
	SELECT id, name, description, image, price, COALESCE(category_id, ''), stock, sold,
	       is_active, is_featured, rating, num_reviews, created_at, updated_at
	FROM products`

func scanProductRow(row pgx.CollectableRow) (catalog.Product, error) {
	return scanProduct(row)
}

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Image, &p.Price, &p.CategoryID, &p.Stock, &p.Sold,
		&p.IsActive, &p.IsFeatured, &p.Rating, &p.NumReviews, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *CatalogStore) FindActiveProduct(ctx context.Context, id string) (catalog.Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, selectProduct+` WHERE id = $1 AND is_active`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, err
}

var orderBy = map[catalog.Sort]string{
	catalog.SortNewest:    "created_at DESC, id",
	catalog.SortPriceAsc:  "price ASC, created_at DESC, id",
	catalog.SortPriceDesc: "price DESC, created_at DESC, id",
	catalog.SortRating:    "rating DESC, created_at DESC, id",
	catalog.SortName:      "lower(name) ASC, created_at DESC, id",
}

func (s *CatalogStore) FindMany(ctx context.Context, q catalog.Query) ([]catalog.Product, int, error) {
	q = q.Normalize()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if !q.IncludeInactive {
		where = append(where, "is_active")
	}
	if q.CategoryID != "" {
		add("category_id = ?", q.CategoryID)
	}
	if q.FeaturedOnly {
		where = append(where, "is_featured")
	}
	if q.MinPrice != nil {
		add("price >= ?", *q.MinPrice)
	}
	if q.MaxPrice != nil {
		add("price <= ?", *q.MaxPrice)
	}
	if q.Keyword != "" {
		add("(name ILIKE '%' || ? || '%' OR description ILIKE '%' || ? || '%')", q.Keyword)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM products`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql := selectProduct + clause + " ORDER BY " + orderBy[q.Sort] +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := s.DB.Query(ctx, sql, append(args, q.Limit, q.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	items, err := pgx.CollectRows(rows, scanProductRow)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *CatalogStore) CreateCategory(ctx context.Context, name string) (catalog.Category, error) {
	c := catalog.Category{ID: uuid.NewString(), Name: strings.TrimSpace(name)}
	c.Slug = catalog.Slugify(c.Name)
	err := s.DB.QueryRow(ctx, `
		INSERT INTO categories(id, name, slug) VALUES ($1, $2, $3)
		RETURNING created_at`, c.ID, c.Name, c.Slug).Scan(&c.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return catalog.Category{}, catalog.ErrCategoryExists
	}
	return c, err
}

func (s *CatalogStore) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, slug, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Category, error) {
		var c catalog.Category
		err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt)
		return c, err
	})
}

// DeleteCategory refuses while any product still points at the category.
func (s *CatalogStore) DeleteCategory(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inUse bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE category_id = $1)`, id).Scan(&inUse); err != nil {
		return err
	}
	if inUse {
		return catalog.ErrCategoryInUse
	}
	ct, err := tx.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return catalog.ErrCategoryInUse
	}
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return catalog.ErrCategoryNotFound
	}
	return tx.Commit(ctx)
}
