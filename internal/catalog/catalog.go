package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrCategoryInUse    = errors.New("category is referenced by products")
	ErrCategoryExists   = errors.New("category already exists")
)

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Image       string          `json:"image,omitempty"`
	Price       decimal.Decimal `json:"price"`
	CategoryID  string          `json:"categoryId,omitempty"`
	Stock       int             `json:"stock"`
	Sold        int             `json:"sold"`
	IsActive    bool            `json:"isActive"`
	IsFeatured  bool            `json:"isFeatured"`
	Rating      float64         `json:"rating"`
	NumReviews  int             `json:"numReviews"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
}

type Sort string

const (
	SortNewest    Sort = "newest"
	SortPriceAsc  Sort = "price_asc"
	SortPriceDesc Sort = "price_desc"
	SortRating    Sort = "rating"
	SortName      Sort = "name"
)

func (s Sort) Valid() bool {
	switch s {
	case SortNewest, SortPriceAsc, SortPriceDesc, SortRating, SortName:
		return true
	}
	return false
}

const (
	DefaultLimit = 12
	MaxLimit     = 100
)

// Query filters a product listing. Zero values match everything; inactive
// products are excluded unless IncludeInactive is set.
type Query struct {
	CategoryID      string
	Keyword         string
	MinPrice        *decimal.Decimal
	MaxPrice        *decimal.Decimal
	FeaturedOnly    bool
	IncludeInactive bool
	Sort            Sort
	Page            int
	Limit           int
}

func (q Query) Normalize() Query {
	q.Keyword = strings.TrimSpace(q.Keyword)
	if !q.Sort.Valid() {
		q.Sort = SortNewest
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

func (q Query) Offset() int { return (q.Page - 1) * q.Limit }

// Match reports whether p passes every filter of q.
func (q Query) Match(p Product) bool {
	if !q.IncludeInactive && !p.IsActive {
		return false
	}
	if q.CategoryID != "" && p.CategoryID != q.CategoryID {
		return false
	}
	if q.FeaturedOnly && !p.IsFeatured {
		return false
	}
	if q.MinPrice != nil && p.Price.LessThan(*q.MinPrice) {
		return false
	}
	if q.MaxPrice != nil && p.Price.GreaterThan(*q.MaxPrice) {
		return false
	}
	if q.Keyword != "" {
		kw := strings.ToLower(q.Keyword)
		if !strings.Contains(strings.ToLower(p.Name), kw) && !strings.Contains(strings.ToLower(p.Description), kw) {
			return false
		}
	}
	return true
}

// Reader is the read side of the catalog used by listings and order validation.
type Reader interface {
	FindActiveProduct(ctx context.Context, id string) (Product, error)
	FindMany(ctx context.Context, q Query) ([]Product, int, error)
}

type CategoryStore interface {
	CreateCategory(ctx context.Context, name string) (Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	DeleteCategory(ctx context.Context, id string) error
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and collapses every run of other characters into "-".
func Slugify(name string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

// MarshalJSON writes the price with two decimals, matching order amounts.
func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product
	return json.Marshal(struct {
		plain
		Price string `json:"price"`
	}{plain(p), p.Price.StringFixed(2)})
}
