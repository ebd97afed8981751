// Package memstore keeps products, categories and orders in process memory.
// It backs STORE_DRIVER=memory and the tests of the packages above it.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	_ ledger.Store          = (*Store)(nil)
	_ catalog.Reader        = (*Store)(nil)
	_ catalog.CategoryStore = (*Store)(nil)
)

type Store struct {
	mu         sync.Mutex
	products   map[string]catalog.Product
	categories map[string]catalog.Category
	orders     map[string]*orders.Order
}

func New() *Store {
	return &Store{
		products:   map[string]catalog.Product{},
		categories: map[string]catalog.Category{},
		orders:     map[string]*orders.Order{},
	}
}

// PutProduct inserts or replaces p, assigning an id and timestamps when missing.
func (s *Store) PutProduct(p catalog.Product) catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.products[p.ID] = p
	return p
}

// Product returns p regardless of its active flag.
func (s *Store) Product(id string) (catalog.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

// SetOrderStatus overwrites the stored status, bypassing the lifecycle rules.
// Used to seed fixtures.
func (s *Store) SetOrderStatus(id string, st orders.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if ok {
		o.Status = st
	}
	return ok
}

func (s *Store) FindActiveProduct(_ context.Context, id string) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok || !p.IsActive {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

func (s *Store) FindMany(_ context.Context, q catalog.Query) ([]catalog.Product, int, error) {
	q = q.Normalize()
	s.mu.Lock()
	var matched []catalog.Product
	for _, p := range s.products {
		if q.Match(p) {
			matched = append(matched, p)
		}
	}
	s.mu.Unlock()

	catalog.SortProducts(matched, q.Sort)
	return pageOf(matched, q.Offset(), q.Limit), len(matched), nil
}

func (s *Store) CreateCategory(_ context.Context, name string) (catalog.Category, error) {
	name = strings.TrimSpace(name)
	slug := catalog.Slugify(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.categories {
		// both columns are unique in postgres
		if strings.EqualFold(c.Name, name) || c.Slug == slug {
			return catalog.Category{}, catalog.ErrCategoryExists
		}
	}
	c := catalog.Category{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      slug,
		CreatedAt: time.Now().UTC(),
	}
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) ListCategories(context.Context) ([]catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return catalog.ErrCategoryNotFound
	}
	for _, p := range s.products {
		if p.CategoryID == id {
			return catalog.ErrCategoryInUse
		}
	}
	delete(s.categories, id)
	return nil
}

// InTx runs fn with the store locked. On error every product and order
// touched by fn is put back the way it was.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:        s,
		products: map[string]catalog.Product{},
		orders:   map[string]*orders.Order{},
	}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ledger.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *Store) ListOrders(_ context.Context, q orders.ListQuery) ([]orders.Order, int, orders.Stats, error) {
	q.Page = q.Page.Normalize()
	s.mu.Lock()
	var matched []orders.Order
	stats := orders.Stats{TotalRevenue: decimal.Zero}
	for _, o := range s.orders {
		if q.UserID != "" && o.UserID != q.UserID {
			continue
		}
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		if q.PaymentStatus != "" && o.PaymentStatus != q.PaymentStatus {
			continue
		}
		matched = append(matched, *o.Clone())
		stats.Count++
		stats.TotalRevenue = stats.TotalRevenue.Add(o.TotalPrice)
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return pageOf(matched, q.Page.Offset(), q.Page.Limit), len(matched), stats, nil
}

func pageOf[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// memTx records the prior state of everything it writes so a failed
// transaction can be undone. The caller holds s.mu throughout.
type memTx struct {
	s        *Store
	products map[string]catalog.Product
	orders   map[string]*orders.Order // nil value: order did not exist
}

func (t *memTx) saveProduct(p catalog.Product) {
	if _, ok := t.products[p.ID]; !ok {
		t.products[p.ID] = p
	}
}

func (t *memTx) saveOrder(id string) {
	if _, ok := t.orders[id]; ok {
		return
	}
	if o, ok := t.s.orders[id]; ok {
		t.orders[id] = o.Clone()
	} else {
		t.orders[id] = nil
	}
}

func (t *memTx) rollback() {
	for id, p := range t.products {
		t.s.products[id] = p
	}
	for id, o := range t.orders {
		if o == nil {
			delete(t.s.orders, id)
		} else {
			t.s.orders[id] = o
		}
	}
}

func (t *memTx) Products(_ context.Context, ids []string) (map[string]catalog.Product, error) {
	out := make(map[string]catalog.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *orders.Order) error {
	t.saveOrder(o.ID)
	t.s.orders[o.ID] = o.Clone()
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (*orders.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, ledger.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (t *memTx) UpdateOrder(_ context.Context, o *orders.Order) error {
	if _, ok := t.s.orders[o.ID]; !ok {
		return ledger.ErrOrderNotFound
	}
	t.saveOrder(o.ID)
	t.s.orders[o.ID] = o.Clone()
	return nil
}

func (t *memTx) ReserveStock(_ context.Context, productID string, qty int) (bool, int, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return false, 0, nil
	}
	if p.Stock < qty {
		return false, p.Stock, nil
	}
	t.saveProduct(p)
	p.Stock -= qty
	p.Sold += qty
	p.UpdatedAt = time.Now().UTC()
	t.s.products[productID] = p
	return true, p.Stock, nil
}

func (t *memTx) ReleaseStock(_ context.Context, productID string, qty int) error {
	p, ok := t.s.products[productID]
	if !ok {
		// Product was removed from the catalog; nothing to give back to.
		return nil
	}
	t.saveProduct(p)
	p.Stock += qty
	p.Sold -= qty
	if p.Sold < 0 {
		p.Sold = 0
	}
	p.UpdatedAt = time.Now().UTC()
	t.s.products[productID] = p
	return nil
}
