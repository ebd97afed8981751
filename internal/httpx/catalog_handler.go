package httpx

import (
	"net/http"
	"strings"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CatalogHandler serves the read side of the catalog and category admin.
type CatalogHandler struct {
	Products   catalog.Reader
	Categories catalog.CategoryStore
	Log        zerolog.Logger
}

type createCategoryReq struct {
	Name string `json:"name"`
}

type productPage struct {
	Products []catalog.Product `json:"products"`
	Page     int               `json:"page"`
	Pages    int               `json:"pages"`
	Total    int               `json:"total"`
}

func (h *CatalogHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Get("/categories", h.listCategories)
	r.Group(func(r chi.Router) {
		r.Use(RequireAdmin)
		r.Post("/categories", h.createCategory)
		r.Delete("/categories/{id}", h.deleteCategory)
	})
}

func (h *CatalogHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	q, err := productQuery(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	list, total, err := h.Products.FindMany(r.Context(), q)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, productPage{Products: nonNil(list), Page: q.Page, Pages: pages(total, q.Limit), Total: total})
}

// productQuery parses the listing filters. include_inactive is honoured for admins only.
func productQuery(r *http.Request) (catalog.Query, error) {
	v := r.URL.Query()
	q := catalog.Query{
		CategoryID: v.Get("category"),
		Keyword:    v.Get("keyword"),
		Sort:       catalog.Sort(v.Get("sort")),
	}
	if q.Sort != "" && !q.Sort.Valid() {
		return q, orders.InvalidInput("invalid sort %q", q.Sort)
	}

	var err error
	if q.Page, err = queryInt(r, "page"); err != nil {
		return q, err
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		return q, err
	}
	if q.FeaturedOnly, err = queryBool(r, "featured"); err != nil {
		return q, err
	}
	if q.MinPrice, err = queryDecimal(r, "minPrice"); err != nil {
		return q, err
	}
	if q.MaxPrice, err = queryDecimal(r, "maxPrice"); err != nil {
		return q, err
	}
	inactive, err := queryBool(r, "include_inactive")
	if err != nil {
		return q, err
	}
	q.IncludeInactive = inactive && requester(r).IsAdmin()
	return q.Normalize(), nil
}

func queryDecimal(r *http.Request, key string) (*decimal.Decimal, error) {
	s := strings.TrimSpace(r.URL.Query().Get(key))
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, orders.InvalidInput("%s must be a number", key)
	}
	return &d, nil
}

func (h *CatalogHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Products.FindActiveProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *CatalogHandler) listCategories(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Categories.ListCategories(r.Context())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cs))
}

func (h *CatalogHandler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, h.Log, orders.InvalidInput("Category name is required"))
		return
	}
	c, err := h.Categories.CreateCategory(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CatalogHandler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.Categories.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
