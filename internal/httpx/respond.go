package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/rs/zerolog"
)

const (
	kindUnauthenticated = "UNAUTHENTICATED"
	kindConflict        = "CONFLICT"
	kindInternal        = "INTERNAL"

	maxBodyBytes = 1 << 20
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, code int, kind, msg string, details map[string]any) {
	writeJSON(w, code, errorBody{Error: errorDetail{Kind: kind, Message: msg, Details: details}})
}

var kindStatus = map[orders.Kind]int{
	orders.KindInvalidInput:       http.StatusBadRequest,
	orders.KindForbidden:          http.StatusForbidden,
	orders.KindNotFound:           http.StatusNotFound,
	orders.KindInvalidTransition:  http.StatusConflict,
	orders.KindInsufficientStock:  http.StatusConflict,
	orders.KindProductUnavailable: http.StatusUnprocessableEntity,
}

// writeError maps err onto the response. Anything unrecognised is logged and
// reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	var oe *orders.Error
	if errors.As(err, &oe) {
		if code, ok := kindStatus[oe.Kind]; ok {
			writeFailure(w, code, string(oe.Kind), oe.Message, oe.Details)
			return
		}
	}
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		writeFailure(w, http.StatusNotFound, string(orders.KindNotFound), "Product not found", nil)
	case errors.Is(err, catalog.ErrCategoryNotFound):
		writeFailure(w, http.StatusNotFound, string(orders.KindNotFound), "Category not found", nil)
	case errors.Is(err, catalog.ErrCategoryInUse):
		writeFailure(w, http.StatusConflict, kindConflict, "Cannot delete category with existing products", nil)
	case errors.Is(err, catalog.ErrCategoryExists):
		writeFailure(w, http.StatusConflict, kindConflict, "Category already exists", nil)
	default:
		log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("internal error")
		writeFailure(w, http.StatusInternalServerError, kindInternal, "Internal server error", nil)
	}
}

// decodeJSON reads exactly one JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return orders.InvalidInput("invalid json: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return orders.InvalidInput("invalid json: body must hold a single object")
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, orders.InvalidInput("%s must be an integer", key)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, orders.InvalidInput("%s must be true or false", key)
	}
	return b, nil
}

func pageParams(r *http.Request) (orders.Page, error) {
	page, err := queryInt(r, "page")
	if err != nil {
		return orders.Page{}, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return orders.Page{}, err
	}
	return orders.Page{Page: page, Limit: limit}.Normalize(), nil
}

func pages(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(limit)))
}
