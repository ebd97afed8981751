package catalog

import (
	"sort"
	"strings"
)

// SortProducts orders ps in place; ties fall back to newest first, then id.
func SortProducts(ps []Product, s Sort) {
	newer := func(a, b Product) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	}
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		switch s {
		case SortPriceAsc:
			if c := a.Price.Cmp(b.Price); c != 0 {
				return c < 0
			}
		case SortPriceDesc:
			if c := a.Price.Cmp(b.Price); c != 0 {
				return c > 0
			}
		case SortRating:
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
		case SortName:
			if an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name); an != bn {
				return an < bn
			}
		}
		return newer(a, b)
	})
}
