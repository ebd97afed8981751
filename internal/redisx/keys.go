package redisx

import "time"

const (
	// Cached active product: catalog:product:{product_id} -> product json
	KeyProduct = "catalog:product:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLProduct = 5 * time.Minute
	TTLDedup   = 48 * time.Hour
)
