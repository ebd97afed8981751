package inventory

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/go-order-ledger/internal/kafka"
	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

var _ ledger.Publisher = (*Service)(nil)

// Deduper reports whether an event id is seen for the first time.
type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Invalidator drops cached product views.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...string) error
}

// Service follows the order event stream and evicts the cached products whose
// stock moved, so catalog reads see the committed quantities.
type Service struct {
	Dedup Deduper
	Cache Invalidator
	Log   zerolog.Logger
}

// HandleOrderEvent is installed as the consumer handler.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		// poison message: nothing to retry
		s.Log.Error().Err(err).Int64("offset", m.Offset).Msg("skip undecodable event")
		return nil
	}
	return s.Publish(ctx, env)
}

// Publish handles an envelope in process. The API uses it as its event
// publisher when no broker is configured.
func (s *Service) Publish(ctx context.Context, env orders.Envelope) error {
	ids, err := affectedProducts(env)
	if err != nil {
		s.Log.Error().Err(err).Str("event_id", env.EventID).Msg("skip undecodable payload")
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	if s.Dedup != nil {
		first, err := s.Dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", env.EventID, err)
		}
		if !first {
			return nil
		}
	}

	if err := s.Cache.Invalidate(ctx, ids...); err != nil {
		if s.Dedup != nil {
			_ = s.Dedup.Forget(ctx, env.EventID)
		}
		return fmt.Errorf("invalidate products of %s: %w", env.CorrelationID, err)
	}

	s.Log.Info().
		Str("event_type", env.EventType).
		Str("order_id", env.CorrelationID).
		Str("trace_id", env.TraceID).
		Strs("products", ids).
		Msg("product cache invalidated")
	return nil
}

// affectedProducts lists the distinct product ids whose stock an event moved.
func affectedProducts(env orders.Envelope) ([]string, error) {
	var items []orders.ItemQty
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		items = p.Items
	case orders.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		items = p.Restored
	default:
		return nil, nil
	}

	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	return ids, nil
}
