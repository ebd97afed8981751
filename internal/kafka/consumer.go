package kafka

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// Handler returns nil once the message is processed. An error makes the
// consumer retry the same message.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 200 * time.Millisecond
	maxBackoff         = 5 * time.Second
)

type Consumer struct {
	r       messageReader
	workers int
	log     zerolog.Logger

	maxAttempts int
	backoff     time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commits
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log zerolog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:           r,
		workers:     workers,
		log:         log,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

// Start fetches messages until ctx is cancelled or the reader fails.
//
// The broker keeps one committed offset per partition, so every partition is
// pinned to a single worker and its offsets are committed in fetch order. A
// failing message is retried with backoff; after maxAttempts it is logged and
// committed so the partition can move on. When ctx ends mid-retry the message
// stays uncommitted and is redelivered to the next consumer.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	g, gctx := errgroup.WithContext(ctx)
	lanes := make([]chan kafka.Message, c.workers)
	for i := range lanes {
		lane := make(chan kafka.Message, 1)
		lanes[i] = lane
		g.Go(func() error {
			for m := range lane {
				if !c.handle(gctx, h, m) {
					return nil
				}
				if err := c.r.CommitMessages(gctx, m); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					c.log.Error().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("commit message")
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		for {
			m, err := c.r.FetchMessage(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			select {
			case lanes[m.Partition%c.workers] <- m:
			case <-gctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

// handle runs h until it succeeds or the attempts run out. It reports false
// when ctx ended first, in which case m must not be committed.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		err := h(ctx, m)
		if err == nil {
			return true
		}
		ev := c.log.Warn()
		if attempt >= c.maxAttempts {
			ev = c.log.Error()
		}
		ev.Err(err).
			Str("topic", m.Topic).Int("partition", m.Partition).Int64("offset", m.Offset).
			Int("attempt", attempt).
			Msg("handle message")
		if attempt >= c.maxAttempts {
			return true
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return false
		}
		if wait *= 2; wait > maxBackoff {
			wait = maxBackoff
		}
	}
}
