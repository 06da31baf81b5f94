package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var relayed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "outbox_messages_total",
	Help: "Outbox messages by final disposition.",
}, []string{"outcome"})

// Message is a pending outbox row handed to the publisher.
type Message struct {
	ID       string
	Topic    string
	Payload  json.RawMessage
	Attempts int
}

// Publisher delivers a drained outbox message to the outside world.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// LogPublisher writes messages to the process log. Stand-in until a real
// broker is wired up.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, msg Message) error {
	log.Printf("outbox: publish topic=%s id=%s payload=%s", msg.Topic, msg.ID, msg.Payload)
	return nil
}

// Relay drains the transactional outbox in batches. Rows are claimed with
// FOR UPDATE SKIP LOCKED so multiple relays can run side by side.
type Relay struct {
	pool        *pgxpool.Pool
	publisher   Publisher
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

func NewRelay(pool *pgxpool.Pool, publisher Publisher, interval time.Duration, batchSize, maxAttempts int) *Relay {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Relay{
		pool:        pool,
		publisher:   publisher,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.DrainOnce(ctx); err != nil {
				log.Printf("outbox: drain: %v", err)
			}
		}
	}
}

// DrainOnce claims one batch of pending messages and publishes them. It
// returns the number of messages marked processed.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim batch: %w", err)
	}

	var batch []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: read batch: %w", err)
	}

	processed := 0
	for _, msg := range batch {
		if err := r.publisher.Publish(ctx, msg); err != nil {
			if msg.Attempts+1 >= r.maxAttempts {
				if _, uerr := tx.Exec(ctx, `
					UPDATE outbox SET status='dead', attempts=attempts+1, last_attempt=get_tx_timestamp()
					WHERE id=$1
				`, msg.ID); uerr != nil {
					return processed, fmt.Errorf("outbox: mark dead: %w", uerr)
				}
				relayed.WithLabelValues("dead").Inc()
				log.Printf("outbox: message %s dead after %d attempts: %v", msg.ID, msg.Attempts+1, err)
				continue
			}
			if _, uerr := tx.Exec(ctx, `
				UPDATE outbox SET attempts=attempts+1, last_attempt=get_tx_timestamp()
				WHERE id=$1
			`, msg.ID); uerr != nil {
				return processed, fmt.Errorf("outbox: record attempt: %w", uerr)
			}
			relayed.WithLabelValues("retried").Inc()
			continue
		}

		if _, uerr := tx.Exec(ctx, `
			UPDATE outbox SET status='processed', attempts=attempts+1, last_attempt=get_tx_timestamp()
			WHERE id=$1
		`, msg.ID); uerr != nil {
			return processed, fmt.Errorf("outbox: mark processed: %w", uerr)
		}
		relayed.WithLabelValues("processed").Inc()
		processed++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit: %w", err)
	}
	return processed, nil
}
