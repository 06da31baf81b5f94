package outbox_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"quaiwork/outbox"
	"quaiwork/test/infra"
)

func setup(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx := context.Background()
	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, true)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})
	return ctx, pool
}

func enqueue(t *testing.T, ctx context.Context, pool *pgxpool.Pool, topic string) {
	t.Helper()
	if _, err := pool.Exec(ctx,
		`INSERT INTO outbox (topic, payload) VALUES ($1, '{}'::jsonb)`, topic); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func countByStatus(t *testing.T, ctx context.Context, pool *pgxpool.Pool, status string) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE status = $1`, status).Scan(&n); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return n
}

type capturingPublisher struct {
	topics []string
	err    error
}

func (p *capturingPublisher) Publish(_ context.Context, msg outbox.Message) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, msg.Topic)
	return nil
}

func TestDrainMarksProcessed(t *testing.T) {
	ctx, pool := setup(t)

	enqueue(t, ctx, pool, "job.created")
	enqueue(t, ctx, pool, "job.assigned")

	pub := &capturingPublisher{}
	relay := outbox.NewRelay(pool, pub, time.Second, 10, 3)

	n, err := relay.DrainOnce(ctx)
	if err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if n != 2 {
		t.Errorf("processed = %d, want 2", n)
	}
	if len(pub.topics) != 2 || pub.topics[0] != "job.created" {
		t.Errorf("published topics = %v, want created first (FIFO)", pub.topics)
	}
	if got := countByStatus(t, ctx, pool, "pending"); got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
	if got := countByStatus(t, ctx, pool, "processed"); got != 2 {
		t.Errorf("processed = %d, want 2", got)
	}
}

func TestDrainRetriesThenDeadLetters(t *testing.T) {
	ctx, pool := setup(t)

	enqueue(t, ctx, pool, "job.created")

	pub := &capturingPublisher{err: errors.New("broker down")}
	relay := outbox.NewRelay(pool, pub, time.Second, 10, 3)

	for i := 0; i < 2; i++ {
		if _, err := relay.DrainOnce(ctx); err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
		if got := countByStatus(t, ctx, pool, "pending"); got != 1 {
			t.Fatalf("drain %d: pending = %d, want still pending", i, got)
		}
	}

	// Third failure crosses maxAttempts.
	if _, err := relay.DrainOnce(ctx); err != nil {
		t.Fatalf("final drain: %v", err)
	}
	if got := countByStatus(t, ctx, pool, "dead"); got != 1 {
		t.Errorf("dead = %d, want 1", got)
	}

	// A recovered publisher never sees the dead message again.
	pub.err = nil
	n, err := relay.DrainOnce(ctx)
	if err != nil {
		t.Fatalf("post-recovery drain: %v", err)
	}
	if n != 0 || len(pub.topics) != 0 {
		t.Errorf("dead message was replayed: n=%d topics=%v", n, pub.topics)
	}
}
