// Package actors holds the concurrent workload for the stress harness. Each
// actor loops over the real services until stopped; guard rejections and
// insufficient funds are expected under contention and are not failures.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"quaiwork/coordinator"
	"quaiwork/escrow"
	"quaiwork/outbox"
	"quaiwork/wallet"
)

func expected(err error) bool {
	var precond *escrow.PreconditionError
	var partial *coordinator.PartialAcceptanceFailure
	if errors.As(err, &precond) ||
		errors.As(err, &partial) ||
		errors.Is(err, wallet.ErrInsufficientFunds) ||
		errors.Is(err, escrow.ErrJobNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// The chaos actor terminates backends at random, so connection-class
	// failures (08xxx), admin shutdowns (57xxx) and serialization aborts
	// (40xxx) are part of normal operation here.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "08", "57", "40":
			return true
		}
	}
	return pgconn.SafeToRetry(err) || errors.Is(err, pgx.ErrTxClosed)
}

func pause(min, jitter int) {
	time.Sleep(time.Duration(min+rand.Intn(jitter)) * time.Millisecond)
}

// Depositor keeps the client funded so job creation does not starve.
func Depositor(ctx context.Context, wallets *wallet.Repository, address string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := wallets.Deposit(ctx, address, int64(1_000+rand.Intn(9_000))); err != nil && !expected(err) {
			return fmt.Errorf("depositor: %w", err)
		}
		pause(50, 100)
	}
}

// JobPoster creates funded jobs on behalf of the client.
func JobPoster(ctx context.Context, ledger *escrow.Service, client string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := ledger.CreateJob(ctx, escrow.CreateJobParams{
			Client:   client,
			Amount:   int64(100 + rand.Intn(900)),
			Deadline: time.Now().Add(time.Hour),
			Title:    fmt.Sprintf("stress job %d", rand.Int63()),
			Category: "stress",
		})
		if err != nil && !expected(err) {
			return fmt.Errorf("job poster: %w", err)
		}
		pause(20, 40)
	}
}

// Accepter races to accept open jobs, driving the assign-then-mint pair.
// Several accepters against the same jobs exercise the row lock.
func Accepter(ctx context.Context, pool *pgxpool.Pool, coord *coordinator.Coordinator, client, freelancer string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		jobID, ok, err := randomJob(ctx, pool, client, "status = 'open'")
		if err != nil {
			return fmt.Errorf("accepter pick: %w", err)
		}
		if ok {
			_, err := coord.AcceptProposal(ctx, coordinator.AcceptParams{
				JobID:      jobID,
				Caller:     client,
				Freelancer: freelancer,
				TokenURI:   fmt.Sprintf("ipfs://stress/%d", jobID),
			})
			if err != nil && !expected(err) {
				return fmt.Errorf("accepter: %w", err)
			}
		}
		pause(10, 30)
	}
}

// Deliverer marks assigned jobs delivered as the freelancer.
func Deliverer(ctx context.Context, pool *pgxpool.Pool, coord *coordinator.Coordinator, client, freelancer string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		jobID, ok, err := randomJob(ctx, pool, client, "status = 'assigned'")
		if err != nil {
			return fmt.Errorf("deliverer pick: %w", err)
		}
		if ok {
			if _, err := coord.MarkDelivered(ctx, jobID, freelancer); err != nil && !expected(err) {
				return fmt.Errorf("deliverer: %w", err)
			}
		}
		pause(20, 40)
	}
}

// Releaser pays out assigned or delivered jobs, sometimes attaching a rating.
func Releaser(ctx context.Context, pool *pgxpool.Pool, coord *coordinator.Coordinator, client string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		jobID, ok, err := randomJob(ctx, pool, client, "status IN ('assigned','delivered')")
		if err != nil {
			return fmt.Errorf("releaser pick: %w", err)
		}
		if ok {
			params := coordinator.ReleaseParams{JobID: jobID, Caller: client}
			if rand.Intn(2) == 0 {
				params.Rating = 1 + rand.Intn(5)
				params.Comment = "stress review"
			}
			if _, err := coord.Release(ctx, params); err != nil && !expected(err) {
				return fmt.Errorf("releaser: %w", err)
			}
		}
		pause(15, 35)
	}
}

// Disputer occasionally freezes an in-progress job. Races Releaser for the
// same rows; exactly one of them may win per job.
func Disputer(ctx context.Context, pool *pgxpool.Pool, coord *coordinator.Coordinator, client, freelancer string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(4) == 0 {
			jobID, ok, err := randomJob(ctx, pool, client, "status IN ('assigned','delivered')")
			if err != nil {
				return fmt.Errorf("disputer pick: %w", err)
			}
			if ok {
				caller := client
				if rand.Intn(2) == 0 {
					caller = freelancer
				}
				if _, err := coord.Dispute(ctx, jobID, caller, "stress dispute"); err != nil && !expected(err) {
					return fmt.Errorf("disputer: %w", err)
				}
			}
		}
		pause(100, 200)
	}
}

// Reclaimer posts jobs whose deadline is already in the past and then
// reclaims them, racing the accepters for the open row.
func Reclaimer(ctx context.Context, ledger *escrow.Service, client string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		job, err := ledger.CreateJob(ctx, escrow.CreateJobParams{
			Client:   client,
			Amount:   int64(100 + rand.Intn(400)),
			Deadline: time.Now().Add(-time.Minute),
			Title:    "expired stress job",
			Category: "stress",
		})
		if err != nil {
			if !expected(err) {
				return fmt.Errorf("reclaimer create: %w", err)
			}
		} else {
			pause(10, 30)
			if _, err := ledger.Reclaim(ctx, job.ID, client); err != nil && !expected(err) {
				return fmt.Errorf("reclaimer: %w", err)
			}
		}
		pause(50, 100)
	}
}

// FlakyPublisher fails a configurable fraction of publishes so the relay's
// retry and dead-letter paths get traffic.
type FlakyPublisher struct {
	FailEveryN int
}

func (p FlakyPublisher) Publish(context.Context, outbox.Message) error {
	if p.FailEveryN > 0 && rand.Intn(p.FailEveryN) == 0 {
		return errors.New("simulated publish failure")
	}
	return nil
}

// OutboxWorker drains the outbox through the production relay.
func OutboxWorker(ctx context.Context, relay *outbox.Relay, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := relay.DrainOnce(ctx); err != nil && !expected(err) {
			// Drain conflicts under chaos are tolerable; only surface
			// persistent failures via the oracles.
			pause(100, 100)
			continue
		}
		pause(100, 100)
	}
}

// randomJob picks a random job id for the client matching the status filter.
func randomJob(ctx context.Context, pool *pgxpool.Pool, client, statusCond string) (int64, bool, error) {
	var jobID int64
	query := `SELECT id FROM jobs WHERE client = $1 AND ` + statusCond + ` ORDER BY random() LIMIT 1`
	err := pool.QueryRow(ctx, query, client).Scan(&jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || expected(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return jobID, true, nil
}
