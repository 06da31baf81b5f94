// Package rating is the review side-channel invoked after a successful
// release. Fire-and-forget from the core's perspective: failures here never
// block or fail a payout.
package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyRated signals the job was rated before; one rating per job.
var ErrAlreadyRated = errors.New("rating: job already rated")

type Record struct {
	ID         string
	JobID      int64
	Freelancer string
	Client     string
	Rating     int
	Comment    string
	CreatedAt  time.Time
}

// Summary is the aggregate shown on freelancer profiles.
type Summary struct {
	Average float64
	Count   int
}

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Submit stores the client's rating for a completed job.
func (s *Service) Submit(ctx context.Context, jobID int64, freelancer, client string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating: value %d out of range 1..5", rating)
	}

	_, err := s.pool.Exec(ctx, `
        INSERT INTO ratings (job_id, freelancer, client, rating, comment)
        VALUES ($1, $2, $3, $4, $5)
    `, jobID, freelancer, client, rating, comment)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyRated
		}
		return fmt.Errorf("rating: insert: %w", err)
	}
	return nil
}

// ForFreelancer returns the aggregate and individual reviews, newest first.
func (s *Service) ForFreelancer(ctx context.Context, freelancer string) (Summary, []Record, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, job_id, freelancer, client, rating, comment, created_at
        FROM ratings WHERE freelancer = $1 ORDER BY created_at DESC
    `, freelancer)
	if err != nil {
		return Summary{}, nil, fmt.Errorf("rating: list: %w", err)
	}
	defer rows.Close()

	reviews := []Record{}
	total := 0
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Freelancer, &rec.Client, &rec.Rating, &rec.Comment, &rec.CreatedAt); err != nil {
			return Summary{}, nil, fmt.Errorf("rating: scan: %w", err)
		}
		reviews = append(reviews, rec)
		total += rec.Rating
	}
	if err := rows.Err(); err != nil {
		return Summary{}, nil, fmt.Errorf("rating: iterate: %w", err)
	}

	summary := Summary{Count: len(reviews)}
	if summary.Count > 0 {
		summary.Average = float64(total) / float64(summary.Count)
	}
	return summary, reviews, nil
}
