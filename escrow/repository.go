package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

const jobColumns = "id, client, freelancer, amount, deadline, status, title, description, category, created_at, updated_at"

func getJobForUpdate(ctx context.Context, tx pgx.Tx, jobID int64) (Job, error) {
	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("escrow: lock job %d: %w", jobID, err)
	}
	return job, nil
}

// GetJob returns the latest committed snapshot of a job. Reads never block
// writers.
func (s *Service) GetJob(ctx context.Context, jobID int64) (Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("escrow: get job %d: %w", jobID, err)
	}
	return job, nil
}

// JobClient returns just the client address of a job. Used by the off-chain
// proposal inbox for its self-proposal check.
func (s *Service) JobClient(ctx context.Context, jobID int64) (string, error) {
	var client string
	err := s.pool.QueryRow(ctx, `SELECT client FROM jobs WHERE id = $1`, jobID).Scan(&client)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrJobNotFound
		}
		return "", fmt.Errorf("escrow: job client %d: %w", jobID, err)
	}
	return client, nil
}

type Filters struct {
	Client     string
	Freelancer string
	Status     Status
	Page       int
	PageSize   int
}

// ListJobs returns jobs newest-first with the total count for pagination.
func (s *Service) ListJobs(ctx context.Context, filters Filters) ([]Job, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}
	if filters.Client != "" {
		where = append(where, fmt.Sprintf("client = $%d", len(args)+1))
		args = append(args, filters.Client)
	}
	if filters.Freelancer != "" {
		where = append(where, fmt.Sprintf("freelancer = $%d", len(args)+1))
		args = append(args, filters.Freelancer)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filters.Status)
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT %s FROM jobs%s ORDER BY id DESC LIMIT %d OFFSET %d`,
		jobColumns, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("escrow: list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("escrow: scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("escrow: iterate jobs: %w", err)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM jobs" + whereClause
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("escrow: count jobs: %w", err)
	}

	return jobs, total, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	return j, row.Scan(
		&j.ID,
		&j.Client,
		&j.Freelancer,
		&j.Amount,
		&j.Deadline,
		&j.Status,
		&j.Title,
		&j.Description,
		&j.Category,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
}

func insertTimelineEvent(ctx context.Context, tx pgx.Tx, jobID int64, eventType, actor string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal timeline payload: %w", err)
	}

	var actorVal any
	if actor != "" {
		actorVal = actor
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO timeline_events (job_id, type, actor, payload) VALUES ($1, $2, $3, $4::jsonb)`,
		jobID, eventType, actorVal, body); err != nil {
		return fmt.Errorf("escrow: insert timeline event: %w", err)
	}
	return nil
}

func enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("escrow: enqueue outbox: %w", err)
	}
	return nil
}
