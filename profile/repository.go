package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("profile: not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert creates or refreshes the profile for an address.
func (r *Repository) Upsert(ctx context.Context, p Profile) (Profile, error) {
	const query = `
		INSERT INTO profiles (address, user_type, display_name, bio)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE
		SET user_type = EXCLUDED.user_type,
		    display_name = EXCLUDED.display_name,
		    bio = EXCLUDED.bio,
		    updated_at = get_tx_timestamp()
		RETURNING address, user_type, display_name, bio, created_at, updated_at
	`

	out, err := scanProfile(r.pool.QueryRow(ctx, query, p.Address, p.UserType, p.DisplayName, p.Bio))
	if err != nil {
		return Profile{}, fmt.Errorf("profile: upsert: %w", err)
	}
	return out, nil
}

func (r *Repository) GetByAddress(ctx context.Context, address string) (Profile, error) {
	const query = `
		SELECT address, user_type, display_name, bio, created_at, updated_at
		FROM profiles WHERE address = $1
	`
	p, err := scanProfile(r.pool.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("profile: get: %w", err)
	}
	return p, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	return p, row.Scan(&p.Address, &p.UserType, &p.DisplayName, &p.Bio, &p.CreatedAt, &p.UpdatedAt)
}
