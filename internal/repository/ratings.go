package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/triage-ratings/internal/domain"
)

const ratingColumns = `id, name, comment, score, created_at`

// rejectedCodes are Postgres error codes that mean the row itself was bad.
var rejectedCodes = map[string]struct{}{
	"23502": {}, // not_null_violation
	"23514": {}, // check_violation
	"22001": {}, // string_data_right_truncation
}

// RatingsRepository is the relational rating adapter. Identity and
// created_at are assigned by Postgres.
type RatingsRepository struct {
	pool *pgxpool.Pool
}

// Origin reports the backend this adapter serves.
func (r *RatingsRepository) Origin() domain.Origin {
	return domain.OriginRelational
}

// Insert stores a rating and returns the stored row.
func (r *RatingsRepository) Insert(ctx context.Context, in domain.NewRating) (domain.RawRecord, error) {
	query := fmt.Sprintf(`
        INSERT INTO ratings (name, comment, score)
        VALUES ($1, NULLIF($2, ''), $3)
        RETURNING %s
    `, ratingColumns)

	rows, err := r.pool.Query(ctx, query, in.Name, in.Comment, in.Score)
	if err != nil {
		return nil, wrapPgError(err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, wrapPgError(err)
	}
	return domain.RawRecord(row), nil
}

// QueryAll returns every stored rating, newest first.
func (r *RatingsRepository) QueryAll(ctx context.Context) ([]domain.RawRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM ratings ORDER BY created_at DESC, id DESC`, ratingColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	results := make([]domain.RawRecord, 0, len(maps))
	for _, m := range maps {
		results = append(results, domain.RawRecord(m))
	}
	return results, nil
}

// QueryByKey fetches a rating by its integer id. Keys that do not parse as
// integers cannot exist here and yield domain.ErrInvalidKey.
func (r *RatingsRepository) QueryByKey(ctx context.Context, key string) (domain.RawRecord, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: %q is not a relational id", domain.ErrInvalidKey, key)
	}

	query := fmt.Sprintf(`SELECT %s FROM ratings WHERE id = $1`, ratingColumns)
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return domain.RawRecord(row), nil
}

func wrapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := rejectedCodes[pgErr.Code]; ok {
			return fmt.Errorf("%w: %s: %w", domain.ErrRejected, pgErr.ConstraintName, err)
		}
	}
	return err
}
