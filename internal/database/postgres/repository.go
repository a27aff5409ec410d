package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ayi456/panel-link/internal/database"
	"github.com/Ayi456/panel-link/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const uniqueViolationErrCode = "23505"

func isUniqueViolationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == uniqueViolationErrCode
}

type linkRecord struct {
	ID          string    `db:"id"`
	OwnerID     *int64    `db:"owner_id"`
	Locator     string    `db:"locator"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Public      bool      `db:"public"`
	VisitCount  int64     `db:"visit_count"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

func (r *linkRecord) ToLink() *models.Link {
	return &models.Link{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Locator:     r.Locator,
		Title:       r.Title,
		Description: r.Description,
		Public:      r.Public,
		VisitCount:  r.VisitCount,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

// LinkRepository is the authoritative store for links. It is the only
// component with a durable, transactionally consistent view of link state.
type LinkRepository struct {
	db *sqlx.DB
}

func NewLinkRepository(db *sqlx.DB) *LinkRepository {
	return &LinkRepository{
		db: db,
	}
}

func (r *LinkRepository) Create(ctx context.Context, link *models.Link) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.Create"

	rec := new(linkRecord)
	query := `INSERT INTO links(id, owner_id, locator, title, description, public, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *`

	err := r.db.GetContext(ctx, rec, query,
		link.ID, link.OwnerID, link.Locator, link.Title, link.Description, link.Public, link.ExpiresAt)
	if err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkExists)
		}

		return nil, fmt.Errorf("%s: failed to create link record: %w", op, err)
	}

	return rec.ToLink(), nil
}

func (r *LinkRepository) Exists(ctx context.Context, id string) (bool, error) {
	const op = "database.postgres.LinkRepository.Exists"

	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM links WHERE id = $1)`

	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("%s: failed to check link existence: %w", op, err)
	}

	return exists, nil
}

func (r *LinkRepository) GetByID(ctx context.Context, id string) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.GetByID"

	rec := new(linkRecord)
	query := `SELECT * FROM links WHERE id = $1`

	err := r.db.GetContext(ctx, rec, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get link record: %w", op, err)
	}

	return rec.ToLink(), nil
}

// UpdateMeta updates the mutable display metadata of a link. Nil fields are
// left untouched. The deadline, status and visit count are never written here.
func (r *LinkRepository) UpdateMeta(ctx context.Context, id string, title, description *string, public *bool) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.UpdateMeta"

	rec := new(linkRecord)
	query := `UPDATE links
		SET title = COALESCE($1, title),
			description = COALESCE($2, description),
			public = COALESCE($3, public)
		WHERE id = $4
		RETURNING *`

	err := r.db.GetContext(ctx, rec, query, title, description, public, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to update link record: %w", op, err)
	}

	return rec.ToLink(), nil
}

// IncrementVisits bumps the visit counter by one. Concurrent increments may
// race with reads, which is acceptable; the counter never goes backward.
func (r *LinkRepository) IncrementVisits(ctx context.Context, id string) error {
	const op = "database.postgres.LinkRepository.IncrementVisits"

	query := `UPDATE links SET visit_count = visit_count + 1 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("%s: failed to increment visit count: %w", op, err)
	}

	return nil
}

// MarkExpired flips a link's status to expired. Marking an already-expired or
// already-deleted link is a no-op, not an error.
func (r *LinkRepository) MarkExpired(ctx context.Context, id string) error {
	const op = "database.postgres.LinkRepository.MarkExpired"

	query := `UPDATE links SET status = $1 WHERE id = $2`

	if _, err := r.db.ExecContext(ctx, query, models.StatusExpired, id); err != nil {
		return fmt.Errorf("%s: failed to mark link expired: %w", op, err)
	}

	return nil
}

func (r *LinkRepository) Delete(ctx context.Context, id string) error {
	const op = "database.postgres.LinkRepository.Delete"

	query := `DELETE FROM links WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: failed to delete link record: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	return nil
}

// MarkAllExpired flips every active link whose deadline has passed and returns
// the number of links affected. This is the sweeper's logical-expiry phase.
func (r *LinkRepository) MarkAllExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "database.postgres.LinkRepository.MarkAllExpired"

	query := `UPDATE links SET status = $1 WHERE status = $2 AND expires_at < $3`

	res, err := r.db.ExecContext(ctx, query, models.StatusExpired, models.StatusActive, now)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to mark expired links: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}

	return rows, nil
}

// DeleteExpiredBatch physically removes up to limit expired links created
// before the cutoff and returns the number removed. Deletion is irreversible.
func (r *LinkRepository) DeleteExpiredBatch(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	const op = "database.postgres.LinkRepository.DeleteExpiredBatch"

	query := `DELETE FROM links
		WHERE id IN (
			SELECT id FROM links
			WHERE status = $1 AND created_at < $2
			LIMIT $3
		)`

	res, err := r.db.ExecContext(ctx, query, models.StatusExpired, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to delete expired links: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}

	return rows, nil
}
