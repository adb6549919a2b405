package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

const auctionColumns = `
	id, publisher_id, title, author, description, genre, condition, image_urls,
	base_price, current_price, bid_count, last_bid_time,
	auction_start, auction_end,
	status, rejection_reason, reviewer_id, reviewed_at,
	archived_at, created_at, updated_at`

// AuctionStore implements domain.AuctionStore and domain.CatalogStore using
// PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

// Create inserts a new auction. The caller sets the id and pending status.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	images := a.ImageURLs
	if images == nil {
		images = []string{}
	}
	const query = `
		INSERT INTO auctions (
			id, publisher_id, title, author, description, genre, condition, image_urls,
			base_price, auction_start, auction_end, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.PublisherID, a.Title, a.Author, a.Description, a.Genre, string(a.Condition), images,
		a.BasePrice, a.AuctionStart, a.AuctionEnd, string(a.Status), a.CreatedAt,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("postgres: create auction %s", a.ID), err)
	}
	return nil
}

// GetByID returns the auction with the given id or domain.ErrNotFound.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		return domain.Auction{}, wrapErr(fmt.Sprintf("postgres: get auction %s", id), err)
	}
	return a, nil
}

// Catalog returns the display metadata of an auction.
func (s *AuctionStore) Catalog(ctx context.Context, auctionID string) (domain.CatalogEntry, error) {
	var (
		c         domain.CatalogEntry
		condition string
	)
	const query = `SELECT id, title, author, description, genre, condition, image_urls FROM auctions WHERE id = $1`
	err := s.pool.QueryRow(ctx, query, auctionID).Scan(
		&c.AuctionID, &c.Title, &c.Author, &c.Description, &c.Genre, &condition, &c.ImageURLs,
	)
	if err != nil {
		return domain.CatalogEntry{}, wrapErr(fmt.Sprintf("postgres: get catalog %s", auctionID), err)
	}
	c.Condition = domain.Condition(condition)
	return c, nil
}

// List returns auctions matching filter. Phase is evaluated against
// filter.Now in SQL so the whole page is classified with one instant.
func (s *AuctionStore) List(ctx context.Context, filter domain.AuctionFilter) ([]domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*filter.Status))
		argIdx++
	}
	if filter.PublisherID != "" {
		query += fmt.Sprintf(" AND publisher_id = $%d", argIdx)
		args = append(args, filter.PublisherID)
		argIdx++
	}

	order := " ORDER BY created_at DESC"
	if filter.Phase != nil {
		switch *filter.Phase {
		case domain.PhaseUpcoming:
			query += fmt.Sprintf(" AND auction_start > $%d", argIdx)
			order = " ORDER BY auction_start ASC"
		case domain.PhaseActive:
			query += fmt.Sprintf(" AND auction_start <= $%d AND auction_end >= $%d", argIdx, argIdx)
			order = " ORDER BY auction_end ASC"
		case domain.PhaseEnded:
			query += fmt.Sprintf(" AND auction_end < $%d", argIdx)
			order = " ORDER BY auction_end DESC"
		}
		args = append(args, filter.Now)
		argIdx++
	}
	query += order + ", id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("postgres: list auctions", err)
	}
	return collectAuctions(rows)
}

// Moderate applies d to a pending auction. The status guard lives in the
// UPDATE so two moderators cannot both decide.
func (s *AuctionStore) Moderate(ctx context.Context, id string, d domain.ModerationDecision) (domain.Auction, error) {
	const query = `
		UPDATE auctions
		SET status = $2, reviewer_id = $3, rejection_reason = $4, reviewed_at = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + auctionColumns

	a, err := scanAuction(s.pool.QueryRow(ctx, query, id, string(d.Status), d.ReviewerID, d.Reason, d.DecidedAt))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Auction{}, wrapErr(fmt.Sprintf("postgres: moderate auction %s", id), err)
	}

	// No row updated: either missing or already decided.
	cur, getErr := s.GetByID(ctx, id)
	if getErr != nil {
		return domain.Auction{}, getErr
	}
	return domain.Auction{}, fmt.Errorf("postgres: moderate auction %s (status %s): %w", id, cur.Status, domain.ErrInvalidTransition)
}

// ListArchivable returns auctions that ended before endedBefore and have not
// been archived, oldest first. Rejected and pending auctions are included so
// their records reach cold storage too.
func (s *AuctionStore) ListArchivable(ctx context.Context, endedBefore time.Time, limit int) ([]domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions
		WHERE archived_at IS NULL AND auction_end < $1
		ORDER BY auction_end ASC`
	args := []any{endedBefore}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("postgres: list archivable auctions", err)
	}
	return collectAuctions(rows)
}

// MarkArchived stamps the auction as copied to cold storage.
func (s *AuctionStore) MarkArchived(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE auctions SET archived_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return wrapErr(fmt.Sprintf("postgres: mark auction %s archived", id), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark auction %s archived: %w", id, domain.ErrNotFound)
	}
	return nil
}

func collectAuctions(rows pgx.Rows) ([]domain.Auction, error) {
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, wrapErr("postgres: scan auction", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("postgres: list auctions rows", err)
	}
	return out, nil
}

func scanAuction(row pgx.Row) (domain.Auction, error) {
	var (
		a                 domain.Auction
		condition, status string
	)
	err := row.Scan(
		&a.ID, &a.PublisherID, &a.Title, &a.Author, &a.Description, &a.Genre, &condition, &a.ImageURLs,
		&a.BasePrice, &a.CurrentPrice, &a.BidCount, &a.LastBidTime,
		&a.AuctionStart, &a.AuctionEnd,
		&status, &a.RejectionReason, &a.ReviewerID, &a.ReviewedAt,
		&a.ArchivedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	a.Condition = domain.Condition(condition)
	a.Status = domain.ModerationStatus(status)
	a.AuctionStart = a.AuctionStart.UTC()
	a.AuctionEnd = a.AuctionEnd.UTC()
	if a.LastBidTime != nil {
		t := a.LastBidTime.UTC()
		a.LastBidTime = &t
	}
	return a, nil
}

var (
	_ domain.AuctionStore = (*AuctionStore)(nil)
	_ domain.CatalogStore = (*AuctionStore)(nil)
)
