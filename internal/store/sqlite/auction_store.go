package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

type auctionRow struct {
	ID              string        `db:"id"`
	PublisherID     string        `db:"publisher_id"`
	Title           string        `db:"title"`
	Author          string        `db:"author"`
	Description     string        `db:"description"`
	Genre           string        `db:"genre"`
	Condition       string        `db:"condition"`
	ImageURLs       string        `db:"image_urls"`
	BasePrice       int64         `db:"base_price"`
	CurrentPrice    int64         `db:"current_price"`
	BidCount        int           `db:"bid_count"`
	LastBidTime     sql.NullInt64 `db:"last_bid_time"`
	AuctionStart    int64         `db:"auction_start"`
	AuctionEnd      int64         `db:"auction_end"`
	Status          string        `db:"status"`
	RejectionReason string        `db:"rejection_reason"`
	ReviewerID      string        `db:"reviewer_id"`
	ReviewedAt      sql.NullInt64 `db:"reviewed_at"`
	ArchivedAt      sql.NullInt64 `db:"archived_at"`
	CreatedAt       int64         `db:"created_at"`
	UpdatedAt       int64         `db:"updated_at"`
}

func (r auctionRow) toDomain() (domain.Auction, error) {
	var images []string
	if r.ImageURLs != "" {
		if err := json.Unmarshal([]byte(r.ImageURLs), &images); err != nil {
			return domain.Auction{}, fmt.Errorf("sqlite: decode image urls of %s: %w", r.ID, err)
		}
	}
	return domain.Auction{
		ID:              r.ID,
		PublisherID:     r.PublisherID,
		Title:           r.Title,
		Author:          r.Author,
		Description:     r.Description,
		Genre:           r.Genre,
		Condition:       domain.Condition(r.Condition),
		ImageURLs:       images,
		BasePrice:       r.BasePrice,
		CurrentPrice:    r.CurrentPrice,
		BidCount:        r.BidCount,
		LastBidTime:     timePtr(r.LastBidTime),
		AuctionStart:    fromMicros(r.AuctionStart),
		AuctionEnd:      fromMicros(r.AuctionEnd),
		Status:          domain.ModerationStatus(r.Status),
		RejectionReason: r.RejectionReason,
		ReviewerID:      r.ReviewerID,
		ReviewedAt:      timePtr(r.ReviewedAt),
		ArchivedAt:      timePtr(r.ArchivedAt),
		CreatedAt:       fromMicros(r.CreatedAt),
		UpdatedAt:       fromMicros(r.UpdatedAt),
	}, nil
}

// AuctionStore implements domain.AuctionStore and domain.CatalogStore.
type AuctionStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewAuctionStore creates an AuctionStore on db.
func NewAuctionStore(db *sqlx.DB) *AuctionStore {
	return &AuctionStore{db: db, now: time.Now}
}

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	images := a.ImageURLs
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("sqlite: encode image urls: %w", err)
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auctions (
			id, publisher_id, title, author, description, genre, condition, image_urls,
			base_price, auction_start, auction_end, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PublisherID, a.Title, a.Author, a.Description, a.Genre, string(a.Condition), string(imagesJSON),
		a.BasePrice, toMicros(a.AuctionStart), toMicros(a.AuctionEnd), string(a.Status),
		toMicros(created), toMicros(created),
	)
	return wrapErr(fmt.Sprintf("sqlite: create auction %s", a.ID), err)
}

// GetByID returns the auction with the given id or domain.ErrNotFound.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	var row auctionRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM auctions WHERE id = ?`, id); err != nil {
		return domain.Auction{}, wrapErr(fmt.Sprintf("sqlite: get auction %s", id), err)
	}
	return row.toDomain()
}

// Catalog returns the display metadata of an auction.
func (s *AuctionStore) Catalog(ctx context.Context, auctionID string) (domain.CatalogEntry, error) {
	a, err := s.GetByID(ctx, auctionID)
	if err != nil {
		return domain.CatalogEntry{}, err
	}
	return a.Catalog(), nil
}

// List returns auctions matching filter, classified against filter.Now.
func (s *AuctionStore) List(ctx context.Context, filter domain.AuctionFilter) ([]domain.Auction, error) {
	query := `SELECT * FROM auctions WHERE 1=1`
	var args []any

	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.PublisherID != "" {
		query += ` AND publisher_id = ?`
		args = append(args, filter.PublisherID)
	}

	order := ` ORDER BY created_at DESC`
	if filter.Phase != nil {
		now := toMicros(filter.Now)
		switch *filter.Phase {
		case domain.PhaseUpcoming:
			query += ` AND auction_start > ?`
			args = append(args, now)
			order = ` ORDER BY auction_start ASC`
		case domain.PhaseActive:
			query += ` AND auction_start <= ? AND auction_end >= ?`
			args = append(args, now, now)
			order = ` ORDER BY auction_end ASC`
		case domain.PhaseEnded:
			query += ` AND auction_end < ?`
			args = append(args, now)
			order = ` ORDER BY auction_end DESC`
		}
	}
	query += order + `, id ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	var rows []auctionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, wrapErr("sqlite: list auctions", err)
	}
	return toAuctions(rows)
}

// Moderate applies d to a pending auction.
func (s *AuctionStore) Moderate(ctx context.Context, id string, d domain.ModerationDecision) (domain.Auction, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auctions
		SET status = ?, reviewer_id = ?, rejection_reason = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(d.Status), d.ReviewerID, d.Reason, toMicros(d.DecidedAt), toMicros(s.now()), id,
	)
	if err != nil {
		return domain.Auction{}, wrapErr(fmt.Sprintf("sqlite: moderate auction %s", id), err)
	}
	n, _ := res.RowsAffected()

	a, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.Auction{}, err
	}
	if n == 0 {
		return domain.Auction{}, fmt.Errorf("sqlite: moderate auction %s (status %s): %w", id, a.Status, domain.ErrInvalidTransition)
	}
	return a, nil
}

// ListArchivable returns unarchived auctions that ended before endedBefore.
func (s *AuctionStore) ListArchivable(ctx context.Context, endedBefore time.Time, limit int) ([]domain.Auction, error) {
	query := `SELECT * FROM auctions WHERE archived_at IS NULL AND auction_end < ? ORDER BY auction_end ASC`
	args := []any{toMicros(endedBefore)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []auctionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, wrapErr("sqlite: list archivable auctions", err)
	}
	return toAuctions(rows)
}

// MarkArchived stamps the auction as copied to cold storage.
func (s *AuctionStore) MarkArchived(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE auctions SET archived_at = ?, updated_at = ? WHERE id = ?`,
		toMicros(at), toMicros(s.now()), id)
	if err != nil {
		return wrapErr(fmt.Sprintf("sqlite: mark auction %s archived", id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: mark auction %s archived: %w", id, domain.ErrNotFound)
	}
	return nil
}

func toAuctions(rows []auctionRow) ([]domain.Auction, error) {
	out := make([]domain.Auction, 0, len(rows))
	for _, r := range rows {
		a, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

var (
	_ domain.AuctionStore = (*AuctionStore)(nil)
	_ domain.CatalogStore = (*AuctionStore)(nil)
)
