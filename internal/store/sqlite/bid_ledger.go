package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

type bidRow struct {
	ID        string `db:"id"`
	AuctionID string `db:"auction_id"`
	BidderID  string `db:"bidder_id"`
	Amount    int64  `db:"amount"`
	BidTime   int64  `db:"bid_time"`
}

// BidLedger implements domain.BidLedger on SQLite.
type BidLedger struct {
	db *sqlx.DB
}

// NewBidLedger creates a BidLedger on db.
func NewBidLedger(db *sqlx.DB) *BidLedger {
	return &BidLedger{db: db}
}

// Append conditionally moves the auction price and inserts the bid in one
// transaction.
func (l *BidLedger) Append(ctx context.Context, b domain.Bid, expectedPrice int64) error {
	op := fmt.Sprintf("sqlite: append bid to auction %s", b.AuctionID)
	bidTime := toMicros(b.BidTime)

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE auctions
		SET current_price = ?, bid_count = bid_count + 1, last_bid_time = ?, updated_at = ?
		WHERE id = ?
		  AND status = 'approved'
		  AND current_price = ?
		  AND ? > MAX(base_price, current_price)
		  AND ? BETWEEN auction_start AND auction_end
		  AND (last_bid_time IS NULL OR last_bid_time < ?)`,
		b.Amount, bidTime, toMicros(time.Now()), b.AuctionID, expectedPrice, b.Amount, bidTime, bidTime,
	)
	if err != nil {
		return wrapErr(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bids (id, auction_id, bidder_id, amount, bid_time) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.AuctionID, b.BidderID, b.Amount, bidTime,
	); err != nil {
		return wrapErr(op, err)
	}
	return wrapErr(op, tx.Commit())
}

// Since returns bids placed strictly after since, oldest first.
func (l *BidLedger) Since(ctx context.Context, auctionID string, since time.Time) ([]domain.Bid, error) {
	return l.query(ctx, fmt.Sprintf("sqlite: bids since for %s", auctionID),
		`SELECT * FROM bids WHERE auction_id = ? AND bid_time > ? ORDER BY bid_time ASC`, auctionID, toMicros(since))
}

// Recent returns up to n bids, newest first.
func (l *BidLedger) Recent(ctx context.Context, auctionID string, n int) ([]domain.Bid, error) {
	return l.query(ctx, fmt.Sprintf("sqlite: recent bids for %s", auctionID),
		`SELECT * FROM bids WHERE auction_id = ? ORDER BY bid_time DESC LIMIT ?`, auctionID, n)
}

// All returns the whole ledger, oldest first.
func (l *BidLedger) All(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	return l.query(ctx, fmt.Sprintf("sqlite: ledger for %s", auctionID),
		`SELECT * FROM bids WHERE auction_id = ? ORDER BY bid_time ASC`, auctionID)
}

func (l *BidLedger) query(ctx context.Context, op, query string, args ...any) ([]domain.Bid, error) {
	var rows []bidRow
	if err := l.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, wrapErr(op, err)
	}
	out := make([]domain.Bid, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Bid{
			ID:        r.ID,
			AuctionID: r.AuctionID,
			BidderID:  r.BidderID,
			Amount:    r.Amount,
			BidTime:   fromMicros(r.BidTime),
		})
	}
	return out, nil
}

var _ domain.BidLedger = (*BidLedger)(nil)
