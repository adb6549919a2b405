package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

// BidLedger implements domain.BidLedger using PostgreSQL.
type BidLedger struct {
	pool *pgxpool.Pool
}

// NewBidLedger creates a new BidLedger backed by the given connection pool.
func NewBidLedger(pool *pgxpool.Pool) *BidLedger {
	return &BidLedger{pool: pool}
}

// Append commits b in one transaction: a conditional UPDATE of the auction
// row followed by the ledger INSERT. The UPDATE re-checks the invariants the
// caller validated, so a stale read can never commit.
func (l *BidLedger) Append(ctx context.Context, b domain.Bid, expectedPrice int64) error {
	op := fmt.Sprintf("postgres: append bid to auction %s", b.AuctionID)

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return wrapErr(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const update = `
		UPDATE auctions
		SET current_price = $2, bid_count = bid_count + 1, last_bid_time = $3, updated_at = NOW()
		WHERE id = $1
		  AND status = 'approved'
		  AND current_price = $4
		  AND $2 > GREATEST(base_price, current_price)
		  AND $3 BETWEEN auction_start AND auction_end
		  AND (last_bid_time IS NULL OR last_bid_time < $3)`

	tag, err := tx.Exec(ctx, update, b.AuctionID, b.Amount, b.BidTime, expectedPrice)
	if err != nil {
		return wrapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}

	const insert = `INSERT INTO bids (id, auction_id, bidder_id, amount, bid_time) VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, insert, b.ID, b.AuctionID, b.BidderID, b.Amount, b.BidTime); err != nil {
		return wrapErr(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

// Since returns bids placed strictly after since, oldest first.
func (l *BidLedger) Since(ctx context.Context, auctionID string, since time.Time) ([]domain.Bid, error) {
	const query = `
		SELECT id, auction_id, bidder_id, amount, bid_time FROM bids
		WHERE auction_id = $1 AND bid_time > $2
		ORDER BY bid_time ASC`
	rows, err := l.pool.Query(ctx, query, auctionID, since)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("postgres: bids since for %s", auctionID), err)
	}
	return collectBids(rows)
}

// Recent returns up to n bids, newest first.
func (l *BidLedger) Recent(ctx context.Context, auctionID string, n int) ([]domain.Bid, error) {
	const query = `
		SELECT id, auction_id, bidder_id, amount, bid_time FROM bids
		WHERE auction_id = $1
		ORDER BY bid_time DESC
		LIMIT $2`
	rows, err := l.pool.Query(ctx, query, auctionID, n)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("postgres: recent bids for %s", auctionID), err)
	}
	return collectBids(rows)
}

// All returns the whole ledger, oldest first.
func (l *BidLedger) All(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	const query = `
		SELECT id, auction_id, bidder_id, amount, bid_time FROM bids
		WHERE auction_id = $1
		ORDER BY bid_time ASC`
	rows, err := l.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("postgres: ledger for %s", auctionID), err)
	}
	return collectBids(rows)
}

func collectBids(rows pgx.Rows) ([]domain.Bid, error) {
	defer rows.Close()

	out := make([]domain.Bid, 0)
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.BidTime); err != nil {
			return nil, wrapErr("postgres: scan bid", err)
		}
		b.BidTime = b.BidTime.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("postgres: bids rows", err)
	}
	return out, nil
}

var _ domain.BidLedger = (*BidLedger)(nil)
