package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// auctionLine is the first line of an archive file.
type auctionLine struct {
	Type         string                  `json:"type"`
	ID           string                  `json:"id"`
	PublisherID  string                  `json:"publisherId"`
	Title        string                  `json:"title"`
	Author       string                  `json:"author,omitempty"`
	Condition    domain.Condition        `json:"condition,omitempty"`
	Status       domain.ModerationStatus `json:"status"`
	BasePrice    int64                   `json:"basePrice"`
	FinalPrice   int64                   `json:"finalPrice"`
	BidCount     int                     `json:"bidCount"`
	AuctionStart time.Time               `json:"auctionStart"`
	AuctionEnd   time.Time               `json:"auctionEnd"`
}

type bidLine struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	BidderID  string    `json:"bidderId"`
	BidAmount int64     `json:"bidAmount"`
	BidTime   time.Time `json:"bidTime"`
}

// Archiver copies ended auctions with their full ledgers to object storage
// as JSONL, one auction line followed by one line per bid. Ledgers stay in
// the primary store.
type Archiver struct {
	auctions domain.AuctionStore
	ledger   domain.BidLedger
	writer   domain.BlobWriter
	reader   domain.BlobReader
	audit    domain.AuditStore
	cache    domain.BidTimeCache
	clock    domain.Clock
	logger   *slog.Logger
}

// NewArchiver creates an Archiver. reader may be nil; when set, objects
// left behind by an interrupted run are not uploaded twice.
func NewArchiver(
	auctions domain.AuctionStore,
	ledger domain.BidLedger,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	clock domain.Clock,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		auctions: auctions,
		ledger:   ledger,
		writer:   writer,
		reader:   reader,
		audit:    audit,
		clock:    clock,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// WithCache drops archived auctions from the delta sync cache.
func (a *Archiver) WithCache(c domain.BidTimeCache) *Archiver {
	a.cache = c
	return a
}

// ArchiveEnded archives up to limit auctions that ended before cutoff. A
// failing auction does not stop the batch; its error is returned alongside
// the count of auctions that made it.
func (a *Archiver) ArchiveEnded(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	batch, err := a.auctions.ListArchivable(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list archivable: %w", err)
	}

	var (
		archived int
		errs     []error
	)
	for _, auc := range batch {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := a.archiveOne(ctx, auc); err != nil {
			a.logger.ErrorContext(ctx, "archiver: archive auction",
				slog.String("auction_id", auc.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		archived++
	}
	return archived, errors.Join(errs...)
}

func (a *Archiver) archiveOne(ctx context.Context, auc domain.Auction) error {
	path := ArchivePath(auc)

	uploaded := false
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return err
		}
		uploaded = exists
	}

	bids, err := a.ledger.All(ctx, auc.ID)
	if err != nil {
		return fmt.Errorf("s3blob: ledger %s: %w", auc.ID, err)
	}

	if !uploaded {
		body, err := encodeArchive(auc, bids)
		if err != nil {
			return fmt.Errorf("s3blob: encode %s: %w", auc.ID, err)
		}
		if err := a.writer.Put(ctx, path, bytes.NewReader(body), contentTypeJSONL); err != nil {
			return err
		}
	}

	if err := a.auctions.MarkArchived(ctx, auc.ID, a.clock.Now()); err != nil {
		return fmt.Errorf("s3blob: mark %s archived: %w", auc.ID, err)
	}
	if a.cache != nil {
		if err := a.cache.Forget(ctx, auc.ID); err != nil {
			a.logger.WarnContext(ctx, "archiver: forget cached bid time",
				slog.String("auction_id", auc.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	a.logger.InfoContext(ctx, "archiver: auction archived",
		slog.String("auction_id", auc.ID),
		slog.String("path", path),
		slog.Int("bids", len(bids)),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, domain.EventAuctionArchived, map[string]any{
			"auction_id": auc.ID,
			"path":       path,
			"bids":       len(bids),
		}); err != nil {
			a.logger.WarnContext(ctx, "archiver: audit log", slog.String("error", err.Error()))
		}
	}
	return nil
}

// ArchivePath is the object key for auc, partitioned by the month it ended:
//
//	archive/auctions/2026-03/<auctionID>.jsonl
func ArchivePath(auc domain.Auction) string {
	return fmt.Sprintf("archive/auctions/%s/%s.jsonl", auc.AuctionEnd.UTC().Format("2006-01"), auc.ID)
}

func encodeArchive(auc domain.Auction, bids []domain.Bid) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(auctionLine{
		Type:         "auction",
		ID:           auc.ID,
		PublisherID:  auc.PublisherID,
		Title:        auc.Title,
		Author:       auc.Author,
		Condition:    auc.Condition,
		Status:       auc.Status,
		BasePrice:    auc.BasePrice,
		FinalPrice:   auc.FinalPrice(),
		BidCount:     len(bids),
		AuctionStart: auc.AuctionStart,
		AuctionEnd:   auc.AuctionEnd,
	}); err != nil {
		return nil, err
	}
	for _, b := range bids {
		if err := enc.Encode(bidLine{
			Type:      "bid",
			ID:        b.ID,
			BidderID:  b.BidderID,
			BidAmount: b.Amount,
			BidTime:   b.BidTime,
		}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

var _ domain.AuctionArchiver = (*Archiver)(nil)
