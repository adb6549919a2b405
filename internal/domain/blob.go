package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// AuctionArchiver copies ended auctions and their ledgers to cold storage.
type AuctionArchiver interface {
	// ArchiveEnded archives up to limit auctions that ended before cutoff and
	// returns how many were archived.
	ArchiveEnded(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// BlobReader reads archived objects back.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}
