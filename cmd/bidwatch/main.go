// Command bidwatch follows one auction from the terminal. It polls the API
// on the adaptive schedule and prints new bids, price changes and interval
// switches until the auction ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alanyoungcy/bookauction/internal/bidclient"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "auction API base URL")
	token := flag.String("token", os.Getenv("AUCTION_TOKEN"), "API token")
	auctionID := flag.String("auction", "", "auction id to watch")
	bidAmount := flag.Int64("bid", 0, "place this bid once watching has started")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *auctionID == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "usage: bidwatch -auction <id> -token <token> [-server url] [-bid amount]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *serverURL, *token, *auctionID, *bidAmount, logger); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "bidwatch: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, serverURL, token, auctionID string, bidAmount int64, logger *slog.Logger) error {
	client := bidclient.NewClient(serverURL, token)

	auc, err := client.Auction(ctx, auctionID)
	if err != nil {
		return err
	}
	fmt.Printf("%s by %s\n", auc.Book.Title, auc.Book.Author)
	fmt.Printf("  price %d, next bid must exceed %d, ends %s (%s)\n",
		auc.CurrentPrice, auc.MinimumExclusive, auc.AuctionEnd.Local().Format(time.RFC1123), auc.Phase)

	poller := bidclient.NewPoller(client, auctionID, auc.AuctionEnd, auc.CurrentPrice, logger,
		bidclient.WithObserver(printEvent))

	if bidAmount > 0 {
		go func() {
			if _, err := poller.Sync(ctx); err != nil {
				return
			}
			if _, err := poller.SubmitBid(ctx, bidAmount); err != nil {
				logger.Debug("bidwatch: bid failed", slog.String("error", err.Error()))
			}
		}()
	}

	return poller.Run(ctx)
}

func printEvent(e bidclient.Event) {
	ts := time.Now().Format("15:04:05.000")
	switch e.Kind {
	case bidclient.EventBids:
		for i := len(e.NewBids) - 1; i >= 0; i-- {
			b := e.NewBids[i]
			name := b.Bidder.DisplayName
			if name == "" {
				name = b.Bidder.ID
			}
			fmt.Printf("%s  bid %d by %s at %s\n", ts, b.BidAmount, name, b.BidTime.Local().Format("15:04:05.000"))
		}
		fmt.Printf("%s  price now %d\n", ts, e.CurrentPrice)
	case bidclient.EventPrice:
		fmt.Printf("%s  price now %d\n", ts, e.CurrentPrice)
	case bidclient.EventInterval:
		fmt.Printf("%s  polling every %s\n", ts, e.Interval)
	case bidclient.EventSync:
		if e.Err != nil {
			fmt.Printf("%s  sync failed: %v\n", ts, e.Err)
		}
	case bidclient.EventBid:
		if e.Err != nil {
			var apiErr *bidclient.APIError
			if errors.As(e.Err, &apiErr) && apiErr.MinimumExclusive != nil {
				fmt.Printf("%s  your bid was rejected: must exceed %d\n", ts, *apiErr.MinimumExclusive)
				return
			}
			fmt.Printf("%s  your bid was rejected: %v\n", ts, e.Err)
			return
		}
		fmt.Printf("%s  your bid of %d was accepted\n", ts, e.CurrentPrice)
	case bidclient.EventEnded:
		fmt.Printf("%s  auction ended at %d\n", ts, e.CurrentPrice)
	}
}
