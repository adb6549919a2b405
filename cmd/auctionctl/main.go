// Command auctionctl is the operator tool for the auction service.
//
//	auctionctl user add -id alice -name "Alice" -role buyer
//	auctionctl auction create -token T -title ... -author ... -base 1000 -start ... -end ...
//	auctionctl auction approve -token T -id <auction>
//	auctionctl auction reject -token T -id <auction> -reason "..."
//	auctionctl archive show -id <auction>
//
// user and archive commands talk to the stores directly and read the same
// configuration as auctiond; auction commands go through the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alanyoungcy/bookauction/internal/app"
	"github.com/alanyoungcy/bookauction/internal/auth"
	"github.com/alanyoungcy/bookauction/internal/bidclient"
	s3blob "github.com/alanyoungcy/bookauction/internal/blob/s3"
	"github.com/alanyoungcy/bookauction/internal/config"
	"github.com/alanyoungcy/bookauction/internal/domain"
)

func main() {
	if len(os.Args) < 3 {
		usage()
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	args := os.Args[3:]
	switch os.Args[1] + " " + os.Args[2] {
	case "user add":
		err = userAdd(ctx, args, logger)
	case "auction create":
		err = auctionCreate(ctx, args)
	case "auction approve":
		err = auctionDecide(ctx, args, true)
	case "auction reject":
		err = auctionDecide(ctx, args, false)
	case "archive show":
		err = archiveShow(ctx, args, logger)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "auctionctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: auctionctl <user add|auction create|auction approve|auction reject|archive show> [flags]")
	os.Exit(2)
}

func loadDeps(ctx context.Context, configPath string, logger *slog.Logger) (*app.Dependencies, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return app.Wire(ctx, cfg, logger)
}

func userAdd(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("user add", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("AUCTION_CONFIG"), "path to configuration file")
	id := fs.String("id", "", "user id")
	name := fs.String("name", "", "display name")
	role := fs.String("role", string(domain.RoleBuyer), "buyer | publisher | admin")
	_ = fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("user add: -id is required")
	}
	if !domain.Role(*role).Valid() {
		return fmt.Errorf("user add: unknown role %q", *role)
	}

	deps, cleanup, err := loadDeps(ctx, *configPath, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	token, hash, err := auth.NewToken(*id)
	if err != nil {
		return err
	}
	if err := deps.Users.CreateUser(ctx, domain.User{
		ID:          *id,
		DisplayName: *name,
		Role:        domain.Role(*role),
		TokenHash:   hash,
		CreatedAt:   deps.Clock.Now(),
	}); err != nil {
		return fmt.Errorf("user add: %w", err)
	}
	fmt.Printf("created %s %s\ntoken: %s\n", *role, *id, token)
	return nil
}

func apiFlags(fs *flag.FlagSet) (serverURL, token *string) {
	serverURL = fs.String("server", "http://localhost:8080", "auction API base URL")
	token = fs.String("token", os.Getenv("AUCTION_TOKEN"), "API token")
	return serverURL, token
}

func auctionCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("auction create", flag.ExitOnError)
	serverURL, token := apiFlags(fs)
	var in bidclient.NewAuction
	fs.StringVar(&in.Title, "title", "", "book title")
	fs.StringVar(&in.Author, "author", "", "book author")
	fs.StringVar(&in.Description, "description", "", "description")
	fs.StringVar(&in.Genre, "genre", "", "genre")
	fs.StringVar(&in.Condition, "condition", "good", "new | like_new | very_good | good | fair | poor")
	fs.Int64Var(&in.BasePrice, "base", 0, "base price")
	start := fs.String("start", "", "auction start, RFC3339 (default now)")
	end := fs.String("end", "", "auction end, RFC3339 or a duration after start such as 72h")
	_ = fs.Parse(args)

	in.AuctionStart = time.Now().UTC().Truncate(time.Second)
	if *start != "" {
		t, err := time.Parse(time.RFC3339, *start)
		if err != nil {
			return fmt.Errorf("auction create: -start: %w", err)
		}
		in.AuctionStart = t
	}
	if d, err := time.ParseDuration(*end); err == nil {
		in.AuctionEnd = in.AuctionStart.Add(d)
	} else if t, err := time.Parse(time.RFC3339, *end); err == nil {
		in.AuctionEnd = t
	} else {
		return fmt.Errorf("auction create: -end %q is neither a time nor a duration", *end)
	}

	a, err := bidclient.NewClient(*serverURL, *token).CreateAuction(ctx, in)
	if err != nil {
		return err
	}
	fmt.Printf("created auction %s (%s)\n", a.ID, a.Status)
	return nil
}

func auctionDecide(ctx context.Context, args []string, approve bool) error {
	fs := flag.NewFlagSet("auction decide", flag.ExitOnError)
	serverURL, token := apiFlags(fs)
	id := fs.String("id", "", "auction id")
	reason := fs.String("reason", "", "rejection reason")
	_ = fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	client := bidclient.NewClient(*serverURL, *token)
	var (
		a   bidclient.Auction
		err error
	)
	if approve {
		a, err = client.Approve(ctx, *id)
	} else {
		a, err = client.Reject(ctx, *id, *reason)
	}
	if err != nil {
		return err
	}
	fmt.Printf("auction %s is now %s\n", a.ID, a.Status)
	return nil
}

func archiveShow(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("archive show", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("AUCTION_CONFIG"), "path to configuration file")
	id := fs.String("id", "", "auction id")
	_ = fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("archive show: -id is required")
	}
	deps, cleanup, err := loadDeps(ctx, *configPath, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	if deps.BlobReader == nil {
		return fmt.Errorf("archive show: s3 is not enabled")
	}

	auc, err := deps.Auctions.GetByID(ctx, *id)
	if err != nil {
		return fmt.Errorf("archive show: %w", err)
	}
	rc, err := deps.BlobReader.Get(ctx, s3blob.ArchivePath(auc))
	if err != nil {
		return fmt.Errorf("archive show: %w", err)
	}
	defer rc.Close()
	_, err = io.Copy(os.Stdout, rc)
	return err
}
