package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

// ArchiveJob periodically copies ended auctions to cold storage.
type ArchiveJob struct {
	archiver  domain.AuctionArchiver
	grace     time.Duration
	batchSize int
	clock     domain.Clock
	logger    *slog.Logger
}

// NewArchiveJob creates an ArchiveJob. Auctions become eligible once they
// have been over for grace.
func NewArchiveJob(archiver domain.AuctionArchiver, grace time.Duration, batchSize int, clock domain.Clock, logger *slog.Logger) *ArchiveJob {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ArchiveJob{
		archiver:  archiver,
		grace:     grace,
		batchSize: batchSize,
		clock:     clock,
		logger:    logger.With(slog.String("component", "archive_job")),
	}
}

// Run archives every eligible auction, one batch at a time, and returns the
// total. It stops at the first batch that comes back short or fails.
func (j *ArchiveJob) Run(ctx context.Context) (int, error) {
	cutoff := j.clock.Now().Add(-j.grace)
	j.logger.InfoContext(ctx, "archive_job: run started", slog.Time("cutoff", cutoff))

	total := 0
	for {
		n, err := j.archiver.ArchiveEnded(ctx, cutoff, j.batchSize)
		total += n
		if err != nil {
			return total, fmt.Errorf("archive_job: archive before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		if n < j.batchSize {
			break
		}
	}

	j.logger.InfoContext(ctx, "archive_job: run complete", slog.Int("archived", total))
	return total, nil
}

// RunLoop runs the job immediately and then every interval until ctx is
// cancelled. Failed runs are logged and retried on the next tick.
func (j *ArchiveJob) RunLoop(ctx context.Context, interval time.Duration) error {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

// RunCron runs the job whenever the 5-field cron expression matches.
func (j *ArchiveJob) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("archive_job: cron %q: %w", cronExpr, err)
	}
	for {
		now := j.clock.Now()
		next, ok := sched.next(now)
		if !ok {
			return fmt.Errorf("archive_job: cron %q never fires", cronExpr)
		}
		j.logger.InfoContext(ctx, "archive_job: waiting for next run", slog.Time("next_run", next))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			j.runLogged(ctx)
		}
	}
}

func (j *ArchiveJob) runLogged(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.ErrorContext(ctx, "archive_job: run failed", slog.String("error", err.Error()))
	}
}

// cronField matches one field of a cron expression: "*", a number, or a
// comma list of numbers.
type cronField struct {
	any    bool
	values map[int]bool
}

func (f cronField) matches(v int) bool { return f.any || f.values[v] }

func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{any: true}, nil
	}
	f := cronField{values: map[int]bool{}}
	for _, p := range strings.Split(field, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid value %q", p)
		}
		if v < lo || v > hi {
			return cronField{}, fmt.Errorf("value %d outside %d-%d", v, lo, hi)
		}
		f.values[v] = true
	}
	return f, nil
}

// cronSchedule is minute, hour, day of month, month, day of week.
type cronSchedule [5]cronField

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("want 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	var s cronSchedule
	for i, field := range fields {
		f, err := parseCronField(field, bounds[i][0], bounds[i][1])
		if err != nil {
			return cronSchedule{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		s[i] = f
	}
	return s, nil
}

func (s cronSchedule) matches(t time.Time) bool {
	return s[0].matches(t.Minute()) &&
		s[1].matches(t.Hour()) &&
		s[2].matches(t.Day()) &&
		s[3].matches(int(t.Month())) &&
		s[4].matches(int(t.Weekday()))
}

// next returns the first matching minute after after, searching one year.
func (s cronSchedule) next(after time.Time) (time.Time, bool) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	for limit := after.AddDate(1, 0, 1); t.Before(limit); t = t.Add(time.Minute) {
		if s.matches(t) {
			return t, true
		}
	}
	return time.Time{}, false
}
