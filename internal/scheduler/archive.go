package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/notify"
)

// ArchiveJob moves settlement ledgers older than the retention period to
// cold storage.
type ArchiveJob struct {
	archiver  domain.Archiver
	retention time.Duration
	notifier  *notify.Notifier
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveJob creates an ArchiveJob.
func NewArchiveJob(archiver domain.Archiver, retention time.Duration, notifier *notify.Notifier, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:  archiver,
		retention: retention,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "archive_job")),
	}
}

// Run archives every settlement older than the retention period.
func (a *ArchiveJob) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-a.retention)
	a.logger.InfoContext(ctx, "starting archive run", slog.Time("cutoff", cutoff))

	n, err := a.archiver.ArchiveSettlements(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("archive settlements before %v: %w", cutoff, err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("settlements", n))
	if n > 0 {
		if nerr := a.notifier.Notifyf(ctx, notify.EventArchiveCompleted, "Archive complete",
			"%d settlements settled before %s moved to cold storage", n, cutoff.Format(time.RFC3339)); nerr != nil {
			a.logger.WarnContext(ctx, "notify failed", slog.String("error", nerr.Error()))
		}
	}
	return n, nil
}

// cronField represents a parsed cron field that can match against a value.
type cronField struct {
	wildcard bool
	values   []int
}

func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses a single field ("0", "*", "1,15", "*/5").
func parseCronField(field string, max int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	if step, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return cronField{}, fmt.Errorf("invalid cron step %q", field)
		}
		var values []int
		for v := 0; v <= max; v += n {
			values = append(values, v)
		}
		return cronField{values: values}, nil
	}

	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		if v < 0 || v > max {
			return cronField{}, fmt.Errorf("cron field value %d out of range 0-%d", v, max)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

// cronSpec is a parsed five-field expression:
// minute hour day-of-month month day-of-week.
type cronSpec struct {
	minute, hour, dayOfMonth, month, dayOfWeek cronField
}

func (c cronSpec) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// ValidateCron reports whether expr is a usable five-field cron expression.
func ValidateCron(expr string) error {
	_, err := parseCron(expr)
	return err
}

func parseCron(expr string) (cronSpec, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSpec{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	maxima := [5]int{59, 23, 31, 12, 6}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, maxima[i])
		if err != nil {
			return cronSpec{}, fmt.Errorf("cron field %d: %w", i+1, err)
		}
		parsed[i] = cf
	}
	return cronSpec{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

// next returns the first minute strictly after 'after' that matches. It
// searches up to one year ahead.
func (c cronSpec) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time within one year")
}
