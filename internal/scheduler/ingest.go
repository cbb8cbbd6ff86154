package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/notify"
	"github.com/alanyoungcy/polyjacket/internal/platform/schedule"
)

// GameSource retrieves games from the schedule feed.
type GameSource interface {
	GamesBetween(ctx context.Context, start time.Time, days int) ([]schedule.Game, error)
}

// Markets is the subset of the market service the ingester drives.
type Markets interface {
	CreateMarket(ctx context.Context, nm domain.NewMarket) (domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	RecordScore(ctx context.Context, id string, score [2]int) (domain.Market, error)
}

// MarketID is the id of the market opened for a feed game.
func MarketID(gameID string) string { return "market_" + gameID }

// IngestConfig controls which games are read and how their markets open.
type IngestConfig struct {
	DaysBack  int
	DaysAhead int
	Liquidity float64
}

// IngestReport summarises one ingestion run.
type IngestReport struct {
	Fetched int
	Created int
	Scored  int
	Skipped int
}

// Ingester opens a market for every new game and records final scores as
// they appear in the feed.
type Ingester struct {
	source   GameSource
	markets  Markets
	notifier *notify.Notifier
	cfg      IngestConfig
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.RWMutex
	games     []schedule.Game
	fetchedAt time.Time
}

// NewIngester creates an Ingester.
func NewIngester(source GameSource, markets Markets, notifier *notify.Notifier, cfg IngestConfig, logger *slog.Logger) *Ingester {
	return &Ingester{
		source:   source,
		markets:  markets,
		notifier: notifier,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "ingester")),
	}
}

// Games returns the games read by the last successful run and when they
// were read.
func (in *Ingester) Games() ([]schedule.Game, time.Time) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return append([]schedule.Game(nil), in.games...), in.fetchedAt
}

// Run reads the feed window around today and reconciles markets with it.
// Errors on individual games are collected; the run continues past them.
func (in *Ingester) Run(ctx context.Context) (IngestReport, error) {
	now := in.now()
	start := now.AddDate(0, 0, -in.cfg.DaysBack)
	games, err := in.source.GamesBetween(ctx, start, in.cfg.DaysBack+in.cfg.DaysAhead+1)
	if err != nil {
		if nerr := in.notifier.Notifyf(ctx, notify.EventIngestFailed, "Schedule fetch failed", "%v", err); nerr != nil {
			in.logger.WarnContext(ctx, "notify failed", slog.String("error", nerr.Error()))
		}
		return IngestReport{}, fmt.Errorf("ingest: fetch games: %w", err)
	}

	in.mu.Lock()
	in.games, in.fetchedAt = games, now
	in.mu.Unlock()

	report := IngestReport{Fetched: len(games)}
	var errs []error
	for _, g := range games {
		if err := in.reconcile(ctx, g, &report); err != nil {
			errs = append(errs, fmt.Errorf("game %s: %w", g.ID, err))
		}
	}
	in.logger.InfoContext(ctx, "ingest complete",
		slog.Int("fetched", report.Fetched),
		slog.Int("created", report.Created),
		slog.Int("scored", report.Scored),
		slog.Int("skipped", report.Skipped),
		slog.Int("errors", len(errs)),
	)
	return report, errors.Join(errs...)
}

func (in *Ingester) reconcile(ctx context.Context, g schedule.Game, report *IngestReport) error {
	id := MarketID(g.ID)
	m, err := in.markets.GetMarket(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if g.StartsAt.IsZero() {
			// no start time means no close time; wait for the feed to fill it in
			report.Skipped++
			return nil
		}
		m, err = in.markets.CreateMarket(ctx, domain.NewMarket{
			ID:        id,
			GameID:    g.ID,
			Title:     g.Title(),
			Sport:     g.Sport,
			Liquidity: in.cfg.Liquidity,
			StartsAt:  g.StartsAt,
		})
		if errors.Is(err, domain.ErrAlreadyExists) {
			m, err = in.markets.GetMarket(ctx, id)
		} else if err == nil {
			report.Created++
		}
		if err != nil {
			return err
		}
	case err != nil:
		return err
	}

	score, final := g.Score()
	if !final || m.Status == domain.MarketStatusSettled {
		return nil
	}
	if m.FinalScore != nil && *m.FinalScore == score {
		return nil
	}
	if _, err := in.markets.RecordScore(ctx, id, score); err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) {
			return nil
		}
		return err
	}
	report.Scored++
	return nil
}
