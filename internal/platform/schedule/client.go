// Package schedule reads games from the intramural schedule feed. Each game
// becomes one market; its final score settles that market.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

const maxConcurrentDays = 4

// Client is the REST client for the feed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	loc        *time.Location
	sanitize   *bluemonday.Policy
}

// NewClient creates a feed client. Dates and times in the feed are read in
// loc; nil means UTC.
func NewClient(baseURL string, loc *time.Location) *Client {
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		loc:        loc,
		sanitize:   bluemonday.StrictPolicy(),
	}
}

// GamesOn returns the games scheduled on day (in the feed's location).
func (c *Client) GamesOn(ctx context.Context, day time.Time) ([]Game, error) {
	params := url.Values{}
	params.Set("date", day.In(c.loc).Format("2006-01-02"))

	body, err := c.doGet(ctx, "/games?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("schedule: get games %s: %w", params.Get("date"), err)
	}

	var raw []APIGame
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("schedule: decode games: %w", err)
	}

	games := make([]Game, 0, len(raw))
	for _, a := range raw {
		g := c.clean(a).toGame(c.loc)
		if g.ID == "" {
			continue
		}
		games = append(games, g)
	}
	return games, nil
}

// GamesBetween fetches every day from start through start+days-1
// concurrently and returns the games deduplicated by id, ordered by id.
func (c *Client) GamesBetween(ctx context.Context, start time.Time, days int) ([]Game, error) {
	results := make([][]Game, days)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDays)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		g.Go(func() error {
			games, err := c.GamesOn(ctx, day)
			if err != nil {
				return err
			}
			results[i] = games
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]Game)
	for _, games := range results {
		for _, game := range games {
			byID[game.ID] = game
		}
	}
	out := make([]Game, 0, len(byID))
	for _, game := range byID {
		out = append(out, game)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// clean strips markup from the free-text fields. The policy escapes what it
// keeps, so the result is unescaped again to leave plain text.
func (c *Client) clean(a APIGame) APIGame {
	for _, s := range []*string{&a.HomeTeam, &a.AwayTeam, &a.Sport, &a.League, &a.Location} {
		*s = strings.TrimSpace(html.UnescapeString(c.sanitize.Sanitize(*s)))
	}
	return a
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, body)
	}
}
