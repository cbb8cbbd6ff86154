package schedule

import (
	"strconv"
	"strings"
	"time"
)

// Game statuses reported by the feed.
const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusForfeit   = "forfeit"
)

// APIGame is one entry of the feed as it arrives on the wire. Scores are
// strings because the feed uses "--" until a game is played.
type APIGame struct {
	GameID    string `json:"game_id"`
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	Sport     string `json:"sport"`
	League    string `json:"league,omitempty"`
	Location  string `json:"location,omitempty"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	HomeScore string `json:"home_score"`
	AwayScore string `json:"away_score"`
	Status    string `json:"status"`
}

// Game is a parsed feed entry.
type Game struct {
	ID       string
	HomeTeam string
	AwayTeam string
	Sport    string
	League   string
	Location string

	// StartsAt is zero while the feed says the time is TBD.
	StartsAt time.Time
	Status   string

	score *[2]int
}

// Title is how the market for this game is labelled.
func (g Game) Title() string {
	return g.HomeTeam + " vs " + g.AwayTeam
}

// Score returns the final home and away score once the game is over.
func (g Game) Score() ([2]int, bool) {
	if g.score == nil {
		return [2]int{}, false
	}
	switch g.Status {
	case StatusCompleted, StatusForfeit:
		return *g.score, true
	}
	return [2]int{}, false
}

// dateLayouts and timeLayouts are the formats the feed has been seen to use.
var (
	dateLayouts = []string{"01/02/2006", "1/2/2006", "2006-01-02"}
	timeLayouts = []string{"3:04 PM", "3:04PM", "15:04"}
)

// toGame converts the wire form. Unparseable dates or times leave StartsAt
// zero rather than failing the whole feed.
func (a APIGame) toGame(loc *time.Location) Game {
	g := Game{
		ID:       strings.TrimSpace(a.GameID),
		HomeTeam: a.HomeTeam,
		AwayTeam: a.AwayTeam,
		Sport:    a.Sport,
		League:   a.League,
		Location: a.Location,
		StartsAt: parseStart(a.Date, a.Time, loc),
		Status:   strings.ToLower(strings.TrimSpace(a.Status)),
	}
	home, okHome := parseScore(a.HomeScore)
	away, okAway := parseScore(a.AwayScore)
	if okHome && okAway {
		g.score = &[2]int{home, away}
		if g.Status == "" || g.Status == StatusScheduled {
			g.Status = StatusCompleted
		}
	}
	if g.Status == "" {
		g.Status = StatusScheduled
	}
	return g
}

func parseScore(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func parseStart(date, clock string, loc *time.Location) time.Time {
	date, clock = strings.TrimSpace(date), strings.ToUpper(strings.TrimSpace(clock))
	if date == "" || clock == "" || clock == "TBD" {
		return time.Time{}
	}
	for _, dl := range dateLayouts {
		for _, tl := range timeLayouts {
			if t, err := time.ParseInLocation(dl+" "+tl, date+" "+clock, loc); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
