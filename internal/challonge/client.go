// Package challonge talks to the Challonge bracket service. Participants
// are linked to Discord users through the participant misc field, which the
// bracket organizer fills with the user id.
package challonge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultBaseURL = "https://api.challonge.com/v1"

// Client is a minimal Challonge API client
type Client struct {
	user       string
	apiKey     string
	baseURL    string
	httpClient *http.Client

	// Active bracket per guild, registered by the organizer
	mu          sync.RWMutex
	tournaments map[string]string
}

// NewClient creates a Challonge client. An empty apiKey yields a client
// that reports no pairings, so tournament linkage quietly disables itself.
func NewClient(user, apiKey string) *Client {
	return &Client{
		user:    user,
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		tournaments: make(map[string]string),
	}
}

// SetTournament links a guild to a bracket. An empty id unlinks it.
func (c *Client) SetTournament(guildID, tournamentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tournamentID == "" {
		delete(c.tournaments, guildID)
		return
	}
	c.tournaments[guildID] = tournamentID
}

func (c *Client) tournament(guildID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tournaments[guildID]
	return t, ok
}

type participant struct {
	Participant struct {
		ID   int64  `json:"id"`
		Misc string `json:"misc"` // Discord user id
	} `json:"participant"`
}

type bracketMatch struct {
	Match struct {
		ID        int64  `json:"id"`
		State     string `json:"state"`
		Player1ID int64  `json:"player1_id"`
		Player2ID int64  `json:"player2_id"`
		WinnerID  int64  `json:"winner_id"`
		ScoresCSV string `json:"scores_csv"`
	} `json:"match"`
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, result any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)

	endpoint := c.baseURL + path + ".json"
	var body io.Reader
	if method == http.MethodGet {
		endpoint += "?" + params.Encode()
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("challonge API: status %d, body: %s", resp.StatusCode, string(data))
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// openMatch finds the open bracket match between two Discord users, if any.
func (c *Client) openMatch(ctx context.Context, guildID, userA, userB string) (*bracketMatch, int64, int64, error) {
	tournamentID, ok := c.tournament(guildID)
	if !ok || c.apiKey == "" {
		return nil, 0, 0, nil
	}

	var participants []participant
	if err := c.do(ctx, http.MethodGet, "/tournaments/"+tournamentID+"/participants", nil, &participants); err != nil {
		return nil, 0, 0, err
	}
	byUser := make(map[string]int64, len(participants))
	for _, p := range participants {
		byUser[p.Participant.Misc] = p.Participant.ID
	}
	idA, okA := byUser[userA]
	idB, okB := byUser[userB]
	if !okA || !okB {
		return nil, 0, 0, nil
	}

	var matches []bracketMatch
	params := url.Values{"state": {"open"}}
	if err := c.do(ctx, http.MethodGet, "/tournaments/"+tournamentID+"/matches", params, &matches); err != nil {
		return nil, 0, 0, err
	}
	for i := range matches {
		m := &matches[i]
		p1, p2 := m.Match.Player1ID, m.Match.Player2ID
		if (p1 == idA && p2 == idB) || (p1 == idB && p2 == idA) {
			return m, idA, idB, nil
		}
	}
	return nil, 0, 0, nil
}

// IsPairedMatch reports whether two users have an open bracket match.
// It implements contest.TournamentService.
func (c *Client) IsPairedMatch(ctx context.Context, guildID, userA, userB string) (bool, error) {
	m, _, _, err := c.openMatch(ctx, guildID, userA, userB)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

// ReportResult records the winner of the open bracket match between the
// two users.
func (c *Client) ReportResult(ctx context.Context, guildID, winnerID, loserID string) error {
	m, winner, _, err := c.openMatch(ctx, guildID, winnerID, loserID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no open bracket match between %s and %s", winnerID, loserID)
	}

	tournamentID, _ := c.tournament(guildID)
	params := url.Values{
		"match[winner_id]":  {strconv.FormatInt(winner, 10)},
		"match[scores_csv]": {"1-0"},
	}
	return c.do(ctx, http.MethodPut,
		"/tournaments/"+tournamentID+"/matches/"+strconv.FormatInt(m.Match.ID, 10), params, nil)
}
