package codeforces

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/akotadi/Lockout-Bot/internal/storage"
)

// problemsetTTL bounds how long the cached problemset is reused before a
// fresh fetch.
const problemsetTTL = 6 * time.Hour

// Problem mirrors the API problem object.
type Problem struct {
	ContestID int    `json:"contestId"`
	Index     string `json:"index"`
	Name      string `json:"name"`
	Rating    int    `json:"rating"`
}

// UserInfo mirrors the API user object. Rating and Rank are absent for
// accounts that never competed.
type UserInfo struct {
	Handle    string `json:"handle"`
	Rating    int    `json:"rating"`
	Rank      string `json:"rank"`
	FirstName string `json:"firstName"`
}

// Submission is one entry of a user's submission history.
type Submission struct {
	Problem             Problem `json:"problem"`
	Verdict             string  `json:"verdict"`
	CreationTimeSeconds int64   `json:"creationTimeSeconds"`
}

// CheckHandle verifies a handle exists and returns its profile.
func (c *Client) CheckHandle(ctx context.Context, handle string) (*UserInfo, error) {
	var users []UserInfo
	params := url.Values{"handles": {handle}}
	if err := c.get(ctx, "user.info", params, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("handle %s not found", handle)
	}
	return &users[0], nil
}

// AcceptedSubmissions returns a user's accepted submissions made at or
// after the given unix time.
func (c *Client) AcceptedSubmissions(ctx context.Context, handle string, since int64) ([]Submission, error) {
	var submissions []Submission
	params := url.Values{"handle": {handle}, "from": {"1"}, "count": {"100"}}
	if err := c.get(ctx, "user.status", params, &submissions); err != nil {
		return nil, err
	}

	var accepted []Submission
	for _, s := range submissions {
		if s.Verdict == "OK" && s.CreationTimeSeconds >= since {
			accepted = append(accepted, s)
		}
	}
	return accepted, nil
}

// problemset returns the cached full problemset, fetching when stale.
func (c *Client) problemset(ctx context.Context) ([]Problem, error) {
	c.cacheMu.RLock()
	if c.problems != nil && time.Since(c.problemsAge) < problemsetTTL {
		defer c.cacheMu.RUnlock()
		return c.problems, nil
	}
	c.cacheMu.RUnlock()

	var result struct {
		Problems []Problem `json:"problems"`
	}
	if err := c.get(ctx, "problemset.problems", url.Values{}, &result); err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.problems = result.Problems
	c.problemsAge = time.Now()
	c.cacheMu.Unlock()
	return result.Problems, nil
}

// solvedSet returns the ids of every problem any of the handles has solved.
func (c *Client) solvedSet(ctx context.Context, handles []string) (map[string]bool, error) {
	solved := make(map[string]bool)
	for _, handle := range handles {
		var submissions []Submission
		params := url.Values{"handle": {handle}}
		if err := c.get(ctx, "user.status", params, &submissions); err != nil {
			return nil, fmt.Errorf("could not fetch submissions of %s: %w", handle, err)
		}
		for _, s := range submissions {
			if s.Verdict == "OK" {
				solved[toRecord(s.Problem).ID()] = true
			}
		}
	}
	return solved, nil
}

// FindProblems picks one problem per requested rating that none of the
// handles have solved. It implements contest.ProblemFinder.
func (c *Client) FindProblems(ctx context.Context, handles []string, ratings []int) ([]storage.Problem, error) {
	all, err := c.problemset(ctx)
	if err != nil {
		return nil, err
	}
	solved, err := c.solvedSet(ctx, handles)
	if err != nil {
		return nil, err
	}

	byRating := make(map[int][]Problem)
	for _, p := range all {
		if p.Rating == 0 || solved[toRecord(p).ID()] {
			continue
		}
		byRating[p.Rating] = append(byRating[p.Rating], p)
	}

	picked := make([]storage.Problem, 0, len(ratings))
	used := make(map[string]bool, len(ratings))
	for _, rating := range ratings {
		pool := byRating[rating]
		var candidate *Problem
		for _, i := range rand.Perm(len(pool)) {
			if !used[toRecord(pool[i]).ID()] {
				candidate = &pool[i]
				break
			}
		}
		if candidate == nil {
			return nil, fmt.Errorf("not enough unsolved problems of rating %d", rating)
		}
		record := toRecord(*candidate)
		used[record.ID()] = true
		picked = append(picked, record)
	}
	return picked, nil
}

// ProblemsByID resolves explicit problem identifiers like "1337/A".
func (c *Client) ProblemsByID(ctx context.Context, ids []string) ([]storage.Problem, error) {
	all, err := c.problemset(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]Problem, len(all))
	for _, p := range all {
		index[toRecord(p).ID()] = p
	}

	problems := make([]storage.Problem, 0, len(ids))
	for _, id := range ids {
		key, err := normalizeID(id)
		if err != nil {
			return nil, err
		}
		p, ok := index[key]
		if !ok {
			return nil, fmt.Errorf("problem %s not found", id)
		}
		problems = append(problems, toRecord(p))
	}
	return problems, nil
}

func normalizeID(id string) (string, error) {
	contest, index, ok := strings.Cut(id, "/")
	if !ok {
		return "", fmt.Errorf("malformed problem id %q", id)
	}
	n, err := strconv.Atoi(contest)
	if err != nil {
		return "", fmt.Errorf("malformed problem id %q", id)
	}
	return strconv.Itoa(n) + "/" + strings.ToUpper(index), nil
}

func toRecord(p Problem) storage.Problem {
	return storage.Problem{
		ContestID: p.ContestID,
		Index:     p.Index,
		Name:      p.Name,
		Rating:    p.Rating,
	}
}
