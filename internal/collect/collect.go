// Package collect provides the suspend-with-timeout primitive that drives
// every negotiation step: present a prompt, wait for the first qualifying
// human input event, or give up at the deadline. It is independent of any
// particular chat platform; internal/bot supplies a Discord-backed
// implementation and the tests use a scripted one.
package collect

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrTimeout is returned when no qualifying event arrives before the
// deadline. A rejected event never extends the deadline.
var ErrTimeout = errors.New("no qualifying response before the deadline")

// Event is one human input event: a chat message or a reaction.
type Event struct {
	GuildID   string
	ChannelID string
	UserID    string
	Content   string // message text, empty for reactions
	Emoji     string // reaction emoji, empty for messages
}

// Request describes one suspension point. Accept must be side-effect free;
// it is called on every candidate event and the first accepted one resolves
// the wait. An empty Prompt suppresses the prompt message, which lets a
// caller wait repeatedly against one fixed deadline.
type Request struct {
	ChannelID string
	Prompt    string
	Timeout   time.Duration
	Accept    func(Event) bool
}

// Collector presents a prompt and waits for the first qualifying event.
type Collector interface {
	Await(ctx context.Context, req Request) (Event, error)
}

// Int waits for a single integer from user in the inclusive range [lo, hi].
func Int(ctx context.Context, c Collector, channelID, userID, prompt string, timeout time.Duration, lo, hi int) (int, error) {
	ev, err := c.Await(ctx, Request{
		ChannelID: channelID,
		Prompt:    prompt,
		Timeout:   timeout,
		Accept: func(ev Event) bool {
			if ev.UserID != userID || ev.Content == "" {
				return false
			}
			_, ok := parseInts(ev.Content, 1, lo, hi)
			return ok
		},
	})
	if err != nil {
		return 0, err
	}
	vals, _ := parseInts(ev.Content, 1, lo, hi)
	return vals[0], nil
}

// IntSeq waits for exactly n integers in one message, each in [lo, hi].
// A message failing any element's range check is rejected wholesale.
func IntSeq(ctx context.Context, c Collector, channelID, userID, prompt string, timeout time.Duration, n, lo, hi int) ([]int, error) {
	ev, err := c.Await(ctx, Request{
		ChannelID: channelID,
		Prompt:    prompt,
		Timeout:   timeout,
		Accept: func(ev Event) bool {
			if ev.UserID != userID || ev.Content == "" {
				return false
			}
			_, ok := parseInts(ev.Content, n, lo, hi)
			return ok
		},
	})
	if err != nil {
		return nil, err
	}
	vals, _ := parseInts(ev.Content, n, lo, hi)
	return vals, nil
}

var problemIDPattern = regexp.MustCompile(`^[0-9]+/[A-Za-z][0-9]*$`)

// ProblemIDs waits for exactly n problem identifiers like "1337/A".
func ProblemIDs(ctx context.Context, c Collector, channelID, userID, prompt string, timeout time.Duration, n int) ([]string, error) {
	ev, err := c.Await(ctx, Request{
		ChannelID: channelID,
		Prompt:    prompt,
		Timeout:   timeout,
		Accept: func(ev Event) bool {
			if ev.UserID != userID {
				return false
			}
			_, ok := parseProblemIDs(ev.Content, n)
			return ok
		},
	})
	if err != nil {
		return nil, err
	}
	ids, _ := parseProblemIDs(ev.Content, n)
	return ids, nil
}

// Handles waits for up to max distinct extra handles, announced as
// "alts: handle1 handle2 ...", or the sentinel "none" for no handles.
// A message with duplicate handles is rejected.
func Handles(ctx context.Context, c Collector, channelID, userID, prompt string, timeout time.Duration, max int) ([]string, error) {
	ev, err := c.Await(ctx, Request{
		ChannelID: channelID,
		Prompt:    prompt,
		Timeout:   timeout,
		Accept: func(ev Event) bool {
			if ev.UserID != userID {
				return false
			}
			_, ok := parseHandles(ev.Content, max)
			return ok
		},
	})
	if err != nil {
		return nil, err
	}
	handles, _ := parseHandles(ev.Content, max)
	return handles, nil
}

// Confirm waits for user to type word (case-insensitive) in the channel.
func Confirm(ctx context.Context, c Collector, channelID, userID, word, prompt string, timeout time.Duration) error {
	_, err := c.Await(ctx, Request{
		ChannelID: channelID,
		Prompt:    prompt,
		Timeout:   timeout,
		Accept: func(ev Event) bool {
			return ev.UserID == userID && ev.ChannelID == channelID &&
				strings.EqualFold(strings.TrimSpace(ev.Content), word)
		},
	})
	return err
}

// ReactAll waits until every listed user has reacted with emoji. The
// deadline covers the whole set; if anyone is missing when it passes, the
// wait fails even though others acknowledged.
func ReactAll(ctx context.Context, c Collector, channelID, prompt, emoji string, users []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	pending := make(map[string]bool, len(users))
	for _, u := range users {
		pending[u] = true
	}

	for len(pending) > 0 {
		ev, err := c.Await(ctx, Request{
			ChannelID: channelID,
			Prompt:    prompt,
			Timeout:   time.Until(deadline),
			Accept: func(ev Event) bool {
				return ev.Emoji == emoji && pending[ev.UserID]
			},
		})
		if err != nil {
			return err
		}
		prompt = "" // announce once
		delete(pending, ev.UserID)
	}
	return nil
}

func parseInts(content string, n, lo, hi int) ([]int, bool) {
	fields := strings.Fields(content)
	if len(fields) != n {
		return nil, false
	}
	vals := make([]int, n)
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil || v < lo || v > hi {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

func parseProblemIDs(content string, n int) ([]string, bool) {
	fields := strings.Fields(content)
	if len(fields) != n {
		return nil, false
	}
	for _, f := range fields {
		if !problemIDPattern.MatchString(f) {
			return nil, false
		}
	}
	return fields, true
}

func parseHandles(content string, max int) ([]string, bool) {
	content = strings.TrimSpace(content)
	if strings.EqualFold(content, "none") {
		return []string{}, true
	}
	rest, ok := strings.CutPrefix(strings.ToLower(content), "alts:")
	if !ok {
		return nil, false
	}
	// preserve original casing of the handles themselves
	handles := strings.Fields(strings.TrimSpace(content[len(content)-len(rest):]))
	if len(handles) == 0 || len(handles) > max {
		return nil, false
	}
	seen := make(map[string]bool, len(handles))
	for _, h := range handles {
		key := strings.ToLower(h)
		if seen[key] {
			return nil, false
		}
		seen[key] = true
	}
	return handles, true
}
