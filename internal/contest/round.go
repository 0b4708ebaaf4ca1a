package contest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/akotadi/Lockout-Bot/internal/collect"
	"github.com/akotadi/Lockout-Bot/internal/metrics"
	"github.com/akotadi/Lockout-Bot/internal/storage"
)

const (
	maxRoundUsers = 5
	maxProblems   = 6
	maxAlts       = 5
	minPoints     = 100
	maxPoints     = 10000

	ackTimeout         = 30 * time.Second
	shortPromptTimeout = 30 * time.Second
	longPromptTimeout  = 60 * time.Second

	ackEmoji = "✅"
)

// RoundNegotiator runs the N-party round protocol: joint reservation,
// unanimous acknowledgement, an ordered parameter-collection sequence
// answered by the initiator, then round creation. Abandonment at any step
// releases every reservation the negotiation took.
type RoundNegotiator struct {
	store       Store
	collector   collect.Collector
	finder      ProblemFinder
	tournaments TournamentService
	limits      Limits
}

// NewRoundNegotiator wires a round negotiator.
func NewRoundNegotiator(store Store, collector collect.Collector, finder ProblemFinder, tournaments TournamentService, limits Limits) *RoundNegotiator {
	return &RoundNegotiator{
		store:       store,
		collector:   collector,
		finder:      finder,
		tournaments: tournaments,
		limits:      limits,
	}
}

// Propose negotiates and creates a round. participants is deduplicated and
// the initiator is always included; a solo set yields an unrated practice
// round. custom switches problem selection from a rating ladder to explicit
// problem identifiers supplied by the initiator.
func (n *RoundNegotiator) Propose(ctx context.Context, guildID, channelID, initiatorID string, participants []string, custom bool) (*storage.Round, error) {
	users := dedupe(append([]string{initiatorID}, participants...))
	if len(users) > maxRoundUsers {
		return nil, fmt.Errorf("%w: at most %d users can compete at a time", ErrTooManyParticipants, maxRoundUsers)
	}

	handles := make([]string, len(users))
	for i, userID := range users {
		h, err := n.store.GetHandle(guildID, userID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w (user %s)", ErrHandleMissing, userID)
			}
			return nil, err
		}
		handles[i] = h.Handle
	}

	// Joint reservation: if any participant is engaged, nobody is reserved.
	kinds := make([]string, len(users))
	for i := range kinds {
		kinds[i] = storage.KindRound
	}
	if err := n.store.Reserve(guildID, users, kinds); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, err
	}

	rd, err := n.negotiate(ctx, guildID, channelID, initiatorID, users, handles, custom)
	if err != nil {
		n.release(guildID, users)
		return nil, err
	}
	return rd, nil
}

// negotiate runs every step after the joint reservation; the caller owns
// releasing on error.
func (n *RoundNegotiator) negotiate(ctx context.Context, guildID, channelID, initiatorID string, users, handles []string, custom bool) (*storage.Round, error) {
	ackPrompt := "react with " + ackEmoji + " within 30 seconds to join the round"
	if len(users) == 1 {
		ackPrompt += " (solo practice round, no rating changes)"
	}
	if err := collect.ReactAll(ctx, n.collector, channelID, ackPrompt, ackEmoji, users, ackTimeout); err != nil {
		return nil, err
	}

	problemCnt, err := collect.Int(ctx, n.collector, channelID, initiatorID,
		fmt.Sprintf("enter the number of problems, between 1 and %d", maxProblems),
		shortPromptTimeout, 1, maxProblems)
	if err != nil {
		return nil, err
	}

	duration, err := collect.Int(ctx, n.collector, channelID, initiatorID,
		fmt.Sprintf("enter the duration of the round in minutes, between %d and %d", n.limits.MinDuration, n.limits.MaxDuration),
		shortPromptTimeout, n.limits.MinDuration, n.limits.MaxDuration)
	if err != nil {
		return nil, err
	}

	var (
		ratings    []int
		problems   []storage.Problem
		problemIDs []string
	)
	if custom {
		problemIDs, err = collect.ProblemIDs(ctx, n.collector, channelID, initiatorID,
			fmt.Sprintf("enter %d space separated problem ids, e.g. `123/A 455/B`", problemCnt),
			longPromptTimeout, problemCnt)
	} else {
		ratings, err = collect.IntSeq(ctx, n.collector, channelID, initiatorID,
			fmt.Sprintf("enter %d space separated integers denoting the ratings of problems (between %d and %d)",
				problemCnt, n.limits.MinRating, n.limits.MaxRating),
			longPromptTimeout, problemCnt, n.limits.MinRating, n.limits.MaxRating)
	}
	if err != nil {
		return nil, err
	}

	points, err := collect.IntSeq(ctx, n.collector, channelID, initiatorID,
		fmt.Sprintf("enter %d space separated integers denoting the points of problems (between %d and %d)",
			problemCnt, minPoints, maxPoints),
		longPromptTimeout, problemCnt, minPoints, maxPoints)
	if err != nil {
		return nil, err
	}

	repeat := 0
	var alts []string
	if !custom {
		repeat, err = collect.Int(ctx, n.collector, channelID, initiatorID,
			"do you want a new problem to appear when someone solves one? type 1 for yes, 0 for no",
			shortPromptTimeout, 0, 1)
		if err != nil {
			return nil, err
		}

		alts, err = collect.Handles(ctx, n.collector, channelID, initiatorID,
			fmt.Sprintf("any alts? type `none` if not applicable, else `alts: handle_1 handle_2 ...` (up to %d)", maxAlts),
			longPromptTimeout, maxAlts)
		if err != nil {
			return nil, err
		}
	}

	tournament := false
	if len(users) == 2 {
		paired, err := n.tournaments.IsPairedMatch(ctx, guildID, users[0], users[1])
		if err != nil {
			return nil, &ExternalError{Service: "tournament service", Reason: err.Error()}
		}
		if paired {
			counted, err := collect.Int(ctx, n.collector, channelID, initiatorID,
				"this round is part of the tournament. should its result count toward the bracket? type 1 for yes, 0 for no",
				shortPromptTimeout, 0, 1)
			if err != nil {
				return nil, err
			}
			tournament = counted == 1
		}
	}

	// The collection window spans minutes; make sure every participant is
	// still held by this negotiation before anything durable is written.
	for _, userID := range users {
		kind, ok, err := n.store.Reserved(guildID, userID)
		if err != nil {
			return nil, err
		}
		if !ok || kind != storage.KindRound {
			return nil, fmt.Errorf("%w: user %s is no longer available", ErrConflict, userID)
		}
	}

	if custom {
		problems, err = n.finder.ProblemsByID(ctx, problemIDs)
		if err != nil {
			return nil, &ExternalError{Service: "problem finder", Reason: err.Error()}
		}
		ratings = make([]int, len(problems))
		for i, p := range problems {
			ratings[i] = p.Rating
		}
	} else {
		problems, err = n.finder.FindProblems(ctx, append(append([]string{}, handles...), alts...), ratings)
		if err != nil {
			return nil, &ExternalError{Service: "problem finder", Reason: err.Error()}
		}
	}

	rd := &storage.Round{
		GuildID:     guildID,
		Users:       users,
		Ratings:     ratings,
		Points:      points,
		Problems:    problems,
		Status:      make([]int, len(problems)),
		Scores:      make([]int, len(users)),
		ChannelID:   channelID,
		DurationMin: duration,
		Repeat:      repeat == 1,
		Alts:        alts,
		Tournament:  tournament,
		StartedAt:   time.Now(),
	}
	if rd.Alts == nil {
		rd.Alts = []string{}
	}
	if err := n.store.CreateRound(rd); err != nil {
		return nil, err
	}

	metrics.RoundsStarted.Inc()
	return rd, nil
}

func (n *RoundNegotiator) release(guildID string, users []string) {
	if err := n.store.Free(guildID, users...); err != nil {
		slog.Error("Failed to release round reservations", "guild", guildID, "users", users, "error", err)
	}
}

func dedupe(users []string) []string {
	seen := make(map[string]bool, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
