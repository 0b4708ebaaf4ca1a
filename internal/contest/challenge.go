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
	// challengeExpiry is how long the target has to accept.
	challengeExpiry = 60 * time.Second
	// durationPromptTimeout bounds the proposer's duration reply.
	durationPromptTimeout = 30 * time.Second
)

// ChallengeNegotiator runs the 1v1 proposal protocol: propose, then
// accept, decline, withdraw, or expire. A proposal reserves both players
// for its whole lifetime; every terminal transition releases them.
type ChallengeNegotiator struct {
	store     Store
	collector collect.Collector
	finder    ProblemFinder
	announce  Announcer
	limits    Limits

	expiry        time.Duration
	promptTimeout time.Duration
}

// NewChallengeNegotiator wires a challenge negotiator.
func NewChallengeNegotiator(store Store, collector collect.Collector, finder ProblemFinder, announce Announcer, limits Limits) *ChallengeNegotiator {
	return &ChallengeNegotiator{
		store:         store,
		collector:     collector,
		finder:        finder,
		announce:      announce,
		limits:        limits,
		expiry:        challengeExpiry,
		promptTimeout: durationPromptTimeout,
	}
}

// Propose starts a challenge from proposer to target with the given rating
// floor. It validates, reserves both players atomically, collects the match
// duration from the proposer, persists the challenge and arms the expiry
// timer. On any failure both players end up free.
func (n *ChallengeNegotiator) Propose(ctx context.Context, guildID, channelID, proposerID, targetID string, ratingFloor int) (*storage.Challenge, error) {
	if proposerID == targetID {
		return nil, ErrSelfChallenge
	}
	for _, userID := range []string{proposerID, targetID} {
		if _, err := n.store.GetHandle(guildID, userID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w (user %s)", ErrHandleMissing, userID)
			}
			return nil, err
		}
	}

	// The top of the ladder must stay inside the configured bounds.
	if ratingFloor < n.limits.MinRating || ratingFloor > n.limits.MaxRating-(ladderSteps-1)*100 {
		return nil, fmt.Errorf("%w: enter a rating between %d and %d",
			ErrInvalidRange, n.limits.MinRating, n.limits.MaxRating-(ladderSteps-1)*100)
	}
	ratingFloor -= ratingFloor % 100

	err := n.store.Reserve(guildID,
		[]string{proposerID, targetID},
		[]string{storage.KindChallenging, storage.KindChallenged})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, err
	}

	duration, err := collect.Int(ctx, n.collector, channelID, proposerID,
		fmt.Sprintf("enter the duration of the match in minutes, between %d and %d", n.limits.MinDuration, n.limits.MaxDuration),
		n.promptTimeout, n.limits.MinDuration, n.limits.MaxDuration)
	if err != nil {
		// Proposal abandoned before anything durable was written.
		n.release(guildID, proposerID, targetID)
		return nil, err
	}

	c := &storage.Challenge{
		GuildID:     guildID,
		ProposerID:  proposerID,
		TargetID:    targetID,
		Rating:      ratingFloor,
		ChannelID:   channelID,
		DurationMin: duration,
		CreatedAt:   time.Now().Unix(),
	}
	if err := n.store.CreateChallenge(c); err != nil {
		n.release(guildID, proposerID, targetID)
		return nil, err
	}

	time.AfterFunc(n.expiry, func() { n.expire(c) })
	return c, nil
}

// expire deletes an unanswered challenge and frees both players. The
// conditional delete makes expiry and accept race exactly-once: whichever
// deletes the row wins, the other sees nothing to do.
func (n *ChallengeNegotiator) expire(c *storage.Challenge) {
	deleted, err := n.store.DeleteChallengeCreated(c.GuildID, c.ProposerID, c.CreatedAt)
	if err != nil {
		slog.Error("Failed to expire challenge", "guild", c.GuildID, "proposer", c.ProposerID, "error", err)
		return
	}
	if !deleted {
		return
	}
	n.release(c.GuildID, c.ProposerID, c.TargetID)
	if n.announce != nil {
		n.announce(c.ChannelID, fmt.Sprintf("<@%s> your challenge to <@%s> has expired", c.ProposerID, c.TargetID))
	}
}

// Accept resolves the challenge aimed at target into an active match.
func (n *ChallengeNegotiator) Accept(ctx context.Context, guildID, targetID string) (*storage.Match, error) {
	c, err := n.store.GetChallengeByTarget(guildID, targetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotChallenged
		}
		return nil, err
	}

	deleted, err := n.store.DeleteChallenge(guildID, c.ProposerID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		// Lost the race against expiry.
		return nil, ErrNotChallenged
	}

	h1, err := n.store.GetHandle(guildID, c.ProposerID)
	if err != nil {
		n.release(guildID, c.ProposerID, c.TargetID)
		return nil, err
	}
	h2, err := n.store.GetHandle(guildID, c.TargetID)
	if err != nil {
		n.release(guildID, c.ProposerID, c.TargetID)
		return nil, err
	}

	problems, err := n.finder.FindProblems(ctx, []string{h1.Handle, h2.Handle}, Ladder(c.Rating))
	if err != nil {
		n.release(guildID, c.ProposerID, c.TargetID)
		return nil, &ExternalError{Service: "problem finder", Reason: err.Error()}
	}

	status := make([]byte, len(problems))
	for i := range status {
		status[i] = '0'
	}
	m := &storage.Match{
		GuildID:     guildID,
		P1ID:        c.ProposerID,
		P2ID:        c.TargetID,
		Rating:      c.Rating,
		ChannelID:   c.ChannelID,
		DurationMin: c.DurationMin,
		Problems:    problems,
		Status:      string(status),
		StartedAt:   time.Now(),
	}
	// CreateMatch moves both reservations to in-match atomically.
	if err := n.store.CreateMatch(m); err != nil {
		n.release(guildID, c.ProposerID, c.TargetID)
		return nil, err
	}

	metrics.MatchesStarted.Inc()
	return m, nil
}

// Withdraw removes the proposer's outgoing challenge. A second withdraw of
// the same challenge fails with ErrNotFound and frees nothing twice.
func (n *ChallengeNegotiator) Withdraw(guildID, proposerID string) error {
	c, err := n.store.GetChallengeByProposer(guildID, proposerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotChallenging
		}
		return err
	}
	deleted, err := n.store.DeleteChallenge(guildID, proposerID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotChallenging
	}
	n.release(guildID, c.ProposerID, c.TargetID)
	return nil
}

// Decline removes the challenge aimed at target.
func (n *ChallengeNegotiator) Decline(guildID, targetID string) error {
	c, err := n.store.GetChallengeByTarget(guildID, targetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotChallenged
		}
		return err
	}
	deleted, err := n.store.DeleteChallenge(guildID, c.ProposerID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotChallenged
	}
	n.release(guildID, c.ProposerID, c.TargetID)
	return nil
}

func (n *ChallengeNegotiator) release(guildID string, users ...string) {
	if err := n.store.Free(guildID, users...); err != nil {
		slog.Error("Failed to release reservations", "guild", guildID, "users", users, "error", err)
	}
}
