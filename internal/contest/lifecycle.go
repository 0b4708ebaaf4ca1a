package contest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akotadi/Lockout-Bot/internal/collect"
	"github.com/akotadi/Lockout-Bot/internal/metrics"
	"github.com/akotadi/Lockout-Bot/internal/rating"
	"github.com/akotadi/Lockout-Bot/internal/storage"
)

// confirmTimeout bounds the opponent's reply to a draw or forfeit offer.
const confirmTimeout = 30 * time.Second

// confirmWord is the exact text the opponent must type.
const confirmWord = "yes"

// Standings is the terminal outcome of a contest.
type Standings struct {
	// Outcomes is the ranked result list, ascending by rank.
	Outcomes []rating.Outcome
	// Changes maps user id to the applied rating update; nil for unrated
	// conclusions (practice rounds).
	Changes map[string]rating.Change
}

// Lifecycle manages active matches and rounds from creation through normal
// completion, draw, forfeit, or administrative termination.
type Lifecycle struct {
	store       Store
	collector   collect.Collector
	engine      *rating.Engine
	tournaments TournamentService
}

// NewLifecycle wires a contest lifecycle.
func NewLifecycle(store Store, collector collect.Collector, engine *rating.Engine, tournaments TournamentService) *Lifecycle {
	return &Lifecycle{store: store, collector: collector, engine: engine, tournaments: tournaments}
}

// InvalidateMatch terminates target's match without recording an outcome.
// Privileged callers only; both players end up free.
func (l *Lifecycle) InvalidateMatch(guildID, targetID string, privileged bool) error {
	if !privileged {
		return ErrPermission
	}
	if _, err := l.store.DeleteMatch(guildID, targetID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: user %s is not in a match", ErrNotFound, targetID)
		}
		return err
	}
	metrics.ContestsFinished.WithLabelValues("match", "invalidated").Inc()
	return nil
}

// InvalidateRound terminates target's round without recording an outcome.
func (l *Lifecycle) InvalidateRound(guildID, targetID string, privileged bool) error {
	if !privileged {
		return ErrPermission
	}
	if _, err := l.store.DeleteRound(guildID, targetID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: user %s is not in a round", ErrNotFound, targetID)
		}
		return err
	}
	metrics.ContestsFinished.WithLabelValues("round", "invalidated").Inc()
	return nil
}

// ForfeitMatch cancels the actor's match with the opponent's consent,
// collected in the originating channel. A timeout leaves the match running.
func (l *Lifecycle) ForfeitMatch(ctx context.Context, guildID, channelID, actorID string) error {
	m, err := l.store.GetMatch(guildID, actorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: user %s is not in a match", ErrNotFound, actorID)
		}
		return err
	}
	opponent := other(m, actorID)

	err = collect.Confirm(ctx, l.collector, channelID, opponent, confirmWord,
		fmt.Sprintf("<@%s> your opponent <@%s> has proposed to forfeit the match, type `%s` within 30 seconds to accept",
			opponent, actorID, confirmWord),
		confirmTimeout)
	if err != nil {
		return err
	}

	if _, err := l.store.DeleteMatch(guildID, actorID); err != nil {
		return err
	}
	metrics.ContestsFinished.WithLabelValues("match", "forfeited").Inc()
	return nil
}

// DrawMatch concludes the actor's match as a tie with the opponent's
// consent. Both players share rank 1, ratings update, and a finished
// record with a neutral score is appended. A timeout leaves the match
// running.
func (l *Lifecycle) DrawMatch(ctx context.Context, guildID, channelID, actorID string) (*Standings, error) {
	m, err := l.store.GetMatch(guildID, actorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s is not in a match", ErrNotFound, actorID)
		}
		return nil, err
	}
	opponent := other(m, actorID)

	err = collect.Confirm(ctx, l.collector, channelID, opponent, confirmWord,
		fmt.Sprintf("<@%s> your opponent <@%s> has proposed to draw the match, type `%s` within 30 seconds to accept",
			opponent, actorID, confirmWord),
		confirmTimeout)
	if err != nil {
		return nil, err
	}

	// A draw is scored as if no problem had been solved.
	m.Status = strings.Repeat("0", len(m.Problems))
	return l.finishMatch(m, "drawn")
}

// CompleteMatch concludes a match whose end condition was met (all problems
// claimed or time expired). Called by the progress poller.
func (l *Lifecycle) CompleteMatch(m *storage.Match) (*Standings, error) {
	return l.finishMatch(m, "completed")
}

func (l *Lifecycle) finishMatch(m *storage.Match, outcome string) (*Standings, error) {
	// Claim the match by deleting it first. Completion races other terminal
	// transitions (a poller expiry against a confirmed draw); whoever
	// deletes the row records the outcome, the loser writes nothing.
	if _, err := l.store.DeleteMatch(m.GuildID, m.P1ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: match already concluded", ErrNotFound)
		}
		return nil, err
	}

	a, b := m.Scores()
	p1Rank, p2Rank := 1, 1
	if a < b {
		p1Rank = 2
	}
	if b < a {
		p2Rank = 2
	}

	outcomes := make([]rating.Outcome, 0, 2)
	for userID, rank := range map[string]int{m.P1ID: p1Rank, m.P2ID: p2Rank} {
		current, _, err := l.store.CurrentRating(m.GuildID, userID)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, rating.Outcome{UserID: userID, Rank: rank, Rating: current})
	}
	sortOutcomes(outcomes)

	changes := l.engine.Calculate(outcomes)
	for userID, change := range changes {
		if err := l.store.AppendRating(m.GuildID, userID, change.NewRating); err != nil {
			return nil, err
		}
		metrics.RatingUpdates.Inc()
	}

	now := time.Now()
	err := l.store.AddFinishedMatch(&storage.FinishedMatch{
		ID:          uuid.NewString(),
		GuildID:     m.GuildID,
		P1ID:        m.P1ID,
		P2ID:        m.P2ID,
		Rating:      m.Rating,
		DurationMin: m.DurationMin,
		Status:      m.Status,
		P1Score:     a,
		P2Score:     b,
		StartedAt:   m.StartedAt,
		FinishedAt:  now,
	})
	if err != nil {
		return nil, err
	}

	l.reportTournament(m.GuildID, m.Tournament, outcomes)
	metrics.ContestsFinished.WithLabelValues("match", outcome).Inc()
	return &Standings{Outcomes: outcomes, Changes: changes}, nil
}

// CompleteRound concludes a round whose end condition was met. Ranks follow
// accumulated points with standard competition ranking; practice rounds
// conclude unrated.
func (l *Lifecycle) CompleteRound(rd *storage.Round) (*Standings, error) {
	// Same claim-first discipline as finishMatch.
	if _, err := l.store.DeleteRound(rd.GuildID, rd.Users[0]); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: round already concluded", ErrNotFound)
		}
		return nil, err
	}

	ranks := make([]int, len(rd.Users))
	for i := range rd.Users {
		ranks[i] = 1
		for j := range rd.Users {
			if rd.Scores[j] > rd.Scores[i] {
				ranks[i]++
			}
		}
	}

	outcomes := make([]rating.Outcome, len(rd.Users))
	for i, userID := range rd.Users {
		current, _, err := l.store.CurrentRating(rd.GuildID, userID)
		if err != nil {
			return nil, err
		}
		outcomes[i] = rating.Outcome{UserID: userID, Rank: ranks[i], Rating: current}
	}
	sortOutcomes(outcomes)

	var changes map[string]rating.Change
	if !rd.Practice() {
		changes = l.engine.Calculate(outcomes)
		for userID, change := range changes {
			if err := l.store.AppendRating(rd.GuildID, userID, change.NewRating); err != nil {
				return nil, err
			}
			metrics.RatingUpdates.Inc()
		}
	}

	err := l.store.AddFinishedRound(&storage.FinishedRound{
		ID:          uuid.NewString(),
		GuildID:     rd.GuildID,
		Users:       rd.Users,
		Scores:      rd.Scores,
		Standings:   ranks,
		DurationMin: rd.DurationMin,
		StartedAt:   rd.StartedAt,
		FinishedAt:  time.Now(),
	})
	if err != nil {
		return nil, err
	}

	l.reportTournament(rd.GuildID, rd.Tournament, outcomes)
	metrics.ContestsFinished.WithLabelValues("round", "completed").Inc()
	return &Standings{Outcomes: outcomes, Changes: changes}, nil
}

// reportTournament forwards a strict two-player result to the bracket
// service. Reporting failures are logged, not surfaced: the contest is
// already concluded locally.
func (l *Lifecycle) reportTournament(guildID string, linked bool, outcomes []rating.Outcome) {
	if !linked || len(outcomes) != 2 || outcomes[0].Rank == outcomes[1].Rank {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.tournaments.ReportResult(ctx, guildID, outcomes[0].UserID, outcomes[1].UserID); err != nil {
		slog.Error("Failed to report tournament result", "guild", guildID, "error", err)
	}
}

func sortOutcomes(outcomes []rating.Outcome) {
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Rank != outcomes[j].Rank {
			return outcomes[i].Rank < outcomes[j].Rank
		}
		return outcomes[i].UserID < outcomes[j].UserID
	})
}

func other(m *storage.Match, userID string) string {
	if m.P1ID == userID {
		return m.P2ID
	}
	return m.P1ID
}
