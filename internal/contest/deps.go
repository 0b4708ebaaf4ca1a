package contest

import (
	"context"

	"github.com/akotadi/Lockout-Bot/internal/storage"
)

// Store is the persistence contract the negotiators and lifecycle need.
// *storage.Repository implements it; tests use an in-memory fake.
type Store interface {
	GetHandle(guildID, userID string) (*storage.Handle, error)

	// Reserve must check current engagement and write the new reservations
	// as one atomic operation, all-or-nothing across users.
	Reserve(guildID string, users []string, kinds []string) error
	Free(guildID string, users ...string) error
	Reserved(guildID, userID string) (string, bool, error)

	CreateChallenge(c *storage.Challenge) error
	GetChallengeByProposer(guildID, proposerID string) (*storage.Challenge, error)
	GetChallengeByTarget(guildID, targetID string) (*storage.Challenge, error)
	DeleteChallenge(guildID, proposerID string) (bool, error)
	DeleteChallengeCreated(guildID, proposerID string, createdAt int64) (bool, error)

	CreateMatch(m *storage.Match) error
	GetMatch(guildID, userID string) (*storage.Match, error)
	DeleteMatch(guildID, userID string) (*storage.Match, error)

	CreateRound(r *storage.Round) error
	GetRound(guildID, userID string) (*storage.Round, error)
	DeleteRound(guildID, userID string) (*storage.Round, error)

	AddFinishedMatch(fm *storage.FinishedMatch) error
	AddFinishedRound(fr *storage.FinishedRound) error
	AppendRating(guildID, userID string, rating int) error
	CurrentRating(guildID, userID string) (int, bool, error)
}

// ProblemFinder selects problems none of the given handles have solved.
// Failures surface as *ExternalError.
type ProblemFinder interface {
	// FindProblems returns one problem per requested rating.
	FindProblems(ctx context.Context, handles []string, ratings []int) ([]storage.Problem, error)
	// ProblemsByID resolves explicit problem identifiers like "1337/A".
	ProblemsByID(ctx context.Context, ids []string) ([]storage.Problem, error)
}

// TournamentService consults the external bracket service.
type TournamentService interface {
	IsPairedMatch(ctx context.Context, guildID, userA, userB string) (bool, error)
	ReportResult(ctx context.Context, guildID, winnerID, loserID string) error
}

// Announcer delivers a plain message to a channel, used for events that
// happen outside a command's request/response cycle (e.g. expiry).
type Announcer func(channelID, message string)

// Limits carries the configured negotiation bounds.
type Limits struct {
	MinRating   int // lowest problem rating
	MaxRating   int // highest problem rating
	MinDuration int // minutes
	MaxDuration int // minutes
}

// ladderSteps is the number of problems in a 1v1 match; the ladder climbs
// from the challenge floor in steps of 100.
const ladderSteps = 5

// Ladder returns the 5-step rating ladder starting at floor.
func Ladder(floor int) []int {
	steps := make([]int, ladderSteps)
	for i := range steps {
		steps[i] = floor + i*100
	}
	return steps
}
