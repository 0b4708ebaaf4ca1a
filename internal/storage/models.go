package storage

import (
	"strconv"
	"time"
)

// Reservation kinds. A user holds at most one reservation per guild,
// which is what keeps negotiations and contests mutually exclusive.
const (
	KindChallenging = "challenging"
	KindChallenged  = "challenged"
	KindRound       = "round"
	KindMatch       = "match"
)

// Handle links a Discord user to a Codeforces account within a guild.
// Rated is false until the first rating snapshot beyond the baseline exists.
type Handle struct {
	GuildID   string
	UserID    string
	Handle    string
	Rated     bool
	Rating    int // cached Codeforces rating, 0 when unrated
	Rank      string
	CreatedAt time.Time
}

// Problem is a single Codeforces problem reference.
type Problem struct {
	ContestID int    `json:"contestId"`
	Index     string `json:"index"`
	Name      string `json:"name"`
	Rating    int    `json:"rating"`
}

// ID returns the short problem identifier, e.g. "1337/A".
func (p Problem) ID() string {
	return strconv.Itoa(p.ContestID) + "/" + p.Index
}

// Challenge is a pending 1v1 proposal awaiting acceptance.
type Challenge struct {
	GuildID     string
	ProposerID  string
	TargetID    string
	Rating      int // floor of the 5-step problem ladder
	ChannelID   string
	DurationMin int
	CreatedAt   int64 // unix seconds; disambiguates successive challenges by one proposer
}

// Match is an active 1v1 lockout contest.
type Match struct {
	GuildID     string
	P1ID        string
	P2ID        string
	Rating      int
	ChannelID   string
	DurationMin int
	Problems    []Problem
	Status      string // one byte per problem: '0' open, '1' p1 solved, '2' p2 solved
	Tournament  bool
	StartedAt   time.Time
}

// Scores returns the current lockout points for p1 and p2.
// Problem i is worth 100*(i+1) points.
func (m Match) Scores() (int, int) {
	var a, b int
	for i := 0; i < len(m.Status); i++ {
		switch m.Status[i] {
		case '1':
			a += 100 * (i + 1)
		case '2':
			b += 100 * (i + 1)
		}
	}
	return a, b
}

// Over reports whether every problem has been claimed.
func (m Match) Over() bool {
	for i := 0; i < len(m.Status); i++ {
		if m.Status[i] == '0' {
			return false
		}
	}
	return true
}

// Round is an active multi-party lockout contest (1-5 users).
type Round struct {
	ID          int64
	GuildID     string
	Users       []string // ordered, unique; Users[0] is the initiator
	Ratings     []int
	Points      []int
	Problems    []Problem
	Status      []int // 0 open, otherwise 1-based index into Users of the solver
	Scores      []int // accumulated points, same length as Users
	ChannelID   string
	DurationMin int
	Repeat      bool // replace a problem with a fresh one when solved
	Alts        []string
	Tournament  bool
	StartedAt   time.Time
}

// Practice reports whether the round is a solo practice round (unrated).
func (r Round) Practice() bool { return len(r.Users) == 1 }

// FinishedMatch is the immutable record appended when a match concludes.
type FinishedMatch struct {
	ID          string // uuid
	GuildID     string
	P1ID        string
	P2ID        string
	Rating      int
	DurationMin int
	Status      string
	P1Score     int
	P2Score     int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// FinishedRound is the immutable record appended when a round concludes.
type FinishedRound struct {
	ID          string // uuid
	GuildID     string
	Users       []string
	Scores      []int
	Standings   []int // finishing rank per user, 1-based, ties allowed
	DurationMin int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// RanklistEntry is a user's latest lockout rating.
type RanklistEntry struct {
	UserID string
	Rating int
}
