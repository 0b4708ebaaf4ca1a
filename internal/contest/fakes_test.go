package contest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/akotadi/Lockout-Bot/internal/collect"
	"github.com/akotadi/Lockout-Bot/internal/rating"
	"github.com/akotadi/Lockout-Bot/internal/storage"
)

// memStore is an in-memory Store for a single guild.
type memStore struct {
	mu              sync.Mutex
	handles         map[string]*storage.Handle
	reservations    map[string]string
	challenges      map[string]*storage.Challenge
	match           *storage.Match
	round           *storage.Round
	finishedMatches []*storage.FinishedMatch
	finishedRounds  []*storage.FinishedRound
	ratings         map[string][]int
}

func newMemStore(handles ...string) *memStore {
	s := &memStore{
		handles:      make(map[string]*storage.Handle),
		reservations: make(map[string]string),
		challenges:   make(map[string]*storage.Challenge),
		ratings:      make(map[string][]int),
	}
	for _, h := range handles {
		s.handles[h] = &storage.Handle{UserID: h, Handle: "cf_" + h, Rating: 1400, Rank: "specialist"}
	}
	return s
}

func (s *memStore) GetHandle(guildID, userID string) (*storage.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[userID]
	if !ok {
		return nil, fmt.Errorf("handle for user %s: %w", userID, storage.ErrNotFound)
	}
	return h, nil
}

func (s *memStore) Reserve(guildID string, users []string, kinds []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		if _, held := s.reservations[u]; held {
			return fmt.Errorf("user %s already engaged: %w", u, storage.ErrConflict)
		}
	}
	for i, u := range users {
		s.reservations[u] = kinds[i]
	}
	return nil
}

func (s *memStore) Free(guildID string, users ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		delete(s.reservations, u)
	}
	return nil
}

func (s *memStore) Reserved(guildID, userID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.reservations[userID]
	return kind, ok, nil
}

func (s *memStore) CreateChallenge(c *storage.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.ProposerID] = c
	return nil
}

func (s *memStore) GetChallengeByProposer(guildID, proposerID string) (*storage.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[proposerID]
	if !ok {
		return nil, fmt.Errorf("challenge for user %s: %w", proposerID, storage.ErrNotFound)
	}
	return c, nil
}

func (s *memStore) GetChallengeByTarget(guildID, targetID string) (*storage.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.challenges {
		if c.TargetID == targetID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("challenge for user %s: %w", targetID, storage.ErrNotFound)
}

func (s *memStore) DeleteChallenge(guildID, proposerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.challenges[proposerID]
	delete(s.challenges, proposerID)
	return ok, nil
}

func (s *memStore) DeleteChallengeCreated(guildID, proposerID string, createdAt int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[proposerID]
	if !ok || c.CreatedAt != createdAt {
		return false, nil
	}
	delete(s.challenges, proposerID)
	return true, nil
}

func (s *memStore) CreateMatch(m *storage.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.match = m
	s.reservations[m.P1ID] = storage.KindMatch
	s.reservations[m.P2ID] = storage.KindMatch
	return nil
}

func (s *memStore) GetMatch(guildID, userID string) (*storage.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.match != nil && (s.match.P1ID == userID || s.match.P2ID == userID) {
		return s.match, nil
	}
	return nil, fmt.Errorf("match for user %s: %w", userID, storage.ErrNotFound)
}

func (s *memStore) DeleteMatch(guildID, userID string) (*storage.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.match == nil || (s.match.P1ID != userID && s.match.P2ID != userID) {
		return nil, fmt.Errorf("match for user %s: %w", userID, storage.ErrNotFound)
	}
	m := s.match
	s.match = nil
	delete(s.reservations, m.P1ID)
	delete(s.reservations, m.P2ID)
	return m, nil
}

func (s *memStore) CreateRound(r *storage.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = 1
	s.round = r
	return nil
}

func (s *memStore) GetRound(guildID, userID string) (*storage.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.round != nil {
		for _, u := range s.round.Users {
			if u == userID {
				return s.round, nil
			}
		}
	}
	return nil, fmt.Errorf("round for user %s: %w", userID, storage.ErrNotFound)
}

func (s *memStore) DeleteRound(guildID, userID string) (*storage.Round, error) {
	rd, err := s.GetRound(guildID, userID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round = nil
	for _, u := range rd.Users {
		delete(s.reservations, u)
	}
	return rd, nil
}

func (s *memStore) AddFinishedMatch(fm *storage.FinishedMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedMatches = append(s.finishedMatches, fm)
	return nil
}

func (s *memStore) AddFinishedRound(fr *storage.FinishedRound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedRounds = append(s.finishedRounds, fr)
	return nil
}

func (s *memStore) AppendRating(guildID, userID string, r int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[userID] = append(s.ratings[userID], r)
	return nil
}

func (s *memStore) CurrentRating(guildID, userID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.ratings[userID]
	if len(history) == 0 {
		return rating.Baseline, false, nil
	}
	return history[len(history)-1], true, nil
}

func (s *memStore) reservedKind(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservations[userID]
}

func (s *memStore) reservationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

// scriptedCollector resolves each wait against a fixed event script. Events
// a step's predicate rejects are consumed and dropped; an exhausted script
// times out, which is exactly what an unanswered prompt does.
type scriptedCollector struct {
	mu     sync.Mutex
	events []collect.Event
}

func script(events ...collect.Event) *scriptedCollector {
	return &scriptedCollector{events: events}
}

func msg(userID, content string) collect.Event {
	return collect.Event{ChannelID: "chan", UserID: userID, Content: content}
}

func react(userID, emoji string) collect.Event {
	return collect.Event{ChannelID: "chan", UserID: userID, Emoji: emoji}
}

func (c *scriptedCollector) Await(ctx context.Context, req collect.Request) (collect.Event, error) {
	if req.Timeout <= 0 {
		return collect.Event{}, collect.ErrTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.events) > 0 {
		ev := c.events[0]
		c.events = c.events[1:]
		if req.Accept(ev) {
			return ev, nil
		}
	}
	return collect.Event{}, collect.ErrTimeout
}

// fakeFinder fabricates one problem per requested rating.
type fakeFinder struct {
	err error
}

func (f *fakeFinder) FindProblems(ctx context.Context, handles []string, ratings []int) ([]storage.Problem, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]storage.Problem, len(ratings))
	for i, r := range ratings {
		out[i] = storage.Problem{ContestID: 1000 + i, Index: "A", Name: fmt.Sprintf("Problem %d", i+1), Rating: r}
	}
	return out, nil
}

func (f *fakeFinder) ProblemsByID(ctx context.Context, ids []string) ([]storage.Problem, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]storage.Problem, len(ids))
	for i, id := range ids {
		parts := strings.SplitN(id, "/", 2)
		contestID, _ := strconv.Atoi(parts[0])
		out[i] = storage.Problem{ContestID: contestID, Index: parts[1], Name: "Problem " + id, Rating: 1000 + 100*i}
	}
	return out, nil
}

type fakeTournaments struct {
	mu      sync.Mutex
	paired  bool
	err     error
	reports [][2]string
}

func (f *fakeTournaments) IsPairedMatch(ctx context.Context, guildID, userA, userB string) (bool, error) {
	return f.paired, f.err
}

func (f *fakeTournaments) ReportResult(ctx context.Context, guildID, winnerID, loserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, [2]string{winnerID, loserID})
	return nil
}

func (f *fakeTournaments) reported() [][2]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports
}

// announceLog records announcements delivered outside a command cycle.
type announceLog struct {
	mu       sync.Mutex
	messages []string
}

func (a *announceLog) announce(channelID, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
}

func (a *announceLog) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}

func testLimits() Limits {
	return Limits{MinRating: 800, MaxRating: 3600, MinDuration: 5, MaxDuration: 180}
}
