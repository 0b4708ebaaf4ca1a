// Package poller drives contest progress: it periodically pulls fresh
// accepted submissions for every active match and round, updates standings,
// and hands contests whose end condition is met to the lifecycle.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/akotadi/Lockout-Bot/internal/codeforces"
	"github.com/akotadi/Lockout-Bot/internal/contest"
	"github.com/akotadi/Lockout-Bot/internal/storage"
)

// Poller periodically checks all active contests for progress
type Poller struct {
	repo      *storage.Repository
	cf        *codeforces.Client
	lifecycle *contest.Lifecycle
	announce  contest.Announcer
	interval  time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new Poller
func New(repo *storage.Repository, cf *codeforces.Client, lifecycle *contest.Lifecycle, announce contest.Announcer, intervalSeconds int) *Poller {
	return &Poller{
		repo:      repo,
		cf:        cf,
		lifecycle: lifecycle,
		announce:  announce,
		interval:  time.Duration(intervalSeconds) * time.Second,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the polling loop
func (p *Poller) Start(ctx context.Context) {
	slog.Info("Starting contest poller", "interval", p.interval)

	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Poller stopped (context cancelled)")
			return
		case <-p.stopChan:
			slog.Info("Poller stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Stop signals the poller to stop
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

// poll checks every active contest once
func (p *Poller) poll(ctx context.Context) {
	matches, err := p.repo.ListAllMatches()
	if err != nil {
		slog.Error("Failed to list matches", "error", err)
		return
	}
	for _, m := range matches {
		select {
		case <-ctx.Done():
			return
		default:
			p.checkMatch(ctx, m)
		}
	}

	rounds, err := p.repo.ListAllRounds()
	if err != nil {
		slog.Error("Failed to list rounds", "error", err)
		return
	}
	for _, rd := range rounds {
		select {
		case <-ctx.Done():
			return
		default:
			p.checkRound(ctx, rd)
		}
	}
}

// solveTimes maps problem id to the earliest accepted submission time.
func (p *Poller) solveTimes(ctx context.Context, guildID, userID string, since int64) (map[string]int64, error) {
	h, err := p.repo.GetHandle(guildID, userID)
	if err != nil {
		return nil, err
	}
	return p.handleSolveTimes(ctx, h.Handle, since)
}

func (p *Poller) handleSolveTimes(ctx context.Context, handle string, since int64) (map[string]int64, error) {
	subs, err := p.cf.AcceptedSubmissions(ctx, handle, since)
	if err != nil {
		return nil, err
	}
	times := make(map[string]int64)
	for _, s := range subs {
		id := fmt.Sprintf("%d/%s", s.Problem.ContestID, s.Problem.Index)
		if t, ok := times[id]; !ok || s.CreationTimeSeconds < t {
			times[id] = s.CreationTimeSeconds
		}
	}
	return times, nil
}

// checkMatch advances one match; the first player to solve a problem
// claims it.
func (p *Poller) checkMatch(ctx context.Context, m *storage.Match) {
	since := m.StartedAt.Unix()
	t1, err := p.solveTimes(ctx, m.GuildID, m.P1ID, since)
	if err != nil {
		slog.Error("Failed to fetch submissions", "guild", m.GuildID, "user", m.P1ID, "error", err)
		return
	}
	t2, err := p.solveTimes(ctx, m.GuildID, m.P2ID, since)
	if err != nil {
		slog.Error("Failed to fetch submissions", "guild", m.GuildID, "user", m.P2ID, "error", err)
		return
	}

	status := []byte(m.Status)
	changed := false
	for i, problem := range m.Problems {
		if status[i] != '0' {
			continue
		}
		s1, ok1 := t1[problem.ID()]
		s2, ok2 := t2[problem.ID()]
		switch {
		case ok1 && (!ok2 || s1 <= s2):
			status[i] = '1'
		case ok2:
			status[i] = '2'
		default:
			continue
		}
		changed = true
	}

	if changed {
		m.Status = string(status)
		if err := p.repo.UpdateMatchStatus(m.GuildID, m.P1ID, m.Status); err != nil {
			slog.Error("Failed to update match status", "guild", m.GuildID, "error", err)
			return
		}
		a, b := m.Scores()
		p.announce(m.ChannelID, fmt.Sprintf("match update: <@%s> %d - %d <@%s>", m.P1ID, a, b, m.P2ID))
	}

	expired := time.Since(m.StartedAt) >= time.Duration(m.DurationMin)*time.Minute
	if m.Over() || expired {
		standings, err := p.lifecycle.CompleteMatch(m)
		if err != nil {
			slog.Error("Failed to complete match", "guild", m.GuildID, "error", err)
			return
		}
		p.announce(m.ChannelID, "match over! final standings:\n"+formatStandings(standings))
	}
}

// checkRound advances one round. Alts act as decoys: an alt claiming a
// problem voids it without awarding points.
func (p *Poller) checkRound(ctx context.Context, rd *storage.Round) {
	since := rd.StartedAt.Unix()

	type solver struct {
		user int // 1-based participant index, -1 for alts
		time map[string]int64
	}
	solvers := make([]solver, 0, len(rd.Users)+len(rd.Alts))
	for i, userID := range rd.Users {
		times, err := p.solveTimes(ctx, rd.GuildID, userID, since)
		if err != nil {
			slog.Error("Failed to fetch submissions", "guild", rd.GuildID, "user", userID, "error", err)
			return
		}
		solvers = append(solvers, solver{user: i + 1, time: times})
	}
	for _, alt := range rd.Alts {
		times, err := p.handleSolveTimes(ctx, alt, since)
		if err != nil {
			slog.Error("Failed to fetch submissions", "guild", rd.GuildID, "handle", alt, "error", err)
			return
		}
		solvers = append(solvers, solver{user: -1, time: times})
	}

	changed := false
	for i, problem := range rd.Problems {
		if rd.Status[i] != 0 {
			continue
		}
		first, firstAt := 0, int64(0)
		for _, s := range solvers {
			t, ok := s.time[problem.ID()]
			if !ok {
				continue
			}
			if first == 0 || t < firstAt {
				first, firstAt = s.user, t
			}
		}
		if first == 0 {
			continue
		}

		changed = true
		rd.Status[i] = first
		if first > 0 {
			rd.Scores[first-1] += rd.Points[i]
			p.announce(rd.ChannelID, fmt.Sprintf("<@%s> has solved problem worth %d points", rd.Users[first-1], rd.Points[i]))
		}

		if rd.Repeat {
			// A fresh problem of the same rating takes the slot.
			replacement, err := p.freshProblem(ctx, rd, i)
			if err != nil {
				slog.Warn("Could not find replacement problem", "guild", rd.GuildID, "rating", rd.Ratings[i], "error", err)
				continue
			}
			rd.Problems[i] = replacement
			rd.Status[i] = 0
		}
	}

	if changed {
		if err := p.repo.UpdateRound(rd); err != nil {
			slog.Error("Failed to update round", "guild", rd.GuildID, "error", err)
			return
		}
	}

	done := true
	for _, s := range rd.Status {
		if s == 0 {
			done = false
			break
		}
	}
	expired := time.Since(rd.StartedAt) >= time.Duration(rd.DurationMin)*time.Minute
	if done || expired {
		standings, err := p.lifecycle.CompleteRound(rd)
		if err != nil {
			slog.Error("Failed to complete round", "guild", rd.GuildID, "error", err)
			return
		}
		p.announce(rd.ChannelID, "round over! final standings:\n"+formatStandings(standings))
	}
}

func (p *Poller) freshProblem(ctx context.Context, rd *storage.Round, slot int) (storage.Problem, error) {
	handles := make([]string, 0, len(rd.Users)+len(rd.Alts))
	for _, userID := range rd.Users {
		h, err := p.repo.GetHandle(rd.GuildID, userID)
		if err != nil {
			return storage.Problem{}, err
		}
		handles = append(handles, h.Handle)
	}
	handles = append(handles, rd.Alts...)

	problems, err := p.cf.FindProblems(ctx, handles, []int{rd.Ratings[slot]})
	if err != nil {
		return storage.Problem{}, err
	}
	return problems[0], nil
}

func formatStandings(s *contest.Standings) string {
	var sb strings.Builder
	for _, o := range s.Outcomes {
		fmt.Fprintf(&sb, "%d. <@%s>", o.Rank, o.UserID)
		if s.Changes != nil {
			c := s.Changes[o.UserID]
			fmt.Fprintf(&sb, ": %d (%+d)", c.NewRating, c.Delta)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
