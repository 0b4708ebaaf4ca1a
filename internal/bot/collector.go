package bot

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/akotadi/Lockout-Bot/internal/collect"
	"github.com/akotadi/Lockout-Bot/internal/metrics"
)

// Collector implements collect.Collector on top of the Discord gateway.
// Message and reaction events fan out to the registered waiters; the first
// waiter whose predicate accepts an event consumes it.
type Collector struct {
	session *discordgo.Session

	mu      sync.Mutex
	waiters map[*waiter]struct{}
}

type waiter struct {
	accept func(collect.Event) bool
	ch     chan collect.Event
}

// NewCollector wires a collector into a Discord session.
func NewCollector(session *discordgo.Session) *Collector {
	c := &Collector{
		session: session,
		waiters: make(map[*waiter]struct{}),
	}
	session.AddHandler(c.onMessage)
	session.AddHandler(c.onReaction)
	return c
}

func (c *Collector) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	c.dispatch(collect.Event{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		Content:   m.Content,
	})
}

func (c *Collector) onReaction(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if s.State.User != nil && r.UserID == s.State.User.ID {
		return
	}
	c.dispatch(collect.Event{
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		UserID:    r.UserID,
		Emoji:     r.Emoji.Name,
	})
}

func (c *Collector) dispatch(ev collect.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for w := range c.waiters {
		if w.accept(ev) {
			delete(c.waiters, w)
			w.ch <- ev
		}
	}
}

// Await presents the prompt and waits for the first qualifying event.
func (c *Collector) Await(ctx context.Context, req collect.Request) (collect.Event, error) {
	if req.Timeout <= 0 {
		return collect.Event{}, collect.ErrTimeout
	}
	if req.Prompt != "" {
		if _, err := c.session.ChannelMessageSend(req.ChannelID, req.Prompt); err != nil {
			return collect.Event{}, err
		}
	}

	w := &waiter{accept: req.Accept, ch: make(chan collect.Event, 1)}
	c.mu.Lock()
	c.waiters[w] = struct{}{}
	c.mu.Unlock()

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-timer.C:
		c.remove(w)
		metrics.CollectorTimeouts.Inc()
		return collect.Event{}, collect.ErrTimeout
	case <-ctx.Done():
		c.remove(w)
		return collect.Event{}, ctx.Err()
	}
}

func (c *Collector) remove(w *waiter) {
	c.mu.Lock()
	delete(c.waiters, w)
	c.mu.Unlock()
}
