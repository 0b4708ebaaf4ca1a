package contest

import (
	"context"
	"errors"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/akotadi/Lockout-Bot/internal/collect"
	"github.com/akotadi/Lockout-Bot/internal/storage"
)

func TestRoundPropose(t *testing.T) {
	convey.Convey("Given three registered users", t, func() {
		store := newMemStore("ann", "ben", "cid")
		tournaments := &fakeTournaments{}

		convey.Convey("When everyone acks and the initiator answers every prompt", func() {
			collector := script(
				react("ann", ackEmoji),
				react("ben", ackEmoji),
				react("cid", ackEmoji),
				msg("ann", "3"),             // problems
				msg("ann", "40"),            // duration
				msg("ann", "800 900 1000"),  // ratings
				msg("ann", "100 200 300"),   // points
				msg("ann", "0"),             // no repeat
				msg("ann", "none"),          // no alts
			)
			n := NewRoundNegotiator(store, collector, &fakeFinder{}, tournaments, testLimits())
			rd, err := n.Propose(context.Background(), "g", "chan", "ann", []string{"ben", "cid"}, false)

			convey.Convey("Then the round is created with open slots and zero scores", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rd.Users, convey.ShouldResemble, []string{"ann", "ben", "cid"})
				convey.So(rd.Ratings, convey.ShouldResemble, []int{800, 900, 1000})
				convey.So(rd.Points, convey.ShouldResemble, []int{100, 200, 300})
				convey.So(rd.Status, convey.ShouldResemble, []int{0, 0, 0})
				convey.So(rd.Scores, convey.ShouldResemble, []int{0, 0, 0})
				convey.So(rd.DurationMin, convey.ShouldEqual, 40)
				convey.So(rd.Repeat, convey.ShouldBeFalse)
				convey.So(rd.Alts, convey.ShouldBeEmpty)
			})
			convey.Convey("And everyone holds a round reservation", func() {
				for _, u := range []string{"ann", "ben", "cid"} {
					convey.So(store.reservedKind(u), convey.ShouldEqual, storage.KindRound)
				}
			})
		})

		convey.Convey("When one participant never acks", func() {
			collector := script(
				react("ann", ackEmoji),
				react("ben", ackEmoji),
			)
			n := NewRoundNegotiator(store, collector, &fakeFinder{}, tournaments, testLimits())
			_, err := n.Propose(context.Background(), "g", "chan", "ann", []string{"ben", "cid"}, false)

			convey.So(errors.Is(err, ErrTimeout), convey.ShouldBeTrue)
			convey.Convey("Then every reservation is released", func() {
				convey.So(store.reservationCount(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When a participant is already engaged", func() {
			convey.So(store.Reserve("g", []string{"cid"}, []string{storage.KindMatch}), convey.ShouldBeNil)
			n := NewRoundNegotiator(store, script(), &fakeFinder{}, tournaments, testLimits())
			_, err := n.Propose(context.Background(), "g", "chan", "ann", []string{"ben", "cid"}, false)

			convey.So(errors.Is(err, ErrConflict), convey.ShouldBeTrue)
			convey.Convey("Then nobody else was reserved either", func() {
				convey.So(store.reservedKind("ann"), convey.ShouldEqual, "")
				convey.So(store.reservedKind("ben"), convey.ShouldEqual, "")
			})
		})

		convey.Convey("When the initiator is repeated in the participant list", func() {
			collector := script(
				react("ann", ackEmoji),
				react("ben", ackEmoji),
				msg("ann", "1"),
				msg("ann", "10"),
				msg("ann", "900"),
				msg("ann", "100"),
				msg("ann", "0"),
				msg("ann", "none"),
			)
			n := NewRoundNegotiator(store, collector, &fakeFinder{}, tournaments, testLimits())
			rd, err := n.Propose(context.Background(), "g", "chan", "ann", []string{"ann", "ben"}, false)

			convey.So(err, convey.ShouldBeNil)
			convey.So(rd.Users, convey.ShouldResemble, []string{"ann", "ben"})
		})

		convey.Convey("When too many users are listed", func() {
			n := NewRoundNegotiator(store, script(), &fakeFinder{}, tournaments, testLimits())
			_, err := n.Propose(context.Background(), "g", "chan", "ann",
				[]string{"u1", "u2", "u3", "u4", "u5"}, false)

			convey.So(errors.Is(err, ErrTooManyParticipants), convey.ShouldBeTrue)
		})
	})
}

func TestRoundProposeCustom(t *testing.T) {
	convey.Convey("Given two registered users", t, func() {
		store := newMemStore("ann", "ben")
		tournaments := &fakeTournaments{}

		convey.Convey("When the initiator supplies explicit problem ids", func() {
			collector := script(
				react("ann", ackEmoji),
				react("ben", ackEmoji),
				msg("ann", "2"),
				msg("ann", "30"),
				msg("ann", "123/A 455/B2"),
				msg("ann", "100 250"),
			)
			n := NewRoundNegotiator(store, collector, &fakeFinder{}, tournaments, testLimits())
			rd, err := n.Propose(context.Background(), "g", "chan", "ann", []string{"ben"}, true)

			convey.Convey("Then the round carries the resolved problems", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(rd.Problems), convey.ShouldEqual, 2)
				convey.So(rd.Problems[0].ContestID, convey.ShouldEqual, 123)
				convey.So(rd.Problems[1].Index, convey.ShouldEqual, "B2")
				convey.So(rd.Ratings, convey.ShouldResemble, []int{1000, 1100})
				convey.So(rd.Points, convey.ShouldResemble, []int{100, 250})
				convey.So(rd.Repeat, convey.ShouldBeFalse)
			})
		})
	})
}

func TestRoundProposeSolo(t *testing.T) {
	convey.Convey("Given a single registered user", t, func() {
		store := newMemStore("ann")
		collector := script(
			react("ann", ackEmoji),
			msg("ann", "2"),
			msg("ann", "20"),
			msg("ann", "800 900"),
			msg("ann", "100 100"),
			msg("ann", "1"),
			msg("ann", "alts: tourist"),
		)
		n := NewRoundNegotiator(store, collector, &fakeFinder{}, &fakeTournaments{}, testLimits())

		convey.Convey("When they start a round alone", func() {
			rd, err := n.Propose(context.Background(), "g", "chan", "ann", nil, false)

			convey.Convey("Then it is a practice round with repeat and one alt", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rd.Practice(), convey.ShouldBeTrue)
				convey.So(rd.Repeat, convey.ShouldBeTrue)
				convey.So(rd.Alts, convey.ShouldResemble, []string{"tourist"})
			})
		})
	})
}

func TestRoundTournamentLink(t *testing.T) {
	convey.Convey("Given two users with an open bracket match", t, func() {
		store := newMemStore("ann", "ben")
		tournaments := &fakeTournaments{paired: true}

		convey.Convey("When the initiator counts the round toward the bracket", func() {
			collector := script(
				react("ann", ackEmoji),
				react("ben", ackEmoji),
				msg("ann", "1"),
				msg("ann", "15"),
				msg("ann", "1200"),
				msg("ann", "100"),
				msg("ann", "0"),
				msg("ann", "none"),
				msg("ann", "1"), // count toward bracket
			)
			n := NewRoundNegotiator(store, collector, &fakeFinder{}, tournaments, testLimits())
			rd, err := n.Propose(context.Background(), "g", "chan", "ann", []string{"ben"}, false)

			convey.So(err, convey.ShouldBeNil)
			convey.So(rd.Tournament, convey.ShouldBeTrue)
		})

		convey.Convey("When the bracket lookup fails", func() {
			collector := script(
				react("ann", ackEmoji),
				react("ben", ackEmoji),
				msg("ann", "1"),
				msg("ann", "15"),
				msg("ann", "1200"),
				msg("ann", "100"),
				msg("ann", "0"),
				msg("ann", "none"),
			)
			tournaments.err = errors.New("challonge API: status 500")
			n := NewRoundNegotiator(store, collector, &fakeFinder{}, tournaments, testLimits())
			_, err := n.Propose(context.Background(), "g", "chan", "ann", []string{"ben"}, false)

			var external *ExternalError
			convey.So(errors.As(err, &external), convey.ShouldBeTrue)
			convey.So(store.reservationCount(), convey.ShouldEqual, 0)
		})
	})
}

func TestRoundReservationRecheck(t *testing.T) {
	convey.Convey("Given a negotiation whose participants were freed mid-way", t, func() {
		store := newMemStore("ann", "ben")

		// The collector frees a participant while answering a prompt, the
		// way an admin invalidation during the collection window would.
		collector := &droppingCollector{
			inner: script(
				react("ann", ackEmoji),
				react("ben", ackEmoji),
				msg("ann", "1"),
				msg("ann", "15"),
				msg("ann", "1200"),
				msg("ann", "100"),
				msg("ann", "0"),
				msg("ann", "none"),
			),
			drop: func() { _ = store.Free("g", "ben") },
		}
		n := NewRoundNegotiator(store, collector, &fakeFinder{}, &fakeTournaments{}, testLimits())

		convey.Convey("When the negotiation reaches creation", func() {
			_, err := n.Propose(context.Background(), "g", "chan", "ann", []string{"ben"}, false)

			convey.Convey("Then creation is refused instead of resurrecting the round", func() {
				convey.So(errors.Is(err, ErrConflict), convey.ShouldBeTrue)
				convey.So(store.reservationCount(), convey.ShouldEqual, 0)
			})
		})
	})
}

// droppingCollector runs a side effect after the final scripted answer.
type droppingCollector struct {
	inner *scriptedCollector
	drop  func()
	done  bool
}

func (c *droppingCollector) Await(ctx context.Context, req collect.Request) (collect.Event, error) {
	ev, err := c.inner.Await(ctx, req)
	c.inner.mu.Lock()
	remaining := len(c.inner.events)
	c.inner.mu.Unlock()
	if remaining == 0 && !c.done {
		c.done = true
		c.drop()
	}
	return ev, err
}
