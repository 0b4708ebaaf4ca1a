package contest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/akotadi/Lockout-Bot/internal/storage"
)

func TestChallengePropose(t *testing.T) {
	convey.Convey("Given two registered users", t, func() {
		store := newMemStore("alice", "bob")
		log := &announceLog{}

		convey.Convey("When alice proposes with rating 1250 and answers the duration prompt", func() {
			n := NewChallengeNegotiator(store, script(msg("alice", "30")), &fakeFinder{}, log.announce, testLimits())
			c, err := n.Propose(context.Background(), "g", "chan", "alice", "bob", 1250)

			convey.Convey("Then the challenge exists with the floored rating", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(c.Rating, convey.ShouldEqual, 1200)
				convey.So(c.DurationMin, convey.ShouldEqual, 30)
			})
			convey.Convey("And both users are reserved", func() {
				convey.So(store.reservedKind("alice"), convey.ShouldEqual, storage.KindChallenging)
				convey.So(store.reservedKind("bob"), convey.ShouldEqual, storage.KindChallenged)
			})
		})

		convey.Convey("When alice challenges herself", func() {
			n := NewChallengeNegotiator(store, script(), &fakeFinder{}, log.announce, testLimits())
			_, err := n.Propose(context.Background(), "g", "chan", "alice", "alice", 1200)

			convey.So(errors.Is(err, ErrSelfChallenge), convey.ShouldBeTrue)
		})

		convey.Convey("When the target has no handle", func() {
			n := NewChallengeNegotiator(store, script(), &fakeFinder{}, log.announce, testLimits())
			_, err := n.Propose(context.Background(), "g", "chan", "alice", "carol", 1200)

			convey.So(errors.Is(err, ErrHandleMissing), convey.ShouldBeTrue)
			convey.So(store.reservationCount(), convey.ShouldEqual, 0)
		})

		convey.Convey("When the rating floor pushes the ladder past the upper bound", func() {
			n := NewChallengeNegotiator(store, script(), &fakeFinder{}, log.announce, testLimits())
			_, err := n.Propose(context.Background(), "g", "chan", "alice", "bob", 3300)

			convey.So(errors.Is(err, ErrInvalidRange), convey.ShouldBeTrue)
		})

		convey.Convey("When the target is already engaged", func() {
			convey.So(store.Reserve("g", []string{"bob"}, []string{storage.KindRound}), convey.ShouldBeNil)
			n := NewChallengeNegotiator(store, script(msg("alice", "30")), &fakeFinder{}, log.announce, testLimits())
			_, err := n.Propose(context.Background(), "g", "chan", "alice", "bob", 1200)

			convey.So(errors.Is(err, ErrConflict), convey.ShouldBeTrue)
			convey.Convey("And the proposer was not left reserved", func() {
				convey.So(store.reservedKind("alice"), convey.ShouldEqual, "")
			})
		})

		convey.Convey("When the duration prompt goes unanswered", func() {
			n := NewChallengeNegotiator(store, script(), &fakeFinder{}, log.announce, testLimits())
			_, err := n.Propose(context.Background(), "g", "chan", "alice", "bob", 1200)

			convey.So(errors.Is(err, ErrTimeout), convey.ShouldBeTrue)
			convey.Convey("Then both users end up free", func() {
				convey.So(store.reservationCount(), convey.ShouldEqual, 0)
			})
		})
	})
}

func TestChallengeAccept(t *testing.T) {
	convey.Convey("Given a pending challenge from alice to bob", t, func() {
		store := newMemStore("alice", "bob")
		log := &announceLog{}
		n := NewChallengeNegotiator(store, script(msg("alice", "45")), &fakeFinder{}, log.announce, testLimits())
		_, err := n.Propose(context.Background(), "g", "chan", "alice", "bob", 1500)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When bob accepts", func() {
			m, err := n.Accept(context.Background(), "g", "bob")

			convey.Convey("Then a match starts on the 5-step ladder", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(m.Status, convey.ShouldEqual, "00000")
				convey.So(len(m.Problems), convey.ShouldEqual, 5)
				convey.So(m.Problems[0].Rating, convey.ShouldEqual, 1500)
				convey.So(m.Problems[4].Rating, convey.ShouldEqual, 1900)
				convey.So(m.DurationMin, convey.ShouldEqual, 45)
			})
			convey.Convey("And both reservations become in-match", func() {
				convey.So(store.reservedKind("alice"), convey.ShouldEqual, storage.KindMatch)
				convey.So(store.reservedKind("bob"), convey.ShouldEqual, storage.KindMatch)
			})
			convey.Convey("And the challenge row is gone", func() {
				_, err := store.GetChallengeByProposer("g", "alice")
				convey.So(errors.Is(err, storage.ErrNotFound), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the problem finder fails during accept", func() {
			n.finder = &fakeFinder{err: errors.New("not enough unsolved problems of rating 1500")}
			_, err := n.Accept(context.Background(), "g", "bob")

			var external *ExternalError
			convey.So(errors.As(err, &external), convey.ShouldBeTrue)
			convey.Convey("Then both users end up free", func() {
				convey.So(store.reservationCount(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When a user with no incoming challenge accepts", func() {
			_, err := n.Accept(context.Background(), "g", "alice")
			convey.So(errors.Is(err, ErrNotChallenged), convey.ShouldBeTrue)
		})
	})
}

func TestChallengeWithdrawDecline(t *testing.T) {
	convey.Convey("Given a pending challenge from alice to bob", t, func() {
		store := newMemStore("alice", "bob")
		log := &announceLog{}
		n := NewChallengeNegotiator(store, script(msg("alice", "30")), &fakeFinder{}, log.announce, testLimits())
		_, err := n.Propose(context.Background(), "g", "chan", "alice", "bob", 1200)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When alice withdraws", func() {
			convey.So(n.Withdraw("g", "alice"), convey.ShouldBeNil)
			convey.So(store.reservationCount(), convey.ShouldEqual, 0)

			convey.Convey("Then a second withdraw reports nothing to withdraw", func() {
				convey.So(errors.Is(n.Withdraw("g", "alice"), ErrNotChallenging), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When bob declines", func() {
			convey.So(n.Decline("g", "bob"), convey.ShouldBeNil)
			convey.So(store.reservationCount(), convey.ShouldEqual, 0)

			convey.Convey("Then a second decline reports nothing to decline", func() {
				convey.So(errors.Is(n.Decline("g", "bob"), ErrNotChallenged), convey.ShouldBeTrue)
			})
		})
	})
}

func TestChallengeExpiry(t *testing.T) {
	convey.Convey("Given a challenge with a short expiry window", t, func() {
		store := newMemStore("alice", "bob")
		log := &announceLog{}
		n := NewChallengeNegotiator(store, script(msg("alice", "30")), &fakeFinder{}, log.announce, testLimits())
		n.expiry = 20 * time.Millisecond

		_, err := n.Propose(context.Background(), "g", "chan", "alice", "bob", 1200)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When nobody answers before the window closes", func() {
			time.Sleep(100 * time.Millisecond)

			convey.Convey("Then the challenge is gone and both users are free", func() {
				_, err := store.GetChallengeByProposer("g", "alice")
				convey.So(errors.Is(err, storage.ErrNotFound), convey.ShouldBeTrue)
				convey.So(store.reservationCount(), convey.ShouldEqual, 0)
				convey.So(log.count(), convey.ShouldEqual, 1)
			})

			convey.Convey("And a late accept loses the race", func() {
				_, err := n.Accept(context.Background(), "g", "bob")
				convey.So(errors.Is(err, ErrNotChallenged), convey.ShouldBeTrue)
			})
		})
	})
}
