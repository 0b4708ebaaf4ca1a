package collect_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/akotadi/Lockout-Bot/internal/collect"
)

// fakeCollector resolves each wait against a fixed event script; rejected
// events are dropped and an exhausted script behaves like a timeout.
type fakeCollector struct {
	events  []collect.Event
	prompts []string
}

func (c *fakeCollector) Await(ctx context.Context, req collect.Request) (collect.Event, error) {
	if req.Timeout <= 0 {
		return collect.Event{}, collect.ErrTimeout
	}
	if req.Prompt != "" {
		c.prompts = append(c.prompts, req.Prompt)
	}
	for len(c.events) > 0 {
		ev := c.events[0]
		c.events = c.events[1:]
		if req.Accept(ev) {
			return ev, nil
		}
	}
	return collect.Event{}, collect.ErrTimeout
}

func message(userID, content string) collect.Event {
	return collect.Event{ChannelID: "chan", UserID: userID, Content: content}
}

func reaction(userID, emoji string) collect.Event {
	return collect.Event{ChannelID: "chan", UserID: userID, Emoji: emoji}
}

const timeout = time.Second

func TestInt(t *testing.T) {
	convey.Convey("Given a prompt for a duration between 5 and 180", t, func() {
		ctx := context.Background()

		convey.Convey("A valid reply resolves", func() {
			c := &fakeCollector{events: []collect.Event{message("u", "42")}}
			v, err := collect.Int(ctx, c, "chan", "u", "how long?", timeout, 5, 180)
			convey.So(err, convey.ShouldBeNil)
			convey.So(v, convey.ShouldEqual, 42)
		})

		convey.Convey("Out-of-range and non-numeric replies are skipped until a valid one", func() {
			c := &fakeCollector{events: []collect.Event{
				message("u", "999"),
				message("u", "ten"),
				message("u", "60"),
			}}
			v, err := collect.Int(ctx, c, "chan", "u", "how long?", timeout, 5, 180)
			convey.So(err, convey.ShouldBeNil)
			convey.So(v, convey.ShouldEqual, 60)
		})

		convey.Convey("Another user's reply does not count", func() {
			c := &fakeCollector{events: []collect.Event{message("someone_else", "60")}}
			_, err := collect.Int(ctx, c, "chan", "u", "how long?", timeout, 5, 180)
			convey.So(errors.Is(err, collect.ErrTimeout), convey.ShouldBeTrue)
		})
	})
}

func TestIntSeq(t *testing.T) {
	convey.Convey("Given a prompt for three integers", t, func() {
		ctx := context.Background()

		convey.Convey("The right count in range resolves", func() {
			c := &fakeCollector{events: []collect.Event{message("u", "800 900 1000")}}
			vals, err := collect.IntSeq(ctx, c, "chan", "u", "ratings?", timeout, 3, 800, 3600)
			convey.So(err, convey.ShouldBeNil)
			convey.So(vals, convey.ShouldResemble, []int{800, 900, 1000})
		})

		convey.Convey("A message is rejected wholesale if any element fails", func() {
			c := &fakeCollector{events: []collect.Event{
				message("u", "800 900"),          // wrong count
				message("u", "800 900 99999"),    // one out of range
				message("u", "1000 1100 1200"),
			}}
			vals, err := collect.IntSeq(ctx, c, "chan", "u", "ratings?", timeout, 3, 800, 3600)
			convey.So(err, convey.ShouldBeNil)
			convey.So(vals, convey.ShouldResemble, []int{1000, 1100, 1200})
		})
	})
}

func TestProblemIDs(t *testing.T) {
	convey.Convey("Given a prompt for two problem ids", t, func() {
		ctx := context.Background()

		convey.Convey("Well-formed ids resolve", func() {
			c := &fakeCollector{events: []collect.Event{message("u", "1337/A 455/B2")}}
			ids, err := collect.ProblemIDs(ctx, c, "chan", "u", "ids?", timeout, 2)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ids, convey.ShouldResemble, []string{"1337/A", "455/B2"})
		})

		convey.Convey("Malformed ids are rejected", func() {
			c := &fakeCollector{events: []collect.Event{
				message("u", "1337A 455/B"),
				message("u", "1337/7 455/B"),
			}}
			_, err := collect.ProblemIDs(ctx, c, "chan", "u", "ids?", timeout, 2)
			convey.So(errors.Is(err, collect.ErrTimeout), convey.ShouldBeTrue)
		})
	})
}

func TestHandles(t *testing.T) {
	convey.Convey("Given a prompt for alt handles", t, func() {
		ctx := context.Background()

		convey.Convey("The none sentinel yields an empty list", func() {
			c := &fakeCollector{events: []collect.Event{message("u", "None")}}
			handles, err := collect.Handles(ctx, c, "chan", "u", "alts?", timeout, 5)
			convey.So(err, convey.ShouldBeNil)
			convey.So(handles, convey.ShouldBeEmpty)
		})

		convey.Convey("An announced list keeps its casing", func() {
			c := &fakeCollector{events: []collect.Event{message("u", "alts: Tourist jiangly")}}
			handles, err := collect.Handles(ctx, c, "chan", "u", "alts?", timeout, 5)
			convey.So(err, convey.ShouldBeNil)
			convey.So(handles, convey.ShouldResemble, []string{"Tourist", "jiangly"})
		})

		convey.Convey("Duplicates and oversized lists are rejected", func() {
			c := &fakeCollector{events: []collect.Event{
				message("u", "alts: a A"),
				message("u", "alts: a b c"),
			}}
			_, err := collect.Handles(ctx, c, "chan", "u", "alts?", timeout, 2)
			convey.So(errors.Is(err, collect.ErrTimeout), convey.ShouldBeTrue)
		})
	})
}

func TestConfirm(t *testing.T) {
	convey.Convey("Given a confirmation word", t, func() {
		ctx := context.Background()

		convey.Convey("The word matches case-insensitively with surrounding space", func() {
			c := &fakeCollector{events: []collect.Event{message("u", "  YES ")}}
			convey.So(collect.Confirm(ctx, c, "chan", "u", "yes", "sure?", timeout), convey.ShouldBeNil)
		})

		convey.Convey("Any other reply leaves the wait unresolved", func() {
			c := &fakeCollector{events: []collect.Event{message("u", "yes please")}}
			err := collect.Confirm(ctx, c, "chan", "u", "yes", "sure?", timeout)
			convey.So(errors.Is(err, collect.ErrTimeout), convey.ShouldBeTrue)
		})
	})
}

func TestReactAll(t *testing.T) {
	convey.Convey("Given three required reactors", t, func() {
		ctx := context.Background()
		users := []string{"a", "b", "c"}

		convey.Convey("The wait resolves once everyone reacted", func() {
			c := &fakeCollector{events: []collect.Event{
				reaction("b", "✅"),
				reaction("x", "✅"), // stranger, ignored
				reaction("a", "✅"),
				reaction("a", "✅"), // duplicate, ignored
				reaction("c", "✅"),
			}}
			convey.So(collect.ReactAll(ctx, c, "chan", "react!", "✅", users, timeout), convey.ShouldBeNil)

			convey.Convey("And the prompt was announced exactly once", func() {
				convey.So(c.prompts, convey.ShouldResemble, []string{"react!"})
			})
		})

		convey.Convey("A missing reactor fails the whole set", func() {
			c := &fakeCollector{events: []collect.Event{
				reaction("a", "✅"),
				reaction("b", "✅"),
			}}
			err := collect.ReactAll(ctx, c, "chan", "react!", "✅", users, timeout)
			convey.So(errors.Is(err, collect.ErrTimeout), convey.ShouldBeTrue)
		})

		convey.Convey("The wrong emoji does not count", func() {
			c := &fakeCollector{events: []collect.Event{
				reaction("a", "✅"),
				reaction("b", "👍"),
				reaction("c", "✅"),
			}}
			err := collect.ReactAll(ctx, c, "chan", "react!", "✅", users, timeout)
			convey.So(errors.Is(err, collect.ErrTimeout), convey.ShouldBeTrue)
		})
	})
}
