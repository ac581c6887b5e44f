package messages_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/messages"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(c *qt.C, db *gorm.DB) {
	c.Assert(db.Create(&store.User{ID: "u1", Name: "Ann", Email: "ann@example.com", PasswordHash: "x"}).Error, qt.IsNil)
	for _, id := range []string{"r1", "r2"} {
		c.Assert(db.Create(&store.Room{ID: id, Name: id, Slug: id, MaxUsers: 10}).Error, qt.IsNil)
	}
}

func texts(list []*messages.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.Text
	}
	return out
}

func TestAppend(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)
	seed(c, db)
	log := messages.NewLog(db, testclock.NewClock(epoch))

	msg, err := log.Append(context.Background(), "r1", "u1", "Ann", "hi")
	c.Assert(err, qt.IsNil)
	c.Assert(msg.ID, qt.Not(qt.Equals), "")
	c.Assert(msg.Text, qt.Equals, "hi")
	c.Assert(msg.UserID, qt.Equals, "u1")
	c.Assert(msg.UserName, qt.Equals, "Ann")
	c.Assert(msg.RoomID, qt.Equals, "r1")
	c.Assert(msg.CreatedAt.Equal(epoch), qt.IsTrue)

	var stored int64
	c.Assert(db.Model(&store.Message{}).Count(&stored).Error, qt.IsNil)
	c.Assert(stored, qt.Equals, int64(1))
}

func TestAppendRejectsBlankText(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)
	seed(c, db)
	log := messages.NewLog(db, nil)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := log.Append(context.Background(), "r1", "u1", "Ann", text)
		c.Assert(errors.Is(err, errors.NotValid), qt.IsTrue, qt.Commentf("text %q", text))
	}
	var stored int64
	c.Assert(db.Model(&store.Message{}).Count(&stored).Error, qt.IsNil)
	c.Assert(stored, qt.Equals, int64(0))
}

func TestAppendUnknownRoom(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)
	seed(c, db)
	log := messages.NewLog(db, nil)

	_, err := log.Append(context.Background(), "nope", "u1", "Ann", "hi")
	c.Assert(errors.Is(err, errors.NotFound), qt.IsTrue)
}

func TestRecentReturnsNewestInAscendingOrder(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)
	seed(c, db)
	clk := testclock.NewClock(epoch)
	log := messages.NewLog(db, clk)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := log.Append(ctx, "r1", "u1", "Ann", fmt.Sprintf("m%d", i))
		c.Assert(err, qt.IsNil)
		_, err = log.Append(ctx, "r2", "u1", "Ann", fmt.Sprintf("other%d", i))
		c.Assert(err, qt.IsNil)
		clk.Advance(time.Millisecond)
	}

	recent, err := log.Recent(ctx, "r1", 3)
	c.Assert(err, qt.IsNil)
	c.Assert(texts(recent), qt.DeepEquals, []string{"m3", "m4", "m5"})
	for i := 1; i < len(recent); i++ {
		c.Assert(recent[i].CreatedAt.Before(recent[i-1].CreatedAt), qt.IsFalse)
	}
}

func TestRecentKeepsAppendOrderForEqualTimestamps(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)
	seed(c, db)
	log := messages.NewLog(db, testclock.NewClock(epoch))
	ctx := context.Background()

	var want []string
	for i := 0; i < 20; i++ {
		text := fmt.Sprintf("same-instant-%02d", i)
		_, err := log.Append(ctx, "r1", "u1", "Ann", text)
		c.Assert(err, qt.IsNil)
		want = append(want, text)
	}

	recent, err := log.Recent(ctx, "r1", 0)
	c.Assert(err, qt.IsNil)
	c.Assert(texts(recent), qt.DeepEquals, want)
}

func TestRecentDefaultLimit(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)
	seed(c, db)
	clk := testclock.NewClock(epoch)
	log := messages.NewLog(db, clk)
	ctx := context.Background()

	for i := 0; i < messages.DefaultHistoryLimit+10; i++ {
		_, err := log.Append(ctx, "r1", "u1", "Ann", fmt.Sprintf("m%d", i))
		c.Assert(err, qt.IsNil)
		clk.Advance(time.Second)
	}

	recent, err := log.Recent(ctx, "r1", 0)
	c.Assert(err, qt.IsNil)
	c.Assert(recent, qt.HasLen, messages.DefaultHistoryLimit)
	c.Assert(recent[0].Text, qt.Equals, "m10")
	c.Assert(recent[len(recent)-1].Text, qt.Equals, fmt.Sprintf("m%d", messages.DefaultHistoryLimit+9))
}

func TestRecentEmptyRoomEncodesAsEmptyArray(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)
	seed(c, db)
	log := messages.NewLog(db, nil)

	recent, err := log.Recent(context.Background(), "r2", 10)
	c.Assert(err, qt.IsNil)
	body, err := json.Marshal(recent)
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "[]")
}
