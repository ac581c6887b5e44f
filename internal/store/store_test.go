package store_test

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/testutil"
)

func TestOpenMigratesSchema(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)

	for _, table := range []string{"users", "rooms", "messages"} {
		c.Assert(db.Migrator().HasTable(table), qt.IsTrue, qt.Commentf("table %s", table))
	}
	c.Assert(db.Migrator().HasIndex(&store.Room{}, "Slug"), qt.IsTrue)
	c.Assert(db.Migrator().HasIndex(&store.User{}, "Email"), qt.IsTrue)
}

func TestMemoryDatabasesAreIsolated(t *testing.T) {
	c := qt.New(t)
	first := testutil.NewDB(t)
	second := testutil.NewDB(t)

	c.Assert(first.Create(&store.Room{ID: "r1", Name: "General", Slug: "general", MaxUsers: 10}).Error, qt.IsNil)

	var count int64
	c.Assert(second.Model(&store.Room{}).Count(&count).Error, qt.IsNil)
	c.Assert(count, qt.Equals, int64(0))
}

func TestDuplicateEmailIsReportedAsDuplicate(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)

	c.Assert(db.Create(&store.User{ID: "u1", Name: "Ann", Email: "ann@example.com", PasswordHash: "x"}).Error, qt.IsNil)
	err := db.Create(&store.User{ID: "u2", Name: "Other", Email: "ann@example.com", PasswordHash: "y"}).Error
	c.Assert(err, qt.IsNotNil)
	c.Assert(store.IsDuplicate(err), qt.IsTrue)
}

func TestDuplicateSlugIsReportedAsDuplicate(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)

	c.Assert(db.Create(&store.Room{ID: "r1", Name: "General", Slug: "general", MaxUsers: 10}).Error, qt.IsNil)
	err := db.Create(&store.Room{ID: "r2", Name: "General", Slug: "general", MaxUsers: 10}).Error
	c.Assert(store.IsDuplicate(err), qt.IsTrue)
}

func TestMessageRequiresExistingRoom(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)

	c.Assert(db.Create(&store.User{ID: "u1", Name: "Ann", Email: "ann@example.com", PasswordHash: "x"}).Error, qt.IsNil)
	err := db.Create(&store.Message{
		ID:        "m1",
		Text:      "hello",
		UserID:    "u1",
		UserName:  "Ann",
		RoomID:    "missing",
		CreatedAt: time.Now(),
	}).Error
	c.Assert(err, qt.IsNotNil)
	c.Assert(store.IsMissingReference(err), qt.IsTrue)
}

func TestIsNotFound(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)

	var room store.Room
	err := db.Where("slug = ?", "nope").First(&room).Error
	c.Assert(store.IsNotFound(err), qt.IsTrue)
	c.Assert(store.IsDuplicate(err), qt.IsFalse)
}
