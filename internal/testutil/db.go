// Package testutil provides helpers shared by the package tests: throwaway
// databases and realtime client helpers.
package testutil

import (
	"testing"

	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/store"
)

// NewDB opens a fresh in-memory database that is closed when the test ends.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := store.Open(store.MemoryPath)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(db); err != nil {
			t.Errorf("closing test database: %v", err)
		}
	})
	return db
}
