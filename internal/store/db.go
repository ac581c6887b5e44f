package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var logger = loggo.GetLogger("roomchat.store")

// MemoryPath opens a private in-memory database when passed to Open.
const MemoryPath = ":memory:"

// Open connects to the SQLite database at path and migrates the schema.
// Unique and foreign key violations surface as gorm.ErrDuplicatedKey and
// gorm.ErrForeignKeyViolated.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(logger),
	})
	if err != nil {
		return nil, errors.Annotatef(err, "opening database %q", path)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}
	// SQLite allows a single writer; one connection also keeps an in-memory
	// database alive for the lifetime of the pool.
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Trace(err)
	}
	logger.Infof("database ready at %s", path)
	return db, nil
}

// Migrate creates or updates the users, rooms and messages tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &Room{}, &Message{}); err != nil {
		return errors.Annotate(err, "migrating schema")
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return sqlDB.Close()
}

func dsn(path string) string {
	if path == "" || path == MemoryPath {
		// Named shared-cache databases keep separate Open calls isolated.
		return fmt.Sprintf("file:roomchat-%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// IsDuplicate reports whether err is a unique constraint violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// IsMissingReference reports whether err is a foreign key violation.
func IsMissingReference(err error) bool {
	return errors.Is(err, gorm.ErrForeignKeyViolated)
}

// IsNotFound reports whether err means a lookup matched no row.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
