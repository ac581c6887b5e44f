// Package store holds the persistent records of the chat service and the
// helpers used to open and migrate the SQLite database behind them.
package store

import "time"

// User is a registered account. PasswordHash is a bcrypt digest and never
// leaves the identity package.
type User struct {
	ID           string `gorm:"primaryKey;type:text"`
	Name         string `gorm:"size:50;not null"`
	Email        string `gorm:"type:text;uniqueIndex;not null"`
	PasswordHash string `gorm:"type:text;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Room is a named chat room addressed by its unique slug.
type Room struct {
	ID        string `gorm:"primaryKey;type:text"`
	Name      string `gorm:"size:50;not null"`
	Slug      string `gorm:"type:text;uniqueIndex;not null"`
	MaxUsers  int    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// Message is one persisted chat line. UserName is copied from the author at
// write time so history reads need no join.
type Message struct {
	ID        string    `gorm:"primaryKey;type:text"`
	Text      string    `gorm:"type:text;not null"`
	UserID    string    `gorm:"type:text;index;not null"`
	UserName  string    `gorm:"type:text;not null"`
	RoomID    string    `gorm:"type:text;not null;index:idx_messages_room_created,priority:1"`
	CreatedAt time.Time `gorm:"index:idx_messages_room_created,priority:2"`

	User *User `gorm:"constraint:OnDelete:CASCADE"`
	Room *Room `gorm:"constraint:OnDelete:CASCADE"`
}
