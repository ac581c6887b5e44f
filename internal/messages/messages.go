// Package messages is the append-only message log of every room.
package messages

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/validation"
)

var logger = loggo.GetLogger("roomchat.messages")

// DefaultHistoryLimit is the number of messages returned by Recent when the
// caller does not ask for a specific amount.
const DefaultHistoryLimit = 50

// Message is a persisted chat line as seen by clients.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Log appends and reads room history.
type Log struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewLog returns a Log over db. A nil clock means the wall clock.
func NewLog(db *gorm.DB, clk clock.Clock) *Log {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Log{db: db, clock: clk}
}

// Append stores a message in roomID written by the given user. Blank text
// fails with errors.NotValid; an unknown room or user fails with
// errors.NotFound.
func (l *Log) Append(ctx context.Context, roomID, userID, userName, text string) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, validation.Invalid("text must not be empty")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Annotate(err, "generating message id")
	}
	record := &store.Message{
		ID:        id.String(),
		Text:      text,
		UserID:    userID,
		UserName:  userName,
		RoomID:    roomID,
		CreatedAt: l.clock.Now().UTC(),
	}
	err = l.db.WithContext(ctx).Create(record).Error
	if store.IsMissingReference(err) {
		return nil, errors.NotFoundf("room %q or user %q", roomID, userID)
	}
	if err != nil {
		return nil, errors.Annotate(err, "storing message")
	}
	logger.Tracef("stored message %s in room %s", record.ID, roomID)
	return toMessage(record), nil
}

// Recent returns up to limit of the newest messages in roomID, oldest
// first. Messages with equal timestamps keep their append order. A
// non-positive limit means DefaultHistoryLimit.
func (l *Log) Recent(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var records []store.Message
	err := l.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Annotate(err, "loading recent messages")
	}
	out := make([]*Message, len(records))
	for i := range records {
		out[len(records)-1-i] = toMessage(&records[i])
	}
	return out, nil
}

func toMessage(m *store.Message) *Message {
	return &Message{
		ID:        m.ID,
		Text:      m.Text,
		UserID:    m.UserID,
		UserName:  m.UserName,
		RoomID:    m.RoomID,
		CreatedAt: m.CreatedAt,
	}
}
