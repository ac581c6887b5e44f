// Package rooms is the room directory: it creates rooms under unique slugs
// and resolves them by slug or id.
package rooms

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/validation"
)

var logger = loggo.GetLogger("roomchat.rooms")

const (
	createAttempts = 5
	createDelay    = 10 * time.Millisecond
)

// errSlugTaken marks a create that lost the race for its candidate slug.
var errSlugTaken = errors.AlreadyExistsf("slug")

var errRoomNotFound = errors.WithType(errors.New("Room not found"), errors.NotFound)

// Room is the public shape of a chat room.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	MaxUsers  int       `json:"maxUsers"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateRoomInput is the room creation request body.
type CreateRoomInput struct {
	Name     string `json:"name" validate:"min=2,max=50"`
	MaxUsers int    `json:"maxUsers" validate:"min=2,max=100"`
}

// Directory creates and resolves rooms.
type Directory struct {
	db       *gorm.DB
	clock    clock.Clock
	cache    Cache
	validate *validation.Validator
	lookups  singleflight.Group
}

// Option configures a Directory.
type Option func(*Directory)

// WithClock sets the clock used for room timestamps.
func WithClock(clk clock.Clock) Option {
	return func(d *Directory) { d.clock = clk }
}

// WithCache puts cache in front of slug lookups.
func WithCache(cache Cache) Option {
	return func(d *Directory) { d.cache = cache }
}

// NewDirectory returns a Directory over db.
func NewDirectory(db *gorm.DB, opts ...Option) *Directory {
	d := &Directory{
		db:       db,
		clock:    clock.WallClock,
		validate: validation.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CreateRoom validates the input, picks the first free slug derived from
// name and stores the room. Both fields are checked before failing so the
// error lists every problem.
func (d *Directory) CreateRoom(ctx context.Context, name string, maxUsers int) (*Room, error) {
	if err := d.validate.Struct(CreateRoomInput{Name: name, MaxUsers: maxUsers}); err != nil {
		return nil, errors.Trace(err)
	}
	base := Slugify(name)

	var created *store.Room
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			room, err := d.insert(ctx, name, maxUsers, base)
			if err != nil {
				return err
			}
			created = room
			return nil
		},
		IsFatalError: func(err error) bool {
			return err != errSlugTaken
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("slug for %q taken concurrently (attempt %d), retrying", base, attempt)
		},
		Attempts: createAttempts,
		Delay:    createDelay,
		// The wall clock keeps retries independent of clocks injected for
		// timestamps.
		Clock: clock.WallClock,
	})
	if retry.IsAttemptsExceeded(err) {
		err = retry.LastError(err)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	logger.Infof("created room %s (%s)", created.Slug, created.ID)
	return toRoom(created), nil
}

// insert runs one find-free-candidate then insert step. The unique index on
// slug decides races between concurrent creators.
func (d *Directory) insert(ctx context.Context, name string, maxUsers int, base string) (*store.Room, error) {
	slug, err := d.freeSlug(ctx, base)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Annotate(err, "generating room id")
	}
	now := d.clock.Now().UTC()
	room := &store.Room{
		ID:        id.String(),
		Name:      name,
		Slug:      slug,
		MaxUsers:  maxUsers,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = d.db.WithContext(ctx).Create(room).Error
	if store.IsDuplicate(err) {
		return nil, errSlugTaken
	}
	if err != nil {
		return nil, errors.Annotate(err, "creating room")
	}
	return room, nil
}

func (d *Directory) freeSlug(ctx context.Context, base string) (string, error) {
	for n := 0; ; n++ {
		slug := candidate(base, n)
		var count int64
		err := d.db.WithContext(ctx).Model(&store.Room{}).Where("slug = ?", slug).Count(&count).Error
		if err != nil {
			return "", errors.Annotate(err, "checking slug")
		}
		if count == 0 {
			return slug, nil
		}
	}
}

// RoomBySlug resolves a room by slug. Unknown slugs satisfy errors.NotFound.
func (d *Directory) RoomBySlug(ctx context.Context, slug string) (*Room, error) {
	if d.cache != nil {
		if room, ok := d.cache.Get(ctx, slug); ok {
			return room, nil
		}
	}
	// The shared lookup outlives any single caller; each caller still
	// stops waiting when its own context ends.
	lookup := d.lookups.DoChan(slug, func() (interface{}, error) {
		return d.first(context.WithoutCancel(ctx), "slug = ?", slug)
	})
	var result singleflight.Result
	select {
	case result = <-lookup:
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}
	if result.Err != nil {
		return nil, errors.Trace(result.Err)
	}
	room := result.Val.(*Room)
	if d.cache != nil {
		d.cache.Set(ctx, room)
	}
	copied := *room
	return &copied, nil
}

// RoomByID resolves a room by id. Unknown ids satisfy errors.NotFound.
func (d *Directory) RoomByID(ctx context.Context, id string) (*Room, error) {
	return d.first(ctx, "id = ?", id)
}

// ListRooms returns every room, newest first.
func (d *Directory) ListRooms(ctx context.Context) ([]*Room, error) {
	var records []store.Room
	if err := d.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&records).Error; err != nil {
		return nil, errors.Annotate(err, "listing rooms")
	}
	rooms := make([]*Room, 0, len(records))
	for i := range records {
		rooms = append(rooms, toRoom(&records[i]))
	}
	return rooms, nil
}

func (d *Directory) first(ctx context.Context, query, arg string) (*Room, error) {
	var record store.Room
	err := d.db.WithContext(ctx).Where(query, arg).First(&record).Error
	if store.IsNotFound(err) {
		return nil, errRoomNotFound
	}
	if err != nil {
		return nil, errors.Annotate(err, "loading room")
	}
	return toRoom(&record), nil
}

func toRoom(r *store.Room) *Room {
	return &Room{
		ID:        r.ID,
		Name:      r.Name,
		Slug:      r.Slug,
		MaxUsers:  r.MaxUsers,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
