package identity

import (
	"context"

	"github.com/juju/errors"
	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/store"
)

// UserRepository persists accounts.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a repository over db.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts user. A taken email returns an error satisfying
// errors.AlreadyExists.
func (r *UserRepository) Create(ctx context.Context, user *store.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if store.IsDuplicate(err) {
		return errEmailTaken
	}
	return errors.Annotate(err, "creating user")
}

// FindByEmail returns the account registered under email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*store.User, error) {
	return r.first(ctx, "email = ?", email)
}

// FindByID returns the account with the given id.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*store.User, error) {
	return r.first(ctx, "id = ?", id)
}

// EmailExists reports whether an account already uses email.
func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&store.User{}).Where("email = ?", email).Count(&count).Error
	if err != nil {
		return false, errors.Annotate(err, "checking email")
	}
	return count > 0, nil
}

func (r *UserRepository) first(ctx context.Context, query string, arg string) (*store.User, error) {
	var user store.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if store.IsNotFound(err) {
		return nil, errors.NotFoundf("user")
	}
	if err != nil {
		return nil, errors.Annotate(err, "loading user")
	}
	return &user, nil
}
