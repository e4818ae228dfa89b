package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/kyc-liveness/internal/logging"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique column already holds the value.
	ErrDuplicate = errors.New("record already exists")
)

// User is an account of the verification backend.
type User struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Email        string    `gorm:"column:email;uniqueIndex;size:255"`
	FullName     string    `gorm:"column:full_name;size:255"`
	PasswordHash string    `gorm:"column:password_hash;size:255"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// UserRepository persists accounts.
type UserRepository struct {
	retrier
	db *gorm.DB
}

// NewUserRepository creates a new repository instance.
func NewUserRepository(db *gorm.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		retrier: newRetrier(logger.Named("user_repository")),
		db:      db,
	}
}

// AutoMigrate ensures the schema is available.
func (r *UserRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&User{})
}

// CreateUser inserts a user. Emails are compared case-insensitively.
func (r *UserRepository) CreateUser(ctx context.Context, user *User) error {
	user.Email = normalizeEmail(user.Email)
	if _, err := r.FindByEmail(ctx, user.Email); err == nil {
		return logging.NewOperationError("repository.create_user", user.ID, ErrDuplicate)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	err := r.executeWithRetry(ctx, "repository.create_user", user.ID, func() error {
		return r.db.WithContext(ctx).Create(user).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return logging.NewOperationError("repository.create_user", user.ID, ErrDuplicate)
	}
	return err
}

// FindByEmail looks up a user by email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := r.executeWithRetry(ctx, "repository.find_user", "", func() error {
		return r.db.WithContext(ctx).First(&user, "email = ?", normalizeEmail(email)).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, logging.NewOperationError("repository.find_user", "", ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
