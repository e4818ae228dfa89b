package usecase

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/kyc-liveness/internal/logging"
	"github.com/example/kyc-liveness/internal/repository"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

var (
	// ErrInvalidCredentials is returned when email and password do not match.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned when signing up with a registered email.
	ErrEmailTaken = errors.New("an account with this email already exists")
)

// InputError reports a request the caller must correct.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

// UserRepository defines the account persistence used by the use case.
type UserRepository interface {
	CreateUser(ctx context.Context, user *repository.User) error
	FindByEmail(ctx context.Context, email string) (*repository.User, error)
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(subject string) (string, time.Time, error)
}

// Account is an authenticated user with a fresh session token.
type Account struct {
	User      *repository.User
	Token     string
	ExpiresAt time.Time
}

// AccountUseCase implements signup and login.
type AccountUseCase struct {
	users      UserRepository
	issuer     TokenIssuer
	logger     *zap.Logger
	bcryptCost int
}

// NewAccountUseCase constructs the account flow.
func NewAccountUseCase(users UserRepository, issuer TokenIssuer, logger *zap.Logger) *AccountUseCase {
	return &AccountUseCase{
		users:      users,
		issuer:     issuer,
		logger:     logger.Named("account_usecase"),
		bcryptCost: bcrypt.DefaultCost,
	}
}

// WithBcryptCost overrides the password hashing cost.
func (uc *AccountUseCase) WithBcryptCost(cost int) *AccountUseCase {
	uc.bcryptCost = cost
	return uc
}

// Signup registers a user and signs them in.
func (uc *AccountUseCase) Signup(ctx context.Context, email, password, fullName string) (*Account, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &InputError{Message: "A valid email address is required."}
	}
	if len(password) < MinPasswordLength {
		return nil, &InputError{Message: "Password must be at least 8 characters."}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), uc.bcryptCost)
	if err != nil {
		return nil, logging.NewOperationError("usecase.signup", "", err)
	}

	user := &repository.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	uc.logger.Info("user registered", zap.String("user_id", user.ID))
	return uc.session(user)
}

// Login verifies credentials and issues a session token.
func (uc *AccountUseCase) Login(ctx context.Context, email, password string) (*Account, error) {
	user, err := uc.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		uc.logger.Info("login rejected", zap.String("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}
	return uc.session(user)
}

func (uc *AccountUseCase) session(user *repository.User) (*Account, error) {
	token, expires, err := uc.issuer.Issue(user.ID)
	if err != nil {
		return nil, logging.NewOperationError("usecase.issue_token", user.ID, err)
	}
	return &Account{User: user, Token: token, ExpiresAt: expires}, nil
}
