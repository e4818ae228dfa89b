package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/kyc-liveness/internal/repository"
)

type stubUsers struct {
	byEmail map[string]*repository.User
}

func (s *stubUsers) CreateUser(ctx context.Context, user *repository.User) error {
	if _, ok := s.byEmail[user.Email]; ok {
		return repository.ErrDuplicate
	}
	s.byEmail[user.Email] = user
	return nil
}

func (s *stubUsers) FindByEmail(ctx context.Context, email string) (*repository.User, error) {
	if user, ok := s.byEmail[email]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

type stubIssuer struct{}

func (stubIssuer) Issue(subject string) (string, time.Time, error) {
	return "token-" + subject, time.Now().Add(time.Hour), nil
}

func newTestAccounts() (*AccountUseCase, *stubUsers) {
	users := &stubUsers{byEmail: map[string]*repository.User{}}
	return NewAccountUseCase(users, stubIssuer{}, zap.NewNop()).WithBcryptCost(bcrypt.MinCost), users
}

func TestSignupThenLogin(t *testing.T) {
	uc, users := newTestAccounts()

	account, err := uc.Signup(context.Background(), "ada@example.com", "correct horse", "Ada Lovelace")
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if account.Token != "token-"+account.User.ID {
		t.Fatalf("unexpected token %q", account.Token)
	}
	if stored := users.byEmail["ada@example.com"]; stored.PasswordHash == "correct horse" {
		t.Fatal("password stored in clear text")
	}

	logged, err := uc.Login(context.Background(), "ada@example.com", "correct horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if logged.User.ID != account.User.ID {
		t.Fatalf("expected same user, got %s", logged.User.ID)
	}
}

func TestSignupValidation(t *testing.T) {
	uc, _ := newTestAccounts()

	cases := map[string][2]string{
		"bad email":      {"not-an-email", "correct horse"},
		"short password": {"ada@example.com", "short"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := uc.Signup(context.Background(), in[0], in[1], "")
			var inputErr *InputError
			if !errors.As(err, &inputErr) {
				t.Fatalf("expected InputError, got %v", err)
			}
		})
	}

	if _, err := uc.Signup(context.Background(), "ada@example.com", "correct horse", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := uc.Signup(context.Background(), "ada@example.com", "another one", ""); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	uc, _ := newTestAccounts()
	if _, err := uc.Signup(context.Background(), "ada@example.com", "correct horse", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := uc.Login(context.Background(), "ada@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := uc.Login(context.Background(), "bob@example.com", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}
