// Package agent is the KYC client: it owns the current route, the signed-in
// session and the liveness wizard, and reports notifications to the user.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/kyc-liveness/internal/apiclient"
	"github.com/example/kyc-liveness/internal/sequencer"
	"github.com/example/kyc-liveness/internal/session"
)

const maxNotifications = 20

// ErrUnauthenticated is returned by protected operations without a session.
var ErrUnauthenticated = errors.New("sign in to continue")

// Accounts is the account side of the API client.
type Accounts interface {
	Signup(ctx context.Context, req apiclient.SignupRequest) (*session.User, error)
	Login(ctx context.Context, email, password string) (*session.User, error)
	Logout(ctx context.Context) error
}

// Sessions exposes the persisted credentials.
type Sessions interface {
	Credentials(ctx context.Context) (*session.Credentials, bool)
}

// Wizard is the liveness sequencer.
type Wizard interface {
	Start() (sequencer.State, error)
	Reset()
	State() sequencer.State
	LastResult() *sequencer.Result
}

// Dashboard is what the dashboard route shows.
type Dashboard struct {
	User       session.User      `json:"user"`
	LastResult *sequencer.Result `json:"last_result,omitempty"`
}

// Snapshot is the full client view.
type Snapshot struct {
	Route         string                   `json:"route"`
	Authenticated bool                     `json:"authenticated"`
	User          *session.User            `json:"user,omitempty"`
	Wizard        sequencer.State          `json:"wizard"`
	Notifications []sequencer.Notification `json:"notifications"`
}

// App implements sequencer.Navigator, sequencer.Notifier and
// sequencer.Observer.
type App struct {
	accounts Accounts
	sessions Sessions
	logger   *zap.Logger

	mu     sync.Mutex
	wizard Wizard
	route  string
	notes  []sequencer.Notification
}

// New constructs the client on the login route.
func New(accounts Accounts, sessions Sessions, logger *zap.Logger) *App {
	return &App{
		accounts: accounts,
		sessions: sessions,
		logger:   logger.Named("agent"),
		route:    sequencer.RouteLogin,
	}
}

// Attach binds the wizard. The wizard is built after the App because the App
// is its navigator.
func (a *App) Attach(w Wizard) {
	a.mu.Lock()
	a.wizard = w
	a.mu.Unlock()
}

func (a *App) wiz() Wizard {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wizard
}

// Navigate implements sequencer.Navigator.
func (a *App) Navigate(route string) {
	a.mu.Lock()
	prev := a.route
	a.route = route
	a.mu.Unlock()
	if prev != route {
		a.logger.Info("navigate", zap.String("from", prev), zap.String("to", route))
	}
}

// leave moves to route on behalf of a user action. Leaving the verification
// view stops the active attempt and releases the camera before it returns.
// The sequencer's own callbacks go through Navigate, which never resets.
func (a *App) leave(route string) {
	a.mu.Lock()
	prev, w := a.route, a.wizard
	a.mu.Unlock()
	if prev == sequencer.RouteKYC && route != sequencer.RouteKYC && w != nil {
		w.Reset()
	}
	a.Navigate(route)
}

// Notify implements sequencer.Notifier.
func (a *App) Notify(n sequencer.Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	a.mu.Lock()
	a.notes = append(a.notes, n)
	if len(a.notes) > maxNotifications {
		a.notes = a.notes[len(a.notes)-maxNotifications:]
	}
	a.mu.Unlock()
}

// StepChanged implements sequencer.Observer.
func (a *App) StepChanged(st sequencer.State) {
	a.logger.Debug("wizard step", zap.String("session_id", st.SessionID), zap.Stringer("step", st.Step))
}

// Route returns the current client route.
func (a *App) Route() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.route
}

// Notifications returns the recent notifications, oldest first.
func (a *App) Notifications() []sequencer.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sequencer.Notification(nil), a.notes...)
}

// Snapshot returns the whole client view.
func (a *App) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{Route: a.Route(), Notifications: a.Notifications()}
	if creds, ok := a.sessions.Credentials(ctx); ok {
		snap.Authenticated = true
		user := creds.User
		snap.User = &user
	}
	if w := a.wiz(); w != nil {
		snap.Wizard = w.State()
	}
	return snap
}

// Signup creates an account and opens the dashboard.
func (a *App) Signup(ctx context.Context, req apiclient.SignupRequest) (*session.User, error) {
	user, err := a.accounts.Signup(ctx, req)
	if err != nil {
		a.fail(err)
		return nil, err
	}
	a.Notify(sequencer.Notification{Level: sequencer.LevelSuccess, Message: "Account created."})
	a.leave(sequencer.RouteDashboard)
	return user, nil
}

// Login signs in and opens the dashboard.
func (a *App) Login(ctx context.Context, email, password string) (*session.User, error) {
	user, err := a.accounts.Login(ctx, email, password)
	if err != nil {
		a.fail(err)
		return nil, err
	}
	a.Notify(sequencer.Notification{Level: sequencer.LevelSuccess, Message: "Signed in."})
	a.leave(sequencer.RouteDashboard)
	return user, nil
}

// Logout stops any verification, drops the session and returns to login.
func (a *App) Logout(ctx context.Context) error {
	if w := a.wiz(); w != nil {
		w.Reset()
	}
	err := a.accounts.Logout(ctx)
	a.Navigate(sequencer.RouteLogin)
	return err
}

// Dashboard returns the signed-in user and the last verification outcome.
func (a *App) Dashboard(ctx context.Context) (*Dashboard, error) {
	creds, err := a.requireSession(ctx)
	if err != nil {
		return nil, err
	}
	a.leave(sequencer.RouteDashboard)
	view := &Dashboard{User: creds.User}
	if w := a.wiz(); w != nil {
		view.LastResult = w.LastResult()
	}
	return view, nil
}

// OpenVerification moves to the KYC route and returns the wizard state.
func (a *App) OpenVerification(ctx context.Context) (sequencer.State, error) {
	if _, err := a.requireSession(ctx); err != nil {
		return sequencer.State{}, err
	}
	a.Navigate(sequencer.RouteKYC)
	return a.wiz().State(), nil
}

// StartVerification begins a liveness attempt.
func (a *App) StartVerification(ctx context.Context) (sequencer.State, error) {
	if _, err := a.requireSession(ctx); err != nil {
		return sequencer.State{}, err
	}
	a.Navigate(sequencer.RouteKYC)
	return a.wiz().Start()
}

// ResetVerification abandons the current attempt.
func (a *App) ResetVerification() sequencer.State {
	w := a.wiz()
	w.Reset()
	return w.State()
}

func (a *App) requireSession(ctx context.Context) (*session.Credentials, error) {
	creds, ok := a.sessions.Credentials(ctx)
	if !ok {
		a.leave(sequencer.RouteLogin)
		return nil, ErrUnauthenticated
	}
	return creds, nil
}

func (a *App) fail(err error) {
	a.Notify(sequencer.Notification{Level: sequencer.LevelError, Message: UserMessage(err)})
	if errors.Is(err, apiclient.ErrUnauthorized) {
		a.leave(sequencer.RouteLogin)
	}
}

// UserMessage renders an API error for display.
func UserMessage(err error) string {
	var vErr *apiclient.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &vErr):
		return vErr.Message
	case errors.Is(err, apiclient.ErrUnauthorized):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrUnauthenticated):
		return ErrUnauthenticated.Error()
	default:
		return apiclient.GenericFailureMessage
	}
}
