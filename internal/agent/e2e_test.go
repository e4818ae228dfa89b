package agent

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/kyc-liveness/internal/apiclient"
	"github.com/example/kyc-liveness/internal/auth"
	"github.com/example/kyc-liveness/internal/capture"
	"github.com/example/kyc-liveness/internal/handlers"
	"github.com/example/kyc-liveness/internal/imageprocessor"
	"github.com/example/kyc-liveness/internal/liveness"
	"github.com/example/kyc-liveness/internal/repository"
	"github.com/example/kyc-liveness/internal/sequencer"
	"github.com/example/kyc-liveness/internal/session"
	"github.com/example/kyc-liveness/internal/usecase"
)

// cueDetector replays a liveness performance: blink, look at the camera,
// blink twice.
type cueDetector struct {
	mu   sync.Mutex
	cues []liveness.Observation
}

func (d *cueDetector) Load(ctx context.Context) error { return nil }

func (d *cueDetector) Observe(ctx context.Context, frame capture.Frame) liveness.Observation {
	d.mu.Lock()
	defer d.mu.Unlock()
	obs := liveness.Observation{FaceDetected: true}
	if len(d.cues) > 0 {
		obs = d.cues[0]
		d.cues = d.cues[1:]
	}
	obs.At = time.Now()
	return obs
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	ctx := context.Background()

	db, err := repository.Open(ctx, "sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared", logger)
	require.NoError(t, err)
	users := repository.NewUserRepository(db, logger)
	logs := repository.NewVerificationRepository(db, logger)
	require.NoError(t, repository.Migrate(ctx, users, logs))

	issuer, err := auth.NewIssuer("e2e-secret", "kyc", time.Hour)
	require.NoError(t, err)

	verifications := usecase.NewVerificationUseCase(logs, usecase.NewMemoryCache(), imageprocessor.DecodeChecker{}, logger)
	accounts := usecase.NewAccountUseCase(users, issuer, logger).WithBcryptCost(bcrypt.MinCost)

	router := gin.New()
	handlers.RegisterRoutes(router, verifications, accounts, auth.JWTMiddleware(issuer), handlers.Options{Logger: logger})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func testFrame(t *testing.T) capture.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return capture.Frame{Data: buf.Bytes(), Width: 160, Height: 120}
}

func TestEndToEndVerification(t *testing.T) {
	backend := newBackend(t)
	logger := zap.NewNop()

	store := session.NewStore(session.NewMemoryBackend(), "e2e", logger)
	client := apiclient.NewClient(backend.URL, store, 5*time.Second, logger)
	app := New(client, store, logger)

	blink := liveness.Observation{FaceDetected: true, BlinkDetected: true}
	look := liveness.Observation{FaceDetected: true, Centered: true}
	detector := &cueDetector{cues: []liveness.Observation{blink, look, blink, blink}}

	policy := sequencer.DefaultPolicy()
	policy.PollInterval = 5 * time.Millisecond
	policy.BlinkDebounce = 0
	policy.NavigationDelay = 10 * time.Millisecond
	policy.SubmitTimeout = 5 * time.Second

	driver := &capture.SyntheticDriver{Frames: []capture.Frame{testFrame(t)}}
	wizard := sequencer.New(sequencer.Dependencies{
		Device:    capture.NewAdapter(driver, logger),
		Detector:  detector,
		Submitter: client,
		Navigator: app,
		Notifier:  app,
		Observer:  app,
	}, policy, logger)
	t.Cleanup(wizard.Close)
	app.Attach(wizard)

	ctx := context.Background()
	_, err := app.Signup(ctx, apiclient.SignupRequest{Email: "ada@example.com", Password: "correct horse", FullName: "Ada"})
	require.NoError(t, err)
	require.Equal(t, sequencer.RouteDashboard, app.Route())

	_, err = app.StartVerification(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return wizard.LastResult() != nil && app.Route() == sequencer.RouteDashboard
	}, 5*time.Second, 10*time.Millisecond)

	res := wizard.LastResult()
	require.Equal(t, sequencer.OutcomeSuccess, res.Outcome, res.Message)
	require.NotEmpty(t, res.VerificationID)
	require.Equal(t, 1, driver.Stops())

	fetched, err := client.Result(ctx, res.VerificationID)
	require.NoError(t, err)
	require.True(t, fetched.Success)

	// The same frame again is a replay and is rejected by the backend.
	detector.mu.Lock()
	detector.cues = []liveness.Observation{blink, look, blink, blink}
	detector.mu.Unlock()
	require.Eventually(t, func() bool { return wizard.State().Step == sequencer.Instructions }, 5*time.Second, 5*time.Millisecond)
	first := wizard.LastResult()

	_, err = app.StartVerification(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return wizard.LastResult() != first }, 5*time.Second, 10*time.Millisecond)
	replay := wizard.LastResult()
	require.Equal(t, sequencer.OutcomeFailure, replay.Outcome)
	require.Equal(t, sequencer.CauseRejected, replay.Cause)
	require.Equal(t, usecase.DuplicateMessage, replay.Message)

	require.NoError(t, app.Logout(ctx))
	_, ok := store.Token(ctx)
	require.False(t, ok)
}

func TestEndToEndLoginRejected(t *testing.T) {
	backend := newBackend(t)
	logger := zap.NewNop()

	store := session.NewStore(session.NewMemoryBackend(), "e2e", logger)
	client := apiclient.NewClient(backend.URL, store, 5*time.Second, logger)
	app := New(client, store, logger)

	_, err := app.Login(context.Background(), "ghost@example.com", "whatever1")
	var vErr *apiclient.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, usecase.ErrInvalidCredentials.Error(), vErr.Message)
	require.Equal(t, sequencer.RouteLogin, app.Route())
}
