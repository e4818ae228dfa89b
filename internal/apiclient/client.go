// Package apiclient talks to the remote verification API: signup, login and
// evidence submission.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/example/kyc-liveness/internal/capture"
	"github.com/example/kyc-liveness/internal/logging"
	"github.com/example/kyc-liveness/internal/session"
)

const (
	signupPath = "/auth/signup/"
	loginPath  = "/auth/login/"
	kycPath    = "/kyc/kyc/"

	maxErrorBody = 64 << 10
)

// ErrSubmissionInFlight is returned when Submit is called while another
// submission is outstanding.
var ErrSubmissionInFlight = errors.New("a submission is already in flight")

// TokenStore is the session context used to authenticate requests.
type TokenStore interface {
	Token(ctx context.Context) (string, bool)
	Save(ctx context.Context, token string, user session.User) error
	Clear(ctx context.Context) error
}

// Result is the classified outcome of an accepted submission.
type Result struct {
	Success        bool            `json:"success"`
	Message        string          `json:"message,omitempty"`
	Payload        json.RawMessage `json:"data,omitempty"`
	VerificationID string          `json:"verificationId,omitempty"`
	StatusCode     int             `json:"-"`
}

// SignupRequest is the body of POST /auth/signup/.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  session.User `json:"user"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// Client is the HTTP client for the verification API.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	store         TokenStore
	logger        *zap.Logger
	submitTimeout time.Duration
	inFlight      atomic.Bool
}

// NewClient constructs a client for the API at baseURL.
func NewClient(baseURL string, store TokenStore, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
		store:         store,
		logger:        logger.Named("api_client"),
		submitTimeout: timeout,
	}
}

// WithSubmitTimeout overrides the deadline applied to each submission.
func (c *Client) WithSubmitTimeout(d time.Duration) *Client {
	c.submitTimeout = d
	return c
}

// Signup creates an account and stores the returned session.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*session.User, error) {
	return c.authenticate(ctx, "apiclient.signup", signupPath, req)
}

// Login signs in and stores the returned session.
func (c *Client) Login(ctx context.Context, email, password string) (*session.User, error) {
	body := map[string]string{"email": email, "password": password}
	return c.authenticate(ctx, "apiclient.login", loginPath, body)
}

// Logout drops the stored session.
func (c *Client) Logout(ctx context.Context) error {
	return c.store.Clear(ctx)
}

func (c *Client) authenticate(ctx context.Context, operation, path string, body interface{}) (*session.User, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, logging.NewOperationError(operation, "", err)
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(ctx, resp); err != nil {
		return nil, logging.NewOperationError(operation, "", err)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, logging.NewOperationError(operation, "", &NetworkError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)})
	}
	if auth.Token == "" {
		return nil, logging.NewOperationError(operation, "", &NetworkError{StatusCode: resp.StatusCode, Err: errors.New("response carried no token")})
	}
	if err := c.store.Save(ctx, auth.Token, auth.User); err != nil {
		return nil, logging.NewOperationError(operation, "", err)
	}
	return &auth.User, nil
}

// Submit posts liveness evidence. A nil error with Result.Success false is a
// verification rejected by the backend. Errors are *ValidationError,
// ErrUnauthorized or *NetworkError.
func (c *Client) Submit(ctx context.Context, ev *capture.Evidence) (*Result, error) {
	if ev == nil || len(ev.Data) == 0 {
		return nil, &ValidationError{Message: "no evidence captured"}
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInFlight
	}
	defer c.inFlight.Store(false)

	if c.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.submitTimeout)
		defer cancel()
	}

	body, contentType, err := encodeEvidence(ev)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := c.do(ctx, http.MethodPost, kycPath, contentType, body)
	if err != nil {
		c.logger.Warn("submission failed without response", zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(ctx, resp); err != nil {
		c.logger.Warn("submission rejected", zap.Int("status", resp.StatusCode), zap.Error(err))
		return nil, err
	}

	result, err := decodeResult(resp)
	if err != nil {
		return nil, err
	}
	c.logger.Info("submission completed",
		zap.String("kind", ev.Kind.String()),
		zap.Int("bytes", ev.Size()),
		zap.Bool("success", result.Success),
		zap.String("verification_id", result.VerificationID),
		zap.Duration("latency", time.Since(started)))
	return result, nil
}

// Result fetches a past verification by id.
func (c *Client) Result(ctx context.Context, verificationID string) (*Result, error) {
	resp, err := c.do(ctx, http.MethodGet, kycPath+verificationID+"/", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.classifyStatus(ctx, resp); err != nil {
		return nil, err
	}
	return decodeResult(resp)
}

func encodeEvidence(ev *capture.Evidence) (io.Reader, string, error) {
	switch ev.Kind {
	case capture.EvidenceImage:
		payload, err := json.Marshal(map[string]string{"image": ev.DataURI()})
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(payload), "application/json", nil
	case capture.EvidenceVideo:
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="video"; filename="liveness-video"`)
		header.Set("Content-Type", ev.MIMEType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(ev.Data); err != nil {
			return nil, "", err
		}
		if err := writer.Close(); err != nil {
			return nil, "", err
		}
		return &buf, writer.FormDataContentType(), nil
	default:
		return nil, "", fmt.Errorf("unsupported evidence kind %d", ev.Kind)
	}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if path != signupPath && path != loginPath {
		if token, ok := c.store.Token(ctx); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return resp, nil
}

// classifyStatus maps non-2xx statuses onto the error taxonomy.
func (c *Client) classifyStatus(ctx context.Context, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := readErrorMessage(resp.Body)

	switch resp.StatusCode {
	case http.StatusBadRequest:
		if msg == "" {
			msg = "The request was invalid."
		}
		return &ValidationError{Message: msg}
	case http.StatusUnauthorized:
		if err := c.store.Clear(ctx); err != nil {
			c.logger.Error("failed to clear session after 401", zap.Error(err))
		}
		return ErrUnauthorized
	default:
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &NetworkError{StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	for _, m := range []string{body.Message, body.Error, body.Detail} {
		if m != "" {
			return m
		}
	}
	return ""
}

func decodeResult(resp *http.Response) (*Result, error) {
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &NetworkError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	result.StatusCode = resp.StatusCode
	if !result.Success && result.Message == "" {
		result.Message = "Verification failed"
	}
	return &result, nil
}
