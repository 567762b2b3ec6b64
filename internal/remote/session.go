package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultBaseURL is the production OSF v2 REST API endpoint.
const DefaultBaseURL = "https://api.osf.io/v2"

// Default request timeouts: data transfers get a longer
// budget than metadata/control calls.
const (
	DefaultDataTimeout    = 30 * time.Second
	DefaultControlTimeout = 10 * time.Second
)

const tokenScopeName = "osfsync"

// TokenStore persists a bearer token per account-id so a session can be
// reauthenticated without asking for a password again. Defined here, at the
// consumer, rather than in internal/tokenfile, per the "accept interfaces,
// return structs" convention.
type TokenStore interface {
	Get(accountID string) (string, error)
	Put(accountID, token string) error
}

// Session is a stateful, authenticated OSF API client. Every
// request carries the bearer token installed by a successful Authenticate*
// call and a per-call timeout; there is no automatic retry.
type Session struct {
	baseURL        string
	httpClient     *http.Client
	store          TokenStore
	logger         *slog.Logger
	dataTimeout    time.Duration
	controlTimeout time.Duration

	accountID string
	token     string
}

// NewSession returns a Session with no token installed; call
// AuthenticateWithToken or AuthenticateWithPassword before issuing requests.
// A nil httpClient uses http.DefaultClient; a nil logger falls back to
// slog.Default.
func NewSession(baseURL string, httpClient *http.Client, store TokenStore, logger *slog.Logger, dataTimeout, controlTimeout time.Duration) *Session {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	if dataTimeout == 0 {
		dataTimeout = DefaultDataTimeout
	}

	if controlTimeout == 0 {
		controlTimeout = DefaultControlTimeout
	}

	return &Session{
		baseURL:        baseURL,
		httpClient:     httpClient,
		store:          store,
		logger:         logger,
		dataTimeout:    dataTimeout,
		controlTimeout: controlTimeout,
	}
}

// Token returns the bearer token currently installed, or "" if none.
func (s *Session) Token() string { return s.token }

// AccountID returns the account-id the session is authenticated as.
func (s *Session) AccountID() string { return s.accountID }

// AuthenticateWithToken looks up a saved token for accountID and validates
// it against GET /users/me/.
func (s *Session) AuthenticateWithToken(ctx context.Context, accountID string) error {
	token, err := s.store.Get(accountID)
	if err != nil {
		return fmt.Errorf("remote: loading saved token: %w", err)
	}

	if token == "" {
		return &AuthError{Reason: "no saved token for account " + accountID}
	}

	s.accountID = accountID
	s.token = token

	if err := s.validate(ctx); err != nil {
		s.token = ""

		return err
	}

	return nil
}

// tokenCreateRequest is the JSON:API request body for POST /tokens/.
type tokenCreateRequest struct {
	Data tokenCreateData `json:"data"`
}

type tokenCreateData struct {
	Type       string           `json:"type"`
	Attributes tokenCreateAttrs `json:"attributes"`
}

type tokenCreateAttrs struct {
	Name   string `json:"name"`
	Scopes string `json:"scopes"`
}

type tokenCreateResponse struct {
	Data struct {
		Attributes struct {
			TokenID string `json:"token_id"`
		} `json:"attributes"`
	} `json:"data"`
}

// AuthenticateWithPassword exchanges username/password (and, if the server
// demands it, a one-time password) for a bearer token via POST /tokens/
// using HTTP Basic credentials. On success the token
// is saved to the TokenStore keyed by accountID and installed as the
// session's bearer.
func (s *Session) AuthenticateWithPassword(ctx context.Context, accountID, username, password, otp string) error {
	body, err := json.Marshal(tokenCreateRequest{
		Data: tokenCreateData{
			Type:       "tokens",
			Attributes: tokenCreateAttrs{Name: tokenScopeName, Scopes: "osf.full_write"},
		},
	})
	if err != nil {
		return fmt.Errorf("remote: encoding token request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.controlTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tokens/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("remote: building token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.SetBasicAuth(username, password)

	if otp != "" {
		req.Header.Set("X-OSF-OTP", otp)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: token request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		var parsed tokenCreateResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return fmt.Errorf("remote: decoding token response: %w", err)
		}

		token := parsed.Data.Attributes.TokenID
		if token == "" {
			return &AuthError{Reason: "server returned no token_id"}
		}

		if err := s.store.Put(accountID, token); err != nil {
			return fmt.Errorf("remote: saving token: %w", err)
		}

		s.accountID = accountID
		s.token = token

		return s.validate(ctx)

	case http.StatusUnauthorized, http.StatusForbidden:
		if resp.Header.Get("X-OSF-OTP") == "required" {
			return &NeedsSecondFactor{Reason: "one-time password required"}
		}

		return &AuthError{Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody))}

	default:
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return &AuthError{Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody))}
		}

		return &RemoteError{Status: resp.StatusCode, URL: s.baseURL + "/tokens/", Body: string(respBody)}
	}
}

// validate confirms the installed token works by calling GET /users/me/.
func (s *Session) validate(ctx context.Context) error {
	resp, err := s.Do(ctx, http.MethodGet, s.baseURL+"/users/me/", nil, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return &AuthError{Reason: fmt.Sprintf("token validation failed: HTTP %d: %s", resp.StatusCode, string(body))}
	}

	return nil
}

// Do issues a single authenticated request with no retry: the
// bearer token is attached, and the call is bounded by the control timeout
// (isControl=true) or the data timeout (isControl=false). The timeout covers
// reading the body too; it is released when the caller closes the body.
func (s *Session) Do(ctx context.Context, method, url string, body io.Reader, isControl bool) (*http.Response, error) {
	timeout := s.dataTimeout
	if isControl {
		timeout = s.controlTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("remote: building request: %w", err)
	}

	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/vnd.api+json")
	}

	s.logger.Debug("remote: request", "method", method, "url", url)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("remote: %s %s: %w", method, url, err)
	}

	s.logger.Debug("remote: response", "method", method, "url", url, "status", resp.StatusCode)

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	return resp, nil
}

// TransferClient wraps base so every request carries the session's current
// bearer token. The transfer scheduler talks to waterbutler upload/download
// URLs directly rather than going through Do, but those endpoints expect the
// same Authorization header.
func (s *Session) TransferClient(base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}

	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &http.Client{
		Transport: &bearerTransport{base: transport, session: s},
		Timeout:   base.Timeout,
	}
}

// bearerTransport injects the session's bearer token into every request.
type bearerTransport struct {
	base    http.RoundTripper
	session *Session
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if tok := t.session.Token(); tok != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	return t.base.RoundTrip(req)
}

// cancelOnClose releases a request's timeout context when the response body
// is closed, so the timeout spans the full body read without a caller having
// to manage the context itself.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()

	return err
}

// DoJSON issues a request and decodes a 200/201 JSON response body into out;
// 204 succeeds with nothing decoded. A 410 becomes ProjectDeleted, and any
// other status (409 included) becomes a RemoteError.
func (s *Session) DoJSON(ctx context.Context, method, url string, body io.Reader, isControl bool, out any) error {
	resp, err := s.Do(ctx, method, url, body, isControl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("remote: reading response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if out == nil {
			return nil
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("remote: decoding response from %s: %w", url, err)
		}

		return nil

	case http.StatusNoContent:
		return nil

	case http.StatusGone:
		return &ProjectDeleted{NodeID: url}

	default:
		return &RemoteError{Status: resp.StatusCode, URL: url, Body: string(respBody)}
	}
}
