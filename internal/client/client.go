package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrTransport wraps network-level failures (connection refused, reset, DNS)
	ErrTransport = errors.New("transport failure")
	// ErrMalformedResponse is returned when a 2xx body cannot be used
	ErrMalformedResponse = errors.New("malformed response")
	// ErrMissingToken is returned when a 2xx token response has no token field
	ErrMissingToken = fmt.Errorf("%w: token not found in response from backend", ErrMalformedResponse)
)

// Client represents an HTTP client for the embedding backend API
type Client struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
}

// New creates a new API client. A zero timeout means requests never time out on their own.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		validate: validator.New(),
	}
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// BaseURL returns the API base the client was created with
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Status     string
	Detail     string // value of the "detail" field, when the body carried one
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("request failed (%d)", e.StatusCode)
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Message        string `json:"message"`
	UserType       string `json:"user_type"`
	UserIdentifier string `json:"user_identifier"`
}

// AuthError is returned by Login. The session must not be touched when it occurs.
type AuthError struct {
	StatusCode int // zero for transport and validation failures
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Login checks the username and password with the backend
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	reqBody := LoginRequest{
		Username: username,
		Password: password,
	}

	if err := c.validate.Struct(reqBody); err != nil {
		return nil, &AuthError{Message: "Username and password are required", Err: err}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{
			Message: "An error occurred during login. Is the backend running?",
			Err:     fmt.Errorf("%w: %v", ErrTransport, err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := readStatusError(resp)
		message := statusErr.Detail
		if message == "" {
			message = fmt.Sprintf("Login failed: %s", http.StatusText(resp.StatusCode))
		}
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: message, Err: statusErr}
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return nil, &AuthError{
			StatusCode: resp.StatusCode,
			Message:    "Login response could not be read",
			Err:        fmt.Errorf("%w: %v", ErrMalformedResponse, err),
		}
	}

	return &loginResp, nil
}

// GuestTokenResponse represents a guest token response
type GuestTokenResponse struct {
	Token string `json:"token"`
}

// GuestTokenRLS requests a row-level-security guest token scoped to manufacturer
func (c *Client) GuestTokenRLS(ctx context.Context, manufacturer string) (string, error) {
	query := url.Values{"manufacturer": {manufacturer}}
	return c.guestToken(ctx, "/get-guest-token-rls", query)
}

// GuestTokenFull requests an unscoped guest token for userID
func (c *Client) GuestTokenFull(ctx context.Context, userID string) (string, error) {
	query := url.Values{"user_id": {userID}}
	return c.guestToken(ctx, "/get-guest-token-full", query)
}

// GuestTokenURL returns the request URL used for a guest token endpoint (for logging)
func (c *Client) GuestTokenURL(path string, query url.Values) string {
	return fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())
}

func (c *Client) guestToken(ctx context.Context, path string, query url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.GuestTokenURL(path, query), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", readStatusError(resp)
	}

	var tokenResp GuestTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if tokenResp.Token == "" {
		return "", ErrMissingToken
	}

	return tokenResp.Token, nil
}

// readStatusError builds a StatusError, taking the message from a JSON "detail" string when present
func readStatusError(resp *http.Response) *StatusError {
	statusErr := &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return statusErr
	}

	var errorData struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &errorData); err != nil || len(errorData.Detail) == 0 {
		return statusErr
	}

	var detail string
	if err := json.Unmarshal(errorData.Detail, &detail); err == nil {
		statusErr.Detail = detail
	} else {
		// FastAPI validation errors carry a list; keep it readable
		statusErr.Detail = string(errorData.Detail)
	}

	return statusErr
}
