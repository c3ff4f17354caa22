package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/logger"
	"github.com/nkiryanov/shopguard/internal/service/signature"
)

const (
	defaultRefreshPath = "/api/auth/refresh"
	defaultLogoutPath  = "/api/auth/logout"
	defaultLoginPath   = "/api/auth/login"
	defaultTimeout     = 10 * time.Second

	signatureHeader = "X-Signature"
)

type Config struct {
	// Server address, like http://localhost:8080
	// Required
	BaseURL string

	// If not set client with default timeout is used
	HTTPClient *http.Client

	// Paths of session endpoints. Failures on them end the session without refresh
	// If not set than default is used
	RefreshPath string
	LogoutPath  string
	LoginPath   string

	// Shared secret for PostSigned. Optional
	SignatureSecret string

	// Called once local session is dropped: refresh failed or logout requested
	OnSignOut func()

	Logger logger.Logger
}

type tokenResult struct {
	access string
	err    error
}

// HTTP client keeping the session alive
//
// Request answered with 401 or 403 triggers token refresh and is replayed once with the new access token.
// Concurrent failures share one refresh call: the first one refreshes, the rest wait in FIFO queue.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	refreshPath string
	logoutPath  string
	loginPath   string
	signer      *signature.Signer
	onSignOut   func()
	logger      logger.Logger

	mu           sync.Mutex
	access       string
	refresh      string
	isRefreshing bool
	waiters      []chan tokenResult
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: base url must be set")
	}

	setDefault := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefault(&cfg.RefreshPath, defaultRefreshPath)
	setDefault(&cfg.LogoutPath, defaultLogoutPath)
	setDefault(&cfg.LoginPath, defaultLoginPath)

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  cfg.HTTPClient,
		refreshPath: cfg.RefreshPath,
		logoutPath:  cfg.LogoutPath,
		loginPath:   cfg.LoginPath,
		onSignOut:   cfg.OnSignOut,
		logger:      cfg.Logger,
	}

	if cfg.SignatureSecret != "" {
		signer, err := signature.NewSigner(cfg.SignatureSecret)
		if err != nil {
			return nil, err
		}
		c.signer = signer
	}

	return c, nil
}

func (c *Client) SetTokens(access string, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access, c.refresh = access, refresh
}

func (c *Client) Tokens() (access string, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access, c.refresh
}

// Send request with current access token
// Request body has to be replayable (GetBody set) to be retried after refresh,
// requests built by http.NewRequest from bytes or strings readers are
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	used := c.currentAccess()

	resp, err := c.send(req, used)
	if err != nil || !isAuthFailure(resp.StatusCode) {
		return resp, err
	}

	if c.isSessionEndpoint(req) {
		c.logger.Warn("Session endpoint rejected", "path", req.URL.Path, "status", resp.StatusCode)
		c.signOut()
		return resp, nil
	}

	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		c.logger.Warn("Request can't be replayed after refresh", "path", req.URL.Path)
		return resp, nil
	}
	drain(resp)

	access, err := c.freshAccess(req.Context(), used)
	if err != nil {
		return nil, err
	}

	// Retried once: whatever the replay gets is returned as is
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("can't replay request body. Err: %w", err)
		}
		retry.Body = body
	}

	return c.send(retry, access)
}

// Access token valid after the one used has failed
// Only one refresh call is in flight, other callers wait for its result
func (c *Client) freshAccess(ctx context.Context, used string) (string, error) {
	c.mu.Lock()

	// Somebody refreshed while our request was in flight
	if c.access != "" && c.access != used {
		access := c.access
		c.mu.Unlock()
		return access, nil
	}

	if c.refresh == "" && !c.isRefreshing {
		c.mu.Unlock()
		return "", apperrors.ErrSessionEnded
	}

	if c.isRefreshing {
		waiter := make(chan tokenResult, 1)
		c.waiters = append(c.waiters, waiter)
		c.mu.Unlock()

		select {
		case res := <-waiter:
			return res.access, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	c.isRefreshing = true
	refresh := c.refresh
	c.mu.Unlock()

	access, err := c.runRefresh(refresh)
	return access, err
}

func (c *Client) runRefresh(refresh string) (access string, err error) {
	defer func() {
		c.mu.Lock()
		waiters := c.waiters
		c.waiters = nil
		c.isRefreshing = false
		c.mu.Unlock()

		for _, w := range waiters {
			w <- tokenResult{access: access, err: err}
		}
	}()

	// Not bound to any caller context: waiters depend on the result
	timeout := defaultTimeout
	if c.httpClient.Timeout > 0 {
		timeout = c.httpClient.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pair, err := c.requestRefresh(ctx, refresh)
	if err != nil {
		c.logger.Warn("Token refresh failed, signing out", "error", err)
		c.signOut()
		return "", fmt.Errorf("%w: %w", apperrors.ErrSessionEnded, err)
	}

	c.mu.Lock()
	c.access = pair.AccessToken
	if pair.RefreshToken != "" {
		c.refresh = pair.RefreshToken
	}
	c.mu.Unlock()

	c.logger.Debug("Tokens refreshed")
	return pair.AccessToken, nil
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (c *Client) requestRefresh(ctx context.Context, refresh string) (tokenPair, error) {
	var pair tokenPair

	resp, err := c.postJSON(ctx, c.refreshPath, map[string]string{"refresh_token": refresh}, "")
	if err != nil {
		return pair, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return pair, fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return pair, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if pair.AccessToken == "" {
		return pair, errors.New("refresh response has no access token")
	}
	return pair, nil
}

// Login with username and password and keep the session
func (c *Client) Login(ctx context.Context, username string, password string) error {
	resp, err := c.postJSON(ctx, c.loginPath, map[string]string{"login": username, "password": password}, "")
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login rejected with status %d", resp.StatusCode)
	}

	var pair tokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	c.SetTokens(pair.AccessToken, pair.RefreshToken)
	return nil
}

// Revoke session on server and drop it locally whatever server says
func (c *Client) Logout(ctx context.Context) error {
	access, refresh := c.Tokens()
	defer c.signOut()

	resp, err := c.postJSON(ctx, c.logoutPath, map[string]string{"refresh_token": refresh}, access)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logout rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Post JSON object signed with shared secret and current timestamp
// Never retried: a replayed signature is rejected by server anyway
func (c *Client) PostSigned(ctx context.Context, path string, fields map[string]any) (*http.Response, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("client: %w", apperrors.ErrMissingSecret)
	}

	sig, timestamp := c.signer.Sign(fields)

	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body[signature.TimestampField] = timestamp

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, sig)

	return c.httpClient.Do(req)
}

// Build request to the server path with JSON body
func (c *Client) NewRequest(ctx context.Context, method string, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, access string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return c.send(req, access)
}

func (c *Client) send(req *http.Request, access string) (*http.Response, error) {
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func (c *Client) currentAccess() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access
}

func (c *Client) isSessionEndpoint(req *http.Request) bool {
	return req.URL.Path == c.refreshPath || req.URL.Path == c.logoutPath
}

func (c *Client) signOut() {
	c.mu.Lock()
	c.access, c.refresh = "", ""
	c.mu.Unlock()

	if c.onSignOut != nil {
		c.onSignOut()
	}
}

func isAuthFailure(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// Read body to the end so connection can be reused
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
