// Package api is the typed HTTP client for the Misery contract backend. All
// responses travel in the backend's ApiResponse envelope {success, data,
// message}; a 2xx status with success=false is still an error.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/NDmajor/misery-proto-open/internal/model"
)

// TokenSource supplies a valid access token for authenticated calls. The
// session manager implements this.
type TokenSource interface {
	EnsureValid(ctx context.Context) (string, error)
}

// Error is a displayable backend failure. Message comes from the server's
// envelope when present, so views can render it as-is.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend error (status %d)", e.StatusCode)
}

// TokenPair is the login response payload.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// UploadRequest is the metadata part of a contract upload.
type UploadRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	ParticipantIDs []string `json:"participantIds"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// Client talks to the contract backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying transport. Timeouts belong to it.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithTokenSource makes the client attach a bearer token to authenticated
// calls, obtained from ts per request.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(c *Client) { c.tokens = ts }
}

// NewClient creates a backend client for baseURL (no trailing slash needed).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    trimTrailingSlash(baseURL),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// Login authenticates with email and password and returns the token pair.
func (c *Client) Login(ctx context.Context, email, password string) (TokenPair, error) {
	body := map[string]string{"email": email, "password": password}
	var pair TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &pair, false); err != nil {
		return TokenPair{}, fmt.Errorf("login: %w", err)
	}
	return pair, nil
}

// RefreshSession exchanges the refresh token for a new access token.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (string, error) {
	body := map[string]string{"refreshToken": refreshToken}
	var data struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", body, &data, false); err != nil {
		return "", fmt.Errorf("refresh session: %w", err)
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("refresh session: empty access token in response")
	}
	return data.AccessToken, nil
}

// Logout invalidates the server-side session. Best effort; local credential
// clearing is the session manager's job.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", struct{}{}, nil, true); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// CurrentUser returns the authenticated user with a normalized identity.
func (c *Client) CurrentUser(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &u, true); err != nil {
		return nil, fmt.Errorf("fetch current user: %w", err)
	}
	return &u, nil
}

// MyContracts lists the caller's contracts, optionally filtered by search term.
func (c *Client) MyContracts(ctx context.Context, searchTerm string) ([]model.ContractSummary, error) {
	path := "/api/contracts/my"
	if searchTerm != "" {
		path += "?search=" + url.QueryEscape(searchTerm)
	}
	var contracts []model.ContractSummary
	if err := c.do(ctx, http.MethodGet, path, nil, &contracts, true); err != nil {
		return nil, fmt.Errorf("fetch contracts: %w", err)
	}
	return contracts, nil
}

// GetContract fetches one contract's full detail snapshot.
func (c *Client) GetContract(ctx context.Context, id int64) (*model.Contract, error) {
	var contract model.Contract
	path := "/api/contracts/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &contract, true); err != nil {
		return nil, fmt.Errorf("fetch contract %d: %w", id, err)
	}
	return &contract, nil
}

// SignContract appends the caller's signature to the contract's current
// version. Server-side rejections carry a displayable message.
func (c *Client) SignContract(ctx context.Context, id int64) error {
	path := "/api/contracts/" + strconv.FormatInt(id, 10) + "/sign"
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, nil, true); err != nil {
		return fmt.Errorf("sign contract %d: %w", id, err)
	}
	return nil
}

// VerifyIntegrity runs the two-stage integrity verification for one version.
func (c *Client) VerifyIntegrity(ctx context.Context, id int64, versionNumber int) (*model.VerificationResult, error) {
	path := "/api/contracts/" + strconv.FormatInt(id, 10) +
		"/versions/" + strconv.Itoa(versionNumber) + "/verify"
	var result model.VerificationResult
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &result, true); err != nil {
		return nil, fmt.Errorf("verify contract %d v%d: %w", id, versionNumber, err)
	}
	return &result, nil
}

// UploadContract creates a new contract from a PDF. meta goes into the "data"
// multipart part as JSON, the file contents into the "file" part.
func (c *Client) UploadContract(ctx context.Context, meta UploadRequest, filename string, file io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("upload contract: encode metadata: %w", err)
	}
	if err := w.WriteField("data", string(metaJSON)); err != nil {
		return "", fmt.Errorf("upload contract: %w", err)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("upload contract: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("upload contract: read file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload contract: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/contracts/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("upload contract: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if err := c.authorize(ctx, req); err != nil {
		return "", err
	}

	var message string
	if err := c.send(req, &message); err != nil {
		return "", fmt.Errorf("upload contract: %w", err)
	}
	return message, nil
}

// VersionFileURL returns a presigned download URL for a version's file.
func (c *Client) VersionFileURL(ctx context.Context, versionID int64) (string, error) {
	path := "/api/contracts/versions/" + strconv.FormatInt(versionID, 10) + "/file-url"
	var presigned string
	if err := c.do(ctx, http.MethodGet, path, nil, &presigned, true); err != nil {
		return "", fmt.Errorf("fetch file url for version %d: %w", versionID, err)
	}
	return presigned, nil
}

// DownloadVersionFile fetches a version's raw file bytes (no envelope).
func (c *Client) DownloadVersionFile(ctx context.Context, filePath string) ([]byte, error) {
	reqURL := c.baseURL + "/api/contracts/files/" + url.PathEscape(filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "file download failed"}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download file: read body: %w", err)
	}
	return data, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, authed bool) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if err := c.authorize(ctx, req); err != nil {
			return err
		}
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("parse response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		return &Error{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("parse response data: %w", err)
		}
	}
	return nil
}
