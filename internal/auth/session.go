package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/NDmajor/misery-proto-open/internal/store"
)

var (
	// ErrNotAuthenticated means there is no usable session and the user must
	// log in again. Refresh failures surface as this, never as raw transport
	// errors.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrRefreshFailed is the terminal refresh outcome recorded internally
	// (network error and rejected-by-server are equivalent here).
	ErrRefreshFailed = errors.New("session refresh failed")
)

// State is the session manager's lifecycle state.
type State int

const (
	StateNoSession State = iota
	StateValid
	StateRefreshing
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateValid:
		return "valid"
	case StateRefreshing:
		return "refreshing"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (accessToken string, err error)
}

// Manager owns the access/refresh token pair and the refresh protocol.
// Credentials live only in the injected store; concurrent refresh attempts
// collapse into a single call (single-flight), and terminal refresh failure
// cascades into exactly one logout.
type Manager struct {
	refresher Refresher
	store     store.Store
	onLogout  func()
	now       func() time.Time
	leeway    time.Duration

	mu     sync.Mutex
	state  State
	flight singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the wall clock, for tests under simulated time.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRefreshLeeway refreshes the token when less than d of validity remains,
// instead of waiting for hard expiry.
func WithRefreshLeeway(d time.Duration) Option {
	return func(m *Manager) { m.leeway = d }
}

// NewManager creates a session manager. onLogout is invoked exactly once per
// forced logout, after stored credentials are cleared; it may be nil.
func NewManager(refresher Refresher, st store.Store, onLogout func(), opts ...Option) *Manager {
	m := &Manager{
		refresher: refresher,
		store:     st,
		onLogout:  onLogout,
		now:       time.Now,
		state:     StateNoSession,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureValid returns an access token that is valid for at least the
// configured leeway, refreshing if needed. Concurrent callers during one
// expiry event all observe the outcome of a single refresh call.
func (m *Manager) EnsureValid(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state == StateLoggedOut {
		m.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	m.mu.Unlock()

	creds, err := m.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if creds.AccessToken != "" {
		if remaining, err := Remaining(creds.AccessToken, m.now()); err == nil && remaining > m.leeway {
			m.setState(StateValid)
			return creds.AccessToken, nil
		}
	}
	return m.Refresh(ctx)
}

// Refresh obtains a new access token using the stored refresh token. Manual
// (user-initiated) and automatic (expiry-triggered) refresh share this path,
// so at most one refresh call is ever in flight.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	token, err, _ := m.flight.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state == StateLoggedOut {
		m.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	m.state = StateRefreshing
	m.mu.Unlock()

	creds, err := m.store.Load(ctx)
	if err != nil {
		m.forceLogout(ctx, fmt.Errorf("%w: load credentials: %v", ErrRefreshFailed, err))
		return "", ErrNotAuthenticated
	}
	if creds.RefreshToken == "" {
		m.forceLogout(ctx, fmt.Errorf("%w: no refresh token stored", ErrRefreshFailed))
		return "", ErrNotAuthenticated
	}

	accessToken, err := m.refresher.RefreshSession(ctx, creds.RefreshToken)
	if err != nil {
		m.forceLogout(ctx, fmt.Errorf("%w: %v", ErrRefreshFailed, err))
		return "", ErrNotAuthenticated
	}

	// The session's expiry is always derived from the token we actually
	// hold; a response we cannot decode is a failed refresh.
	if _, err := ExpiresAt(accessToken); err != nil {
		m.forceLogout(ctx, fmt.Errorf("%w: malformed access token in response: %v", ErrRefreshFailed, err))
		return "", ErrNotAuthenticated
	}

	creds.AccessToken = accessToken
	if err := m.store.Save(ctx, creds); err != nil {
		m.forceLogout(ctx, fmt.Errorf("%w: save credentials: %v", ErrRefreshFailed, err))
		return "", ErrNotAuthenticated
	}

	m.setState(StateValid)
	return accessToken, nil
}

// Logout clears the session. Idempotent: once logged out, further calls do
// nothing and the logout callback does not fire again.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateLoggedOut {
		m.mu.Unlock()
		return
	}
	m.state = StateLoggedOut
	cb := m.onLogout
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		log.Printf("session: clearing credentials on logout failed: %v", err)
	}
	if cb != nil {
		cb()
	}
}

func (m *Manager) forceLogout(ctx context.Context, cause error) {
	log.Printf("session: forced logout: %v", cause)
	m.Logout(ctx)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state != StateLoggedOut {
		m.state = s
	}
	m.mu.Unlock()
}
