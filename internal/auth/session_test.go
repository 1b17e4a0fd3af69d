package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NDmajor/misery-proto-open/internal/store"
)

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	token string
	err   error
}

func (f *fakeRefresher) RefreshSession(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.token, f.err
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testToken(t *testing.T, exp time.Time) string {
	t.Helper()
	return signToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
}

func seedStore(t *testing.T, access, refresh string) store.Store {
	t.Helper()
	st := store.NewMemory()
	require.NoError(t, st.Save(context.Background(), store.Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
	}))
	return st
}

func TestEnsureValid_returnsStoredTokenWhileLive(t *testing.T) {
	now := time.Unix(1700000000, 0)
	access := testToken(t, now.Add(time.Hour))
	refresher := &fakeRefresher{}
	m := NewManager(refresher, seedStore(t, access, "refresh-1"), nil,
		WithClock(func() time.Time { return now }))

	got, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, got)
	assert.Equal(t, 0, refresher.callCount(), "live token must not trigger a refresh")
	assert.Equal(t, StateValid, m.State())
}

func TestEnsureValid_refreshesExpiredToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	expired := testToken(t, now.Add(-time.Minute))
	fresh := testToken(t, now.Add(time.Hour))
	refresher := &fakeRefresher{token: fresh}
	st := seedStore(t, expired, "refresh-1")
	m := NewManager(refresher, st, nil, WithClock(func() time.Time { return now }))

	got, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Equal(t, 1, refresher.callCount())

	// The stored session is replaced wholesale and keeps the refresh token.
	creds, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, creds.AccessToken)
	assert.Equal(t, "refresh-1", creds.RefreshToken)
}

func TestEnsureValid_singleFlight(t *testing.T) {
	now := time.Unix(1700000000, 0)
	expired := testToken(t, now.Add(-time.Minute))
	fresh := testToken(t, now.Add(time.Hour))
	refresher := &fakeRefresher{token: fresh, delay: 50 * time.Millisecond}
	m := NewManager(refresher, seedStore(t, expired, "refresh-1"), nil,
		WithClock(func() time.Time { return now }))

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.EnsureValid(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, refresher.callCount(), "concurrent callers must share one refresh")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fresh, tokens[i], "all callers must observe the same outcome")
	}
}

func TestRefreshFailure_forcesSingleLogout(t *testing.T) {
	now := time.Unix(1700000000, 0)
	expired := testToken(t, now.Add(-time.Minute))
	refresher := &fakeRefresher{err: errors.New("refresh token rejected")}
	var logouts int32
	m := NewManager(refresher, seedStore(t, expired, "refresh-1"),
		func() { atomic.AddInt32(&logouts, 1) },
		WithClock(func() time.Time { return now }))

	_, err := m.EnsureValid(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, StateLoggedOut, m.State())
	assert.EqualValues(t, 1, atomic.LoadInt32(&logouts))

	// Once logged out the manager stays logged out and never re-fires.
	_, err = m.EnsureValid(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, 1, refresher.callCount())
	assert.EqualValues(t, 1, atomic.LoadInt32(&logouts))
}

func TestRefresh_malformedResponseTokenIsTerminal(t *testing.T) {
	now := time.Unix(1700000000, 0)
	expired := testToken(t, now.Add(-time.Minute))
	refresher := &fakeRefresher{token: "not-a-jwt"}
	var logouts int32
	m := NewManager(refresher, seedStore(t, expired, "refresh-1"),
		func() { atomic.AddInt32(&logouts, 1) },
		WithClock(func() time.Time { return now }))

	_, err := m.EnsureValid(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.EqualValues(t, 1, atomic.LoadInt32(&logouts))
}

func TestEnsureValid_noRefreshTokenLogsOut(t *testing.T) {
	now := time.Unix(1700000000, 0)
	expired := testToken(t, now.Add(-time.Minute))
	refresher := &fakeRefresher{}
	var logouts int32
	m := NewManager(refresher, seedStore(t, expired, ""),
		func() { atomic.AddInt32(&logouts, 1) },
		WithClock(func() time.Time { return now }))

	_, err := m.EnsureValid(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, 0, refresher.callCount(), "no refresh call without a refresh token")
	assert.EqualValues(t, 1, atomic.LoadInt32(&logouts))
}

func TestLogout_idempotent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	st := seedStore(t, testToken(t, now.Add(time.Hour)), "refresh-1")
	var logouts int32
	m := NewManager(&fakeRefresher{}, st, func() { atomic.AddInt32(&logouts, 1) },
		WithClock(func() time.Time { return now }))

	m.Logout(context.Background())
	m.Logout(context.Background())

	assert.EqualValues(t, 1, atomic.LoadInt32(&logouts), "logout callback fires at most once")
	assert.Equal(t, StateLoggedOut, m.State())

	creds, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, creds.Empty(), "logout clears stored credentials")
}

func TestRefreshLeeway_refreshesBeforeHardExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	almostExpired := testToken(t, now.Add(5*time.Second))
	fresh := testToken(t, now.Add(time.Hour))
	refresher := &fakeRefresher{token: fresh}
	m := NewManager(refresher, seedStore(t, almostExpired, "refresh-1"), nil,
		WithClock(func() time.Time { return now }),
		WithRefreshLeeway(10*time.Second))

	got, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Equal(t, 1, refresher.callCount())
}
