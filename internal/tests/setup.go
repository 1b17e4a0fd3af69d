// Package tests contains end-to-end tests that run the typed client against
// the in-memory stub backend over real HTTP.
package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NDmajor/misery-proto-open/internal/api"
	"github.com/NDmajor/misery-proto-open/internal/auth"
	"github.com/NDmajor/misery-proto-open/internal/model"
	"github.com/NDmajor/misery-proto-open/internal/store"
	"github.com/NDmajor/misery-proto-open/internal/stub"
)

const (
	testSecret   = "integration-test-secret-at-least-32-chars"
	testPassword = "correct horse battery staple"
)

// env wires a stub backend, a credential store, a session manager, and an
// authenticated client together the same way cmd/miseryctl does.
type env struct {
	stub    *stub.Server
	server  *httptest.Server
	store   store.Store
	session *auth.Manager
	client  *api.Client

	logouts      int32
	refreshCalls int32
}

// newEnv starts the stub over httptest. The stub's /auth/refresh endpoint is
// counted and slightly delayed, so tests can observe refresh coalescing.
func newEnv(t *testing.T, accessTTL time.Duration, opts ...auth.Option) *env {
	t.Helper()

	e := &env{stub: stub.NewServer(testSecret, accessTTL), store: store.NewMemory()}

	handler := e.stub.Handler()
	e.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			atomic.AddInt32(&e.refreshCalls, 1)
			time.Sleep(50 * time.Millisecond)
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(e.server.Close)

	refreshClient := api.NewClient(e.server.URL)
	e.session = auth.NewManager(refreshClient, e.store,
		func() { atomic.AddInt32(&e.logouts, 1) }, opts...)
	e.client = api.NewClient(e.server.URL, api.WithTokenSource(e.session))
	return e
}

func (e *env) login(t *testing.T, ctx context.Context, email string) {
	t.Helper()
	pair, err := e.client.Login(ctx, email, testPassword)
	require.NoError(t, err)
	require.NoError(t, e.store.Save(ctx, store.Credentials{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}))
}

func (e *env) logoutCount() int32 {
	return atomic.LoadInt32(&e.logouts)
}

func (e *env) refreshCount() int32 {
	return atomic.LoadInt32(&e.refreshCalls)
}

var nextVersionID int64 = 1000

// seedPendingContract registers a contract created by the first user with all
// given users as participants, its current version awaiting signatures.
func seedPendingContract(e *env, title string, users ...*model.User) *model.Contract {
	participants := make([]model.Participant, 0, len(users))
	for i, u := range users {
		role := model.RoleCounterparty
		if i == 0 {
			role = model.RoleInitiator
		}
		participants = append(participants, model.Participant{
			UserUUID: u.UUID,
			Username: u.Username,
			Email:    u.Email,
			Role:     role,
		})
	}
	version := model.Version{
		ID:            atomic.AddInt64(&nextVersionID, 1),
		VersionNumber: 1,
		FilePath:      "contracts/seed/v1/agreement.pdf",
		FileHash:      "f00df00df00df00df00df00df00df00df00df00df00df00df00df00df00df00d",
		Status:        model.VersionPendingSignature,
		CreatedAt:     time.Now(),
		Signatures:    []model.Signature{},
	}
	return e.stub.AddContract(&model.Contract{
		Title:          title,
		Status:         model.ContractOpen,
		CreatedBy:      *users[0],
		Participants:   participants,
		CurrentVersion: &version,
		VersionHistory: []model.Version{version},
	})
}
