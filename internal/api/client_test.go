package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NDmajor/misery-proto-open/internal/model"
)

type staticTokens string

func (s staticTokens) EnsureValid(context.Context) (string, error) {
	return string(s), nil
}

type failingTokens struct{ err error }

func (f failingTokens) EnsureValid(context.Context) (string, error) {
	return "", f.err
}

func respond(t *testing.T, w http.ResponseWriter, status int, success bool, data interface{}, message string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(map[string]interface{}{
		"success": success,
		"data":    data,
		"message": message,
	})
	require.NoError(t, err)
}

func TestLogin_decodesTokenPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/login", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice@example.com", body["email"])
		assert.Equal(t, "secret", body["password"])

		respond(t, w, http.StatusOK, true,
			map[string]string{"accessToken": "at-1", "refreshToken": "rt-1"}, "")
	}))
	defer srv.Close()

	pair, err := NewClient(srv.URL).Login(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "at-1", pair.AccessToken)
	assert.Equal(t, "rt-1", pair.RefreshToken)
}

func TestEnvelopeFailureOn200IsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, http.StatusOK, false, nil, "Contract is not open for signing")
	}))
	defer srv.Close()

	err := NewClient(srv.URL, WithTokenSource(staticTokens("tok"))).
		SignContract(context.Background(), 5)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusOK, apiErr.StatusCode)
	assert.Equal(t, "Contract is not open for signing", apiErr.Message)
}

func TestNon2xxCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, http.StatusNotFound, false, nil, "Contract not found")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithTokenSource(staticTokens("tok"))).
		GetContract(context.Background(), 404)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Contract not found", apiErr.Message)
}

func TestNon2xxWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Login(context.Background(), "a@b.c", "pw")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestAuthorizedCallsCarryBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		respond(t, w, http.StatusOK, true, model.User{ID: 1, Username: "alice"}, "")
	}))
	defer srv.Close()

	user, err := NewClient(srv.URL, WithTokenSource(staticTokens("tok-123"))).
		CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestTokenSourceFailureShortCircuits(t *testing.T) {
	notAuthed := errors.New("not authenticated")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server without a token")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithTokenSource(failingTokens{err: notAuthed})).
		CurrentUser(context.Background())
	assert.ErrorIs(t, err, notAuthed)
}

func TestMyContracts_searchQueryParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/contracts/my", r.URL.Path)
		assert.Equal(t, "lease renewal", r.URL.Query().Get("search"))
		respond(t, w, http.StatusOK, true, []model.ContractSummary{
			{ID: 3, Title: "lease renewal", Status: model.ContractOpen},
		}, "")
	}))
	defer srv.Close()

	contracts, err := NewClient(srv.URL, WithTokenSource(staticTokens("tok"))).
		MyContracts(context.Background(), "lease renewal")
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, int64(3), contracts[0].ID)
}

func TestVerifyIntegrity_decodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/contracts/7/versions/2/verify", r.URL.Path)
		respond(t, w, http.StatusOK, true, map[string]interface{}{
			"overallSuccess": false,
			"message":        "Verification completed with findings",
			"verifiedAt":     "2025-06-01T09:00:00Z",
			"dbVerification": map[string]interface{}{
				"status": "SUCCESS", "details": "Record matches",
			},
			"blockchainVerification": map[string]interface{}{
				"status":        "FAILED",
				"details":       "Hash mismatch",
				"discrepancies": []string{"fileHash differs"},
			},
		}, "")
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL, WithTokenSource(staticTokens("tok"))).
		VerifyIntegrity(context.Background(), 7, 2)
	require.NoError(t, err)
	assert.False(t, result.OverallSuccess)
	assert.Equal(t, model.StepSuccess, result.DBVerification.Status)
	assert.Equal(t, model.StepFailed, result.BlockchainVerification.Status)
	assert.Equal(t, []string{"fileHash differs"}, result.BlockchainVerification.Discrepancies)
}

func TestRefreshSession_rejectsEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, http.StatusOK, true, map[string]string{}, "")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).RefreshSession(context.Background(), "rt-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty access token")
}

func TestCurrentUser_normalizesUserUuid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The profile endpoint spells the field userUuid rather than uuid.
		respond(t, w, http.StatusOK, true, map[string]interface{}{
			"id": 7, "username": "alice", "email": "alice@example.com",
			"userUuid": "5f2b0c1e-9a64-4c7d-8a3c-111111111111",
		}, "")
	}))
	defer srv.Close()

	user, err := NewClient(srv.URL, WithTokenSource(staticTokens("tok"))).
		CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5f2b0c1e-9a64-4c7d-8a3c-111111111111", user.UUID)
}
