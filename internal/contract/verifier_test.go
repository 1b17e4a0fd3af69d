package contract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NDmajor/misery-proto-open/internal/model"
)

type fakeVerifyAPI struct {
	mu      sync.Mutex
	calls   int
	result  *model.VerificationResult
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeVerifyAPI) VerifyIntegrity(_ context.Context, _ int64, _ int) (*model.VerificationResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.result, f.err
}

func (f *fakeVerifyAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func passingResult() *model.VerificationResult {
	return &model.VerificationResult{
		OverallSuccess: true,
		Message:        "Verification completed",
		VerifiedAt:     time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		DBVerification: model.VerificationStep{
			Status: model.StepSuccess, Details: "Database record matches",
		},
		BlockchainVerification: model.VerificationStep{
			Status: model.StepSuccess, Details: "On-chain hash matches",
		},
	}
}

func TestVerify_success(t *testing.T) {
	api := &fakeVerifyAPI{result: passingResult()}
	v := NewVerifier(api)

	result, err := v.Verify(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.True(t, result.OverallSuccess)
	assert.Equal(t, VerifyCompleted, v.State())

	stored, ok := v.Result()
	require.True(t, ok)
	assert.Equal(t, result, stored)
	assert.NoError(t, v.Err())
}

func TestVerify_overallSuccessRecomputedFromSteps(t *testing.T) {
	// The server claims overall success but the chain step failed; the client
	// must not trust the aggregate flag.
	bad := passingResult()
	bad.OverallSuccess = true
	bad.BlockchainVerification = model.VerificationStep{
		Status:        model.StepFailed,
		Details:       "Hash mismatch on chain",
		Discrepancies: []string{"fileHash: expected ab12, chain has cd34"},
	}
	api := &fakeVerifyAPI{result: bad}
	v := NewVerifier(api)

	result, err := v.Verify(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.False(t, result.OverallSuccess, "overall success requires both steps to succeed")
	assert.Equal(t, []string{"fileHash: expected ab12, chain has cd34"},
		result.BlockchainVerification.Discrepancies, "discrepancies pass through untouched")
}

func TestVerify_partialStatusesAreNotSuccess(t *testing.T) {
	for _, status := range []model.StepStatus{
		model.StepFailed, model.StepDataNotFound, model.StepError, model.StepNotChecked,
	} {
		r := passingResult()
		r.DBVerification.Status = status
		api := &fakeVerifyAPI{result: r}

		result, err := NewVerifier(api).Verify(context.Background(), 1, 1)
		require.NoError(t, err)
		assert.False(t, result.OverallSuccess, "db step %s must not count as success", status)
	}
}

func TestVerify_rejectsConcurrentCall(t *testing.T) {
	api := &fakeVerifyAPI{
		result:  passingResult(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	v := NewVerifier(api)

	done := make(chan error, 1)
	go func() {
		_, err := v.Verify(context.Background(), 1, 1)
		done <- err
	}()
	<-api.started
	assert.Equal(t, VerifyRunning, v.State())

	_, err := v.Verify(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrVerificationInFlight)

	close(api.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, api.callCount(), "rejected call must not hit the server")
}

func TestVerify_apiError(t *testing.T) {
	boom := errors.New("upstream unavailable")
	api := &fakeVerifyAPI{err: boom}
	v := NewVerifier(api)

	_, err := v.Verify(context.Background(), 1, 1)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, VerifyFailed, v.State())
	assert.ErrorIs(t, v.Err(), boom)

	_, ok := v.Result()
	assert.False(t, ok, "failed round trip leaves no result")
}

func TestVerify_closeDiscardsLateResponse(t *testing.T) {
	api := &fakeVerifyAPI{
		result:  passingResult(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	v := NewVerifier(api)

	done := make(chan error, 1)
	go func() {
		_, err := v.Verify(context.Background(), 1, 1)
		done <- err
	}()
	<-api.started

	v.Close()
	close(api.release)

	assert.ErrorIs(t, <-done, ErrVerifierClosed)
	_, ok := v.Result()
	assert.False(t, ok, "response arriving after Close must be dropped")
	assert.Equal(t, VerifyIdle, v.State())
}

func TestVerify_afterCloseFails(t *testing.T) {
	api := &fakeVerifyAPI{result: passingResult()}
	v := NewVerifier(api)
	v.Close()

	_, err := v.Verify(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrVerifierClosed)
	assert.Equal(t, 0, api.callCount())
}

func TestVerify_sequentialCallsAllowed(t *testing.T) {
	api := &fakeVerifyAPI{result: passingResult()}
	v := NewVerifier(api)

	_, err := v.Verify(context.Background(), 1, 1)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, api.callCount())
}
