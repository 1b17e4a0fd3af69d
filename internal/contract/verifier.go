package contract

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/NDmajor/misery-proto-open/internal/model"
)

var (
	// ErrVerificationInFlight means a check is already running for this
	// verifier; the second request is rejected rather than issued.
	ErrVerificationInFlight = errors.New("verification already in progress")
	// ErrVerifierClosed means the owning view navigated away; late responses
	// are dropped.
	ErrVerifierClosed = errors.New("verifier closed")
)

// VerifyAPI is the server-side verification collaborator. The server runs
// both checks (database record, external chain) in one call.
type VerifyAPI interface {
	VerifyIntegrity(ctx context.Context, contractID int64, versionNumber int) (*model.VerificationResult, error)
}

// VerifyState is the verifier's per-invocation lifecycle.
type VerifyState int

const (
	VerifyIdle VerifyState = iota
	VerifyRunning
	VerifyCompleted
	VerifyFailed
)

func (s VerifyState) String() string {
	switch s {
	case VerifyIdle:
		return "idle"
	case VerifyRunning:
		return "verifying"
	case VerifyCompleted:
		return "completed"
	case VerifyFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Verifier orchestrates the two-stage integrity verification for one view.
// It allows a single outstanding check, and once closed it never updates
// state again, so responses that arrive after the view is gone are ignored.
// The whole async operation is one tagged state value, never a set of
// independent flags.
type Verifier struct {
	api VerifyAPI

	mu     sync.Mutex
	state  VerifyState
	seq    uint64
	closed bool
	result *model.VerificationResult
	err    error
}

// NewVerifier creates an idle verifier backed by the given collaborator.
func NewVerifier(api VerifyAPI) *Verifier {
	return &Verifier{api: api}
}

// Verify runs one verification round trip. A second call while one is in
// flight returns ErrVerificationInFlight without issuing a request.
// OverallSuccess in the returned result is true only when both steps report
// SUCCESS, regardless of what the server claimed.
func (v *Verifier) Verify(ctx context.Context, contractID int64, versionNumber int) (*model.VerificationResult, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrVerifierClosed
	}
	if v.state == VerifyRunning {
		v.mu.Unlock()
		return nil, ErrVerificationInFlight
	}
	v.state = VerifyRunning
	v.seq++
	seq := v.seq
	v.mu.Unlock()

	result, err := v.api.VerifyIntegrity(ctx, contractID, versionNumber)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || seq != v.seq {
		// The view closed while we were waiting; drop the response.
		return nil, ErrVerifierClosed
	}
	if err != nil {
		v.state = VerifyFailed
		v.err = err
		v.result = nil
		return nil, fmt.Errorf("integrity verification failed: %w", err)
	}

	result.OverallSuccess = result.StepsSucceeded()
	v.state = VerifyCompleted
	v.result = result
	v.err = nil
	return result, nil
}

// State returns the current lifecycle state.
func (v *Verifier) State() VerifyState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Result returns the last completed result, if any.
func (v *Verifier) Result() (*model.VerificationResult, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.result, v.result != nil
}

// Err returns the failure of the last round trip, if it failed.
func (v *Verifier) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Close marks the owning view as gone. In-flight responses are discarded and
// further Verify calls fail with ErrVerifierClosed.
func (v *Verifier) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.seq++
	v.state = VerifyIdle
	v.result = nil
	v.err = nil
}
