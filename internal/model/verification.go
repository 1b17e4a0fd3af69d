package model

import "time"

// StepStatus is the outcome of one verification step.
type StepStatus string

const (
	StepSuccess      StepStatus = "SUCCESS"
	StepFailed       StepStatus = "FAILED"
	StepDataNotFound StepStatus = "DATA_NOT_FOUND"
	StepError        StepStatus = "ERROR"
	StepNotChecked   StepStatus = "NOT_CHECKED"
)

// VerificationStep is the result of a single server-side check.
// Discrepancies are carried verbatim for display.
type VerificationStep struct {
	Status        StepStatus `json:"status"`
	Details       string     `json:"details"`
	Discrepancies []string   `json:"discrepancies,omitempty"`
}

// VerificationResult is the outcome of a two-stage integrity verification:
// the database record check followed by the external-chain comparison.
type VerificationResult struct {
	OverallSuccess         bool             `json:"overallSuccess"`
	Message                string           `json:"message"`
	VerifiedAt             time.Time        `json:"verifiedAt"`
	DBVerification         VerificationStep `json:"dbVerification"`
	BlockchainVerification VerificationStep `json:"blockchainVerification"`
}

// StepsSucceeded reports whether both verification steps completed with
// SUCCESS. OverallSuccess must never be true unless this holds.
func (r *VerificationResult) StepsSucceeded() bool {
	return r != nil &&
		r.DBVerification.Status == StepSuccess &&
		r.BlockchainVerification.Status == StepSuccess
}
