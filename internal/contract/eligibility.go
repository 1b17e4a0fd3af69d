// Package contract holds the signing-eligibility decision logic and the
// integrity-verification state machine. Both read contract snapshots only;
// nothing here mutates persisted contract state.
package contract

import "github.com/NDmajor/misery-proto-open/internal/model"

// Outcome is a display-neutral reason code for a signing-eligibility
// decision. Rendering copy and colors is the view's concern.
type Outcome string

const (
	OutcomeNotParticipant    Outcome = "NOT_PARTICIPANT"
	OutcomeAlreadySigned     Outcome = "ALREADY_SIGNED"
	OutcomeContractClosed    Outcome = "CONTRACT_CLOSED"
	OutcomeContractCancelled Outcome = "CONTRACT_CANCELLED"
	OutcomeVersionSigned     Outcome = "VERSION_SIGNED"
	OutcomeVersionArchived   Outcome = "VERSION_ARCHIVED"
	OutcomeCanSign           Outcome = "CAN_SIGN"
	OutcomeNoDecision        Outcome = "NO_DECISION"
)

// Decision is the eligibility verdict for one (contract, user) snapshot.
type Decision struct {
	Outcome Outcome
	// CanSign is true iff Outcome is OutcomeCanSign.
	CanSign bool
	// UserSignature is the user's existing signature when Outcome is
	// OutcomeAlreadySigned, for display.
	UserSignature *model.Signature
}

// Evaluate maps a contract snapshot and the current user to a signing
// decision. Pure function; the checks run in strict priority order and the
// first match wins. That ordering is part of the contract:
//
//  1. not a participant
//  2. already signed the current version
//  3. contract closed
//  4. contract cancelled
//  5. current version fully signed
//  6. current version archived
//  7. can sign (OPEN + PENDING_SIGNATURE + participant + not yet signed)
//  8. no decision (e.g. no current version)
func Evaluate(c *model.Contract, u *model.User) Decision {
	if c == nil || u == nil {
		return Decision{Outcome: OutcomeNoDecision}
	}
	if !isParticipant(c, u) {
		return Decision{Outcome: OutcomeNotParticipant}
	}
	if sig := userSignature(c, u); sig != nil {
		return Decision{Outcome: OutcomeAlreadySigned, UserSignature: sig}
	}
	if c.Status == model.ContractClosed {
		return Decision{Outcome: OutcomeContractClosed}
	}
	if c.Status == model.ContractCancelled {
		return Decision{Outcome: OutcomeContractCancelled}
	}
	v := c.CurrentVersion
	if v != nil && v.Status == model.VersionSigned {
		return Decision{Outcome: OutcomeVersionSigned}
	}
	if v != nil && v.Status == model.VersionArchived {
		return Decision{Outcome: OutcomeVersionArchived}
	}
	if c.Status == model.ContractOpen && v != nil && v.Status == model.VersionPendingSignature {
		return Decision{Outcome: OutcomeCanSign, CanSign: true}
	}
	return Decision{Outcome: OutcomeNoDecision}
}

func isParticipant(c *model.Contract, u *model.User) bool {
	if c.CreatedBy.ID != 0 && c.CreatedBy.ID == u.ID {
		return true
	}
	if id := c.CreatedBy.Identity(); id != "" && u.MatchesIdentity(id) {
		return true
	}
	for i := range c.Participants {
		if c.Participants[i].Matches(u) {
			return true
		}
	}
	return false
}

func userSignature(c *model.Contract, u *model.User) *model.Signature {
	if c.CurrentVersion == nil {
		return nil
	}
	for i := range c.CurrentVersion.Signatures {
		if c.CurrentVersion.Signatures[i].SignedBy(u) {
			return &c.CurrentVersion.Signatures[i]
		}
	}
	return nil
}
