package model

import (
	"encoding/json"
	"time"
)

// ContractStatus is the lifecycle state of a contract.
type ContractStatus string

const (
	ContractOpen      ContractStatus = "OPEN"
	ContractClosed    ContractStatus = "CLOSED"
	ContractCancelled ContractStatus = "CANCELLED"
)

// VersionStatus is the lifecycle state of a single contract version.
type VersionStatus string

const (
	VersionPendingSignature VersionStatus = "PENDING_SIGNATURE"
	VersionSigned           VersionStatus = "SIGNED"
	VersionArchived         VersionStatus = "ARCHIVED"
)

// ParticipantRole distinguishes the contract initiator from counterparties.
type ParticipantRole string

const (
	RoleInitiator    ParticipantRole = "INITIATOR"
	RoleCounterparty ParticipantRole = "COUNTERPARTY"
)

// User represents an authenticated user as returned by the backend.
// The backend is inconsistent about which identity field it emits
// (uuid vs userUuid); UnmarshalJSON folds them into UUID so the rest
// of the code only ever sees one canonical identity.
type User struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (u *User) UnmarshalJSON(b []byte) error {
	type alias User
	aux := struct {
		*alias
		UserUUID string `json:"userUuid"`
	}{alias: (*alias)(u)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if u.UUID == "" {
		u.UUID = aux.UserUUID
	}
	return nil
}

// Participant is a user associated with a contract.
type Participant struct {
	UserUUID string          `json:"userUuid"`
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Role     ParticipantRole `json:"role"`
}

// Signature is an immutable signing record on a contract version.
// A signer signs a given version at most once.
type Signature struct {
	SignerUUID     string    `json:"signerUuid"`
	SignerUsername string    `json:"signerUsername"`
	SignedAt       time.Time `json:"signedAt"`
	SignatureHash  string    `json:"signatureHash"`
}

// Version is an immutable snapshot of a contract's document plus its signature set.
type Version struct {
	ID            int64         `json:"id"`
	VersionNumber int           `json:"versionNumber"`
	FilePath      string        `json:"filePath"`
	FileHash      string        `json:"fileHash"`
	Status        VersionStatus `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	Signatures    []Signature   `json:"signatures"`
}

// Contract is the full contract detail as fetched from the backend.
// The client only ever reads snapshots; all mutation happens server-side.
type Contract struct {
	ID             int64          `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         ContractStatus `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      *time.Time     `json:"updatedAt,omitempty"`
	CreatedBy      User           `json:"createdBy"`
	Participants   []Participant  `json:"participants"`
	CurrentVersion *Version       `json:"currentVersion,omitempty"`
	VersionHistory []Version      `json:"versionHistory,omitempty"`
}

// ContractSummary is the projection returned by the list endpoint.
type ContractSummary struct {
	ID                   int64          `json:"id"`
	Title                string         `json:"title"`
	Description          string         `json:"description,omitempty"`
	CreatedByUserName    string         `json:"createdByUserName"`
	Status               ContractStatus `json:"status"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            *time.Time     `json:"updatedAt,omitempty"`
	CurrentVersionNumber *int           `json:"currentVersionNumber,omitempty"`
	CurrentVersionID     *int64         `json:"currentVersionId,omitempty"`
}
