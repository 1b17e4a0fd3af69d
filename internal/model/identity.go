package model

import (
	"strconv"

	"github.com/google/uuid"
)

// Identity returns the canonical identity string for a user: the UUID when
// the backend supplied one, otherwise the numeric id rendered as a string.
// Older endpoints emit the latter inside signature and participant records.
func (u *User) Identity() string {
	if u == nil {
		return ""
	}
	if u.UUID != "" {
		return u.UUID
	}
	if u.ID != 0 {
		return strconv.FormatInt(u.ID, 10)
	}
	return ""
}

// MatchesIdentity reports whether the given identity string refers to this
// user under any known representation (UUID or id-as-string).
func (u *User) MatchesIdentity(identity string) bool {
	if u == nil || identity == "" {
		return false
	}
	if u.UUID != "" && identity == u.UUID {
		return true
	}
	return u.ID != 0 && identity == strconv.FormatInt(u.ID, 10)
}

// SignedBy reports whether the signature belongs to the user.
func (s *Signature) SignedBy(u *User) bool {
	return s != nil && u.MatchesIdentity(s.SignerUUID)
}

// Matches reports whether the participant entry refers to the user. Email is
// kept as a fallback because some endpoints omit the participant UUID.
func (p *Participant) Matches(u *User) bool {
	if p == nil || u == nil {
		return false
	}
	if u.MatchesIdentity(p.UserUUID) {
		return true
	}
	return p.Email != "" && u.Email != "" && p.Email == u.Email
}

// ValidIdentity reports whether s parses as a UUID. The stub backend uses it
// to validate participant ids on upload.
func ValidIdentity(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
