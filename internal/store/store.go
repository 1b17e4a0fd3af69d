package store

import "context"

// Well-known storage keys, kept in parity with the browser client's
// localStorage entries.
const (
	KeyAccessToken  = "token"
	KeyRefreshToken = "refreshToken"
)

// Credentials is the persisted session state.
type Credentials struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Empty reports whether no credentials are stored.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// Store is the credential storage capability injected into the session
// manager. No other component reads or writes credentials directly.
type Store interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, c Credentials) error
	Clear(ctx context.Context) error
}
