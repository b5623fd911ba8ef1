// Package cloud talks to the remote backend that holds one snapshot record
// and one photo folder per user account.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotAuthenticated     = errors.New("cloud: not signed in")
	ErrNoSnapshot           = errors.New("cloud: no snapshot stored for this account")
	ErrInvalidConfig        = errors.New("cloud: invalid backend configuration")
	ErrConfirmationRequired = errors.New("cloud: account created, confirm the email address before signing in")
)

// Session is an authenticated account.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Backend is the remote contract used by the sync engine. Photo names are
// relative to the signed-in account's folder.
type Backend interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignUp(ctx context.Context, email, password string) (Session, error)
	ResendConfirmation(ctx context.Context, email string) error
	SignOut(ctx context.Context) error
	// CurrentSession reports the signed-in account, if any.
	CurrentSession() (Session, bool)

	LoadSnapshot(ctx context.Context) (json.RawMessage, error)
	SaveSnapshot(ctx context.Context, doc json.RawMessage) error

	ListPhotos(ctx context.Context) ([]string, error)
	UploadPhoto(ctx context.Context, name, contentType string, data []byte) error
	DownloadPhoto(ctx context.Context, name string) ([]byte, error)
	// DeletePhotos removes names from the folder. Missing names are ignored.
	DeletePhotos(ctx context.Context, names []string) error
}
