// package models defines the entity graph for universal playlists
package models

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/universal/internal/shared"
)

// Model is implemented by every persisted entity.
type Model interface {
	Validate() error // Validate checks the entity's invariants before a write
}

// Key is the canonical (provider, provider-native id) identity of a provider entity.
type Key struct {
	Provider   string
	ProviderID string
}

func (k Key) String() string {
	return k.Provider + ":" + k.ProviderID
}

// Validate requires a provider; the native id may be empty for providers that
// omit owner metadata (YouTube channels).
func (k Key) Validate() error {
	if strings.TrimSpace(k.Provider) == "" {
		return fmt.Errorf("%w: provider is required", shared.ErrInvalidInput)
	}
	return nil
}

// User owns playlists and exactly one [ServiceAccount] per provider.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (u *User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("%w: username is required", shared.ErrInvalidInput)
	}
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("%w: email %q is invalid", shared.ErrInvalidInput, u.Email)
	}
	return nil
}

// ServiceAccount is the credential record for one (user, provider) pair.
//
// Credential holds the serialized OAuth token; it is NULL until the user authorizes.
// OAuthState is set while an authorization flow is pending.
type ServiceAccount struct {
	ID            int64          `db:"id"`
	UserID        int64          `db:"user_id"`
	Provider      string         `db:"provider"`
	Username      string         `db:"username"`
	Credential    sql.NullString `db:"credential"`
	OAuthState    sql.NullString `db:"oauth_state"`
	StateIssuedAt sql.NullTime   `db:"state_issued_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// Authorized reports whether a credential is stored.
func (s *ServiceAccount) Authorized() bool {
	return s.Credential.Valid && s.Credential.String != ""
}

func (s *ServiceAccount) Validate() error {
	if s.UserID == 0 {
		return fmt.Errorf("%w: user is required", shared.ErrInvalidInput)
	}
	return Key{Provider: s.Provider}.Validate()
}

// Playlist is a universal playlist aggregating one or more [Source]s.
type Playlist struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Artwork     string    `db:"artwork" json:"artwork,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (p *Playlist) Validate() error {
	if p.UserID == 0 {
		return fmt.Errorf("%w: owner is required", shared.ErrInvalidInput)
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", shared.ErrInvalidInput)
	}
	return nil
}

// Source is one provider-hosted playlist feeding universal playlists.
type Source struct {
	ID         int64     `db:"id" json:"id"`
	Provider   string    `db:"provider" json:"provider"`
	ProviderID string    `db:"provider_id" json:"provider_id"`
	Title      string    `db:"title" json:"title"`
	Artwork    string    `db:"artwork" json:"artwork,omitempty"`
	Href       string    `db:"href" json:"href,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

func (s *Source) Key() Key { return Key{Provider: s.Provider, ProviderID: s.ProviderID} }

func (s *Source) Validate() error {
	if s.ProviderID == "" {
		return fmt.Errorf("%w: source id is required", shared.ErrInvalidInput)
	}
	return s.Key().Validate()
}

// Attachment is a playlist_sources row with its last sync outcome.
type Attachment struct {
	ID           int64        `db:"id" json:"id"`
	PlaylistID   int64        `db:"playlist_id" json:"playlist_id"`
	SourceID     int64        `db:"source_id" json:"source_id"`
	LastSyncedAt sql.NullTime `db:"last_synced_at" json:"-"`
	LastError    string       `db:"last_error" json:"last_error,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

// AttachedSource is a Source as seen from one playlist.
type AttachedSource struct {
	Source
	AttachmentID int64        `db:"attachment_id" json:"attachment_id"`
	LastSyncedAt sql.NullTime `db:"last_synced_at" json:"-"`
	LastError    string       `db:"last_error" json:"last_error,omitempty"`
}

// Artist is deduplicated by its canonical key.
type Artist struct {
	ID         int64     `db:"id" json:"id"`
	Provider   string    `db:"provider" json:"provider"`
	ProviderID string    `db:"provider_id" json:"provider_id"`
	Name       string    `db:"name" json:"name"`
	Artwork    string    `db:"artwork" json:"artwork,omitempty"`
	Href       string    `db:"href" json:"href,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"-"`
	UpdatedAt  time.Time `db:"updated_at" json:"-"`
}

func (a *Artist) Key() Key        { return Key{Provider: a.Provider, ProviderID: a.ProviderID} }
func (a *Artist) Validate() error { return a.Key().Validate() }

// Album is deduplicated by its canonical key.
type Album struct {
	ID         int64     `db:"id" json:"id"`
	Provider   string    `db:"provider" json:"provider"`
	ProviderID string    `db:"provider_id" json:"provider_id"`
	Title      string    `db:"title" json:"title"`
	Artwork    string    `db:"artwork" json:"artwork,omitempty"`
	Href       string    `db:"href" json:"href,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"-"`
	UpdatedAt  time.Time `db:"updated_at" json:"-"`
}

func (a *Album) Key() Key { return Key{Provider: a.Provider, ProviderID: a.ProviderID} }

func (a *Album) Validate() error {
	if a.ProviderID == "" {
		return fmt.Errorf("%w: album id is required", shared.ErrInvalidInput)
	}
	return a.Key().Validate()
}

// Track is the single canonical row for a provider track.
type Track struct {
	ID         int64         `db:"id" json:"id"`
	Provider   string        `db:"provider" json:"provider"`
	ProviderID string        `db:"provider_id" json:"provider_id"`
	Title      string        `db:"title" json:"title"`
	Artwork    string        `db:"artwork" json:"artwork,omitempty"`
	Href       string        `db:"href" json:"href,omitempty"`
	AlbumID    sql.NullInt64 `db:"album_id" json:"-"`
	CreatedAt  time.Time     `db:"created_at" json:"-"`
	UpdatedAt  time.Time     `db:"updated_at" json:"-"`
}

func (t *Track) Key() Key { return Key{Provider: t.Provider, ProviderID: t.ProviderID} }

func (t *Track) Validate() error {
	if t.ProviderID == "" {
		return fmt.Errorf("%w: track id is required", shared.ErrInvalidInput)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: track %s has no title", shared.ErrInvalidInput, t.Key())
	}
	return t.Key().Validate()
}

// PlaylistTrack is a track at a position in a playlist, with its artists and album for display.
type PlaylistTrack struct {
	Track
	Position int64    `db:"position" json:"position"`
	Artists  []Artist `db:"-" json:"artists"`
	Album    *Album   `db:"-" json:"album,omitempty"`
}

// BlacklistEntry excludes a track from a playlist until removed.
type BlacklistEntry struct {
	ID         int64     `db:"id" json:"id"`
	PlaylistID int64     `db:"playlist_id" json:"playlist_id"`
	TrackID    int64     `db:"track_id" json:"track_id"`
	Reason     string    `db:"reason" json:"reason,omitempty"`
	Title      string    `db:"title" json:"title"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Mirror records a provider-side copy of a universal playlist.
type Mirror struct {
	ID         int64     `db:"id" json:"id"`
	PlaylistID int64     `db:"playlist_id" json:"playlist_id"`
	Provider   string    `db:"provider" json:"provider"`
	ProviderID string    `db:"provider_id" json:"provider_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
