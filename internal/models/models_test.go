package models

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/desertthunder/universal/internal/shared"
)

func TestValidate(t *testing.T) {
	tc := []struct {
		name    string
		model   Model
		wantErr bool
	}{
		{name: "valid user", model: &User{Username: "ada", Email: "ada@example.com"}},
		{name: "user without email", model: &User{Username: "ada"}, wantErr: true},
		{name: "user without name", model: &User{Email: "ada@example.com"}, wantErr: true},
		{name: "valid playlist", model: &Playlist{UserID: 1, Title: "Mix"}},
		{name: "playlist blank title", model: &Playlist{UserID: 1, Title: "  "}, wantErr: true},
		{name: "playlist without owner", model: &Playlist{Title: "Mix"}, wantErr: true},
		{name: "valid track", model: &Track{Provider: "spotify", ProviderID: "abc", Title: "Song"}},
		{name: "track without title", model: &Track{Provider: "spotify", ProviderID: "abc"}, wantErr: true},
		{name: "track without id", model: &Track{Provider: "spotify", Title: "Song"}, wantErr: true},
		{name: "artist with empty native id", model: &Artist{Provider: "youtube"}},
		{name: "artist without provider", model: &Artist{ProviderID: "x"}, wantErr: true},
		{name: "album without id", model: &Album{Provider: "spotify"}, wantErr: true},
		{name: "source", model: &Source{Provider: "youtube", ProviderID: "PL1"}},
		{name: "service account", model: &ServiceAccount{UserID: 1, Provider: "spotify"}},
		{name: "service account without user", model: &ServiceAccount{Provider: "spotify"}, wantErr: true},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.model.Validate()
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestServiceAccountAuthorized(t *testing.T) {
	acct := &ServiceAccount{}
	if acct.Authorized() {
		t.Error("empty account should not be authorized")
	}
	acct.Credential = sql.NullString{String: `{"access_token":"x"}`, Valid: true}
	if !acct.Authorized() {
		t.Error("account with credential should be authorized")
	}
}

func TestKeyString(t *testing.T) {
	k := Key{Provider: "spotify", ProviderID: "abc123"}
	if k.String() != "spotify:abc123" {
		t.Errorf("unexpected key string %s", k)
	}
}
