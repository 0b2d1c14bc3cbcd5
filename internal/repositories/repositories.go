package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/universal/internal/shared"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// Repos bundles every repository bound to the same [sqlx.ExtContext], either
// the database handle or an open transaction.
type Repos struct {
	Users     *UserRepository
	Services  *ServiceRepository
	Playlists *PlaylistRepository
	Sources   *SourceRepository
	Tracks    *TrackRepository
	Artists   *ArtistRepository
	Albums    *AlbumRepository
	Blacklist *BlacklistRepository
	Mirrors   *MirrorRepository
}

func newRepos(q sqlx.ExtContext) *Repos {
	return &Repos{
		Users:     NewUserRepository(q),
		Services:  NewServiceRepository(q),
		Playlists: NewPlaylistRepository(q),
		Sources:   NewSourceRepository(q),
		Tracks:    NewTrackRepository(q),
		Artists:   NewArtistRepository(q),
		Albums:    NewAlbumRepository(q),
		Blacklist: NewBlacklistRepository(q),
		Mirrors:   NewMirrorRepository(q),
	}
}

// Store owns the database handle. Its embedded [Repos] run outside any transaction;
// [Store.Atomic] hands out a transaction-bound set.
type Store struct {
	*Repos
	db *sqlx.DB
}

// NewStore creates a [Store] over db.
func NewStore(db *sqlx.DB) *Store {
	return &Store{Repos: newRepos(db), db: db}
}

// DB returns the underlying handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Atomic runs fn inside one transaction, committing when fn returns nil.
//
// fn must only touch the database through the [Repos] it receives.
func (s *Store) Atomic(ctx context.Context, fn func(r *Repos) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(newRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// notFound converts [sql.ErrNoRows] into [shared.ErrNotFound] naming what was missing.
func notFound(err error, what string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", shared.ErrNotFound, fmt.Sprintf(what, args...))
	}
	return err
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// integrity wraps unique-constraint failures as [shared.ErrDataIntegrity].
func integrity(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s: %v", shared.ErrDataIntegrity, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// mustAffect returns [shared.ErrNotFound] when res touched no rows.
func mustAffect(res sql.Result, what string, args ...any) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrNotFound, fmt.Sprintf(what, args...))
	}
	return nil
}
