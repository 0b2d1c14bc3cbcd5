// Package repositories implements SQLite persistence for the universal playlist entity graph.
//
// Every repository is bound to a [sqlx.ExtContext], so the same code runs against the
// database handle or inside a transaction. [Store.Atomic] is the transaction boundary
// used by the reconciliation engine: one call per source phase.
//
// Key Implementations:
//   - [ServiceRepository] : per-(user, provider) credential rows and pending OAuth state
//   - [SourceRepository] : canonical sources, playlist attachments, source ↔ track attribution
//   - [TrackRepository], [ArtistRepository], [AlbumRepository] : look-up-or-create by canonical key
//   - [PlaylistRepository] : playlists and the ordered track association (append, renumber, integrity check)
//   - [BlacklistRepository], [MirrorRepository] : exclusions and provider-side copies
//
// Canonical uniqueness is enforced by UNIQUE constraints and INSERT ... ON CONFLICT,
// never by read-then-write. Constraint failures surface as [shared.ErrDataIntegrity]
// and missing rows as [shared.ErrNotFound].
package repositories
