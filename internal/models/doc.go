// Package models defines the persisted entity graph for universal playlists.
//
// Provider entities ([Source], [Track], [Album], [Artist]) are content-addressed by their canonical [Key],
// (provider, provider-native id), and exist exactly once across the whole system.
//
// Associations are explicit rows with their own integer ids:
//   - [Attachment] : playlist ↔ source, with the last sync outcome
//   - [PlaylistTrack] : playlist ↔ track, carrying a contiguous zero-based position
//   - [BlacklistEntry] : playlist ↔ track exclusions with an optional reason
//   - [Mirror] : playlist ↔ provider-side copy created on the user's behalf
//
// [ServiceAccount] is the credential record, one per (user, provider).
package models
