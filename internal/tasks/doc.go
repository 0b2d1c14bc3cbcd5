// Package tasks reconciles universal playlists with their provider sources.
//
// # Reconciliation
//
// [Engine.Sync] walks the sources attached to a playlist. For each one it
//
//  1. asks the provider whether the remote playlist is still accessible; if not,
//     the tracks only that source contributed are removed and the source is detached
//  2. lists the remote tracks, following every page
//  3. diffs them against the tracks the source contributed to this playlist
//  4. normalizes and appends new tracks, skipping blacklisted ones, and removes
//     tracks the remote no longer carries unless another attached source still does
//  5. renumbers positions to 0..n-1, verifies them, and refreshes the source's
//     cached title and artwork
//
// Network calls happen before the source's transaction opens, so no lock is held
// across a provider call. Steps 3 to 5 commit together: a failure rolls back that
// source only, and the run moves on. Outcomes are collected in a [SyncReport].
//
// Provider calls go through [credentials.Store.Do], which refreshes a rejected
// token once. A source whose provider still refuses the credential fails as
// unauthenticated, and later sources on the same provider fail without another attempt.
//
// # Progress Reporting
//
// Long operations accept an optional channel of [ProgressUpdate]. Updates use
// select with default so a slow reader never blocks a sync.
//
// # Scheduling
//
// [Scheduler] runs [Engine.SyncAll] on a cron schedule; playlists sync
// concurrently up to sync.concurrency.
package tasks
