// Package sync implements the two units of synchronization work: copying the
// source into the target page by page, and replaying the records that changed
// since a watermark.
//
// # Full sync
//
// PaginatedSyncer.SyncPage reads at most limit records in descending ID order,
// strictly below the cursor boundary, and upserts them into the target. The
// returned PageCursor carries the boundary of the next page and whether one
// exists. A cursor is only meaningful within one full-sync session.
//
// SyncRange runs the same algorithm inside an inclusive IDRange so a full sync
// can be split into disjoint partitions that progress independently.
//
// # Delta sync
//
// DeltaSyncer.SyncSince upserts every record with UpdatedAt after
// watermark - overlap and returns the new watermark, which never moves backwards.
//
// # Errors
//
// Both syncers return their results by value and never persist anything; the
// caller owns the cursor and the watermark. A failed read or write returns an
// error and the caller keeps its previous cursor or watermark, so the same page
// or window is retried. Records failing record.Validate are skipped, reported in
// the result and counted in Stats.Malformed. Invalid parameters return a
// *ConfigurationError.
//
// Scheduling, retries and state persistence live in the coordinator subpackage.
package sync
