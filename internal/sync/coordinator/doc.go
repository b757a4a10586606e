// Package coordinator runs the sync state machine of a pipeline.
//
// A pipeline is in one of three phases:
//
//   - Uninitialized: nothing has run in this process yet
//   - FullSync: the source is being copied page by page
//   - SteadyState: a full sync has completed and delta cycles run on a timer
//
// On every cycle the coordinator reads the persisted status. If no full sync has
// ever completed, or an operator asked for one through RequestFullSync, it runs a
// full sync; otherwise it runs one delta cycle from the persisted watermark.
//
// # Full sync
//
// A full sync drives PaginatedSyncer until the cursor reports no more pages. With
// sync.fullSyncPartitions above one, the ID span of the source is split into
// disjoint ranges copied concurrently with an errgroup. When the copy completes,
// the watermark becomes the later of its current value and the time the full sync
// started, so writes made during the copy are replayed by the first delta cycle.
//
// The cursor lives in memory only. A failed page keeps it, and the next cycle
// resumes at that page. A restarted process starts the full sync again from the
// top.
//
// # Scheduling
//
// Cycles run on a fixed delay: the timer is reset after each cycle ends, with an
// optional random jitter. A weighted semaphore of size one admits a single cycle
// at a time, so a full sync and a delta cycle never overlap. RequestFullSync wakes
// the loop without waiting for the timer. A request made while a full sync is
// running is kept, and another full sync follows the one in progress.
//
// A stop is honoured between pages. The page or delta window in flight finishes,
// and the watermark or completion flag it produced is persisted.
//
// # Errors
//
// Transient store errors are retried with exponential backoff. When the retries
// run out the cycle ends, the status records the failure, and the next cycle tries
// again from the same cursor or watermark. The same holds for the state backend:
// if it cannot be reached at startup, each cycle retries its initialization. Only
// a configuration error stops Start.
package coordinator
