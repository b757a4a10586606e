package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/stacklok/record-sync/internal/record"
)

// PageCursor is the continuation state of one full-sync session.
// It is never persisted: a restarted full sync begins again from the top.
type PageCursor struct {
	// BoundaryID is the exclusive upper bound of the next page. Nil starts from the highest ID.
	BoundaryID *record.ID `json:"boundaryId,omitempty"`
	// HasMore is false once the source is exhausted below BoundaryID.
	HasMore bool `json:"hasMore"`
}

func (c PageCursor) String() string {
	if c.BoundaryID == nil {
		return fmt.Sprintf("start(hasMore=%t)", c.HasMore)
	}
	return fmt.Sprintf("before(%d, hasMore=%t)", *c.BoundaryID, c.HasMore)
}

// IDRange is an inclusive partition of the source ID space.
type IDRange struct {
	Min record.ID `json:"min"`
	Max record.ID `json:"max"`
}

// Contains reports whether id falls in the range
func (r IDRange) Contains(id record.ID) bool {
	return id >= r.Min && id <= r.Max
}

// Stats are the per-call counters returned by both syncers.
type Stats struct {
	// Read is the number of records returned by the source, sentinel excluded
	Read int `json:"read"`
	// Written is the number of records upserted into the target
	Written int `json:"written"`
	// Replaced is the subset of Written that overwrote an existing target record
	Replaced int `json:"replaced"`
	// Malformed is the number of records skipped because they failed validation
	Malformed int `json:"malformed"`
}

// Add accumulates other into s
func (s *Stats) Add(other Stats) {
	s.Read += other.Read
	s.Written += other.Written
	s.Replaced += other.Replaced
	s.Malformed += other.Malformed
}

// PageResult is the outcome of one SyncPage or SyncRange call.
type PageResult struct {
	Stats
	// Records are the records of this page written to the target, in source order
	Records []record.Record
	// Skipped holds one error per malformed record
	Skipped []*record.MalformedRecordError
	// NextCursor is the cursor for the following page
	NextCursor PageCursor
}

// DeltaResult is the outcome of one SyncSince call.
type DeltaResult struct {
	Stats
	// Changed are the records found in the window and written to the target
	Changed []record.Record
	// Skipped holds one error per malformed record
	Skipped []*record.MalformedRecordError
	// NewWatermark is max(watermark, max UpdatedAt over Changed)
	NewWatermark time.Time
}

// ErrConfiguration is matched by every ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("invalid sync configuration")

// ErrCursorStalled is returned when a page cannot move the cursor strictly downwards.
// Retrying would loop forever, so the full-sync session is abandoned instead.
var ErrCursorStalled = errors.New("pagination cursor did not advance")

// ConfigurationError reports an invalid sync parameter. It is fatal: the
// orchestrator refuses to start instead of retrying.
type ConfigurationError struct {
	Field  string
	Reason string
}

// NewConfigurationError creates a ConfigurationError for field
func NewConfigurationError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrConfiguration) work for wrapped ConfigurationErrors.
func (*ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// IsConfigurationError reports whether err should stop the orchestrator
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
