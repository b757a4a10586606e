// Package record defines the record model shared by the source and target stores.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"
)

// ID identifies a record in the source store.
// IDs are an append-only sequence assigned by the source on insert. They are the
// declared pagination key, so a larger ID means "inserted later", never "updated later".
type ID int64

// Valid reports whether the ID was assigned by a store
func (id ID) Valid() bool {
	return id > 0
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Fields is the opaque application payload of a record.
type Fields map[string]any

// Record is a single source/target entry.
type Record struct {
	// ID is assigned by the source store and never changes
	ID ID `json:"id"`

	// Fields are copied verbatim between stores
	Fields Fields `json:"fields"`

	// CreatedAt is set by the source store on insert
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is set by the source store on every write
	UpdatedAt time.Time `json:"updatedAt"`

	// DecodeErr is set by a store that read the row but could not decode its fields
	DecodeErr error `json:"-"`
}

// Clone returns a copy of the record whose Fields map can be modified independently.
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = maps.Clone(r.Fields)
	}
	return out
}

// Validate returns a *MalformedRecordError if the record lacks an ID or an UpdatedAt timestamp.
func (r Record) Validate() error {
	switch {
	case r.DecodeErr != nil:
		return &MalformedRecordError{ID: r.ID, Reason: "undecodable fields: " + r.DecodeErr.Error()}
	case !r.ID.Valid():
		return &MalformedRecordError{ID: r.ID, Reason: "missing id"}
	case r.UpdatedAt.IsZero():
		return &MalformedRecordError{ID: r.ID, Reason: "missing updatedAt"}
	}
	return nil
}

// DecodeFields decodes a JSON object stored by a backend. Numbers are kept as
// json.Number so integers beyond 2^53 are copied exactly.
func DecodeFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var f Fields
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after the fields object")
	}
	if f == nil {
		f = Fields{}
	}
	return f, nil
}

// ErrMalformedRecord is matched by every MalformedRecordError via errors.Is.
var ErrMalformedRecord = errors.New("malformed record")

// MalformedRecordError reports a record that cannot be synced.
// The offending record is skipped; the rest of its page or batch proceeds.
type MalformedRecordError struct {
	ID     ID
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record (id=%d): %s", e.ID, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedRecord) work for wrapped MalformedRecordErrors.
func (*MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}
