package metastore

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quickwit-oss/quickwit-go/internal/types"
)

// SplitState is the durable lifecycle state of a Split. A split row exists
// in the metastore iff it may still have files in object storage
// (invariant I1 of spec.md §3).
type SplitState string

const (
	// SplitStaged means the split's bundle may be in the process of being
	// uploaded; its files may already exist, partially or fully.
	SplitStaged SplitState = "staged"
	// SplitPublished means the bundle is fully uploaded and searchable.
	SplitPublished SplitState = "published"
	// SplitMarkedForDeletion means cleanup is pending; the janitor owns
	// removing the object-storage files and then the row itself.
	SplitMarkedForDeletion SplitState = "marked_for_deletion"
)

// TimeRange is an inclusive [Min, Max] range over a split's timestamp field.
// A split built from documents with no timestamp field has no TimeRange.
type TimeRange struct {
	Min int64
	Max int64
}

// Overlaps reports whether the half-open query range [from, to) intersects
// the split's inclusive [Min, Max] range. This mirrors the boundary
// semantics of the original single-file metastore's `is_disjoint` helper
// (SUPPLEMENTED FEATURES §7 of SPEC_FULL.md): the query range is half-open,
// the stored range is inclusive.
func (tr TimeRange) Overlaps(from, to int64) bool {
	disjoint := to <= tr.Min || tr.Max < from
	return !disjoint
}

// Maturity classifies whether a Published split is still eligible for
// merging. Mature splits are never merged (spec.md §4.3).
type Maturity struct {
	Mature       bool
	MaturationAt time.Time // meaningful only when !Mature
}

// IsMatureAt reports the split's maturity as observed at instant t.
func (m Maturity) IsMatureAt(t time.Time) bool {
	return m.Mature || !t.Before(m.MaturationAt)
}

// FooterOffsets is the byte range of a split bundle's footer within the
// bundle object, per the wire format in spec.md §6.
type FooterOffsets struct {
	Start uint64
	End   uint64
}

// SplitMetadata is the immutable value object describing one split. Of its
// fields only DeleteOpstamp ever changes after staging (the split's State and
// UpdateTimestamp, which also change, live on Split); every other field is
// fixed at stage_splits time (spec.md §3, "Ownership & lifecycle").
type SplitMetadata struct {
	SplitID                 ulid.ULID
	IndexUID                types.IndexUID
	SourceID                string
	NodeID                  string
	NumDocs                 uint64
	UncompressedDocsSizeBytes uint64
	TimeRange               *TimeRange // nil if the doc mapping has no timestamp field
	CreateTimestamp         time.Time
	Maturity                Maturity
	Tags                    []string
	DeleteOpstamp           uint64
	FooterOffsets           FooterOffsets
}

// Split couples SplitMetadata with the mutable bookkeeping the metastore
// owns: its lifecycle state, when it was last mutated, and -- once
// published -- when that happened.
type Split struct {
	SplitMetadata   SplitMetadata
	State           SplitState
	UpdateTimestamp time.Time
	PublishTimestamp *time.Time
}

// Clone returns a deep-enough copy for safe return from a Metastore read,
// so callers cannot mutate the metastore's internal state by mutating the
// returned value (the in-memory single-file backend shares this concern
// with any cache).
func (s Split) Clone() Split {
	clone := s
	if s.SplitMetadata.TimeRange != nil {
		tr := *s.SplitMetadata.TimeRange
		clone.SplitMetadata.TimeRange = &tr
	}
	if len(s.SplitMetadata.Tags) > 0 {
		clone.SplitMetadata.Tags = append([]string(nil), s.SplitMetadata.Tags...)
	}
	if s.PublishTimestamp != nil {
		t := *s.PublishTimestamp
		clone.PublishTimestamp = &t
	}
	return clone
}
