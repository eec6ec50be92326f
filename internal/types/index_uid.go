// Package types holds identifiers shared across the metastore, indexing,
// merge, and search packages.
package types

import (
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// IndexUID pairs a human chosen index_id with a ULID incarnation. Recreating
// a deleted index with the same index_id yields a new incarnation, so stale
// references (a pipeline still holding the old IndexUID, a cached split
// metadata entry) can never be mistaken for the new index.
type IndexUID struct {
	IndexID     string
	Incarnation ulid.ULID
}

// NewIndexUID mints a fresh incarnation for index_id.
func NewIndexUID(indexID string) IndexUID {
	return IndexUID{IndexID: indexID, Incarnation: ulid.Make()}
}

// String renders the canonical "index_id:incarnation" form.
func (u IndexUID) String() string {
	return u.IndexID + ":" + u.Incarnation.String()
}

// ParseIndexUID parses the "index_id:incarnation" form produced by String.
func ParseIndexUID(s string) (IndexUID, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return IndexUID{}, fmt.Errorf("types: malformed index uid %q: missing incarnation", s)
	}
	incarnation, err := ulid.ParseStrict(s[i+1:])
	if err != nil {
		return IndexUID{}, fmt.Errorf("types: malformed index uid %q: %w", s, err)
	}
	return IndexUID{IndexID: s[:i], Incarnation: incarnation}, nil
}

// IsEmpty reports whether u is the zero value.
func (u IndexUID) IsEmpty() bool {
	return u.IndexID == "" && u.Incarnation == (ulid.ULID{})
}
