package metastore

// FilterRange is an inclusive/exclusive bound pair over an ordered field.
// A nil bound means unbounded on that side.
type FilterRange struct {
	GreaterThan      *int64
	GreaterOrEqual   *int64
	LessThan         *int64
	LessOrEqual      *int64
}

// IsUnbounded reports whether neither bound is set.
func (r FilterRange) IsUnbounded() bool {
	return r.GreaterThan == nil && r.GreaterOrEqual == nil && r.LessThan == nil && r.LessOrEqual == nil
}

// Contains reports whether value satisfies every bound set on r.
func (r FilterRange) Contains(value int64) bool {
	if r.GreaterThan != nil && value <= *r.GreaterThan {
		return false
	}
	if r.GreaterOrEqual != nil && value < *r.GreaterOrEqual {
		return false
	}
	if r.LessThan != nil && value >= *r.LessThan {
		return false
	}
	if r.LessOrEqual != nil && value > *r.LessOrEqual {
		return false
	}
	return true
}

// ListSplitsQuery is a fluent builder for list_splits filters: split state
// set, time-range overlap, tag AST, update-timestamp range, delete-opstamp
// range, maturity at an instant, and node_id -- every axis named in
// spec.md §4.1. Shaped after the original metastore's ListSplitsQuery
// builder (SUPPLEMENTED FEATURES §3 of SPEC_FULL.md).
type ListSplitsQuery struct {
	IndexUIDs []string // index_uid.String(); FileMetastore.ListSplits requires exactly one entry

	SplitStates []SplitState

	// TimeRangeFrom/To define the half-open query range; nil means unbounded
	// on that side. A split with no TimeRange always matches, regardless of
	// these bounds (spec.md §4.1).
	TimeRangeFrom *int64
	TimeRangeTo   *int64

	TagFilter TagFilterAST

	UpdateTimestamp FilterRange
	DeleteOpstamp   FilterRange

	// MaturityAt, if set, restricts to splits whose maturity as of this
	// instant matches MatureOnly/ImmatureOnly (mutually exclusive); zero
	// value means "don't filter on maturity".
	MaturityAt   *int64 // unix seconds
	MatureOnly   bool
	ImmatureOnly bool

	NodeID string

	Limit  int
	Offset int
}

// ForIndex returns a query scoped to a single index_uid with every other
// filter unset, mirroring the original's `ListSplitsQuery::for_index`.
func ForIndex(indexUID string) ListSplitsQuery {
	return ListSplitsQuery{IndexUIDs: []string{indexUID}}
}

// WithSplitState adds state to the set of acceptable split states.
func (q ListSplitsQuery) WithSplitState(state SplitState) ListSplitsQuery {
	q.SplitStates = append(append([]SplitState(nil), q.SplitStates...), state)
	return q
}

// WithSplitStates sets the acceptable split states.
func (q ListSplitsQuery) WithSplitStates(states ...SplitState) ListSplitsQuery {
	q.SplitStates = append([]SplitState(nil), states...)
	return q
}

// WithDeleteOpstampLessThan restricts to splits whose delete_opstamp is
// strictly less than opstamp -- the "stale splits" filter used by the
// Delete Task Executor.
func (q ListSplitsQuery) WithDeleteOpstampLessThan(opstamp uint64) ListSplitsQuery {
	v := int64(opstamp)
	q.DeleteOpstamp.LessThan = &v
	return q
}

// WithTagFilter restricts to splits whose tag set matches the AST.
func (q ListSplitsQuery) WithTagFilter(ast TagFilterAST) ListSplitsQuery {
	q.TagFilter = ast
	return q
}

// WithTimeRange restricts to splits overlapping the half-open [from, to).
func (q ListSplitsQuery) WithTimeRange(from, to int64) ListSplitsQuery {
	q.TimeRangeFrom, q.TimeRangeTo = &from, &to
	return q
}

// matchesSplit reports whether split satisfies every filter set on q,
// except for the index_uid scoping (the caller is expected to have already
// partitioned splits by index before calling this).
func (q ListSplitsQuery) matchesSplit(s Split) bool {
	if len(q.SplitStates) > 0 {
		found := false
		for _, state := range q.SplitStates {
			if s.State == state {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.TimeRangeFrom != nil || q.TimeRangeTo != nil {
		if s.SplitMetadata.TimeRange != nil {
			from := int64(minInt64)
			to := int64(maxInt64)
			if q.TimeRangeFrom != nil {
				from = *q.TimeRangeFrom
			}
			if q.TimeRangeTo != nil {
				to = *q.TimeRangeTo
			}
			if !s.SplitMetadata.TimeRange.Overlaps(from, to) {
				return false
			}
		}
		// A split with no TimeRange always matches (spec.md §4.1).
	}
	if q.TagFilter != nil && !q.TagFilter.Matches(s.SplitMetadata.Tags) {
		return false
	}
	if !q.UpdateTimestamp.IsUnbounded() && !q.UpdateTimestamp.Contains(s.UpdateTimestamp.Unix()) {
		return false
	}
	if !q.DeleteOpstamp.IsUnbounded() && !q.DeleteOpstamp.Contains(int64(s.SplitMetadata.DeleteOpstamp)) {
		return false
	}
	if q.MaturityAt != nil {
		at := unixToTime(*q.MaturityAt)
		mature := s.SplitMetadata.Maturity.IsMatureAt(at)
		if q.MatureOnly && !mature {
			return false
		}
		if q.ImmatureOnly && mature {
			return false
		}
	}
	if q.NodeID != "" && s.SplitMetadata.NodeID != q.NodeID {
		return false
	}
	return true
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)

// TagFilterAST is a boolean expression tree over a split's bounded tag set,
// used to prune splits before a search fans out to them. The concrete query
// language (the doc-mapper's tag pruning AST) is an out-of-scope external
// collaborator; we depend only on this minimal interface.
type TagFilterAST interface {
	Matches(tags []string) bool
}

// TagAnd requires every child to match.
type TagAnd []TagFilterAST

func (a TagAnd) Matches(tags []string) bool {
	for _, child := range a {
		if !child.Matches(tags) {
			return false
		}
	}
	return true
}

// TagOr requires at least one child to match.
type TagOr []TagFilterAST

func (o TagOr) Matches(tags []string) bool {
	for _, child := range o {
		if child.Matches(tags) {
			return true
		}
	}
	return false
}

// TagTerm matches if tags contains the exact value.
type TagTerm string

func (t TagTerm) Matches(tags []string) bool {
	for _, tag := range tags {
		if tag == string(t) {
			return true
		}
	}
	return false
}
