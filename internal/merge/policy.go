// Package merge implements the per-(index_uid, source_id, node_id) merge
// pipeline of spec.md §4.3: a Merge Planner applying a MergePolicy to the
// set of immature Published splits, a Downloader fetching source splits
// under a shared throughput limiter, and an Executor performing the N-way
// merge before handing off to the Packager/Uploader/Publisher stages
// already built in internal/indexing.
package merge

import (
	"sort"

	"github.com/quickwit-oss/quickwit-go/internal/metastore"
)

// Candidate is the subset of Split fields the merge policy needs: enough
// to bucket and order splits without requiring the full metastore row.
type Candidate struct {
	SplitID                   string
	NumDocs                   uint64
	UncompressedDocsSizeBytes uint64
	CreateTimestamp           int64
}

// Operation names 2..N existing splits to be replaced by one merged split.
type Operation struct {
	SplitIDs []string
}

// Policy computes MergeOperations from the current set of immature
// Published splits. Implementations must be deterministic and monotone:
// given the same input set they return the same operations, and adding an
// already-Published split to the set never withdraws an operation already
// emitted for a subset that remains present (spec.md §4.3).
type Policy interface {
	Plan(candidates []Candidate) []Operation
}

// StableLogPolicy is the default policy named in spec.md §4.3: splits are
// bucketed into geometric size tiers, and a tier that accumulates at least
// MergeFactor splits is merged, oldest-first. This mirrors a level-based
// log-structured merge scheme (the same shape as an LSM tree's leveled
// compaction), generalized from the teacher's own Planner interface
// (secondary/planner/planner.go: `Plan(indexers, indexes) *Solution`,
// a pure function from current state to a work plan) to this domain's
// size-tiered split grouping.
type StableLogPolicy struct {
	// MergeFactor is how many splits in the same size tier trigger a merge.
	MergeFactor int
	// BaseSizeBytes is the smallest tier's upper bound; tier k covers splits
	// up to BaseSizeBytes * GrowthFactor^k bytes.
	BaseSizeBytes int64
	// GrowthFactor is the geometric ratio between adjacent tiers.
	GrowthFactor float64
}

// DefaultStableLogPolicy returns the policy's default tuning: merge every
// 10 same-tier splits, tiers growing by 8x starting at 1MB.
func DefaultStableLogPolicy() StableLogPolicy {
	return StableLogPolicy{MergeFactor: 10, BaseSizeBytes: 1 << 20, GrowthFactor: 8}
}

func (p StableLogPolicy) tier(bytes uint64) int {
	if bytes <= 0 {
		return 0
	}
	size := float64(p.BaseSizeBytes)
	tier := 0
	for float64(bytes) > size {
		size *= p.GrowthFactor
		tier++
	}
	return tier
}

// Plan groups candidates into size tiers and emits one Operation per tier
// that has reached MergeFactor members, oldest-first within the tier so
// that a long-lived backlog drains in creation order.
func (p StableLogPolicy) Plan(candidates []Candidate) []Operation {
	mergeFactor := p.MergeFactor
	if mergeFactor < 2 {
		mergeFactor = 2
	}
	tiers := make(map[int][]Candidate)
	for _, c := range candidates {
		t := p.tier(c.UncompressedDocsSizeBytes)
		tiers[t] = append(tiers[t], c)
	}

	tierKeys := make([]int, 0, len(tiers))
	for t := range tiers {
		tierKeys = append(tierKeys, t)
	}
	sort.Ints(tierKeys)

	var ops []Operation
	for _, t := range tierKeys {
		members := tiers[t]
		sort.Slice(members, func(i, j int) bool {
			if members[i].CreateTimestamp != members[j].CreateTimestamp {
				return members[i].CreateTimestamp < members[j].CreateTimestamp
			}
			return members[i].SplitID < members[j].SplitID
		})
		for len(members) >= mergeFactor {
			batch := members[:mergeFactor]
			ids := make([]string, len(batch))
			for i, c := range batch {
				ids[i] = c.SplitID
			}
			ops = append(ops, Operation{SplitIDs: ids})
			members = members[mergeFactor:]
		}
	}
	return ops
}

// CandidatesFromSplits converts immature Published splits into planner
// Candidates, filtering out anything not eligible (mature splits are never
// merged, spec.md §4.3).
func CandidatesFromSplits(splits []metastore.Split, asMatureAt func(metastore.Split) bool) []Candidate {
	var out []Candidate
	for _, s := range splits {
		if s.State != metastore.SplitPublished {
			continue
		}
		if asMatureAt(s) {
			continue
		}
		out = append(out, Candidate{
			SplitID:                   s.SplitMetadata.SplitID.String(),
			NumDocs:                   s.SplitMetadata.NumDocs,
			UncompressedDocsSizeBytes: s.SplitMetadata.UncompressedDocsSizeBytes,
			CreateTimestamp:           s.SplitMetadata.CreateTimestamp.Unix(),
		})
	}
	return out
}
