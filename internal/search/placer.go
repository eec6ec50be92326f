package search

import (
	"fmt"
	"sort"
)

// Job is the unit in which distributed search work is placed: a split to
// search and an estimated cost used to spread work evenly (spec.md §4.5).
type Job struct {
	SplitID string
	Cost    int
}

// compareCost orders jobs by decreasing cost, breaking ties by split_id,
// mirroring the original's Job::compare_cost (spec.md §4.5 step 1).
func compareCost(a, b Job) bool {
	if a.Cost != b.Cost {
		return a.Cost > b.Cost
	}
	return a.SplitID < b.SplitID
}

// allowedOvershootPercent is the 5% upper bound on target load per node
// (spec.md §4.5 step 2: "target_load_per_node = ceil(total*105/(|N|*100))").
const allowedOvershootPercent = 105

// Assignment is one node's share of a placed job batch.
type Assignment struct {
	Node string
	Jobs []Job
}

// SearchJobPlacer assigns split search jobs to searcher nodes using
// rendezvous hashing with a bounded load imbalance (spec.md §4.5).
type SearchJobPlacer struct {
	// Nodes lists every live searcher node's address. Callers refresh this
	// as the searcher pool changes; SearchJobPlacer holds no internal pool
	// of its own connections (the concrete SearchServiceClient is an
	// out-of-scope external collaborator).
	Nodes []string
}

// AssignJobs groups jobs into per-node Assignments, excluding any node
// address in excludedAddrs unless doing so would exclude every node (spec.md
// §4.5, and the original's "When exclude_addresses filters all clients it
// is ignored").
func (p *SearchJobPlacer) AssignJobs(jobs []Job, excludedAddrs map[string]bool) ([]Assignment, error) {
	candidates := make([]string, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		if len(excludedAddrs) > 0 && len(excludedAddrs) < len(p.Nodes) && excludedAddrs[n] {
			continue
		}
		candidates = append(candidates, n)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("search: failed to assign search jobs: there are no available searcher nodes in the pool")
	}

	sorted := append([]Job(nil), jobs...)
	sort.SliceStable(sorted, func(i, j int) bool { return compareCost(sorted[i], sorted[j]) })

	var totalLoad int
	for _, j := range sorted {
		totalLoad += j.Cost
	}
	// Ceiling division: target*num_nodes must never fall below total_load.
	targetLoad := (totalLoad*allowedOvershootPercent + len(candidates)*100 - 1) / (len(candidates) * 100)

	load := make(map[string]int, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, n := range candidates {
		load[n] = 0
		order = append(order, n)
	}

	assigned := make(map[string][]Job, len(candidates))
	for _, job := range sorted {
		ranked := append([]string(nil), order...)
		sortByRendezvousHash(ranked, job.SplitID)

		chosen := ranked[0]
		for _, n := range ranked {
			if load[n] < targetLoad {
				chosen = n
				break
			}
		}
		load[chosen] += job.Cost
		assigned[chosen] = append(assigned[chosen], job)
	}

	out := make([]Assignment, 0, len(assigned))
	for _, n := range candidates {
		if jobs, ok := assigned[n]; ok {
			out = append(out, Assignment{Node: n, Jobs: jobs})
		}
	}
	return out, nil
}

// AssignJob places a single job, a convenience wrapper over AssignJobs used
// by the cluster client's retry path (spec.md §4.6).
func (p *SearchJobPlacer) AssignJob(job Job, excludedAddrs map[string]bool) (string, error) {
	assignments, err := p.AssignJobs([]Job{job}, excludedAddrs)
	if err != nil {
		return "", err
	}
	return assignments[0].Node, nil
}

// ReportSplit is one freshly observed split, reported so its top-rendezvous
// node can prefetch the footer (spec.md §4.5).
type ReportSplit struct {
	IndexID string
	SplitID string
}

// RouteReportedSplits groups splits by the single top-affinity node for
// each, per spec.md §4.5: "route each to its top-rendezvous node so that
// node can prefetch the footer." Returns nothing if nodes is empty.
func (p *SearchJobPlacer) RouteReportedSplits(splits []ReportSplit) map[string][]ReportSplit {
	if len(p.Nodes) == 0 {
		return nil
	}
	out := make(map[string][]ReportSplit)
	for _, s := range splits {
		ranked := append([]string(nil), p.Nodes...)
		sortByRendezvousHash(ranked, s.SplitID)
		top := ranked[0]
		out[top] = append(out[top], s)
	}
	return out
}

// IndexedJob is a Job paired with the index it belongs to, for batches that
// mix splits from several indexes (spec.md §4.6's root search fan-out).
type IndexedJob struct {
	IndexUID string
	Job      Job
}

// GroupByIndex groups a mixed batch of jobs by IndexUID after sorting,
// mirroring the original's group_jobs_by_index_id / group_by helpers
// (SUPPLEMENTED FEATURES §5 of SPEC_FULL.md). The returned groups are in
// descending IndexUID order, each internally in input order.
func GroupByIndex(jobs []IndexedJob) [][]IndexedJob {
	if len(jobs) == 0 {
		return nil
	}
	sorted := append([]IndexedJob(nil), jobs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].IndexUID > sorted[j].IndexUID })

	var groups [][]IndexedJob
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i == len(sorted) || sorted[i].IndexUID != sorted[start].IndexUID {
			groups = append(groups, sorted[start:i])
			start = i
		}
	}
	return groups
}
