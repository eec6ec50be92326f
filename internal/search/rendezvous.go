// Package search implements the rendezvous-hashing split-to-node placer
// and the root->leaf cluster search client of spec.md §4.5-§4.6. The
// concrete SearchService transport (gRPC) is an out-of-scope external
// collaborator per spec.md §1; this package depends only on the
// SearchServiceClient interface declared in client.go.
package search

import (
	"hash/fnv"
	"sort"
)

// nodeAffinity computes the rendezvous-hash affinity of node for key: a
// higher value means a higher affinity. Grounded on the original's
// node_affinity (SipHash of key then node); we use FNV-1a over the
// concatenation since this repo has no SipHash dependency in the pack and
// FNV gives the same "stable permutation per key" property rendezvous
// hashing needs -- it is not used for anything security-sensitive.
func nodeAffinity(node, key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	_, _ = h.Write([]byte{0}) // separator so ("ab","c") != ("a","bc")
	_, _ = h.Write([]byte(node))
	return h.Sum64()
}

// sortByRendezvousHash orders nodes by decreasing affinity with key, the
// same stable permutation every caller computing affinity for the same key
// observes (spec.md §4.5: "sort N by rendezvous hash(node_addr, split_id)
// descending").
func sortByRendezvousHash(nodes []string, key string) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodeAffinity(nodes[i], key) > nodeAffinity(nodes[j], key)
	})
}

// BestNodesByAffinity returns every node in nodes ordered by decreasing
// affinity with affinityKey, a simpler primitive than AssignJobs with no
// load balancing (spec.md §4.5, SUPPLEMENTED FEATURES §4 of SPEC_FULL.md:
// the original's best_nodes_per_affinity). RouteReportedSplits does not
// call it; it sorts with sortByRendezvousHash directly.
func BestNodesByAffinity(nodes []string, affinityKey string) []string {
	out := append([]string(nil), nodes...)
	sortByRendezvousHash(out, affinityKey)
	return out
}
