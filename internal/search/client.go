package search

import (
	"context"

	"go.uber.org/zap"
)

// PartialHit is an opaque per-document hit descriptor; the concrete ranking
// payload is owned by the out-of-scope query/doc-mapper layer (spec.md §1).
type PartialHit struct {
	SplitID string
	DocID   uint32
	Score   float64
}

// IntermediateAgg is the opaque, associatively-mergeable intermediate state
// of one aggregation. The aggregation semantics themselves are an
// out-of-scope external collaborator; MergeFunc below is supplied by that
// collaborator and must be associative (spec.md §4.6, P8).
type IntermediateAgg []byte

// MergeFunc combines two intermediate aggregation states. Must be
// associative: Merge(Merge(a,b),c) == Merge(a,Merge(b,c)).
type MergeFunc func(a, b IntermediateAgg) (IntermediateAgg, error)

// LeafSearchResponse is the result of leaf_search against one or more
// splits (spec.md §4.6).
type LeafSearchResponse struct {
	NumHits             uint64
	PartialHits         []PartialHit
	FailedSplits        []string
	IntermediateAgg     IntermediateAgg
	NumAttemptedSplits  uint64
}

// FetchDocsResponse is the result of leaf_fetch_docs.
type FetchDocsResponse struct {
	Docs         [][]byte
	FailedSplits []string
}

// LeafSearchRequest names the splits a leaf_search call targets.
type LeafSearchRequest struct {
	SplitIDs []string
}

// FetchDocsRequest names the splits a leaf_fetch_docs call targets.
type FetchDocsRequest struct {
	SplitIDs []string
}

// SearchServiceClient is the out-of-scope external collaborator a
// ClusterClient issues leaf requests against: one instance per live
// searcher node (spec.md §1, "REST/gRPC serialization" is out of scope; we
// depend only on this interface).
type SearchServiceClient interface {
	LeafSearch(ctx context.Context, req LeafSearchRequest) (LeafSearchResponse, error)
	FetchDocs(ctx context.Context, req FetchDocsRequest) (FetchDocsResponse, error)
}

// ClientPool resolves a node address to its SearchServiceClient.
type ClientPool interface {
	Client(node string) (SearchServiceClient, bool)
}

// ClusterClient issues root->leaf search requests, retrying at most once on
// a different searcher when the first attempt fails outright or returns a
// partial failure (spec.md §4.6).
type ClusterClient struct {
	Placer *SearchJobPlacer
	Pool   ClientPool
	Merge  MergeFunc
	Logger *zap.Logger
}

func (c *ClusterClient) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// LeafSearch calls node with req; on total failure or a response naming
// failed_splits, it selects a different node (excluding node) via the
// placer and retries only the failed splits, then merges the two responses
// (spec.md §4.6 steps 1-4; P8).
func (c *ClusterClient) LeafSearch(ctx context.Context, req LeafSearchRequest, node string, cost int) (LeafSearchResponse, error) {
	client, ok := c.Pool.Client(node)
	if !ok {
		return LeafSearchResponse{}, &unavailableError{node: node}
	}
	resp, err := client.LeafSearch(ctx, req)

	residualSplits := err != nil
	var failed []string
	if err == nil {
		failed = resp.FailedSplits
		residualSplits = len(failed) > 0
	} else {
		failed = req.SplitIDs
	}
	if !residualSplits {
		return resp, nil
	}

	retryNode, retryErr := c.Placer.AssignJob(Job{SplitID: failed[0], Cost: cost}, map[string]bool{node: true})
	if retryErr != nil {
		if err != nil {
			return LeafSearchResponse{}, err
		}
		return resp, nil
	}
	retryClient, ok := c.Pool.Client(retryNode)
	if !ok {
		if err != nil {
			return LeafSearchResponse{}, err
		}
		return resp, nil
	}

	c.logger().Debug("leaf_search retrying failed splits on peer",
		zap.String("original_node", node), zap.String("retry_node", retryNode), zap.Strings("splits", failed))

	retryResp, retryCallErr := retryClient.LeafSearch(ctx, LeafSearchRequest{SplitIDs: failed})
	return c.mergeLeafSearch(resp, err, retryResp, retryCallErr)
}

// mergeLeafSearch implements merge_leaf_search_results: when both sides
// succeed, concatenate partial_hits, sum num_hits, take failed_splits from
// the retry response, and merge aggregation states via Merge (spec.md §4.6
// step 4; P8). When one side errored outright, the other's response is
// used as-is (the original's "single valid response" fallback).
func (c *ClusterClient) mergeLeafSearch(left LeafSearchResponse, leftErr error, right LeafSearchResponse, rightErr error) (LeafSearchResponse, error) {
	switch {
	case leftErr == nil && rightErr == nil:
		merged := LeafSearchResponse{
			NumHits:            left.NumHits + right.NumHits,
			PartialHits:        append(append([]PartialHit(nil), left.PartialHits...), right.PartialHits...),
			FailedSplits:       right.FailedSplits,
			NumAttemptedSplits: left.NumAttemptedSplits + right.NumAttemptedSplits,
		}
		agg, err := c.mergeAgg(left.IntermediateAgg, right.IntermediateAgg)
		if err != nil {
			return LeafSearchResponse{}, err
		}
		merged.IntermediateAgg = agg
		return merged, nil
	case leftErr == nil:
		return left, nil
	case rightErr == nil:
		return right, nil
	default:
		return LeafSearchResponse{}, leftErr
	}
}

func (c *ClusterClient) mergeAgg(left, right IntermediateAgg) (IntermediateAgg, error) {
	switch {
	case len(left) == 0 && len(right) == 0:
		return nil, nil
	case len(left) == 0:
		return right, nil
	case len(right) == 0:
		return left, nil
	case c.Merge != nil:
		return c.Merge(left, right)
	default:
		return right, nil
	}
}

// FetchDocs calls node with req; on any error it retries the whole request
// on a different node (spec.md §4.6: "fetch_docs retries the whole request
// on any error").
func (c *ClusterClient) FetchDocs(ctx context.Context, req FetchDocsRequest, node string, cost int) (FetchDocsResponse, error) {
	client, ok := c.Pool.Client(node)
	if !ok {
		return FetchDocsResponse{}, &unavailableError{node: node}
	}
	resp, err := client.FetchDocs(ctx, req)
	if err == nil {
		return resp, nil
	}

	splitKey := node
	if len(req.SplitIDs) > 0 {
		splitKey = req.SplitIDs[0]
	}
	retryNode, retryErr := c.Placer.AssignJob(Job{SplitID: splitKey, Cost: cost}, map[string]bool{node: true})
	if retryErr != nil {
		return FetchDocsResponse{}, err
	}
	retryClient, ok := c.Pool.Client(retryNode)
	if !ok {
		return FetchDocsResponse{}, err
	}
	c.logger().Debug("fetch_docs retrying whole request on peer",
		zap.String("original_node", node), zap.String("retry_node", retryNode))
	return retryClient.FetchDocs(ctx, req)
}

type unavailableError struct{ node string }

func (e *unavailableError) Error() string { return "search: no client available for node " + e.node }

// LeafSearchStreamResponse is one chunk of a streamed leaf_search_stream
// response, tagged with the split it came from so the retry path can tell
// which splits were already seen.
type LeafSearchStreamResponse struct {
	SplitID string
	Payload []byte
}

// StreamingSearchServiceClient is the streaming counterpart of
// SearchServiceClient's LeafSearch, modeled as a push callback instead of a
// channel/iterator so callers can drive it synchronously or from their own
// goroutine.
type StreamingSearchServiceClient interface {
	LeafSearchStream(ctx context.Context, req LeafSearchRequest, yield func(LeafSearchStreamResponse) error) error
}

// StreamingClientPool resolves a node address to its streaming client.
type StreamingClientPool interface {
	StreamingClient(node string) (StreamingSearchServiceClient, bool)
}

// LeafSearchStream streams chunks from node via yield; on any error it
// retries only the split_ids not yet seen in a chunk, on a different node,
// streaming the residual chunks through the same yield (spec.md §4.6:
// "leaf_search_stream retries only unseen split_ids"). At most one retry is
// issued.
func (c *ClusterClient) LeafSearchStream(ctx context.Context, req LeafSearchRequest, node string, cost int, pool StreamingClientPool, yield func(LeafSearchStreamResponse) error) error {
	client, ok := pool.StreamingClient(node)
	if !ok {
		return &unavailableError{node: node}
	}

	seen := make(map[string]bool, len(req.SplitIDs))
	streamErr := client.LeafSearchStream(ctx, req, func(r LeafSearchStreamResponse) error {
		seen[r.SplitID] = true
		return yield(r)
	})
	if streamErr == nil {
		return nil
	}

	var residual []string
	for _, id := range req.SplitIDs {
		if !seen[id] {
			residual = append(residual, id)
		}
	}
	if len(residual) == 0 {
		return streamErr
	}

	retryNode, err := c.Placer.AssignJob(Job{SplitID: residual[0], Cost: cost}, map[string]bool{node: true})
	if err != nil {
		return streamErr
	}
	retryClient, ok := pool.StreamingClient(retryNode)
	if !ok {
		return streamErr
	}
	c.logger().Debug("leaf_search_stream retrying unseen splits on peer",
		zap.String("original_node", node), zap.String("retry_node", retryNode), zap.Strings("splits", residual))
	return retryClient.LeafSearchStream(ctx, LeafSearchRequest{SplitIDs: residual}, yield)
}
