package indexing

import (
	"sync/atomic"
	"time"
)

// ProcessedDoc is the output of mapping one raw document against the
// index's doc mapping: the out-of-scope external collaborator that turns
// schema-less bytes into typed fields (spec.md §1 excludes the doc mapper
// and query engine from this system's scope).
type ProcessedDoc struct {
	Raw          []byte
	Timestamp    *int64 // unix seconds, nil if the mapping has no timestamp field
	PartitionKey string // "" when the index is not partitioned
}

// Mapper turns one raw document into a ProcessedDoc, or reports a parse
// error. It stands in for the doc mapper, an out-of-scope collaborator.
type Mapper func(raw []byte) (ProcessedDoc, error)

// Transform is an optional pre-mapping rewrite of the raw document bytes
// (e.g. a VRL-like script), itself an out-of-scope collaborator configured
// via metastore.Transform.
type Transform func(raw []byte) ([]byte, error)

// DocProcessor parses each document, applies an optional pre-transform,
// and counts parse failures rather than failing the pipeline on one bad
// document (spec.md §4.2: "emits ProcessedDoc ... or a parse-error counter
// bump").
type DocProcessor struct {
	Transform Transform
	Mapper    Mapper

	parseErrors int64
}

// Process runs one raw document through the optional transform and the
// mapper. ok is false when the document was rejected (parse error); the
// error is swallowed into the counter rather than propagated, matching the
// spec's explicit "counter bump, not a pipeline failure" contract.
func (p *DocProcessor) Process(raw []byte) (ProcessedDoc, bool) {
	if p.Transform != nil {
		transformed, err := p.Transform(raw)
		if err != nil {
			atomic.AddInt64(&p.parseErrors, 1)
			return ProcessedDoc{}, false
		}
		raw = transformed
	}
	doc, err := p.Mapper(raw)
	if err != nil {
		atomic.AddInt64(&p.parseErrors, 1)
		return ProcessedDoc{}, false
	}
	doc.Raw = raw
	return doc, true
}

// ParseErrors returns the running count of rejected documents.
func (p *DocProcessor) ParseErrors() int64 {
	return atomic.LoadInt64(&p.parseErrors)
}

// now is a seam for tests; production code always uses time.Now.
var now = time.Now
