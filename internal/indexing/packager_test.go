package indexing

import (
	"testing"

	"github.com/quickwit-oss/quickwit-go/internal/bundle"
	"github.com/quickwit-oss/quickwit-go/internal/types"
)

func TestPackagerProducesDecodableBundle(t *testing.T) {
	pkg := &Packager{
		IndexUID: types.NewIndexUID("idx"),
		IndexURI: "s3://bucket/idx",
		SourceID: "src",
		NodeID:   "node-1",
		Tags:     func(docs [][]byte) []string { return []string{"tenant:acme"} },
		HotcacheBuilder: func(docs [][]byte) []byte { return []byte("hc") },
	}
	split := IndexedSplit{
		Docs:                      [][]byte{[]byte("doc1"), []byte("doc2")},
		NumDocs:                   2,
		UncompressedDocsSizeBytes: 8,
	}

	packaged, err := pkg.Package(split)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if packaged.Metadata.NumDocs != 2 {
		t.Fatalf("NumDocs = %d, want 2", packaged.Metadata.NumDocs)
	}
	if len(packaged.Metadata.Tags) != 1 || packaged.Metadata.Tags[0] != "tenant:acme" {
		t.Fatalf("unexpected tags: %v", packaged.Metadata.Tags)
	}

	trailer := packaged.Bundle[packaged.Metadata.FooterOffsets.Start:packaged.Metadata.FooterOffsets.End]
	footer, err := bundle.DecodeTrailer(trailer, uint64(len(packaged.Bundle)))
	if err != nil {
		t.Fatalf("DecodeTrailer: %v", err)
	}
	hc, err := bundle.ReadHotcache(packaged.Bundle, footer)
	if err != nil {
		t.Fatalf("ReadHotcache: %v", err)
	}
	if string(hc) != "hc" {
		t.Fatalf("hotcache = %q, want hc", hc)
	}
}

func TestPackagerMaturityImmediateWhenNoMaturationPeriod(t *testing.T) {
	pkg := &Packager{IndexUID: types.NewIndexUID("idx"), IndexURI: "s3://bucket/idx"}
	packaged, err := pkg.Package(IndexedSplit{NumDocs: 1})
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if !packaged.Metadata.Maturity.Mature {
		t.Fatal("expected split to be immediately mature when MaturationPeriod is zero")
	}
}
