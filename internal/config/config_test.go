package config

import (
	"testing"
	"time"
)

func TestLoadFillsDefaults(t *testing.T) {
	doc := []byte(`
node_id: node-1
metastore_uri: file:///var/lib/quickwit/indexes
services: [indexer, janitor]
`)
	cfg, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RESTListenPort != 7280 {
		t.Errorf("RESTListenPort = %d, want default 7280", cfg.RESTListenPort)
	}
	if cfg.GRPCListenPort != 7281 {
		t.Errorf("GRPCListenPort = %d, want default 7281", cfg.GRPCListenPort)
	}
	if cfg.Indexer.MaxConcurrentSplitUploads != 4 {
		t.Errorf("MaxConcurrentSplitUploads = %d, want default 4", cfg.Indexer.MaxConcurrentSplitUploads)
	}
	if cfg.Merge.MaturationPeriod != 2*time.Hour {
		t.Errorf("MaturationPeriod = %v, want default 2h", cfg.Merge.MaturationPeriod)
	}
	if !cfg.Runs(ServiceIndexer) || !cfg.Runs(ServiceJanitor) {
		t.Fatal("expected Runs to report true for the configured services")
	}
	if cfg.Runs(ServiceSearcher) {
		t.Fatal("expected Runs to report false for an unconfigured service")
	}
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	doc := []byte(`
node_id: node-2
metastore_uri: file:///data
services: [searcher]
rest_listen_port: 9000
indexer:
  max_concurrent_split_uploads: 16
janitor:
  gc_interval: 30s
`)
	cfg, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RESTListenPort != 9000 {
		t.Errorf("RESTListenPort = %d, want 9000", cfg.RESTListenPort)
	}
	if cfg.Indexer.MaxConcurrentSplitUploads != 16 {
		t.Errorf("MaxConcurrentSplitUploads = %d, want 16", cfg.Indexer.MaxConcurrentSplitUploads)
	}
	if cfg.Janitor.GCInterval != 30*time.Second {
		t.Errorf("GCInterval = %v, want 30s", cfg.Janitor.GCInterval)
	}
	// Untouched defaults still apply alongside explicit overrides.
	if cfg.Janitor.RetentionInterval != time.Hour {
		t.Errorf("RetentionInterval = %v, want default 1h", cfg.Janitor.RetentionInterval)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing metastore_uri", "node_id: node-1\nservices: [indexer]\n"},
		{"missing services", "node_id: node-1\nmetastore_uri: file:///data\n"},
		{"unknown service", "node_id: node-1\nmetastore_uri: file:///data\nservices: [bogus]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load([]byte(tc.doc)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadGeneratesNodeIDWhenOmitted(t *testing.T) {
	doc := []byte("metastore_uri: file:///data\nservices: [indexer]\n")
	cfg, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeID == "" {
		t.Fatal("expected a generated node_id")
	}
	cfg2, err := Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg2.NodeID == cfg.NodeID {
		t.Fatal("expected independently generated node_ids to differ")
	}
}
