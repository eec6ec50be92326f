// Package config decodes the node's YAML configuration document (spec.md
// §6: "the node reads a YAML config (metastore_uri, data_dir,
// rest_listen_port, grpc_listen_port, etc.)"). It carries only the knobs
// the coordination core itself consumes; REST/gRPC wire serialization and
// the object-storage client's own credential schema are out-of-scope
// external collaborators per spec.md §1, so their settings blocks are kept
// as opaque maps rather than modeled field-by-field.
package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ServiceName is one of the process roles spec.md §6's CLI surface can run
// a node as ("run --service indexer|searcher|metastore|janitor|control_plane").
type ServiceName string

const (
	ServiceIndexer      ServiceName = "indexer"
	ServiceSearcher     ServiceName = "searcher"
	ServiceMetastore    ServiceName = "metastore"
	ServiceJanitor      ServiceName = "janitor"
	ServiceControlPlane ServiceName = "control_plane"
)

// IndexerConfig configures this node's indexing pipelines.
type IndexerConfig struct {
	MaxConcurrentSplitUploads int64         `yaml:"max_concurrent_split_uploads"`
	SplitStoreMaxCacheBytes   int64         `yaml:"split_store_max_cache_bytes"`
	CommitTimeout             time.Duration `yaml:"commit_timeout"`
}

// MergeConfig configures this node's merge pipelines.
type MergeConfig struct {
	MergeSpawnConcurrency int           `yaml:"merge_spawn_concurrency"`
	DownloadRateLimitMB   int           `yaml:"download_rate_limit_mb_per_sec"`
	MergeMaxMergeOps      int           `yaml:"max_merge_ops"`
	MaturationPeriod      time.Duration `yaml:"maturation_period"`
}

// JanitorConfig configures the GC/retention/delete-task/ingest-queue-GC
// loops' cadence (spec.md §4.4).
type JanitorConfig struct {
	GCInterval            time.Duration `yaml:"gc_interval"`
	StagedGracePeriod     time.Duration `yaml:"staged_grace_period"`
	RetentionInterval     time.Duration `yaml:"retention_interval"`
	DeleteTaskInterval    time.Duration `yaml:"delete_task_interval"`
	IngestQueueGCInterval time.Duration `yaml:"ingest_queue_gc_interval"`
}

// SearchConfig configures the Search Job Placer / Cluster Client.
type SearchConfig struct {
	MaxNumConcurrentSplitSearches int `yaml:"max_num_concurrent_split_searches"`
}

// NodeConfig is the full document one node process reads at startup. The
// bind ports and the object-storage endpoint/credentials are, per spec.md
// §6, the only settings that must agree across every node in a cluster;
// everything else is a local tuning knob.
type NodeConfig struct {
	NodeID   string        `yaml:"node_id"`
	DataDir  string        `yaml:"data_dir"`
	Services []ServiceName `yaml:"services"`

	MetastoreURI   string `yaml:"metastore_uri"`
	DefaultIndexURI string `yaml:"default_index_uri"`

	RESTListenPort int `yaml:"rest_listen_port"`
	GRPCListenPort int `yaml:"grpc_listen_port"`

	PeerSeeds []string `yaml:"peer_seeds"`

	Indexer      IndexerConfig `yaml:"indexer"`
	Merge        MergeConfig   `yaml:"merge"`
	Janitor      JanitorConfig `yaml:"janitor"`
	Search       SearchConfig  `yaml:"search"`

	// Storage carries the object-storage client's own settings opaquely:
	// which concrete backend and its credentials are an out-of-scope
	// external collaborator (spec.md §1), so this repository only needs to
	// pass the document through to whatever constructs the objstore.Bucket.
	Storage map[string]interface{} `yaml:"storage"`
}

// Load decodes a NodeConfig document and fills in every field spec.md
// treats as having a sane operational default, mirroring the rest of this
// repository's "nil/zero means use the default" convention (e.g.
// actor.Supervisor's backoff fields, Uploader's semaphore).
func Load(data []byte) (NodeConfig, error) {
	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("config: parse node config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Validate checks the fields every node must set regardless of which
// services it runs. node_id is exempt: an operator who omits it gets a
// freshly generated one (applyDefaults), since the placer's rendezvous
// hash (internal/search/rendezvous.go) only needs node_id to be unique
// and stable for this process's lifetime, not operator-assigned.
func (c NodeConfig) Validate() error {
	if c.MetastoreURI == "" {
		return fmt.Errorf("config: metastore_uri is required")
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("config: services must name at least one of indexer, searcher, metastore, janitor, control_plane")
	}
	for _, s := range c.Services {
		switch s {
		case ServiceIndexer, ServiceSearcher, ServiceMetastore, ServiceJanitor, ServiceControlPlane:
		default:
			return fmt.Errorf("config: unknown service %q", s)
		}
	}
	return nil
}

// Runs reports whether this node is configured to run the given service.
func (c NodeConfig) Runs(service ServiceName) bool {
	for _, s := range c.Services {
		if s == service {
			return true
		}
	}
	return false
}

func (c *NodeConfig) applyDefaults() {
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.RESTListenPort == 0 {
		c.RESTListenPort = 7280
	}
	if c.GRPCListenPort == 0 {
		c.GRPCListenPort = 7281
	}
	if c.DataDir == "" {
		c.DataDir = "/var/lib/quickwit"
	}
	if c.Indexer.MaxConcurrentSplitUploads <= 0 {
		c.Indexer.MaxConcurrentSplitUploads = 4
	}
	if c.Indexer.SplitStoreMaxCacheBytes <= 0 {
		c.Indexer.SplitStoreMaxCacheBytes = 100 << 20
	}
	if c.Indexer.CommitTimeout <= 0 {
		c.Indexer.CommitTimeout = 30 * time.Second
	}
	if c.Merge.MergeSpawnConcurrency <= 0 {
		c.Merge.MergeSpawnConcurrency = 10
	}
	if c.Merge.MaturationPeriod <= 0 {
		c.Merge.MaturationPeriod = 2 * time.Hour
	}
	if c.Janitor.GCInterval <= 0 {
		c.Janitor.GCInterval = time.Minute
	}
	if c.Janitor.StagedGracePeriod <= 0 {
		c.Janitor.StagedGracePeriod = time.Hour
	}
	if c.Janitor.RetentionInterval <= 0 {
		c.Janitor.RetentionInterval = time.Hour
	}
	if c.Janitor.DeleteTaskInterval <= 0 {
		c.Janitor.DeleteTaskInterval = time.Minute
	}
	if c.Janitor.IngestQueueGCInterval <= 0 {
		c.Janitor.IngestQueueGCInterval = time.Minute
	}
	if c.Search.MaxNumConcurrentSplitSearches <= 0 {
		c.Search.MaxNumConcurrentSplitSearches = 100
	}
}
