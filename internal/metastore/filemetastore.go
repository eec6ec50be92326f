package metastore

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/thanos-io/objstore"
	"go.uber.org/zap"

	"github.com/quickwit-oss/quickwit-go/internal/checkpoint"
	"github.com/quickwit-oss/quickwit-go/internal/types"
)

// metaFilename is the well-known key suffix each index's metadata document
// is stored under: metaKey builds the key "<index_id>/metastore.json" from
// the index_id; IndexConfig.IndexURI is not part of the key.
const metaFilename = "metastore.json"

const metaDocumentVersion = 1

func metaKey(indexID string) string {
	return path.Join(indexID, metaFilename)
}

// persistedSplit is the wire shape of a Split inside the metastore.json
// document; SplitMetadata.SplitID/IndexUID are flattened into it since
// ulid.ULID marshals as text and types.IndexUID does not need repeating per
// split when it is already the document's top-level key.
type persistedSplit struct {
	SplitID                   string          `json:"split_id"`
	SourceID                  string          `json:"source_id"`
	NodeID                    string          `json:"node_id"`
	NumDocs                   uint64          `json:"num_docs"`
	UncompressedDocsSizeBytes uint64          `json:"uncompressed_docs_size_bytes"`
	TimeRangeMin              *int64          `json:"time_range_min,omitempty"`
	TimeRangeMax              *int64          `json:"time_range_max,omitempty"`
	CreateTimestamp           int64           `json:"create_timestamp"`
	Mature                    bool            `json:"mature"`
	MaturationAt              int64           `json:"maturation_at,omitempty"`
	Tags                      []string        `json:"tags,omitempty"`
	DeleteOpstamp             uint64          `json:"delete_opstamp"`
	FooterStart               uint64          `json:"footer_start"`
	FooterEnd                 uint64          `json:"footer_end"`
	State                     SplitState      `json:"state"`
	UpdateTimestamp           int64           `json:"update_timestamp"`
	PublishTimestamp          *int64          `json:"publish_timestamp,omitempty"`
}

type persistedSource struct {
	SourceID     string            `json:"source_id"`
	NumPipelines int               `json:"num_pipelines"`
	Enabled      bool              `json:"enabled"`
	Kind         SourceKind        `json:"kind"`
	Params       map[string]string `json:"params,omitempty"`
	Transform    *Transform        `json:"transform,omitempty"`
	Checkpoint   map[string]string `json:"checkpoint,omitempty"` // partition_id -> position
}

type persistedDeleteTask struct {
	Opstamp         uint64 `json:"opstamp"`
	CreateTimestamp int64  `json:"create_timestamp"`
	QueryAST        []byte `json:"query_ast"`
	StartTimestamp  *int64 `json:"start_timestamp,omitempty"`
	EndTimestamp    *int64 `json:"end_timestamp,omitempty"`
}

// metadataDocument is the full on-disk shape of one index's metastore.json.
type metadataDocument struct {
	Version         int                        `json:"version"`
	IndexID         string                     `json:"index_id"`
	Incarnation     string                     `json:"incarnation"`
	IndexURI        string                     `json:"index_uri"`
	DocMapping      []byte                     `json:"doc_mapping,omitempty"`
	RetentionPeriodSeconds int64               `json:"retention_period_seconds,omitempty"`
	RetentionByPublishTime bool                `json:"retention_by_publish_time"`
	MaxNumDocsPerSplit     uint64              `json:"max_num_docs_per_split"`
	MaxUncompressedBytes   uint64              `json:"max_uncompressed_bytes"`
	CommitTimeoutSeconds   int64               `json:"commit_timeout_seconds"`
	CreateTimestamp        int64               `json:"create_timestamp"`
	Sources                []persistedSource   `json:"sources"`
	Splits                 []persistedSplit    `json:"splits"`
	DeleteTasks            []persistedDeleteTask `json:"delete_tasks"`
	NextDeleteOpstamp      uint64              `json:"next_delete_opstamp"`
}

// FileMetastore is the single-file-on-object-storage backend of spec.md
// §4.1: one JSON document per index, guarded by an in-process write lock
// plus an optimistic load->mutate->put loop. Because object storage offers
// no compare-and-swap, this backend is only safe under a single writer per
// index -- the control plane is responsible for routing every mutation for
// a given index to one elected process (spec.md §9).
type FileMetastore struct {
	storage objstore.Bucket
	logger  *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewFileMetastore wraps an object-storage bucket. The bucket is an
// out-of-scope external collaborator (spec.md §1); we depend only on the
// objstore.Bucket interface.
func NewFileMetastore(storage objstore.Bucket, logger *zap.Logger) *FileMetastore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileMetastore{
		storage: storage,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *FileMetastore) lockFor(indexID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[indexID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[indexID] = lock
	}
	return lock
}

func (m *FileMetastore) load(ctx context.Context, indexID string) (*metadataDocument, error) {
	key := metaKey(indexID)
	exists, err := m.storage.Exists(ctx, key)
	if err != nil {
		return nil, wrapErr(KindConnection, err, "check existence of %s", key)
	}
	if !exists {
		return nil, newErr(KindNotFound, "index %q does not exist", indexID)
	}
	r, err := m.storage.Get(ctx, key)
	if err != nil {
		if m.storage.IsObjNotFoundErr(err) {
			return nil, newErr(KindNotFound, "index %q does not exist", indexID)
		}
		return nil, wrapErr(KindConnection, err, "fetch %s", key)
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, wrapErr(KindConnection, err, "read %s", key)
	}
	var doc metadataDocument
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		return nil, wrapErr(KindInternal, err, "decode %s", key)
	}
	return &doc, nil
}

func (m *FileMetastore) put(ctx context.Context, doc *metadataDocument) error {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return wrapErr(KindInternal, err, "encode metastore document for %s", doc.IndexID)
	}
	key := metaKey(doc.IndexID)
	if err := m.storage.Upload(ctx, key, bytes.NewReader(encoded)); err != nil {
		return wrapErr(KindConnection, err, "upload %s", key)
	}
	return nil
}

// withIndex serializes fn behind the in-process per-index write lock and
// implements the load -> mutate -> put loop every mutating operation uses.
// The per-index lock is held for the whole cycle, including the
// object-storage load and put, so a write to an index waits on the
// round trips of any other write to the same index in progress.
func (m *FileMetastore) withIndex(ctx context.Context, indexID string, mutate func(*metadataDocument) error) (*metadataDocument, error) {
	lock := m.lockFor(indexID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := m.load(ctx, indexID)
	if err != nil {
		return nil, err
	}
	before := *doc
	if err := mutate(doc); err != nil {
		return &before, err
	}
	if err := m.put(ctx, doc); err != nil {
		return doc, err
	}
	return doc, nil
}

// CreateIndex implements Metastore.
func (m *FileMetastore) CreateIndex(ctx context.Context, cfg IndexConfig) (types.IndexUID, error) {
	key := metaKey(cfg.IndexID)
	exists, err := m.storage.Exists(ctx, key)
	if err != nil {
		return types.IndexUID{}, wrapErr(KindConnection, err, "check existence of %s", key)
	}
	if exists {
		return types.IndexUID{}, newErr(KindAlreadyExists, "index %q already exists", cfg.IndexID)
	}
	indexUID := types.NewIndexUID(cfg.IndexID)
	now := time.Now().UTC()
	doc := &metadataDocument{
		Version:                metaDocumentVersion,
		IndexID:                cfg.IndexID,
		Incarnation:            indexUID.Incarnation.String(),
		IndexURI:               cfg.IndexURI,
		DocMapping:             cfg.DocMapping,
		RetentionPeriodSeconds: int64(cfg.RetentionPeriod.Seconds()),
		RetentionByPublishTime: cfg.RetentionByPublishTime,
		MaxNumDocsPerSplit:     cfg.MaxNumDocsPerSplit,
		MaxUncompressedBytes:   cfg.MaxUncompressedBytes,
		CommitTimeoutSeconds:   int64(cfg.CommitTimeout.Seconds()),
		CreateTimestamp:        now.Unix(),
	}
	for _, src := range cfg.Sources {
		doc.Sources = append(doc.Sources, toPersistedSource(src, nil))
	}
	if err := m.put(ctx, doc); err != nil {
		return types.IndexUID{}, err
	}
	m.logger.Info("index created", zap.String("index_id", cfg.IndexID), zap.String("incarnation", indexUID.Incarnation.String()))
	return indexUID, nil
}

// UpdateIndex implements Metastore.
func (m *FileMetastore) UpdateIndex(ctx context.Context, indexUID types.IndexUID, update IndexUpdate) (IndexMetadata, error) {
	doc, err := m.withIndex(ctx, indexUID.IndexID, func(doc *metadataDocument) error {
		if err := m.checkIncarnation(doc, indexUID); err != nil {
			return err
		}
		if update.RetentionPeriod != nil {
			doc.RetentionPeriodSeconds = *update.RetentionPeriod / int64(time.Second)
		}
		if update.MaxNumDocsPerSplit != nil {
			doc.MaxNumDocsPerSplit = *update.MaxNumDocsPerSplit
		}
		if update.MaxUncompressedBytes != nil {
			doc.MaxUncompressedBytes = *update.MaxUncompressedBytes
		}
		if update.CommitTimeoutSeconds != nil {
			doc.CommitTimeoutSeconds = *update.CommitTimeoutSeconds
		}
		return nil
	})
	if err != nil {
		return IndexMetadata{}, err
	}
	return docToIndexMetadata(doc), nil
}

// DeleteIndex implements Metastore. Removing the row does not touch
// object-storage split files, and with the document gone the janitor's GC
// loop no longer lists the index's splits, so it does not remove them either.
func (m *FileMetastore) DeleteIndex(ctx context.Context, indexUID types.IndexUID) error {
	lock := m.lockFor(indexUID.IndexID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := m.load(ctx, indexUID.IndexID)
	if err != nil {
		return err
	}
	if err := m.checkIncarnation(doc, indexUID); err != nil {
		return err
	}
	if err := m.storage.Delete(ctx, metaKey(indexUID.IndexID)); err != nil {
		return wrapErr(KindConnection, err, "delete %s", metaKey(indexUID.IndexID))
	}
	return nil
}

// ListIndexesMetadata implements Metastore. indexIDPatterns uses
// shell-style globbing (path.Match semantics), per the original's
// file-backed template matcher (SUPPLEMENTED FEATURES §6 of
// SPEC_FULL.md). Indexes are found by iterating every key in the bucket for
// "<index_id>/metastore.json" documents; an empty pattern list matches every
// index found.
func (m *FileMetastore) ListIndexesMetadata(ctx context.Context, indexIDPatterns []string) ([]IndexMetadata, error) {
	var out []IndexMetadata
	seen := make(map[string]bool)
	err := m.storage.Iter(ctx, "", func(name string) error {
		indexID, ok := indexIDFromKey(name)
		if !ok || seen[indexID] {
			return nil
		}
		if len(indexIDPatterns) > 0 && !matchesAnyGlob(indexIDPatterns, indexID) {
			return nil
		}
		seen[indexID] = true
		doc, err := m.load(ctx, indexID)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		out = append(out, docToIndexMetadata(doc))
		return nil
	}, objstore.WithRecursiveIter())
	if err != nil {
		return nil, wrapErr(KindConnection, err, "list indexes")
	}
	return out, nil
}

// IndexMetadata implements Metastore, scoped to a specific incarnation.
func (m *FileMetastore) IndexMetadata(ctx context.Context, indexUID types.IndexUID) (IndexMetadata, error) {
	doc, err := m.load(ctx, indexUID.IndexID)
	if err != nil {
		return IndexMetadata{}, err
	}
	if err := m.checkIncarnation(doc, indexUID); err != nil {
		return IndexMetadata{}, err
	}
	return docToIndexMetadata(doc), nil
}

// IndexMetadataByID implements Metastore, resolving whatever incarnation is
// currently live for index_id.
func (m *FileMetastore) IndexMetadataByID(ctx context.Context, indexID string) (IndexMetadata, error) {
	doc, err := m.load(ctx, indexID)
	if err != nil {
		return IndexMetadata{}, err
	}
	return docToIndexMetadata(doc), nil
}

func (m *FileMetastore) checkIncarnation(doc *metadataDocument, indexUID types.IndexUID) error {
	if doc.Incarnation != indexUID.Incarnation.String() {
		return newErr(KindNotFound, "index %q incarnation %s does not match current incarnation %s", indexUID.IndexID, indexUID.Incarnation, doc.Incarnation)
	}
	return nil
}

// AddSource implements Metastore.
func (m *FileMetastore) AddSource(ctx context.Context, indexUID types.IndexUID, source SourceConfig) error {
	_, err := m.withIndex(ctx, indexUID.IndexID, func(doc *metadataDocument) error {
		if err := m.checkIncarnation(doc, indexUID); err != nil {
			return err
		}
		for _, existing := range doc.Sources {
			if existing.SourceID == source.SourceID {
				return newErr(KindAlreadyExists, "source %q already exists on index %q", source.SourceID, indexUID.IndexID)
			}
		}
		doc.Sources = append(doc.Sources, toPersistedSource(source, nil))
		return nil
	})
	return err
}

// DeleteSource implements Metastore. The checkpoint for the source is
// removed along with it.
func (m *FileMetastore) DeleteSource(ctx context.Context, indexUID types.IndexUID, sourceID string) error {
	_, err := m.withIndex(ctx, indexUID.IndexID, func(doc *metadataDocument) error {
		if err := m.checkIncarnation(doc, indexUID); err != nil {
			return err
		}
		idx, ok := findSource(doc.Sources, sourceID)
		if !ok {
			return newErr(KindNotFound, "source %q does not exist on index %q", sourceID, indexUID.IndexID)
		}
		doc.Sources = append(doc.Sources[:idx], doc.Sources[idx+1:]...)
		return nil
	})
	return err
}

// ToggleSource implements Metastore.
func (m *FileMetastore) ToggleSource(ctx context.Context, indexUID types.IndexUID, sourceID string, enable bool) error {
	_, err := m.withIndex(ctx, indexUID.IndexID, func(doc *metadataDocument) error {
		if err := m.checkIncarnation(doc, indexUID); err != nil {
			return err
		}
		idx, ok := findSource(doc.Sources, sourceID)
		if !ok {
			return newErr(KindNotFound, "source %q does not exist on index %q", sourceID, indexUID.IndexID)
		}
		doc.Sources[idx].Enabled = enable
		return nil
	})
	return err
}

// ResetSourceCheckpoint implements Metastore.
func (m *FileMetastore) ResetSourceCheckpoint(ctx context.Context, indexUID types.IndexUID, sourceID string) error {
	_, err := m.withIndex(ctx, indexUID.IndexID, func(doc *metadataDocument) error {
		if err := m.checkIncarnation(doc, indexUID); err != nil {
			return err
		}
		idx, ok := findSource(doc.Sources, sourceID)
		if !ok {
			return newErr(KindNotFound, "source %q does not exist on index %q", sourceID, indexUID.IndexID)
		}
		doc.Sources[idx].Checkpoint = nil
		return nil
	})
	return err
}

// StageSplits implements Metastore. Fails entirely (no partial effect) if
// any split already exists in a state other than Staged for this index.
func (m *FileMetastore) StageSplits(ctx context.Context, indexUID types.IndexUID, splits []SplitMetadata) error {
	_, err := m.withIndex(ctx, indexUID.IndexID, func(doc *metadataDocument) error {
		if err := m.checkIncarnation(doc, indexUID); err != nil {
			return err
		}
		for _, sm := range splits {
			if existing, ok := findSplit(doc.Splits, sm.SplitID.String()); ok && existing.State != SplitStaged {
				return newErr(KindInvalidArgument, "split %s already exists in state %s", sm.SplitID, existing.State)
			}
		}
		now := time.Now().UTC()
		for _, sm := range splits {
			if _, ok := findSplit(doc.Splits, sm.SplitID.String()); ok {
				continue
			}
			ps := toPersistedSplit(sm, SplitStaged, now, nil)
			doc.Splits = append(doc.Splits, ps)
		}
		return nil
	})
	return err
}

// PublishSplits implements Metastore: the checkpoint algorithm of
// spec.md §4.1, steps 1-5.
func (m *FileMetastore) PublishSplits(ctx context.Context, indexUID types.IndexUID, stagedSplitIDs, replacedSplitIDs []string, delta *IndexCheckpointDelta) error {
	_, err := m.withIndex(ctx, indexUID.IndexID, func(doc *metadataDocument) error {
		if err := m.checkIncarnation(doc, indexUID); err != nil {
			return err
		}
		for _, id := range stagedSplitIDs {
			idx, ok := findSplit(doc.Splits, id)
			if !ok {
				return newErr(KindNotFound, "split %s does not exist", id)
			}
			if doc.Splits[idx].State != SplitStaged {
				return newErr(KindInvalidArgument, "split %s is not staged (state=%s)", id, doc.Splits[idx].State)
			}
		}
		for _, id := range replacedSplitIDs {
			idx, ok := findSplit(doc.Splits, id)
			if !ok {
				return newErr(KindNotFound, "split %s does not exist", id)
			}
			if doc.Splits[idx].State != SplitPublished {
				return newErr(KindInvalidArgument, "replaced split %s is not published (state=%s)", id, doc.Splits[idx].State)
			}
		}
		if delta != nil {
			srcIdx, ok := findSource(doc.Sources, delta.SourceID)
			if !ok {
				return newErr(KindNotFound, "source %q does not exist", delta.SourceID)
			}
			sc := checkpointFromPersisted(doc.Sources[srcIdx].Checkpoint)
			if err := sc.TryApply(delta.Delta, checkpoint.SortedPartitions(delta.Delta)); err != nil {
				return wrapErr(KindCheckpointError, err, "publish_splits checkpoint validation")
			}
			doc.Sources[srcIdx].Checkpoint = checkpointToPersisted(sc)
		}
		now := time.Now().UTC()
		for _, id := range stagedSplitIDs {
			idx, _ := findSplit(doc.Splits, id)
			doc.Splits[idx].State = SplitPublished
			doc.Splits[idx].UpdateTimestamp = now.Unix()
			publishedAt := now.Unix()
			doc.Splits[idx].PublishTimestamp = &publishedAt
		}
		for _, id := range replacedSplitIDs {
			idx, _ := findSplit(doc.Splits, id)
			doc.Splits[idx].State = SplitMarkedForDeletion
			doc.Splits[idx].UpdateTimestamp = now.Unix()
		}
		return nil
	})
	return err
}

// ListSplits implements Metastore.
func (m *FileMetastore) ListSplits(ctx context.Context, query ListSplitsQuery) ([]Split, error) {
	if len(query.IndexUIDs) != 1 {
		return nil, newErr(KindInvalidArgument, "ListSplits requires exactly one index_uid, got %d", len(query.IndexUIDs))
	}
	indexUID, err := types.ParseIndexUID(query.IndexUIDs[0])
	if err != nil {
		return nil, newErr(KindInvalidArgument, "invalid index_uid %q: %v", query.IndexUIDs[0], err)
	}
	doc, err := m.load(ctx, indexUID.IndexID)
	if err != nil {
		return nil, err
	}
	if err := m.checkIncarnation(doc, indexUID); err != nil {
		return nil, err
	}
	var out []Split
	for _, ps := range doc.Splits {
		split := fromPersistedSplit(ps, indexUID)
		if query.matchesSplit(split) {
			out = append(out, split)
		}
	}
	return out, nil
}

// ListStaleSplits implements Metastore: Published splits with
// delete_opstamp < deleteOpstamp, ordered (delete_opstamp, publish_timestamp),
// truncated to numSplits (SUPPLEMENTED FEATURES §2 of SPEC_FULL.md).
func (m *FileMetastore) ListStaleSplits(ctx context.Context, indexUID types.IndexUID, deleteOpstamp uint64, numSplits int) ([]Split, error) {
	query := ForIndex(indexUID.String()).
		WithSplitState(SplitPublished).
		WithDeleteOpstampLessThan(deleteOpstamp)
	splits, err := m.ListSplits(ctx, query)
	if err != nil {
		return nil, err
	}
	sortStaleSplits(splits)
	if numSplits >= 0 && len(splits) > numSplits {
		splits = splits[:numSplits]
	}
	return splits, nil
}

func sortStaleSplits(splits []Split) {
	// insertion sort over a typically small page; stable on
	// (delete_opstamp, publish_timestamp) as specified.
	for i := 1; i < len(splits); i++ {
		for j := i; j > 0 && staleLess(splits[j], splits[j-1]); j-- {
			splits[j], splits[j-1] = splits[j-1], splits[j]
		}
	}
}

func staleLess(a, b Split) bool {
	if a.SplitMetadata.DeleteOpstamp != b.SplitMetadata.DeleteOpstamp {
		return a.SplitMetadata.DeleteOpstamp < b.SplitMetadata.DeleteOpstamp
	}
	at, bt := int64(0), int64(0)
	if a.PublishTimestamp != nil {
		at = a.PublishTimestamp.Unix()
	}
	if b.PublishTimestamp != nil {
		bt = b.PublishTimestamp.Unix()
	}
	return at < bt
}

// MarkSplitsForDeletion implements Metastore.
func (m *FileMetastore) MarkSplitsForDeletion(ctx context.Context, indexUID types.IndexUID, splitIDs []string) error {
	_, err := m.withIndex(ctx, indexUID.IndexID, func(doc *metadataDocument) error {
		if err := m.checkIncarnation(doc, indexUID); err != nil {
			return err
		}
		now := time.Now().UTC().Unix()
		for _, id := range splitIDs {
			idx, ok := findSplit(doc.Splits, id)
			if !ok {
				continue
			}
			if doc.Splits[idx].State == SplitMarkedForDeletion {
				continue
			}
			doc.Splits[idx].State = SplitMarkedForDeletion
			doc.Splits[idx].UpdateTimestamp = now
		}
		return nil
	})
	return err
}

// DeleteSplits implements Metastore. Only Staged or MarkedForDeletion
// splits may be removed; the caller (janitor) is responsible for having
// already removed the corresponding object-storage files.
func (m *FileMetastore) DeleteSplits(ctx context.Context, indexUID types.IndexUID, splitIDs []string) error {
	_, err := m.withIndex(ctx, indexUID.IndexID, func(doc *metadataDocument) error {
		if err := m.checkIncarnation(doc, indexUID); err != nil {
			return err
		}
		for _, id := range splitIDs {
			idx, ok := findSplit(doc.Splits, id)
			if !ok {
				continue
			}
			state := doc.Splits[idx].State
			if state != SplitStaged && state != SplitMarkedForDeletion {
				return newErr(KindInvalidArgument, "split %s cannot be deleted from state %s", id, state)
			}
		}
		for _, id := range splitIDs {
			if idx, ok := findSplit(doc.Splits, id); ok {
				doc.Splits = append(doc.Splits[:idx], doc.Splits[idx+1:]...)
			}
		}
		return nil
	})
	return err
}

// LastDeleteOpstamp implements Metastore.
func (m *FileMetastore) LastDeleteOpstamp(ctx context.Context, indexUID types.IndexUID) (uint64, error) {
	doc, err := m.load(ctx, indexUID.IndexID)
	if err != nil {
		return 0, err
	}
	if err := m.checkIncarnation(doc, indexUID); err != nil {
		return 0, err
	}
	return doc.NextDeleteOpstamp, nil
}

// CreateDeleteTask implements Metastore, assigning the next opstamp for
// this index_uid.
func (m *FileMetastore) CreateDeleteTask(ctx context.Context, query DeleteQuery) (DeleteTask, error) {
	var task DeleteTask
	_, err := m.withIndex(ctx, query.IndexUID.IndexID, func(doc *metadataDocument) error {
		if err := m.checkIncarnation(doc, query.IndexUID); err != nil {
			return err
		}
		doc.NextDeleteOpstamp++
		now := time.Now().UTC()
		pt := persistedDeleteTask{
			Opstamp:         doc.NextDeleteOpstamp,
			CreateTimestamp: now.Unix(),
			QueryAST:        query.QueryAST,
			StartTimestamp:  query.StartTimestamp,
			EndTimestamp:    query.EndTimestamp,
		}
		doc.DeleteTasks = append(doc.DeleteTasks, pt)
		task = DeleteTask{
			Opstamp:         pt.Opstamp,
			IndexUID:        query.IndexUID,
			CreateTimestamp: now,
			Query:           query,
		}
		return nil
	})
	if err != nil {
		return DeleteTask{}, err
	}
	return task, nil
}

// ListDeleteTasks implements Metastore.
func (m *FileMetastore) ListDeleteTasks(ctx context.Context, indexUID types.IndexUID, opstampStart uint64) ([]DeleteTask, error) {
	doc, err := m.load(ctx, indexUID.IndexID)
	if err != nil {
		return nil, err
	}
	if err := m.checkIncarnation(doc, indexUID); err != nil {
		return nil, err
	}
	var out []DeleteTask
	for _, pt := range doc.DeleteTasks {
		if pt.Opstamp <= opstampStart {
			continue
		}
		out = append(out, DeleteTask{
			Opstamp:         pt.Opstamp,
			IndexUID:        indexUID,
			CreateTimestamp: time.Unix(pt.CreateTimestamp, 0).UTC(),
			Query: DeleteQuery{
				IndexUID:       indexUID,
				QueryAST:       pt.QueryAST,
				StartTimestamp: pt.StartTimestamp,
				EndTimestamp:   pt.EndTimestamp,
			},
		})
	}
	return out, nil
}

// UpdateSplitsDeleteOpstamp implements Metastore.
func (m *FileMetastore) UpdateSplitsDeleteOpstamp(ctx context.Context, indexUID types.IndexUID, splitIDs []string, opstamp uint64) error {
	_, err := m.withIndex(ctx, indexUID.IndexID, func(doc *metadataDocument) error {
		if err := m.checkIncarnation(doc, indexUID); err != nil {
			return err
		}
		now := time.Now().UTC().Unix()
		for _, id := range splitIDs {
			idx, ok := findSplit(doc.Splits, id)
			if !ok {
				return newErr(KindNotFound, "split %s does not exist", id)
			}
			doc.Splits[idx].DeleteOpstamp = opstamp
			doc.Splits[idx].UpdateTimestamp = now
		}
		return nil
	})
	return err
}

// --- conversions & small helpers ---

func findSplit(splits []persistedSplit, id string) (int, bool) {
	for i := range splits {
		if splits[i].SplitID == id {
			return i, true
		}
	}
	return 0, false
}

func findSource(sources []persistedSource, id string) (int, bool) {
	for i := range sources {
		if sources[i].SourceID == id {
			return i, true
		}
	}
	return 0, false
}

func indexIDFromKey(key string) (string, bool) {
	dir, file := path.Split(key)
	if file != metaFilename {
		return "", false
	}
	return path.Clean(dir), true
}

func matchesAnyGlob(patterns []string, indexID string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, indexID); err == nil && ok {
			return true
		}
	}
	return false
}

func toPersistedSource(src SourceConfig, sc checkpoint.SourceCheckpoint) persistedSource {
	return persistedSource{
		SourceID:     src.SourceID,
		NumPipelines: src.NumPipelines,
		Enabled:      src.Enabled,
		Kind:         src.Kind,
		Params:       src.Params,
		Transform:    src.Transform,
		Checkpoint:   checkpointToPersisted(sc),
	}
}

func checkpointToPersisted(sc checkpoint.SourceCheckpoint) map[string]string {
	if len(sc) == 0 {
		return nil
	}
	out := make(map[string]string, len(sc))
	for p, pos := range sc {
		out[string(p)] = string(pos)
	}
	return out
}

func checkpointFromPersisted(m map[string]string) checkpoint.SourceCheckpoint {
	sc := make(checkpoint.SourceCheckpoint, len(m))
	for p, pos := range m {
		sc[checkpoint.PartitionID(p)] = checkpoint.Position(pos)
	}
	return sc
}

func toPersistedSplit(sm SplitMetadata, state SplitState, now time.Time, publishedAt *int64) persistedSplit {
	ps := persistedSplit{
		SplitID:                   sm.SplitID.String(),
		SourceID:                  sm.SourceID,
		NodeID:                    sm.NodeID,
		NumDocs:                   sm.NumDocs,
		UncompressedDocsSizeBytes: sm.UncompressedDocsSizeBytes,
		CreateTimestamp:           sm.CreateTimestamp.Unix(),
		Mature:                    sm.Maturity.Mature,
		Tags:                      sm.Tags,
		DeleteOpstamp:             sm.DeleteOpstamp,
		FooterStart:               sm.FooterOffsets.Start,
		FooterEnd:                 sm.FooterOffsets.End,
		State:                     state,
		UpdateTimestamp:           now.Unix(),
		PublishTimestamp:          publishedAt,
	}
	if sm.TimeRange != nil {
		ps.TimeRangeMin, ps.TimeRangeMax = &sm.TimeRange.Min, &sm.TimeRange.Max
	}
	if !sm.Maturity.Mature {
		ps.MaturationAt = sm.Maturity.MaturationAt.Unix()
	}
	return ps
}

func fromPersistedSplit(ps persistedSplit, indexUID types.IndexUID) Split {
	id, _ := ulid.Parse(ps.SplitID)
	sm := SplitMetadata{
		SplitID:                   id,
		IndexUID:                  indexUID,
		SourceID:                  ps.SourceID,
		NodeID:                    ps.NodeID,
		NumDocs:                   ps.NumDocs,
		UncompressedDocsSizeBytes: ps.UncompressedDocsSizeBytes,
		CreateTimestamp:           time.Unix(ps.CreateTimestamp, 0).UTC(),
		Maturity:                  Maturity{Mature: ps.Mature, MaturationAt: time.Unix(ps.MaturationAt, 0).UTC()},
		Tags:                      ps.Tags,
		DeleteOpstamp:             ps.DeleteOpstamp,
		FooterOffsets:             FooterOffsets{Start: ps.FooterStart, End: ps.FooterEnd},
	}
	if ps.TimeRangeMin != nil && ps.TimeRangeMax != nil {
		sm.TimeRange = &TimeRange{Min: *ps.TimeRangeMin, Max: *ps.TimeRangeMax}
	}
	split := Split{
		SplitMetadata:   sm,
		State:           ps.State,
		UpdateTimestamp: time.Unix(ps.UpdateTimestamp, 0).UTC(),
	}
	if ps.PublishTimestamp != nil {
		t := time.Unix(*ps.PublishTimestamp, 0).UTC()
		split.PublishTimestamp = &t
	}
	return split
}

func docToIndexMetadata(doc *metadataDocument) IndexMetadata {
	incarnation, _ := ulid.Parse(doc.Incarnation)
	meta := IndexMetadata{
		IndexUID: types.IndexUID{IndexID: doc.IndexID, Incarnation: incarnation},
		Config: IndexConfig{
			IndexID:                doc.IndexID,
			IndexURI:               doc.IndexURI,
			DocMapping:             doc.DocMapping,
			RetentionPeriod:        time.Duration(doc.RetentionPeriodSeconds) * time.Second,
			RetentionByPublishTime: doc.RetentionByPublishTime,
			MaxNumDocsPerSplit:     doc.MaxNumDocsPerSplit,
			MaxUncompressedBytes:   doc.MaxUncompressedBytes,
			CommitTimeout:          time.Duration(doc.CommitTimeoutSeconds) * time.Second,
		},
		Checkpoints:     make(map[string]checkpoint.SourceCheckpoint, len(doc.Sources)),
		CreateTimestamp: time.Unix(doc.CreateTimestamp, 0).UTC(),
		Sources:         make(map[string]SourceConfig, len(doc.Sources)),
	}
	for _, ps := range doc.Sources {
		meta.Sources[ps.SourceID] = SourceConfig{
			SourceID:     ps.SourceID,
			NumPipelines: ps.NumPipelines,
			Enabled:      ps.Enabled,
			Kind:         ps.Kind,
			Params:       ps.Params,
			Transform:    ps.Transform,
		}
		meta.Checkpoints[ps.SourceID] = checkpointFromPersisted(ps.Checkpoint)
		meta.Config.Sources = append(meta.Config.Sources, meta.Sources[ps.SourceID])
	}
	return meta
}
