package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/index/lexical"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
)

type EngineOptions struct {
	Lexical lexical.Params
	// EmbedBatchSize caps texts per embedder call. 0 sends one call per document.
	EmbedBatchSize int
	Logger         *slog.Logger
	Now            func() time.Time
}

// Engine owns the active snapshot. Reads are lock-free; rebuilds are serialized
// and replace the snapshot with a single pointer swap.
type Engine struct {
	chunker   ports.Chunker
	embedder  ports.Embedder
	tokenizer ports.Tokenizer
	store     ports.SnapshotStore
	notifier  ports.SnapshotNotifier
	opts      EngineOptions

	current   atomic.Pointer[Snapshot]
	rebuildMu sync.Mutex
	// stored is the store generation the active snapshot was loaded from or
	// saved as. Guarded by rebuildMu.
	stored uint64
}

// maxRebuildAttempts bounds how often a rebuild is replayed on top of a
// snapshot another process saved in the meantime.
const maxRebuildAttempts = 5

// NewEngine accepts a nil store or notifier; the snapshot is then kept in memory
// only or swapped silently.
func NewEngine(
	chunker ports.Chunker,
	embedder ports.Embedder,
	tokenizer ports.Tokenizer,
	store ports.SnapshotStore,
	notifier ports.SnapshotNotifier,
	opts EngineOptions,
) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Lexical == (lexical.Params{}) {
		opts.Lexical = lexical.DefaultParams()
	}
	return &Engine{
		chunker:   chunker,
		embedder:  embedder,
		tokenizer: tokenizer,
		store:     store,
		notifier:  notifier,
		opts:      opts,
	}
}

// Current returns the active snapshot or nil before the first build.
func (e *Engine) Current() *Snapshot {
	return e.current.Load()
}

func (e *Engine) Tokenizer() ports.Tokenizer {
	return e.tokenizer
}

// Build constructs a snapshot off to the side with the next generation number.
// It does not make it active.
func (e *Engine) Build(chunks []domain.Chunk, manifest []domain.ManifestEntry) (*Snapshot, error) {
	return BuildSnapshot(chunks, manifest, e.nextGeneration(), e.opts.Now(), e.tokenizer, e.opts.Lexical)
}

// Swap makes s the active snapshot. In-flight readers keep the one they loaded.
func (e *Engine) Swap(s *Snapshot) {
	e.current.Store(s)
}

// Teardown drops the active snapshot.
func (e *Engine) Teardown() {
	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()
	e.current.Store(nil)
}

func (e *Engine) nextGeneration() uint64 {
	if cur := e.current.Load(); cur != nil {
		return cur.Generation + 1
	}
	return 1
}

func (e *Engine) Status() domain.SystemStatus {
	snap := e.Current()
	if snap == nil {
		return domain.SystemStatus{Guidelines: []domain.ManifestEntry{}}
	}
	return snap.status()
}

// Restore loads the persisted snapshot and swaps it in. A store that was never
// saved to leaves the active snapshot unchanged, and so does a stored
// generation the engine already serves.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()
	return e.reload(ctx)
}

// reload requires rebuildMu.
func (e *Engine) reload(ctx context.Context) error {
	stored, err := e.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	e.stored = stored.Generation
	if stored.Generation == 0 && len(stored.Chunks) == 0 && len(stored.Manifest) == 0 {
		return nil
	}
	if cur := e.Current(); cur != nil && stored.Generation > 0 && cur.Generation == stored.Generation {
		return nil
	}
	// Rows saved before generations were tracked load as generation 0.
	next, err := BuildSnapshot(stored.Chunks, stored.Manifest, max(stored.Generation, 1), e.opts.Now(), e.tokenizer, e.opts.Lexical)
	if err != nil {
		return fmt.Errorf("build restored snapshot: %w", err)
	}
	e.Swap(next)
	e.opts.Logger.Info("snapshot_restored",
		"generation", next.Generation,
		"documents", len(stored.Manifest),
		"chunks", len(stored.Chunks),
	)
	return nil
}

// rebuild runs apply against the active snapshot. When another process saved
// a snapshot first, it reloads the stored one and runs apply again.
func (e *Engine) rebuild(ctx context.Context, op string, apply func() (domain.IngestReport, error)) (domain.IngestReport, error) {
	for attempt := 1; ; attempt++ {
		report, err := apply()
		if !domain.IsKind(err, domain.ErrSnapshotConflict) || attempt == maxRebuildAttempts {
			return report, err
		}
		e.opts.Logger.Warn("snapshot_conflict", "op", op, "attempt", attempt, "base_generation", e.stored)
		if err := e.reload(ctx); err != nil {
			return domain.IngestReport{}, fmt.Errorf("%s: %w", op, err)
		}
	}
}

// Ingest adds or replaces documents and rebuilds the snapshot. Documents that
// fail validation, chunking or embedding are reported and left out; the rest of
// the batch still goes in. A cancelled context or a persistence failure aborts
// the rebuild and leaves the active snapshot untouched.
func (e *Engine) Ingest(ctx context.Context, docs []domain.DocumentInput) (domain.IngestReport, error) {
	const op = "ingest guidelines"
	if len(docs) == 0 {
		return domain.IngestReport{}, domain.InvalidInput(op, "at least one document is required")
	}
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if _, dup := seen[doc.ID]; dup {
			return domain.IngestReport{}, domain.InvalidInput(op, "document %s appears twice in one batch", doc.ID)
		}
		seen[doc.ID] = struct{}{}
	}

	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()

	// embedded keeps vectors computed by an attempt that lost a save conflict.
	embedded := make(map[string][]domain.Chunk)
	return e.rebuild(ctx, op, func() (domain.IngestReport, error) {
		return e.ingestLocked(ctx, op, docs, embedded)
	})
}

func (e *Engine) ingestLocked(ctx context.Context, op string, docs []domain.DocumentInput, embedded map[string][]domain.Chunk) (domain.IngestReport, error) {
	prev := e.Current()
	docChunks, manifest := workingSet(prev)
	report := domain.IngestReport{Documents: make([]domain.DocumentResult, 0, len(docs))}
	if prev != nil {
		report.Generation = prev.Generation
	}
	changed := false

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return domain.IngestReport{}, fmt.Errorf("%s: %w", op, err)
		}
		chunks, err := e.prepareDocument(ctx, doc, docChunks, manifest, embedded[doc.ID], &report)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.IngestReport{}, fmt.Errorf("%s: %w", op, ctxErr)
			}
			e.opts.Logger.Warn("ingest_document_failed", "document_id", doc.ID, "error", err)
			report.Failures = append(report.Failures, domain.DocumentFailure{DocumentID: doc.ID, Reason: err.Error()})
			report.Documents = append(report.Documents, domain.DocumentResult{DocumentID: doc.ID, Outcome: domain.OutcomeFailed})
			continue
		}
		if chunks == nil {
			continue
		}
		docChunks[doc.ID] = chunks
		embedded[doc.ID] = chunks
		manifest[doc.ID] = manifestFor(doc.ID, Fingerprint(doc), chunks, normalizedMetadata(doc.Metadata), e.opts.Now().UTC())
		report.ChunksCreated += len(chunks)
		report.Documents = append(report.Documents, domain.DocumentResult{
			DocumentID: doc.ID,
			Outcome:    domain.OutcomeCreated,
			ChunkCount: len(chunks),
		})
		changed = true
	}

	if !changed {
		return report, nil
	}
	if err := e.commit(ctx, docChunks, manifest, &report); err != nil {
		return domain.IngestReport{}, fmt.Errorf("%s: %w", op, err)
	}
	return report, nil
}

// prepareDocument returns nil chunks without error when the document is
// unchanged or produced nothing; the outcome is recorded on the report.
func (e *Engine) prepareDocument(
	ctx context.Context,
	doc domain.DocumentInput,
	docChunks map[string][]domain.Chunk,
	manifest map[string]domain.ManifestEntry,
	carried []domain.Chunk,
	report *domain.IngestReport,
) ([]domain.Chunk, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	fingerprint := Fingerprint(doc)
	if entry, ok := manifest[doc.ID]; ok && entry.Fingerprint == fingerprint {
		report.Documents = append(report.Documents, domain.DocumentResult{
			DocumentID: doc.ID,
			Outcome:    domain.OutcomeUnchanged,
			ChunkCount: entry.ParentCount + entry.ChildCount,
		})
		report.Notices = append(report.Notices, domain.Notice{
			Code:       domain.NoticeUnchanged,
			Message:    "document content and metadata are unchanged",
			DocumentID: doc.ID,
		})
		return nil, nil
	}

	chunks, notices := e.chunker.Chunk(doc)
	report.Notices = append(report.Notices, notices...)
	if len(chunks) == 0 {
		report.Documents = append(report.Documents, domain.DocumentResult{DocumentID: doc.ID, Outcome: domain.OutcomeSkipped})
		return nil, nil
	}
	parents := 0
	for _, c := range chunks {
		if c.IsParent() {
			parents++
		}
	}
	if parents > domain.MaxParentsPerDocument {
		return nil, domain.InvalidInput("chunk document", "document %s needs %d parent chunks, at most %d are supported", doc.ID, parents, domain.MaxParentsPerDocument)
	}

	previous := append(append([]domain.Chunk(nil), docChunks[doc.ID]...), carried...)
	if err := e.embedChildren(ctx, chunks, previous, expectedDim(docChunks, doc.ID)); err != nil {
		return nil, err
	}
	return chunks, nil
}

// embedChildren fills child embeddings in place, reusing vectors of previous
// children with the same id and text.
func (e *Engine) embedChildren(ctx context.Context, chunks, previous []domain.Chunk, dim int) error {
	if e.embedder == nil {
		return nil
	}
	cached := make(map[string]domain.Chunk, len(previous))
	for _, c := range previous {
		if !c.IsParent() && len(c.Embedding) > 0 {
			cached[c.ID] = c
		}
	}

	var (
		pending []int
		texts   []string
	)
	for i := range chunks {
		c := &chunks[i]
		if c.IsParent() {
			continue
		}
		if old, ok := cached[c.ID]; ok && old.Text == c.Text && (dim == 0 || len(old.Embedding) == dim) {
			c.Embedding = old.Embedding
			continue
		}
		pending = append(pending, i)
		texts = append(texts, c.Text)
	}

	batch := e.opts.EmbedBatchSize
	if batch <= 0 {
		batch = len(texts)
	}
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		vectors, err := e.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		if len(vectors) != end-start {
			return fmt.Errorf("embed chunks: vectors/chunks mismatch: %d/%d", len(vectors), end-start)
		}
		for j, v := range vectors {
			chunks[pending[start+j]].Embedding = v
		}
	}

	for _, c := range chunks {
		if c.IsParent() {
			continue
		}
		if len(c.Embedding) == 0 {
			return fmt.Errorf("embed chunks: empty vector for %s", c.ID)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("embed chunks: dimension %d for %s, snapshot uses %d", len(c.Embedding), c.ID, dim)
		}
	}
	return nil
}

// Remove drops documents and rebuilds. Every id must be present.
func (e *Engine) Remove(ctx context.Context, documentIDs []string) (domain.IngestReport, error) {
	const op = "remove guidelines"
	if len(documentIDs) == 0 {
		return domain.IngestReport{}, domain.InvalidInput(op, "at least one document id is required")
	}

	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()

	return e.rebuild(ctx, op, func() (domain.IngestReport, error) {
		return e.removeLocked(ctx, op, documentIDs)
	})
}

func (e *Engine) removeLocked(ctx context.Context, op string, documentIDs []string) (domain.IngestReport, error) {
	docChunks, manifest := workingSet(e.Current())
	report := domain.IngestReport{}
	for _, id := range documentIDs {
		if _, ok := docChunks[id]; !ok {
			return domain.IngestReport{}, domain.WrapError(domain.ErrGuidelineNotFound, op, fmt.Errorf("document %s is not in the active snapshot", id))
		}
	}
	for _, id := range documentIDs {
		delete(docChunks, id)
		delete(manifest, id)
		report.Documents = append(report.Documents, domain.DocumentResult{DocumentID: id, Outcome: domain.OutcomeRemoved})
	}
	if err := e.commit(ctx, docChunks, manifest, &report); err != nil {
		return domain.IngestReport{}, fmt.Errorf("%s: %w", op, err)
	}
	return report, nil
}

func (e *Engine) commit(
	ctx context.Context,
	docChunks map[string][]domain.Chunk,
	manifest map[string]domain.ManifestEntry,
	report *domain.IngestReport,
) error {
	ids := make([]string, 0, len(docChunks))
	for id := range docChunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var all []domain.Chunk
	entries := make([]domain.ManifestEntry, 0, len(ids))
	for _, id := range ids {
		all = append(all, docChunks[id]...)
		entries = append(entries, manifest[id])
	}

	generation := e.nextGeneration()
	if e.store != nil {
		generation = e.stored + 1
	}
	next, err := BuildSnapshot(all, entries, generation, e.opts.Now(), e.tokenizer, e.opts.Lexical)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.store != nil {
		if err := e.store.SaveSnapshot(ctx, e.stored, next.Chunks(), next.Manifest()); err != nil {
			if domain.IsKind(err, domain.ErrSnapshotConflict) {
				return err
			}
			return domain.WrapError(domain.ErrTemporary, "persist snapshot", err)
		}
		e.stored = generation
	}

	e.Swap(next)
	report.Swapped = true
	report.Generation = next.Generation
	e.opts.Logger.Info("snapshot_swapped",
		"generation", next.Generation,
		"documents", len(ids),
		"parents", next.ParentCount(),
		"children", next.ChildCount(),
	)

	if e.notifier != nil {
		if err := e.notifier.PublishSnapshotUpdated(ctx, next.Generation); err != nil {
			e.opts.Logger.Warn("snapshot_notify_failed", "generation", next.Generation, "error", err)
		}
	}
	return nil
}

// workingSet copies the per-document maps of prev so a rebuild never touches
// the active snapshot. Chunk slices are shared; they are never mutated.
func workingSet(prev *Snapshot) (map[string][]domain.Chunk, map[string]domain.ManifestEntry) {
	docChunks := make(map[string][]domain.Chunk)
	manifest := make(map[string]domain.ManifestEntry)
	if prev == nil {
		return docChunks, manifest
	}
	for id, chunks := range prev.byDocument {
		docChunks[id] = chunks
	}
	for id, entry := range prev.manifest {
		manifest[id] = entry
	}
	return docChunks, manifest
}

// expectedDim is the embedding dimension of the documents that stay in the
// snapshot, or 0 if there are none with embeddings.
func expectedDim(docChunks map[string][]domain.Chunk, replacing string) int {
	for id, chunks := range docChunks {
		if id == replacing {
			continue
		}
		for _, c := range chunks {
			if len(c.Embedding) > 0 {
				return len(c.Embedding)
			}
		}
	}
	return 0
}

// Fingerprint hashes pages in page order and metadata in key order.
func Fingerprint(doc domain.DocumentInput) string {
	h := sha256.New()
	pages := make([]domain.Page, len(doc.Pages))
	copy(pages, doc.Pages)
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	for _, p := range pages {
		h.Write([]byte(strconv.Itoa(p.Number)))
		h.Write([]byte{0})
		h.Write([]byte(p.Text))
		h.Write([]byte{0})
	}
	meta := normalizedMetadata(doc.Metadata)
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k + "=" + meta[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizedMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}
