// Package corpus stores the durable Document, Chunk, and Embedding records.
// The vector index is a projection of these records and can always be
// rebuilt from them.
package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/raks07/jarvis-data-injestion/internal/db"
	"github.com/raks07/jarvis-data-injestion/internal/domain"
	"github.com/raks07/jarvis-data-injestion/internal/index"
)

// store is the consumer interface for corpus records (ISP).
type store interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	JSONSetMulti(ctx context.Context, items []db.JSONSetItem) error
	JSONGet(ctx context.Context, key string, paths ...string) ([]byte, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
	DelMulti(ctx context.Context, keys []string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo implements the durable corpus over a key-value store.
type Repo struct {
	store store
}

// New creates a corpus repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// SaveDocument stores or replaces a document record and its external-ID mapping.
func (r *Repo) SaveDocument(ctx context.Context, doc domain.Document) error {
	data, err := json.Marshal(docToDTO(doc))
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := r.store.JSONSet(ctx, docKey(doc.ID), "$", data); err != nil {
		return fmt.Errorf("json.set document %s: %w", doc.ID, err)
	}
	if doc.ExternalID != "" {
		if err := r.store.Set(ctx, docExtKey(doc.ExternalID), []byte(doc.ID)); err != nil {
			return fmt.Errorf("set external mapping %s: %w", doc.ExternalID, err)
		}
	}
	return nil
}

// GetDocument returns a document by ID.
func (r *Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	raw, err := r.store.JSONGet(ctx, docKey(id), "$")
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.Document{}, domain.ErrDocumentNotFound
		}
		return domain.Document{}, fmt.Errorf("json.get document %s: %w", id, err)
	}
	return parseDocJSON(raw)
}

// GetDocumentByExternalID resolves the current document for an external ID.
func (r *Repo) GetDocumentByExternalID(ctx context.Context, externalID string) (domain.Document, error) {
	id, err := r.store.Get(ctx, docExtKey(externalID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.Document{}, domain.ErrDocumentNotFound
		}
		return domain.Document{}, fmt.Errorf("get external mapping %s: %w", externalID, err)
	}
	return r.GetDocument(ctx, string(id))
}

// ListDocuments returns document summaries ordered by ingestion time
// descending, with offset-based cursor pagination.
func (r *Repo) ListDocuments(ctx context.Context, cursor string, limit int) (
	[]domain.Document, string, error,
) {
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q: %w", cursor, domain.ErrInvalidInput)
		}
		offset = parsed
	}

	keys, err := r.store.Scan(ctx, docKeyPrefix+"*")
	if err != nil {
		return nil, "", fmt.Errorf("scan documents: %w", err)
	}

	docs := make([]domain.Document, 0, len(keys))
	for _, key := range keys {
		raw, err := r.store.JSONGet(ctx, key, "$")
		if err != nil {
			if errors.Is(err, db.ErrKeyNotFound) {
				continue // deleted between scan and read
			}
			return nil, "", fmt.Errorf("json.get %s: %w", key, err)
		}
		doc, err := parseDocJSON(raw)
		if err != nil {
			return nil, "", err
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].IngestedAt.Equal(docs[j].IngestedAt) {
			return docs[i].IngestedAt.After(docs[j].IngestedAt)
		}
		return docs[i].ID < docs[j].ID
	})

	if offset >= len(docs) {
		return nil, "", nil
	}
	end := offset + limit
	var next string
	if end < len(docs) {
		next = strconv.Itoa(end)
	} else {
		end = len(docs)
	}
	return docs[offset:end], next, nil
}

// SaveChunks bulk-writes chunk records in one round-trip.
func (r *Repo) SaveChunks(ctx context.Context, chunks []domain.Chunk) error {
	items := make([]db.JSONSetItem, len(chunks))
	for i, c := range chunks {
		data, err := json.Marshal(chunkToDTO(c))
		if err != nil {
			return fmt.Errorf("marshal chunk %s: %w", c.ID, err)
		}
		items[i] = db.JSONSetItem{Key: chunkKey(c.ID), Path: "$", Data: data}
	}
	if err := r.store.JSONSetMulti(ctx, items); err != nil {
		return fmt.Errorf("json.set chunks: %w", err)
	}
	return nil
}

// GetChunks returns chunk records by ID, preserving request order.
func (r *Repo) GetChunks(ctx context.Context, chunkIDs []string) ([]domain.Chunk, error) {
	chunks := make([]domain.Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		raw, err := r.store.JSONGet(ctx, chunkKey(id), "$")
		if err != nil {
			if errors.Is(err, db.ErrKeyNotFound) {
				return nil, fmt.Errorf("chunk %s: %w", id, domain.ErrChunkNotFound)
			}
			return nil, fmt.Errorf("json.get chunk %s: %w", id, err)
		}
		c, err := parseChunkJSON(raw)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// ChunksByDocument returns the chunks of one document ordered by sequence.
func (r *Repo) ChunksByDocument(ctx context.Context, docID string) ([]domain.Chunk, error) {
	keys, err := r.store.Scan(ctx, chunkKeyPrefix+docID+":*")
	if err != nil {
		return nil, fmt.Errorf("scan chunks of %s: %w", docID, err)
	}
	chunks := make([]domain.Chunk, 0, len(keys))
	for _, key := range keys {
		raw, err := r.store.JSONGet(ctx, key, "$")
		if err != nil {
			if errors.Is(err, db.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("json.get %s: %w", key, err)
		}
		c, err := parseChunkJSON(raw)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Seq < chunks[j].Seq })
	return chunks, nil
}

// SaveEmbeddings bulk-writes embedding records in one round-trip.
// A chunk keeps at most one embedding per model ID; same-model writes replace.
func (r *Repo) SaveEmbeddings(ctx context.Context, embs []domain.Embedding) error {
	items := make([]db.HashSetItem, len(embs))
	for i, e := range embs {
		items[i] = db.HashSetItem{Key: embKey(e.ChunkID, e.ModelID), Fields: embToFields(e)}
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("hset embeddings: %w", err)
	}
	return nil
}

// GetEmbedding returns one embedding record.
func (r *Repo) GetEmbedding(ctx context.Context, chunkID, modelID string) (domain.Embedding, error) {
	fields, err := r.store.HGetAll(ctx, embKey(chunkID, modelID))
	if err != nil {
		return domain.Embedding{}, fmt.Errorf("hgetall embedding %s/%s: %w", chunkID, modelID, err)
	}
	if len(fields) == 0 {
		return domain.Embedding{}, fmt.Errorf("embedding %s/%s: %w", chunkID, modelID, db.ErrKeyNotFound)
	}
	return embFromFields(fields)
}

// DeleteDocument removes a document and cascades to its chunks and embeddings.
func (r *Repo) DeleteDocument(ctx context.Context, docID string) error {
	doc, err := r.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	chunkKeys, err := r.store.Scan(ctx, chunkKeyPrefix+docID+":*")
	if err != nil {
		return fmt.Errorf("scan chunks of %s: %w", docID, err)
	}
	embKeys, err := r.store.Scan(ctx, embKeyPrefix+docID+":*")
	if err != nil {
		return fmt.Errorf("scan embeddings of %s: %w", docID, err)
	}

	doomed := make([]string, 0, len(chunkKeys)+len(embKeys)+2)
	doomed = append(doomed, chunkKeys...)
	doomed = append(doomed, embKeys...)
	doomed = append(doomed, docKey(docID))
	if doc.ExternalID != "" {
		// The mapping may already point at a newer version of this
		// external ID; drop it only if it still names this document.
		current, err := r.store.Get(ctx, docExtKey(doc.ExternalID))
		if err != nil && !errors.Is(err, db.ErrKeyNotFound) {
			return fmt.Errorf("get external mapping %s: %w", doc.ExternalID, err)
		}
		if err == nil && string(current) == docID {
			doomed = append(doomed, docExtKey(doc.ExternalID))
		}
	}
	if err := r.store.DelMulti(ctx, doomed); err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	return nil
}

// WalkEmbeddings streams every stored embedding with its index metadata,
// implementing index.EmbeddingSource for rebuilds.
func (r *Repo) WalkEmbeddings(
	ctx context.Context, fn func(chunkID string, vec []float32, meta index.Meta) error,
) error {
	keys, err := r.store.Scan(ctx, embKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("scan embeddings: %w", err)
	}

	docTimes := make(map[string]domain.Document)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunkID, modelID, ok := splitEmbKey(key)
		if !ok {
			continue
		}
		fields, err := r.store.HGetAll(ctx, key)
		if err != nil {
			return fmt.Errorf("hgetall %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		emb, err := embFromFields(fields)
		if err != nil {
			return fmt.Errorf("embedding %s: %w", key, err)
		}

		docID, seq, err := splitChunkID(chunkID)
		if err != nil {
			return err
		}
		doc, ok := docTimes[docID]
		if !ok {
			doc, err = r.GetDocument(ctx, docID)
			if err != nil {
				if errors.Is(err, domain.ErrDocumentNotFound) {
					continue // orphan left by an interrupted delete
				}
				return err
			}
			docTimes[docID] = doc
		}

		meta := index.Meta{
			ModelID:    modelID,
			DocumentID: docID,
			Seq:        seq,
			IngestedAt: doc.IngestedAt,
		}
		if err := fn(chunkID, emb.Vector, meta); err != nil {
			return err
		}
	}
	return nil
}

func parseDocJSON(raw []byte) (domain.Document, error) {
	dto, err := unwrapJSONPath[documentDTO](raw)
	if err != nil {
		return domain.Document{}, fmt.Errorf("parse document: %w", err)
	}
	return docFromDTO(dto)
}

func parseChunkJSON(raw []byte) (domain.Chunk, error) {
	dto, err := unwrapJSONPath[chunkDTO](raw)
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("parse chunk: %w", err)
	}
	return chunkFromDTO(dto), nil
}

// unwrapJSONPath decodes a JSON.GET "$" result, which wraps the value in a
// single-element array, falling back to a bare object.
func unwrapJSONPath[T any](raw []byte) (T, error) {
	var arr []T
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 {
		return arr[0], nil
	}
	var one T
	if err := json.Unmarshal(raw, &one); err != nil {
		return one, err
	}
	return one, nil
}

// splitChunkID extracts (docID, seq) from a docID:seq chunk ID.
func splitChunkID(chunkID string) (string, int, error) {
	i := len(chunkID) - 1
	for i >= 0 && chunkID[i] != ':' {
		i--
	}
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed chunk ID %q: %w", chunkID, domain.ErrInvalidInput)
	}
	seq, err := strconv.Atoi(chunkID[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed chunk ID %q: %w", chunkID, domain.ErrInvalidInput)
	}
	return chunkID[:i], seq, nil
}
