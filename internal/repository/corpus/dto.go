package corpus

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
)

// Key layout:
//
//	jarvis:doc:{docID}            JSON document record
//	jarvis:docext:{externalID}    current document ID for an external ID
//	jarvis:chunk:{docID}:{seq}    JSON chunk record
//	jarvis:emb:{chunkID}:{model}  hash embedding record (vector as packed f32)
var (
	docKeyPrefix    = domain.KeyPrefix + "doc:"
	docExtKeyPrefix = domain.KeyPrefix + "docext:"
	chunkKeyPrefix  = domain.KeyPrefix + "chunk:"
	embKeyPrefix    = domain.KeyPrefix + "emb:"
)

func docKey(id string) string        { return docKeyPrefix + id }
func docExtKey(ext string) string    { return docExtKeyPrefix + ext }
func chunkKey(chunkID string) string { return chunkKeyPrefix + chunkID }

func embKey(chunkID, modelID string) string {
	return embKeyPrefix + chunkID + ":" + modelID
}

// documentDTO is the stored JSON shape of a document.
type documentDTO struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id,omitempty"`
	Title      string `json:"title,omitempty"`
	SourceURI  string `json:"source_uri,omitempty"`
	Version    int    `json:"version"`
	Status     string `json:"status"`
	IngestedAt string `json:"ingested_at"`
	ChunkCount int    `json:"chunk_count"`
}

func docToDTO(d domain.Document) documentDTO {
	return documentDTO{
		ID:         d.ID,
		ExternalID: d.ExternalID,
		Title:      d.Title,
		SourceURI:  d.SourceURI,
		Version:    d.Version,
		Status:     string(d.Status),
		IngestedAt: d.IngestedAt.UTC().Format(time.RFC3339Nano),
		ChunkCount: d.ChunkCount,
	}
}

func docFromDTO(dto documentDTO) (domain.Document, error) {
	ingested, err := time.Parse(time.RFC3339Nano, dto.IngestedAt)
	if err != nil {
		return domain.Document{}, fmt.Errorf("parse ingested_at %q: %w", dto.IngestedAt, err)
	}
	return domain.Document{
		ID:         dto.ID,
		ExternalID: dto.ExternalID,
		Title:      dto.Title,
		SourceURI:  dto.SourceURI,
		Version:    dto.Version,
		Status:     domain.IngestStatus(dto.Status),
		IngestedAt: ingested,
		ChunkCount: dto.ChunkCount,
	}, nil
}

// chunkDTO is the stored JSON shape of a chunk.
type chunkDTO struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Seq        int    `json:"seq"`
}

func chunkToDTO(c domain.Chunk) chunkDTO {
	return chunkDTO{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		Text:       c.Text,
		Start:      c.Start,
		End:        c.End,
		Seq:        c.Seq,
	}
}

func chunkFromDTO(dto chunkDTO) domain.Chunk {
	return domain.Chunk{
		ID:         dto.ID,
		DocumentID: dto.DocumentID,
		Text:       dto.Text,
		Start:      dto.Start,
		End:        dto.End,
		Seq:        dto.Seq,
	}
}

// Embedding hash fields.
const (
	fieldChunkID    = "chunk_id"
	fieldModelID    = "model_id"
	fieldDim        = "dim"
	fieldNormalized = "normalized"
	fieldVector     = "vector"
)

func embToFields(e domain.Embedding) map[string]string {
	return map[string]string{
		fieldChunkID:    e.ChunkID,
		fieldModelID:    e.ModelID,
		fieldDim:        strconv.Itoa(e.Dim),
		fieldNormalized: strconv.FormatBool(e.Normalized),
		fieldVector:     string(vectorToBytes(e.Vector)),
	}
}

func embFromFields(fields map[string]string) (domain.Embedding, error) {
	dim, err := strconv.Atoi(fields[fieldDim])
	if err != nil {
		return domain.Embedding{}, fmt.Errorf("parse dim %q: %w", fields[fieldDim], err)
	}
	vec, err := bytesToVector([]byte(fields[fieldVector]))
	if err != nil {
		return domain.Embedding{}, err
	}
	if len(vec) != dim {
		return domain.Embedding{}, fmt.Errorf(
			"stored vector has %d dims, record says %d: %w",
			len(vec), dim, domain.ErrIndexInconsistency,
		)
	}
	return domain.Embedding{
		ChunkID:    fields[fieldChunkID],
		ModelID:    fields[fieldModelID],
		Dim:        dim,
		Normalized: fields[fieldNormalized] == "true",
		Vector:     vec,
	}, nil
}

// splitEmbKey extracts (chunkID, modelID) from a full embedding key.
// Chunk IDs contain one colon (docID:seq), so the model ID is everything
// after the third colon past the prefix.
func splitEmbKey(key string) (chunkID, modelID string, ok bool) {
	rest, found := strings.CutPrefix(key, embKeyPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return "", "", false
	}
	return parts[0] + ":" + parts[1], parts[2], true
}

func vectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
