package domain

import "time"

// ModelArtifact is an immutable, content-addressed model blob: the
// compiled training graph distributed to workers, or a round's aggregate
// checkpoint. ModelID is the lowercase hex SHA-256 of Bytes and is never
// recomputed once stored.
type ModelArtifact struct {
	ModelID   string    `json:"model_id"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// ChunkMetadata is the first frame of a chunked model download.
type ChunkMetadata struct {
	ModelID     string `json:"model_id"`
	Size        int64  `json:"size"`
	TotalChunks int    `json:"total_chunks"`
	ChunkSize   int    `json:"chunk_size"`
	SHA256      string `json:"sha256"`
}

// Chunk is one data frame of a chunked model download. Index is strictly
// increasing from 0; every chunk but the last is exactly ChunkSize bytes.
type Chunk struct {
	Index int    `json:"chunk_index"`
	Bytes []byte `json:"bytes"`
}

// DefaultChunkSize is the default chunk_size_bytes for model transport.
const DefaultChunkSize = 1 << 20

// HumanSize renders a byte count for tabular CLI output.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return itoa(int(n)) + "B"
	}
	div, exp := int64(unit), 0
	for next := n / unit; next >= unit; next /= unit {
		div *= unit
		exp++
	}
	units := "KMGTPE"
	val := float64(n) / float64(div)
	return trimFloat(val) + string(units[exp]) + "iB"
}

func trimFloat(v float64) string {
	whole := int64(v)
	frac := int64((v - float64(whole)) * 10)
	if frac == 0 {
		return itoa(int(whole))
	}
	return itoa(int(whole)) + "." + itoa(int(frac))
}
