package sqlite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

// ─── Blob Store ─────────────────────────────────────────────────────────────
// Implements domain.ModelStore. Content-addressed: model_id is the lowercase
// hex SHA-256 of the stored bytes, so Put is idempotent under concurrent
// writers uploading the same artifact.

func (d *DB) Put(ctx context.Context, data []byte) (domain.ModelArtifact, error) {
	sum := sha256.Sum256(data)
	modelID := hex.EncodeToString(sum[:])
	now := time.Now().UTC()

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO blobs (model_id, size_bytes, data, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(model_id) DO NOTHING`,
		modelID, len(data), data, unixPtr(now),
	)
	if err != nil {
		return domain.ModelArtifact{}, err
	}
	return d.Stat(ctx, modelID)
}

func (d *DB) Get(ctx context.Context, modelID string) ([]byte, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE model_id = ?`, modelID).Scan(&data)
	if err != nil {
		return nil, mapErr(err, domain.ErrModelNotFound)
	}
	return data, nil
}

func (d *DB) Stat(ctx context.Context, modelID string) (domain.ModelArtifact, error) {
	var size int64
	var createdAt int64
	err := d.db.QueryRowContext(ctx,
		`SELECT size_bytes, created_at FROM blobs WHERE model_id = ?`, modelID,
	).Scan(&size, &createdAt)
	if err != nil {
		return domain.ModelArtifact{}, mapErr(err, domain.ErrModelNotFound)
	}
	return domain.ModelArtifact{ModelID: modelID, Size: size, CreatedAt: unixToTime(createdAt)}, nil
}

func (d *DB) Delete(ctx context.Context, modelID string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM blobs WHERE model_id = ?`, modelID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrModelNotFound
	}
	return nil
}

// Chunks splits a stored blob into chunkSize pieces for the model transport
// RPC. The whole blob is read into memory up front — acceptable for the
// model sizes this orchestrator targets (edge FL checkpoints, not LLM
// weights) and keeps chunk indices stable against concurrent writers since
// blobs are immutable once stored.
func (d *DB) Chunks(ctx context.Context, modelID string, chunkSize int) (domain.ChunkMetadata, <-chan domain.Chunk, error) {
	data, err := d.Get(ctx, modelID)
	if err != nil {
		return domain.ChunkMetadata{}, nil, err
	}
	if chunkSize <= 0 {
		chunkSize = domain.DefaultChunkSize
	}
	sum := sha256.Sum256(data)
	total := (len(data) + chunkSize - 1) / chunkSize
	meta := domain.ChunkMetadata{
		ModelID:     modelID,
		Size:        int64(len(data)),
		TotalChunks: total,
		ChunkSize:   chunkSize,
		SHA256:      hex.EncodeToString(sum[:]),
	}

	ch := make(chan domain.Chunk)
	go func() {
		defer close(ch)
		for i := 0; i < total; i++ {
			start := i * chunkSize
			end := start + chunkSize
			if end > len(data) {
				end = len(data)
			}
			chunk := domain.Chunk{Index: i, Bytes: data[start:end]}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return meta, ch, nil
}
