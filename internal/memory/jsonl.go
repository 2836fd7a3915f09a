package memory

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"io"

	"go.uber.org/zap"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/storage"
)

// jsonlRecord is the on-disk JSONL shape: embedding is base64-encoded so
// the packed float32 BLOB round-trips through a text format untouched.
type jsonlRecord struct {
	ID           string   `json:"id"`
	Content      string   `json:"content"`
	Metadata     string   `json:"metadata"`
	Collection   string   `json:"collection"`
	CreatedAt    int64    `json:"created_at"`
	UpdatedAt    int64    `json:"updated_at"`
	Confidence   float64  `json:"confidence"`
	Embedding    string   `json:"embedding,omitempty"`
	Tags         []string `json:"tags"`
	AutoTags     []string `json:"auto_tags"`
	Keywords     []string `json:"keywords"`
	ValidFrom    *int64   `json:"valid_from,omitempty"`
	ValidUntil   *int64   `json:"valid_until,omitempty"`
	SupersededBy string   `json:"superseded_by,omitempty"`
}

// Export writes every memory, ordered by created_at, as one JSON object
// per line.
func (m *Memories) Export(ctx context.Context, w io.Writer) (int, error) {
	rows, err := m.db.Query(ctx, selectMemorySQL+" ORDER BY created_at ASC")
	if err != nil {
		return 0, errs.Wrap(errs.Storage, err)
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0
	for rows.Next() {
		var mem Memory
		var tags, autoTags, keywords string
		var embedding []byte
		var validFrom, validUntil sql.NullInt64
		var supersededBy sql.NullString
		if err := rows.Scan(&mem.ID, &mem.Content, &mem.Metadata, &mem.Collection, &mem.CreatedAt, &mem.UpdatedAt,
			&mem.Confidence, &embedding, &tags, &autoTags, &keywords, &validFrom, &validUntil, &supersededBy); err != nil {
			return count, errs.Wrap(errs.Storage, err)
		}
		rec := jsonlRecord{
			ID: mem.ID, Content: mem.Content, Metadata: mem.Metadata, Collection: mem.Collection,
			CreatedAt: mem.CreatedAt, UpdatedAt: mem.UpdatedAt, Confidence: mem.Confidence,
			Tags: mustUnmarshalStrings(tags), AutoTags: mustUnmarshalStrings(autoTags), Keywords: mustUnmarshalStrings(keywords),
		}
		if len(embedding) > 0 {
			rec.Embedding = base64.StdEncoding.EncodeToString(embedding)
		}
		if validFrom.Valid {
			rec.ValidFrom = &validFrom.Int64
		}
		if validUntil.Valid {
			rec.ValidUntil = &validUntil.Int64
		}
		if supersededBy.Valid {
			rec.SupersededBy = supersededBy.String
		}
		if err := enc.Encode(rec); err != nil {
			return count, errs.Wrap(errs.Storage, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, errs.Wrap(errs.Storage, err)
	}
	return count, nil
}

// Import reads JSONL records written by Export and inserts each one whose
// id isn't already present; a row with a colliding id is left untouched
// rather than overwritten. A line that fails to parse or insert is logged
// and skipped, it does not abort the rest of the batch. The returned count
// is the number of rows actually inserted, not the number of lines read.
func (m *Memories) Import(ctx context.Context, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			m.log.Warn("skipping invalid import line", zap.Error(err))
			continue
		}
		var embedding []byte
		if rec.Embedding != "" {
			b, err := base64.StdEncoding.DecodeString(rec.Embedding)
			if err != nil {
				m.log.Warn("skipping import line with invalid embedding", zap.String("id", rec.ID), zap.Error(err))
				continue
			}
			embedding = b
		}
		inserted, err := m.importRecord(ctx, rec, embedding)
		if err != nil {
			m.log.Warn("skipping import record", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		if inserted {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return count, errs.Wrap(errs.Storage, err)
	}
	return count, nil
}

// importRecord inserts one row if its id is new, reporting whether it did.
// An id that already exists is a no-op, not an update: Import is a merge
// of new records, never a bulk overwrite of rows a caller may have edited
// since they were exported.
func (m *Memories) importRecord(ctx context.Context, rec jsonlRecord, embedding []byte) (bool, error) {
	inserted := false
	err := m.db.Transaction(ctx, func(tx storage.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE id = $1`, rec.ID).Scan(&exists); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		if exists > 0 {
			return nil
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO memories (id, content, metadata, collection, created_at, updated_at, confidence,
				embedding, tags, auto_tags, keywords, valid_from, valid_until, superseded_by)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			rec.ID, rec.Content, rec.Metadata, rec.Collection, rec.CreatedAt, rec.UpdatedAt, rec.Confidence,
			embedding, mustMarshalStrings(rec.Tags), mustMarshalStrings(rec.AutoTags), mustMarshalStrings(rec.Keywords),
			nullIfZeroInt(rec.ValidFrom), nullIfZeroInt(rec.ValidUntil), nullIfEmpty(rec.SupersededBy))
		if err != nil {
			return errs.Wrap(errs.Storage, err)
		}

		var rowid int64
		if err := tx.QueryRowContext(ctx, `SELECT rowid FROM memories WHERE id = $1`, rec.ID).Scan(&rowid); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts(rowid, content) VALUES ($1, $2)`, rowid, rec.Content); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZeroInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
