// Package memory is the semantic memory store: durable notes with an
// embedding for vector search, an FTS5 fallback, confidence-adjusted
// decay, temporal validity/supersession, and a smart upsert that
// delegates ADD/UPDATE/DELETE/NOOP decisions to internal/smartop.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/inference"
	"github.com/swarmhive/core/internal/metrics"
	"github.com/swarmhive/core/internal/storage"
)

// Memory is one stored note. Embedding is not a field here (it's 4KB of
// packed floats per row); Get returns it alongside the struct.
type Memory struct {
	ID           string
	Content      string
	Metadata     string
	Collection   string
	CreatedAt    int64
	UpdatedAt    int64
	Confidence   float64
	Tags         []string
	AutoTags     []string
	Keywords     []string
	ValidFrom    *int64
	ValidUntil   *int64
	SupersededBy string
}

// Memories is the semantic memory surface.
type Memories struct {
	db      storage.Adapter
	log     *zap.Logger
	metrics *metrics.Registry
	infer   *inference.Registry
}

func New(db storage.Adapter, log *zap.Logger, m *metrics.Registry, infer *inference.Registry) *Memories {
	if log == nil {
		log = zap.NewNop()
	}
	if infer == nil {
		infer = inference.NewRegistry()
	}
	return &Memories{db: db, log: log, metrics: m, infer: infer}
}

// StoreOptions controls enrichment of a plain Store call. Every
// enrichment is best-effort: a failure logs a warning and leaves the
// corresponding columns at their zero value, never failing the store.
type StoreOptions struct {
	Collection      string
	Confidence      float64
	Tags            []string
	AutoTag         bool
	AutoLink        bool
	ExtractEntities bool
}

func (o StoreOptions) withDefaults() StoreOptions {
	if o.Collection == "" {
		o.Collection = "default"
	}
	if o.Confidence <= 0 {
		o.Confidence = 0.8
	}
	return o
}

// Store writes a new memory row, embedding the content when an inference
// client is available, then fans out the enabled enrichments
// concurrently. The core row is committed before enrichment starts, so a
// crash mid-enrichment never loses the memory itself.
func (m *Memories) Store(ctx context.Context, content string, opts StoreOptions) (Memory, error) {
	opts = opts.withDefaults()
	now := time.Now().UnixMilli()

	var embedding []float32
	if client := m.infer.Current(); client != nil {
		vec, err := client.Embed(ctx, content)
		if err != nil {
			m.log.Warn("memory: embed failed, storing FTS-only row", zap.Error(err))
			if m.metrics != nil {
				m.metrics.InferenceErrors.Inc()
			}
		} else {
			embedding = vec
		}
	}

	row := Memory{
		ID:         uuid.NewString(),
		Content:    content,
		Metadata:   "{}",
		Collection: opts.Collection,
		CreatedAt:  now,
		UpdatedAt:  now,
		Confidence: opts.Confidence,
		Tags:       opts.Tags,
		AutoTags:   []string{},
		Keywords:   []string{},
	}

	if err := m.insert(ctx, row, embedding); err != nil {
		return Memory{}, err
	}

	m.enrich(ctx, row.ID, content, opts)
	return row, nil
}

func (m *Memories) insert(ctx context.Context, row Memory, embedding []float32) error {
	_, err := m.db.Exec(ctx, `
		INSERT INTO memories
			(id, content, metadata, collection, created_at, updated_at, confidence, embedding, tags, auto_tags, keywords)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		row.ID, row.Content, row.Metadata, row.Collection, row.CreatedAt, row.UpdatedAt, row.Confidence,
		packEmbedding(embedding), mustMarshalStrings(row.Tags), mustMarshalStrings(row.AutoTags), mustMarshalStrings(row.Keywords))
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	_, err = m.db.Exec(ctx, `INSERT INTO memories_fts(rowid, content) SELECT rowid, content FROM memories WHERE id = $1`, row.ID)
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

// enrich runs the enabled auto-tag/auto-link/entity-extraction steps
// concurrently via errgroup, each catching and logging its own error so
// none of them can fail the enclosing Store/Upsert call.
func (m *Memories) enrich(ctx context.Context, memoryID, content string, opts StoreOptions) {
	client := m.infer.Current()
	if client == nil || (!opts.AutoTag && !opts.AutoLink && !opts.ExtractEntities) {
		return
	}

	var g errgroup.Group
	if opts.AutoTag {
		g.Go(func() error {
			if err := m.autoTag(ctx, client, memoryID, content); err != nil {
				m.log.Warn("memory: auto-tag failed", zap.String("memory", memoryID), zap.Error(err))
			}
			return nil
		})
	}
	if opts.AutoLink {
		g.Go(func() error {
			if err := m.autoLink(ctx, memoryID); err != nil {
				m.log.Warn("memory: auto-link failed", zap.String("memory", memoryID), zap.Error(err))
			}
			return nil
		})
	}
	if opts.ExtractEntities {
		g.Go(func() error {
			if err := m.extractEntities(ctx, client, memoryID, content); err != nil {
				m.log.Warn("memory: entity extraction failed", zap.String("memory", memoryID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Get fetches one memory by id, with its embedding.
func (m *Memories) Get(ctx context.Context, id string) (Memory, []float32, error) {
	row := m.db.QueryRow(ctx, selectMemorySQL+" WHERE id = $1", id)
	return scanMemory(row)
}

// Delete removes a memory and its FTS shadow row. FTS5 external-content
// tables require the special 'delete' command (passing the old rowid and
// content back in) rather than a plain DELETE against the fts table — see
// deleteFromFTS.
func (m *Memories) Delete(ctx context.Context, id string) error {
	return m.db.Transaction(ctx, func(tx storage.Tx) error {
		var rowid int64
		var content string
		if err := tx.QueryRowContext(ctx, `SELECT rowid, content FROM memories WHERE id = $1`, id).Scan(&rowid, &content); err != nil {
			if err == sql.ErrNoRows {
				return errs.New(errs.NotFound, "memory not found: "+id)
			}
			return errs.Wrap(errs.Storage, err)
		}
		if err := deleteFromFTSTx(ctx, tx, rowid, content); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		return nil
	})
}

// deleteFromFTSTx removes rowid's entry from the memories_fts index. FTS5
// external-content tables only support row removal via this special
// 'delete' command, which must be given the exact old content to undo the
// index's internal tokenization bookkeeping.
func deleteFromFTSTx(ctx context.Context, tx storage.Tx, rowid int64, content string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', $1, $2)`, rowid, content)
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

const selectMemorySQL = `SELECT id, content, metadata, collection, created_at, updated_at, confidence,
	embedding, tags, auto_tags, keywords, valid_from, valid_until, superseded_by FROM memories`

func scanMemory(row *sql.Row) (Memory, []float32, error) {
	var m Memory
	var tags, autoTags, keywords string
	var embedding []byte
	var validFrom, validUntil sql.NullInt64
	var supersededBy sql.NullString
	err := row.Scan(&m.ID, &m.Content, &m.Metadata, &m.Collection, &m.CreatedAt, &m.UpdatedAt, &m.Confidence,
		&embedding, &tags, &autoTags, &keywords, &validFrom, &validUntil, &supersededBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return Memory{}, nil, errs.New(errs.NotFound, "memory not found")
		}
		return Memory{}, nil, errs.Wrap(errs.Storage, err)
	}
	m.Tags = mustUnmarshalStrings(tags)
	m.AutoTags = mustUnmarshalStrings(autoTags)
	m.Keywords = mustUnmarshalStrings(keywords)
	if validFrom.Valid {
		m.ValidFrom = &validFrom.Int64
	}
	if validUntil.Valid {
		m.ValidUntil = &validUntil.Int64
	}
	if supersededBy.Valid {
		m.SupersededBy = supersededBy.String
	}
	return m, unpackEmbedding(embedding), nil
}

func mustMarshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func mustUnmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}
