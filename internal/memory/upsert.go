package memory

import (
	"context"
	"time"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/smartop"
	"github.com/swarmhive/core/internal/storage"
)

const (
	defaultSmartOpTopK      = 5
	defaultSmartOpThreshold = 0.7
)

// UpsertOptions controls a smart upsert. Embeds StoreOptions so a plain
// ADD carries the same enrichment flags a direct Store call would.
type UpsertOptions struct {
	StoreOptions
	UseSmartOps bool
	TopK        int
	Threshold   float64
}

func (o UpsertOptions) withDefaults() UpsertOptions {
	o.StoreOptions = o.StoreOptions.withDefaults()
	if o.TopK <= 0 {
		o.TopK = defaultSmartOpTopK
	}
	if o.Threshold <= 0 {
		o.Threshold = defaultSmartOpThreshold
	}
	return o
}

// Upsert embeds content, finds similar existing memories, asks
// internal/smartop which of ADD/UPDATE/DELETE/NOOP to run, and executes
// it atomically. When UseSmartOps is false it stores straight away as ADD
// with its own reason. When no inference client is available there are no
// candidates, and smartop.Decide's no-client path returns ADD with its
// degradation reason.
func (m *Memories) Upsert(ctx context.Context, content string, opts UpsertOptions) (Memory, smartop.Decision, error) {
	opts = opts.withDefaults()

	if !opts.UseSmartOps {
		row, err := m.Store(ctx, content, opts.StoreOptions)
		return row, smartop.Decision{Op: smartop.OpAdd, Reason: "smart ops disabled for this call"}, err
	}

	client := m.infer.Current()
	var candidates []smartop.Candidate
	if client != nil {
		vec, err := client.Embed(ctx, content)
		if err == nil {
			candidates, err = m.similarAbove(ctx, vec, opts.Collection, opts.Threshold, opts.TopK)
			if err != nil {
				candidates = nil
			}
		}
	}

	decision := smartop.Decide(ctx, client, content, candidates)
	if m.metrics != nil {
		m.metrics.MemoryUpserts.WithLabelValues(opDecisionLabel(decision.Op)).Inc()
	}

	switch decision.Op {
	case smartop.OpAdd:
		row, err := m.Store(ctx, content, opts.StoreOptions)
		return row, decision, err

	case smartop.OpUpdate:
		row, err := m.overwrite(ctx, decision.Target, content)
		return row, decision, err

	case smartop.OpDelete:
		if decision.Target == "" {
			return Memory{}, decision, errs.New(errs.Validation, "smart-op DELETE returned no target")
		}
		err := m.Delete(ctx, decision.Target)
		return Memory{}, decision, err

	case smartop.OpNoop:
		if decision.Target == "" {
			return Memory{}, decision, nil
		}
		row, _, err := m.Get(ctx, decision.Target)
		return row, decision, err

	default:
		return Memory{}, decision, errs.New(errs.Validation, "unrecognized smart-op decision: "+string(decision.Op))
	}
}

func opDecisionLabel(op smartop.Op) string {
	switch op {
	case smartop.OpAdd:
		return "add"
	case smartop.OpUpdate:
		return "update"
	case smartop.OpDelete:
		return "delete"
	case smartop.OpNoop:
		return "noop"
	default:
		return "unknown"
	}
}

// overwrite re-embeds content and replaces targetID's content/embedding in
// place, resyncing the FTS shadow row in the same transaction.
func (m *Memories) overwrite(ctx context.Context, targetID, content string) (Memory, error) {
	var embedding []float32
	if client := m.infer.Current(); client != nil {
		if vec, err := client.Embed(ctx, content); err == nil {
			embedding = vec
		}
	}

	now := time.Now().UnixMilli()
	var row Memory
	err := m.db.Transaction(ctx, func(tx storage.Tx) error {
		var oldContent string
		var rowid int64
		if err := tx.QueryRowContext(ctx, `SELECT rowid, content FROM memories WHERE id = $1`, targetID).Scan(&rowid, &oldContent); err != nil {
			return errs.New(errs.NotFound, "memory not found: "+targetID)
		}
		if err := deleteFromFTSTx(ctx, tx, rowid, oldContent); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET content = $1, embedding = $2, updated_at = $3 WHERE id = $4`,
			content, packEmbedding(embedding), now, targetID); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts(rowid, content) VALUES ($1, $2)`, rowid, content); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		return nil
	})
	if err != nil {
		return Memory{}, err
	}

	row, _, err = m.Get(ctx, targetID)
	return row, err
}

// similarAbove returns every memory in collection (with an embedding)
// whose cosine similarity to vec is at least threshold, sorted
// descending and capped to topK.
func (m *Memories) similarAbove(ctx context.Context, vec []float32, collection string, threshold float64, topK int) ([]smartop.Candidate, error) {
	rows, err := m.db.Query(ctx, `SELECT id, embedding FROM memories WHERE collection = $1 AND embedding IS NOT NULL`,
		collectionOrDefault(collection))
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	defer rows.Close()

	var candidates []scoredID
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, errs.Wrap(errs.Storage, err)
		}
		score := cosineSimilarity(vec, unpackEmbedding(blob))
		if score >= threshold {
			candidates = append(candidates, scoredID{id: id, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}

	topN(candidates, topK)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]smartop.Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = smartop.Candidate{ID: c.id, Score: c.score}
	}
	return out, nil
}
