package memory

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/storage"
)

const (
	linkTypeRelated   = "related"
	autoLinkTopN      = 5
	autoLinkThreshold = 0.75
)

// autoLink scans every other memory's embedding for similarity above
// autoLinkThreshold and inserts up to autoLinkTopN "related" links,
// silently skipping rows the unique (source,target,type) constraint
// already covers.
func (m *Memories) autoLink(ctx context.Context, memoryID string) error {
	var embedding []byte
	if err := m.db.QueryRow(ctx, `SELECT embedding FROM memories WHERE id = $1`, memoryID).Scan(&embedding); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	source := unpackEmbedding(embedding)
	if len(source) == 0 {
		return nil
	}

	rows, err := m.db.Query(ctx, `SELECT id, embedding FROM memories WHERE id != $1 AND embedding IS NOT NULL`, memoryID)
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	defer rows.Close()

	var candidates []scoredID
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		score := cosineSimilarity(source, unpackEmbedding(blob))
		if score >= autoLinkThreshold {
			candidates = append(candidates, scoredID{id: id, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap(errs.Storage, err)
	}

	topN(candidates, autoLinkTopN)
	if len(candidates) > autoLinkTopN {
		candidates = candidates[:autoLinkTopN]
	}

	for _, c := range candidates {
		_, err := m.db.Exec(ctx, `
			INSERT INTO memory_links (id, source_id, target_id, link_type, strength)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (source_id, target_id, link_type) DO NOTHING`,
			uuid.NewString(), memoryID, c.id, linkTypeRelated, c.score)
		if err != nil {
			return errs.Wrap(errs.Storage, err)
		}
	}
	return nil
}

type scoredID struct {
	id    string
	score float64
}

// topN sorts candidates by descending score in place with a stable
// insertion sort, since autoLink's candidate lists are small
// (bounded by the collection size of a single embedded store, not the
// kind of input that warrants sort.Slice's overhead here). The second
// argument is unused: the whole slice is sorted.
func topN(c []scoredID, _ int) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].score > c[j-1].score; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

// Supersede marks oldID superseded by newID: old's valid_until closes now
// and its superseded_by points at new; new's valid_from opens now.
func (m *Memories) Supersede(ctx context.Context, oldID, newID string) error {
	now := time.Now().UnixMilli()
	return m.db.Transaction(ctx, func(tx storage.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE memories SET superseded_by = $1, valid_until = $2 WHERE id = $3`, newID, now, oldID)
		if err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.New(errs.NotFound, "memory not found: "+oldID)
		}
		res, err = tx.ExecContext(ctx, `UPDATE memories SET valid_from = $1 WHERE id = $2`, now, newID)
		if err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.New(errs.NotFound, "memory not found: "+newID)
		}
		return nil
	})
}

// GetSupersessionChain walks superseded_by starting at id, returning the
// chronological chain of ids from id to the newest version. A cycle
// (which supersede's write pattern should never create) is broken by a
// visited set rather than looping forever.
func (m *Memories) GetSupersessionChain(ctx context.Context, id string) ([]string, error) {
	chain := []string{id}
	visited := map[string]bool{id: true}
	current := id
	for {
		var next sql.NullString
		err := m.db.QueryRow(ctx, `SELECT superseded_by FROM memories WHERE id = $1`, current).Scan(&next)
		if err != nil {
			if err == sql.ErrNoRows {
				break
			}
			return nil, errs.Wrap(errs.Storage, err)
		}
		if !next.Valid || next.String == "" || visited[next.String] {
			break
		}
		chain = append(chain, next.String)
		visited[next.String] = true
		current = next.String
	}
	return chain, nil
}
