package memory

import (
	"context"
	"database/sql"
	"math"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/swarmhive/core/internal/errs"
)

// Mode selects how Search retrieves candidates.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeVector Mode = "vector"
	ModeFTS    Mode = "fts"
)

const (
	defaultTopK          = 5
	vectorPrefilterLimit = 200
)

// SearchOptions controls one Search call.
type SearchOptions struct {
	Collection string
	TopK       int
	Mode       Mode
	Expand     bool
	// At, if non-zero, restricts results to memories valid at that
	// millisecond timestamp (findValidAt).
	At int64
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.TopK <= 0 {
		o.TopK = defaultTopK
	}
	if o.Mode == "" {
		o.Mode = ModeAuto
	}
	return o
}

// SearchResult pairs a memory with its decayed, ranked score.
type SearchResult struct {
	Memory Memory
	Score  float64
}

const expandTruncateLen = 200

// Search resolves auto mode to vector search when an inference client is
// available, falling back to FTS otherwise. An explicit Mode selects the
// search, except that a failed vector search also falls back to FTS.
func (m *Memories) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	opts = opts.withDefaults()

	useVector := opts.Mode == ModeVector
	if opts.Mode == ModeAuto {
		useVector = m.infer.Current() != nil
	}

	var results []SearchResult
	var err error
	if useVector {
		results, err = m.searchVector(ctx, query, opts)
		if err != nil {
			m.log.Warn("memory: vector search failed, falling back to FTS", zap.Error(err))
			results, err = m.searchFTS(ctx, query, opts)
		}
	} else {
		results, err = m.searchFTS(ctx, query, opts)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	for i := range results {
		results[i].Score *= decayMultiplier(ageDays(results[i].Memory.CreatedAt, now), results[i].Memory.Confidence)
	}
	sortResultsDescending(results)
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	if !opts.Expand {
		for i := range results {
			results[i].Memory.Content = truncate(results[i].Memory.Content, expandTruncateLen)
		}
	}
	return results, nil
}

// searchVector embeds query, narrows candidates through an FTS5
// pre-filter (the "approximate" part of the approximate-nearest-neighbor
// search — cosine distance itself is computed exactly, in Go, over the
// narrowed set), and falls back to the most recent rows when the FTS
// pre-filter matches nothing.
func (m *Memories) searchVector(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	client := m.infer.Current()
	if client == nil {
		return nil, errs.New(errs.InferenceUnavailable, "no inference client available for vector search")
	}
	queryVec, err := client.Embed(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.InferenceUnavailable, err)
	}

	ids, err := m.ftsPrefilterIDs(ctx, query, opts.Collection, vectorPrefilterLimit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		ids, err = m.recentIDs(ctx, opts.Collection, vectorPrefilterLimit)
		if err != nil {
			return nil, err
		}
	}

	var out []SearchResult
	for _, id := range ids {
		mem, embedding, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		if !withinValidity(mem, opts.At) {
			continue
		}
		score := cosineSimilarity(queryVec, embedding)
		out = append(out, SearchResult{Memory: mem, Score: score})
	}
	return out, nil
}

// searchFTS runs a plain FTS5 MATCH, scoring each hit with ftsScore, which
// maps the bm25 rank (more negative is a better match) onto a 0..1
// similarity.
func (m *Memories) searchFTS(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	q := ftsQuery(query)
	if q == "" {
		return nil, nil
	}
	rows, err := m.db.Query(ctx, `
		SELECT mem.id, bm25(memories_fts) FROM memories_fts
		JOIN memories mem ON mem.rowid = memories_fts.rowid
		WHERE memories_fts MATCH $1 AND mem.collection = $2
		ORDER BY bm25(memories_fts) LIMIT $3`, q, collectionOrDefault(opts.Collection), vectorPrefilterLimit)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, errs.Wrap(errs.Storage, err)
		}
		mem, _, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		if !withinValidity(mem, opts.At) {
			continue
		}
		score := ftsScore(rank)
		out = append(out, SearchResult{Memory: mem, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	return out, nil
}

// FindValidAt searches, restricting results to memories whose validity
// window covers at (millisecond timestamp).
func (m *Memories) FindValidAt(ctx context.Context, query string, at int64, opts SearchOptions) ([]SearchResult, error) {
	opts.At = at
	return m.Search(ctx, query, opts)
}

func withinValidity(mem Memory, at int64) bool {
	if at == 0 {
		return true
	}
	if mem.ValidFrom != nil && at < *mem.ValidFrom {
		return false
	}
	if mem.ValidUntil != nil && at >= *mem.ValidUntil {
		return false
	}
	return true
}

func (m *Memories) ftsPrefilterIDs(ctx context.Context, query, collection string, limit int) ([]string, error) {
	q := ftsQuery(query)
	if q == "" {
		return nil, nil
	}
	rows, err := m.db.Query(ctx, `
		SELECT mem.id FROM memories_fts
		JOIN memories mem ON mem.rowid = memories_fts.rowid
		WHERE memories_fts MATCH $1 AND mem.collection = $2
		ORDER BY bm25(memories_fts) LIMIT $3`, q, collectionOrDefault(collection), limit)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (m *Memories) recentIDs(ctx context.Context, collection string, limit int) ([]string, error) {
	rows, err := m.db.Query(ctx, `SELECT id FROM memories WHERE collection = $1 ORDER BY created_at DESC LIMIT $2`,
		collectionOrDefault(collection), limit)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap(errs.Storage, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	return ids, nil
}

func collectionOrDefault(c string) string {
	if c == "" {
		return "default"
	}
	return c
}

func sortResultsDescending(r []SearchResult) {
	for i := 1; i < len(r); i++ {
		for j := i; j > 0 && r[j].Score > r[j-1].Score; j-- {
			r[j], r[j-1] = r[j-1], r[j]
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ftsScore converts an FTS5 bm25() weight (more negative is a better
// match, 0 is worst) into an ascending 0..1 similarity score via a
// logistic curve, so FTS results sort and decay the same way vector
// scores do.
func ftsScore(rank float64) float64 {
	return 1 / (1 + math.Exp(rank))
}

var ftsTokenPattern = regexp.MustCompile(`[A-Za-z0-9]+`)

// ftsQuery turns free text into a safe FTS5 MATCH expression: tokens are
// extracted, quoted individually, and OR'd together, so punctuation in
// the query can never be interpreted as FTS5 query syntax.
func ftsQuery(q string) string {
	tokens := ftsTokenPattern.FindAllString(q, -1)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}
