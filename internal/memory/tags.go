package memory

import (
	"context"
	"encoding/json"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/inference"
)

type tagResponse struct {
	Tags     []string `json:"tags"`
	Keywords []string `json:"keywords"`
	Category string   `json:"category"`
}

// autoTag asks the inference client for tags/keywords/category and
// persists them. Category folds into the metadata JSON blob since the
// declared schema has no dedicated column for it.
func (m *Memories) autoTag(ctx context.Context, client inference.Client, memoryID, content string) error {
	raw, err := client.Tag(ctx, content)
	if err != nil {
		return err
	}
	var resp tagResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return errs.Wrap(errs.Validation, err)
	}

	var metadata map[string]any
	row := m.db.QueryRow(ctx, `SELECT metadata FROM memories WHERE id = $1`, memoryID)
	var metaRaw string
	if err := row.Scan(&metaRaw); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	if metaRaw == "" {
		metaRaw = "{}"
	}
	if err := json.Unmarshal([]byte(metaRaw), &metadata); err != nil {
		metadata = map[string]any{}
	}
	if resp.Category != "" {
		metadata["category"] = resp.Category
	}
	metaOut, err := json.Marshal(metadata)
	if err != nil {
		return errs.Wrap(errs.Validation, err)
	}

	_, err = m.db.Exec(ctx, `UPDATE memories SET auto_tags = $1, keywords = $2, metadata = $3 WHERE id = $4`,
		mustMarshalStrings(resp.Tags), mustMarshalStrings(resp.Keywords), string(metaOut), memoryID)
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}
