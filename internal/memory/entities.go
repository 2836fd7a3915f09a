package memory

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/inference"
)

type entityRef struct {
	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
}

type triple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

type extractResponse struct {
	Entities []entityRef `json:"entities"`
	Triples  []triple    `json:"triples"`
}

// extractEntities asks the inference client for entities and S-P-O
// triples, dedupes entities case-insensitively on (name, entity_type) and
// triples exactly on (subject, predicate, object), and wires
// memory_entities junction rows for every extracted entity.
func (m *Memories) extractEntities(ctx context.Context, client inference.Client, memoryID, content string) error {
	raw, err := client.ExtractEntities(ctx, content)
	if err != nil {
		return err
	}
	var resp extractResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return errs.Wrap(errs.Validation, err)
	}

	for _, e := range resp.Entities {
		if e.Name == "" {
			continue
		}
		entityID, err := m.upsertEntity(ctx, e.Name, e.EntityType)
		if err != nil {
			return err
		}
		_, err = m.db.Exec(ctx, `
			INSERT INTO memory_entities (memory_id, entity_id) VALUES ($1, $2)
			ON CONFLICT (memory_id, entity_id) DO NOTHING`, memoryID, entityID)
		if err != nil {
			return errs.Wrap(errs.Storage, err)
		}
	}

	for _, t := range resp.Triples {
		if t.Subject == "" || t.Predicate == "" || t.Object == "" {
			continue
		}
		_, err := m.db.Exec(ctx, `
			INSERT INTO relationships (subject, predicate, object, confidence, provenance_memory_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (subject, predicate, object) DO NOTHING`,
			t.Subject, t.Predicate, t.Object, 0.5, memoryID)
		if err != nil {
			return errs.Wrap(errs.Storage, err)
		}
	}
	return nil
}

// upsertEntity returns entityID for (name, entityType), matching
// case-insensitively on name per the declared dedup rule, and inserting a
// new row (preserving the caller's casing) when no match exists.
func (m *Memories) upsertEntity(ctx context.Context, name, entityType string) (string, error) {
	var id string
	err := m.db.QueryRow(ctx,
		`SELECT id FROM entities WHERE lower(name) = lower($1) AND entity_type = $2`, name, entityType).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", errs.Wrap(errs.Storage, err)
	}

	id = uuid.NewString()
	_, err = m.db.Exec(ctx, `INSERT INTO entities (id, name, entity_type) VALUES ($1, $2, $3)
		ON CONFLICT (name, entity_type) DO NOTHING`, id, name, entityType)
	if err != nil {
		return "", errs.Wrap(errs.Storage, err)
	}
	// A concurrent insert of the same exact casing could have won the
	// ON CONFLICT race; re-select to return the row that actually exists.
	if err := m.db.QueryRow(ctx, `SELECT id FROM entities WHERE lower(name) = lower($1) AND entity_type = $2`,
		name, entityType).Scan(&id); err != nil {
		return "", errs.Wrap(errs.Storage, err)
	}
	return id, nil
}
