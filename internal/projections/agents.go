package projections

import (
	"context"
	"encoding/json"
	"time"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/storage"
)

// Agent is the materialized row for the agents projection.
type Agent struct {
	ProjectKey   string
	Name         string
	RegisteredAt int64
	LastActiveAt int64
	Program      string
	Model        string
}

// ApplyAgent folds an agent event into the agents table. Agent rows are
// never deleted; a second registration for the same (project_key, name)
// refreshes last_active_at and the optional program/model fields.
func ApplyAgent(ctx context.Context, tx storage.Tx, e eventlog.Event) error {
	var p eventlog.AgentPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return errs.Wrap(errs.Validation, err)
	}

	var exists int
	row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE project_key = $1 AND name = $2`, e.ProjectKey, p.Name)
	if err := row.Scan(&exists); err != nil {
		return errs.Wrap(errs.Storage, err)
	}

	if exists == 0 {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO agents (project_key, name, registered_at, last_active_at, program, model) VALUES ($1,$2,$3,$3,$4,$5)`,
			e.ProjectKey, p.Name, e.Timestamp, p.Program, p.Model)
		return wrapStorage(err)
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE agents SET last_active_at = $1, program = $2, model = $3 WHERE project_key = $4 AND name = $5`,
		e.Timestamp, p.Program, p.Model, e.ProjectKey, p.Name)
	return wrapStorage(err)
}

// GetAgent returns a single agent row, or errs.NotFound.
func GetAgent(ctx context.Context, db storage.Adapter, projectKey, name string) (Agent, error) {
	var a Agent
	row := db.QueryRow(ctx, `SELECT project_key, name, registered_at, last_active_at, program, model FROM agents WHERE project_key = $1 AND name = $2`, projectKey, name)
	if err := row.Scan(&a.ProjectKey, &a.Name, &a.RegisteredAt, &a.LastActiveAt, &a.Program, &a.Model); err != nil {
		return Agent{}, errs.New(errs.NotFound, "agent not found: "+name)
	}
	return a, nil
}

// ListAgents returns every agent registered under projectKey.
func ListAgents(ctx context.Context, db storage.Adapter, projectKey string) ([]Agent, error) {
	rows, err := db.Query(ctx, `SELECT project_key, name, registered_at, last_active_at, program, model FROM agents WHERE project_key = $1 ORDER BY name`, projectKey)
	if err != nil {
		return nil, wrapStorage(err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ProjectKey, &a.Name, &a.RegisteredAt, &a.LastActiveAt, &a.Program, &a.Model); err != nil {
			return nil, wrapStorage(err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func wrapStorage(err error) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(errs.Storage, err)
}

func nowMillis() int64 { return time.Now().UnixMilli() }
