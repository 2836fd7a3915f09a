// Package migration reconciles a declarative table descriptor against the
// live schema: safe drift (ADD COLUMN) passes through, and destructive
// recreate is refused once a populated table's column type has changed.
package migration

// ColumnType is one of the four SQLite storage classes the declared
// schema is expressed in, plus an optional vector-size annotation for
// embedding columns (memories.embedding is 1024-dimensional).
type ColumnType string

const (
	TypeInteger ColumnType = "INTEGER"
	TypeText    ColumnType = "TEXT"
	TypeReal    ColumnType = "REAL"
	TypeBlob    ColumnType = "BLOB"
)

// Column describes one declared column. Default, when non-nil, is the
// constant value used both in CREATE TABLE and in a synthesized ALTER
// TABLE ADD COLUMN default; non-constant engine defaults are never
// declared here, only literal zero-values.
type Column struct {
	Name          string
	Type          ColumnType
	NotNull       bool
	Default       any // nil, string, int64, or float64
	PrimaryKey    bool
	Autoincrement bool
	VectorDim     int // informational only; 1024 for memories.embedding
}

// Index is a non-unique index over one or more columns.
type Index struct {
	Name    string
	Columns []string
}

// Table is the full declarative descriptor for one table: its columns,
// indexes, and any multi-column UNIQUE constraints.
type Table struct {
	Name    string
	Columns []Column
	Indexes []Index
	Uniques [][]string
	// ExtraSQL is not emitted by createTable; the runner only checks it
	// for the "fts5_virtual" marker that routes a table to FTS handling.
	ExtraSQL []string
}

func col(name string, t ColumnType) Column { return Column{Name: name, Type: t} }

func notNull(c Column) Column { c.NotNull = true; return c }

func withDefault(c Column, d any) Column { c.Default = d; return c }

func pk(c Column) Column { c.PrimaryKey = true; return c }

func autoinc(c Column) Column { c.PrimaryKey = true; c.Autoincrement = true; return c }

// DeclaredSchema is the full set of tables this repo's migration runner
// reconciles the live database against: one entry per coordination entity
// (events, agents, mail, reservations, cells and their dependencies,
// locks, deferreds, memories), plus the purely-internal
// cell_blocked_cache projection grounded on the beads-family blocked-issues
// cache.
func DeclaredSchema() []Table {
	return []Table{
		{
			Name: "schema_version",
			Columns: []Column{
				pk(col("version", TypeInteger)),
				notNull(withDefault(col("applied_at", TypeInteger), int64(0))),
			},
		},
		{
			Name: "events",
			Columns: []Column{
				autoinc(col("id", TypeInteger)),
				notNull(col("sequence", TypeInteger)),
				notNull(col("stream", TypeText)),
				notNull(col("project_key", TypeText)),
				notNull(col("timestamp", TypeInteger)),
				notNull(col("type", TypeText)),
				notNull(col("payload", TypeText)),
			},
			Indexes: []Index{
				{Name: "idx_events_sequence", Columns: []string{"sequence"}},
				{Name: "idx_events_stream", Columns: []string{"stream", "sequence"}},
				{Name: "idx_events_project", Columns: []string{"project_key", "sequence"}},
				{Name: "idx_events_type", Columns: []string{"type", "sequence"}},
			},
			Uniques: [][]string{{"sequence"}},
		},
		{
			Name: "agents",
			Columns: []Column{
				notNull(col("project_key", TypeText)),
				notNull(col("name", TypeText)),
				notNull(col("registered_at", TypeInteger)),
				notNull(col("last_active_at", TypeInteger)),
				withDefault(col("program", TypeText), ""),
				withDefault(col("model", TypeText), ""),
			},
			Uniques: [][]string{{"project_key", "name"}},
		},
		{
			Name: "messages",
			Columns: []Column{
				pk(col("id", TypeText)),
				notNull(col("from_agent", TypeText)),
				notNull(col("subject", TypeText)),
				notNull(col("body", TypeText)),
				withDefault(col("thread_id", TypeText), ""),
				notNull(withDefault(col("importance", TypeText), "normal")),
				notNull(withDefault(col("ack_required", TypeInteger), int64(0))),
				notNull(col("project_key", TypeText)),
				notNull(col("created_at", TypeInteger)),
				withDefault(col("read_at", TypeInteger), nil),
				withDefault(col("acked_at", TypeInteger), nil),
			},
			Indexes: []Index{
				{Name: "idx_messages_thread", Columns: []string{"thread_id"}},
			},
		},
		{
			Name: "message_recipients",
			Columns: []Column{
				notNull(col("message_id", TypeText)),
				notNull(col("agent", TypeText)),
				withDefault(col("read_at", TypeInteger), nil),
				withDefault(col("acked_at", TypeInteger), nil),
			},
			Indexes: []Index{
				{Name: "idx_recipients_agent", Columns: []string{"agent", "message_id"}},
			},
			Uniques: [][]string{{"message_id", "agent"}},
		},
		{
			Name: "reservations",
			Columns: []Column{
				pk(col("id", TypeText)),
				notNull(col("project_key", TypeText)),
				notNull(col("agent", TypeText)),
				notNull(col("path_pattern", TypeText)),
				withDefault(col("reason", TypeText), ""),
				notNull(withDefault(col("exclusive", TypeInteger), int64(1))),
				notNull(col("created_at", TypeInteger)),
				notNull(col("expires_at", TypeInteger)),
				withDefault(col("released_at", TypeInteger), nil),
			},
			Indexes: []Index{
				{Name: "idx_reservations_live", Columns: []string{"project_key", "released_at", "expires_at"}},
			},
		},
		{
			Name: "cells",
			Columns: []Column{
				pk(col("id", TypeText)),
				notNull(col("project_key", TypeText)),
				notNull(col("type", TypeText)),
				notNull(withDefault(col("status", TypeText), "open")),
				notNull(col("title", TypeText)),
				withDefault(col("description", TypeText), ""),
				notNull(withDefault(col("priority", TypeInteger), int64(2))),
				withDefault(col("parent_id", TypeText), nil),
				withDefault(col("assignee", TypeText), nil),
				notNull(col("created_at", TypeInteger)),
				notNull(col("updated_at", TypeInteger)),
				withDefault(col("closed_at", TypeInteger), nil),
				withDefault(col("closed_reason", TypeText), nil),
			},
			Indexes: []Index{
				{Name: "idx_cells_project_status", Columns: []string{"project_key", "status", "priority", "created_at"}},
				{Name: "idx_cells_parent", Columns: []string{"parent_id"}},
			},
		},
		{
			Name: "dependencies",
			Columns: []Column{
				notNull(col("from_cell", TypeText)),
				notNull(col("to_cell", TypeText)),
				notNull(col("relationship", TypeText)),
				notNull(col("created_at", TypeInteger)),
			},
			Indexes: []Index{
				{Name: "idx_dependencies_from", Columns: []string{"from_cell", "relationship"}},
				{Name: "idx_dependencies_to", Columns: []string{"to_cell", "relationship"}},
			},
			Uniques: [][]string{{"from_cell", "to_cell", "relationship"}},
		},
		{
			Name: "cell_blocked_cache",
			Columns: []Column{
				pk(col("cell_id", TypeText)),
			},
		},
		{
			Name: "cell_labels",
			Columns: []Column{
				notNull(col("cell_id", TypeText)),
				notNull(col("label", TypeText)),
			},
			Uniques: [][]string{{"cell_id", "label"}},
		},
		{
			Name: "cell_comments",
			Columns: []Column{
				pk(col("id", TypeText)),
				notNull(col("cell_id", TypeText)),
				notNull(col("author", TypeText)),
				notNull(col("body", TypeText)),
				notNull(col("created_at", TypeInteger)),
				withDefault(col("updated_at", TypeInteger), nil),
			},
			Indexes: []Index{
				{Name: "idx_comments_cell", Columns: []string{"cell_id", "created_at"}},
			},
		},
		{
			Name: "dirty_cells",
			Columns: []Column{
				pk(col("cell_id", TypeText)),
				notNull(col("marked_at", TypeInteger)),
			},
		},
		{
			Name: "cursors",
			Columns: []Column{
				notNull(col("stream", TypeText)),
				notNull(col("checkpoint", TypeText)),
				notNull(col("position", TypeInteger)),
				notNull(col("updated_at", TypeInteger)),
			},
			Uniques: [][]string{{"stream", "checkpoint"}},
		},
		{
			Name: "locks",
			Columns: []Column{
				pk(col("resource", TypeText)),
				notNull(col("holder", TypeText)),
				notNull(withDefault(col("seq", TypeInteger), int64(0))),
				notNull(col("acquired_at", TypeInteger)),
				notNull(col("expires_at", TypeInteger)),
			},
		},
		{
			Name: "deferreds",
			Columns: []Column{
				pk(col("url", TypeText)),
				notNull(withDefault(col("resolved", TypeInteger), int64(0))),
				withDefault(col("value", TypeText), nil),
				withDefault(col("error", TypeText), nil),
				notNull(col("expires_at", TypeInteger)),
				notNull(col("created_at", TypeInteger)),
			},
		},
		{
			Name: "memories",
			Columns: []Column{
				pk(col("id", TypeText)),
				notNull(col("content", TypeText)),
				withDefault(col("metadata", TypeText), "{}"),
				notNull(withDefault(col("collection", TypeText), "default")),
				notNull(col("created_at", TypeInteger)),
				notNull(col("updated_at", TypeInteger)),
				notNull(withDefault(col("confidence", TypeReal), float64(0.8))),
				func() Column { c := col("embedding", TypeBlob); c.VectorDim = 1024; return c }(),
				withDefault(col("tags", TypeText), "[]"),
				withDefault(col("auto_tags", TypeText), "[]"),
				withDefault(col("keywords", TypeText), "[]"),
				withDefault(col("valid_from", TypeInteger), nil),
				withDefault(col("valid_until", TypeInteger), nil),
				withDefault(col("superseded_by", TypeText), nil),
			},
			Indexes: []Index{
				{Name: "idx_memories_collection", Columns: []string{"collection", "updated_at"}},
			},
		},
		{
			Name: "memories_fts",
			// Virtual FTS5 table; handled specially by the runner since it
			// cannot be introspected with PRAGMA table_info like a normal
			// table.
			Columns:  []Column{col("content", TypeText)},
			ExtraSQL: []string{"fts5_virtual"},
		},
		{
			Name: "memory_links",
			Columns: []Column{
				pk(col("id", TypeText)),
				notNull(col("source_id", TypeText)),
				notNull(col("target_id", TypeText)),
				notNull(col("link_type", TypeText)),
				notNull(withDefault(col("strength", TypeReal), float64(0.5))),
			},
			Uniques: [][]string{{"source_id", "target_id", "link_type"}},
		},
		{
			Name: "entities",
			Columns: []Column{
				pk(col("id", TypeText)),
				notNull(col("name", TypeText)),
				notNull(col("entity_type", TypeText)),
			},
			Uniques: [][]string{{"name", "entity_type"}},
		},
		{
			Name: "relationships",
			Columns: []Column{
				notNull(col("subject", TypeText)),
				notNull(col("predicate", TypeText)),
				notNull(col("object", TypeText)),
				notNull(withDefault(col("confidence", TypeReal), float64(0.5))),
				notNull(col("provenance_memory_id", TypeText)),
			},
			Uniques: [][]string{{"subject", "predicate", "object"}},
		},
		{
			Name: "memory_entities",
			Columns: []Column{
				notNull(col("memory_id", TypeText)),
				notNull(col("entity_id", TypeText)),
			},
			Uniques: [][]string{{"memory_id", "entity_id"}},
		},
	}
}
