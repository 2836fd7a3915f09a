package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/storage"
	"go.uber.org/zap"
)

// Runner compares DeclaredSchema() against the live database and applies
// the drift rules: create missing tables, add missing columns with a
// constant default, and recreate a type-mismatched column only when its
// table is empty.
type Runner struct {
	adapter storage.Adapter
	log     *zap.Logger
}

func New(adapter storage.Adapter, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{adapter: adapter, log: log}
}

type liveColumn struct {
	name    string
	typ     string
	notNull bool
}

// Migrate reconciles the live schema with DeclaredSchema(), then calls
// Checkpoint to flush the write-ahead log.
func (r *Runner) Migrate(ctx context.Context) error {
	if err := r.ensureVersionTable(ctx); err != nil {
		return err
	}

	for _, table := range DeclaredSchema() {
		if isFTS(table) {
			if err := r.migrateFTS(ctx, table); err != nil {
				return err
			}
			continue
		}
		if err := r.migrateTable(ctx, table); err != nil {
			return err
		}
	}

	if err := r.migrateCursorSpecialCase(ctx); err != nil {
		return err
	}

	return r.adapter.Checkpoint(ctx)
}

func isFTS(t Table) bool {
	for _, s := range t.ExtraSQL {
		if s == "fts5_virtual" {
			return true
		}
	}
	return false
}

func (r *Runner) ensureVersionTable(ctx context.Context) error {
	_, err := r.adapter.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

func (r *Runner) migrateFTS(ctx context.Context, table Table) error {
	exists, err := r.tableExists(ctx, table.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = r.adapter.Exec(ctx, fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(content, content='memories', content_rowid='rowid')`,
		table.Name))
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

func (r *Runner) migrateTable(ctx context.Context, table Table) error {
	exists, err := r.tableExists(ctx, table.Name)
	if err != nil {
		return err
	}
	if !exists {
		r.log.Debug("migration: creating table", zap.String("table", table.Name))
		return r.createTable(ctx, table)
	}

	liveCols, err := r.introspect(ctx, table.Name)
	if err != nil {
		return err
	}
	liveByName := make(map[string]liveColumn, len(liveCols))
	for _, c := range liveCols {
		liveByName[c.name] = c
	}

	for _, declared := range table.Columns {
		live, ok := liveByName[declared.Name]
		if !ok {
			if err := r.addColumn(ctx, table.Name, declared); err != nil {
				return err
			}
			continue
		}
		if !typesCompatible(live.typ, declared.Type) {
			if err := r.handleTypeMismatch(ctx, table, declared); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) tableExists(ctx context.Context, name string) (bool, error) {
	var got string
	err := r.adapter.QueryRow(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name = $1`, name,
	).Scan(&got)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, errs.Wrap(errs.Storage, err)
	}
	return true, nil
}

func (r *Runner) introspect(ctx context.Context, table string) ([]liveColumn, error) {
	rows, err := r.adapter.Query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	defer rows.Close()

	var cols []liveColumn
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt any
		var pkFlag int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pkFlag); err != nil {
			return nil, errs.Wrap(errs.Storage, err)
		}
		cols = append(cols, liveColumn{name: name, typ: strings.ToUpper(ctype), notNull: notNull != 0})
	}
	return cols, rows.Err()
}

func typesCompatible(liveType string, declared ColumnType) bool {
	live := normalizeType(liveType)
	return live == string(declared)
}

// normalizeType folds SQLite's type-affinity vocabulary down to the four
// storage classes the declared schema speaks (INTEGER/TEXT/REAL/BLOB).
func normalizeType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	switch {
	case strings.Contains(t, "INT"):
		return "INTEGER"
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return "TEXT"
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return "REAL"
	case strings.Contains(t, "BLOB"), t == "":
		return "BLOB"
	default:
		return t
	}
}

func (r *Runner) addColumn(ctx context.Context, tableName string, c Column) error {
	def := constantDefault(c)
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tableName, c.Name, c.Type)
	if def != "" {
		stmt += " DEFAULT " + def
	}
	r.log.Debug("migration: adding column", zap.String("table", tableName), zap.String("column", c.Name))
	if _, err := r.adapter.Exec(ctx, stmt); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

// constantDefault renders Column.Default as a SQL literal. Non-constant
// defaults (functions like strftime) are never declared here — only
// literal zero-values.
func constantDefault(c Column) string {
	if c.Default == nil {
		switch c.Type {
		case TypeText:
			return "''"
		case TypeInteger:
			return "0"
		case TypeReal:
			return "0.0"
		default:
			return ""
		}
	}
	switch v := c.Default.(type) {
	case string:
		return fmt.Sprintf("'%s'", strings.ReplaceAll(v, "'", "''"))
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}

func (r *Runner) handleTypeMismatch(ctx context.Context, table Table, declared Column) error {
	count, err := r.rowCount(ctx, table.Name)
	if err != nil {
		return err
	}
	if count == 0 {
		r.log.Warn("migration: recreating empty table due to type mismatch",
			zap.String("table", table.Name), zap.String("column", declared.Name))
		if _, err := r.adapter.Exec(ctx, "DROP TABLE "+table.Name); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		return r.createTable(ctx, table)
	}
	return errs.New(errs.SchemaDrift,
		fmt.Sprintf("table %q has %d row(s); refusing destructive recreate for column %q", table.Name, count, declared.Name))
}

func (r *Runner) rowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.adapter.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, errs.Wrap(errs.Storage, err)
	}
	return n, nil
}

func (r *Runner) createTable(ctx context.Context, table Table) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table.Name)

	parts := make([]string, 0, len(table.Columns)+len(table.Uniques))
	for _, c := range table.Columns {
		def := fmt.Sprintf("  %s %s", c.Name, c.Type)
		if c.PrimaryKey {
			def += " PRIMARY KEY"
			if c.Autoincrement {
				def += " AUTOINCREMENT"
			}
		}
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Default != nil {
			def += " DEFAULT " + constantDefault(c)
		}
		parts = append(parts, def)
	}
	for _, u := range table.Uniques {
		parts = append(parts, fmt.Sprintf("  UNIQUE (%s)", strings.Join(u, ", ")))
	}
	b.WriteString(strings.Join(parts, ",\n"))
	b.WriteString("\n)")

	if _, err := r.adapter.Exec(ctx, b.String()); err != nil {
		return errs.Wrap(errs.Storage, err)
	}

	for _, idx := range table.Indexes {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.Name, table.Name, strings.Join(idx.Columns, ", "))
		if _, err := r.adapter.Exec(ctx, stmt); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
	}
	return nil
}

// migrateCursorSpecialCase detects the legacy cursor schema
// (stream_id-keyed) by column signature and drop-recreates it, since
// cursor rows are ephemeral and can always be rebuilt by consumers.
func (r *Runner) migrateCursorSpecialCase(ctx context.Context) error {
	exists, err := r.tableExists(ctx, "cursors")
	if err != nil || !exists {
		return err
	}
	cols, err := r.introspect(ctx, "cursors")
	if err != nil {
		return err
	}
	hasStreamID := false
	hasCheckpoint := false
	for _, c := range cols {
		if c.name == "stream_id" {
			hasStreamID = true
		}
		if c.name == "checkpoint" {
			hasCheckpoint = true
		}
	}
	if hasStreamID && !hasCheckpoint {
		r.log.Info("migration: recreating cursors table for stream_id -> (stream, checkpoint)")
		if _, err := r.adapter.Exec(ctx, "DROP TABLE cursors"); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		for _, t := range DeclaredSchema() {
			if t.Name == "cursors" {
				return r.createTable(ctx, t)
			}
		}
	}
	return nil
}
