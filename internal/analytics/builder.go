// Package analytics builds and formats ad-hoc read queries: a fluent
// query builder backed by github.com/Masterminds/squirrel, and a set of
// QueryResult encoders (table, JSON, JSONL, CSV).
package analytics

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/swarmhive/core/internal/errs"
)

// Built is the compiled output of a Builder chain.
type Built struct {
	Name        string
	Description string
	SQL         string
	Parameters  []any
}

// Builder is a fluent query chain: select/from/where/groupBy/having/
// orderBy/limit, with name/description metadata and parameters
// accumulated in where-then-having call order, matching squirrel's own
// accumulation order for a Dollar-placeholder query.
type Builder struct {
	columns     []string
	from        string
	wheres      []sq.Sqlizer
	groupBys    []string
	havings     []sq.Sqlizer
	orderBys    []string
	limit       uint64
	hasLimit    bool
	name        string
	description string
}

// New starts an empty builder; Select is typically the first call.
func New() *Builder {
	return &Builder{}
}

func (b *Builder) Select(columns ...string) *Builder {
	b.columns = columns
	return b
}

func (b *Builder) From(table string) *Builder {
	b.from = table
	return b
}

// Where adds one AND'd condition. params, if given, bind to cond's `?`
// placeholders in order.
func (b *Builder) Where(cond string, params ...any) *Builder {
	b.wheres = append(b.wheres, sq.Expr(cond, params...))
	return b
}

func (b *Builder) GroupBy(columns ...string) *Builder {
	b.groupBys = append(b.groupBys, columns...)
	return b
}

// Having adds one AND'd post-aggregation condition, same shape as Where.
func (b *Builder) Having(cond string, params ...any) *Builder {
	b.havings = append(b.havings, sq.Expr(cond, params...))
	return b
}

func (b *Builder) OrderBy(columns ...string) *Builder {
	b.orderBys = append(b.orderBys, columns...)
	return b
}

func (b *Builder) Limit(n uint64) *Builder {
	b.limit = n
	b.hasLimit = true
	return b
}

func (b *Builder) WithName(name string) *Builder {
	b.name = name
	return b
}

func (b *Builder) WithDescription(description string) *Builder {
	b.description = description
	return b
}

// Build compiles the chain into SQL with Dollar-style placeholders
// (`$1`, `$2`, ...), matching the storage package's own placeholder
// convention so the result can be run directly through storage.Adapter.
// Parameters are accumulated in where-then-having order, squirrel's
// natural accumulation order for a SELECT with both clauses.
func (b *Builder) Build() (Built, error) {
	if len(b.columns) == 0 || b.from == "" {
		return Built{}, errs.New(errs.Validation, "analytics query requires at least one column and a from table")
	}

	query := sq.Select(b.columns...).From(b.from).PlaceholderFormat(sq.Dollar)
	for _, w := range b.wheres {
		query = query.Where(w)
	}
	if len(b.groupBys) > 0 {
		query = query.GroupBy(b.groupBys...)
	}
	for _, h := range b.havings {
		query = query.Having(h)
	}
	if len(b.orderBys) > 0 {
		query = query.OrderBy(b.orderBys...)
	}
	if b.hasLimit {
		query = query.Limit(b.limit)
	}

	sqlText, params, err := query.ToSql()
	if err != nil {
		return Built{}, errs.Wrap(errs.Validation, err)
	}
	return Built{Name: b.name, Description: b.description, SQL: sqlText, Parameters: params}, nil
}
