package mapper

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Dialect selects placeholder style, identifier casing and upsert syntax
type Dialect int

const (
	Postgres Dialect = iota
	Firebird
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case Firebird:
		return "firebird"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

var ErrNoData = errors.New("no data provided")

// SQLBuilder translates column/value maps into statements for one dialect
type SQLBuilder struct {
	dialect Dialect
	columns map[string]string
}

// BuilderOption configures an SQLBuilder
type BuilderOption func(*SQLBuilder)

// WithColumnAlias maps a logical column name to the physical column.
// Firebird needs it for reserved words such as DATE.
func WithColumnAlias(logical, physical string) BuilderOption {
	return func(b *SQLBuilder) {
		b.columns[strings.ToLower(logical)] = physical
	}
}

// NewSQLBuilder initializes a new mapper instance
func NewSQLBuilder(d Dialect, opts ...BuilderOption) *SQLBuilder {
	b := &SQLBuilder{dialect: d, columns: make(map[string]string)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *SQLBuilder) Dialect() Dialect { return b.dialect }

// BuildInsert generates a plain INSERT statement
func (b *SQLBuilder) BuildInsert(tableName string, data map[string]any) (string, []any, error) {
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w for insert on table %s", ErrNoData, tableName)
	}

	var p placeholders
	keys := sortedKeys(data)
	columns := make([]string, 0, len(keys))
	marks := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, k := range keys {
		columns = append(columns, b.column(k))
		marks = append(marks, p.next(b.dialect))
		args = append(args, b.formatValue(data[k]))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		b.table(tableName),
		strings.Join(columns, ", "),
		strings.Join(marks, ", "),
	)
	return query, args, nil
}

// BuildUpsert generates an insert that overwrites the row matching keyColumns.
// Postgres uses ON CONFLICT, Firebird uses UPDATE OR INSERT ... MATCHING.
func (b *SQLBuilder) BuildUpsert(tableName string, keyColumns []string, data map[string]any) (string, []any, error) {
	if len(keyColumns) == 0 {
		return "", nil, fmt.Errorf("upsert on table %s needs at least one key column", tableName)
	}
	for _, k := range keyColumns {
		if _, ok := data[k]; !ok {
			return "", nil, fmt.Errorf("upsert on table %s: key column %q missing from data", tableName, k)
		}
	}

	if b.dialect == Firebird {
		if len(data) == 0 {
			return "", nil, fmt.Errorf("%w for upsert on table %s", ErrNoData, tableName)
		}
		var p placeholders
		keys := sortedKeys(data)
		columns := make([]string, 0, len(keys))
		marks := make([]string, 0, len(keys))
		args := make([]any, 0, len(keys))
		for _, k := range keys {
			columns = append(columns, b.column(k))
			marks = append(marks, p.next(b.dialect))
			args = append(args, b.formatValue(data[k]))
		}
		query := fmt.Sprintf(
			"UPDATE OR INSERT INTO %s (%s) VALUES (%s) MATCHING (%s)",
			b.table(tableName),
			strings.Join(columns, ", "),
			strings.Join(marks, ", "),
			strings.Join(b.columnList(keyColumns), ", "),
		)
		return query, args, nil
	}

	query, args, err := b.BuildInsert(tableName, data)
	if err != nil {
		return "", nil, err
	}

	var sets []string
	for _, k := range sortedKeys(data) {
		if containsFold(keyColumns, k) {
			continue
		}
		col := b.column(k)
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	conflict := strings.Join(b.columnList(keyColumns), ", ")
	if len(sets) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", query, conflict), args, nil
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", query, conflict, strings.Join(sets, ", ")), args, nil
}

// BuildUpdate generates an UPDATE statement filtered by the where columns.
// Columns present in where are left out of the SET clause.
func (b *SQLBuilder) BuildUpdate(tableName string, where map[string]any, data map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, fmt.Errorf("update on table %s without a filter", tableName)
	}

	var p placeholders
	var setClauses []string
	var args []any

	for _, k := range sortedKeys(data) {
		if _, isKey := lookupFold(where, k); isKey {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", b.column(k), p.next(b.dialect)))
		args = append(args, b.formatValue(data[k]))
	}
	if len(setClauses) == 0 {
		return "", nil, fmt.Errorf("%w for update on table %s", ErrNoData, tableName)
	}

	cond, condArgs := b.whereClause(&p, where)
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		b.table(tableName),
		strings.Join(setClauses, ", "),
		cond,
	)
	return query, append(args, condArgs...), nil
}

// BuildDelete generates a DELETE statement filtered by the where columns
func (b *SQLBuilder) BuildDelete(tableName string, where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, fmt.Errorf("delete on table %s without a filter", tableName)
	}

	var p placeholders
	cond, args := b.whereClause(&p, where)
	return fmt.Sprintf("DELETE FROM %s WHERE %s", b.table(tableName), cond), args, nil
}

// BuildSelect generates a SELECT of columns filtered by where, optionally
// ordered descending by orderDesc
func (b *SQLBuilder) BuildSelect(tableName string, columns []string, where map[string]any, orderDesc string) (string, []any, error) {
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("select on table %s without columns", tableName)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(b.columnList(columns), ", "), b.table(tableName))

	var args []any
	if len(where) > 0 {
		var p placeholders
		var cond string
		cond, args = b.whereClause(&p, where)
		query += " WHERE " + cond
	}
	if orderDesc != "" {
		query += fmt.Sprintf(" ORDER BY %s DESC", b.column(orderDesc))
	}
	return query, args, nil
}

func (b *SQLBuilder) whereClause(p *placeholders, where map[string]any) (string, []any) {
	keys := sortedKeys(where)
	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		conds = append(conds, fmt.Sprintf("%s = %s", b.column(k), p.next(b.dialect)))
		args = append(args, b.formatValue(where[k]))
	}
	return strings.Join(conds, " AND "), args
}

func (b *SQLBuilder) table(name string) string {
	if b.dialect == Firebird {
		return strings.ToUpper(name)
	}
	return strings.ToLower(name)
}

func (b *SQLBuilder) column(name string) string {
	if alias, ok := b.columns[strings.ToLower(name)]; ok {
		name = alias
	}
	// Uppercase prevents case-sensitivity issues in Firebird
	if b.dialect == Firebird {
		return strings.ToUpper(name)
	}
	return strings.ToLower(name)
}

func (b *SQLBuilder) columnList(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = b.column(n)
	}
	return out
}

// formatValue handles type conversion for Firebird 2.5 specificities.
// Postgres values are passed through untouched.
func (b *SQLBuilder) formatValue(v any) any {
	if b.dialect != Firebird {
		return v
	}
	switch val := v.(type) {
	case bool:
		if val {
			return 1
		}
		return 0
	case time.Time:
		return val.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t.UTC().Format("2006-01-02 15:04:05")
		}
		return val
	default:
		return val
	}
}

type placeholders struct{ n int }

func (p *placeholders) next(d Dialect) string {
	p.n++
	if d == Postgres {
		return fmt.Sprintf("$%d", p.n)
	}
	return "?"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func lookupFold(m map[string]any, key string) (any, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
