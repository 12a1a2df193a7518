package ingeststore

import (
	"fmt"
	"strings"

	"tidbyt.dev/gtfsingest/schema"
)

// columnDDL renders one field's column definition. The schema registry
// is the only place that knows a kind's storage type (fieldtype.Kind.
// SQLType), so every backend defers to it instead of hand-declaring
// per-table DDL the way the teacher's sqlite.go does for its six
// hardcoded tables.
func columnDDL(f schema.Field) string {
	return fmt.Sprintf("%s %s", f.Name, f.Kind.SQLType())
}

// CreateTableSQL generates the DDL for one table, including its
// auto-assigned integer id column (every row is reachable through both
// its natural key, if any, and this id, per spec.md §3's invariants).
func CreateTableSQL(t schema.Table, autoIncrementClause string) string {
	var cols []string
	cols = append(cols, fmt.Sprintf("id INTEGER PRIMARY KEY %s", autoIncrementClause))
	for _, f := range t.Fields {
		cols = append(cols, columnDDL(f))
	}
	if t.Name == "trips" {
		cols = append(cols, "pattern_id TEXT")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.Name, strings.Join(cols, ",\n\t"))
}

// IndexSQL generates the index statements CreateTableSQL's caller
// issues afterward: one on the key field (if any, for duplicate-key
// lookups and joins), one on the order field (if any, composite with
// the key for ordered cursor reads), and one per foreign-reference
// field (referential-integrity joins and the trip-walk driver's stop
// lookups).
func IndexSQL(t schema.Table) []string {
	var stmts []string
	if t.KeyField != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s ON %s (%s)", t.Name, t.KeyField, t.Name, t.KeyField))
	}
	if t.OrderField != "" && t.KeyField != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s_%s ON %s (%s, %s)",
			t.Name, t.KeyField, t.OrderField, t.Name, t.KeyField, t.OrderField))
	}
	for _, f := range t.Fields {
		if f.ForeignRef != nil {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s ON %s (%s)", t.Name, f.Name, t.Name, f.Name))
		}
	}
	return stmts
}

// InsertSQL generates the parameterized insert template for a table,
// column order matching t.Fields exactly (the loader binds values in
// that same order).
func InsertSQL(t schema.Table, placeholder func(n int) string) string {
	var names []string
	var phs []string
	for i, f := range t.Fields {
		names = append(names, f.Name)
		phs = append(phs, placeholder(i+1))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, strings.Join(names, ", "), strings.Join(phs, ", "))
}

// FieldNames returns the column names for a table in field order, used
// by the postgres COPY fast path (pq.CopyIn takes column names, not a
// SQL string).
func FieldNames(t schema.Table) []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}
