package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// ErrUnknownTable は指定されたテーブルが現在のスキーマに存在しない場合に返される。
var ErrUnknownTable = errors.New("unknown table")

// errNotValidated は検証を経ていないTable/Columnが渡された場合に返される。
var errNotValidated = errors.New("identifier was not validated against the catalog")

// Table はカタログ上で実在を確認したテーブルを表す。
// PostgresTableRepo.ValidateTableだけが値を生成できるため、
// 任意の文字列からクエリを組み立てることはできない。
type Table struct {
	schema  string
	name    string
	columns []Column
}

// Column はTableに属することを確認したカラムを表す。
type Column struct {
	name     string
	dataType string
}

// Name はテーブル名を返す。
func (t Table) Name() string { return t.name }

// Columns はテーブルのカラムを定義順で返す。
func (t Table) Columns() []Column {
	cols := make([]Column, len(t.columns))
	copy(cols, t.columns)
	return cols
}

// ColumnNames はカラム名を定義順で返す。
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return names
}

// Column は指定名のカラムを返す。存在しない場合はfalseを返す。
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.columns {
		if c.name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn はテーブルが指定名のカラムを持つかどうかを返す。
func (t Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Name はカラム名を返す。
func (c Column) Name() string { return c.name }

// DataType はinformation_schema.columns.data_typeの値（"uuid"、"jsonb" など）を返す。
func (c Column) DataType() string { return c.dataType }

func (c Column) isJSON() bool {
	return c.dataType == "json" || c.dataType == "jsonb"
}

func (t Table) quoted() (string, error) {
	if t.name == "" {
		return "", errNotValidated
	}
	return pq.QuoteIdentifier(t.schema) + "." + pq.QuoteIdentifier(t.name), nil
}

func (c Column) quoted() (string, error) {
	if c.name == "" {
		return "", errNotValidated
	}
	return pq.QuoteIdentifier(c.name), nil
}

const (
	listTablesQuery = `SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	listColumnsQuery = `SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`
)

// PostgresTableRepo はinformation_schemaを参照して任意のテーブルを汎用的に読み書きするリポジトリ。
// テーブル一覧はキャッシュせず、呼び出しのたびにカタログを問い合わせる。
type PostgresTableRepo struct {
	db     *sql.DB
	schema string
}

// NewPostgresTableRepo はPostgresTableRepoを生成する。
// schemaは対象とするスキーマ名（通常は "public"）。
func NewPostgresTableRepo(db *sql.DB, schema string) *PostgresTableRepo {
	return &PostgresTableRepo{db: db, schema: schema}
}

// ListTables は対象スキーマのベーステーブル名を名前順で返す。
func (r *PostgresTableRepo) ListTables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, listTablesQuery, r.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tables: %w", err)
	}

	return tables, nil
}

// ValidateTable はテーブル名を現在のテーブル一覧と照合し、カラム情報付きのTableを返す。
// 一覧に存在しない場合はErrUnknownTableを返す。
func (r *PostgresTableRepo) ValidateTable(ctx context.Context, name string) (Table, error) {
	tables, err := r.ListTables(ctx)
	if err != nil {
		return Table{}, err
	}

	found := false
	for _, t := range tables {
		if t == name {
			found = true
			break
		}
	}
	if !found {
		return Table{}, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}

	rows, err := r.db.QueryContext(ctx, listColumnsQuery, r.schema, name)
	if err != nil {
		return Table{}, fmt.Errorf("failed to list columns: %w", err)
	}
	defer rows.Close()

	table := Table{schema: r.schema, name: name}
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.name, &col.dataType); err != nil {
			return Table{}, fmt.Errorf("failed to scan column: %w", err)
		}
		table.columns = append(table.columns, col)
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("failed to iterate columns: %w", err)
	}

	return table, nil
}

// SelectRows はテーブルから最大limit件の行を取得する。
// orderByが指定された場合はそのカラムの降順で並べる。
// json/jsonb カラムの値はそのままJSONとして、それ以外の []byte の値は文字列として返す。
func (r *PostgresTableRepo) SelectRows(ctx context.Context, t Table, orderBy *Column, limit int) ([]map[string]any, error) {
	from, err := t.quoted()
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(from)
	if orderBy != nil {
		col, err := orderBy.quoted()
		if err != nil {
			return nil, err
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(col)
		b.WriteString(" DESC")
	}
	b.WriteString(" LIMIT $1")

	rows, err := r.db.QueryContext(ctx, b.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select rows from %s: %w", t.name, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	result := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(names))
		for i, name := range names {
			if raw, ok := values[i].([]byte); ok {
				if col, found := t.Column(name); found && col.isJSON() {
					row[name] = json.RawMessage(raw)
				} else {
					row[name] = string(raw)
				}
				continue
			}
			row[name] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return result, nil
}

// InsertRow は1行を挿入する。値はすべてプレースホルダでバインドする。
func (r *PostgresTableRepo) InsertRow(ctx context.Context, t Table, cols []Column, values []any) error {
	if len(cols) == 0 || len(cols) != len(values) {
		return fmt.Errorf("insert into %s: %d columns for %d values", t.name, len(cols), len(values))
	}
	into, err := t.quoted()
	if err != nil {
		return err
	}

	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		q, err := c.quoted()
		if err != nil {
			return err
		}
		names[i] = q
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		into, strings.Join(names, ", "), strings.Join(placeholders, ", "))

	if _, err := r.db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", t.name, err)
	}
	return nil
}

// UpdateRow はkeyカラムがidに一致する行を更新し、影響を受けた行数を返す。
func (r *PostgresTableRepo) UpdateRow(ctx context.Context, t Table, key Column, id string, cols []Column, values []any) (int64, error) {
	if len(cols) == 0 || len(cols) != len(values) {
		return 0, fmt.Errorf("update %s: %d columns for %d values", t.name, len(cols), len(values))
	}
	target, err := t.quoted()
	if err != nil {
		return 0, err
	}
	keyCol, err := key.quoted()
	if err != nil {
		return 0, err
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		q, err := c.quoted()
		if err != nil {
			return 0, err
		}
		sets[i] = fmt.Sprintf("%s = $%d", q, i+1)
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		target, strings.Join(sets, ", "), keyCol, len(cols)+1)

	args := append(append([]any{}, values...), id)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", t.name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// DeleteRow はkeyカラムがidに一致する行を削除し、影響を受けた行数を返す。
func (r *PostgresTableRepo) DeleteRow(ctx context.Context, t Table, key Column, id string) (int64, error) {
	target, err := t.quoted()
	if err != nil {
		return 0, err
	}
	keyCol, err := key.quoted()
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", target, keyCol)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", t.name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}
