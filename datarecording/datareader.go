package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// QueryParams encapsulates all query parameters
type QueryParams struct {
	// Where holds the WHERE clause without the "WHERE" keyword.
	// Example: "RunUID = ? AND Seq > ?"
	// The clause applies to stored values. Interned columns store
	// integer keys, so filter on indexed plain columns instead.
	Where string

	// Args holds the arguments for the placeholders in Where
	Args []any

	// Limit is the maximum number of records to return (pagination)
	// Set to 0 for no limit
	Limit int

	// Offset is the number of records to skip (pagination)
	Offset int

	// OrderBy specifies sorting, without the "ORDER BY" keywords
	// Example: "Seq DESC"
	OrderBy string
}

// DataReader reads scan data back from a database written by a
// DataRecorder.
type DataReader interface {
	// MapTable establishes a mapping between a database table and a Go
	// struct type. This mapping is required before querying a table.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns a list of all tables that have been mapped.
	ListTables() []string

	// Query executes a query on a table and returns the results.
	Query(ctx context.Context, tableName string, params QueryParams) (
		results []any,
		totalCount int,
		err error,
	)

	// Close closes the reader
	Close() error
}

// sqliteReader reads scan data from a SQLite database.
type sqliteReader struct {
	*sql.DB

	typeMap map[string]reflect.Type

	mu       sync.Mutex
	interned map[string]map[string]string
}

// NewReader creates a DataReader for the SQLite file at path. The
// ".sqlite3" suffix is appended when missing.
func NewReader(path string) DataReader {
	if !strings.HasSuffix(path, ".sqlite3") {
		path += ".sqlite3"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		panic(err)
	}

	return NewReaderWithDB(db)
}

// NewReaderWithDB creates a DataReader on an already-open database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		DB:       db,
		typeMap:  make(map[string]reflect.Type),
		interned: make(map[string]map[string]string),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	r.typeMap[tableName] = reflect.TypeOf(sampleEntry)
}

func (r *sqliteReader) ListTables() []string {
	tables := make([]string, 0, len(r.typeMap))
	for table := range r.typeMap {
		tables = append(tables, table)
	}

	return tables
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, int, error) {
	structType, ok := r.typeMap[tableName]
	if !ok {
		return nil, 0, fmt.Errorf("no mapping found for table: %s", tableName)
	}

	internIdx := internFieldIndices(structType)

	var labels map[string]string

	if len(internIdx) > 0 {
		var err error

		labels, err = r.internedLabels(ctx, tableName)
		if err != nil {
			return nil, 0, err
		}
	}

	query := fmt.Sprintf("SELECT * FROM %s", tableName)

	if params.Where != "" {
		query += " WHERE " + params.Where
	}

	if params.OrderBy != "" {
		query += " ORDER BY " + params.OrderBy
	}

	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", params.Limit)
		if params.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", params.Offset)
		}
	}

	totalCount, err := r.queryTotalCount(ctx, tableName, params)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.DB.QueryContext(ctx, query, params.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	return r.scanRows(rows, structType, internIdx, labels), totalCount, nil
}

func (r *sqliteReader) queryTotalCount(
	ctx context.Context,
	tableName string,
	params QueryParams,
) (int, error) {
	var totalCount int

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s", tableName)

	if params.Where != "" {
		countQuery += " WHERE " + params.Where
	}

	err := r.DB.QueryRowContext(ctx, countQuery, params.Args...).Scan(&totalCount)
	if err != nil {
		return 0, err
	}

	return totalCount, nil
}

// internFieldIndices returns the indices of the fields that the writer
// stores as keys into a side table.
func internFieldIndices(structType reflect.Type) []int {
	var indices []int

	for i := 0; i < structType.NumField(); i++ {
		if structType.Field(i).Tag.Get(TagName) == "intern" {
			indices = append(indices, i)
		}
	}

	return indices
}

// internedLabels loads the side table that backs a table's interned
// fields. The side table is loaded once and cached, so readers should
// open a database only after the writer finished with it.
func (r *sqliteReader) internedLabels(
	ctx context.Context,
	tableName string,
) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if labels, ok := r.interned[tableName]; ok {
		return labels, nil
	}

	rows, err := r.DB.QueryContext(ctx,
		"SELECT ID, Label FROM "+tableName+internSuffix)
	if err != nil {
		return nil, fmt.Errorf("loading interned labels for %s: %w",
			tableName, err)
	}
	defer rows.Close()

	labels := make(map[string]string)

	for rows.Next() {
		var id int

		var label string

		if err := rows.Scan(&id, &label); err != nil {
			return nil, err
		}

		labels[strconv.Itoa(id)] = label
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.interned[tableName] = labels

	return labels, nil
}

// scanRows scans rows into instances of the mapped struct type and
// restores interned fields to their original strings.
func (r *sqliteReader) scanRows(
	rows *sql.Rows,
	structType reflect.Type,
	internIdx []int,
	labels map[string]string,
) []any {
	var results []any

	columns, err := rows.Columns()
	if err != nil {
		return nil
	}

	fieldMap := make(map[string]int)

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if field.PkgPath != "" {
			continue
		}

		fieldMap[field.Name] = i
	}

	for rows.Next() {
		structPtr := reflect.New(structType)
		structVal := structPtr.Elem()
		scanTargets := make([]any, len(columns))

		for i, colName := range columns {
			if fieldIdx, ok := fieldMap[colName]; ok {
				fieldVal := structVal.Field(fieldIdx)
				scanTargets[i] = fieldVal.Addr().Interface()
			} else {
				var placeholder any

				scanTargets[i] = &placeholder
			}
		}

		err := rows.Scan(scanTargets...)
		if err != nil {
			panic(err)
		}

		for _, i := range internIdx {
			fieldVal := structVal.Field(i)
			if label, ok := labels[fieldVal.String()]; ok {
				fieldVal.SetString(label)
			}
		}

		results = append(results, structPtr.Interface())
	}

	err = rows.Err()
	if err != nil {
		panic(err)
	}

	return results
}

func (r *sqliteReader) Close() error {
	return r.DB.Close()
}

var _ DataReader = (*sqliteReader)(nil)
