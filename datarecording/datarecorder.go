// Package datarecording writes scan data into SQLite files and reads
// it back. Tables are declared from plain structs. The writer batches
// inserts and flushes on demand, at close, and at program exit.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// TagName is the struct tag key inspected by the writer and the
// reader. The value "index" creates an index on the column. The value
// "intern" stores a string field as an integer key into a side table
// named <table>_interned; the reader restores the original string.
const TagName = "tomoscan"

const internSuffix = "_interned"

// internedString is one row of an intern side table.
type internedString struct {
	ID    int
	Label string
}

// DataRecorder is a backend that can record and store scan data.
type DataRecorder interface {
	// CreateTable creates a new table that stores entries shaped like
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers one entry for a table that already exists. The
	// entry must have the table's sample type.
	InsertData(tableName string, entry any)

	// ListTables returns a slice containing names of all tables.
	ListTables() []string

	// Flush writes all the buffered entries into the database.
	Flush()

	// Close flushes the buffered entries and closes the database.
	Close() error
}

// New creates a DataRecorder backed by a SQLite file at path. The
// ".sqlite3" suffix is appended when missing. When path is empty a
// unique name is generated. The session that produced the file is
// recorded in a session_info table.
func New(path string) DataRecorder {
	w := &sqliteWriter{
		dbPath:    path,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	w.init()

	w.session = newSessionRecorder(w)
	w.session.Start()

	atexit.Register(func() { w.Flush() })

	return w
}

// NewWithDB creates a DataRecorder on an already-open database. The
// caller owns the database handle. No session information is recorded.
func NewWithDB(db *sql.DB) DataRecorder {
	w := &sqliteWriter{
		DB:        db,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { w.Flush() })

	return w
}

type table struct {
	structType reflect.Type
	entries    []any

	internIdx []int
	internIDs map[string]int
	side      []any
}

// sqliteWriter is the writer that writes scan data into a SQLite
// database. It is safe for use from multiple goroutines.
type sqliteWriter struct {
	*sql.DB

	mu         sync.Mutex
	dbPath     string
	tables     map[string]*table
	batchSize  int
	entryCount int
	closed     bool
	session    *sessionRecorder
}

// init establishes a connection to the database.
func (w *sqliteWriter) init() {
	if w.dbPath == "" {
		w.dbPath = "tomoscan_" + xid.New().String()
	}

	filename := w.dbPath
	if !strings.HasSuffix(filename, ".sqlite3") {
		filename += ".sqlite3"
	}

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Scan database created: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	w.DB = db
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkSampleEntry(entry any) error {
	types := reflect.TypeOf(entry)
	if types == nil || types.Kind() != reflect.Struct {
		return fmt.Errorf("sample entry must be a struct, got %v", types)
	}

	for i := 0; i < types.NumField(); i++ {
		field := types.Field(i)

		if field.PkgPath != "" {
			return fmt.Errorf("field %s is unexported", field.Name)
		}

		if !isAllowedKind(field.Type.Kind()) {
			return fmt.Errorf("field %s has unsupported type %s",
				field.Name, field.Type)
		}
	}

	return nil
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	err := checkSampleEntry(sampleEntry)
	if err != nil {
		panic(err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.tables[tableName]; exists {
		panic(fmt.Sprintf("table %s already exists", tableName))
	}

	n := structs.Names(sampleEntry)
	fields := strings.Join(n, ", \n\t")

	createTableSQL := `CREATE TABLE ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`
	w.mustExecute(createTableSQL)

	tableInfo := &table{
		structType: reflect.TypeOf(sampleEntry),
		entries:    []any{},
	}

	w.applyTags(tableName, tableInfo)

	w.tables[tableName] = tableInfo
}

// applyTags creates the indices and the intern side table that the
// sample type's struct tags call for.
func (w *sqliteWriter) applyTags(tableName string, tb *table) {
	for i := 0; i < tb.structType.NumField(); i++ {
		field := tb.structType.Field(i)

		switch field.Tag.Get(TagName) {
		case "index":
			w.mustExecute(fmt.Sprintf(
				"CREATE INDEX idx_%s_%s ON %s (%s);",
				tableName, field.Name, tableName, field.Name))
		case "intern":
			if field.Type.Kind() != reflect.String {
				panic(fmt.Sprintf(
					"field %s is interned but not a string", field.Name))
			}

			tb.internIdx = append(tb.internIdx, i)
		}
	}

	if len(tb.internIdx) > 0 {
		tb.internIDs = make(map[string]int)
		w.mustExecute("CREATE TABLE " + tableName + internSuffix +
			" (\n\tID, \n\tLabel\n);")
	}
}

func (w *sqliteWriter) InsertData(tableName string, entry any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	tb, exists := w.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != tb.structType {
		panic(fmt.Sprintf("entry type %T does not match table %s",
			entry, tableName))
	}

	if len(tb.internIdx) > 0 {
		entry = tb.internEntry(entry)
	}

	tb.entries = append(tb.entries, entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		w.flushLocked()
	}
}

// internEntry replaces tagged string fields with keys into the side
// table, buffering a side row for each label seen for the first time.
func (tb *table) internEntry(entry any) any {
	src := reflect.ValueOf(entry)
	dst := reflect.New(tb.structType).Elem()
	dst.Set(src)

	for _, i := range tb.internIdx {
		label := src.Field(i).String()

		id, known := tb.internIDs[label]
		if !known {
			id = len(tb.internIDs)
			tb.internIDs[label] = id
			tb.side = append(tb.side, internedString{ID: id, Label: label})
		}

		dst.Field(i).SetString(strconv.Itoa(id))
	}

	return dst.Interface()
}

func (w *sqliteWriter) ListTables() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	tables := make([]string, 0, len(w.tables))
	for table := range w.tables {
		tables = append(tables, table)
	}

	return tables
}

func (w *sqliteWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.flushLocked()
}

func (w *sqliteWriter) flushLocked() {
	if w.closed || w.entryCount == 0 {
		return
	}

	w.mustExecute("BEGIN TRANSACTION")
	defer w.mustExecute("COMMIT TRANSACTION")

	for tableName, tb := range w.tables {
		if len(tb.side) > 0 {
			w.writeRows(tableName+internSuffix, tb.side)
			tb.side = nil
		}

		if len(tb.entries) == 0 {
			continue
		}

		w.writeRows(tableName, tb.entries)
		tb.entries = nil
	}

	w.entryCount = 0
}

func (w *sqliteWriter) writeRows(tableName string, rows []any) {
	stmt := w.prepareStatement(tableName, rows[0])
	defer stmt.Close()

	for _, row := range rows {
		v := []any{}

		val := reflect.ValueOf(row)
		for i := 0; i < val.NumField(); i++ {
			v = append(v, val.Field(i).Interface())
		}

		_, err := stmt.Exec(v...)
		if err != nil {
			panic(err)
		}
	}
}

func (w *sqliteWriter) Close() error {
	if w.session != nil {
		w.session.End()
		w.session = nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.flushLocked()
	w.closed = true

	return w.DB.Close()
}

func (w *sqliteWriter) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		fmt.Printf("Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}

func (w *sqliteWriter) prepareStatement(tableName string, sample any) *sql.Stmt {
	n := structs.Names(sample)
	for i := 0; i < len(n); i++ {
		n[i] = "?"
	}

	entryToFill := "(" + strings.Join(n, ", ") + ")"
	sqlStr := "INSERT INTO " + tableName + " VALUES " + entryToFill

	stmt, err := w.Prepare(sqlStr)
	if err != nil {
		panic(err)
	}

	return stmt
}

var _ DataRecorder = (*sqliteWriter)(nil)
