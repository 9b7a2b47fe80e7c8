package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported TableSource drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// TableSource reads the rows of one SQL table. Driver and DSN never come
// from JSON; the server fills them from its own configuration.
type TableSource struct {
	Driver   string `json:"-"`
	DSN      string `json:"-"`
	Table    string `json:"table"`
	IDColumn string `json:"id_column,omitempty"` // defaults to "id" when that column exists
	Limit    int    `json:"limit,omitempty"`
}

func (s TableSource) validate() error {
	switch s.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("%w: unsupported driver %q", ErrInvalidSource, s.Driver)
	}
	if s.DSN == "" {
		return fmt.Errorf("%w: missing dsn", ErrInvalidSource)
	}
	if !identRe.MatchString(s.Table) {
		return fmt.Errorf("%w: bad table name %q", ErrInvalidSource, s.Table)
	}
	if s.IDColumn != "" && !identRe.MatchString(s.IDColumn) {
		return fmt.Errorf("%w: bad id column %q", ErrInvalidSource, s.IDColumn)
	}
	return nil
}

func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, ".")
}

// dataSource returns the DSN to open. Plain SQLite paths are opened
// read-only, so a missing file is an error instead of a new database.
func (s TableSource) dataSource() string {
	if s.Driver != DriverSQLite || strings.HasPrefix(s.DSN, "file:") || strings.Contains(s.DSN, "?") {
		return s.DSN
	}
	return "file:" + s.DSN + "?mode=ro"
}

// Read loads the table rows. Byte values are returned as strings.
func (s TableSource) Read(ctx context.Context) ([]DBRow, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(s.Driver, s.dataSource())
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", s.Driver, err)
	}
	defer db.Close()

	q := "SELECT * FROM " + quoteIdent(s.Table)
	if s.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", s.Limit)
	}
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.Table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	idCol := s.IDColumn
	if idCol == "" {
		idCol = "id"
	}

	var out []DBRow
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		data := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			data[c] = values[i]
		}
		row := DBRow{Table: s.Table, RowData: data}
		if v, ok := data[idCol]; ok && v != nil {
			row.ID = fmt.Sprintf("%s:%v", s.Table, v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

// Table reads src and ingests its rows with DBRows.
func (p *Pipeline) Table(ctx context.Context, collection string, src TableSource, textColumns []string) (Summary, error) {
	rows, err := src.Read(ctx)
	if err != nil {
		return Summary{}, err
	}
	return p.DBRows(ctx, collection, rows, textColumns)
}
