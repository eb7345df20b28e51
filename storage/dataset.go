package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Policy selects how the read-only contract of the dataset is enforced.
type Policy string

const (
	// PolicyLexical rejects anything but SELECT/WITH statements and opens
	// the database with query_only set.
	PolicyLexical Policy = "lexical"
	// PolicyPrompt leaves read-only to the system instruction.
	PolicyPrompt Policy = "prompt"
)

var ErrDatasetNotFound = errors.New("dataset not found")

// Dataset is the single SQLite file the capabilities expose. It holds no
// connection; every call opens its own and closes it on return.
type Dataset struct {
	path   string
	table  string
	policy Policy
}

func NewDataset(path, table string, policy Policy) (*Dataset, error) {
	switch policy {
	case PolicyLexical, PolicyPrompt:
	case "":
		policy = PolicyLexical
	default:
		return nil, fmt.Errorf("unknown read-only policy %q", policy)
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
	case err != nil:
		return nil, fmt.Errorf("failed to stat dataset: %w", err)
	case info.IsDir():
		return nil, fmt.Errorf("dataset path %s is a directory", path)
	}

	return &Dataset{path: path, table: table, policy: policy}, nil
}

func (d *Dataset) Path() string   { return d.path }
func (d *Dataset) Table() string  { return d.table }
func (d *Dataset) Policy() Policy { return d.policy }

var uriEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

func (d *Dataset) dsn() string {
	path := d.path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	q := url.Values{}
	switch d.policy {
	case PolicyLexical:
		q.Set("mode", "ro")
		q.Add("_pragma", "query_only(1)")
	default:
		q.Set("mode", "rw")
	}
	q.Add("_pragma", "busy_timeout(5000)")
	return "file:" + uriEscaper.Replace(path) + "?" + q.Encode()
}

func (d *Dataset) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", d.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	return db, nil
}

// Schema returns the CREATE TABLE statements of the dataset, one per line.
func (d *Dataset) Schema(ctx context.Context) (string, error) {
	db, err := d.open(ctx)
	if err != nil {
		return "", err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT sql FROM sqlite_schema WHERE type='table' AND sql IS NOT NULL`)
	if err != nil {
		return "", fmt.Errorf("failed to read schema: %w", err)
	}
	defer rows.Close()

	var statements []string
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("failed to read schema: %w", err)
		}
		statements = append(statements, stmt)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to read schema: %w", err)
	}

	return strings.Join(statements, "\n"), nil
}

// Query runs one statement and renders the result rows one per line. The
// caller is expected to have applied CheckQuery first.
func (d *Dataset) Query(ctx context.Context, query string) (string, error) {
	db, err := d.open(ctx)
	if err != nil {
		return "", err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	var lines []string
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		lines = append(lines, FormatRow(values))
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	return strings.Join(lines, "\n"), nil
}
