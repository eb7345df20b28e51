package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"
)

func TestSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SCORES.db")
	ctx := context.Background()

	n, err := Seed(ctx, path, "transaction_score")
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if n != SeedRows {
		t.Fatalf("Seed() = %d rows, want %d", n, SeedRows)
	}

	ds, err := NewDataset(path, "transaction_score", PolicyLexical)
	if err != nil {
		t.Fatalf("NewDataset() error = %v", err)
	}

	count, err := ds.Query(ctx, `SELECT COUNT(*) FROM transaction_score`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if want := fmt.Sprintf("(%d,)", SeedRows); count != want {
		t.Errorf("row count = %s, want %s", count, want)
	}

	dates, err := ds.Query(ctx, `SELECT DISTINCT ENTERED_DATE FROM transaction_score`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	datePattern := regexp.MustCompile(`^\('\d{2}-\d{2}-\d{4}',\)$`)
	for _, line := range splitLines(dates) {
		if !datePattern.MatchString(line) {
			t.Fatalf("ENTERED_DATE row %q is not dd-mm-yyyy", line)
		}
	}
}

func TestSeedIsDeterministic(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "SCORES.db")
	query := `SELECT * FROM transaction_score ORDER BY TRANSACTION_ID LIMIT 5`

	snapshot := func() string {
		if _, err := Seed(ctx, path, "transaction_score"); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}
		ds, err := NewDataset(path, "transaction_score", PolicyLexical)
		if err != nil {
			t.Fatalf("NewDataset() error = %v", err)
		}
		out, err := ds.Query(ctx, query)
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		return out
	}

	first := snapshot()
	second := snapshot()
	if first != second {
		t.Errorf("reseeding changed the data:\n%s\n---\n%s", first, second)
	}
}

func TestSeedRejectsBadTableName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SCORES.db")
	if _, err := Seed(context.Background(), path, "x; DROP TABLE y"); err == nil {
		t.Fatal("Seed() accepted an invalid table name")
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
