package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
)

// SeedRows is the number of transactions written by Seed.
const SeedRows = 240

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var seedChannels = []string{"ONLINE", "MOBILE", "ATM", "BRANCH", "POS"}

// Seed (re)creates a demo transaction table at path. The data is
// deterministic so repeated runs produce the same file contents.
func Seed(ctx context.Context, path, table string) (int, error) {
	if !identPattern.MatchString(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("failed to ping database: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	schema := fmt.Sprintf(`
	DROP TABLE IF EXISTS %[1]s;
	CREATE TABLE %[1]s (
		TRANSACTION_ID TEXT PRIMARY KEY,
		ACCOUNT_NUMBER TEXT NOT NULL,
		ENTERED_DATE TEXT NOT NULL,
		DEBIT_AMOUNT REAL NOT NULL DEFAULT 0,
		CREDIT_AMOUNT REAL NOT NULL DEFAULT 0,
		CHANNEL TEXT NOT NULL,
		RISK_SCORE REAL NOT NULL,
		RISK_LEVEL TEXT NOT NULL,
		IS_FLAGGED INTEGER NOT NULL DEFAULT 0
	);
	`, table)
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return 0, fmt.Errorf("failed to create table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(TRANSACTION_ID, ACCOUNT_NUMBER, ENTERED_DATE, DEBIT_AMOUNT, CREDIT_AMOUNT, CHANNEL, RISK_SCORE, RISK_LEVEL, IS_FLAGGED)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, table))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range seedTransactions() {
		if _, err := stmt.ExecContext(ctx, r.id, r.account, r.date, r.debit, r.credit, r.channel, r.score, r.level, r.flagged); err != nil {
			return 0, fmt.Errorf("failed to insert %s: %w", r.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit seed data: %w", err)
	}
	return SeedRows, nil
}

type seedTransaction struct {
	id      string
	account string
	date    string
	debit   float64
	credit  float64
	channel string
	score   float64
	level   string
	flagged int
}

func seedTransactions() []seedTransaction {
	rng := rand.New(rand.NewPCG(2024, 3))
	out := make([]seedTransaction, 0, SeedRows)

	for i := 0; i < SeedRows; i++ {
		// Mostly 2024 with a tail in late 2023.
		year, month := 2024, 1+i%12
		if i%10 == 9 {
			year, month = 2023, 10+i%3
		}
		day := 1 + rng.IntN(28)

		amount := math.Round((5+rng.Float64()*4995)*100) / 100
		var debit, credit float64
		if rng.IntN(3) == 0 {
			credit = amount
		} else {
			debit = amount
		}

		score := math.Round(rng.Float64()*100) / 100
		level := "LOW"
		switch {
		case score >= 0.75:
			level = "HIGH"
		case score >= 0.4:
			level = "MEDIUM"
		}
		flagged := 0
		if score >= 0.85 {
			flagged = 1
		}

		out = append(out, seedTransaction{
			id:      fmt.Sprintf("TXN%06d", i+1),
			account: fmt.Sprintf("AC%08d", 10000000+rng.IntN(25)*7919),
			date:    fmt.Sprintf("%02d-%02d-%04d", day, month, year),
			debit:   debit,
			credit:  credit,
			channel: seedChannels[rng.IntN(len(seedChannels))],
			score:   score,
			level:   level,
			flagged: flagged,
		})
	}
	return out
}
