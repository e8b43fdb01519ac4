package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "daily history and analysis history",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS daily_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    date TEXT NOT NULL,
    open REAL,
    high REAL,
    low REAL,
    close REAL,
    volume REAL,
    amount REAL,
    pct_chg REAL,
    data_source TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now')),
    UNIQUE(symbol, date)
);

CREATE TABLE IF NOT EXISTS analysis_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    name TEXT,
    report_type TEXT NOT NULL,
    sentiment_score INTEGER,
    operation_advice TEXT,
    trend_prediction TEXT,
    confidence_level TEXT,
    analysis_summary TEXT,
    narrative TEXT,
    current_price REAL,
    change_pct REAL,
    news_content TEXT,
    context_snapshot TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_daily_symbol_date ON daily_records(symbol, date);
CREATE INDEX IF NOT EXISTS idx_history_symbol ON analysis_history(symbol);
CREATE INDEX IF NOT EXISTS idx_history_created ON analysis_history(created_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "news intel and run reports",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS news_intel (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    name TEXT,
    dimension TEXT NOT NULL,
    query TEXT,
    provider TEXT,
    title TEXT NOT NULL,
    url TEXT NOT NULL,
    snippet TEXT,
    source TEXT,
    published TEXT,
    query_id TEXT,
    query_source TEXT,
    query_context TEXT,
    fetched_at TEXT DEFAULT (datetime('now')),
    UNIQUE(symbol, dimension, url)
);

CREATE TABLE IF NOT EXISTS run_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT UNIQUE NOT NULL,
    run_date TEXT NOT NULL,
    requested INTEGER DEFAULT 0,
    succeeded INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    dry_run INTEGER DEFAULT 0,
    report_path TEXT,
    elapsed_ms INTEGER DEFAULT 0,
    generated_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_news_symbol ON news_intel(symbol);
CREATE INDEX IF NOT EXISTS idx_run_reports_date ON run_reports(run_date);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
