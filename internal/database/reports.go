package database

import (
	"database/sql"
)

// InsertRunReport records the tally of a finished run.
func (db *DB) InsertRunReport(r RunReport) (int64, error) {
	dryRun := 0
	if r.DryRun {
		dryRun = 1
	}
	result, err := db.conn.Exec(
		`INSERT OR REPLACE INTO run_reports
		(run_id, run_date, requested, succeeded, failed, dry_run, report_path, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.RunDate, r.Requested, r.Succeeded, r.Failed, dryRun, r.ReportPath, r.ElapsedMS,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetLastRun returns the most recent run report, or nil if none exist.
func (db *DB) GetLastRun() (*RunReport, error) {
	row := db.conn.QueryRow(
		`SELECT id, run_id, run_date, requested, succeeded, failed, dry_run, report_path, elapsed_ms, generated_at
		FROM run_reports ORDER BY generated_at DESC, id DESC LIMIT 1`,
	)

	var (
		r      RunReport
		dryRun int
	)
	if err := row.Scan(&r.ID, &r.RunID, &r.RunDate, &r.Requested, &r.Succeeded, &r.Failed,
		&dryRun, &r.ReportPath, &r.ElapsedMS, &r.GeneratedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	r.DryRun = dryRun != 0
	return &r, nil
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM daily_records", &s.DailyRecords},
		{"SELECT COUNT(DISTINCT symbol) FROM daily_records", &s.Symbols},
		{"SELECT COUNT(*) FROM analysis_history", &s.Analyses},
		{"SELECT COUNT(*) FROM news_intel", &s.NewsItems},
		{"SELECT COUNT(*) FROM run_reports", &s.Runs},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	var latest sql.NullString
	if err := db.conn.QueryRow("SELECT MAX(date) FROM daily_records").Scan(&latest); err != nil {
		return nil, err
	}
	s.LatestDataDate = latest.String

	return s, nil
}
