package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

const historyColumns = `id, correlation_id, symbol, name, report_type, sentiment_score,
	operation_advice, trend_prediction, confidence_level, analysis_summary, narrative,
	current_price, change_pct, news_content, context_snapshot, created_at`

// SaveAnalysisHistory stores a verdict. The snapshot is only written when
// persistSnapshot is set.
func (db *DB) SaveAnalysisHistory(v *models.Verdict, correlationID string, kind models.ReportKind, newsText string, snapshot *models.ContextSnapshot, persistSnapshot bool) (int64, error) {
	if v == nil {
		return 0, fmt.Errorf("nil verdict")
	}

	var snapshotJSON *string
	if persistSnapshot && snapshot != nil {
		if data, err := json.Marshal(snapshot); err != nil {
			db.logger.Warn().Err(err).Str("correlation_id", correlationID).Msg("Context snapshot not stored")
		} else {
			s := string(data)
			snapshotJSON = &s
		}
	}

	var news *string
	if newsText != "" {
		news = &newsText
	}

	result, err := db.conn.Exec(
		`INSERT INTO analysis_history
		(correlation_id, symbol, name, report_type, sentiment_score, operation_advice,
		 trend_prediction, confidence_level, analysis_summary, narrative,
		 current_price, change_pct, news_content, context_snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		correlationID, v.Symbol, v.Name, string(kind), v.SentimentScore, v.Advice,
		v.Trend, v.Confidence, v.Summary, v.Narrative,
		v.Price, v.ChangePct, news, snapshotJSON,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetRecentAnalyses returns the latest verdicts, newest first.
func (db *DB) GetRecentAnalyses(limit int) ([]AnalysisRecord, error) {
	rows, err := db.conn.Query(
		"SELECT "+historyColumns+" FROM analysis_history ORDER BY created_at DESC, id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAnalyses(rows)
}

// GetAnalysesForSymbol returns stored verdicts for symbol, newest first.
func (db *DB) GetAnalysesForSymbol(symbol string, limit int) ([]AnalysisRecord, error) {
	rows, err := db.conn.Query(
		"SELECT "+historyColumns+" FROM analysis_history WHERE symbol = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		symbol, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAnalyses(rows)
}

// GetAnalysisByCorrelation returns the verdict stored under correlationID.
func (db *DB) GetAnalysisByCorrelation(correlationID string) (*AnalysisRecord, error) {
	rows, err := db.conn.Query(
		"SELECT "+historyColumns+" FROM analysis_history WHERE correlation_id = ? LIMIT 1", correlationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanAnalyses(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func scanAnalyses(rows *sql.Rows) ([]AnalysisRecord, error) {
	var records []AnalysisRecord
	for rows.Next() {
		var (
			a     AnalysisRecord
			score sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.CorrelationID, &a.Symbol, &a.Name, &a.ReportType, &score,
			&a.OperationAdvice, &a.TrendPrediction, &a.ConfidenceLevel, &a.Summary, &a.Narrative,
			&a.CurrentPrice, &a.ChangePct, &a.NewsContent, &a.ContextSnapshot, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.SentimentScore = int(score.Int64)
		records = append(records, a)
	}
	return records, rows.Err()
}
