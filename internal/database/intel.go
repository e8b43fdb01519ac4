package database

import (
	"encoding/json"
	"fmt"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

// SaveNewsIntel stores the hits of one search dimension. Hits already stored
// for the same (symbol, dimension, url) are skipped. Returns the number of new
// rows.
func (db *DB) SaveNewsIntel(symbol, name, dimension, query string, resp *models.IntelResponse, queryContext map[string]string) (int, error) {
	if resp == nil || len(resp.Results) == 0 {
		return 0, nil
	}

	var ctxJSON *string
	if len(queryContext) > 0 {
		data, err := json.Marshal(queryContext)
		if err != nil {
			return 0, fmt.Errorf("marshaling query context: %w", err)
		}
		s := string(data)
		ctxJSON = &s
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	saved := 0
	for _, r := range resp.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		result, err := tx.Exec(
			`INSERT OR IGNORE INTO news_intel
			(symbol, name, dimension, query, provider, title, url, snippet, source, published,
			 query_id, query_source, query_context)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			symbol, name, dimension, query, resp.Provider, r.Title, r.URL, r.Snippet, r.Source, r.Published,
			queryContext["query_id"], queryContext["query_source"], ctxJSON,
		)
		if err != nil {
			return 0, err
		}
		if n, _ := result.RowsAffected(); n > 0 {
			saved++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return saved, nil
}

// GetNewsIntel returns the most recent stored hits for symbol.
func (db *DB) GetNewsIntel(symbol string, limit int) ([]NewsIntelRecord, error) {
	rows, err := db.conn.Query(
		`SELECT id, symbol, name, dimension, query, provider, title, url, snippet, source, published,
		query_id, query_source, fetched_at
		FROM news_intel WHERE symbol = ? ORDER BY fetched_at DESC, id DESC LIMIT ?`,
		symbol, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []NewsIntelRecord
	for rows.Next() {
		var n NewsIntelRecord
		if err := rows.Scan(&n.ID, &n.Symbol, &n.Name, &n.Dimension, &n.Query, &n.Provider,
			&n.Title, &n.URL, &n.Snippet, &n.Source, &n.Published,
			&n.QueryID, &n.QuerySource, &n.FetchedAt); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}
