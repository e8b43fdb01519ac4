package database

import (
	"time"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

// GetToday returns today's date as YYYY-MM-DD.
func GetToday() string {
	return time.Now().Format(models.DateLayout)
}

// FormatDateDisplay formats a stored YYYY-MM-DD date for display
// (e.g. "Feb 06, 2026"). Unparseable input is returned unchanged.
func FormatDateDisplay(date string) string {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return date
	}
	return d.Format("Jan 02, 2006")
}
