package models

// DateLayout is the calendar-date format used by daily aggregates.
const DateLayout = "2006-01-02"

// DailyAggregate is the derived per-date summary consumed by the dashboard.
// It is recomputable from session records at any time and never a source of truth.
type DailyAggregate struct {
	Date              string `db:"date" json:"date"`
	TotalEntries      int    `db:"total_entries" json:"total_entries"`
	TotalExits        int    `db:"total_exits" json:"total_exits"`
	TotalRevenue      int64  `db:"total_revenue" json:"total_revenue"`
	UnauthorizedExits int    `db:"unauthorized_exits" json:"unauthorized_exits"`
}
